package keybuilder

import (
	"fmt"
	"github.com/google/uuid"
)

const (
	Redis        string = "redis"
	Notification string = "notification"
	Lock         string = "lock"
)

func RedisNotificationKeyBuild(id uuid.UUID) string {
	return fmt.Sprintf("%s:%s:%s", Redis, Notification, id)
}

// RedisLockKeyBuild builds the key a distributed lock is held under, e.g.
// the outbox scheduler's leader election lock.
func RedisLockKeyBuild(name string) string {
	return fmt.Sprintf("%s:%s:%s", Redis, Lock, name)
}
