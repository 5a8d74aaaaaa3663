package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/arterny/outboxed/pkg/keybuilder"
)

// unlockScript only deletes the lock key if it still holds this holder's
// token, so a holder whose lease already expired and was claimed by
// another instance can't delete someone else's lock.
const unlockScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end`

// Lock is a SETNX-based distributed lock used to elect a single scheduler
// instance as leader when OutboxConfig.LeaderElection is enabled. Row-level
// locking already makes concurrent claimers safe; the lock is for operators
// who want only one process claiming at a time.
type Lock struct {
	redis  *goredis.Client
	logger zerolog.Logger
	key    string
	token  string
}

// NewLock creates a lock over name, scoped under the redis:lock: prefix.
func NewLock(logger *zerolog.Logger, redis *goredis.Client, name string) *Lock {
	return &Lock{
		redis:  redis,
		logger: logger.With().Str("layer", "redis_lock").Str("lock", name).Logger(),
		key:    keybuilder.RedisLockKeyBuild(name),
		token:  uuid.NewString(),
	}
}

// TryAcquire attempts to become leader for ttl. Returns false, nil if
// another instance already holds the lock.
func (l *Lock) TryAcquire(ctx context.Context, ttl time.Duration) (bool, error) {
	ok, err := l.redis.SetNX(ctx, l.key, l.token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis: try acquire lock: %w", err)
	}
	return ok, nil
}

// Renew extends the lease while this instance remains leader. Callers
// should renew well before ttl elapses to avoid a gap where another
// instance could acquire the lock mid-tick.
func (l *Lock) Renew(ctx context.Context, ttl time.Duration) (bool, error) {
	ok, err := l.redis.Eval(ctx, `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
else
	return 0
end`, []string{l.key}, l.token, ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("redis: renew lock: %w", err)
	}
	return ok == 1, nil
}

// Release gives up leadership, provided this instance still holds it.
func (l *Lock) Release(ctx context.Context) error {
	if err := l.redis.Eval(ctx, unlockScript, []string{l.key}, l.token).Err(); err != nil {
		return fmt.Errorf("redis: release lock: %w", err)
	}
	return nil
}
