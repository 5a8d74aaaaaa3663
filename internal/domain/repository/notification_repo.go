package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/arterny/outboxed/internal/domain/model"
)

// NotificationRepository encapsulates everything the ingress and control
// surfaces need from the notifications table. Creation is transactional: it
// writes the Notification and its initial OutboxMessage rows together.
type NotificationRepository interface {
	// Create persists n and one outbox row per method, in a single
	// transaction. Returns the persisted notification and its rows.
	Create(ctx context.Context, n *model.Notification, methods []model.Method, build PayloadBuilder) (*model.Notification, []*model.OutboxMessage, error)

	// GetByID retrieves a notification by its unique ID.
	GetByID(ctx context.Context, id uuid.UUID) (*model.Notification, error)

	// Cancel deletes a notification, and with it its outbox rows, provided
	// none of those rows have already left PENDING/ENQUEUED.
	Cancel(ctx context.Context, id uuid.UUID) error

	// Stats returns aggregate counts used by the control-plane endpoint.
	Stats(ctx context.Context) (model.Stats, error)
}

// PayloadBuilder builds the method-specific Payload for a notification at
// outbox-row creation time, resolving recipient details through the contact
// directory. Implementations must be safe to call repeatedly with the same
// arguments: the result is persisted once and never rebuilt, except when a
// fresh fallback row needs the equivalent payload for the next method.
type PayloadBuilder func(ctx context.Context, n *model.Notification, method model.Method) (model.Payload, error)

// NotificationCache defines the contract for a read-through caching layer in
// front of NotificationRepository.GetByID.
type NotificationCache interface {
	Get(ctx context.Context, id uuid.UUID) (*model.Notification, error)
	Set(ctx context.Context, n *model.Notification, expiration time.Duration) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// ContactDirectory resolves a user id to the recipient details needed to
// build a Payload for a given method. Contact data is owned by an external
// user-profile store; a fixed in-memory directory stands in.
type ContactDirectory interface {
	Email(ctx context.Context, userID int64) (string, bool)
	Phone(ctx context.Context, userID int64) (string, bool)
	TelegramChatID(ctx context.Context, userID int64) (int64, bool)
}
