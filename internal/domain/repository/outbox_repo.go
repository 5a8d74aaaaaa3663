package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/arterny/outboxed/internal/domain/model"
)

// OutboxRepository encapsulates every read/write of outbox_messages with the
// locking semantics the Claimer and Worker rely on.
type OutboxRepository interface {
	// Insert creates a new PENDING row. Used both by the ingress path and by
	// the worker when it synthesizes a fallback row.
	Insert(ctx context.Context, notificationID uuid.UUID, method model.Method, payload model.Payload, maxRetries int) (*model.OutboxMessage, error)

	// ClaimPendingBatch atomically transitions up to limit PENDING (or
	// stale ENQUEUED) rows to ENQUEUED, choosing the oldest created_at
	// first, and returns them. The order of the returned slice is not
	// defined.
	ClaimPendingBatch(ctx context.Context, limit int, staleLease time.Duration) ([]*model.OutboxMessage, error)

	// ClaimForProcessing locks and returns the row only if it is currently
	// ENQUEUED. Returns (nil, nil) if missing, locked, or in another state.
	ClaimForProcessing(ctx context.Context, id uuid.UUID) (*model.OutboxMessage, error)

	// UpdateForAttempt persists attempt_count/last_attempt after Phase A
	// increments them.
	UpdateForAttempt(ctx context.Context, msg *model.OutboxMessage) error

	// ReopenForRetry transitions an ENQUEUED row back to PENDING after a
	// failed send whose retry budget is not yet exhausted.
	ReopenForRetry(ctx context.Context, msg *model.OutboxMessage) error

	// FinalizeSuccess transitions msg to SENT, sets the owning notification's
	// is_sent flag, and marks all non-terminal siblings SENT, all in one
	// transaction (the sibling short-circuit).
	FinalizeSuccess(ctx context.Context, msg *model.OutboxMessage) error

	// FinalizeFailure transitions msg to FAILED with reason.
	FinalizeFailure(ctx context.Context, msg *model.OutboxMessage, reason string) error

	// MarkTerminalSiblingsSent sets every non-terminal outbox row of
	// notificationID to SENT, the calling worker's own row included; the
	// notification's is_sent flag is left as it is. Used when a worker
	// discovers the notification was already sent by another row (Phase A
	// short-circuit).
	MarkTerminalSiblingsSent(ctx context.Context, notificationID uuid.UUID) error

	// GetByID retrieves a row regardless of lock state; used for tests and
	// diagnostics, never on the hot path.
	GetByID(ctx context.Context, id uuid.UUID) (*model.OutboxMessage, error)

	// ListByNotification returns all outbox rows for a notification, oldest
	// first.
	ListByNotification(ctx context.Context, notificationID uuid.UUID) ([]*model.OutboxMessage, error)

	// RunInTx opens one transaction and hands the caller an OutboxTx bound to
	// it, committing on a nil return and rolling back otherwise. The Worker
	// uses this to keep Phase A's claim-then-increment inside a single lock
	// lifetime: two overlapping claims of the same row must not both observe
	// it ENQUEUED. Phase C does not use it: the Worker settles through the
	// standalone FinalizeSuccess, ReopenForRetry, FinalizeFailure and Insert
	// calls, each its own statement or transaction, without re-locking the
	// row first.
	RunInTx(ctx context.Context, fn func(tx OutboxTx) error) error
}

// OutboxTx is OutboxRepository's write surface re-exposed against a single
// open transaction, so a caller can chain claim + mutate without the lock
// being released in between.
type OutboxTx interface {
	ClaimForProcessing(ctx context.Context, id uuid.UUID) (*model.OutboxMessage, error)
	UpdateForAttempt(ctx context.Context, msg *model.OutboxMessage) error
	ReopenForRetry(ctx context.Context, msg *model.OutboxMessage) error
	FinalizeSuccess(ctx context.Context, msg *model.OutboxMessage) error
	FinalizeFailure(ctx context.Context, msg *model.OutboxMessage, reason string) error
	MarkTerminalSiblingsSent(ctx context.Context, notificationID uuid.UUID) error
	Insert(ctx context.Context, notificationID uuid.UUID, method model.Method, payload model.Payload, maxRetries int) (*model.OutboxMessage, error)
}

// ChannelSender is the black-box transport the dispatcher depends on.
// Implementations must be safe for concurrent use and must respect ctx's
// deadline.
type ChannelSender interface {
	Send(ctx context.Context, method model.Method, n *model.Notification, payload model.Payload) bool
}
