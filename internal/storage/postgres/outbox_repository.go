package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/arterny/outboxed/internal/domain/model"
	repo "github.com/arterny/outboxed/internal/domain/repository"
)

var (
	_ repo.OutboxRepository = (*OutboxRepository)(nil)
	_ repo.OutboxTx         = (*outboxTx)(nil)
)

// OutboxRepository implements repository.OutboxRepository on top of
// PostgreSQL, using SELECT ... FOR UPDATE SKIP LOCKED for claim-batch and
// claim-single. Every method below that mutates a single row
// under lock is also reachable through RunInTx so the Worker can chain a
// claim with its follow-up write without releasing the row lock in between.
type OutboxRepository struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewOutboxRepository creates a new instance of OutboxRepository.
func NewOutboxRepository(db *sql.DB, logger *zerolog.Logger) *OutboxRepository {
	return &OutboxRepository{
		db:     db,
		logger: logger.With().Str("layer", "postgres_outbox_repository").Logger(),
	}
}

// Insert creates a new PENDING row.
func (r *OutboxRepository) Insert(ctx context.Context, notificationID uuid.UUID, method model.Method, payload model.Payload, maxRetries int) (*model.OutboxMessage, error) {
	return insertOutbox(ctx, r.db, notificationID, method, payload, maxRetries)
}

// ClaimPendingBatch claims up to limit PENDING or stale ENQUEUED rows,
// oldest created_at first, skipping rows concurrently locked by another
// claimer.
func (r *OutboxRepository) ClaimPendingBatch(ctx context.Context, limit int, staleLease time.Duration) ([]*model.OutboxMessage, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer tx.Rollback()

	staleBefore := time.Now().UTC().Add(-staleLease)
	now := time.Now().UTC()

	const q = `
		UPDATE outbox_messages
		SET status = 'ENQUEUED', status_changed_at = $1, updated_at = $1
		WHERE id IN (
			SELECT id FROM outbox_messages
			WHERE status = 'PENDING' OR (status = 'ENQUEUED' AND status_changed_at <= $2)
			ORDER BY created_at ASC
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + outboxColumns

	rows, err := tx.QueryContext(ctx, q, now, staleBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: claim pending batch: %w", err)
	}
	var claimed []*model.OutboxMessage
	for rows.Next() {
		m, err := scanOutboxMessage(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		claimed = append(claimed, m)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("postgres: commit claim batch: %w", err)
	}
	return claimed, nil
}

// ClaimForProcessing locks and returns the row only if it is ENQUEUED. Called
// standalone, the row lock is released the instant this statement's implicit
// transaction ends, so it is only useful for inspection; the Worker reaches
// this logic through RunInTx instead so the lock survives into the attempt
// update.
func (r *OutboxRepository) ClaimForProcessing(ctx context.Context, id uuid.UUID) (*model.OutboxMessage, error) {
	return claimForProcessing(ctx, r.db, id)
}

// UpdateForAttempt persists attempt_count/last_attempt after Phase A
// increments them.
func (r *OutboxRepository) UpdateForAttempt(ctx context.Context, msg *model.OutboxMessage) error {
	return updateForAttempt(ctx, r.db, msg)
}

// ReopenForRetry transitions an ENQUEUED row back to PENDING.
func (r *OutboxRepository) ReopenForRetry(ctx context.Context, msg *model.OutboxMessage) error {
	return reopenForRetry(ctx, r.db, msg)
}

// FinalizeSuccess transitions msg to SENT, flips the owning notification's
// is_sent flag, and marks non-terminal siblings SENT, in one transaction.
func (r *OutboxRepository) FinalizeSuccess(ctx context.Context, msg *model.OutboxMessage) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := finalizeSuccess(ctx, tx, msg); err != nil {
		return err
	}
	return tx.Commit()
}

// FinalizeFailure transitions msg to FAILED with reason.
func (r *OutboxRepository) FinalizeFailure(ctx context.Context, msg *model.OutboxMessage, reason string) error {
	return finalizeFailure(ctx, r.db, msg, reason)
}

// MarkTerminalSiblingsSent sets every non-terminal outbox row of
// notificationID to SENT, the caller's own row included.
func (r *OutboxRepository) MarkTerminalSiblingsSent(ctx context.Context, notificationID uuid.UUID) error {
	return markTerminalSiblingsSent(ctx, r.db, notificationID)
}

// GetByID retrieves a row regardless of lock state.
func (r *OutboxRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.OutboxMessage, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+outboxColumns+` FROM outbox_messages WHERE id = $1`, id)
	return scanOutboxMessage(row)
}

// ListByNotification returns all outbox rows for a notification, oldest first.
func (r *OutboxRepository) ListByNotification(ctx context.Context, notificationID uuid.UUID) ([]*model.OutboxMessage, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+outboxColumns+` FROM outbox_messages
		WHERE notification_id = $1 ORDER BY created_at ASC`, notificationID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list by notification: %w", err)
	}
	defer rows.Close()

	var out []*model.OutboxMessage
	for rows.Next() {
		m, err := scanOutboxMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// RunInTx opens a transaction and runs fn against an OutboxTx bound to it,
// committing on success and rolling back on any error or panic through the
// deferred Rollback, which is a no-op after a successful Commit. A panic is
// not recovered; it continues after the rollback.
func (r *OutboxRepository) RunInTx(ctx context.Context, fn func(repo.OutboxTx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&outboxTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

// outboxTx binds the OutboxTx surface to a single *sql.Tx so a claim and its
// follow-up mutation share one lock lifetime.
type outboxTx struct {
	tx *sql.Tx
}

func (t *outboxTx) ClaimForProcessing(ctx context.Context, id uuid.UUID) (*model.OutboxMessage, error) {
	return claimForProcessing(ctx, t.tx, id)
}

func (t *outboxTx) UpdateForAttempt(ctx context.Context, msg *model.OutboxMessage) error {
	return updateForAttempt(ctx, t.tx, msg)
}

func (t *outboxTx) ReopenForRetry(ctx context.Context, msg *model.OutboxMessage) error {
	return reopenForRetry(ctx, t.tx, msg)
}

func (t *outboxTx) FinalizeSuccess(ctx context.Context, msg *model.OutboxMessage) error {
	return finalizeSuccess(ctx, t.tx, msg)
}

func (t *outboxTx) FinalizeFailure(ctx context.Context, msg *model.OutboxMessage, reason string) error {
	return finalizeFailure(ctx, t.tx, msg, reason)
}

func (t *outboxTx) MarkTerminalSiblingsSent(ctx context.Context, notificationID uuid.UUID) error {
	return markTerminalSiblingsSent(ctx, t.tx, notificationID)
}

func (t *outboxTx) Insert(ctx context.Context, notificationID uuid.UUID, method model.Method, payload model.Payload, maxRetries int) (*model.OutboxMessage, error) {
	return insertOutbox(ctx, t.tx, notificationID, method, payload, maxRetries)
}

// --- shared statement bodies, parameterized over querier so both the plain
// *sql.DB methods and the tx-scoped ones above execute identical SQL. ---

func insertOutbox(ctx context.Context, q querier, notificationID uuid.UUID, method model.Method, payload model.Payload, maxRetries int) (*model.OutboxMessage, error) {
	msg := model.NewOutboxMessage(notificationID, method, payload, maxRetries)
	payloadJSON, err := marshalPayload(msg.Payload)
	if err != nil {
		return nil, err
	}

	const stmt = `
		INSERT INTO outbox_messages
			(id, notification_id, method, status, payload, attempt_count, max_retries, status_changed_at, error_message, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err = q.ExecContext(ctx, stmt,
		msg.ID, msg.NotificationID, string(msg.Method), string(msg.Status), payloadJSON,
		msg.AttemptCount, msg.MaxRetries, msg.StatusChangedAt, msg.ErrorMessage, msg.CreatedAt, msg.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("postgres: insert outbox message: %w", err)
	}
	return msg, nil
}

func claimForProcessing(ctx context.Context, q querier, id uuid.UUID) (*model.OutboxMessage, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+outboxColumns+`
		FROM outbox_messages
		WHERE id = $1 AND status = 'ENQUEUED'
		FOR UPDATE SKIP LOCKED`, id)

	msg, err := scanOutboxMessage(row)
	if err != nil {
		if err == repo.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	return msg, nil
}

func updateForAttempt(ctx context.Context, q querier, msg *model.OutboxMessage) error {
	msg.UpdatedAt = time.Now().UTC()
	_, err := q.ExecContext(ctx, `
		UPDATE outbox_messages
		SET attempt_count = $1, last_attempt = $2, updated_at = $3
		WHERE id = $4`,
		msg.AttemptCount, msg.LastAttempt, msg.UpdatedAt, msg.ID)
	if err != nil {
		return fmt.Errorf("postgres: update for attempt: %w", err)
	}
	return nil
}

func reopenForRetry(ctx context.Context, q querier, msg *model.OutboxMessage) error {
	now := time.Now().UTC()
	msg.Status = model.StatusPending
	msg.StatusChangedAt = now
	msg.UpdatedAt = now
	_, err := q.ExecContext(ctx, `
		UPDATE outbox_messages
		SET status = 'PENDING', status_changed_at = $1, updated_at = $1, error_message = $2
		WHERE id = $3 AND status NOT IN ('SENT', 'FAILED')`,
		now, msg.ErrorMessage, msg.ID)
	if err != nil {
		return fmt.Errorf("postgres: reopen for retry: %w", err)
	}
	return nil
}

func finalizeSuccess(ctx context.Context, q querier, msg *model.OutboxMessage) error {
	now := time.Now().UTC()
	msg.Status = model.StatusSent
	msg.StatusChangedAt = now
	msg.UpdatedAt = now

	if _, err := q.ExecContext(ctx, `
		UPDATE outbox_messages SET status = 'SENT', status_changed_at = $1, updated_at = $1
		WHERE id = $2`, now, msg.ID); err != nil {
		return fmt.Errorf("postgres: finalize success: %w", err)
	}

	if _, err := q.ExecContext(ctx, `
		UPDATE notifications SET is_sent = TRUE, updated_at = $1 WHERE id = $2`,
		now, msg.NotificationID); err != nil {
		return fmt.Errorf("postgres: mark notification sent: %w", err)
	}

	if _, err := q.ExecContext(ctx, `
		UPDATE outbox_messages
		SET status = 'SENT', status_changed_at = $1, updated_at = $1
		WHERE notification_id = $2 AND id != $3 AND status NOT IN ('SENT', 'FAILED')`,
		now, msg.NotificationID, msg.ID); err != nil {
		return fmt.Errorf("postgres: mark siblings sent: %w", err)
	}

	return nil
}

func finalizeFailure(ctx context.Context, q querier, msg *model.OutboxMessage, reason string) error {
	now := time.Now().UTC()
	msg.Status = model.StatusFailed
	msg.StatusChangedAt = now
	msg.UpdatedAt = now
	msg.ErrorMessage = reason

	_, err := q.ExecContext(ctx, `
		UPDATE outbox_messages
		SET status = 'FAILED', status_changed_at = $1, updated_at = $1, error_message = $2
		WHERE id = $3 AND status NOT IN ('SENT', 'FAILED')`, now, reason, msg.ID)
	if err != nil {
		return fmt.Errorf("postgres: finalize failure: %w", err)
	}
	return nil
}

func markTerminalSiblingsSent(ctx context.Context, q querier, notificationID uuid.UUID) error {
	now := time.Now().UTC()
	_, err := q.ExecContext(ctx, `
		UPDATE outbox_messages
		SET status = 'SENT', status_changed_at = $1, updated_at = $1
		WHERE notification_id = $2 AND status NOT IN ('SENT', 'FAILED')`,
		now, notificationID)
	if err != nil {
		return fmt.Errorf("postgres: mark terminal siblings sent: %w", err)
	}
	return nil
}
