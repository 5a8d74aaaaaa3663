package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"github.com/arterny/outboxed/internal/domain/model"
	repo "github.com/arterny/outboxed/internal/domain/repository"
)

var _ repo.NotificationRepository = (*NotificationRepository)(nil)

// NotificationRepository implements repository.NotificationRepository on top
// of PostgreSQL.
type NotificationRepository struct {
	db         *sql.DB
	maxRetries int
	logger     zerolog.Logger
}

// NewNotificationRepository creates a new instance of NotificationRepository.
func NewNotificationRepository(db *sql.DB, logger *zerolog.Logger) *NotificationRepository {
	return &NotificationRepository{
		db:         db,
		maxRetries: 3,
		logger:     logger.With().Str("layer", "postgres_notification_repository").Logger(),
	}
}

// WithDefaultMaxRetries overrides the max_retries stamped on new outbox rows.
func (r *NotificationRepository) WithDefaultMaxRetries(n int) *NotificationRepository {
	r.maxRetries = n
	return r
}

// Create persists n and one PENDING outbox row per method inside a single
// transaction, so a notification is never visible without its outbox rows.
func (r *NotificationRepository) Create(ctx context.Context, n *model.Notification, methods []model.Method, build repo.PayloadBuilder) (*model.Notification, []*model.OutboxMessage, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer tx.Rollback()

	const insertNotification = `
		INSERT INTO notifications (id, user_id, title, message, notification_type, is_sent, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err = tx.ExecContext(ctx, insertNotification,
		n.ID, n.UserID, n.Title, n.Message, string(n.Type), n.IsSent, n.CreatedAt, n.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return nil, nil, repo.ErrDuplicateRecord
		}
		return nil, nil, fmt.Errorf("postgres: insert notification: %w", err)
	}

	messages := make([]*model.OutboxMessage, 0, len(methods))
	for _, method := range methods {
		payload, err := build(ctx, n, method)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres: build payload for %s: %w", method, err)
		}
		msg := model.NewOutboxMessage(n.ID, method, payload, r.maxRetries)

		payloadJSON, err := marshalPayload(msg.Payload)
		if err != nil {
			return nil, nil, err
		}

		const insertOutbox = `
			INSERT INTO outbox_messages
				(id, notification_id, method, status, payload, attempt_count, max_retries, status_changed_at, error_message, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
		_, err = tx.ExecContext(ctx, insertOutbox,
			msg.ID, msg.NotificationID, string(msg.Method), string(msg.Status), payloadJSON,
			msg.AttemptCount, msg.MaxRetries, msg.StatusChangedAt, msg.ErrorMessage, msg.CreatedAt, msg.UpdatedAt)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres: insert outbox message: %w", err)
		}
		messages = append(messages, msg)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("postgres: commit: %w", err)
	}

	return n, messages, nil
}

// GetByID retrieves a notification by its unique ID.
func (r *NotificationRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Notification, error) {
	return scanNotification(r.db.QueryRowContext(ctx, `
		SELECT id, user_id, title, message, notification_type, is_sent, created_at, updated_at
		FROM notifications WHERE id = $1`, id))
}

// Cancel deletes a notification (its outbox rows go with it through the
// ON DELETE CASCADE foreign key), provided none of its outbox rows have
// already left PENDING/ENQUEUED (a SENT or FAILED sibling means the
// dispatcher already committed to, or exhausted, delivery).
func (r *NotificationRepository) Cancel(ctx context.Context, id uuid.UUID) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer tx.Rollback()

	var terminalCount int
	err = tx.QueryRowContext(ctx, `
		SELECT count(*) FROM outbox_messages
		WHERE notification_id = $1 AND status IN ('SENT', 'FAILED')`, id).Scan(&terminalCount)
	if err != nil {
		return fmt.Errorf("postgres: count terminal siblings: %w", err)
	}
	if terminalCount > 0 {
		return repo.ErrInvalidState
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM notifications WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: cancel notification: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return repo.ErrNotFound
	}

	return tx.Commit()
}

// Stats returns aggregate counts for the control-plane /stats endpoint.
func (r *NotificationRepository) Stats(ctx context.Context) (model.Stats, error) {
	stats := model.Stats{
		ByStatus: make(map[model.Status]int64),
		ByMethod: make(map[model.Method]int64),
	}

	row := r.db.QueryRowContext(ctx, `SELECT count(*), count(*) FILTER (WHERE is_sent) FROM notifications`)
	if err := row.Scan(&stats.Notifications, &stats.NotificationsSent); err != nil {
		return stats, fmt.Errorf("postgres: stats notifications: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `SELECT status, count(*) FROM outbox_messages GROUP BY status`)
	if err != nil {
		return stats, fmt.Errorf("postgres: stats by status: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return stats, err
		}
		stats.ByStatus[model.Status(status)] = count
	}
	if err := rows.Err(); err != nil {
		return stats, err
	}

	rows, err = r.db.QueryContext(ctx, `SELECT method, count(*) FROM outbox_messages GROUP BY method`)
	if err != nil {
		return stats, fmt.Errorf("postgres: stats by method: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var method string
		var count int64
		if err := rows.Scan(&method, &count); err != nil {
			return stats, err
		}
		stats.ByMethod[model.Method(method)] = count
	}
	return stats, rows.Err()
}

func scanNotification(row *sql.Row) (*model.Notification, error) {
	var n model.Notification
	var typ string
	err := row.Scan(&n.ID, &n.UserID, &n.Title, &n.Message, &typ, &n.IsSent, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repo.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: scan notification: %w", err)
	}
	n.Type = model.Type(typ)
	return &n, nil
}
