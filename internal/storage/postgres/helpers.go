package postgres

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	repo "github.com/arterny/outboxed/internal/domain/repository"
	"github.com/arterny/outboxed/internal/domain/model"
)

func marshalPayload(p model.Payload) ([]byte, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("postgres: marshal payload: %w", err)
	}
	return b, nil
}

func unmarshalPayload(b []byte) (model.Payload, error) {
	var p model.Payload
	if len(b) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(b, &p); err != nil {
		return p, fmt.Errorf("postgres: unmarshal payload: %w", err)
	}
	return p, nil
}

// outboxScanner is satisfied by *sql.Row and *sql.Rows.
type outboxScanner interface {
	Scan(dest ...any) error
}

func scanOutboxMessage(s outboxScanner) (*model.OutboxMessage, error) {
	var m model.OutboxMessage
	var method, status string
	var payloadBytes []byte
	var lastAttempt sql.NullTime

	err := s.Scan(
		&m.ID, &m.NotificationID, &method, &status, &payloadBytes,
		&m.AttemptCount, &m.MaxRetries, &lastAttempt, &m.StatusChangedAt,
		&m.ErrorMessage, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repo.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: scan outbox message: %w", err)
	}

	m.Method = model.Method(method)
	m.Status = model.Status(status)
	if lastAttempt.Valid {
		t := lastAttempt.Time
		m.LastAttempt = &t
	}
	m.Payload, err = unmarshalPayload(payloadBytes)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

const outboxColumns = `id, notification_id, method, status, payload, attempt_count, max_retries, last_attempt, status_changed_at, error_message, created_at, updated_at`
