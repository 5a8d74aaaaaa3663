package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arterny/outboxed/internal/domain/model"
	repo "github.com/arterny/outboxed/internal/domain/repository"
)

func newMockOutboxRepo(t *testing.T) (*OutboxRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	logger := zerolog.Nop()
	return NewOutboxRepository(db, &logger), mock
}

func outboxRows(msgs ...*model.OutboxMessage) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{
		"id", "notification_id", "method", "status", "payload",
		"attempt_count", "max_retries", "last_attempt", "status_changed_at",
		"error_message", "created_at", "updated_at",
	})
	for _, m := range msgs {
		payload, _ := marshalPayload(m.Payload)
		var lastAttempt sql.NullTime
		if m.LastAttempt != nil {
			lastAttempt = sql.NullTime{Time: *m.LastAttempt, Valid: true}
		}
		rows.AddRow(m.ID, m.NotificationID, string(m.Method), string(m.Status), payload,
			m.AttemptCount, m.MaxRetries, lastAttempt, m.StatusChangedAt,
			m.ErrorMessage, m.CreatedAt, m.UpdatedAt)
	}
	return rows
}

func TestClaimPendingBatch_PromotesAndReturnsRows(t *testing.T) {
	r, mock := newMockOutboxRepo(t)

	claimed := model.NewOutboxMessage(uuid.New(), model.MethodSMS, model.Payload{Phone: "+79991234567"}, 3)
	claimed.Status = model.StatusEnqueued

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE outbox_messages`).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), 50).
		WillReturnRows(outboxRows(claimed))
	mock.ExpectCommit()

	got, err := r.ClaimPendingBatch(context.Background(), 50, time.Minute)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, claimed.ID, got[0].ID)
	assert.Equal(t, model.StatusEnqueued, got[0].Status)
	assert.Equal(t, "+79991234567", got[0].Payload.Phone)
}

func TestClaimPendingBatch_RollsBackOnQueryError(t *testing.T) {
	r, mock := newMockOutboxRepo(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE outbox_messages`).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), 10).
		WillReturnError(sql.ErrConnDone)
	mock.ExpectRollback()

	_, err := r.ClaimPendingBatch(context.Background(), 10, time.Minute)
	assert.Error(t, err)
}

func TestClaimForProcessing_ReturnsNilWhenNotEnqueued(t *testing.T) {
	r, mock := newMockOutboxRepo(t)
	id := uuid.New()

	mock.ExpectQuery(`(?s)SELECT .+ FROM outbox_messages`).
		WithArgs(id).
		WillReturnError(sql.ErrNoRows)

	got, err := r.ClaimForProcessing(context.Background(), id)
	require.NoError(t, err)
	assert.Nil(t, got, "a missing or non-ENQUEUED row is a silent skip, not an error")
}

func TestClaimForProcessing_ReturnsEnqueuedRow(t *testing.T) {
	r, mock := newMockOutboxRepo(t)

	msg := model.NewOutboxMessage(uuid.New(), model.MethodEmail, model.Payload{ToEmail: "a@b.com"}, 3)
	msg.Status = model.StatusEnqueued

	mock.ExpectQuery(`(?s)SELECT .+ FROM outbox_messages`).
		WithArgs(msg.ID).
		WillReturnRows(outboxRows(msg))

	got, err := r.ClaimForProcessing(context.Background(), msg.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, msg.ID, got.ID)
	assert.Equal(t, "a@b.com", got.Payload.ToEmail)
}

func TestFinalizeSuccess_UpdatesRowNotificationAndSiblings(t *testing.T) {
	r, mock := newMockOutboxRepo(t)

	msg := model.NewOutboxMessage(uuid.New(), model.MethodSMS, model.Payload{}, 3)
	msg.Status = model.StatusEnqueued

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE outbox_messages SET status = 'SENT'`).
		WithArgs(sqlmock.AnyArg(), msg.ID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE notifications SET is_sent = TRUE`).
		WithArgs(sqlmock.AnyArg(), msg.NotificationID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE outbox_messages`).
		WithArgs(sqlmock.AnyArg(), msg.NotificationID, msg.ID).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	require.NoError(t, r.FinalizeSuccess(context.Background(), msg))
	assert.Equal(t, model.StatusSent, msg.Status)
}

func TestFinalizeSuccess_RollsBackWhenNotificationUpdateFails(t *testing.T) {
	r, mock := newMockOutboxRepo(t)

	msg := model.NewOutboxMessage(uuid.New(), model.MethodSMS, model.Payload{}, 3)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE outbox_messages SET status = 'SENT'`).
		WithArgs(sqlmock.AnyArg(), msg.ID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE notifications SET is_sent = TRUE`).
		WithArgs(sqlmock.AnyArg(), msg.NotificationID).
		WillReturnError(sql.ErrConnDone)
	mock.ExpectRollback()

	assert.Error(t, r.FinalizeSuccess(context.Background(), msg))
}

func TestFinalizeFailure_SkipsTerminalRows(t *testing.T) {
	r, mock := newMockOutboxRepo(t)

	msg := model.NewOutboxMessage(uuid.New(), model.MethodTelegram, model.Payload{}, 3)
	msg.Status = model.StatusEnqueued

	// The WHERE clause excludes SENT/FAILED rows; zero rows affected is not
	// an error, it just means a sibling finalized first.
	mock.ExpectExec(`UPDATE outbox_messages`).
		WithArgs(sqlmock.AnyArg(), "gateway rejected", msg.ID).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, r.FinalizeFailure(context.Background(), msg, "gateway rejected"))
	assert.Equal(t, "gateway rejected", msg.ErrorMessage)
}

func TestInsert_PersistsPendingRow(t *testing.T) {
	r, mock := newMockOutboxRepo(t)
	notificationID := uuid.New()

	mock.ExpectExec(`INSERT INTO outbox_messages`).
		WithArgs(sqlmock.AnyArg(), notificationID, "EMAIL", "PENDING", sqlmock.AnyArg(),
			0, 3, sqlmock.AnyArg(), "", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	msg, err := r.Insert(context.Background(), notificationID, model.MethodEmail, model.Payload{ToEmail: "a@b.com"}, 3)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, msg.Status)
	assert.Equal(t, 0, msg.AttemptCount)
}

func TestRunInTx_CommitsOnNilError(t *testing.T) {
	r, mock := newMockOutboxRepo(t)

	msg := model.NewOutboxMessage(uuid.New(), model.MethodSMS, model.Payload{}, 3)
	msg.Status = model.StatusEnqueued

	mock.ExpectBegin()
	mock.ExpectQuery(`(?s)SELECT .+ FROM outbox_messages`).
		WithArgs(msg.ID).
		WillReturnRows(outboxRows(msg))
	mock.ExpectExec(`UPDATE outbox_messages`).
		WithArgs(1, sqlmock.AnyArg(), sqlmock.AnyArg(), msg.ID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := r.RunInTx(context.Background(), func(tx repo.OutboxTx) error {
		claimed, err := tx.ClaimForProcessing(context.Background(), msg.ID)
		require.NoError(t, err)
		require.NotNil(t, claimed)
		now := time.Now().UTC()
		claimed.AttemptCount++
		claimed.LastAttempt = &now
		return tx.UpdateForAttempt(context.Background(), claimed)
	})
	require.NoError(t, err)
}

func TestRunInTx_RollsBackOnError(t *testing.T) {
	r, mock := newMockOutboxRepo(t)

	mock.ExpectBegin()
	mock.ExpectRollback()

	err := r.RunInTx(context.Background(), func(repo.OutboxTx) error {
		return sql.ErrConnDone
	})
	assert.ErrorIs(t, err, sql.ErrConnDone)
}

func TestGetByID_MapsNoRowsToErrNotFound(t *testing.T) {
	r, mock := newMockOutboxRepo(t)
	id := uuid.New()

	mock.ExpectQuery(`SELECT .+ FROM outbox_messages WHERE id`).
		WithArgs(id).
		WillReturnError(sql.ErrNoRows)

	_, err := r.GetByID(context.Background(), id)
	assert.ErrorIs(t, err, repo.ErrNotFound)
}
