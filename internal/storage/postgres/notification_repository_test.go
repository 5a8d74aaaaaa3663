package postgres

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arterny/outboxed/internal/domain/model"
	repo "github.com/arterny/outboxed/internal/domain/repository"
)

func newMockNotificationRepo(t *testing.T) (*NotificationRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	logger := zerolog.Nop()
	return NewNotificationRepository(db, &logger), mock
}

func staticBuild(_ context.Context, n *model.Notification, method model.Method) (model.Payload, error) {
	switch method {
	case model.MethodEmail:
		return model.Payload{ToEmail: "a@b.com", Subject: n.Title, Message: n.Message}, nil
	case model.MethodSMS:
		return model.Payload{Phone: "+79991234567", Message: n.Title + ": " + n.Message}, nil
	default:
		return model.Payload{ChatID: 42, Message: n.Message}, nil
	}
}

func TestCreate_WritesNotificationAndOneRowPerMethod(t *testing.T) {
	r, mock := newMockNotificationRepo(t)
	n := model.NewNotification(1, "T", "M", model.TypeInfo)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO notifications`).
		WithArgs(n.ID, int64(1), "T", "M", "INFO", false, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO outbox_messages`).
		WithArgs(sqlmock.AnyArg(), n.ID, "EMAIL", "PENDING", sqlmock.AnyArg(),
			0, 3, sqlmock.AnyArg(), "", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO outbox_messages`).
		WithArgs(sqlmock.AnyArg(), n.ID, "SMS", "PENDING", sqlmock.AnyArg(),
			0, 3, sqlmock.AnyArg(), "", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	created, messages, err := r.Create(context.Background(), n,
		[]model.Method{model.MethodEmail, model.MethodSMS}, staticBuild)
	require.NoError(t, err)
	assert.Equal(t, n.ID, created.ID)
	require.Len(t, messages, 2)
	assert.Equal(t, model.MethodEmail, messages[0].Method)
	assert.Equal(t, model.MethodSMS, messages[1].Method)
	for _, m := range messages {
		assert.Equal(t, model.StatusPending, m.Status)
	}
}

func TestCreate_MapsUniqueViolationToDuplicate(t *testing.T) {
	r, mock := newMockNotificationRepo(t)
	n := model.NewNotification(1, "T", "M", model.TypeInfo)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO notifications`).
		WithArgs(n.ID, int64(1), "T", "M", "INFO", false, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: pgerrcode.UniqueViolation})
	mock.ExpectRollback()

	_, _, err := r.Create(context.Background(), n, []model.Method{model.MethodSMS}, staticBuild)
	assert.ErrorIs(t, err, repo.ErrDuplicateRecord)
}

func TestCreate_RollsBackWhenOutboxInsertFails(t *testing.T) {
	r, mock := newMockNotificationRepo(t)
	n := model.NewNotification(1, "T", "M", model.TypeInfo)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO notifications`).
		WithArgs(n.ID, int64(1), "T", "M", "INFO", false, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO outbox_messages`).
		WillReturnError(sql.ErrConnDone)
	mock.ExpectRollback()

	_, _, err := r.Create(context.Background(), n, []model.Method{model.MethodSMS}, staticBuild)
	assert.Error(t, err, "a notification must never be committed without its outbox rows")
}

func TestGetByID_ReturnsNotification(t *testing.T) {
	r, mock := newMockNotificationRepo(t)
	n := model.NewNotification(7, "Title", "Body", model.TypeWarning)

	mock.ExpectQuery(`(?s)SELECT .+ FROM notifications WHERE id`).
		WithArgs(n.ID).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "user_id", "title", "message", "notification_type", "is_sent", "created_at", "updated_at",
		}).AddRow(n.ID, n.UserID, n.Title, n.Message, string(n.Type), n.IsSent, n.CreatedAt, n.UpdatedAt))

	got, err := r.GetByID(context.Background(), n.ID)
	require.NoError(t, err)
	assert.Equal(t, n.ID, got.ID)
	assert.Equal(t, model.TypeWarning, got.Type)
	assert.False(t, got.IsSent)
}

func TestGetByID_MapsMissingToErrNotFound(t *testing.T) {
	r, mock := newMockNotificationRepo(t)
	id := uuid.New()

	mock.ExpectQuery(`(?s)SELECT .+ FROM notifications WHERE id`).
		WithArgs(id).
		WillReturnError(sql.ErrNoRows)

	_, err := r.GetByID(context.Background(), id)
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestCancel_RefusesWhenDeliveryCommitted(t *testing.T) {
	r, mock := newMockNotificationRepo(t)
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT count`).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectRollback()

	err := r.Cancel(context.Background(), id)
	assert.ErrorIs(t, err, repo.ErrInvalidState)
}

func TestCancel_DeletesWhenAllRowsPending(t *testing.T) {
	r, mock := newMockNotificationRepo(t)
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT count`).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec(`DELETE FROM notifications`).
		WithArgs(id).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, r.Cancel(context.Background(), id))
}

func TestCancel_MapsMissingToErrNotFound(t *testing.T) {
	r, mock := newMockNotificationRepo(t)
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT count`).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec(`DELETE FROM notifications`).
		WithArgs(id).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := r.Cancel(context.Background(), id)
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestStats_AggregatesCounts(t *testing.T) {
	r, mock := newMockNotificationRepo(t)

	mock.ExpectQuery(`SELECT count\(\*\), count\(\*\) FILTER`).
		WillReturnRows(sqlmock.NewRows([]string{"count", "sent"}).AddRow(10, 7))
	mock.ExpectQuery(`SELECT status, count`).
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).
			AddRow("SENT", 7).AddRow("FAILED", 2).AddRow("PENDING", 3))
	mock.ExpectQuery(`SELECT method, count`).
		WillReturnRows(sqlmock.NewRows([]string{"method", "count"}).
			AddRow("SMS", 8).AddRow("TELEGRAM", 4))

	stats, err := r.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(10), stats.Notifications)
	assert.Equal(t, int64(7), stats.NotificationsSent)
	assert.Equal(t, int64(7), stats.ByStatus[model.StatusSent])
	assert.Equal(t, int64(8), stats.ByMethod[model.MethodSMS])
}
