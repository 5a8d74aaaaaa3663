package service

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arterny/outboxed/internal/domain/model"
	repo "github.com/arterny/outboxed/internal/domain/repository"
)

// fakeNotifRepo is a minimal repo.NotificationRepository whose Create
// behavior is overridden per test; the other methods are unused by these
// service-layer tests.
type fakeNotifRepo struct {
	createFn func(context.Context, *model.Notification, []model.Method, repo.PayloadBuilder) (*model.Notification, []*model.OutboxMessage, error)
}

func (r *fakeNotifRepo) Create(ctx context.Context, n *model.Notification, methods []model.Method, build repo.PayloadBuilder) (*model.Notification, []*model.OutboxMessage, error) {
	if r.createFn != nil {
		return r.createFn(ctx, n, methods, build)
	}
	return n, nil, nil
}

func (r *fakeNotifRepo) GetByID(context.Context, uuid.UUID) (*model.Notification, error) {
	return nil, repo.ErrNotFound
}

func (r *fakeNotifRepo) Cancel(context.Context, uuid.UUID) error { return nil }

func (r *fakeNotifRepo) Stats(context.Context) (model.Stats, error) { return model.Stats{}, nil }

type noopDirectory struct{}

func (noopDirectory) Email(context.Context, int64) (string, bool) { return "", false }
func (noopDirectory) Phone(context.Context, int64) (string, bool) { return "", false }
func (noopDirectory) TelegramChatID(context.Context, int64) (int64, bool) { return 0, false }

func noopBuild(context.Context, *model.Notification, model.Method) (model.Payload, error) {
	return model.Payload{}, nil
}

type triggerSpy struct{ calls int }

func (t *triggerSpy) TriggerNow(context.Context) { t.calls++ }

func newServiceForTest(r repo.NotificationRepository, trigger Trigger) *NotificationService {
	logger := zerolog.Nop()
	return NewNotificationService(r, noopDirectory{}, noopBuild, trigger, &logger)
}

func TestCreateNotification_DefaultsToSMSWhenMethodsOmitted(t *testing.T) {
	var gotMethods []model.Method
	r := &fakeNotifRepo{
		createFn: func(ctx context.Context, n *model.Notification, methods []model.Method, build repo.PayloadBuilder) (*model.Notification, []*model.OutboxMessage, error) {
			gotMethods = methods
			return n, nil, nil
		},
	}
	svc := newServiceForTest(r, nil)

	_, err := svc.CreateNotification(context.Background(), 1, "title", "message", model.TypeInfo, nil, false)
	require.NoError(t, err)
	assert.Equal(t, []model.Method{model.MethodSMS}, gotMethods)
}

func TestCreateNotification_OneRowPerRequestedMethod(t *testing.T) {
	var gotMethods []model.Method
	r := &fakeNotifRepo{
		createFn: func(ctx context.Context, n *model.Notification, methods []model.Method, build repo.PayloadBuilder) (*model.Notification, []*model.OutboxMessage, error) {
			gotMethods = methods
			return n, nil, nil
		},
	}
	svc := newServiceForTest(r, nil)

	requested := []model.Method{model.MethodEmail, model.MethodSMS, model.MethodTelegram}
	_, err := svc.CreateNotification(context.Background(), 1, "title", "message", model.TypeInfo, requested, false)
	require.NoError(t, err)
	assert.Equal(t, requested, gotMethods)
}

func TestCreateNotification_RejectsEmptyTitle(t *testing.T) {
	svc := newServiceForTest(&fakeNotifRepo{}, nil)
	_, err := svc.CreateNotification(context.Background(), 1, "", "message", model.TypeInfo, nil, false)
	assert.Error(t, err)
}

func TestCreateNotification_RejectsOverlongTitle(t *testing.T) {
	svc := newServiceForTest(&fakeNotifRepo{}, nil)
	longTitle := strings.Repeat("a", 201)
	_, err := svc.CreateNotification(context.Background(), 1, longTitle, "message", model.TypeInfo, nil, false)
	assert.Error(t, err)
}

func TestCreateNotification_RejectsEmptyMessage(t *testing.T) {
	svc := newServiceForTest(&fakeNotifRepo{}, nil)
	_, err := svc.CreateNotification(context.Background(), 1, "title", "", model.TypeInfo, nil, false)
	assert.Error(t, err)
}

func TestCreateNotification_RejectsUnknownMethod(t *testing.T) {
	svc := newServiceForTest(&fakeNotifRepo{}, nil)
	_, err := svc.CreateNotification(context.Background(), 1, "title", "message", model.TypeInfo, []model.Method{"CARRIER_PIGEON"}, false)
	assert.Error(t, err)
}

func TestCreateNotification_TriggersImmediateTickWhenRequested(t *testing.T) {
	spy := &triggerSpy{}
	svc := newServiceForTest(&fakeNotifRepo{}, spy)

	_, err := svc.CreateNotification(context.Background(), 1, "title", "message", model.TypeInfo, nil, true)
	require.NoError(t, err)
	assert.Equal(t, 1, spy.calls)
}

func TestCreateNotification_DoesNotTriggerByDefault(t *testing.T) {
	spy := &triggerSpy{}
	svc := newServiceForTest(&fakeNotifRepo{}, spy)

	_, err := svc.CreateNotification(context.Background(), 1, "title", "message", model.TypeInfo, nil, false)
	require.NoError(t, err)
	assert.Equal(t, 0, spy.calls)
}

func TestCancelNotification_ReturnsInvalidState(t *testing.T) {
	// repo.NotificationRepository.Cancel returning ErrInvalidState should
	// surface unchanged so the HTTP layer can map it to 409.
	r := &fakeCancelRepo{err: repo.ErrInvalidState}
	svc := newServiceForTest(r, nil)

	err := svc.CancelNotification(context.Background(), uuid.New())
	assert.ErrorIs(t, err, repo.ErrInvalidState)
}

type fakeCancelRepo struct {
	fakeNotifRepo
	err error
}

func (r *fakeCancelRepo) Cancel(context.Context, uuid.UUID) error { return r.err }
