package service

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/arterny/outboxed/internal/domain/model"
	repo "github.com/arterny/outboxed/internal/domain/repository"
	"github.com/arterny/outboxed/internal/metrics"
)

// maxTitleLength bounds notification titles at the schema's column width.
const maxTitleLength = 200

// defaultMethods is used when a caller does not specify an explicit methods
// list: a single row for the head of the fallback chain.
var defaultMethods = []model.Method{model.MethodSMS}

// Trigger lets the ingress path force an immediate Claimer tick after
// create, for low-latency dispatch.
type Trigger interface {
	TriggerNow(ctx context.Context)
}

// NotificationService implements the create/get/cancel/stats control
// surface.
type NotificationService struct {
	repo    repo.NotificationRepository
	dir     repo.ContactDirectory
	build   repo.PayloadBuilder
	trigger Trigger
	logger  zerolog.Logger
}

// NewNotificationService creates a new instance of NotificationService.
func NewNotificationService(
	repository repo.NotificationRepository,
	dir repo.ContactDirectory,
	build repo.PayloadBuilder,
	trigger Trigger,
	logger *zerolog.Logger,
) *NotificationService {
	return &NotificationService{
		repo:    repository,
		dir:     dir,
		build:   build,
		trigger: trigger,
		logger:  logger.With().Str("layer", "service").Logger(),
	}
}

// CreateNotification writes the notification and one outbox row per method
// in a single transaction, then optionally nudges the scheduler so delivery
// doesn't wait for the next tick.
func (s *NotificationService) CreateNotification(ctx context.Context, userID int64, title, message string, typ model.Type, methods []model.Method, triggerNow bool) (*model.Notification, error) {
	if title == "" || utf8.RuneCountInString(title) > maxTitleLength {
		return nil, fmt.Errorf("title must be 1-%d characters", maxTitleLength)
	}
	if message == "" {
		return nil, errors.New("message must not be empty")
	}

	if len(methods) == 0 {
		methods = defaultMethods
	}
	for _, m := range methods {
		if !m.Valid() {
			return nil, fmt.Errorf("unknown method: %s", m)
		}
	}

	n := model.NewNotification(userID, title, message, typ)

	created, messages, err := s.repo.Create(ctx, n, methods, s.build)
	if err != nil {
		s.logger.Error().Err(err).Int64("user_id", userID).Msg("failed to create notification")
		return nil, err
	}
	metrics.RecordNotificationCreated()
	s.logger.Info().Stringer("id", created.ID).Int("outbox_rows", len(messages)).Msg("notification created")

	if triggerNow && s.trigger != nil {
		s.trigger.TriggerNow(ctx)
	}

	return created, nil
}

// GetNotificationByID retrieves a notification by its ID. The caching
// decorator, if wired in front of s.repo, handles cache-aside transparently.
func (s *NotificationService) GetNotificationByID(ctx context.Context, id uuid.UUID) (*model.Notification, error) {
	return s.repo.GetByID(ctx, id)
}

// CancelNotification removes a notification and its outbox rows, provided
// none of them has already left PENDING/ENQUEUED.
func (s *NotificationService) CancelNotification(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.Cancel(ctx, id); err != nil {
		if errors.Is(err, repo.ErrInvalidState) {
			s.logger.Warn().Stringer("id", id).Msg("cannot cancel: delivery already committed")
		}
		return err
	}
	s.logger.Info().Stringer("id", id).Msg("notification cancelled")
	return nil
}

// Stats returns aggregate counts for the control-plane /stats endpoint.
func (s *NotificationService) Stats(ctx context.Context) (model.Stats, error) {
	return s.repo.Stats(ctx)
}

// TriggerProcessing forces an immediate Claimer tick without creating a
// notification, e.g. for test harnesses driving the system deterministically.
func (s *NotificationService) TriggerProcessing(ctx context.Context) {
	if s.trigger != nil {
		s.trigger.TriggerNow(ctx)
	}
}
