package redis

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/arterny/outboxed/internal/domain/model"
	repo "github.com/arterny/outboxed/internal/domain/repository"
)

// Ensure CachedNotificationRepository implements the interface
var _ repo.NotificationRepository = (*CachedNotificationRepository)(nil)

// CachedNotificationRepository is a decorator for a NotificationRepository
// that adds a read-through caching layer using Redis. Only GetByID reads
// from the cache. Create and Cancel both run against the primary store;
// Create then warms the cache with the new notification, and Cancel
// invalidates it.
type CachedNotificationRepository struct {
	primaryRepo repo.NotificationRepository
	cache       repo.NotificationCache
	logger      zerolog.Logger
	ttl         time.Duration
}

// NewCachedNotificationRepository creates a new instance of the cached repository.
// It takes the primary repository and the cache as dependencies.
func NewCachedNotificationRepository(
	primaryRepo repo.NotificationRepository,
	cache repo.NotificationCache,
	logger *zerolog.Logger,
) *CachedNotificationRepository {
	return &CachedNotificationRepository{
		primaryRepo: primaryRepo,
		cache:       cache,
		logger:      logger.With().Str("layer", "cached_repository").Logger(),
		ttl:         time.Hour,
	}
}

// Create persists through to the primary repository and warms the cache
// with the freshly created notification.
func (r *CachedNotificationRepository) Create(ctx context.Context, n *model.Notification, methods []model.Method, build repo.PayloadBuilder) (*model.Notification, []*model.OutboxMessage, error) {
	created, messages, err := r.primaryRepo.Create(ctx, n, methods, build)
	if err != nil {
		return nil, nil, err
	}

	if err := r.cache.Set(ctx, created, r.ttl); err != nil {
		r.logger.Error().Err(err).Stringer("id", created.ID).Msg("failed to cache notification after create")
	}

	return created, messages, nil
}

// GetByID implements the cache-aside pattern: try the cache first, and on a
// miss fall through to the primary repository and repopulate.
func (r *CachedNotificationRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Notification, error) {
	cached, err := r.cache.Get(ctx, id)
	if err == nil {
		r.logger.Info().Stringer("id", id).Msg("cache hit")
		return cached, nil
	}

	if !errors.Is(err, repo.ErrNotFound) {
		r.logger.Error().Err(err).Stringer("id", id).Msg("cache get error, falling back to primary repository")
	} else {
		r.logger.Info().Stringer("id", id).Msg("cache miss")
	}

	primary, err := r.primaryRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := r.cache.Set(ctx, primary, r.ttl); err != nil {
		r.logger.Error().Err(err).Stringer("id", primary.ID).Msg("failed to set cache after db fetch")
	}

	return primary, nil
}

// Cancel deletes through to the primary repository then invalidates any
// cached copy regardless of outcome, since a partially-applied cancel must
// never leave a stale hit behind.
func (r *CachedNotificationRepository) Cancel(ctx context.Context, id uuid.UUID) error {
	err := r.primaryRepo.Cancel(ctx, id)
	if delErr := r.cache.Delete(ctx, id); delErr != nil {
		r.logger.Error().Err(delErr).Stringer("id", id).Msg("failed to invalidate cache after cancel")
	}
	return err
}

// Stats is never cached: it aggregates live counts across every row, and a
// stale snapshot would defeat its purpose as an operational signal.
func (r *CachedNotificationRepository) Stats(ctx context.Context) (model.Stats, error) {
	return r.primaryRepo.Stats(ctx)
}
