package app

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.uber.org/fx"

	"github.com/arterny/outboxed/internal/channels"
	"github.com/arterny/outboxed/internal/config"
	deliveryHTTP "github.com/arterny/outboxed/internal/delivery/http"
	"github.com/arterny/outboxed/internal/directory"
	repo "github.com/arterny/outboxed/internal/domain/repository"
	"github.com/arterny/outboxed/internal/logger"
	"github.com/arterny/outboxed/internal/outbox/fallback"
	"github.com/arterny/outboxed/internal/outbox/scheduler"
	"github.com/arterny/outboxed/internal/outbox/worker"
	"github.com/arterny/outboxed/internal/service"
	"github.com/arterny/outboxed/internal/storage/postgres"
	"github.com/arterny/outboxed/internal/storage/redis"
)

// engine bundles the Claimer tick and the worker pool that together form
// the outbox dispatcher into one lifecycle-managed unit, so both cmd/api
// and cmd/worker run a full dispatcher instance alongside whatever else
// that process does. Running several instances in parallel is safe; the
// outbox table is the only coordination medium.
type engine struct {
	scheduler *scheduler.Scheduler
	pool      *worker.Pool
	jobs      chan uuid.UUID
}

// TriggerNow implements service.Trigger, letting the ingress path force an
// immediate tick after create.
func (e *engine) TriggerNow(ctx context.Context) {
	e.scheduler.TriggerNow(ctx)
}

// newEngine hands the worker pool the uncached postgres repository: the
// worker re-reads is_sent before sending and before synthesizing a fallback,
// and the Redis copy of a notification is warmed at create time and never
// refreshed when a send succeeds.
func newEngine(
	cfg *config.Config,
	log *zerolog.Logger,
	outboxRepo *postgres.OutboxRepository,
	notifRepo *postgres.NotificationRepository,
	sender repo.ChannelSender,
	dir repo.ContactDirectory,
	leader scheduler.Leader,
) *engine {
	jobs := make(chan uuid.UUID, cfg.Outbox.BatchSize)
	return &engine{
		scheduler: scheduler.New(cfg.Outbox, log, outboxRepo, leader, jobs),
		pool:      worker.New(cfg.Outbox, log, outboxRepo, notifRepo, sender, dir),
		jobs:      jobs,
	}
}

// newLeader wires the scheduler's optional leader-election lock onto Redis.
// Leaving OutboxConfig.LeaderElection false (the default) returns a nil
// Leader, which scheduler.Scheduler treats as "every instance claims
// independently". SKIP LOCKED already makes that safe.
func newLeader(cfg *config.Config, log *zerolog.Logger, client *goredis.Client) scheduler.Leader {
	if !cfg.Outbox.LeaderElection {
		return nil
	}
	return redis.NewLock(log, client, "outbox-scheduler")
}

// newContactDirectory provides the fixed user-contact lookup the payload
// builder resolves recipients through. A real deployment would seed this
// from whatever user-profile store owns email/phone/chat_id; the dispatcher
// treats that lookup as an external collaborator, so an empty directory is
// wired in by default.
func newContactDirectory() repo.ContactDirectory {
	return directory.NewStatic(nil)
}

func newPayloadBuilder(dir repo.ContactDirectory) repo.PayloadBuilder {
	return fallback.BuildPayload(dir)
}

func newChannelSender(cfg *config.Config, log *zerolog.Logger) (repo.ChannelSender, error) {
	d, err := channels.NewDispatcher(cfg, log)
	if err != nil {
		return nil, err
	}
	return d, nil
}

func newTrigger(e *engine) service.Trigger {
	return e
}

// runEngine starts the Claimer tick and the worker pool draining its jobs
// channel for the lifetime of the fx app.
func runEngine(e *engine, lc fx.Lifecycle) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go e.scheduler.Run(ctx)
			go e.pool.Start(ctx, e.jobs)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}

// CommonModule provides dependencies that are shared between the API and
// Worker applications: the durable store, the cache, the contact directory,
// the channel senders, and the outbox dispatcher (scheduler + worker pool)
// itself.
var CommonModule = fx.Options(
	fx.Provide(
		// Core components
		config.NewConfig,
		logger.NewLogger,

		// Storage Layer - concrete implementations
		postgres.NewDB,
		redis.NewClient,
		redis.NewNotificationCache,
		postgres.NewNotificationRepository,
		postgres.NewOutboxRepository,

		// Collaborators external to the dispatcher
		newContactDirectory,
		newPayloadBuilder,
		newChannelSender,
		newLeader,

		// Outbox dispatcher
		newEngine,
		newTrigger,

		// Service Layer
		service.NewNotificationService,
	),

	fx.Decorate(func(
		pgRepo *postgres.NotificationRepository,
		cache *redis.NotificationCache,
		logger *zerolog.Logger,
	) repo.NotificationRepository {
		return redis.NewCachedNotificationRepository(pgRepo, cache, logger)
	}),

	fx.Invoke(runEngine),
)

// APIModule defines the Fx module for the HTTP API application. It runs the
// full outbox dispatcher alongside the ingress HTTP surface, so a single
// replica is enough for local development and small deployments; larger
// deployments scale cmd/worker replicas independently.
var APIModule = fx.Options(
	CommonModule, // Include all shared components
	fx.Provide(
		// API-specific components
		deliveryHTTP.NewHandlers,
		deliveryHTTP.NewServer,
	),

	fx.Invoke(func(server *deliveryHTTP.Server, lc fx.Lifecycle) {
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				go func() {
					if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						panic(err)
					}
				}()
				return nil
			},
			OnStop: func(ctx context.Context) error {
				return server.Shutdown(ctx)
			},
		})
	}),
)

// WorkerModule defines the Fx module for the headless background dispatcher
// application. CommonModule already wires and starts the Claimer and worker
// pool, so a worker replica needs nothing beyond that.
var WorkerModule = fx.Options(
	CommonModule,
)
