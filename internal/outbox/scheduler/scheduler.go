// Package scheduler implements the Claimer: a periodic tick that atomically
// promotes PENDING (and stale ENQUEUED) rows to ENQUEUED and hands their
// ids to the worker pool over a channel.
package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/arterny/outboxed/internal/config"
	repo "github.com/arterny/outboxed/internal/domain/repository"
	"github.com/arterny/outboxed/internal/metrics"
)

// Leader is implemented by a distributed lock used to restrict claiming to
// a single process when OutboxConfig.LeaderElection is enabled. A nil
// Leader means every instance claims independently, which is already safe
// thanks to SKIP LOCKED row-level claiming.
type Leader interface {
	TryAcquire(ctx context.Context, ttl time.Duration) (bool, error)
	Renew(ctx context.Context, ttl time.Duration) (bool, error)
	Release(ctx context.Context) error
}

// Scheduler runs the periodic claim tick.
type Scheduler struct {
	cfg        config.OutboxConfig
	logger     zerolog.Logger
	outboxRepo repo.OutboxRepository
	leader     Leader
	jobs       chan<- uuid.UUID
}

// New creates a new instance of Scheduler. jobs is owned by the caller; Run
// never closes it. The worker pool stops either when jobs is closed or when
// its own context is cancelled.
func New(cfg config.OutboxConfig, logger *zerolog.Logger, outboxRepo repo.OutboxRepository, leader Leader, jobs chan<- uuid.UUID) *Scheduler {
	return &Scheduler{
		cfg:        cfg,
		logger:     logger.With().Str("component", "outbox_scheduler").Logger(),
		outboxRepo: outboxRepo,
		leader:     leader,
		jobs:       jobs,
	}
}

// Run blocks, ticking every TickInterval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	interval := s.cfg.TickInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	s.logger.Info().Dur("interval", interval).Int("batch_size", s.cfg.BatchSize).Msg("starting scheduler")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	isLeader := s.leader == nil
	for {
		select {
		case <-ctx.Done():
			if s.leader != nil && isLeader {
				if err := s.leader.Release(context.Background()); err != nil {
					s.logger.Error().Err(err).Msg("failed to release leader lock on shutdown")
				}
			}
			s.logger.Info().Msg("scheduler stopped")
			return
		case <-ticker.C:
			if s.leader != nil {
				acquired, err := s.acquireOrRenew(ctx, isLeader)
				if err != nil {
					s.logger.Error().Err(err).Msg("leader election failed, skipping tick")
					isLeader = false
					continue
				}
				isLeader = acquired
				if !isLeader {
					s.logger.Debug().Msg("not leader, skipping tick")
					continue
				}
			}
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) acquireOrRenew(ctx context.Context, wasLeader bool) (bool, error) {
	ttl := s.cfg.LeaderLockTTL
	if ttl <= 0 {
		ttl = 15 * time.Second
	}
	if wasLeader {
		ok, err := s.leader.Renew(ctx, ttl)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return s.leader.TryAcquire(ctx, ttl)
}

func (s *Scheduler) tick(ctx context.Context) {
	limit := s.cfg.BatchSize
	if limit <= 0 {
		limit = 50
	}
	staleLease := s.cfg.StaleLease
	if staleLease <= 0 {
		staleLease = 60 * time.Second
	}

	claimed, err := s.outboxRepo.ClaimPendingBatch(ctx, limit, staleLease)
	if err != nil {
		s.logger.Error().Err(err).Msg("claim pending batch failed")
		return
	}
	if len(claimed) == 0 {
		return
	}
	metrics.RecordBatchClaimed(len(claimed))
	s.logger.Debug().Int("count", len(claimed)).Msg("claimed batch")

	for _, msg := range claimed {
		select {
		case s.jobs <- msg.ID:
		case <-ctx.Done():
			return
		}
	}
}

// TriggerNow runs one claim tick immediately, bypassing the ticker and any
// leader check, for the control-plane's trigger endpoint. Safe to call from
// any instance: row-level SKIP LOCKED claiming already makes concurrent
// ticks harmless.
func (s *Scheduler) TriggerNow(ctx context.Context) {
	s.tick(ctx)
}
