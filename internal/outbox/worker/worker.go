// Package worker implements the three-phase send cycle: Phase A claims a
// row under lock and records the attempt,
// Phase B calls the channel sender with no transaction held, and Phase C
// settles the row based on the outcome, synthesizing a fallback row when a
// method's retry budget is exhausted and the notification still isn't sent.
package worker

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/arterny/outboxed/internal/config"
	"github.com/arterny/outboxed/internal/domain/model"
	repo "github.com/arterny/outboxed/internal/domain/repository"
	"github.com/arterny/outboxed/internal/metrics"
	"github.com/arterny/outboxed/internal/outbox/fallback"
)

// Pool runs a fixed number of goroutines draining a channel of claimed
// outbox message ids, each running the full claim/send/settle cycle for
// the id it receives.
type Pool struct {
	cfg          config.OutboxConfig
	logger       zerolog.Logger
	outboxRepo   repo.OutboxRepository
	notifRepo    repo.NotificationRepository
	sender       repo.ChannelSender
	buildPayload repo.PayloadBuilder
	workerCount  int
}

// New creates a new instance of Pool.
func New(
	cfg config.OutboxConfig,
	logger *zerolog.Logger,
	outboxRepo repo.OutboxRepository,
	notifRepo repo.NotificationRepository,
	sender repo.ChannelSender,
	dir repo.ContactDirectory,
) *Pool {
	count := cfg.WorkerPoolSize
	if count <= 0 {
		count = 1
	}
	return &Pool{
		cfg:          cfg,
		logger:       logger.With().Str("component", "outbox_worker").Logger(),
		outboxRepo:   outboxRepo,
		notifRepo:    notifRepo,
		sender:       sender,
		buildPayload: fallback.BuildPayload(dir),
		workerCount:  count,
	}
}

// Start launches the worker pool and blocks until every worker has
// returned. A worker stops when ctx is cancelled or when jobs is closed,
// whichever comes first; ids still buffered in jobs at cancellation are not
// processed.
func (p *Pool) Start(ctx context.Context, jobs <-chan uuid.UUID) {
	p.logger.Info().Int("count", p.workerCount).Msg("starting outbox worker pool")
	var wg sync.WaitGroup

	for i := 0; i < p.workerCount; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			p.runWorker(ctx, workerID, jobs)
		}(i + 1)
	}

	wg.Wait()
	p.logger.Info().Msg("outbox worker pool stopped")
}

func (p *Pool) runWorker(ctx context.Context, workerID int, jobs <-chan uuid.UUID) {
	log := p.logger.With().Int("worker_id", workerID).Logger()
	log.Debug().Msg("worker started")

	for {
		select {
		case <-ctx.Done():
			log.Debug().Msg("worker stopping due to context cancellation")
			return
		case id, ok := <-jobs:
			if !ok {
				log.Debug().Msg("job channel closed, worker stopping")
				return
			}
			p.process(ctx, id, log)
		}
	}
}

// process runs Phases A, B and C for a single outbox message id.
func (p *Pool) process(ctx context.Context, id uuid.UUID, log zerolog.Logger) {
	log = log.With().Stringer("outbox_id", id).Logger()

	msg, exhausted, err := p.claimAndRecordAttempt(ctx, id)
	if err != nil {
		log.Error().Err(err).Msg("phase A: claim failed")
		return
	}
	if msg == nil {
		log.Debug().Msg("phase A: row no longer ENQUEUED, skipping")
		return
	}
	if exhausted {
		// A crashed attempt already consumed the last retry; the row was
		// closed during the claim, so only the fallback remains.
		metrics.RecordRetriesExhausted(string(msg.Method))
		log.Warn().Str("method", string(msg.Method)).Msg("retry limit reached before attempt")
		p.synthesizeFallback(ctx, msg, log)
		return
	}

	n, err := p.notifRepo.GetByID(ctx, msg.NotificationID)
	if err != nil {
		log.Error().Err(err).Msg("failed to load owning notification, reopening for retry")
		if rErr := p.outboxRepo.ReopenForRetry(ctx, msg); rErr != nil {
			log.Error().Err(rErr).Msg("CRITICAL: failed to reopen row after load failure")
		}
		return
	}

	if n.IsSent {
		// Another method already won the race. Nothing to send.
		if fErr := p.outboxRepo.MarkTerminalSiblingsSent(ctx, n.ID); fErr != nil {
			log.Error().Err(fErr).Msg("CRITICAL: failed to mark already-sent sibling terminal")
		}
		return
	}

	sendCtx := ctx
	var cancel context.CancelFunc
	if p.cfg.ChannelTimeout > 0 {
		sendCtx, cancel = context.WithTimeout(ctx, p.cfg.ChannelTimeout)
		defer cancel()
	}
	start := time.Now()
	success := p.sender.Send(sendCtx, msg.Method, n, msg.Payload)
	metrics.RecordSendAttempt(string(msg.Method), success, time.Since(start))

	p.settle(ctx, msg, success, log)
}

// claimAndRecordAttempt runs Phase A: lock the row if it is ENQUEUED,
// increment attempt_count and stamp last_attempt, all inside one
// transaction so the lock is held across both statements. A row reclaimed
// after a crash may already sit at its retry limit; it is closed as FAILED
// under the same lock instead of being allowed another live send, keeping
// attempt_count within max_retries.
func (p *Pool) claimAndRecordAttempt(ctx context.Context, id uuid.UUID) (*model.OutboxMessage, bool, error) {
	var claimed *model.OutboxMessage
	var exhausted bool
	err := p.outboxRepo.RunInTx(ctx, func(tx repo.OutboxTx) error {
		msg, err := tx.ClaimForProcessing(ctx, id)
		if err != nil {
			return err
		}
		if msg == nil {
			return nil
		}
		if !msg.CanRetry() {
			if err := tx.FinalizeFailure(ctx, msg, "max retries exceeded"); err != nil {
				return err
			}
			claimed = msg
			exhausted = true
			return nil
		}
		now := time.Now().UTC()
		msg.AttemptCount++
		msg.LastAttempt = &now
		if err := tx.UpdateForAttempt(ctx, msg); err != nil {
			return err
		}
		claimed = msg
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return claimed, exhausted, nil
}

// settle runs Phase C: on success, finalize and let the sibling
// short-circuit fire; on failure, either reopen for another attempt or
// finalize FAILED and synthesize the next fallback row.
func (p *Pool) settle(ctx context.Context, msg *model.OutboxMessage, success bool, log zerolog.Logger) {
	if success {
		if err := p.outboxRepo.FinalizeSuccess(ctx, msg); err != nil {
			log.Error().Err(err).Msg("CRITICAL: failed to finalize successful send")
		}
		log.Info().Str("method", string(msg.Method)).Msg("notification delivered")
		return
	}

	if msg.CanRetry() {
		delay := p.backoff(msg.AttemptCount)
		log.Warn().
			Str("method", string(msg.Method)).
			Int("attempt", msg.AttemptCount).
			Dur("backoff", delay).
			Msg("send failed, waiting out backoff before retry")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			// Leave the row ENQUEUED; the stale-lease path reclaims it once
			// another worker process is running.
			return
		}

		msg.ErrorMessage = "send failed, will retry"
		if err := p.outboxRepo.ReopenForRetry(ctx, msg); err != nil {
			log.Error().Err(err).Msg("CRITICAL: failed to reopen row for retry")
		}
		return
	}

	if err := p.outboxRepo.FinalizeFailure(ctx, msg, "max retries exceeded"); err != nil {
		log.Error().Err(err).Msg("CRITICAL: failed to finalize failed row")
		return
	}
	metrics.RecordRetriesExhausted(string(msg.Method))
	log.Warn().Str("method", string(msg.Method)).Msg("retry budget exhausted")

	p.synthesizeFallback(ctx, msg, log)
}

// synthesizeFallback inserts a PENDING row for the next method in the chain,
// unless the notification has since been sent by a sibling or the chain is
// exhausted.
func (p *Pool) synthesizeFallback(ctx context.Context, msg *model.OutboxMessage, log zerolog.Logger) {
	next, ok := fallback.Next(msg.Method)
	if !ok {
		log.Warn().Str("method", string(msg.Method)).Msg("fallback chain exhausted, notification undelivered")
		return
	}

	fresh, err := p.notifRepo.GetByID(ctx, msg.NotificationID)
	if err != nil {
		log.Error().Err(err).Msg("failed to reload notification before fallback, skipping")
		return
	}
	if fresh.IsSent {
		log.Debug().Msg("notification already sent by a sibling, skipping fallback")
		return
	}

	payload, err := p.buildPayload(ctx, fresh, next)
	if err != nil {
		log.Error().Err(err).Str("next_method", string(next)).Msg("failed to build fallback payload, skipping")
		return
	}

	if _, err := p.outboxRepo.Insert(ctx, msg.NotificationID, next, payload, msg.MaxRetries); err != nil {
		log.Error().Err(err).Str("next_method", string(next)).Msg("CRITICAL: failed to insert fallback row")
		return
	}
	metrics.RecordFallbackSynthesized(string(msg.Method), string(next))
	log.Info().Str("next_method", string(next)).Msg("synthesized fallback row")
}

// backoff computes the exponential retry delay that settle waits out, with
// the row still ENQUEUED, before reopening it to PENDING: base × 2^(attempt-1),
// capped at RetryMaxDelay when that is set.
func (p *Pool) backoff(attempt int) time.Duration {
	base := p.cfg.RetryBaseDelay
	if base <= 0 {
		base = time.Second
	}
	d := time.Duration(float64(base) * math.Pow(2, float64(attempt-1)))
	if p.cfg.RetryMaxDelay > 0 && d > p.cfg.RetryMaxDelay {
		return p.cfg.RetryMaxDelay
	}
	return d
}
