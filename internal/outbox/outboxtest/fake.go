// Package outboxtest provides in-memory fakes of the repository interfaces
// so the scheduler and worker packages can be exercised without a database.
package outboxtest

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arterny/outboxed/internal/domain/model"
	repo "github.com/arterny/outboxed/internal/domain/repository"
)

// OutboxRepository is an in-memory repo.OutboxRepository guarded by a single
// mutex, standing in for PostgreSQL's row locks. RunInTx takes the same lock
// for the whole callback, mirroring a real transaction holding row locks for
// its duration.
type OutboxRepository struct {
	mu     sync.Mutex
	rows   map[uuid.UUID]*model.OutboxMessage
	notifs *NotificationRepository
}

// NewOutboxRepository creates an empty fake outbox store. notifs may be nil
// if the test never asserts on notification.is_sent; when set, a successful
// finalize also flips the owning notification's is_sent flag, mirroring the
// single cross-table transaction the real postgres repository runs.
func NewOutboxRepository(notifs *NotificationRepository) *OutboxRepository {
	return &OutboxRepository{rows: make(map[uuid.UUID]*model.OutboxMessage), notifs: notifs}
}

var _ repo.OutboxRepository = (*OutboxRepository)(nil)

func clone(m *model.OutboxMessage) *model.OutboxMessage {
	cp := *m
	return &cp
}

// Seed inserts a row directly, bypassing Insert's defaulting, for test setup.
func (r *OutboxRepository) Seed(m *model.OutboxMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[m.ID] = clone(m)
}

// All returns every row, for assertions.
func (r *OutboxRepository) All() []*model.OutboxMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*model.OutboxMessage, 0, len(r.rows))
	for _, m := range r.rows {
		out = append(out, clone(m))
	}
	return out
}

func (r *OutboxRepository) Insert(_ context.Context, notificationID uuid.UUID, method model.Method, payload model.Payload, maxRetries int) (*model.OutboxMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := model.NewOutboxMessage(notificationID, method, payload, maxRetries)
	r.rows[m.ID] = clone(m)
	return clone(m), nil
}

func (r *OutboxRepository) ClaimPendingBatch(_ context.Context, limit int, staleLease time.Duration) ([]*model.OutboxMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	type keyed struct {
		id uuid.UUID
		ts time.Time
	}
	var eligible []keyed
	now := time.Now().UTC()
	for id, m := range r.rows {
		if m.Status == model.StatusPending || (m.Status == model.StatusEnqueued && now.Sub(m.StatusChangedAt) >= staleLease) {
			eligible = append(eligible, keyed{id, m.CreatedAt})
		}
	}
	for i := 0; i < len(eligible); i++ {
		for j := i + 1; j < len(eligible); j++ {
			if eligible[j].ts.Before(eligible[i].ts) {
				eligible[i], eligible[j] = eligible[j], eligible[i]
			}
		}
	}
	if len(eligible) > limit {
		eligible = eligible[:limit]
	}

	var claimed []*model.OutboxMessage
	for _, k := range eligible {
		m := r.rows[k.id]
		m.Status = model.StatusEnqueued
		m.StatusChangedAt = now
		m.UpdatedAt = now
		claimed = append(claimed, clone(m))
	}
	return claimed, nil
}

func (r *OutboxRepository) ClaimForProcessing(_ context.Context, id uuid.UUID) (*model.OutboxMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.rows[id]
	if !ok || m.Status != model.StatusEnqueued {
		return nil, nil
	}
	return clone(m), nil
}

func (r *OutboxRepository) UpdateForAttempt(_ context.Context, msg *model.OutboxMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.rows[msg.ID]
	if !ok {
		return repo.ErrNotFound
	}
	m.AttemptCount = msg.AttemptCount
	m.LastAttempt = msg.LastAttempt
	m.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *OutboxRepository) ReopenForRetry(_ context.Context, msg *model.OutboxMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.rows[msg.ID]
	if !ok {
		return repo.ErrNotFound
	}
	if m.Status == model.StatusSent || m.Status == model.StatusFailed {
		return nil
	}
	now := time.Now().UTC()
	m.Status = model.StatusPending
	m.StatusChangedAt = now
	m.UpdatedAt = now
	m.ErrorMessage = msg.ErrorMessage
	return nil
}

func (r *OutboxRepository) FinalizeSuccess(_ context.Context, msg *model.OutboxMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finalizeSuccessLocked(msg)
}

func (r *OutboxRepository) finalizeSuccessLocked(msg *model.OutboxMessage) error {
	m, ok := r.rows[msg.ID]
	if !ok {
		return repo.ErrNotFound
	}
	now := time.Now().UTC()
	m.Status = model.StatusSent
	m.StatusChangedAt = now
	m.UpdatedAt = now

	if r.notifs != nil {
		r.notifs.MarkSent(msg.NotificationID)
	}

	for id, sib := range r.rows {
		if id == msg.ID || sib.NotificationID != msg.NotificationID {
			continue
		}
		if sib.Status.Terminal() {
			continue
		}
		sib.Status = model.StatusSent
		sib.StatusChangedAt = now
		sib.UpdatedAt = now
	}
	return nil
}

func (r *OutboxRepository) FinalizeFailure(_ context.Context, msg *model.OutboxMessage, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.rows[msg.ID]
	if !ok {
		return repo.ErrNotFound
	}
	if m.Status.Terminal() {
		return nil
	}
	now := time.Now().UTC()
	m.Status = model.StatusFailed
	m.StatusChangedAt = now
	m.UpdatedAt = now
	m.ErrorMessage = reason
	return nil
}

func (r *OutboxRepository) MarkTerminalSiblingsSent(_ context.Context, notificationID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	for _, m := range r.rows {
		if m.NotificationID != notificationID || m.Status.Terminal() {
			continue
		}
		m.Status = model.StatusSent
		m.StatusChangedAt = now
		m.UpdatedAt = now
	}
	return nil
}

func (r *OutboxRepository) GetByID(_ context.Context, id uuid.UUID) (*model.OutboxMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.rows[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return clone(m), nil
}

func (r *OutboxRepository) ListByNotification(_ context.Context, notificationID uuid.UUID) ([]*model.OutboxMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.OutboxMessage
	for _, m := range r.rows {
		if m.NotificationID == notificationID {
			out = append(out, clone(m))
		}
	}
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].CreatedAt.Before(out[i].CreatedAt) {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out, nil
}

func (r *OutboxRepository) RunInTx(ctx context.Context, fn func(repo.OutboxTx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(&fakeTx{r: r})
}

// fakeTx re-exposes OutboxRepository's unlocked mutators while the caller
// already holds r.mu, mirroring a single open *sql.Tx holding its row locks.
type fakeTx struct {
	r *OutboxRepository
}

func (t *fakeTx) ClaimForProcessing(_ context.Context, id uuid.UUID) (*model.OutboxMessage, error) {
	m, ok := t.r.rows[id]
	if !ok || m.Status != model.StatusEnqueued {
		return nil, nil
	}
	return clone(m), nil
}

func (t *fakeTx) UpdateForAttempt(_ context.Context, msg *model.OutboxMessage) error {
	m, ok := t.r.rows[msg.ID]
	if !ok {
		return repo.ErrNotFound
	}
	m.AttemptCount = msg.AttemptCount
	m.LastAttempt = msg.LastAttempt
	m.UpdatedAt = time.Now().UTC()
	return nil
}

func (t *fakeTx) ReopenForRetry(_ context.Context, msg *model.OutboxMessage) error {
	m, ok := t.r.rows[msg.ID]
	if !ok {
		return repo.ErrNotFound
	}
	if m.Status.Terminal() {
		return nil
	}
	now := time.Now().UTC()
	m.Status = model.StatusPending
	m.StatusChangedAt = now
	m.UpdatedAt = now
	m.ErrorMessage = msg.ErrorMessage
	return nil
}

func (t *fakeTx) FinalizeSuccess(_ context.Context, msg *model.OutboxMessage) error {
	return t.r.finalizeSuccessLocked(msg)
}

func (t *fakeTx) FinalizeFailure(_ context.Context, msg *model.OutboxMessage, reason string) error {
	m, ok := t.r.rows[msg.ID]
	if !ok {
		return repo.ErrNotFound
	}
	if m.Status.Terminal() {
		return nil
	}
	now := time.Now().UTC()
	m.Status = model.StatusFailed
	m.StatusChangedAt = now
	m.UpdatedAt = now
	m.ErrorMessage = reason
	return nil
}

func (t *fakeTx) MarkTerminalSiblingsSent(_ context.Context, notificationID uuid.UUID) error {
	now := time.Now().UTC()
	for _, m := range t.r.rows {
		if m.NotificationID != notificationID || m.Status.Terminal() {
			continue
		}
		m.Status = model.StatusSent
		m.StatusChangedAt = now
		m.UpdatedAt = now
	}
	return nil
}

func (t *fakeTx) Insert(_ context.Context, notificationID uuid.UUID, method model.Method, payload model.Payload, maxRetries int) (*model.OutboxMessage, error) {
	m := model.NewOutboxMessage(notificationID, method, payload, maxRetries)
	t.r.rows[m.ID] = clone(m)
	return clone(m), nil
}

// NotificationRepository is an in-memory repo.NotificationRepository.
type NotificationRepository struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*model.Notification
}

var _ repo.NotificationRepository = (*NotificationRepository)(nil)

// NewNotificationRepository creates an empty fake notification store.
func NewNotificationRepository() *NotificationRepository {
	return &NotificationRepository{rows: make(map[uuid.UUID]*model.Notification)}
}

// Seed inserts a notification directly for test setup.
func (r *NotificationRepository) Seed(n *model.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *n
	r.rows[n.ID] = &cp
}

func (r *NotificationRepository) Create(_ context.Context, n *model.Notification, methods []model.Method, build repo.PayloadBuilder) (*model.Notification, []*model.OutboxMessage, error) {
	r.mu.Lock()
	cp := *n
	r.rows[n.ID] = &cp
	r.mu.Unlock()
	return n, nil, nil
}

func (r *NotificationRepository) GetByID(_ context.Context, id uuid.UUID) (*model.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.rows[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	cp := *n
	return &cp, nil
}

func (r *NotificationRepository) Cancel(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[id]; !ok {
		return repo.ErrNotFound
	}
	delete(r.rows, id)
	return nil
}

func (r *NotificationRepository) Stats(_ context.Context) (model.Stats, error) {
	return model.Stats{}, nil
}

// MarkSent flips is_sent for notification id, simulating what the real
// postgres FinalizeSuccess does transactionally alongside the outbox update.
func (r *NotificationRepository) MarkSent(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n, ok := r.rows[id]; ok {
		n.IsSent = true
	}
}

// ChannelSender is a scripted fake satisfying repo.ChannelSender: each call
// to Send consumes the next result from its queue for the given method, or
// returns false once that queue is empty.
type ChannelSender struct {
	mu      sync.Mutex
	results map[model.Method][]bool
	calls   int
}

var _ repo.ChannelSender = (*ChannelSender)(nil)

// NewChannelSender creates a sender with no scripted results (always fails
// unless configured via Script).
func NewChannelSender() *ChannelSender {
	return &ChannelSender{results: make(map[model.Method][]bool)}
}

// Script queues outcomes to return, in order, for method.
func (s *ChannelSender) Script(method model.Method, outcomes ...bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[method] = append(s.results[method], outcomes...)
}

// Calls returns the number of times Send was invoked.
func (s *ChannelSender) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *ChannelSender) Send(_ context.Context, method model.Method, _ *model.Notification, _ model.Payload) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	q := s.results[method]
	if len(q) == 0 {
		return false
	}
	next := q[0]
	s.results[method] = q[1:]
	return next
}
