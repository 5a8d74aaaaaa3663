// Package directory provides the fixed user-contact lookup collaborator the
// payload builder resolves recipients through. Contact data is owned by an
// external user-profile store; this static map stands in for it.
package directory

import (
	"context"
	"sync"

	"github.com/arterny/outboxed/internal/domain/repository"
)

var _ repository.ContactDirectory = (*Static)(nil)

// Contact holds the per-channel recipient details for one user.
type Contact struct {
	Email          string
	Phone          string
	TelegramChatID int64
}

// Static is an in-memory ContactDirectory keyed by user id. It is safe for
// concurrent reads; Put is provided for tests and for seeding at startup.
type Static struct {
	mu       sync.RWMutex
	contacts map[int64]Contact
}

// NewStatic creates a directory seeded with the given contacts.
func NewStatic(seed map[int64]Contact) *Static {
	contacts := make(map[int64]Contact, len(seed))
	for k, v := range seed {
		contacts[k] = v
	}
	return &Static{contacts: contacts}
}

// Put registers or replaces the contact details for userID.
func (s *Static) Put(userID int64, c Contact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contacts[userID] = c
}

func (s *Static) Email(_ context.Context, userID int64) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contacts[userID]
	if !ok || c.Email == "" {
		return "", false
	}
	return c.Email, true
}

func (s *Static) Phone(_ context.Context, userID int64) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contacts[userID]
	if !ok || c.Phone == "" {
		return "", false
	}
	return c.Phone, true
}

func (s *Static) TelegramChatID(_ context.Context, userID int64) (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contacts[userID]
	if !ok || c.TelegramChatID == 0 {
		return 0, false
	}
	return c.TelegramChatID, true
}
