// Package memory keeps interaction sessions in process memory. Nothing is
// written to disk; sessions vanish when they end, expire or the process
// exits.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kirillkom/heritage-ocr/internal/core/domain"
)

type Store struct {
	ttl time.Duration
	now func() time.Time

	mu       sync.Mutex
	sessions map[string]*domain.Session
}

type Option func(*Store)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates a store that evicts sessions idle for longer than ttl. A
// non-positive ttl disables eviction.
func New(ttl time.Duration, opts ...Option) *Store {
	s := &Store{
		ttl:      ttl,
		now:      time.Now,
		sessions: make(map[string]*domain.Session),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Create(_ context.Context, session *domain.Session) error {
	if session == nil || session.ID == "" {
		return domain.WrapError(domain.ErrInvalidInput, "session.create", fmt.Errorf("session id is required"))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[session.ID]; exists {
		return domain.WrapError(domain.ErrInvalidInput, "session.create", fmt.Errorf("session %s already exists", session.ID))
	}
	stored := session.Clone()
	now := s.now().UTC()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.LastSeenAt = now
	s.sessions[stored.ID] = stored
	return nil
}

// Get returns a copy of the session and refreshes its idle timer.
func (s *Store) Get(_ context.Context, id string) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, err := s.lookupLocked(id)
	if err != nil {
		return nil, err
	}
	session.LastSeenAt = s.now().UTC()
	return session.Clone(), nil
}

// Update runs fn on a copy of the session and stores the copy only when fn
// succeeds. The session lock is held for the duration of fn, so fn must not
// block on slow calls.
func (s *Store) Update(_ context.Context, id string, fn func(*domain.Session) error) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, err := s.lookupLocked(id)
	if err != nil {
		return nil, err
	}
	next := current.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.ID = current.ID
	next.LastSeenAt = s.now().UTC()
	s.sessions[id] = next
	return next.Clone(), nil
}

func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return domain.WrapError(domain.ErrNotFound, "session.delete", fmt.Errorf("session %s", id))
	}
	delete(s.sessions, id)
	return nil
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Sweep removes every expired session and returns how many were removed.
func (s *Store) Sweep() int {
	if s.ttl <= 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	removed := 0
	for id, session := range s.sessions {
		if s.expired(session, now) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

// Run sweeps on every tick until ctx is done.
func (s *Store) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 || s.ttl <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

func (s *Store) lookupLocked(id string) (*domain.Session, error) {
	session, ok := s.sessions[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "session.get", fmt.Errorf("session %s", id))
	}
	if s.expired(session, s.now()) {
		delete(s.sessions, id)
		return nil, domain.WrapError(domain.ErrNotFound, "session.get", fmt.Errorf("session %s expired", id))
	}
	return session, nil
}

func (s *Store) expired(session *domain.Session, now time.Time) bool {
	return s.ttl > 0 && now.Sub(session.LastSeenAt) > s.ttl
}
