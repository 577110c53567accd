package navigation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pitabwire/storefront/model"
)

// MemorySessionStore is an in-memory SessionStore. Expired sessions are
// dropped lazily on access and by Sweep.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]Session
	now      func() time.Time
}

// NewMemorySessionStore creates a new in-memory session store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{
		sessions: make(map[string]Session),
		now:      time.Now,
	}
}

// Create persists a new session.
func (s *MemorySessionStore) Create(_ context.Context, sess Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, exists := s.sessions[sess.ID]; exists && !existing.Expired(s.now()) {
		return alreadyExists(sess.ID)
	}
	s.sessions[sess.ID] = sess
	return nil
}

// Get retrieves a session by id.
func (s *MemorySessionStore) Get(_ context.Context, id string) (Session, error) {
	s.mu.RLock()
	sess, exists := s.sessions[id]
	s.mu.RUnlock()

	if !exists {
		return Session{}, notFound(id)
	}
	if sess.Expired(s.now()) {
		s.mu.Lock()
		delete(s.sessions, id)
		s.mu.Unlock()
		return Session{}, notFound(id)
	}
	return sess, nil
}

// Update persists a changed session with optimistic locking.
func (s *MemorySessionStore) Update(_ context.Context, sess Session) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.sessions[sess.ID]
	if !exists || existing.Expired(s.now()) {
		return Session{}, notFound(sess.ID)
	}
	if existing.Version != sess.Version {
		return Session{}, versionConflict(sess.ID, sess.Version, existing.Version)
	}

	sess.Version++
	sess.UpdatedAt = s.now().UTC()
	s.sessions[sess.ID] = sess
	return sess, nil
}

// Delete removes a session.
func (s *MemorySessionStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[id]; !exists {
		return notFound(id)
	}
	delete(s.sessions, id)
	return nil
}

// Sweep removes every session expired at cutoff and returns how many were
// removed.
func (s *MemorySessionStore) Sweep(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, sess := range s.sessions {
		if sess.Expired(cutoff) {
			delete(s.sessions, id)
			n++
		}
	}
	return n
}

// Len returns the number of stored sessions, including expired ones. For testing.
func (s *MemorySessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func notFound(id string) error {
	return model.NewNotFoundError(fmt.Sprintf("navigation session %q not found", id))
}

func alreadyExists(id string) error {
	return model.NewConflictError(fmt.Sprintf("navigation session %q already exists", id))
}

func versionConflict(id string, want, got int) error {
	return model.NewConflictError(
		fmt.Sprintf("navigation session %q version conflict (expected %d, got %d)", id, want, got),
	)
}
