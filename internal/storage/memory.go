package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dgellow/gh-oauth-relay/internal/crypto"
)

// MemoryStore keeps issued states in process memory. States are single-use
// and expire after the configured TTL. Only suitable for a single replica.
type MemoryStore struct {
	mu     sync.Mutex
	states map[string]time.Time // stateKey -> expiry
	ttl    time.Duration
	now    func() time.Time
}

var (
	_ StateStore = (*MemoryStore)(nil)
	_ Cleaner    = (*MemoryStore)(nil)
)

// NewMemoryStore creates an in-memory state store
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		states: make(map[string]time.Time),
		ttl:    ttl,
		now:    time.Now,
	}
}

func (s *MemoryStore) Kind() string { return "memory" }

// Issue stores and returns a fresh random state.
func (s *MemoryStore) Issue(context.Context) (string, error) {
	state, err := crypto.GenerateSecureToken()
	if err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}

	s.mu.Lock()
	s.states[stateKey(state)] = s.now().Add(s.ttl)
	s.mu.Unlock()

	return state, nil
}

// Verify consumes the state (one-time use)
func (s *MemoryStore) Verify(_ context.Context, state string) error {
	if state == "" {
		return ErrStateMissing
	}
	key := stateKey(state)

	s.mu.Lock()
	defer s.mu.Unlock()

	expiresAt, ok := s.states[key]
	if !ok {
		return ErrStateNotFound
	}
	delete(s.states, key)

	if s.now().After(expiresAt) {
		return ErrStateExpired
	}
	return nil
}

// CleanupExpired drops expired states and reports how many were removed.
func (s *MemoryStore) CleanupExpired(context.Context) (int, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for key, expiresAt := range s.states {
		if now.After(expiresAt) {
			delete(s.states, key)
			count++
		}
	}
	return count, nil
}

// Len returns the number of outstanding states.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.states)
}
