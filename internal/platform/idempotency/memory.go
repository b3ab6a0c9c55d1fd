package idempotency

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	fingerprint string
	done        bool
	response    Response
	expiresAt   time.Time
}

// MemoryStore keeps claims in process memory. Expired entries are replaced lazily.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
}

// NewMemoryStore constructs an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry)}
}

// Claim implements Store.
func (s *MemoryStore) Claim(_ context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok || !now.Before(entry.expiresAt) {
		s.entries[key] = memoryEntry{fingerprint: fingerprint, expiresAt: now.Add(ttl)}
		return Claim{State: StateClaimed}, nil
	}
	if entry.fingerprint != fingerprint {
		return Claim{}, ErrFingerprintMismatch
	}
	if entry.done {
		return Claim{State: StateReplay, Response: entry.response}, nil
	}
	return Claim{State: StateInFlight}, nil
}

// Complete implements Store.
func (s *MemoryStore) Complete(_ context.Context, key string, resp Response, now time.Time, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.entries[key]
	entry.done = true
	entry.response = Response{
		Status:  resp.Status,
		Headers: resp.Headers,
		Body:    append([]byte(nil), resp.Body...),
	}
	entry.expiresAt = now.Add(ttl)
	s.entries[key] = entry
	return nil
}

// Abandon implements Store.
func (s *MemoryStore) Abandon(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}
