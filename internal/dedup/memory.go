package dedup

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process TTL set of event ids.
type MemoryStore struct {
	mu      sync.Mutex
	expires map[string]time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{expires: make(map[string]time.Time)}
}

// Claim checks and records id under one lock.
func (m *MemoryStore) Claim(_ context.Context, id string, now time.Time, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if exp, ok := m.expires[id]; ok && now.Before(exp) {
		return false, nil
	}
	m.expires[id] = now.Add(ttl)
	return true, nil
}

func (m *MemoryStore) Seen(_ context.Context, id string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	exp, ok := m.expires[id]
	return ok && now.Before(exp), nil
}

// Purge removes expired ids. Call periodically.
func (m *MemoryStore) Purge(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for id, exp := range m.expires {
		if !now.Before(exp) {
			delete(m.expires, id)
			n++
		}
	}
	return n, nil
}

// Len returns the number of ids currently held, expired or not.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.expires)
}
