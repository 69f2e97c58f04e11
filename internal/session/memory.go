package session

import (
	"context"
	"sync"

	"jarvisdaily/internal/domain"
)

// MemoryStore keeps windows in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	windows map[string]domain.SessionWindow
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{windows: make(map[string]domain.SessionWindow)}
}

func (m *MemoryStore) OpenWindow(_ context.Context, w domain.SessionWindow) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cur, ok := m.windows[w.RecipientID]; ok && !w.OpenedAt.After(cur.OpenedAt) {
		return nil
	}
	m.windows[w.RecipientID] = w
	return nil
}

func (m *MemoryStore) Window(_ context.Context, recipientID string) (*domain.SessionWindow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	w, ok := m.windows[recipientID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &w, nil
}
