package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store with the same semantics as the
// file and redis backends. It backs local development runs and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	data      []byte
	updatedAt time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry)}
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[key]
	if !ok {
		return nil, time.Time{}, ErrNotFound
	}
	// Copy so callers cannot mutate the stored document.
	out := make([]byte, len(e.data))
	copy(out, e.data)
	return out, e.updatedAt, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, data []byte) error {
	in := make([]byte, len(data))
	copy(in, data)

	s.mu.Lock()
	s.entries[key] = memoryEntry{data: in, updatedAt: time.Now()}
	s.mu.Unlock()
	return nil
}
