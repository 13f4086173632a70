package quota

import (
	"context"
	"sync"

	"keyword-enricher/pkg/keyword"
)

// MemoryStore keeps usage in process memory
type MemoryStore struct {
	mu    sync.RWMutex
	usage map[keyword.Provider]Usage
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{usage: make(map[keyword.Provider]Usage)}
}

func (s *MemoryStore) ReadUsage(ctx context.Context, provider keyword.Provider) (*Usage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.usage[provider]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (s *MemoryStore) WriteUsage(ctx context.Context, usage *Usage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usage[usage.Provider] = *usage
	return nil
}
