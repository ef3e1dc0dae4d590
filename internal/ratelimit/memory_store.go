package ratelimit

import (
	"context"
	"sync"
	"time"
)

// memoryStore is an in-process Store for single-instance deployments
// and tests.
type memoryStore struct {
	mu   sync.Mutex
	hits map[string][]time.Time
}

// NewMemoryStore creates an in-memory Store
func NewMemoryStore() Store {
	return &memoryStore{hits: make(map[string][]time.Time)}
}

func (s *memoryStore) Hit(_ context.Context, key string, window time.Duration, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := now.Add(-window)
	kept := s.hits[key][:0]
	for _, t := range s.hits[key] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	kept = append(kept, now)
	s.hits[key] = kept

	return len(kept), nil
}
