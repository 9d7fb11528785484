package idempotency

import (
	"context"
	"sync"
	"time"

	"github.com/smallbiznis/orderlens/pkg/cache"
)

type memoryStore struct {
	mu      sync.Mutex
	entries cache.Cache[string, string]
}

// NewMemoryStore returns an in-process Store. Used when redis is not
// configured, and in tests.
func NewMemoryStore() Store {
	return &memoryStore{entries: cache.NewTTLCache[string, string]()}
}

func (s *memoryStore) Get(_ context.Context, key string) (string, bool, error) {
	value, ok := s.entries.Get(key)
	return value, ok, nil
}

func (s *memoryStore) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries.Get(key); exists {
		return false, nil
	}
	s.entries.Set(key, value, ttl)
	return true, nil
}

func (s *memoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries.Set(key, value, ttl)
	return nil
}

func (s *memoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries.Delete(key)
	return nil
}
