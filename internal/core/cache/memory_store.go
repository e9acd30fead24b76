package cache

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/markdave123-py/documind/internal/core"
	"github.com/markdave123-py/documind/internal/models"
)

var _ core.CacheStore = (*MemoryStore)(nil)

// MemoryStore keeps entries in a map. Expired entries stay until read past expiry or evicted.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]models.CacheEntry
	closed  bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]models.CacheEntry)}
}

func (s *MemoryStore) Get(_ context.Context, key string) (*models.CacheEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, core.ErrCacheUnavailable
	}
	e, ok := s.entries[key]
	if !ok {
		return nil, nil
	}
	e.Sources = slices.Clone(e.Sources)
	return &e, nil
}

func (s *MemoryStore) Set(_ context.Context, entry *models.CacheEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return core.ErrCacheUnavailable
	}
	e := *entry
	e.Sources = slices.Clone(entry.Sources)
	s.entries[e.Key] = e
	return nil
}

func (s *MemoryStore) DeletePrefix(_ context.Context, prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return core.ErrCacheUnavailable
	}
	for k := range s.entries {
		if strings.HasPrefix(k, prefix) {
			delete(s.entries, k)
		}
	}
	return nil
}

func (s *MemoryStore) EvictExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, core.ErrCacheUnavailable
	}
	n := 0
	for k, e := range s.entries {
		if e.Expired(now) {
			delete(s.entries, k)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored entries, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.entries = nil
	return nil
}
