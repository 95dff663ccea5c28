package tokencache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// MemoryStore is an in-process Store. Entries expire lazily on read.
// Concurrent misses for the same key share a single compute call.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	group   singleflight.Group
	now     func() time.Time
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		entries: map[string]memoryEntry{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FetchOrCompute implements Store.
func (s *MemoryStore) FetchOrCompute(ctx context.Context, key string, ttl time.Duration, compute ComputeFunc) (string, error) {
	if value, ok := s.lookup(key); ok {
		return value, nil
	}

	return shared(ctx, &s.group, key, func(ctx context.Context) (string, error) {
		// Another caller may have stored the value while we waited on the group.
		if value, ok := s.lookup(key); ok {
			return value, nil
		}
		value, expiresIn, err := compute(ctx)
		if err != nil {
			return "", err
		}
		s.store(key, value, effectiveTTL(ttl, expiresIn))
		return value, nil
	})
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

// Read returns the unexpired value for key without computing it.
func (s *MemoryStore) Read(key string) (string, bool) {
	return s.lookup(key)
}

// Len reports the number of stored entries, expired ones included.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *MemoryStore) lookup(key string) (string, bool) {
	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return "", false
	}

	if !entry.expiresAt.IsZero() && !s.now().Before(entry.expiresAt) {
		s.mu.Lock()
		if current, still := s.entries[key]; still && current.expiresAt.Equal(entry.expiresAt) {
			delete(s.entries, key)
		}
		s.mu.Unlock()
		return "", false
	}

	return entry.value, true
}

func (s *MemoryStore) store(key, value string, ttl time.Duration) {
	entry := memoryEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = s.now().Add(ttl)
	}

	s.mu.Lock()
	s.entries[key] = entry
	s.mu.Unlock()
}
