package session

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	value   []byte
	expires time.Time
}

// InMemoryStore is an in-memory implementation of the Store interface.
// Only suitable for single-process deployments.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// NewInMemoryStore creates a new InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		entries: make(map[string]entry),
	}
}

// Upsert stores value under key, replacing any prior value. A ttl of zero
// means no expiry.
func (s *InMemoryStore) Upsert(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var expires time.Time
	if ttl > 0 {
		expires = time.Now().Add(ttl)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = entry{
		value:   append([]byte(nil), value...),
		expires: expires,
	}
	return nil
}

// Get retrieves the value for key. Expired entries are treated as missing;
// removal is left to a Get under write lock or the sweep routine.
func (s *InMemoryStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !e.expires.IsZero() && time.Now().After(e.expires) {
		return nil, false, nil
	}
	return e.value, true, nil
}

// Delete removes the value for key. Deleting a missing key is not an error.
func (s *InMemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

// SweepExpired removes entries whose TTL elapsed before now and reports how
// many were dropped. Called periodically by the background reaper.
func (s *InMemoryStore) SweepExpired(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, e := range s.entries {
		if !e.expires.IsZero() && now.After(e.expires) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}
