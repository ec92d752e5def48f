// Package shortterm provides per-session ephemeral key/value storage
// with TTL expiry and an LRU-bounded session manager.
package shortterm

import (
	"sync"
	"time"
)

// entry is a stored value with an optional expiry deadline.
type entry struct {
	value     any
	expiresAt time.Time // zero means no expiry
}

// Store holds one session's key/value pairs. All methods are safe for
// concurrent use. Expired keys behave as absent.
type Store struct {
	mu      sync.RWMutex
	values  map[string]entry
	nowFunc func() time.Time
}

// NewStore creates an empty session store.
func NewStore() *Store {
	return &Store{
		values:  make(map[string]entry),
		nowFunc: time.Now,
	}
}

// Get returns the value for key and whether it is present and
// unexpired.
func (s *Store) Get(key string) (any, bool) {
	s.mu.RLock()
	e, ok := s.values[key]
	s.mu.RUnlock()

	if !ok {
		return nil, false
	}
	if !e.expiresAt.IsZero() && s.nowFunc().After(e.expiresAt) {
		s.mu.Lock()
		// Re-check under the write lock; another Set may have replaced it.
		if cur, ok := s.values[key]; ok && !cur.expiresAt.IsZero() && s.nowFunc().After(cur.expiresAt) {
			delete(s.values, key)
		}
		s.mu.Unlock()
		return nil, false
	}
	return e.value, true
}

// Set writes key unconditionally. A non-positive ttl means the value
// never expires.
func (s *Store) Set(key string, value any, ttl time.Duration) {
	e := entry{value: value}
	if ttl > 0 {
		e.expiresAt = s.nowFunc().Add(ttl)
	}
	s.mu.Lock()
	s.values[key] = e
	s.mu.Unlock()
}

// Delete removes a key.
func (s *Store) Delete(key string) {
	s.mu.Lock()
	delete(s.values, key)
	s.mu.Unlock()
}

// Clear drops all of the session's values.
func (s *Store) Clear() {
	s.mu.Lock()
	s.values = make(map[string]entry)
	s.mu.Unlock()
}

// Len returns the number of stored keys, including not-yet-collected
// expired ones.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}
