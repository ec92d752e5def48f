package shortterm

import (
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"
)

const (
	// DefaultMaxSessions bounds the number of live sessions.
	DefaultMaxSessions = 1000

	// sweepInterval is how often the background sweep re-runs the
	// overflow check.
	sweepInterval = 5 * time.Minute

	// evictFraction is the share of sessions evicted on overflow.
	evictFraction = 0.1
)

// Manager owns the session-id to store mapping and enforces the
// session bound by least-recently-accessed eviction.
//
// The per-session store serializes its own mutations; the access-time
// index serializes independently under the manager's lock, so eviction
// never observes a half-written session.
type Manager struct {
	mu          sync.Mutex
	sessions    map[string]*Store
	lastAccess  map[string]time.Time
	maxSessions int
	logger      *slog.Logger
	nowFunc     func() time.Time

	stopOnce sync.Once
	stop     chan struct{}
}

// NewManager creates a session manager and starts its background
// sweep. Call Close on shutdown.
func NewManager(maxSessions int, logger *slog.Logger) *Manager {
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}
	if logger == nil {
		logger = slog.Default()
	}

	m := &Manager{
		sessions:    make(map[string]*Store),
		lastAccess:  make(map[string]time.Time),
		maxSessions: maxSessions,
		logger:      logger.With("component", "shortterm"),
		nowFunc:     time.Now,
		stop:        make(chan struct{}),
	}

	go m.sweepLoop()

	return m
}

// GetSession returns the store for id, creating it on first touch and
// updating its access time. If creation would exceed maxSessions, the
// oldest-accessed 10% (rounded up, minimum one) are evicted first.
func (m *Manager) GetSession(id string) *Store {
	m.mu.Lock()
	defer m.mu.Unlock()

	if store, ok := m.sessions[id]; ok {
		m.lastAccess[id] = m.nowFunc()
		return store
	}

	if len(m.sessions) >= m.maxSessions {
		m.evictOldestLocked()
	}

	store := NewStore()
	m.sessions[id] = store
	m.lastAccess[id] = m.nowFunc()
	return store
}

// RemoveSession destroys a session explicitly.
func (m *Manager) RemoveSession(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	delete(m.lastAccess, id)
}

// SessionCount returns the number of live sessions.
func (m *Manager) SessionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Close stops the background sweep and clears all sessions.
func (m *Manager) Close() {
	m.stopOnce.Do(func() { close(m.stop) })

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = make(map[string]*Store)
	m.lastAccess = make(map[string]time.Time)
}

// evictOldestLocked removes the bottom evictFraction of sessions
// (rounded up, minimum one) by oldest access time. Caller holds mu.
func (m *Manager) evictOldestLocked() {
	n := int(math.Ceil(float64(len(m.sessions)) * evictFraction))
	if n < 1 {
		n = 1
	}

	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return m.lastAccess[ids[i]].Before(m.lastAccess[ids[j]])
	})

	if n > len(ids) {
		n = len(ids)
	}
	for _, id := range ids[:n] {
		delete(m.sessions, id)
		delete(m.lastAccess, id)
	}

	m.logger.Debug("evicted least-recently-used sessions", "count", n)
}

func (m *Manager) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.mu.Lock()
			if len(m.sessions) > m.maxSessions {
				m.evictOldestLocked()
			}
			m.mu.Unlock()
		}
	}
}
