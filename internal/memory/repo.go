package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/strandlabs/strand/pkg/models"
)

// Repo is the persistence boundary for long-term memory entries.
// Implementations index entries by ID, by Key, and by SessionID.
type Repo interface {
	// Put inserts the entry, or replaces the existing row when an entry
	// with the same Key already exists (upsert by key). Entries without
	// a key are always inserted.
	Put(ctx context.Context, entry *models.MemoryEntry) error

	// GetByID returns the entry, or nil when absent.
	GetByID(ctx context.Context, id string) (*models.MemoryEntry, error)

	// GetByKey returns the entry with the given key, or nil when absent.
	GetByKey(ctx context.Context, key string) (*models.MemoryEntry, error)

	// Delete removes the entry and reports whether a row was removed.
	Delete(ctx context.Context, id string) (bool, error)

	// ListEmbedded returns all entries that carry a non-nil embedding.
	ListEmbedded(ctx context.Context) ([]*models.MemoryEntry, error)

	// SearchContent returns entries whose content contains the query
	// (case-insensitive), ordered by most recent update, limited.
	SearchContent(ctx context.Context, query string, limit int) ([]*models.MemoryEntry, error)

	// BySession returns entries tagged with the session, newest first.
	BySession(ctx context.Context, sessionID string) ([]*models.MemoryEntry, error)

	Close() error
}

// MemoryRepo is an in-memory Repo for tests and single-process use.
type MemoryRepo struct {
	mu      sync.RWMutex
	entries map[string]*models.MemoryEntry // by ID
	byKey   map[string]string              // key -> ID
}

// NewMemoryRepo creates an empty in-memory repo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		entries: make(map[string]*models.MemoryEntry),
		byKey:   make(map[string]string),
	}
}

func (r *MemoryRepo) Put(_ context.Context, entry *models.MemoryEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := cloneEntry(entry)
	if e.Key != "" {
		if prevID, ok := r.byKey[e.Key]; ok && prevID != e.ID {
			if prev, ok := r.entries[prevID]; ok {
				e.ID = prev.ID
				e.CreatedAt = prev.CreatedAt
				delete(r.entries, prevID)
			}
		}
		r.byKey[e.Key] = e.ID
	}
	r.entries[e.ID] = e
	return nil
}

func (r *MemoryRepo) GetByID(_ context.Context, id string) (*models.MemoryEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneEntry(r.entries[id]), nil
}

func (r *MemoryRepo) GetByKey(_ context.Context, key string) (*models.MemoryEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byKey[key]
	if !ok {
		return nil, nil
	}
	return cloneEntry(r.entries[id]), nil
}

func (r *MemoryRepo) Delete(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[id]
	if !ok {
		return false, nil
	}
	if entry.Key != "" {
		delete(r.byKey, entry.Key)
	}
	delete(r.entries, id)
	return true, nil
}

func (r *MemoryRepo) ListEmbedded(_ context.Context) ([]*models.MemoryEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*models.MemoryEntry
	for _, e := range r.entries {
		if len(e.Embedding) > 0 {
			out = append(out, cloneEntry(e))
		}
	}
	return out, nil
}

func (r *MemoryRepo) SearchContent(_ context.Context, query string, limit int) ([]*models.MemoryEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	q := strings.ToLower(query)
	var out []*models.MemoryEntry
	for _, e := range r.entries {
		if strings.Contains(strings.ToLower(e.Content), q) {
			out = append(out, cloneEntry(e))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepo) BySession(_ context.Context, sessionID string) ([]*models.MemoryEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*models.MemoryEntry
	for _, e := range r.entries {
		if e.SessionID == sessionID {
			out = append(out, cloneEntry(e))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (r *MemoryRepo) Close() error { return nil }

func cloneEntry(e *models.MemoryEntry) *models.MemoryEntry {
	if e == nil {
		return nil
	}
	clone := *e
	if e.Embedding != nil {
		clone.Embedding = make([]float32, len(e.Embedding))
		copy(clone.Embedding, e.Embedding)
	}
	if e.Metadata != nil {
		clone.Metadata = make(map[string]any, len(e.Metadata))
		for k, v := range e.Metadata {
			clone.Metadata[k] = v
		}
	}
	return &clone
}

// touchTimestamps fills in creation and update times on write.
func touchTimestamps(e *models.MemoryEntry, now time.Time) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now
}
