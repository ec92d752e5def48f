package models

import "time"

// MemoryEntry is one row of the long-term memory store. Entries with a
// Key are upserted; entries inserted by content alone are append-only
// and receive a fresh ID.
type MemoryEntry struct {
	// ID is the opaque entry identifier.
	ID string `json:"id"`

	// Key is an optional unique lookup key for upsert semantics.
	Key string `json:"key,omitempty"`

	// Content is the remembered text (or a JSON-encoded value).
	Content string `json:"content"`

	// Embedding is the content's vector, nil when no embedder was
	// available or embedding failed.
	Embedding []float32 `json:"embedding,omitempty"`

	// Metadata holds arbitrary entry metadata.
	Metadata map[string]any `json:"metadata,omitempty"`

	// SessionID tags the entry with the session that produced it.
	SessionID string `json:"session_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MemoryResult pairs an entry with its relevance score from a search.
type MemoryResult struct {
	Entry *MemoryEntry `json:"entry"`

	// Score is the cosine similarity for vector search, 0 for
	// substring-fallback matches.
	Score float64 `json:"score"`
}
