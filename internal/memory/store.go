// Package memory provides the long-term memory store: keyed values,
// free-form remembered content, and vector similarity recall.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/strandlabs/strand/internal/llm"
	"github.com/strandlabs/strand/pkg/models"
)

// DefaultSearchLimit bounds Search results when the caller passes 0.
const DefaultSearchLimit = 5

// metaEncoding marks entries whose content is a JSON-encoded value
// rather than a plain string.
const metaEncoding = "encoding"

// Store is the long-term memory store. An embedder is optional; without
// one, Search degrades to substring matching.
type Store struct {
	repo     Repo
	embedder llm.Embedder
	logger   *slog.Logger
}

// NewStore creates a store over the given repo. embedder may be nil.
func NewStore(repo Repo, embedder llm.Embedder, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		repo:     repo,
		embedder: embedder,
		logger:   logger.With("component", "memory"),
	}
}

// Get returns the decoded value stored under key. The second return is
// false when the key is absent.
func (s *Store) Get(ctx context.Context, key string) (any, bool, error) {
	entry, err := s.repo.GetByKey(ctx, key)
	if err != nil {
		return nil, false, fmt.Errorf("get %q: %w", key, err)
	}
	if entry == nil {
		return nil, false, nil
	}
	if enc, _ := entry.Metadata[metaEncoding].(string); enc == "json" {
		var value any
		if err := json.Unmarshal([]byte(entry.Content), &value); err != nil {
			return nil, false, fmt.Errorf("decode %q: %w", key, err)
		}
		return value, true, nil
	}
	return entry.Content, true, nil
}

// Set upserts value under key. Non-string values are JSON-encoded. An
// embedder failure is logged and the value is stored without a vector.
func (s *Store) Set(ctx context.Context, key string, value any) error {
	content, meta, err := encodeValue(value)
	if err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}

	entry := &models.MemoryEntry{
		ID:       uuid.NewString(),
		Key:      key,
		Content:  content,
		Metadata: meta,
	}
	entry.Embedding = s.embed(ctx, content)
	touchTimestamps(entry, time.Now())

	if err := s.repo.Put(ctx, entry); err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	return nil
}

// Remember inserts free-form content as a new entry and returns its ID.
func (s *Store) Remember(ctx context.Context, content string, metadata map[string]any, sessionID string) (string, error) {
	entry := &models.MemoryEntry{
		ID:        uuid.NewString(),
		Content:   content,
		Metadata:  metadata,
		SessionID: sessionID,
	}
	entry.Embedding = s.embed(ctx, content)
	touchTimestamps(entry, time.Now())

	if err := s.repo.Put(ctx, entry); err != nil {
		return "", fmt.Errorf("remember: %w", err)
	}
	return entry.ID, nil
}

// Forget deletes the entry and reports whether anything was removed.
func (s *Store) Forget(ctx context.Context, id string) (bool, error) {
	removed, err := s.repo.Delete(ctx, id)
	if err != nil {
		return false, fmt.Errorf("forget %s: %w", id, err)
	}
	return removed, nil
}

// Search returns up to limit entries ranked by relevance to query.
// With an embedder it ranks by cosine similarity over embedded entries;
// on embedder failure, or without an embedder, it falls back to a
// substring search ordered by most recent update.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]*models.MemoryResult, error) {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	if s.embedder != nil {
		results, err := s.vectorSearch(ctx, query, limit)
		if err == nil {
			return results, nil
		}
		s.logger.Warn("vector search failed, falling back to substring match", "error", err)
	}

	entries, err := s.repo.SearchContent(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	results := make([]*models.MemoryResult, 0, len(entries))
	for _, e := range entries {
		results = append(results, &models.MemoryResult{Entry: e})
	}
	return results, nil
}

func (s *Store) vectorSearch(ctx context.Context, query string, limit int) ([]*models.MemoryResult, error) {
	vectors, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("embedder returned no vectors")
	}
	queryVec := vectors[0]

	entries, err := s.repo.ListEmbedded(ctx)
	if err != nil {
		return nil, fmt.Errorf("list embedded: %w", err)
	}

	results := make([]*models.MemoryResult, 0, len(entries))
	for _, e := range entries {
		results = append(results, &models.MemoryResult{
			Entry: e,
			Score: cosineSimilarity(queryVec, e.Embedding),
		})
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// embed returns the content's vector, or nil when no embedder is
// configured or embedding fails. Failures never block the write.
func (s *Store) embed(ctx context.Context, content string) []float32 {
	if s.embedder == nil {
		return nil
	}
	vectors, err := s.embedder.Embed(ctx, []string{content})
	if err != nil || len(vectors) == 0 {
		s.logger.Warn("embedding failed, storing entry without vector", "error", err)
		return nil
	}
	return vectors[0]
}

// Close releases the underlying repo.
func (s *Store) Close() error {
	return s.repo.Close()
}

func encodeValue(value any) (string, map[string]any, error) {
	if str, ok := value.(string); ok {
		return str, nil, nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return "", nil, fmt.Errorf("encode value: %w", err)
	}
	return string(data), map[string]any{metaEncoding: "json"}, nil
}
