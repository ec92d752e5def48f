package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/strandlabs/strand/pkg/models"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

// SQLiteRepo is a Repo backed by a SQLite database file. Embeddings are
// stored as JSON-encoded float arrays.
type SQLiteRepo struct {
	db *sql.DB
}

// NewSQLiteRepo opens (or creates) the database at path and applies the
// schema. Use ":memory:" for an ephemeral database.
func NewSQLiteRepo(path string) (*SQLiteRepo, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	r := &SQLiteRepo{db: db}
	if err := r.init(); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

func (r *SQLiteRepo) init() error {
	_, err := r.db.Exec(`
		CREATE TABLE IF NOT EXISTS memories (
			id TEXT PRIMARY KEY,
			key TEXT UNIQUE,
			content TEXT NOT NULL,
			embedding TEXT,
			metadata TEXT,
			session_id TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create memories table: %w", err)
	}
	if _, err := r.db.Exec("CREATE INDEX IF NOT EXISTS idx_memories_session ON memories(session_id)"); err != nil {
		return fmt.Errorf("create session index: %w", err)
	}
	return nil
}

func (r *SQLiteRepo) Put(ctx context.Context, entry *models.MemoryEntry) error {
	metadata, err := json.Marshal(entry.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	var embedding sql.NullString
	if len(entry.Embedding) > 0 {
		data, err := json.Marshal(entry.Embedding)
		if err != nil {
			return fmt.Errorf("marshal embedding: %w", err)
		}
		embedding = sql.NullString{String: string(data), Valid: true}
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO memories (id, key, content, embedding, metadata, session_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			content = excluded.content,
			embedding = excluded.embedding,
			metadata = excluded.metadata,
			session_id = excluded.session_id,
			updated_at = excluded.updated_at
	`,
		entry.ID,
		nullString(entry.Key),
		entry.Content,
		embedding,
		string(metadata),
		nullString(entry.SessionID),
		entry.CreatedAt,
		entry.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("put entry: %w", err)
	}
	return nil
}

func (r *SQLiteRepo) GetByID(ctx context.Context, id string) (*models.MemoryEntry, error) {
	return r.queryOne(ctx, "SELECT "+entryColumns+" FROM memories WHERE id = ?", id)
}

func (r *SQLiteRepo) GetByKey(ctx context.Context, key string) (*models.MemoryEntry, error) {
	return r.queryOne(ctx, "SELECT "+entryColumns+" FROM memories WHERE key = ?", key)
}

func (r *SQLiteRepo) Delete(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, "DELETE FROM memories WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("delete entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete entry: %w", err)
	}
	return n > 0, nil
}

func (r *SQLiteRepo) ListEmbedded(ctx context.Context) ([]*models.MemoryEntry, error) {
	return r.queryMany(ctx, "SELECT "+entryColumns+" FROM memories WHERE embedding IS NOT NULL")
}

func (r *SQLiteRepo) SearchContent(ctx context.Context, query string, limit int) ([]*models.MemoryEntry, error) {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	return r.queryMany(ctx,
		"SELECT "+entryColumns+" FROM memories WHERE content LIKE ? ESCAPE '\\' ORDER BY updated_at DESC LIMIT ?",
		"%"+escapeLike(query)+"%", limit)
}

func (r *SQLiteRepo) BySession(ctx context.Context, sessionID string) ([]*models.MemoryEntry, error) {
	return r.queryMany(ctx,
		"SELECT "+entryColumns+" FROM memories WHERE session_id = ? ORDER BY created_at DESC",
		sessionID)
}

func (r *SQLiteRepo) Close() error {
	return r.db.Close()
}

const entryColumns = "id, key, content, embedding, metadata, session_id, created_at, updated_at"

func (r *SQLiteRepo) queryOne(ctx context.Context, query string, args ...any) (*models.MemoryEntry, error) {
	entry, err := scanMemoryEntry(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (r *SQLiteRepo) queryMany(ctx context.Context, query string, args ...any) ([]*models.MemoryEntry, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	var out []*models.MemoryEntry
	for rows.Next() {
		entry, err := scanMemoryEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMemoryEntry(row rowScanner) (*models.MemoryEntry, error) {
	var entry models.MemoryEntry
	var key, embedding, sessionID sql.NullString
	var metadataJSON string

	err := row.Scan(
		&entry.ID,
		&key,
		&entry.Content,
		&embedding,
		&metadataJSON,
		&sessionID,
		&entry.CreatedAt,
		&entry.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	entry.Key = key.String
	entry.SessionID = sessionID.String
	if embedding.Valid {
		if err := json.Unmarshal([]byte(embedding.String), &entry.Embedding); err != nil {
			return nil, fmt.Errorf("unmarshal embedding: %w", err)
		}
	}
	if metadataJSON != "" && metadataJSON != "null" {
		if err := json.Unmarshal([]byte(metadataJSON), &entry.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return &entry, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// escapeLike keeps user-supplied queries from acting as LIKE patterns.
func escapeLike(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '%', '_', '\\':
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}
