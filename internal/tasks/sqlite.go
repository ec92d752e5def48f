package tasks

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/strandlabs/strand/pkg/models"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

// SQLiteStore is a Store backed by a SQLite database file.
// Dependencies are stored as a JSON-encoded ID array.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path and applies
// the schema. Use ":memory:" for an ephemeral database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	s := &SQLiteStore{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			description TEXT NOT NULL,
			status TEXT NOT NULL,
			dependencies TEXT NOT NULL,
			result TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create tasks table: %w", err)
	}
	if _, err := s.db.Exec("CREATE INDEX IF NOT EXISTS idx_tasks_session ON tasks(session_id)"); err != nil {
		return fmt.Errorf("create session index: %w", err)
	}
	return nil
}

func (s *SQLiteStore) CreateTask(ctx context.Context, sessionID, description string, deps []string) (string, error) {
	for _, dep := range deps {
		depTask, err := s.GetTask(ctx, dep)
		if err != nil {
			return "", fmt.Errorf("dependency %s: %w", dep, ErrTaskNotFound)
		}
		if depTask.SessionID != sessionID {
			return "", fmt.Errorf("dependency %s: %w", dep, ErrCrossSessionDependency)
		}
	}

	depsJSON, err := json.Marshal(deps)
	if err != nil {
		return "", fmt.Errorf("marshal dependencies: %w", err)
	}

	id := uuid.NewString()
	now := time.Now()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, session_id, description, status, dependencies, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, id, sessionID, description, string(models.TaskPending), string(depsJSON), now, now)
	if err != nil {
		return "", fmt.Errorf("insert task: %w", err)
	}
	return id, nil
}

func (s *SQLiteStore) GetTask(ctx context.Context, id string) (*models.Task, error) {
	task, err := scanTask(s.db.QueryRowContext(ctx,
		"SELECT "+taskColumns+" FROM tasks WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return task, nil
}

func (s *SQLiteStore) GetTasks(ctx context.Context, sessionID string) ([]*models.Task, error) {
	return s.queryTasks(ctx,
		"SELECT "+taskColumns+" FROM tasks WHERE session_id = ? ORDER BY created_at, id", sessionID)
}

func (s *SQLiteStore) UpdateStatus(ctx context.Context, id string, status models.TaskStatus, result, errMsg string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET
			status = ?,
			result = CASE WHEN ? != '' THEN ? ELSE result END,
			error = CASE WHEN ? != '' THEN ? ELSE error END,
			updated_at = ?
		WHERE id = ?
	`, string(status), result, result, errMsg, errMsg, time.Now(), id)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return nil
}

func (s *SQLiteStore) ClaimTask(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE tasks SET status = ?, updated_at = ? WHERE id = ? AND status = ?",
		string(models.TaskRunning), time.Now(), id, string(models.TaskPending))
	if err != nil {
		return false, fmt.Errorf("claim task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim task: %w", err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) GetReadyTasks(ctx context.Context, sessionID string) ([]*models.Task, error) {
	tasks, err := s.GetTasks(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*models.Task, len(tasks))
	for _, task := range tasks {
		byID[task.ID] = task
	}

	var ready []*models.Task
	for _, task := range tasks {
		if isReady(task, byID) {
			ready = append(ready, task)
		}
	}
	return ready, nil
}

func (s *SQLiteStore) GetDAG(ctx context.Context, sessionID string) (*models.DAG, error) {
	tasks, err := s.GetTasks(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return buildDAG(tasks), nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const taskColumns = "id, session_id, description, status, dependencies, result, error, created_at, updated_at"

func (s *SQLiteStore) queryTasks(ctx context.Context, query string, args ...any) ([]*models.Task, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var out []*models.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, task)
	}
	return out, rows.Err()
}

type taskScanner interface {
	Scan(dest ...any) error
}

func scanTask(row taskScanner) (*models.Task, error) {
	var task models.Task
	var status, depsJSON string

	err := row.Scan(
		&task.ID,
		&task.SessionID,
		&task.Description,
		&status,
		&depsJSON,
		&task.Result,
		&task.Error,
		&task.CreatedAt,
		&task.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	task.Status = models.TaskStatus(status)
	if err := json.Unmarshal([]byte(depsJSON), &task.Dependencies); err != nil {
		return nil, fmt.Errorf("unmarshal dependencies: %w", err)
	}
	return &task, nil
}
