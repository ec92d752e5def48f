package tasks

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/strandlabs/strand/pkg/models"
)

// MemoryStore is an in-memory Store for tests and single-process use.
type MemoryStore struct {
	mu    sync.RWMutex
	tasks map[string]*models.Task
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tasks: make(map[string]*models.Task)}
}

func (s *MemoryStore) CreateTask(_ context.Context, sessionID, description string, deps []string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, dep := range deps {
		depTask, ok := s.tasks[dep]
		if !ok {
			return "", fmt.Errorf("dependency %s: %w", dep, ErrTaskNotFound)
		}
		if depTask.SessionID != sessionID {
			return "", fmt.Errorf("dependency %s: %w", dep, ErrCrossSessionDependency)
		}
	}

	now := time.Now()
	task := &models.Task{
		ID:           uuid.NewString(),
		SessionID:    sessionID,
		Description:  description,
		Status:       models.TaskPending,
		Dependencies: append([]string(nil), deps...),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.tasks[task.ID] = task
	return task.ID, nil
}

func (s *MemoryStore) GetTask(_ context.Context, id string) (*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return cloneTask(task), nil
}

func (s *MemoryStore) GetTasks(_ context.Context, sessionID string) ([]*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessionTasksLocked(sessionID), nil
}

func (s *MemoryStore) UpdateStatus(_ context.Context, id string, status models.TaskStatus, result, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	task.Status = status
	if result != "" {
		task.Result = result
	}
	if errMsg != "" {
		task.Error = errMsg
	}
	task.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) ClaimTask(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if task.Status != models.TaskPending {
		return false, nil
	}
	task.Status = models.TaskRunning
	task.UpdatedAt = time.Now()
	return true, nil
}

func (s *MemoryStore) GetReadyTasks(_ context.Context, sessionID string) ([]*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byID := make(map[string]*models.Task)
	for _, task := range s.tasks {
		if task.SessionID == sessionID {
			byID[task.ID] = task
		}
	}

	var ready []*models.Task
	for _, task := range s.sessionTasksLocked(sessionID) {
		if isReady(task, byID) {
			ready = append(ready, task)
		}
	}
	return ready, nil
}

func (s *MemoryStore) GetDAG(_ context.Context, sessionID string) (*models.DAG, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return buildDAG(s.sessionTasksLocked(sessionID)), nil
}

func (s *MemoryStore) Close() error { return nil }

// sessionTasksLocked returns cloned session tasks ordered by creation.
func (s *MemoryStore) sessionTasksLocked(sessionID string) []*models.Task {
	var out []*models.Task
	for _, task := range s.tasks {
		if task.SessionID == sessionID {
			out = append(out, cloneTask(task))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func cloneTask(t *models.Task) *models.Task {
	clone := *t
	if t.Dependencies != nil {
		clone.Dependencies = append([]string(nil), t.Dependencies...)
	}
	return &clone
}
