// Package tasks persists dependency-ordered tasks and executes them as
// a DAG in parallel rounds.
package tasks

import (
	"context"
	"errors"

	"github.com/strandlabs/strand/pkg/models"
)

// ErrTaskNotFound is returned for lookups of unknown task IDs.
var ErrTaskNotFound = errors.New("task not found")

// ErrCrossSessionDependency is returned when a task declares a
// dependency on a task from a different session. Readiness is
// computed per session, so such a dependency would never resolve.
var ErrCrossSessionDependency = errors.New("dependency belongs to a different session")

// Store is the task persistence boundary.
type Store interface {
	// CreateTask inserts a pending task and returns its ID. Every
	// dependency must name an existing task in the same session.
	CreateTask(ctx context.Context, sessionID, description string, deps []string) (string, error)

	// GetTask returns the task or ErrTaskNotFound.
	GetTask(ctx context.Context, id string) (*models.Task, error)

	// GetTasks returns all tasks for a session, oldest first.
	GetTasks(ctx context.Context, sessionID string) ([]*models.Task, error)

	// UpdateStatus sets the task's status and optional result or error.
	UpdateStatus(ctx context.Context, id string, status models.TaskStatus, result, errMsg string) error

	// ClaimTask flips the task from pending to running, atomically.
	// It reports false when the task was not pending.
	ClaimTask(ctx context.Context, id string) (bool, error)

	// GetReadyTasks returns tasks that are pending with every
	// dependency completed.
	GetReadyTasks(ctx context.Context, sessionID string) ([]*models.Task, error)

	// GetDAG returns the session's tasks and derived dependency edges.
	GetDAG(ctx context.Context, sessionID string) (*models.DAG, error)

	Close() error
}

// buildDAG derives {from: dep, to: task} edges from a task list.
func buildDAG(tasks []*models.Task) *models.DAG {
	dag := &models.DAG{Tasks: tasks}
	for _, task := range tasks {
		for _, dep := range task.Dependencies {
			dag.Edges = append(dag.Edges, models.DAGEdge{From: dep, To: task.ID})
		}
	}
	return dag
}

// isReady reports whether the task is pending with all dependencies
// completed, given a lookup of the session's tasks.
func isReady(task *models.Task, byID map[string]*models.Task) bool {
	if task.Status != models.TaskPending {
		return false
	}
	for _, dep := range task.Dependencies {
		depTask, ok := byID[dep]
		if !ok || depTask.Status != models.TaskCompleted {
			return false
		}
	}
	return true
}
