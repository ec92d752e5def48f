package models

import "time"

// TaskStatus represents the state of a task in the task graph.
type TaskStatus string

const (
	// TaskPending indicates the task has not started.
	TaskPending TaskStatus = "pending"

	// TaskRunning indicates the task is executing.
	TaskRunning TaskStatus = "running"

	// TaskCompleted indicates the task finished successfully.
	TaskCompleted TaskStatus = "completed"

	// TaskFailed indicates the task finished with an error.
	TaskFailed TaskStatus = "failed"
)

// IsTerminal returns true for completed and failed.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// Task is the unit of the dependency-ordered task graph. A task is
// ready when it is pending and every dependency has completed.
type Task struct {
	// ID is the unique task identifier.
	ID string `json:"id"`

	// SessionID identifies the owning session. Dependencies always
	// reference tasks in the same session.
	SessionID string `json:"session_id"`

	// Description is either a free-form string (echoed on execution)
	// or a JSON object {tool, params} dispatched through the skill
	// registry.
	Description string `json:"description"`

	// Status is the task's lifecycle state.
	Status TaskStatus `json:"status"`

	// Dependencies lists the IDs of tasks that must complete first.
	Dependencies []string `json:"dependencies,omitempty"`

	// Result holds the execution result once completed.
	Result string `json:"result,omitempty"`

	// Error holds the failure message once failed.
	Error string `json:"error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DAGEdge is a derived dependency edge from one task to another.
type DAGEdge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// DAG is the task graph view for a session: all tasks plus the edge
// list derived from their dependencies.
type DAG struct {
	Tasks []*Task   `json:"tasks"`
	Edges []DAGEdge `json:"edges"`
}
