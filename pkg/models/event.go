package models

import "encoding/json"

// EventType tags an ExecutionEvent variant.
type EventType string

const (
	// EventContent carries an incremental text delta from the model.
	EventContent EventType = "content"

	// EventThought carries rationale from a planning call.
	EventThought EventType = "thought"

	// EventPlan carries an ordered list of planned steps.
	EventPlan EventType = "plan"

	// EventAction signals that a tool invocation is beginning.
	EventAction EventType = "action"

	// EventObservation carries a tool result or error.
	EventObservation EventType = "observation"

	// EventTaskCreated signals a new task in the task graph.
	EventTaskCreated EventType = "task_created"

	// EventTaskCompleted signals a task reaching completed.
	EventTaskCompleted EventType = "task_completed"

	// EventTaskFailed signals a task reaching failed.
	EventTaskFailed EventType = "task_failed"

	// EventAnswer carries the final answer text; it is the last
	// non-error event of a successful run.
	EventAnswer EventType = "answer"

	// EventError signals a run-terminating failure.
	EventError EventType = "error"
)

// ExecutionEvent is one element of the event stream an agent run
// produces. Exactly the fields relevant to Type are populated, so each
// event serialises as a flat JSON object.
type ExecutionEvent struct {
	Type EventType `json:"type"`

	// Content is the text delta for content events and the final text
	// for answer events.
	Content string `json:"content,omitempty"`

	// Thought is the model's rationale for thought events.
	Thought string `json:"thought,omitempty"`

	// Steps is the ordered plan for plan events.
	Steps []string `json:"steps,omitempty"`

	// Tool is the tool name for action events.
	Tool string `json:"tool,omitempty"`

	// Input is the tool input for action events.
	Input json.RawMessage `json:"input,omitempty"`

	// Observation is the tool result text for observation events.
	Observation string `json:"observation,omitempty"`

	// IsError marks an observation that reports a failure.
	IsError bool `json:"is_error,omitempty"`

	// TaskID identifies the task for task_* events.
	TaskID string `json:"task_id,omitempty"`

	// Result is the task result for task_completed events.
	Result string `json:"result,omitempty"`

	// Error is the failure description for error and task_failed events.
	Error string `json:"error,omitempty"`
}
