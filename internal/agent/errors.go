package agent

import (
	"errors"
	"fmt"
)

// Common sentinel errors for agent operations.
var (
	// ErrMaxIterations indicates the loop exceeded its iteration limit.
	ErrMaxIterations = errors.New("max iterations exceeded")

	// ErrToolTimeout indicates a tool call exceeded its time budget.
	ErrToolTimeout = errors.New("tool execution timed out")
)

// ToolExecutionError wraps an error thrown by a tool handler. Within
// an iteration these are recovered locally and fed back to the model
// as observations; they never abort the run.
type ToolExecutionError struct {
	Tool string
	Err  error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool %s: %v", e.Tool, e.Err)
}

func (e *ToolExecutionError) Unwrap() error {
	return e.Err
}
