// Package skills aggregates tool descriptors from pluggable sources
// and routes tool invocations to the source that owns them.
package skills

import (
	"context"
	"errors"

	"github.com/strandlabs/strand/pkg/models"
)

// Source types.
const (
	TypeLocal = "local"
	TypeMCP   = "mcp"
)

// ErrToolNotFound is returned when no registered source advertises the
// requested tool name.
var ErrToolNotFound = errors.New("tool not found")

// ExecutionContext carries per-invocation identity to tool handlers.
type ExecutionContext struct {
	SessionID string
	UserID    string
}

// Source is a provider of tools. Implementations must tolerate
// GetTools and Execute being called concurrently.
type Source interface {
	// Name is the globally unique source name.
	Name() string

	// Type tags the source kind (local, mcp).
	Type() string

	// Initialize prepares the source. A source that fails to
	// initialize is never installed in the registry.
	Initialize(ctx context.Context) error

	// GetTools returns the source's current tool descriptors.
	GetTools(ctx context.Context) ([]*models.ToolDescriptor, error)

	// Execute invokes the named tool with the given parameters.
	Execute(ctx context.Context, toolName string, params map[string]any, ec *ExecutionContext) (any, error)

	// Destroy releases the source's resources.
	Destroy(ctx context.Context) error
}
