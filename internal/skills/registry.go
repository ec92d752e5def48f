package skills

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/strandlabs/strand/pkg/models"
)

// Registry aggregates tool descriptors across sources and routes
// invocations. At most one source bears a given name at any time.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]Source
	// toolCache maps tool name to owning source. Invalidated on any
	// register or unregister.
	toolCache map[string]Source
	logger    *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		sources:   make(map[string]Source),
		toolCache: make(map[string]Source),
		logger:    logger.With("component", "skills"),
	}
}

// RegisterSource initializes src and installs it. An existing source
// with the same name is destroyed first. If initialization fails the
// source is not installed and the error is returned. Installation is
// atomic: readers never observe a partially initialized source.
func (r *Registry) RegisterSource(ctx context.Context, src Source) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := src.Name()
	if prev, ok := r.sources[name]; ok {
		if err := prev.Destroy(ctx); err != nil {
			r.logger.Warn("failed to destroy replaced source", "source", name, "error", err)
		}
		delete(r.sources, name)
	}
	r.toolCache = make(map[string]Source)

	if err := src.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize source %s: %w", name, err)
	}

	r.sources[name] = src
	r.logger.Info("registered skill source", "source", name, "type", src.Type())
	return nil
}

// UnregisterSource destroys and removes the named source. Removing an
// unknown name is a no-op.
func (r *Registry) UnregisterSource(ctx context.Context, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	src, ok := r.sources[name]
	if !ok {
		return
	}
	if err := src.Destroy(ctx); err != nil {
		r.logger.Warn("failed to destroy source", "source", name, "error", err)
	}
	delete(r.sources, name)
	r.toolCache = make(map[string]Source)
}

// GetToolDescriptors returns the union of all sources' tools. A
// failing source is logged and contributes nothing.
func (r *Registry) GetToolDescriptors(ctx context.Context) []*models.ToolDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*models.ToolDescriptor
	for name, src := range r.sources {
		tools, err := src.GetTools(ctx)
		if err != nil {
			r.logger.Warn("source failed to list tools", "source", name, "error", err)
			continue
		}
		out = append(out, tools...)
	}
	return out
}

// SearchTools returns tools whose name or description contains query,
// case-insensitive.
func (r *Registry) SearchTools(ctx context.Context, query string) []*models.ToolDescriptor {
	q := strings.ToLower(query)
	var out []*models.ToolDescriptor
	for _, tool := range r.GetToolDescriptors(ctx) {
		if strings.Contains(strings.ToLower(tool.Name), q) ||
			strings.Contains(strings.ToLower(tool.Description), q) {
			out = append(out, tool)
		}
	}
	return out
}

// ExecuteAction routes the invocation to the source that advertises
// toolName. Returns ErrToolNotFound when no source does.
func (r *Registry) ExecuteAction(ctx context.Context, toolName string, params map[string]any, ec *ExecutionContext) (any, error) {
	src, err := r.findSource(ctx, toolName)
	if err != nil {
		return nil, err
	}
	return src.Execute(ctx, toolName, params, ec)
}

// SourceNames returns the names of all installed sources.
func (r *Registry) SourceNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.sources))
	for name := range r.sources {
		names = append(names, name)
	}
	return names
}

// Destroy tears down every source.
func (r *Registry) Destroy(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, src := range r.sources {
		if err := src.Destroy(ctx); err != nil {
			r.logger.Warn("failed to destroy source", "source", name, "error", err)
		}
		delete(r.sources, name)
	}
	r.toolCache = make(map[string]Source)
}

func (r *Registry) findSource(ctx context.Context, toolName string) (Source, error) {
	r.mu.RLock()
	if src, ok := r.toolCache[toolName]; ok {
		r.mu.RUnlock()
		return src, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if src, ok := r.toolCache[toolName]; ok {
		return src, nil
	}
	for _, src := range r.sources {
		tools, err := src.GetTools(ctx)
		if err != nil {
			r.logger.Warn("source failed to list tools", "source", src.Name(), "error", err)
			continue
		}
		for _, tool := range tools {
			if tool.Name == toolName {
				r.toolCache[toolName] = src
				return src, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrToolNotFound, toolName)
}
