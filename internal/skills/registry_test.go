package skills

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/strandlabs/strand/pkg/models"
)

// fakeSource is a scriptable Source for registry tests.
type fakeSource struct {
	name      string
	tools     []*models.ToolDescriptor
	initErr   error
	initCount int
	destroyed int
	executed  []string
}

func (f *fakeSource) Name() string { return f.name }
func (f *fakeSource) Type() string { return "fake" }

func (f *fakeSource) Initialize(context.Context) error {
	f.initCount++
	return f.initErr
}

func (f *fakeSource) GetTools(context.Context) ([]*models.ToolDescriptor, error) {
	return f.tools, nil
}

func (f *fakeSource) Execute(_ context.Context, toolName string, _ map[string]any, _ *ExecutionContext) (any, error) {
	f.executed = append(f.executed, toolName)
	return "ok from " + f.name, nil
}

func (f *fakeSource) Destroy(context.Context) error {
	f.destroyed++
	return nil
}

func tool(name, description string) *models.ToolDescriptor {
	return &models.ToolDescriptor{Name: name, Description: description}
}

func TestRegistryRegisterAndExecute(t *testing.T) {
	reg := NewRegistry(nil)
	ctx := context.Background()
	src := &fakeSource{name: "fs", tools: []*models.ToolDescriptor{tool("fs.list", "list files")}}

	if err := reg.RegisterSource(ctx, src); err != nil {
		t.Fatalf("RegisterSource: %v", err)
	}
	if src.initCount != 1 {
		t.Errorf("initCount = %d", src.initCount)
	}

	result, err := reg.ExecuteAction(ctx, "fs.list", map[string]any{"path": "."}, nil)
	if err != nil {
		t.Fatalf("ExecuteAction: %v", err)
	}
	if result != "ok from fs" {
		t.Errorf("result = %v", result)
	}
}

func TestRegistryToolNotFound(t *testing.T) {
	reg := NewRegistry(nil)
	_, err := reg.ExecuteAction(context.Background(), "nope", nil, nil)
	if !errors.Is(err, ErrToolNotFound) {
		t.Errorf("err = %v, want ErrToolNotFound", err)
	}
}

func TestRegistryNameCollisionDestroysPrevious(t *testing.T) {
	reg := NewRegistry(nil)
	ctx := context.Background()
	old := &fakeSource{name: "dup", tools: []*models.ToolDescriptor{tool("old.tool", "")}}
	replacement := &fakeSource{name: "dup", tools: []*models.ToolDescriptor{tool("new.tool", "")}}

	if err := reg.RegisterSource(ctx, old); err != nil {
		t.Fatalf("RegisterSource old: %v", err)
	}
	if err := reg.RegisterSource(ctx, replacement); err != nil {
		t.Fatalf("RegisterSource replacement: %v", err)
	}

	if old.destroyed != 1 {
		t.Errorf("old.destroyed = %d, want 1", old.destroyed)
	}
	if names := reg.SourceNames(); len(names) != 1 {
		t.Errorf("SourceNames = %v", names)
	}
	if _, err := reg.ExecuteAction(ctx, "old.tool", nil, nil); !errors.Is(err, ErrToolNotFound) {
		t.Errorf("old tool still routable: %v", err)
	}
	if _, err := reg.ExecuteAction(ctx, "new.tool", nil, nil); err != nil {
		t.Errorf("new tool not routable: %v", err)
	}
}

func TestRegistryInitFailureNotInstalled(t *testing.T) {
	reg := NewRegistry(nil)
	src := &fakeSource{name: "broken", initErr: fmt.Errorf("boom")}

	if err := reg.RegisterSource(context.Background(), src); err == nil {
		t.Fatal("expected initialization error")
	}
	if names := reg.SourceNames(); len(names) != 0 {
		t.Errorf("SourceNames = %v, want empty", names)
	}
}

func TestRegistryUnregisterInvalidatesCache(t *testing.T) {
	reg := NewRegistry(nil)
	ctx := context.Background()
	src := &fakeSource{name: "fs", tools: []*models.ToolDescriptor{tool("fs.list", "")}}

	if err := reg.RegisterSource(ctx, src); err != nil {
		t.Fatalf("RegisterSource: %v", err)
	}
	// Prime the tool cache.
	if _, err := reg.ExecuteAction(ctx, "fs.list", nil, nil); err != nil {
		t.Fatalf("ExecuteAction: %v", err)
	}

	reg.UnregisterSource(ctx, "fs")
	if src.destroyed != 1 {
		t.Errorf("destroyed = %d, want 1", src.destroyed)
	}
	if _, err := reg.ExecuteAction(ctx, "fs.list", nil, nil); !errors.Is(err, ErrToolNotFound) {
		t.Errorf("stale cache entry served removed source: %v", err)
	}
}

func TestRegistrySearchTools(t *testing.T) {
	reg := NewRegistry(nil)
	ctx := context.Background()
	src := &fakeSource{name: "mix", tools: []*models.ToolDescriptor{
		tool("files.read", "Read a file"),
		tool("web.fetch", "Fetch a URL over HTTP"),
	}}
	if err := reg.RegisterSource(ctx, src); err != nil {
		t.Fatalf("RegisterSource: %v", err)
	}

	if got := reg.SearchTools(ctx, "FILE"); len(got) != 2 {
		// "files.read" by name, "Read a file" by description.
		t.Errorf("SearchTools(FILE) = %d tools, want 2", len(got))
	}
	if got := reg.SearchTools(ctx, "http"); len(got) != 1 || got[0].Name != "web.fetch" {
		t.Errorf("SearchTools(http) = %v", got)
	}
	if got := reg.SearchTools(ctx, "zzz"); len(got) != 0 {
		t.Errorf("SearchTools(zzz) = %v, want none", got)
	}
}

func TestRegistryGetToolDescriptorsToleratesFailingSource(t *testing.T) {
	reg := NewRegistry(nil)
	ctx := context.Background()
	good := &fakeSource{name: "good", tools: []*models.ToolDescriptor{tool("good.tool", "")}}
	bad := &failingToolsSource{name: "bad"}

	if err := reg.RegisterSource(ctx, good); err != nil {
		t.Fatalf("RegisterSource good: %v", err)
	}
	if err := reg.RegisterSource(ctx, bad); err != nil {
		t.Fatalf("RegisterSource bad: %v", err)
	}

	tools := reg.GetToolDescriptors(ctx)
	if len(tools) != 1 || tools[0].Name != "good.tool" {
		t.Errorf("tools = %v", tools)
	}
}

type failingToolsSource struct {
	name string
}

func (f *failingToolsSource) Name() string                   { return f.name }
func (f *failingToolsSource) Type() string                   { return "fake" }
func (f *failingToolsSource) Initialize(context.Context) error { return nil }
func (f *failingToolsSource) Destroy(context.Context) error  { return nil }

func (f *failingToolsSource) GetTools(context.Context) ([]*models.ToolDescriptor, error) {
	return nil, fmt.Errorf("listing unavailable")
}

func (f *failingToolsSource) Execute(context.Context, string, map[string]any, *ExecutionContext) (any, error) {
	return nil, fmt.Errorf("unreachable")
}
