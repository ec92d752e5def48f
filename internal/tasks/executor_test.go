package tasks

import (
	"context"
	"fmt"
	"testing"

	"github.com/strandlabs/strand/internal/skills"
	"github.com/strandlabs/strand/pkg/models"
)

// toolSource is a minimal skill source for executor tests.
type toolSource struct {
	tools map[string]func(params map[string]any) (any, error)
}

func (s *toolSource) Name() string                     { return "test" }
func (s *toolSource) Type() string                     { return "fake" }
func (s *toolSource) Initialize(context.Context) error { return nil }
func (s *toolSource) Destroy(context.Context) error    { return nil }

func (s *toolSource) GetTools(context.Context) ([]*models.ToolDescriptor, error) {
	var out []*models.ToolDescriptor
	for name := range s.tools {
		out = append(out, &models.ToolDescriptor{Name: name})
	}
	return out, nil
}

func (s *toolSource) Execute(_ context.Context, toolName string, params map[string]any, _ *skills.ExecutionContext) (any, error) {
	fn, ok := s.tools[toolName]
	if !ok {
		return nil, skills.ErrToolNotFound
	}
	return fn(params)
}

func newTestRegistry(t *testing.T, tools map[string]func(params map[string]any) (any, error)) *skills.Registry {
	t.Helper()
	reg := skills.NewRegistry(nil)
	if err := reg.RegisterSource(context.Background(), &toolSource{tools: tools}); err != nil {
		t.Fatalf("RegisterSource: %v", err)
	}
	return reg
}

func collectEvents(ch <-chan *models.ExecutionEvent) []*models.ExecutionEvent {
	var out []*models.ExecutionEvent
	for ev := range ch {
		out = append(out, ev)
	}
	return out
}

func TestExecutorDiamond(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	a, _ := store.CreateTask(ctx, "sess", "A", nil)
	b, _ := store.CreateTask(ctx, "sess", "B", []string{a})
	c, _ := store.CreateTask(ctx, "sess", "C", []string{a})
	d, _ := store.CreateTask(ctx, "sess", "D", []string{b, c})

	exec := NewExecutor(store, newTestRegistry(t, nil), nil)
	events := collectEvents(exec.Execute(ctx, "sess"))

	if len(events) != 4 {
		t.Fatalf("got %d events, want 4: %+v", len(events), events)
	}
	for _, ev := range events {
		if ev.Type != models.EventTaskCompleted {
			t.Errorf("event %+v, want task_completed", ev)
		}
	}

	// Round order: A alone, then B and C in some order, then D.
	if events[0].TaskID != a {
		t.Errorf("first event = %s, want A", events[0].TaskID)
	}
	middle := map[string]bool{events[1].TaskID: true, events[2].TaskID: true}
	if !middle[b] || !middle[c] {
		t.Errorf("middle round = %v, want {B, C}", middle)
	}
	if events[3].TaskID != d {
		t.Errorf("last event = %s, want D", events[3].TaskID)
	}

	// All tasks reach completed with the acknowledgement result.
	task, _ := store.GetTask(ctx, d)
	if task.Status != models.TaskCompleted {
		t.Errorf("D status = %q", task.Status)
	}
	if task.Result != "Task noted: D" {
		t.Errorf("D result = %q", task.Result)
	}
}

func TestExecutorToolDirective(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	registry := newTestRegistry(t, map[string]func(map[string]any) (any, error){
		"files.list": func(params map[string]any) (any, error) {
			return fmt.Sprintf("listed %v", params["path"]), nil
		},
	})

	id, _ := store.CreateTask(ctx, "sess", `{"tool": "files.list", "params": {"path": "/tmp"}}`, nil)

	exec := NewExecutor(store, registry, nil)
	events := collectEvents(exec.Execute(ctx, "sess"))

	if len(events) != 1 || events[0].Type != models.EventTaskCompleted {
		t.Fatalf("events = %+v", events)
	}
	if events[0].Result != "listed /tmp" {
		t.Errorf("result = %q", events[0].Result)
	}

	task, _ := store.GetTask(ctx, id)
	if task.Result != "listed /tmp" {
		t.Errorf("persisted result = %q", task.Result)
	}
}

func TestExecutorFailureIsolation(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	registry := newTestRegistry(t, map[string]func(map[string]any) (any, error){
		"always.fail": func(map[string]any) (any, error) {
			return nil, fmt.Errorf("boom")
		},
	})

	bad, _ := store.CreateTask(ctx, "sess", `{"tool": "always.fail", "params": {}}`, nil)
	good, _ := store.CreateTask(ctx, "sess", "plain task", nil)
	dependent, _ := store.CreateTask(ctx, "sess", "never runs", []string{bad})

	exec := NewExecutor(store, registry, nil)
	events := collectEvents(exec.Execute(ctx, "sess"))

	// One failure, one success; the dependent is never dispatched.
	if len(events) != 2 {
		t.Fatalf("got %d events: %+v", len(events), events)
	}
	byTask := map[string]*models.ExecutionEvent{}
	for _, ev := range events {
		byTask[ev.TaskID] = ev
	}
	if ev := byTask[bad]; ev == nil || ev.Type != models.EventTaskFailed || ev.Error != "boom" {
		t.Errorf("bad task event = %+v", ev)
	}
	if ev := byTask[good]; ev == nil || ev.Type != models.EventTaskCompleted {
		t.Errorf("good task event = %+v", ev)
	}

	task, _ := store.GetTask(ctx, dependent)
	if task.Status != models.TaskPending {
		t.Errorf("dependent status = %q, want pending", task.Status)
	}
}

func TestExecutorEmptySession(t *testing.T) {
	exec := NewExecutor(NewMemoryStore(), newTestRegistry(t, nil), nil)
	events := collectEvents(exec.Execute(context.Background(), "empty"))
	if len(events) != 0 {
		t.Errorf("events = %+v, want none", events)
	}
}

func TestExecutorUnknownToolFailsTask(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	id, _ := store.CreateTask(ctx, "sess", `{"tool": "no.such.tool", "params": {}}`, nil)

	exec := NewExecutor(store, newTestRegistry(t, nil), nil)
	events := collectEvents(exec.Execute(ctx, "sess"))

	if len(events) != 1 || events[0].Type != models.EventTaskFailed {
		t.Fatalf("events = %+v", events)
	}
	task, _ := store.GetTask(ctx, id)
	if task.Status != models.TaskFailed || task.Error == "" {
		t.Errorf("task = %+v", task)
	}
}
