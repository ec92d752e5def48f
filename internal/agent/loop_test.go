package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/strandlabs/strand/internal/contextmgr"
	"github.com/strandlabs/strand/internal/llm"
	"github.com/strandlabs/strand/internal/memory"
	"github.com/strandlabs/strand/internal/skills"
	"github.com/strandlabs/strand/pkg/models"
)

// scriptedProvider replays pre-canned stream turns and records every
// request it receives.
type scriptedProvider struct {
	turns    [][]*llm.StreamChunk
	requests []*llm.Request
	chatFn   func(ctx context.Context, req *llm.Request) (*models.Message, error)
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Chat(ctx context.Context, req *llm.Request) (*models.Message, error) {
	if p.chatFn != nil {
		return p.chatFn(ctx, req)
	}
	return nil, fmt.Errorf("no chat handler scripted")
}

func (p *scriptedProvider) ChatStream(ctx context.Context, req *llm.Request) (<-chan *llm.StreamChunk, error) {
	p.requests = append(p.requests, req)
	if len(p.turns) == 0 {
		return nil, fmt.Errorf("no scripted turns left")
	}
	turn := p.turns[0]
	p.turns = p.turns[1:]

	ch := make(chan *llm.StreamChunk, len(turn))
	for _, chunk := range turn {
		ch <- chunk
	}
	close(ch)
	return ch, nil
}

// echoSource is a single-tool source whose behavior is supplied per
// test.
type echoSource struct {
	tool    string
	execute func(ctx context.Context, params map[string]any) (any, error)
}

func (s *echoSource) Name() string                         { return "test" }
func (s *echoSource) Type() string                         { return skills.TypeLocal }
func (s *echoSource) Initialize(context.Context) error     { return nil }
func (s *echoSource) Destroy(context.Context) error        { return nil }
func (s *echoSource) GetTools(context.Context) ([]*models.ToolDescriptor, error) {
	return []*models.ToolDescriptor{{Name: s.tool, Description: "test tool"}}, nil
}

func (s *echoSource) Execute(ctx context.Context, toolName string, params map[string]any, _ *skills.ExecutionContext) (any, error) {
	return s.execute(ctx, params)
}

func newTestLoop(t *testing.T, provider llm.Provider, mutate func(cfg *Config)) *Loop {
	t.Helper()
	cfg := Config{
		Provider: provider,
		Registry: skills.NewRegistry(nil),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	loop, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return loop
}

func collect(t *testing.T, events <-chan *models.ExecutionEvent) []*models.ExecutionEvent {
	t.Helper()
	var got []*models.ExecutionEvent
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return got
			}
			got = append(got, ev)
		case <-deadline:
			t.Fatalf("timed out waiting for events, got %d so far", len(got))
		}
	}
}

func toolCallChunk(id, name, input string) *llm.StreamChunk {
	return &llm.StreamChunk{ToolCall: &models.ToolCall{
		ID:    id,
		Name:  name,
		Input: json.RawMessage(input),
	}}
}

func TestRunContentOnlyAnswer(t *testing.T) {
	provider := &scriptedProvider{turns: [][]*llm.StreamChunk{
		{{Text: "Hi"}, {Text: " there"}},
	}}
	loop := newTestLoop(t, provider, nil)

	events := collect(t, loop.Run(context.Background(), "hello", nil))

	want := []*models.ExecutionEvent{
		{Type: models.EventContent, Content: "Hi"},
		{Type: models.EventContent, Content: " there"},
		{Type: models.EventAnswer, Content: "Hi there"},
	}
	if len(events) != len(want) {
		t.Fatalf("got %d events, want %d", len(events), len(want))
	}
	for i, ev := range events {
		if ev.Type != want[i].Type || ev.Content != want[i].Content {
			t.Errorf("event %d = %+v, want %+v", i, ev, want[i])
		}
	}
}

func TestRunSingleToolCall(t *testing.T) {
	provider := &scriptedProvider{turns: [][]*llm.StreamChunk{
		{toolCallChunk("call-1", "test.lookup", `{"q":"weather"}`)},
		{{Text: "Sunny today."}},
	}}
	src := &echoSource{
		tool: "test.lookup",
		execute: func(_ context.Context, params map[string]any) (any, error) {
			return "sunny, 22C", nil
		},
	}
	loop := newTestLoop(t, provider, nil)
	if err := loop.registry.RegisterSource(context.Background(), src); err != nil {
		t.Fatalf("RegisterSource: %v", err)
	}

	events := collect(t, loop.Run(context.Background(), "weather?", nil))

	wantTypes := []models.EventType{
		models.EventAction,
		models.EventObservation,
		models.EventContent,
		models.EventAnswer,
	}
	if len(events) != len(wantTypes) {
		t.Fatalf("got %d events (%+v), want %d", len(events), events, len(wantTypes))
	}
	for i, ev := range events {
		if ev.Type != wantTypes[i] {
			t.Errorf("event %d type = %s, want %s", i, ev.Type, wantTypes[i])
		}
	}
	if events[0].Tool != "test.lookup" {
		t.Errorf("action tool = %q, want test.lookup", events[0].Tool)
	}
	if events[1].Observation != "sunny, 22C" {
		t.Errorf("observation = %q", events[1].Observation)
	}

	// The second chat request must carry the assistant tool call and
	// its matching tool reply.
	if len(provider.requests) != 2 {
		t.Fatalf("got %d chat requests, want 2", len(provider.requests))
	}
	msgs := provider.requests[1].Messages
	last, secondLast := msgs[len(msgs)-1], msgs[len(msgs)-2]
	if secondLast.Role != models.RoleAssistant || len(secondLast.ToolCalls) != 1 {
		t.Errorf("second-to-last message = %+v, want assistant with one tool call", secondLast)
	}
	if last.Role != models.RoleTool || last.ToolCallID != "call-1" {
		t.Errorf("last message = %+v, want tool reply for call-1", last)
	}
	if last.Content != "sunny, 22C" {
		t.Errorf("tool reply content = %q", last.Content)
	}
}

func TestRunToolTimeout(t *testing.T) {
	provider := &scriptedProvider{turns: [][]*llm.StreamChunk{
		{toolCallChunk("call-1", "test.slow", `{}`)},
		{{Text: "Gave up."}},
	}}
	src := &echoSource{
		tool: "test.slow",
		execute: func(ctx context.Context, _ map[string]any) (any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	loop := newTestLoop(t, provider, func(cfg *Config) {
		cfg.ToolTimeout = 50 * time.Millisecond
	})
	if err := loop.registry.RegisterSource(context.Background(), src); err != nil {
		t.Fatalf("RegisterSource: %v", err)
	}

	events := collect(t, loop.Run(context.Background(), "slow", nil))

	var observation *models.ExecutionEvent
	for _, ev := range events {
		if ev.Type == models.EventObservation {
			observation = ev
		}
	}
	if observation == nil {
		t.Fatalf("no observation event in %+v", events)
	}
	if !observation.IsError {
		t.Errorf("observation not marked as error: %+v", observation)
	}
	if !strings.Contains(observation.Observation, "test.slow") {
		t.Errorf("observation = %q, want tool name mentioned", observation.Observation)
	}

	// The run recovers and still reaches an answer.
	final := events[len(events)-1]
	if final.Type != models.EventAnswer || final.Content != "Gave up." {
		t.Errorf("final event = %+v, want answer", final)
	}
}

func TestRunTrimsLongHistory(t *testing.T) {
	provider := &scriptedProvider{
		turns: [][]*llm.StreamChunk{{{Text: "ok"}}},
		chatFn: func(_ context.Context, _ *llm.Request) (*models.Message, error) {
			return &models.Message{Role: models.RoleAssistant, Content: "they discussed testing"}, nil
		},
	}
	loop := newTestLoop(t, provider, func(cfg *Config) {
		cfg.ContextMgr = contextmgr.New(
			contextmgr.WithMaxTokens(500),
			contextmgr.WithReservedTokens(0),
		)
	})

	long := strings.Repeat("x", 600)
	history := []*models.Message{
		{Role: models.RoleUser, Content: long},
		{Role: models.RoleAssistant, Content: long},
		{Role: models.RoleUser, Content: long},
		{Role: models.RoleAssistant, Content: long},
	}

	collect(t, loop.Run(context.Background(), "hello", &RunOptions{History: history}))

	if len(provider.requests) != 1 {
		t.Fatalf("got %d chat requests, want 1", len(provider.requests))
	}
	msgs := provider.requests[0].Messages
	// [system, summary, last two history messages, current]
	if len(msgs) != 5 {
		t.Fatalf("got %d messages, want 5: %+v", len(msgs), msgs)
	}
	if msgs[0].Role != models.RoleSystem {
		t.Errorf("first message role = %s, want system", msgs[0].Role)
	}
	if !strings.Contains(msgs[1].Content, "they discussed testing") {
		t.Errorf("summary message = %q", msgs[1].Content)
	}
	if msgs[2] != history[2] || msgs[3] != history[3] {
		t.Errorf("kept history messages are not the last two")
	}
	if msgs[4].Content != "hello" || msgs[4].Role != models.RoleUser {
		t.Errorf("current message = %+v", msgs[4])
	}
}

func TestRunIterationCap(t *testing.T) {
	const maxIterations = 3
	var turns [][]*llm.StreamChunk
	for i := 0; i < maxIterations+2; i++ {
		turns = append(turns, []*llm.StreamChunk{
			toolCallChunk(fmt.Sprintf("call-%d", i), ToolPlanTask, `{"thought":"loop","steps":["again"]}`),
		})
	}
	provider := &scriptedProvider{turns: turns}
	loop := newTestLoop(t, provider, func(cfg *Config) {
		cfg.MaxIterations = maxIterations
	})

	events := collect(t, loop.Run(context.Background(), "never stop", nil))

	if len(provider.requests) != maxIterations {
		t.Errorf("got %d chat requests, want %d", len(provider.requests), maxIterations)
	}
	final := events[len(events)-1]
	if final.Type != models.EventAnswer {
		t.Fatalf("final event = %+v, want answer", final)
	}
	if !strings.Contains(final.Content, "step limit") {
		t.Errorf("final answer = %q, want step-limit notice", final.Content)
	}
}

func TestRunPlanTask(t *testing.T) {
	provider := &scriptedProvider{turns: [][]*llm.StreamChunk{
		{toolCallChunk("call-1", ToolPlanTask, `{"thought":"need two steps","steps":["fetch","summarize"]}`)},
		{{Text: "done"}},
	}}
	loop := newTestLoop(t, provider, nil)

	events := collect(t, loop.Run(context.Background(), "plan it", nil))

	if events[0].Type != models.EventThought || events[0].Thought != "need two steps" {
		t.Errorf("event 0 = %+v, want thought", events[0])
	}
	if events[1].Type != models.EventPlan || len(events[1].Steps) != 2 {
		t.Errorf("event 1 = %+v, want plan with two steps", events[1])
	}

	msgs := provider.requests[1].Messages
	reply := msgs[len(msgs)-1]
	if reply.Role != models.RoleTool {
		t.Fatalf("last message role = %s, want tool", reply.Role)
	}
	if !strings.Contains(reply.Content, `"fetch"`) || !strings.Contains(reply.Content, "Proceed") {
		t.Errorf("plan reply = %q", reply.Content)
	}
}

func TestRunMemoryBuiltins(t *testing.T) {
	store := memory.NewStore(memory.NewMemoryRepo(), nil, nil)

	provider := &scriptedProvider{turns: [][]*llm.StreamChunk{
		{toolCallChunk("call-1", ToolMemoryRemember, `{"content":"User prefers Go","tags":"lang, pref"}`)},
		{{Text: "Noted."}},
	}}
	loop := newTestLoop(t, provider, func(cfg *Config) {
		cfg.LongTerm = store
	})

	events := collect(t, loop.Run(context.Background(), "remember this", &RunOptions{SessionID: "s1"}))

	var saved string
	for _, ev := range events {
		if ev.Type == models.EventObservation {
			saved = ev.Observation
		}
	}
	if !strings.HasPrefix(saved, "Memory saved (id: ") {
		t.Fatalf("observation = %q", saved)
	}

	results, err := store.Search(context.Background(), "prefers", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].Entry.Content != "User prefers Go" {
		t.Fatalf("stored memory = %+v", results)
	}

	// Recall in a fresh run surfaces the stored content as a bullet.
	provider2 := &scriptedProvider{turns: [][]*llm.StreamChunk{
		{toolCallChunk("call-1", ToolMemoryRecall, `{"query":"prefers"}`)},
		{{Text: "You prefer Go."}},
	}}
	loop2 := newTestLoop(t, provider2, func(cfg *Config) {
		cfg.LongTerm = store
	})
	events2 := collect(t, loop2.Run(context.Background(), "what do I like?", nil))

	var recall string
	for _, ev := range events2 {
		if ev.Type == models.EventObservation {
			recall = ev.Observation
		}
	}
	if recall != "- User prefers Go" {
		t.Errorf("recall observation = %q", recall)
	}
}

func TestRunMemoryPromptAugmentation(t *testing.T) {
	store := memory.NewStore(memory.NewMemoryRepo(), nil, nil)
	if _, err := store.Remember(context.Background(), "Deploy target is us-east-1", nil, ""); err != nil {
		t.Fatalf("Remember: %v", err)
	}

	provider := &scriptedProvider{turns: [][]*llm.StreamChunk{{{Text: "ok"}}}}
	loop := newTestLoop(t, provider, func(cfg *Config) {
		cfg.LongTerm = store
	})

	collect(t, loop.Run(context.Background(), "where do we deploy?", nil))

	system := provider.requests[0].Messages[0]
	if system.Role != models.RoleSystem {
		t.Fatalf("first message role = %s", system.Role)
	}
	if !strings.Contains(system.Content, "- Deploy target is us-east-1") {
		t.Errorf("system prompt missing memory bullet: %q", system.Content)
	}
}

func TestRunUnknownToolRecovers(t *testing.T) {
	provider := &scriptedProvider{turns: [][]*llm.StreamChunk{
		{toolCallChunk("call-1", "nope.missing", `{}`)},
		{{Text: "Sorry."}},
	}}
	loop := newTestLoop(t, provider, nil)

	events := collect(t, loop.Run(context.Background(), "call something", nil))

	var observation *models.ExecutionEvent
	for _, ev := range events {
		if ev.Type == models.EventObservation {
			observation = ev
		}
	}
	if observation == nil || !observation.IsError {
		t.Fatalf("expected error observation, got %+v", events)
	}
	if !strings.HasPrefix(observation.Observation, "Error: ") {
		t.Errorf("observation = %q", observation.Observation)
	}
	if final := events[len(events)-1]; final.Type != models.EventAnswer {
		t.Errorf("final event = %+v, want answer", final)
	}
}

func TestGenerateTitle(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		err   error
		want  string
	}{
		{name: "plain", reply: "旅行计划讨论", want: "旅行计划讨论"},
		{name: "double quoted", reply: `"Trip planning"`, want: "Trip planning"},
		{name: "cjk brackets", reply: "「测试标题」", want: "测试标题"},
		{name: "curly quotes", reply: "“测试标题”", want: "测试标题"},
		{name: "whitespace", reply: "  短标题  ", want: "短标题"},
		{name: "empty reply", reply: "", want: DefaultTitle},
		{name: "provider error", err: fmt.Errorf("rate limited"), want: DefaultTitle},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := &scriptedProvider{
				chatFn: func(_ context.Context, _ *llm.Request) (*models.Message, error) {
					if tt.err != nil {
						return nil, tt.err
					}
					return &models.Message{Role: models.RoleAssistant, Content: tt.reply}, nil
				},
			}
			loop := newTestLoop(t, provider, nil)
			if got := loop.GenerateTitle(context.Background(), "hello"); got != tt.want {
				t.Errorf("GenerateTitle = %q, want %q", got, tt.want)
			}
		})
	}
}
