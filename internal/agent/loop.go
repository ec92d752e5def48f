// Package agent implements the core reasoning loop: streaming LLM
// turns interleaved with tool execution, bounded by an iteration cap.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/strandlabs/strand/internal/contextmgr"
	"github.com/strandlabs/strand/internal/llm"
	"github.com/strandlabs/strand/internal/memory"
	"github.com/strandlabs/strand/internal/skills"
	"github.com/strandlabs/strand/internal/tasks"
	"github.com/strandlabs/strand/pkg/models"
)

const (
	// DefaultMaxIterations bounds assistant turns per run.
	DefaultMaxIterations = 10

	// DefaultToolTimeout bounds each non-built-in tool invocation.
	DefaultToolTimeout = 60 * time.Second

	// memoryRecallLimit is how many memories augment the system prompt.
	memoryRecallLimit = 3
)

const defaultSystemPrompt = `You are a capable assistant with access to tools. ` +
	`Think before you act: use plan_task to lay out multi-step work, ` +
	`call tools when they help, and answer directly when they do not.`

// Config assembles a Loop's collaborators. Provider and Registry are
// required; the rest are optional capabilities.
type Config struct {
	Provider   llm.Provider
	Registry   *skills.Registry
	ContextMgr *contextmgr.Manager

	// LongTerm enables the memory built-ins and prompt augmentation.
	LongTerm *memory.Store

	// TaskStore and TaskExecutor enable the DAG built-ins.
	TaskStore    tasks.Store
	TaskExecutor *tasks.Executor

	// SystemPrompt overrides the default fixed guidance.
	SystemPrompt string

	// MaxIterations overrides DefaultMaxIterations when positive.
	MaxIterations int

	// ToolTimeout overrides DefaultToolTimeout when positive.
	ToolTimeout time.Duration

	Logger *slog.Logger
}

// Loop runs agent turns. It is safe for concurrent runs; each run owns
// its own message list.
type Loop struct {
	provider      llm.Provider
	registry      *skills.Registry
	contextMgr    *contextmgr.Manager
	longTerm      *memory.Store
	taskStore     tasks.Store
	taskExec      *tasks.Executor
	systemPrompt  string
	maxIterations int
	toolTimeout   time.Duration
	logger        *slog.Logger
}

// New creates a Loop from the config.
func New(cfg Config) (*Loop, error) {
	if cfg.Provider == nil {
		return nil, llm.ErrNoProvider
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("skill registry is required")
	}
	l := &Loop{
		provider:      cfg.Provider,
		registry:      cfg.Registry,
		contextMgr:    cfg.ContextMgr,
		longTerm:      cfg.LongTerm,
		taskStore:     cfg.TaskStore,
		taskExec:      cfg.TaskExecutor,
		systemPrompt:  cfg.SystemPrompt,
		maxIterations: cfg.MaxIterations,
		toolTimeout:   cfg.ToolTimeout,
		logger:        cfg.Logger,
	}
	if l.contextMgr == nil {
		l.contextMgr = contextmgr.New()
	}
	if l.systemPrompt == "" {
		l.systemPrompt = defaultSystemPrompt
	}
	if l.maxIterations <= 0 {
		l.maxIterations = DefaultMaxIterations
	}
	if l.toolTimeout <= 0 {
		l.toolTimeout = DefaultToolTimeout
	}
	if l.logger == nil {
		l.logger = slog.Default()
	}
	l.logger = l.logger.With("component", "agent")
	return l, nil
}

// RunOptions carries per-run identity and context.
type RunOptions struct {
	SessionID   string
	UserID      string
	History     []*models.Message
	Attachments []models.Attachment
}

// Run executes one agent turn for the input and streams execution
// events. The channel closes when the run ends; cancelling ctx stops
// the producer without further events.
func (l *Loop) Run(ctx context.Context, input string, opts *RunOptions) <-chan *models.ExecutionEvent {
	if opts == nil {
		opts = &RunOptions{}
	}
	events := make(chan *models.ExecutionEvent)
	go func() {
		defer close(events)
		l.run(ctx, input, opts, events)
	}()
	return events
}

func (l *Loop) run(ctx context.Context, input string, opts *RunOptions, events chan<- *models.ExecutionEvent) {
	system := &models.Message{
		Role:    models.RoleSystem,
		Content: l.composeSystemPrompt(ctx, input),
	}
	current := []*models.Message{{
		ID:          uuid.NewString(),
		SessionID:   opts.SessionID,
		Role:        models.RoleUser,
		Content:     input,
		Attachments: opts.Attachments,
		CreatedAt:   time.Now(),
	}}

	messages := l.contextMgr.Trim(ctx, system, opts.History, current, l.provider)

	tools := append(l.builtinTools(), l.registry.GetToolDescriptors(ctx)...)

	for iteration := 0; iteration < l.maxIterations; iteration++ {
		text, toolCalls, err := l.streamTurn(ctx, messages, tools, events)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			l.emit(ctx, events, &models.ExecutionEvent{
				Type:  models.EventError,
				Error: err.Error(),
			})
			return
		}

		assistant := &models.Message{
			ID:        uuid.NewString(),
			SessionID: opts.SessionID,
			Role:      models.RoleAssistant,
			Content:   text,
			ToolCalls: toolCalls,
			CreatedAt: time.Now(),
		}
		messages = append(messages, assistant)

		if len(toolCalls) == 0 {
			l.emit(ctx, events, &models.ExecutionEvent{
				Type:    models.EventAnswer,
				Content: text,
			})
			return
		}

		// Every tool call gets a tool-role reply before the next
		// assistant turn, in the order the model produced the calls.
		for i := range toolCalls {
			reply := l.handleToolCall(ctx, &toolCalls[i], opts, events)
			messages = append(messages, reply)
		}
	}

	l.logger.Warn("iteration limit reached", "session_id", opts.SessionID, "max", l.maxIterations)
	l.emit(ctx, events, &models.ExecutionEvent{
		Type:    models.EventAnswer,
		Content: "I'm sorry, I reached my step limit before finishing. Here is what I have so far; please ask again to continue.",
	})
}

// composeSystemPrompt prepends the fixed guidance with up to three
// memories relevant to the input. Retrieval failure is logged and
// ignored.
func (l *Loop) composeSystemPrompt(ctx context.Context, input string) string {
	if l.longTerm == nil {
		return l.systemPrompt
	}

	results, err := l.longTerm.Search(ctx, input, memoryRecallLimit)
	if err != nil {
		l.logger.Warn("memory retrieval failed", "error", err)
		return l.systemPrompt
	}
	if len(results) == 0 {
		return l.systemPrompt
	}

	var b strings.Builder
	b.WriteString(l.systemPrompt)
	b.WriteString("\n\nRelevant memories:\n")
	for _, res := range results {
		b.WriteString("- ")
		b.WriteString(res.Entry.Content)
		b.WriteByte('\n')
	}
	return b.String()
}

// streamTurn consumes one streaming chat call, emitting content events
// for each delta and collecting completed tool calls.
func (l *Loop) streamTurn(ctx context.Context, messages []*models.Message, tools []*models.ToolDescriptor, events chan<- *models.ExecutionEvent) (string, []models.ToolCall, error) {
	stream, err := l.provider.ChatStream(ctx, &llm.Request{
		Messages: messages,
		Tools:    tools,
	})
	if err != nil {
		return "", nil, fmt.Errorf("chat stream: %w", err)
	}

	var text strings.Builder
	var toolCalls []models.ToolCall
	for chunk := range stream {
		if chunk == nil {
			continue
		}
		if chunk.Err != nil {
			return "", nil, chunk.Err
		}
		if chunk.Text != "" {
			text.WriteString(chunk.Text)
			if !l.emit(ctx, events, &models.ExecutionEvent{
				Type:    models.EventContent,
				Content: chunk.Text,
			}) {
				return "", nil, context.Canceled
			}
		}
		if chunk.ToolCall != nil {
			toolCalls = append(toolCalls, *chunk.ToolCall)
		}
	}
	if err := ctx.Err(); err != nil {
		return "", nil, err
	}
	return text.String(), toolCalls, nil
}

// handleToolCall dispatches one tool call and returns the tool-role
// reply that must follow the assistant message. Failures become
// observations; they never abort the run.
func (l *Loop) handleToolCall(ctx context.Context, call *models.ToolCall, opts *RunOptions, events chan<- *models.ExecutionEvent) *models.Message {
	var replyText string
	switch call.Name {
	case ToolPlanTask:
		replyText = l.handlePlanTask(ctx, call, events)
	case ToolMemoryRemember, ToolMemoryRecall:
		if l.longTerm == nil {
			replyText = l.observeError(ctx, events, fmt.Errorf("long-term memory is not configured"))
			break
		}
		if call.Name == ToolMemoryRemember {
			replyText = l.handleMemoryRemember(ctx, call, opts, events)
		} else {
			replyText = l.handleMemoryRecall(ctx, call, events)
		}
	case ToolDAGCreateTask, ToolDAGGetStatus, ToolDAGExecute:
		if l.taskStore == nil {
			replyText = l.observeError(ctx, events, fmt.Errorf("task graph is not configured"))
			break
		}
		switch call.Name {
		case ToolDAGCreateTask:
			replyText = l.handleDAGCreateTask(ctx, call, opts, events)
		case ToolDAGGetStatus:
			replyText = l.handleDAGGetStatus(ctx, call, opts, events)
		default:
			replyText = l.handleDAGExecute(ctx, call, opts, events)
		}
	default:
		replyText = l.handleSkillTool(ctx, call, opts, events)
	}

	return &models.Message{
		ID:         uuid.NewString(),
		SessionID:  opts.SessionID,
		Role:       models.RoleTool,
		Content:    replyText,
		ToolCallID: call.ID,
		CreatedAt:  time.Now(),
	}
}

func (l *Loop) handlePlanTask(ctx context.Context, call *models.ToolCall, events chan<- *models.ExecutionEvent) string {
	var args struct {
		Thought string   `json:"thought"`
		Steps   []string `json:"steps"`
	}
	if err := json.Unmarshal(call.Input, &args); err != nil {
		return l.observeError(ctx, events, fmt.Errorf("parse plan: %w", err))
	}

	l.emit(ctx, events, &models.ExecutionEvent{Type: models.EventThought, Thought: args.Thought})
	l.emit(ctx, events, &models.ExecutionEvent{Type: models.EventPlan, Steps: args.Steps})

	stepsJSON, _ := json.Marshal(args.Steps)
	return fmt.Sprintf("Plan acknowledged. Steps: %s. Proceed with the plan.", stepsJSON)
}

func (l *Loop) handleMemoryRemember(ctx context.Context, call *models.ToolCall, opts *RunOptions, events chan<- *models.ExecutionEvent) string {
	var args struct {
		Content string `json:"content"`
		Tags    string `json:"tags"`
	}
	if err := json.Unmarshal(call.Input, &args); err != nil {
		return l.observeError(ctx, events, fmt.Errorf("parse arguments: %w", err))
	}

	var metadata map[string]any
	if tags := splitTags(args.Tags); len(tags) > 0 {
		metadata = map[string]any{"tags": tags}
	}
	id, err := l.longTerm.Remember(ctx, args.Content, metadata, opts.SessionID)
	if err != nil {
		return l.observeError(ctx, events, err)
	}

	observation := fmt.Sprintf("Memory saved (id: %s)", id)
	l.emit(ctx, events, &models.ExecutionEvent{Type: models.EventObservation, Observation: observation})
	return observation
}

func (l *Loop) handleMemoryRecall(ctx context.Context, call *models.ToolCall, events chan<- *models.ExecutionEvent) string {
	var args struct {
		Query string `json:"query"`
		Limit int    `json:"limit"`
	}
	if err := json.Unmarshal(call.Input, &args); err != nil {
		return l.observeError(ctx, events, fmt.Errorf("parse arguments: %w", err))
	}
	if args.Limit <= 0 {
		args.Limit = memory.DefaultSearchLimit
	}

	results, err := l.longTerm.Search(ctx, args.Query, args.Limit)
	if err != nil {
		return l.observeError(ctx, events, err)
	}

	observation := "No relevant memories found."
	if len(results) > 0 {
		var b strings.Builder
		for _, res := range results {
			b.WriteString("- ")
			b.WriteString(res.Entry.Content)
			b.WriteByte('\n')
		}
		observation = strings.TrimRight(b.String(), "\n")
	}
	l.emit(ctx, events, &models.ExecutionEvent{Type: models.EventObservation, Observation: observation})
	return observation
}

func (l *Loop) handleDAGCreateTask(ctx context.Context, call *models.ToolCall, opts *RunOptions, events chan<- *models.ExecutionEvent) string {
	var args struct {
		Description  string   `json:"description"`
		Dependencies []string `json:"dependencies"`
	}
	if err := json.Unmarshal(call.Input, &args); err != nil {
		return l.observeError(ctx, events, fmt.Errorf("parse arguments: %w", err))
	}

	id, err := l.taskStore.CreateTask(ctx, opts.SessionID, args.Description, args.Dependencies)
	if err != nil {
		return l.observeError(ctx, events, err)
	}

	l.emit(ctx, events, &models.ExecutionEvent{Type: models.EventTaskCreated, TaskID: id})
	return fmt.Sprintf("Task created (id: %s)", id)
}

func (l *Loop) handleDAGGetStatus(ctx context.Context, call *models.ToolCall, opts *RunOptions, events chan<- *models.ExecutionEvent) string {
	dag, err := l.taskStore.GetDAG(ctx, opts.SessionID)
	if err != nil {
		return l.observeError(ctx, events, err)
	}

	observation := "No tasks in this session."
	if len(dag.Tasks) > 0 {
		var b strings.Builder
		for _, task := range dag.Tasks {
			fmt.Fprintf(&b, "- [%s] %s: %s", task.Status, task.ID, task.Description)
			if len(task.Dependencies) > 0 {
				fmt.Fprintf(&b, " (after %s)", strings.Join(task.Dependencies, ", "))
			}
			b.WriteByte('\n')
		}
		observation = strings.TrimRight(b.String(), "\n")
	}
	l.emit(ctx, events, &models.ExecutionEvent{Type: models.EventObservation, Observation: observation})
	return observation
}

// handleDAGExecute runs the task graph, forwarding its per-task events
// into this run's stream.
func (l *Loop) handleDAGExecute(ctx context.Context, call *models.ToolCall, opts *RunOptions, events chan<- *models.ExecutionEvent) string {
	if l.taskExec == nil {
		return l.observeError(ctx, events, fmt.Errorf("task executor is not configured"))
	}

	var completed, failed int
	for ev := range l.taskExec.Execute(ctx, opts.SessionID) {
		switch ev.Type {
		case models.EventTaskCompleted:
			completed++
		case models.EventTaskFailed:
			failed++
		}
		if !l.emit(ctx, events, ev) {
			return "Execution cancelled."
		}
	}

	observation := fmt.Sprintf("Task graph finished: %d completed, %d failed.", completed, failed)
	l.emit(ctx, events, &models.ExecutionEvent{Type: models.EventObservation, Observation: observation})
	return observation
}

// handleSkillTool routes a non-built-in call through the registry with
// the per-call timeout.
func (l *Loop) handleSkillTool(ctx context.Context, call *models.ToolCall, opts *RunOptions, events chan<- *models.ExecutionEvent) string {
	l.emit(ctx, events, &models.ExecutionEvent{
		Type:  models.EventAction,
		Tool:  call.Name,
		Input: call.Input,
	})

	params := map[string]any{}
	if len(call.Input) > 0 {
		if err := json.Unmarshal(call.Input, &params); err != nil {
			return l.observeError(ctx, events, fmt.Errorf("parse arguments: %w", err))
		}
	}

	result, err := l.executeWithTimeout(ctx, call.Name, params, opts)
	if err != nil {
		return l.observeError(ctx, events, err)
	}

	observation := stringify(result)
	l.emit(ctx, events, &models.ExecutionEvent{Type: models.EventObservation, Observation: observation})
	return observation
}

// executeWithTimeout runs the registry call under the tool timeout.
// Expiry cancels the invocation and fails with ErrToolTimeout.
func (l *Loop) executeWithTimeout(ctx context.Context, toolName string, params map[string]any, opts *RunOptions) (any, error) {
	callCtx, cancel := context.WithTimeout(ctx, l.toolTimeout)
	defer cancel()

	type outcome struct {
		result any
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := l.registry.ExecuteAction(callCtx, toolName, params, &skills.ExecutionContext{
			SessionID: opts.SessionID,
			UserID:    opts.UserID,
		})
		done <- outcome{result: result, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			return nil, &ToolExecutionError{Tool: toolName, Err: out.err}
		}
		return out.result, nil
	case <-callCtx.Done():
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s after %v", ErrToolTimeout, toolName, l.toolTimeout)
		}
		return nil, callCtx.Err()
	}
}

// observeError surfaces a tool-side failure as an observation and
// returns the matching tool-reply text.
func (l *Loop) observeError(ctx context.Context, events chan<- *models.ExecutionEvent, err error) string {
	text := "Error: " + err.Error()
	l.emit(ctx, events, &models.ExecutionEvent{
		Type:        models.EventObservation,
		Observation: text,
		IsError:     true,
	})
	return text
}

func (l *Loop) emit(ctx context.Context, events chan<- *models.ExecutionEvent, ev *models.ExecutionEvent) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func splitTags(raw string) []string {
	var tags []string
	for _, tag := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(tag); trimmed != "" {
			tags = append(tags, trimmed)
		}
	}
	return tags
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
