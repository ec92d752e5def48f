package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/strandlabs/strand/internal/skills"
	"github.com/strandlabs/strand/pkg/models"
)

// MaxRounds bounds a single executor run. Hitting the bound ends the
// run with a warning; remaining tasks stay pending.
const MaxRounds = 50

// Executor runs a session's ready tasks in parallel rounds. Each round
// settles completely before the next begins, so completion events for
// round n always precede any event from round n+1.
type Executor struct {
	store    Store
	registry *skills.Registry
	logger   *slog.Logger
}

// NewExecutor creates an executor over the given store and registry.
func NewExecutor(store Store, registry *skills.Registry, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		store:    store,
		registry: registry,
		logger:   logger.With("component", "tasks"),
	}
}

// Execute runs the session's DAG and streams one terminal event per
// task. The run ends when no task is ready or MaxRounds is hit.
func (e *Executor) Execute(ctx context.Context, sessionID string) <-chan *models.ExecutionEvent {
	events := make(chan *models.ExecutionEvent)

	go func() {
		defer close(events)

		for round := 1; ; round++ {
			if round > MaxRounds {
				e.logger.Warn("round limit reached, ending run",
					"session_id", sessionID, "max_rounds", MaxRounds)
				return
			}

			ready, err := e.store.GetReadyTasks(ctx, sessionID)
			if err != nil {
				e.logger.Error("failed to list ready tasks", "error", err)
				emit(ctx, events, &models.ExecutionEvent{
					Type:  models.EventError,
					Error: fmt.Sprintf("task store: %v", err),
				})
				return
			}
			if len(ready) == 0 {
				return
			}

			// Claim before dispatch so a task runs at most once even
			// with concurrent executors on the same session.
			var claimed []*models.Task
			for _, task := range ready {
				ok, err := e.store.ClaimTask(ctx, task.ID)
				if err != nil {
					e.logger.Error("failed to claim task", "task_id", task.ID, "error", err)
					continue
				}
				if ok {
					claimed = append(claimed, task)
				}
			}
			if len(claimed) == 0 {
				return
			}

			results := e.runRound(ctx, claimed)

			// The barrier: every task has settled; persist and emit
			// before the next round can begin.
			for i, task := range claimed {
				res := results[i]
				if res.err != nil {
					if err := e.store.UpdateStatus(ctx, task.ID, models.TaskFailed, "", res.err.Error()); err != nil {
						e.logger.Error("failed to persist task failure", "task_id", task.ID, "error", err)
					}
					if !emit(ctx, events, &models.ExecutionEvent{
						Type:   models.EventTaskFailed,
						TaskID: task.ID,
						Error:  res.err.Error(),
					}) {
						return
					}
					continue
				}
				if err := e.store.UpdateStatus(ctx, task.ID, models.TaskCompleted, res.result, ""); err != nil {
					e.logger.Error("failed to persist task result", "task_id", task.ID, "error", err)
				}
				if !emit(ctx, events, &models.ExecutionEvent{
					Type:   models.EventTaskCompleted,
					TaskID: task.ID,
					Result: res.result,
				}) {
					return
				}
			}
		}
	}()

	return events
}

type taskResult struct {
	result string
	err    error
}

// runRound dispatches the claimed tasks in parallel and waits for all
// of them to settle.
func (e *Executor) runRound(ctx context.Context, tasks []*models.Task) []taskResult {
	results := make([]taskResult, len(tasks))
	var wg sync.WaitGroup
	for i, task := range tasks {
		wg.Add(1)
		go func(i int, task *models.Task) {
			defer wg.Done()
			result, err := e.dispatch(ctx, task)
			results[i] = taskResult{result: result, err: err}
		}(i, task)
	}
	wg.Wait()
	return results
}

// toolDirective is a description of the form {tool, params}, routed
// through the skill registry.
type toolDirective struct {
	Tool   string         `json:"tool"`
	Params map[string]any `json:"params"`
}

// dispatch executes one task. Descriptions that parse as a tool
// directive go through the registry; anything else is acknowledged
// without side effects.
func (e *Executor) dispatch(ctx context.Context, task *models.Task) (string, error) {
	var directive toolDirective
	if err := json.Unmarshal([]byte(task.Description), &directive); err != nil || directive.Tool == "" {
		return "Task noted: " + task.Description, nil
	}

	result, err := e.registry.ExecuteAction(ctx, directive.Tool, directive.Params, &skills.ExecutionContext{
		SessionID: task.SessionID,
	})
	if err != nil {
		return "", err
	}
	return stringify(result), nil
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

func emit(ctx context.Context, events chan<- *models.ExecutionEvent, ev *models.ExecutionEvent) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
