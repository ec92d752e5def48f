package agent

import (
	"encoding/json"

	"github.com/strandlabs/strand/pkg/models"
)

// Built-in tool names. These are handled inside the loop and never
// routed through the skill registry.
const (
	ToolPlanTask       = "plan_task"
	ToolMemoryRemember = "memory_remember"
	ToolMemoryRecall   = "memory_recall"
	ToolDAGCreateTask  = "dag_create_task"
	ToolDAGGetStatus   = "dag_get_status"
	ToolDAGExecute     = "dag_execute"
)

var planTaskTool = &models.ToolDescriptor{
	Name:        ToolPlanTask,
	Description: "Record your reasoning and an ordered plan of steps before acting on a multi-step request.",
	Parameters: json.RawMessage(`{
		"type": "object",
		"properties": {
			"thought": {"type": "string", "description": "Your reasoning about the request"},
			"steps": {"type": "array", "items": {"type": "string"}, "description": "Ordered steps to carry out"}
		},
		"required": ["thought", "steps"]
	}`),
}

var memoryRememberTool = &models.ToolDescriptor{
	Name:        ToolMemoryRemember,
	Description: "Save an important fact to long-term memory for future conversations.",
	Parameters: json.RawMessage(`{
		"type": "object",
		"properties": {
			"content": {"type": "string", "description": "The fact to remember"},
			"tags": {"type": "string", "description": "Optional comma-separated tags"}
		},
		"required": ["content"]
	}`),
}

var memoryRecallTool = &models.ToolDescriptor{
	Name:        ToolMemoryRecall,
	Description: "Search long-term memory for facts relevant to a query.",
	Parameters: json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {"type": "string", "description": "What to search for"},
			"limit": {"type": "number", "description": "Maximum entries to return"}
		},
		"required": ["query"]
	}`),
}

var dagCreateTaskTool = &models.ToolDescriptor{
	Name:        ToolDAGCreateTask,
	Description: "Create a task in the session's task graph. Dependencies are IDs of tasks that must complete first.",
	Parameters: json.RawMessage(`{
		"type": "object",
		"properties": {
			"description": {"type": "string", "description": "What the task should do, or a JSON {tool, params} directive"},
			"dependencies": {"type": "array", "items": {"type": "string"}, "description": "IDs of prerequisite tasks"}
		},
		"required": ["description"]
	}`),
}

var dagGetStatusTool = &models.ToolDescriptor{
	Name:        ToolDAGGetStatus,
	Description: "List the session's tasks with their statuses and dependencies.",
	Parameters:  json.RawMessage(`{"type": "object", "properties": {}}`),
}

var dagExecuteTool = &models.ToolDescriptor{
	Name:        ToolDAGExecute,
	Description: "Run the session's task graph: ready tasks execute in parallel rounds until none remain.",
	Parameters:  json.RawMessage(`{"type": "object", "properties": {}}`),
}

// builtinTools assembles the built-in descriptor list for a run:
// plan_task always, memory tools iff long-term memory is configured,
// DAG tools iff the task graph is enabled.
func (l *Loop) builtinTools() []*models.ToolDescriptor {
	tools := []*models.ToolDescriptor{planTaskTool}
	if l.longTerm != nil {
		tools = append(tools, memoryRememberTool, memoryRecallTool)
	}
	if l.taskStore != nil {
		tools = append(tools, dagCreateTaskTool, dagGetStatusTool, dagExecuteTool)
	}
	return tools
}
