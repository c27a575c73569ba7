package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ldi/stageflow/internal/identity"
	"github.com/ldi/stageflow/internal/service"
)

// DefaultSession is the staging session used when a tool call names none.
const DefaultSession = "default"

// Option configures the tool server.
type Option func(*handlers)

// WithPrincipal sets the identity every tool call acts as. Without it tools
// act as identity.System.
func WithPrincipal(p *identity.Principal) Option {
	return func(h *handlers) {
		h.principal = p
	}
}

// WithVersion sets the version reported to clients.
func WithVersion(v string) Option {
	return func(h *handlers) {
		h.version = v
	}
}

type handlers struct {
	svc       *service.Service
	principal *identity.Principal
	version   string
}

// NewServer creates a new MCP server over svc.
func NewServer(svc *service.Service, opts ...Option) *server.MCPServer {
	h := &handlers{svc: svc, principal: identity.System, version: "dev"}
	for _, opt := range opts {
		opt(h)
	}

	s := server.NewMCPServer("Stageflow", h.version)

	// Workflow Management
	s.AddTool(mcp.NewTool("create_workflow",
		mcp.WithDescription("Create a workflow with an ordered pipeline of stages."),
		mcp.WithString("name", mcp.Description("Workflow name (max 100 chars, unique)"), mcp.Required()),
		mcp.WithString("description", mcp.Description("Workflow description")),
		mcp.WithString("status", mcp.Description("DRAFT|ACTIVE|INACTIVE|ARCHIVED (defaults to DRAFT)")),
		mcp.WithString("stages", mcp.Description("Comma-separated stage names in pipeline order")),
		mcp.WithString("final_stage", mcp.Description("Name of the stage that completes a task")),
	), h.createWorkflow)

	s.AddTool(mcp.NewTool("get_workflow",
		mcp.WithDescription("Get a workflow and its stages by name."),
		mcp.WithString("name", mcp.Description("Workflow name"), mcp.Required()),
	), h.getWorkflow)

	s.AddTool(mcp.NewTool("list_workflows",
		mcp.WithDescription("List workflows."),
		mcp.WithString("status", mcp.Description("Filter by workflow status")),
	), h.listWorkflows)

	s.AddTool(mcp.NewTool("set_workflow_status",
		mcp.WithDescription("Change a workflow's own status. Task statuses are unaffected."),
		mcp.WithString("name", mcp.Description("Workflow name"), mcp.Required()),
		mcp.WithString("status", mcp.Description("DRAFT|ACTIVE|INACTIVE|ARCHIVED"), mcp.Required()),
	), h.setWorkflowStatus)

	s.AddTool(mcp.NewTool("delete_workflow",
		mcp.WithDescription("Delete a workflow that has no tasks, with its stages."),
		mcp.WithString("name", mcp.Description("Workflow name"), mcp.Required()),
	), h.deleteWorkflow)

	// Stage Management
	s.AddTool(mcp.NewTool("add_stage",
		mcp.WithDescription("Add a stage to a workflow's pipeline."),
		mcp.WithString("workflow_name", mcp.Description("Workflow name"), mcp.Required()),
		mcp.WithString("name", mcp.Description("Stage name (unique within the workflow)"), mcp.Required()),
		mcp.WithNumber("order", mcp.Description("Position in the pipeline (defaults to last)")),
		mcp.WithBoolean("is_final", mcp.Description("Whether reaching this stage completes the task")),
		mcp.WithString("category", mcp.Description("Explicit status: PENDING|IN_PROGRESS|ON_HOLD|CANCELLED")),
		mcp.WithString("color", mcp.Description("Hex color such as #1f77b4")),
	), h.addStage)

	s.AddTool(mcp.NewTool("list_stages",
		mcp.WithDescription("List a workflow's stages in pipeline order."),
		mcp.WithString("workflow_name", mcp.Description("Workflow name"), mcp.Required()),
	), h.listStages)

	s.AddTool(mcp.NewTool("delete_stage",
		mcp.WithDescription("Delete a stage that no task occupies."),
		mcp.WithString("workflow_name", mcp.Description("Workflow name"), mcp.Required()),
		mcp.WithString("name", mcp.Description("Stage name"), mcp.Required()),
	), h.deleteStage)

	// Task Management
	s.AddTool(mcp.NewTool("create_task",
		mcp.WithDescription("Create a task. Without a stage it starts on the workflow's first stage."),
		mcp.WithString("workflow_name", mcp.Description("Workflow name"), mcp.Required()),
		mcp.WithString("title", mcp.Description("Task title (max 200 chars, unique within the workflow)"), mcp.Required()),
		mcp.WithString("due_date", mcp.Description("Due date, RFC 3339 or YYYY-MM-DD"), mcp.Required()),
		mcp.WithString("description", mcp.Description("Task description")),
		mcp.WithString("priority", mcp.Description("LOW|MEDIUM|HIGH|URGENT (defaults to MEDIUM)")),
		mcp.WithString("stage_name", mcp.Description("Initial stage")),
		mcp.WithString("assignee", mcp.Description("Assignee username")),
		mcp.WithNumber("estimated_hours", mcp.Description("Estimated effort in hours")),
	), h.createTask)

	s.AddTool(mcp.NewTool("get_task",
		mcp.WithDescription("Get a task with its derived status."),
		mcp.WithString("workflow_name", mcp.Description("Workflow name"), mcp.Required()),
		mcp.WithString("title", mcp.Description("Task title"), mcp.Required()),
	), h.getTask)

	s.AddTool(mcp.NewTool("update_task",
		mcp.WithDescription("Update a task's details."),
		mcp.WithString("workflow_name", mcp.Description("Workflow name"), mcp.Required()),
		mcp.WithString("title", mcp.Description("Task title"), mcp.Required()),
		mcp.WithString("new_title", mcp.Description("New title")),
		mcp.WithString("description", mcp.Description("New description")),
		mcp.WithString("priority", mcp.Description("New priority")),
		mcp.WithString("due_date", mcp.Description("New due date")),
	), h.updateTask)

	s.AddTool(mcp.NewTool("delete_task",
		mcp.WithDescription("Delete a task."),
		mcp.WithString("workflow_name", mcp.Description("Workflow name"), mcp.Required()),
		mcp.WithString("title", mcp.Description("Task title"), mcp.Required()),
	), h.deleteTask)

	s.AddTool(mcp.NewTool("move_task",
		mcp.WithDescription("Move a task to a named stage of its workflow."),
		mcp.WithString("workflow_name", mcp.Description("Workflow name"), mcp.Required()),
		mcp.WithString("title", mcp.Description("Task title"), mcp.Required()),
		mcp.WithString("stage_name", mcp.Description("Target stage"), mcp.Required()),
	), h.moveTask)

	s.AddTool(mcp.NewTool("advance_task",
		mcp.WithDescription("Move a task to the next stage in its pipeline."),
		mcp.WithString("workflow_name", mcp.Description("Workflow name"), mcp.Required()),
		mcp.WithString("title", mcp.Description("Task title"), mcp.Required()),
	), h.advanceTask)

	s.AddTool(mcp.NewTool("revert_task",
		mcp.WithDescription("Move a task back to the previous stage."),
		mcp.WithString("workflow_name", mcp.Description("Workflow name"), mcp.Required()),
		mcp.WithString("title", mcp.Description("Task title"), mcp.Required()),
	), h.revertTask)

	s.AddTool(mcp.NewTool("complete_task",
		mcp.WithDescription("Move a task to its workflow's final stage."),
		mcp.WithString("workflow_name", mcp.Description("Workflow name"), mcp.Required()),
		mcp.WithString("title", mcp.Description("Task title"), mcp.Required()),
		mcp.WithNumber("actual_hours", mcp.Description("Hours actually spent")),
	), h.completeTask)

	s.AddTool(mcp.NewTool("set_task_status",
		mcp.WithDescription("Move a task to the first stage that yields the given status."),
		mcp.WithString("workflow_name", mcp.Description("Workflow name"), mcp.Required()),
		mcp.WithString("title", mcp.Description("Task title"), mcp.Required()),
		mcp.WithString("status", mcp.Description("PENDING|IN_PROGRESS|ON_HOLD|CANCELLED|COMPLETED"), mcp.Required()),
	), h.setTaskStatus)

	s.AddTool(mcp.NewTool("assign_task",
		mcp.WithDescription("Assign a task to a user, or unassign it with an empty assignee."),
		mcp.WithString("workflow_name", mcp.Description("Workflow name"), mcp.Required()),
		mcp.WithString("title", mcp.Description("Task title"), mcp.Required()),
		mcp.WithString("assignee", mcp.Description("Assignee username")),
	), h.assignTask)

	s.AddTool(mcp.NewTool("add_comment",
		mcp.WithDescription("Comment on a task."),
		mcp.WithString("workflow_name", mcp.Description("Workflow name"), mcp.Required()),
		mcp.WithString("title", mcp.Description("Task title"), mcp.Required()),
		mcp.WithString("body", mcp.Description("Comment text (max 1000 chars)"), mcp.Required()),
	), h.addComment)

	s.AddTool(mcp.NewTool("next_stages",
		mcp.WithDescription("List the stages after a task's current stage."),
		mcp.WithString("workflow_name", mcp.Description("Workflow name"), mcp.Required()),
		mcp.WithString("title", mcp.Description("Task title"), mcp.Required()),
	), h.nextStages)

	// Queries
	s.AddTool(mcp.NewTool("list_tasks",
		mcp.WithDescription("List tasks with optional filters."),
		mcp.WithString("workflow_name", mcp.Description("Filter by workflow")),
		mcp.WithString("status", mcp.Description("Filter by derived status")),
		mcp.WithString("priority", mcp.Description("Filter by priority")),
		mcp.WithString("assignee", mcp.Description("Filter by assignee username")),
		mcp.WithNumber("page", mcp.Description("Page number, from 1")),
		mcp.WithNumber("page_size", mcp.Description("Items per page")),
	), h.listTasks)

	s.AddTool(mcp.NewTool("search_tasks",
		mcp.WithDescription("Search task titles and descriptions."),
		mcp.WithString("query", mcp.Description("Search term"), mcp.Required()),
		mcp.WithNumber("page", mcp.Description("Page number, from 1")),
	), h.searchTasks)

	s.AddTool(mcp.NewTool("overdue_tasks",
		mcp.WithDescription("List tasks past their due date that are not completed."),
		mcp.WithNumber("page", mcp.Description("Page number, from 1")),
	), h.overdueTasks)

	s.AddTool(mcp.NewTool("workflow_stats",
		mcp.WithDescription("Count a workflow's tasks by status."),
		mcp.WithString("workflow_name", mcp.Description("Workflow name"), mcp.Required()),
	), h.workflowStats)

	s.AddTool(mcp.NewTool("overview",
		mcp.WithDescription("Get system-wide counts."),
	), h.overview)

	// Staging Management
	s.AddTool(mcp.NewTool("stage_workflow",
		mcp.WithDescription("Propose a workflow. Changes are staged and must be committed to take effect."),
		mcp.WithString("name", mcp.Description("Workflow name"), mcp.Required()),
		mcp.WithString("description", mcp.Description("Workflow description")),
		mcp.WithString("stages", mcp.Description("Comma-separated stage names in pipeline order")),
		mcp.WithString("final_stage", mcp.Description("Name of the stage that completes a task")),
		mcp.WithString("session_id", mcp.Description("Session ID for staging changes (defaults to 'default').")),
	), h.stageWorkflow)

	s.AddTool(mcp.NewTool("stage_task",
		mcp.WithDescription("Propose a task. Changes are staged and must be committed to take effect."),
		mcp.WithString("workflow_name", mcp.Description("Workflow name, staged or existing"), mcp.Required()),
		mcp.WithString("title", mcp.Description("Task title"), mcp.Required()),
		mcp.WithString("due_date", mcp.Description("Due date, RFC 3339 or YYYY-MM-DD"), mcp.Required()),
		mcp.WithString("description", mcp.Description("Task description")),
		mcp.WithString("priority", mcp.Description("LOW|MEDIUM|HIGH|URGENT")),
		mcp.WithString("stage_name", mcp.Description("Initial stage")),
		mcp.WithString("assignee", mcp.Description("Assignee username")),
		mcp.WithString("session_id", mcp.Description("Session ID for staging changes (defaults to 'default').")),
	), h.stageTask)

	s.AddTool(mcp.NewTool("commit_staged_changes",
		mcp.WithDescription("Commit all staged changes for a session in one transaction."),
		mcp.WithString("session_id", mcp.Description("Session ID (defaults to 'default').")),
	), h.commitStagedChanges)

	s.AddTool(mcp.NewTool("list_staged_changes",
		mcp.WithDescription("List all staged changes for a session. Use this to review a proposed plan before committing."),
		mcp.WithString("session_id", mcp.Description("Session ID (defaults to 'default').")),
	), h.listStagedChanges)

	return s
}

// Serve starts the MCP server on stdio.
func Serve(s *server.MCPServer) error {
	return server.ServeStdio(s)
}

func (h *handlers) ctx(ctx context.Context) context.Context {
	return identity.WithPrincipal(ctx, h.principal)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func errorResult(err error) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultError(err.Error()), nil
}

// optString returns the argument only when the caller passed it.
func optString(request mcp.CallToolRequest, key string) *string {
	args, _ := request.Params.Arguments.(map[string]any)
	if v, ok := args[key].(string); ok {
		return &v
	}
	return nil
}

func optInt(request mcp.CallToolRequest, key string) *int {
	args, _ := request.Params.Arguments.(map[string]any)
	if _, ok := args[key]; !ok {
		return nil
	}
	v := mcp.ParseInt(request, key, 0)
	return &v
}

// parseDate accepts RFC 3339 timestamps and plain dates.
func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("due date %q: use RFC 3339 or YYYY-MM-DD", s)
	}
	return t, nil
}

func splitNames(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
