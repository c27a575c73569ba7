package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ldi/stageflow/internal/db"
	"github.com/ldi/stageflow/internal/identity"
	"github.com/ldi/stageflow/internal/service"
	"github.com/ldi/stageflow/pkg/models"
)

func newTestService(t *testing.T) *service.Service {
	t.Helper()
	database, err := db.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, database.Init(context.Background()))
	return service.New(database)
}

// call invokes a tool and returns its text content.
func call(t *testing.T, s *server.MCPServer, name string, args map[string]any) (string, bool) {
	t.Helper()
	tool := s.GetTool(name)
	require.NotNil(t, tool, "tool %s not registered", name)

	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	result, err := tool.Handler(context.Background(), req)
	require.NoError(t, err)
	require.NotEmpty(t, result.Content)
	return result.Content[0].(mcp.TextContent).Text, result.IsError
}

func mustCall(t *testing.T, s *server.MCPServer, name string, args map[string]any) string {
	t.Helper()
	text, isErr := call(t, s, name, args)
	require.False(t, isErr, "%s: %s", name, text)
	return text
}

func TestServerInitialization(t *testing.T) {
	s := NewServer(newTestService(t), WithVersion("1.2.3"))
	stdio := server.NewStdioServer(s)

	r, w := io.Pipe()
	stdout := &bytes.Buffer{}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	go func() {
		_ = stdio.Listen(ctx, r, stdout)
	}()

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "test-client", Version: "1.0.0"}

	// Written by hand so the message carries jsonrpc and id.
	data, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "initialize",
		"params":  initReq.Params,
	})
	require.NoError(t, err)
	_, _ = w.Write(append(data, '\n'))

	time.Sleep(200 * time.Millisecond)
	require.NotZero(t, stdout.Len(), "expected a response from the server")

	var resp struct {
		ID     int `json:"id"`
		Result struct {
			ServerInfo struct {
				Name    string `json:"name"`
				Version string `json:"version"`
			} `json:"serverInfo"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &resp), stdout.String())
	assert.Equal(t, 1, resp.ID)
	assert.Equal(t, "Stageflow", resp.Result.ServerInfo.Name)
	assert.Equal(t, "1.2.3", resp.Result.ServerInfo.Version)
}

func TestToolHandlers(t *testing.T) {
	svc := newTestService(t)
	sysCtx := identity.WithPrincipal(context.Background(), identity.System)
	alice := &models.User{Username: "alice", Enabled: true}
	require.NoError(t, svc.CreateUser(sysCtx, alice))

	s := NewServer(svc, WithPrincipal(&identity.Principal{UserID: alice.ID}))

	t.Run("create_workflow", func(t *testing.T) {
		text := mustCall(t, s, "create_workflow", map[string]any{
			"name":        "Release",
			"status":      "active",
			"stages":      "To Do, In Progress, On Hold, Done",
			"final_stage": "Done",
		})
		var w models.Workflow
		require.NoError(t, json.Unmarshal([]byte(text), &w))
		assert.Equal(t, models.WorkflowStatusActive, w.Status)
		assert.Equal(t, alice.ID, w.CreatorID)
		require.Len(t, w.Stages, 4)
		assert.True(t, w.Stages[3].IsFinal)
	})

	t.Run("create_workflow with unknown final stage", func(t *testing.T) {
		_, isErr := call(t, s, "create_workflow", map[string]any{
			"name":        "Broken",
			"stages":      "A, B",
			"final_stage": "C",
		})
		assert.True(t, isErr)
	})

	t.Run("create_task", func(t *testing.T) {
		text := mustCall(t, s, "create_task", map[string]any{
			"workflow_name":   "Release",
			"title":           "Tag v1.0",
			"due_date":        "2030-01-15",
			"priority":        "high",
			"assignee":        "alice",
			"estimated_hours": 4.0,
		})
		var task models.Task
		require.NoError(t, json.Unmarshal([]byte(text), &task))
		assert.Equal(t, models.PriorityHigh, task.Priority)
		assert.Equal(t, models.CategoryPending, task.Status)
		require.NotNil(t, task.AssigneeID)
		assert.Equal(t, alice.ID, *task.AssigneeID)
		require.NotNil(t, task.EstimatedHours)
		assert.Equal(t, 4, *task.EstimatedHours)
	})

	t.Run("create_task with bad date", func(t *testing.T) {
		text, isErr := call(t, s, "create_task", map[string]any{
			"workflow_name": "Release",
			"title":         "Later",
			"due_date":      "next week",
		})
		assert.True(t, isErr)
		assert.Contains(t, text, "due date")
	})

	t.Run("advance_task", func(t *testing.T) {
		text := mustCall(t, s, "advance_task", map[string]any{"workflow_name": "Release", "title": "Tag v1.0"})
		assert.Contains(t, text, "In Progress")
		assert.Contains(t, text, string(models.CategoryInProgress))
	})

	t.Run("set_task_status", func(t *testing.T) {
		text := mustCall(t, s, "set_task_status", map[string]any{"workflow_name": "Release", "title": "Tag v1.0", "status": "on hold"})
		assert.Contains(t, text, string(models.CategoryOnHold))
	})

	t.Run("next_stages", func(t *testing.T) {
		text := mustCall(t, s, "next_stages", map[string]any{"workflow_name": "Release", "title": "Tag v1.0"})
		var stages []*models.Stage
		require.NoError(t, json.Unmarshal([]byte(text), &stages))
		require.Len(t, stages, 1)
		assert.Equal(t, "Done", stages[0].Name)
	})

	t.Run("complete_task", func(t *testing.T) {
		text := mustCall(t, s, "complete_task", map[string]any{"workflow_name": "Release", "title": "Tag v1.0", "actual_hours": 5.0})
		assert.Contains(t, text, string(models.CategoryCompleted))

		text = mustCall(t, s, "get_task", map[string]any{"workflow_name": "Release", "title": "tag v1.0"})
		var task models.Task
		require.NoError(t, json.Unmarshal([]byte(text), &task))
		assert.NotNil(t, task.CompletedAt)
		require.NotNil(t, task.ActualHours)
		assert.Equal(t, 5, *task.ActualHours)
	})

	t.Run("list_tasks", func(t *testing.T) {
		text := mustCall(t, s, "list_tasks", map[string]any{"workflow_name": "Release", "status": "completed"})
		var page models.Page[*models.Task]
		require.NoError(t, json.Unmarshal([]byte(text), &page))
		assert.Equal(t, 1, page.Total)
	})

	t.Run("workflow_stats", func(t *testing.T) {
		text := mustCall(t, s, "workflow_stats", map[string]any{"workflow_name": "Release"})
		var stats models.WorkflowStats
		require.NoError(t, json.Unmarshal([]byte(text), &stats))
		assert.Equal(t, 1, stats.Total)
		assert.Equal(t, 1, stats.Completed)
	})

	t.Run("delete_stage in use", func(t *testing.T) {
		_, isErr := call(t, s, "delete_stage", map[string]any{"workflow_name": "Release", "name": "Done"})
		assert.True(t, isErr)
	})

	t.Run("unknown task", func(t *testing.T) {
		text, isErr := call(t, s, "get_task", map[string]any{"workflow_name": "Release", "title": "missing"})
		assert.True(t, isErr)
		assert.Contains(t, text, "not found")
	})
}

func TestStagingTools(t *testing.T) {
	svc := newTestService(t)
	s := NewServer(svc)

	mustCall(t, s, "stage_workflow", map[string]any{
		"name":        "Hiring",
		"stages":      "Applied, Working, Hired",
		"final_stage": "Hired",
		"session_id":  "plan",
	})
	mustCall(t, s, "stage_task", map[string]any{
		"workflow_name": "Hiring",
		"title":         "Backend engineer",
		"stage_name":    "Working",
		"due_date":      "2030-03-01T09:00:00Z",
		"session_id":    "plan",
	})

	text := mustCall(t, s, "list_staged_changes", map[string]any{"session_id": "plan"})
	var staged db.StagedItems
	require.NoError(t, json.Unmarshal([]byte(text), &staged))
	assert.Len(t, staged.Workflows, 1)
	assert.Len(t, staged.Tasks, 1)

	text = mustCall(t, s, "commit_staged_changes", map[string]any{"session_id": "plan"})
	assert.Contains(t, text, "1 workflows, 1 tasks")

	text = mustCall(t, s, "get_task", map[string]any{"workflow_name": "Hiring", "title": "Backend engineer"})
	var task models.Task
	require.NoError(t, json.Unmarshal([]byte(text), &task))
	assert.Equal(t, models.CategoryInProgress, task.Status)
	assert.Equal(t, identity.System.UserID, task.CreatorID)

	text = mustCall(t, s, "list_staged_changes", map[string]any{"session_id": "plan"})
	require.NoError(t, json.Unmarshal([]byte(text), &staged))
	assert.Empty(t, staged.Workflows)
}
