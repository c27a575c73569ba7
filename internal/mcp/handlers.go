package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ldi/stageflow/internal/db"
	sferrors "github.com/ldi/stageflow/internal/errors"
	"github.com/ldi/stageflow/internal/service"
	"github.com/ldi/stageflow/pkg/models"
)

// pipelineStages builds stages from a comma-separated list. The stage named
// final, if any, completes tasks.
func pipelineStages(names, final string) ([]*models.Stage, error) {
	var stages []*models.Stage
	found := final == ""
	for i, name := range splitNames(names) {
		isFinal := final != "" && strings.EqualFold(name, final)
		found = found || isFinal
		stages = append(stages, &models.Stage{Name: name, Order: i + 1, IsFinal: isFinal})
	}
	if !found {
		return nil, sferrors.Newf(sferrors.ErrInvalidInput, "final stage %q is not in the stage list", final)
	}
	return stages, nil
}

func parsePriority(s string) (models.Priority, error) {
	if s == "" {
		return "", nil
	}
	p, err := models.ParsePriority(s)
	if err != nil {
		return "", sferrors.Newf(sferrors.ErrInvalidInput, "%v", err)
	}
	return p, nil
}

func (h *handlers) userID(ctx context.Context, username string) (*string, error) {
	if username == "" {
		return nil, nil
	}
	u, err := h.svc.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	return &u.ID, nil
}

func (h *handlers) task(ctx context.Context, request mcp.CallToolRequest) (*models.Task, error) {
	return h.svc.GetTaskByTitle(ctx,
		mcp.ParseString(request, "workflow_name", ""),
		mcp.ParseString(request, "title", ""))
}

func (h *handlers) stageID(ctx context.Context, workflowName, stageName string) (string, error) {
	w, err := h.svc.GetWorkflowByName(ctx, workflowName)
	if err != nil {
		return "", err
	}
	for _, st := range w.Stages {
		if st.Name == stageName {
			return st.ID, nil
		}
	}
	return "", sferrors.Newf(sferrors.ErrNotFound, "stage %q in workflow %s", stageName, workflowName)
}

func (h *handlers) createWorkflow(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ctx = h.ctx(ctx)
	stages, err := pipelineStages(mcp.ParseString(request, "stages", ""), mcp.ParseString(request, "final_stage", ""))
	if err != nil {
		return errorResult(err)
	}

	w, err := h.svc.CreateWorkflow(ctx, service.WorkflowInput{
		Name:        mcp.ParseString(request, "name", ""),
		Description: mcp.ParseString(request, "description", ""),
		Status:      models.WorkflowStatus(strings.ToUpper(mcp.ParseString(request, "status", ""))),
		Stages:      stages,
	})
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(w)
}

func (h *handlers) getWorkflow(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	w, err := h.svc.GetWorkflowByName(h.ctx(ctx), mcp.ParseString(request, "name", ""))
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(w)
}

func (h *handlers) listWorkflows(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var status *models.WorkflowStatus
	if v := mcp.ParseString(request, "status", ""); v != "" {
		ws := models.WorkflowStatus(strings.ToUpper(v))
		status = &ws
	}
	ws, err := h.svc.ListWorkflows(h.ctx(ctx), status)
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(ws)
}

func (h *handlers) setWorkflowStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ctx = h.ctx(ctx)
	w, err := h.svc.GetWorkflowByName(ctx, mcp.ParseString(request, "name", ""))
	if err != nil {
		return errorResult(err)
	}
	status := models.WorkflowStatus(strings.ToUpper(mcp.ParseString(request, "status", "")))
	if w, err = h.svc.SetWorkflowStatus(ctx, w.ID, status); err != nil {
		return errorResult(err)
	}
	return mcp.NewToolResultText(fmt.Sprintf("Workflow '%s' is now %s", w.Name, w.Status)), nil
}

func (h *handlers) deleteWorkflow(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ctx = h.ctx(ctx)
	name := mcp.ParseString(request, "name", "")
	w, err := h.svc.GetWorkflowByName(ctx, name)
	if err != nil {
		return errorResult(err)
	}
	if err := h.svc.DeleteWorkflow(ctx, w.ID); err != nil {
		return errorResult(err)
	}
	return mcp.NewToolResultText(fmt.Sprintf("Workflow '%s' deleted", name)), nil
}

func (h *handlers) addStage(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ctx = h.ctx(ctx)
	w, err := h.svc.GetWorkflowByName(ctx, mcp.ParseString(request, "workflow_name", ""))
	if err != nil {
		return errorResult(err)
	}

	in := service.StageInput{
		WorkflowID: w.ID,
		Name:       mcp.ParseString(request, "name", ""),
		Order:      optInt(request, "order"),
		IsFinal:    mcp.ParseBoolean(request, "is_final", false),
		Color:      mcp.ParseString(request, "color", ""),
	}
	if v := mcp.ParseString(request, "category", ""); v != "" {
		c, err := models.ParseCategory(v)
		if err != nil {
			return errorResult(err)
		}
		in.Category = &c
	}

	st, err := h.svc.AddStage(ctx, in)
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(st)
}

func (h *handlers) listStages(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	w, err := h.svc.GetWorkflowByName(h.ctx(ctx), mcp.ParseString(request, "workflow_name", ""))
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(w.Stages)
}

func (h *handlers) deleteStage(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ctx = h.ctx(ctx)
	name := mcp.ParseString(request, "name", "")
	id, err := h.stageID(ctx, mcp.ParseString(request, "workflow_name", ""), name)
	if err != nil {
		return errorResult(err)
	}
	if err := h.svc.DeleteStage(ctx, id); err != nil {
		return errorResult(err)
	}
	return mcp.NewToolResultText(fmt.Sprintf("Stage '%s' deleted", name)), nil
}

func (h *handlers) createTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ctx = h.ctx(ctx)
	workflowName := mcp.ParseString(request, "workflow_name", "")
	w, err := h.svc.GetWorkflowByName(ctx, workflowName)
	if err != nil {
		return errorResult(err)
	}
	due, err := parseDate(mcp.ParseString(request, "due_date", ""))
	if err != nil {
		return errorResult(err)
	}
	priority, err := parsePriority(mcp.ParseString(request, "priority", ""))
	if err != nil {
		return errorResult(err)
	}
	assignee, err := h.userID(ctx, mcp.ParseString(request, "assignee", ""))
	if err != nil {
		return errorResult(err)
	}

	in := service.TaskInput{
		WorkflowID:     w.ID,
		Title:          mcp.ParseString(request, "title", ""),
		Description:    mcp.ParseString(request, "description", ""),
		Priority:       priority,
		AssigneeID:     assignee,
		DueDate:        due,
		EstimatedHours: optInt(request, "estimated_hours"),
	}
	if stageName := mcp.ParseString(request, "stage_name", ""); stageName != "" {
		id, err := h.stageID(ctx, workflowName, stageName)
		if err != nil {
			return errorResult(err)
		}
		in.StageID = &id
	}

	t, err := h.svc.CreateTask(ctx, in)
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(t)
}

func (h *handlers) getTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	t, err := h.task(h.ctx(ctx), request)
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(t)
}

func (h *handlers) updateTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ctx = h.ctx(ctx)
	t, err := h.task(ctx, request)
	if err != nil {
		return errorResult(err)
	}

	upd := service.TaskUpdate{
		Title:       optString(request, "new_title"),
		Description: optString(request, "description"),
	}
	if v := optString(request, "priority"); v != nil {
		p, err := parsePriority(*v)
		if err != nil {
			return errorResult(err)
		}
		upd.Priority = &p
	}
	if v := optString(request, "due_date"); v != nil {
		due, err := parseDate(*v)
		if err != nil {
			return errorResult(err)
		}
		upd.DueDate = &due
	}

	if t, err = h.svc.UpdateTask(ctx, t.ID, upd); err != nil {
		return errorResult(err)
	}
	return jsonResult(t)
}

func (h *handlers) deleteTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ctx = h.ctx(ctx)
	t, err := h.task(ctx, request)
	if err != nil {
		return errorResult(err)
	}
	if err := h.svc.DeleteTask(ctx, t.ID); err != nil {
		return errorResult(err)
	}
	return mcp.NewToolResultText(fmt.Sprintf("Task '%s' deleted", t.Title)), nil
}

// moved runs a stage change on the task named in request and reports the
// resulting stage and status.
func (h *handlers) moved(ctx context.Context, request mcp.CallToolRequest, fn func(ctx context.Context, t *models.Task) (*models.Task, error)) (*mcp.CallToolResult, error) {
	ctx = h.ctx(ctx)
	t, err := h.task(ctx, request)
	if err != nil {
		return errorResult(err)
	}
	if t, err = fn(ctx, t); err != nil {
		return errorResult(err)
	}
	stage := "none"
	if t.Stage != nil {
		stage = t.Stage.Name
	}
	return mcp.NewToolResultText(fmt.Sprintf("Task '%s' is on stage '%s' with status %s", t.Title, stage, t.Status)), nil
}

func (h *handlers) moveTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return h.moved(ctx, request, func(ctx context.Context, t *models.Task) (*models.Task, error) {
		id, err := h.stageID(ctx, t.WorkflowName, mcp.ParseString(request, "stage_name", ""))
		if err != nil {
			return nil, err
		}
		return h.svc.ChangeStage(ctx, t.ID, id)
	})
}

func (h *handlers) advanceTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return h.moved(ctx, request, func(ctx context.Context, t *models.Task) (*models.Task, error) {
		return h.svc.AdvanceTask(ctx, t.ID)
	})
}

func (h *handlers) revertTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return h.moved(ctx, request, func(ctx context.Context, t *models.Task) (*models.Task, error) {
		return h.svc.RevertTask(ctx, t.ID)
	})
}

func (h *handlers) completeTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return h.moved(ctx, request, func(ctx context.Context, t *models.Task) (*models.Task, error) {
		return h.svc.CompleteTask(ctx, t.ID, optInt(request, "actual_hours"))
	})
}

func (h *handlers) setTaskStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	c, err := models.ParseCategory(mcp.ParseString(request, "status", ""))
	if err != nil {
		return errorResult(err)
	}
	return h.moved(ctx, request, func(ctx context.Context, t *models.Task) (*models.Task, error) {
		return h.svc.SetCategory(ctx, t.ID, c)
	})
}

func (h *handlers) assignTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ctx = h.ctx(ctx)
	t, err := h.task(ctx, request)
	if err != nil {
		return errorResult(err)
	}
	assignee, err := h.userID(ctx, mcp.ParseString(request, "assignee", ""))
	if err != nil {
		return errorResult(err)
	}
	if t, err = h.svc.AssignTask(ctx, t.ID, assignee); err != nil {
		return errorResult(err)
	}
	return jsonResult(t)
}

func (h *handlers) addComment(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ctx = h.ctx(ctx)
	t, err := h.task(ctx, request)
	if err != nil {
		return errorResult(err)
	}
	c, err := h.svc.AddComment(ctx, t.ID, mcp.ParseString(request, "body", ""))
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(c)
}

func (h *handlers) nextStages(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ctx = h.ctx(ctx)
	t, err := h.task(ctx, request)
	if err != nil {
		return errorResult(err)
	}
	stages, err := h.svc.NextStagesForTask(ctx, t.ID)
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(stages)
}

func pageArgs(request mcp.CallToolRequest) models.PageRequest {
	return models.PageRequest{
		Page:     mcp.ParseInt(request, "page", 1),
		PageSize: mcp.ParseInt(request, "page_size", 0),
	}
}

func (h *handlers) listTasks(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ctx = h.ctx(ctx)
	var f db.TaskFilter

	if name := mcp.ParseString(request, "workflow_name", ""); name != "" {
		w, err := h.svc.GetWorkflowByName(ctx, name)
		if err != nil {
			return errorResult(err)
		}
		f.WorkflowID = &w.ID
	}
	if v := mcp.ParseString(request, "status", ""); v != "" {
		c, err := models.ParseCategory(v)
		if err != nil {
			return errorResult(err)
		}
		f.Status = &c
	}
	if v := mcp.ParseString(request, "priority", ""); v != "" {
		p, err := parsePriority(v)
		if err != nil {
			return errorResult(err)
		}
		f.Priority = &p
	}
	assignee, err := h.userID(ctx, mcp.ParseString(request, "assignee", ""))
	if err != nil {
		return errorResult(err)
	}
	f.AssigneeID = assignee

	page, err := h.svc.FindTasks(ctx, f, pageArgs(request))
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(page)
}

func (h *handlers) searchTasks(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	page, err := h.svc.SearchTasks(h.ctx(ctx), mcp.ParseString(request, "query", ""), pageArgs(request))
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(page)
}

func (h *handlers) overdueTasks(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	page, err := h.svc.OverdueTasks(h.ctx(ctx), pageArgs(request))
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(page)
}

func (h *handlers) workflowStats(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ctx = h.ctx(ctx)
	w, err := h.svc.GetWorkflowByName(ctx, mcp.ParseString(request, "workflow_name", ""))
	if err != nil {
		return errorResult(err)
	}
	stats, err := h.svc.WorkflowStatistics(ctx, w.ID)
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(stats)
}

func (h *handlers) overview(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	o, err := h.svc.Overview(h.ctx(ctx))
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(o)
}

func (h *handlers) stageWorkflow(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := mcp.ParseString(request, "name", "")
	sessionID := mcp.ParseString(request, "session_id", DefaultSession)

	stages, err := pipelineStages(mcp.ParseString(request, "stages", ""), mcp.ParseString(request, "final_stage", ""))
	if err != nil {
		return errorResult(err)
	}
	h.svc.DB().Staging.AddWorkflow(sessionID, &db.StagedWorkflow{
		Workflow: models.Workflow{
			Name:        name,
			Description: mcp.ParseString(request, "description", ""),
		},
		Stages: stages,
	})
	return mcp.NewToolResultText(fmt.Sprintf("Workflow '%s' staged for session '%s'. Propose another or call 'commit_staged_changes' to apply.", name, sessionID)), nil
}

func (h *handlers) stageTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	title := mcp.ParseString(request, "title", "")
	sessionID := mcp.ParseString(request, "session_id", DefaultSession)

	due, err := parseDate(mcp.ParseString(request, "due_date", ""))
	if err != nil {
		return errorResult(err)
	}
	priority, err := parsePriority(mcp.ParseString(request, "priority", ""))
	if err != nil {
		return errorResult(err)
	}

	h.svc.DB().Staging.AddTask(sessionID, &db.StagedTask{
		Task: models.Task{
			Title:       title,
			Description: mcp.ParseString(request, "description", ""),
			Priority:    priority,
			DueDate:     due,
		},
		WorkflowName:     mcp.ParseString(request, "workflow_name", ""),
		StageName:        mcp.ParseString(request, "stage_name", ""),
		AssigneeUsername: mcp.ParseString(request, "assignee", ""),
	})
	return mcp.NewToolResultText(fmt.Sprintf("Task '%s' staged for session '%s'. Propose another or call 'commit_staged_changes' to apply.", title, sessionID)), nil
}

func (h *handlers) commitStagedChanges(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID := mcp.ParseString(request, "session_id", DefaultSession)
	items, err := h.svc.CommitStaged(h.ctx(ctx), sessionID)
	if err != nil {
		return errorResult(err)
	}
	return mcp.NewToolResultText(fmt.Sprintf("Staged changes for session '%s' committed successfully: %d workflows, %d tasks",
		sessionID, len(items.Workflows), len(items.Tasks))), nil
}

func (h *handlers) listStagedChanges(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID := mcp.ParseString(request, "session_id", DefaultSession)
	return jsonResult(h.svc.DB().Staging.Peek(sessionID))
}
