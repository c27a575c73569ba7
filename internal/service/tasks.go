package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ldi/stageflow/internal/db"
	sferrors "github.com/ldi/stageflow/internal/errors"
	"github.com/ldi/stageflow/internal/identity"
	"github.com/ldi/stageflow/internal/pipeline"
	"github.com/ldi/stageflow/pkg/models"
)

// TaskInput describes a new task. Without StageID the task starts on the
// workflow's first stage, or with no stage when the pipeline is empty.
type TaskInput struct {
	WorkflowID     string          `json:"workflow_id"`
	StageID        *string         `json:"stage_id,omitempty"`
	Title          string          `json:"title"`
	Description    string          `json:"description"`
	Priority       models.Priority `json:"priority,omitempty"`
	AssigneeID     *string         `json:"assignee_id,omitempty"`
	DueDate        time.Time       `json:"due_date"`
	EstimatedHours *int            `json:"estimated_hours,omitempty"`
}

// TaskUpdate changes the fields that are set. Stage and assignee have their
// own operations.
type TaskUpdate struct {
	Title          *string          `json:"title,omitempty"`
	Description    *string          `json:"description,omitempty"`
	Priority       *models.Priority `json:"priority,omitempty"`
	DueDate        *time.Time       `json:"due_date,omitempty"`
	EstimatedHours *int             `json:"estimated_hours,omitempty"`
	ActualHours    *int             `json:"actual_hours,omitempty"`
}

// CreateTask creates a task owned by the calling principal.
func (s *Service) CreateTask(ctx context.Context, in TaskInput) (*models.Task, error) {
	creator := identity.FromContext(ctx).ActorID()
	if creator == nil {
		return nil, sferrors.Newf(sferrors.ErrInvalidInput, "creator is required")
	}

	t := &models.Task{
		WorkflowID:     in.WorkflowID,
		Title:          strings.TrimSpace(in.Title),
		Description:    in.Description,
		Priority:       in.Priority,
		AssigneeID:     in.AssigneeID,
		CreatorID:      *creator,
		DueDate:        in.DueDate,
		EstimatedHours: in.EstimatedHours,
	}
	if t.Priority == "" {
		t.Priority = models.PriorityMedium
	}
	if err := validateTask(t); err != nil {
		return nil, err
	}

	err := s.mutate(ctx, "create_task", func(r *db.Repo, fx *effects) error {
		if err := s.authorize(ctx, ActionTaskCreate, Resource{Kind: "workflow", ID: in.WorkflowID}); err != nil {
			return err
		}
		w, err := r.GetWorkflow(ctx, in.WorkflowID)
		if err != nil {
			return err
		}
		t.WorkflowName = w.Name

		var stage *models.Stage
		if in.StageID != nil {
			if stage, err = r.GetStage(ctx, *in.StageID); err != nil {
				return err
			}
			if err := stageInWorkflow(stage, w.ID); err != nil {
				return err
			}
		} else if stage, err = r.FirstStage(ctx, w.ID); err != nil {
			return err
		}

		if err := s.checkUser(ctx, r, t.AssigneeID); err != nil {
			return err
		}
		exists, err := r.TaskTitleExists(ctx, w.ID, t.Title, "")
		if err != nil {
			return err
		}
		if exists {
			return sferrors.Newf(sferrors.ErrDuplicateName, "task %q in workflow %s", t.Title, w.Name)
		}

		t.MoveTo(stage, fx.now)
		if err := r.CreateTask(ctx, t); err != nil {
			return err
		}

		fx.audit(models.ActionCreate, "task", t.ID, "Created task: "+t.Title, nil, ptr(string(t.Status)))
		if t.AssigneeID != nil {
			fx.notify(models.NotificationTaskAssigned, "Task assigned", "You were assigned: "+t.Title, t.ID, t.AssigneeID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("task_id", t.ID).Str("workflow_id", t.WorkflowID).Str("status", string(t.Status)).Msg("task created")
	return t, nil
}

func (s *Service) checkUser(ctx context.Context, r *db.Repo, id *string) error {
	if id == nil {
		return nil
	}
	_, err := r.GetUser(ctx, *id)
	return err
}

// GetTask returns a task with its derived status.
func (s *Service) GetTask(ctx context.Context, id string) (*models.Task, error) {
	start := time.Now()
	t, err := s.db.GetTask(ctx, id)
	s.read("get_task", start, err)
	return t, err
}

// GetTaskByTitle returns the task titled title in the named workflow.
func (s *Service) GetTaskByTitle(ctx context.Context, workflowName, title string) (*models.Task, error) {
	start := time.Now()
	t, err := func() (*models.Task, error) {
		w, err := s.db.GetWorkflowByName(ctx, workflowName)
		if err != nil {
			return nil, err
		}
		return s.db.GetTaskByTitle(ctx, w.ID, title)
	}()
	s.read("get_task", start, err)
	return t, err
}

// UpdateTask applies upd to a task.
func (s *Service) UpdateTask(ctx context.Context, id string, upd TaskUpdate) (*models.Task, error) {
	var t *models.Task
	err := s.mutate(ctx, "update_task", func(r *db.Repo, fx *effects) error {
		var err error
		if t, err = r.GetTask(ctx, id); err != nil {
			return err
		}
		if err := s.authorize(ctx, ActionTaskUpdate, taskResource(t)); err != nil {
			return err
		}

		oldTitle := t.Title
		if upd.Title != nil {
			t.Title = strings.TrimSpace(*upd.Title)
		}
		if upd.Description != nil {
			t.Description = *upd.Description
		}
		if upd.Priority != nil {
			t.Priority = *upd.Priority
		}
		if upd.DueDate != nil {
			t.DueDate = *upd.DueDate
		}
		if upd.EstimatedHours != nil {
			t.EstimatedHours = upd.EstimatedHours
		}
		if upd.ActualHours != nil {
			t.ActualHours = upd.ActualHours
		}
		if err := validateTask(t); err != nil {
			return err
		}
		if t.Title != oldTitle {
			exists, err := r.TaskTitleExists(ctx, t.WorkflowID, t.Title, t.ID)
			if err != nil {
				return err
			}
			if exists {
				return sferrors.Newf(sferrors.ErrDuplicateName, "task %q", t.Title)
			}
		}
		if err := r.UpdateTask(ctx, t); err != nil {
			return err
		}

		fx.audit(models.ActionUpdate, "task", t.ID, "Updated task: "+t.Title, ptr(oldTitle), ptr(t.Title))
		fx.notify(models.NotificationTaskUpdated, "Task updated", "Task updated: "+t.Title, t.ID, t.AssigneeID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// DeleteTask removes a task and its comments.
func (s *Service) DeleteTask(ctx context.Context, id string) error {
	return s.mutate(ctx, "delete_task", func(r *db.Repo, fx *effects) error {
		t, err := r.GetTask(ctx, id)
		if err != nil {
			return err
		}
		if err := s.authorize(ctx, ActionTaskDelete, taskResource(t)); err != nil {
			return err
		}
		if err := r.DeleteTask(ctx, id); err != nil {
			return err
		}
		fx.audit(models.ActionDelete, "task", t.ID, "Deleted task: "+t.Title, ptr(t.Title), nil)
		return nil
	})
}

// ChangeStage moves a task onto stageID, which must belong to the task's
// workflow.
func (s *Service) ChangeStage(ctx context.Context, taskID, stageID string) (*models.Task, error) {
	return s.move(ctx, "change_stage", taskID, func(r *db.Repo, t *models.Task) (*models.Stage, error) {
		return r.GetStage(ctx, stageID)
	})
}

// AdvanceTask moves a task to the next stage of its pipeline. A task with no
// stage moves to the first one.
func (s *Service) AdvanceTask(ctx context.Context, taskID string) (*models.Task, error) {
	return s.move(ctx, "advance_task", taskID, func(r *db.Repo, t *models.Task) (*models.Stage, error) {
		var (
			next *models.Stage
			err  error
		)
		if t.Stage == nil {
			next, err = r.FirstStage(ctx, t.WorkflowID)
		} else {
			next, err = r.NextStage(ctx, t.WorkflowID, t.Stage.Order)
		}
		if err != nil {
			return nil, err
		}
		if next == nil {
			return nil, sferrors.Newf(sferrors.ErrInvalidState, "task %q is already at the end of its pipeline", t.Title)
		}
		return next, nil
	})
}

// RevertTask moves a task back to the previous stage.
func (s *Service) RevertTask(ctx context.Context, taskID string) (*models.Task, error) {
	return s.move(ctx, "revert_task", taskID, func(r *db.Repo, t *models.Task) (*models.Stage, error) {
		if t.Stage == nil {
			return nil, sferrors.Newf(sferrors.ErrInvalidState, "task %q has not started", t.Title)
		}
		prev, err := r.PreviousStage(ctx, t.WorkflowID, t.Stage.Order)
		if err != nil {
			return nil, err
		}
		if prev == nil {
			return nil, sferrors.Newf(sferrors.ErrInvalidState, "task %q is already at the first stage", t.Title)
		}
		return prev, nil
	})
}

// CompleteTask moves a task to the first final stage of its pipeline and
// records actualHours when given.
func (s *Service) CompleteTask(ctx context.Context, taskID string, actualHours *int) (*models.Task, error) {
	if err := nonNegative("actual hours", actualHours); err != nil {
		return nil, err
	}
	return s.move(ctx, "complete_task", taskID, func(r *db.Repo, t *models.Task) (*models.Stage, error) {
		stages, err := r.ListStages(ctx, t.WorkflowID)
		if err != nil {
			return nil, err
		}
		final := pipeline.FirstFinal(stages)
		if final == nil {
			return nil, sferrors.Newf(sferrors.ErrInvalidState, "workflow of task %q has no final stage", t.Title)
		}
		if actualHours != nil {
			t.ActualHours = actualHours
		}
		return final, nil
	})
}

// SetCategory moves a task to the first stage that resolves to c: the first
// final stage for COMPLETED, otherwise the first non-final stage.
func (s *Service) SetCategory(ctx context.Context, taskID string, c models.Category) (*models.Task, error) {
	if !c.IsValid() {
		return nil, sferrors.Newf(sferrors.ErrInvalidInput, "status %q", string(c))
	}
	return s.move(ctx, "set_category", taskID, func(r *db.Repo, t *models.Task) (*models.Stage, error) {
		stages, err := r.ListStages(ctx, t.WorkflowID)
		if err != nil {
			return nil, err
		}
		target := pipeline.TargetFor(stages, c)
		if target == nil {
			return nil, sferrors.Newf(sferrors.ErrInvalidState, "no stage in the workflow resolves to %s", c)
		}
		return target, nil
	})
}

// move loads the task, asks pick for the target stage and applies the
// lifecycle rules.
func (s *Service) move(ctx context.Context, op, taskID string, pick func(r *db.Repo, t *models.Task) (*models.Stage, error)) (*models.Task, error) {
	var t *models.Task
	err := s.mutate(ctx, op, func(r *db.Repo, fx *effects) error {
		var err error
		if t, err = r.GetTask(ctx, taskID); err != nil {
			return err
		}
		if err := s.authorize(ctx, ActionTaskMove, taskResource(t)); err != nil {
			return err
		}
		target, err := pick(r, t)
		if err != nil {
			return err
		}
		if err := stageInWorkflow(target, t.WorkflowID); err != nil {
			return err
		}

		from, fromStatus := t.Stage, t.Status
		t.MoveTo(target, fx.now)
		if err := r.UpdateTask(ctx, t); err != nil {
			return err
		}
		fx.transition(fromStatus, t.Status)

		action := models.ActionUpdate
		if t.Status == models.CategoryCompleted && fromStatus != models.CategoryCompleted {
			action = models.ActionComplete
			fx.notify(models.NotificationTaskCompleted, "Task completed", "Task completed: "+t.Title, t.ID, &t.CreatorID)
		} else {
			fx.notify(models.NotificationTaskUpdated, "Task status changed",
				fmt.Sprintf("Task %s is now %s", t.Title, t.Status), t.ID, t.AssigneeID)
		}
		fx.audit(action, "task", t.ID, stageChangeDescription(from, target, t.Title),
			ptr(stageLabel(from)), ptr(stageLabel(target)))
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("task_id", t.ID).Str("stage", stageLabel(t.Stage)).Str("status", string(t.Status)).Msg("task moved")
	return t, nil
}

// AssignTask sets or clears the assignee.
func (s *Service) AssignTask(ctx context.Context, taskID string, assigneeID *string) (*models.Task, error) {
	if assigneeID != nil && *assigneeID == "" {
		assigneeID = nil
	}

	var t *models.Task
	err := s.mutate(ctx, "assign_task", func(r *db.Repo, fx *effects) error {
		var err error
		if t, err = r.GetTask(ctx, taskID); err != nil {
			return err
		}
		if err := s.authorize(ctx, ActionTaskAssign, taskResource(t)); err != nil {
			return err
		}
		if err := s.checkUser(ctx, r, assigneeID); err != nil {
			return err
		}

		old := t.AssigneeID
		t.AssigneeID = assigneeID
		if err := r.UpdateTask(ctx, t); err != nil {
			return err
		}

		if assigneeID == nil {
			fx.audit(models.ActionAssign, "task", t.ID, "Unassigned task: "+t.Title, old, nil)
			return nil
		}
		fx.audit(models.ActionAssign, "task", t.ID, "Assigned task: "+t.Title, old, assigneeID)
		fx.notify(models.NotificationTaskAssigned, "Task assigned", "You were assigned: "+t.Title, t.ID, assigneeID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// AddComment appends a comment by the calling principal.
func (s *Service) AddComment(ctx context.Context, taskID, body string) (*models.Comment, error) {
	author := identity.FromContext(ctx).ActorID()
	if author == nil {
		return nil, sferrors.Newf(sferrors.ErrInvalidInput, "author is required")
	}
	if err := requireText("comment", body, MaxCommentLength); err != nil {
		return nil, err
	}

	c := &models.Comment{TaskID: taskID, AuthorID: *author, Body: body}
	err := s.mutate(ctx, "add_comment", func(r *db.Repo, fx *effects) error {
		t, err := r.GetTask(ctx, taskID)
		if err != nil {
			return err
		}
		if err := s.authorize(ctx, ActionTaskComment, taskResource(t)); err != nil {
			return err
		}
		if err := r.AddComment(ctx, c); err != nil {
			return err
		}
		fx.audit(models.ActionCreate, "comment", c.ID, "Commented on task: "+t.Title, nil, nil)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ListComments returns a task's comments oldest first.
func (s *Service) ListComments(ctx context.Context, taskID string) ([]*models.Comment, error) {
	start := time.Now()
	var comments []*models.Comment
	_, err := s.db.GetTask(ctx, taskID)
	if err == nil {
		comments, err = s.db.ListComments(ctx, taskID)
	}
	s.read("list_comments", start, err)
	return comments, err
}

func taskResource(t *models.Task) Resource {
	return Resource{Kind: "task", ID: t.ID, OwnerID: t.CreatorID}
}
