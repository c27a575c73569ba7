package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ldi/stageflow/internal/db"
	sferrors "github.com/ldi/stageflow/internal/errors"
	"github.com/ldi/stageflow/internal/pipeline"
	"github.com/ldi/stageflow/pkg/models"
)

// StageInput describes a stage to append to a workflow. A nil Order places
// it after the current last stage.
type StageInput struct {
	WorkflowID  string           `json:"workflow_id"`
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Order       *int             `json:"order,omitempty"`
	IsFinal     bool             `json:"is_final"`
	Color       string           `json:"color,omitempty"`
	Category    *models.Category `json:"category,omitempty"`
}

// StageUpdate changes the fields that are set. ClearCategory removes an
// explicit category so the stage falls back to name matching.
type StageUpdate struct {
	Name          *string          `json:"name,omitempty"`
	Description   *string          `json:"description,omitempty"`
	Order         *int             `json:"order,omitempty"`
	IsFinal       *bool            `json:"is_final,omitempty"`
	Color         *string          `json:"color,omitempty"`
	Category      *models.Category `json:"category,omitempty"`
	ClearCategory bool             `json:"clear_category,omitempty"`
}

// AddStage appends a stage to a workflow's pipeline.
func (s *Service) AddStage(ctx context.Context, in StageInput) (*models.Stage, error) {
	st := &models.Stage{
		WorkflowID:  in.WorkflowID,
		Name:        strings.TrimSpace(in.Name),
		Description: in.Description,
		IsFinal:     in.IsFinal,
		Color:       in.Color,
		Category:    in.Category,
	}
	if st.Color == "" {
		st.Color = models.DefaultStageColor
	}
	if err := validateStage(st); err != nil {
		return nil, err
	}

	err := s.mutate(ctx, "add_stage", func(r *db.Repo, fx *effects) error {
		if err := s.authorize(ctx, ActionStageManage, Resource{Kind: "workflow", ID: in.WorkflowID}); err != nil {
			return err
		}
		if in.Order != nil {
			st.Order = *in.Order
		} else {
			max, err := r.MaxOrder(ctx, in.WorkflowID)
			if err != nil {
				return err
			}
			st.Order = max + 1
		}
		if err := r.CreateStage(ctx, st); err != nil {
			return err
		}
		fx.audit(models.ActionCreate, "stage", st.ID, fmt.Sprintf("Added stage %s at position %d", st.Name, st.Order), nil, ptr(st.Name))
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("workflow_id", st.WorkflowID).Str("stage", st.Name).Int("order", st.Order).Msg("stage added")
	return st, nil
}

// UpdateStage applies upd to a stage. Tasks on the stage are re-stamped so
// completed_at keeps following the final flag.
func (s *Service) UpdateStage(ctx context.Context, id string, upd StageUpdate) (*models.Stage, error) {
	var st *models.Stage
	err := s.mutate(ctx, "update_stage", func(r *db.Repo, fx *effects) error {
		var err error
		if st, err = r.GetStage(ctx, id); err != nil {
			return err
		}
		if err := s.authorize(ctx, ActionStageManage, Resource{Kind: "workflow", ID: st.WorkflowID}); err != nil {
			return err
		}

		oldName, wasFinal, before := st.Name, st.IsFinal, pipeline.Resolve(st)
		if upd.Name != nil {
			st.Name = strings.TrimSpace(*upd.Name)
		}
		if upd.Description != nil {
			st.Description = *upd.Description
		}
		if upd.Order != nil {
			st.Order = *upd.Order
		}
		if upd.IsFinal != nil {
			st.IsFinal = *upd.IsFinal
		}
		if upd.Color != nil {
			st.Color = *upd.Color
		}
		if upd.ClearCategory {
			st.Category = nil
		} else if upd.Category != nil {
			st.Category = upd.Category
		}
		if err := validateStage(st); err != nil {
			return err
		}
		if err := r.UpdateStage(ctx, st); err != nil {
			return err
		}

		if wasFinal != st.IsFinal {
			if err := s.restampStage(ctx, r, fx, st, before); err != nil {
				return err
			}
		}

		fx.audit(models.ActionUpdate, "stage", st.ID, "Updated stage: "+st.Name, ptr(oldName), ptr(st.Name))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return st, nil
}

// restampStage keeps completed_at consistent for tasks sitting on a stage
// whose final flag changed.
func (s *Service) restampStage(ctx context.Context, r *db.Repo, fx *effects, st *models.Stage, before models.Category) error {
	stageID := st.ID
	page, err := r.FindTasks(ctx, db.TaskFilter{StageID: &stageID}, models.PageRequest{Page: 1, PageSize: db.MaxPageSize})
	if err != nil {
		return err
	}
	for page.Total > 0 {
		for _, t := range page.Items {
			t.MoveTo(st, fx.now)
			if err := r.UpdateTask(ctx, t); err != nil {
				return err
			}
			fx.transition(before, t.Status)
		}
		if page.Page >= page.TotalPages {
			break
		}
		page, err = r.FindTasks(ctx, db.TaskFilter{StageID: &stageID}, models.PageRequest{Page: page.Page + 1, PageSize: db.MaxPageSize})
		if err != nil {
			return err
		}
	}
	return nil
}

// DeleteStage removes a stage. It fails with ErrInvalidState while tasks
// reference it.
func (s *Service) DeleteStage(ctx context.Context, id string) error {
	return s.mutate(ctx, "delete_stage", func(r *db.Repo, fx *effects) error {
		st, err := r.GetStage(ctx, id)
		if err != nil {
			return err
		}
		if err := s.authorize(ctx, ActionStageManage, Resource{Kind: "workflow", ID: st.WorkflowID}); err != nil {
			return err
		}
		if err := r.DeleteStage(ctx, id); err != nil {
			return err
		}
		fx.audit(models.ActionDelete, "stage", st.ID, "Deleted stage: "+st.Name, ptr(st.Name), nil)
		return nil
	})
}

// ListStages returns a workflow's pipeline in order.
func (s *Service) ListStages(ctx context.Context, workflowID string) ([]*models.Stage, error) {
	start := time.Now()
	var stages []*models.Stage
	_, err := s.db.GetWorkflow(ctx, workflowID)
	if err == nil {
		stages, err = s.db.ListStages(ctx, workflowID)
	}
	s.read("list_stages", start, err)
	return stages, err
}

// NextStagesForTask lists every stage after the task's current one, or the
// whole pipeline when the task has not started.
func (s *Service) NextStagesForTask(ctx context.Context, taskID string) ([]*models.Stage, error) {
	start := time.Now()
	stages, err := s.nextStagesForTask(ctx, taskID)
	s.read("next_stages", start, err)
	return stages, err
}

func (s *Service) nextStagesForTask(ctx context.Context, taskID string) ([]*models.Stage, error) {
	t, err := s.db.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	stages, err := s.db.ListStages(ctx, t.WorkflowID)
	if err != nil {
		return nil, err
	}
	out := pipeline.After(stages, t.Stage)
	if out == nil {
		out = []*models.Stage{}
	}
	return out, nil
}

func stageInWorkflow(st *models.Stage, workflowID string) error {
	if st != nil && st.WorkflowID != workflowID {
		return sferrors.Newf(sferrors.ErrInvalidState, "stage %s belongs to another workflow", st.Name)
	}
	return nil
}
