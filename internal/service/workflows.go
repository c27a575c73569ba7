package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ldi/stageflow/internal/db"
	sferrors "github.com/ldi/stageflow/internal/errors"
	"github.com/ldi/stageflow/internal/identity"
	"github.com/ldi/stageflow/pkg/models"
)

// WorkflowInput describes a new workflow and, optionally, its initial
// pipeline. Stage orders default to their position.
type WorkflowInput struct {
	Name         string                `json:"name"`
	Description  string                `json:"description"`
	Status       models.WorkflowStatus `json:"status,omitempty"`
	DepartmentID *string               `json:"department_id,omitempty"`
	Stages       []*models.Stage       `json:"stages,omitempty"`
}

// WorkflowUpdate changes the fields that are set.
type WorkflowUpdate struct {
	Name         *string `json:"name,omitempty"`
	Description  *string `json:"description,omitempty"`
	IsActive     *bool   `json:"is_active,omitempty"`
	DepartmentID *string `json:"department_id,omitempty"`
}

// CreateWorkflow creates a workflow with its initial stages.
func (s *Service) CreateWorkflow(ctx context.Context, in WorkflowInput) (*models.Workflow, error) {
	creator := identity.FromContext(ctx).ActorID()
	if creator == nil {
		return nil, sferrors.Newf(sferrors.ErrInvalidInput, "creator is required")
	}

	w := &models.Workflow{
		Name:         strings.TrimSpace(in.Name),
		Description:  in.Description,
		Status:       in.Status,
		IsActive:     true,
		DepartmentID: in.DepartmentID,
		CreatorID:    *creator,
	}
	if w.Status == "" {
		w.Status = models.WorkflowStatusDraft
	}
	if err := validateWorkflow(w); err != nil {
		return nil, err
	}
	for i, st := range in.Stages {
		if st.Color == "" {
			st.Color = models.DefaultStageColor
		}
		if st.Order == 0 {
			st.Order = i + 1
		}
		if err := validateStage(st); err != nil {
			return nil, err
		}
	}

	err := s.mutate(ctx, "create_workflow", func(r *db.Repo, fx *effects) error {
		if err := s.authorize(ctx, ActionWorkflowManage, Resource{Kind: "workflow"}); err != nil {
			return err
		}
		if err := r.CreateWorkflow(ctx, w); err != nil {
			return err
		}
		for _, st := range in.Stages {
			st.WorkflowID = w.ID
			if err := r.CreateStage(ctx, st); err != nil {
				return err
			}
		}
		w.Stages = in.Stages

		fx.audit(models.ActionCreate, "workflow", w.ID, "Created workflow: "+w.Name, nil, ptr(w.Name))
		fx.notify(models.NotificationWorkflowCreated, "Workflow created", "New workflow: "+w.Name, w.ID, nil)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("workflow_id", w.ID).Str("name", w.Name).Int("stages", len(w.Stages)).Msg("workflow created")
	return w, nil
}

// GetWorkflow returns a workflow with its pipeline.
func (s *Service) GetWorkflow(ctx context.Context, id string) (*models.Workflow, error) {
	start := time.Now()
	w, err := s.workflowWithStages(ctx, func() (*models.Workflow, error) {
		return s.db.GetWorkflow(ctx, id)
	})
	s.read("get_workflow", start, err)
	return w, err
}

// GetWorkflowByName looks a workflow up ignoring case and returns it with its
// pipeline.
func (s *Service) GetWorkflowByName(ctx context.Context, name string) (*models.Workflow, error) {
	start := time.Now()
	w, err := s.workflowWithStages(ctx, func() (*models.Workflow, error) {
		return s.db.GetWorkflowByName(ctx, name)
	})
	s.read("get_workflow", start, err)
	return w, err
}

func (s *Service) workflowWithStages(ctx context.Context, get func() (*models.Workflow, error)) (*models.Workflow, error) {
	w, err := get()
	if err != nil {
		return nil, err
	}
	if w.Stages, err = s.db.ListStages(ctx, w.ID); err != nil {
		return nil, err
	}
	return w, nil
}

// ListWorkflows lists workflows, optionally filtered by status.
func (s *Service) ListWorkflows(ctx context.Context, status *models.WorkflowStatus) ([]*models.Workflow, error) {
	start := time.Now()
	ws, err := s.db.ListWorkflows(ctx, status)
	s.read("list_workflows", start, err)
	return ws, err
}

// UpdateWorkflow applies upd to the workflow.
func (s *Service) UpdateWorkflow(ctx context.Context, id string, upd WorkflowUpdate) (*models.Workflow, error) {
	var w *models.Workflow
	err := s.mutate(ctx, "update_workflow", func(r *db.Repo, fx *effects) error {
		var err error
		if w, err = r.GetWorkflow(ctx, id); err != nil {
			return err
		}
		if err := s.authorize(ctx, ActionWorkflowManage, Resource{Kind: "workflow", ID: w.ID, OwnerID: w.CreatorID}); err != nil {
			return err
		}

		oldName := w.Name
		if upd.Name != nil {
			w.Name = strings.TrimSpace(*upd.Name)
		}
		if upd.Description != nil {
			w.Description = *upd.Description
		}
		if upd.IsActive != nil {
			w.IsActive = *upd.IsActive
		}
		if upd.DepartmentID != nil {
			w.DepartmentID = upd.DepartmentID
			if *upd.DepartmentID == "" {
				w.DepartmentID = nil
			}
		}
		if err := validateWorkflow(w); err != nil {
			return err
		}
		if err := r.UpdateWorkflow(ctx, w); err != nil {
			return err
		}

		fx.audit(models.ActionUpdate, "workflow", w.ID, "Updated workflow: "+w.Name, ptr(oldName), ptr(w.Name))
		fx.notify(models.NotificationWorkflowUpdated, "Workflow updated", "Workflow updated: "+w.Name, w.ID, nil)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return w, nil
}

// SetWorkflowStatus changes the workflow's own lifecycle status. It has no
// effect on the status of its tasks.
func (s *Service) SetWorkflowStatus(ctx context.Context, id string, status models.WorkflowStatus) (*models.Workflow, error) {
	if !status.IsValid() {
		return nil, sferrors.Newf(sferrors.ErrInvalidInput, "workflow status %q", string(status))
	}

	var w *models.Workflow
	err := s.mutate(ctx, "set_workflow_status", func(r *db.Repo, fx *effects) error {
		var err error
		if w, err = r.GetWorkflow(ctx, id); err != nil {
			return err
		}
		if err := s.authorize(ctx, ActionWorkflowManage, Resource{Kind: "workflow", ID: w.ID, OwnerID: w.CreatorID}); err != nil {
			return err
		}
		old := w.Status
		if old == status {
			return nil
		}
		w.Status = status
		if err := r.UpdateWorkflow(ctx, w); err != nil {
			return err
		}

		desc := fmt.Sprintf("Changed status of workflow %s from %s to %s", w.Name, old, status)
		fx.audit(models.ActionUpdate, "workflow", w.ID, desc, ptr(string(old)), ptr(string(status)))
		fx.notify(models.NotificationWorkflowUpdated, "Workflow status changed", desc, w.ID, nil)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return w, nil
}

// DeleteWorkflow removes a workflow and its stages. It fails with
// ErrInvalidState while the workflow has tasks.
func (s *Service) DeleteWorkflow(ctx context.Context, id string) error {
	return s.mutate(ctx, "delete_workflow", func(r *db.Repo, fx *effects) error {
		w, err := r.GetWorkflow(ctx, id)
		if err != nil {
			return err
		}
		if err := s.authorize(ctx, ActionWorkflowManage, Resource{Kind: "workflow", ID: w.ID, OwnerID: w.CreatorID}); err != nil {
			return err
		}
		if err := r.DeleteWorkflow(ctx, id); err != nil {
			return err
		}
		fx.audit(models.ActionDelete, "workflow", w.ID, "Deleted workflow: "+w.Name, ptr(w.Name), nil)
		return nil
	})
}
