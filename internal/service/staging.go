package service

import (
	"context"

	"github.com/ldi/stageflow/internal/db"
	sferrors "github.com/ldi/stageflow/internal/errors"
	"github.com/ldi/stageflow/pkg/models"
)

// CommitStaged applies everything staged under sessionID. The session is
// cleared even when the apply fails.
func (s *Service) CommitStaged(ctx context.Context, sessionID string) (*db.StagedItems, error) {
	items := s.db.Staging.GetAndClear(sessionID)
	if items.Empty() {
		return items, nil
	}
	return items, s.ApplyItems(ctx, items)
}

// ApplyItems writes a staged set in one transaction. Workflows and tasks
// without an explicit creator are owned by the caller.
func (s *Service) ApplyItems(ctx context.Context, items *db.StagedItems) error {
	return s.mutate(ctx, "apply_staged", func(r *db.Repo, fx *effects) error {
		if err := s.authorize(ctx, ActionWorkflowManage, Resource{Kind: "batch"}); err != nil {
			return err
		}

		for _, w := range items.Workflows {
			if w.Status == "" {
				w.Status = models.WorkflowStatusDraft
			}
			w.IsActive = true
			if err := validateWorkflow(&w.Workflow); err != nil {
				return err
			}
			if w.CreatorID == "" {
				if fx.actor == nil {
					return sferrors.Newf(sferrors.ErrInvalidInput, "creator is required for workflow %q", w.Name)
				}
				w.CreatorID = *fx.actor
			}
			for _, st := range w.Stages {
				if st.Color == "" {
					st.Color = models.DefaultStageColor
				}
				if err := validateStage(st); err != nil {
					return sferrors.Wrapf(err, "workflow %q", w.Name)
				}
			}
		}
		for _, t := range items.Tasks {
			if t.CreatorID == "" && t.CreatorUsername == "" {
				if fx.actor == nil {
					return sferrors.Newf(sferrors.ErrInvalidInput, "creator is required for task %q", t.Title)
				}
				t.CreatorID = *fx.actor
			}
			if t.Priority == "" {
				t.Priority = models.PriorityMedium
			}
			if err := validateTask(&t.Task); err != nil {
				return err
			}
		}

		if err := r.ApplyStaged(ctx, items); err != nil {
			return err
		}

		for _, d := range items.Departments {
			fx.audit(models.ActionImport, "department", d.ID, "Created department: "+d.Name, nil, nil)
		}
		for _, u := range items.Users {
			fx.audit(models.ActionImport, "user", u.ID, "Created user: "+u.Username, nil, nil)
		}
		for _, w := range items.Workflows {
			fx.audit(models.ActionImport, "workflow", w.ID, "Created workflow: "+w.Name, nil, ptr(string(w.Status)))
		}
		for _, t := range items.Tasks {
			fx.audit(models.ActionImport, "task", t.ID, "Created task: "+t.Title, nil, ptr(string(t.Status)))
			if t.AssigneeID != nil {
				fx.notify(models.NotificationTaskAssigned, "Task assigned", "You were assigned: "+t.Title, t.ID, t.AssigneeID)
			}
		}
		return nil
	})
}
