package service

import (
	"context"
	"time"

	"github.com/ldi/stageflow/internal/db"
	sferrors "github.com/ldi/stageflow/internal/errors"
	"github.com/ldi/stageflow/pkg/models"
)

// FindTasks lists tasks matching f.
func (s *Service) FindTasks(ctx context.Context, f db.TaskFilter, page models.PageRequest) (models.Page[*models.Task], error) {
	start := time.Now()
	if f.Status != nil && !f.Status.IsValid() {
		err := sferrors.Newf(sferrors.ErrInvalidInput, "status %q", string(*f.Status))
		s.read("find_tasks", start, err)
		return models.Page[*models.Task]{}, err
	}
	p, err := s.db.FindTasks(ctx, f, page)
	s.read("find_tasks", start, err)
	return p, err
}

// SearchTasks matches term against titles and descriptions.
func (s *Service) SearchTasks(ctx context.Context, term string, page models.PageRequest) (models.Page[*models.Task], error) {
	start := time.Now()
	p, err := s.db.SearchTasks(ctx, term, page)
	s.read("search_tasks", start, err)
	return p, err
}

// OverdueTasks lists open tasks due before now. Tasks on a non-final
// cancelled stage are included.
func (s *Service) OverdueTasks(ctx context.Context, page models.PageRequest) (models.Page[*models.Task], error) {
	start := time.Now()
	p, err := s.db.OverdueTasks(ctx, s.clock.Now(), page)
	s.read("overdue_tasks", start, err)
	return p, err
}

// DueWithin lists open tasks due in the closed range [from, to].
func (s *Service) DueWithin(ctx context.Context, from, to time.Time, page models.PageRequest) (models.Page[*models.Task], error) {
	start := time.Now()
	if to.Before(from) {
		err := sferrors.Newf(sferrors.ErrInvalidInput, "range end is before its start")
		s.read("due_within", start, err)
		return models.Page[*models.Task]{}, err
	}
	p, err := s.db.DueWithin(ctx, from, to, page)
	s.read("due_within", start, err)
	return p, err
}

// TasksForUser lists tasks the user is assigned to or created.
func (s *Service) TasksForUser(ctx context.Context, userID string, f db.TaskFilter, page models.PageRequest) (models.Page[*models.Task], error) {
	start := time.Now()
	p, err := s.db.TasksForUser(ctx, userID, f, page)
	s.read("tasks_for_user", start, err)
	return p, err
}

// CountByStatus counts tasks per derived status.
func (s *Service) CountByStatus(ctx context.Context, workflowID *string) (models.StatusCounts, error) {
	start := time.Now()
	c, err := s.db.CountByStatus(ctx, workflowID)
	s.read("count_by_status", start, err)
	return c, err
}

// CountByPriority counts tasks per priority.
func (s *Service) CountByPriority(ctx context.Context, workflowID *string) (map[models.Priority]int, error) {
	start := time.Now()
	c, err := s.db.CountByPriority(ctx, workflowID)
	s.read("count_by_priority", start, err)
	return c, err
}

// WorkflowStatistics summarizes one workflow.
func (s *Service) WorkflowStatistics(ctx context.Context, workflowID string) (*models.WorkflowStats, error) {
	start := time.Now()
	st, err := s.db.WorkflowStatistics(ctx, workflowID)
	s.read("workflow_statistics", start, err)
	return st, err
}

// OpenTasksByAssignee maps usernames to their open task counts.
func (s *Service) OpenTasksByAssignee(ctx context.Context) (map[string]int, error) {
	start := time.Now()
	m, err := s.db.OpenTasksByAssignee(ctx)
	s.read("open_tasks_by_assignee", start, err)
	return m, err
}

// Overview returns the dashboard counters as of now.
func (s *Service) Overview(ctx context.Context) (*models.Overview, error) {
	start := time.Now()
	o, err := s.db.Overview(ctx, s.clock.Now())
	s.read("overview", start, err)
	return o, err
}

// ListAudit returns audit entries newest first.
func (s *Service) ListAudit(ctx context.Context, f db.AuditFilter, page models.PageRequest) (models.Page[*models.AuditEntry], error) {
	start := time.Now()
	p, err := s.db.ListAudit(ctx, f, page)
	s.read("list_audit", start, err)
	return p, err
}
