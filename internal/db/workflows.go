package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	sferrors "github.com/ldi/stageflow/internal/errors"
	"github.com/ldi/stageflow/pkg/models"
)

const workflowColumns = `id, name, description, status, is_active, department_id, creator_id, created_at, updated_at`

func scanWorkflow(row interface{ Scan(...any) error }) (*models.Workflow, error) {
	w := &models.Workflow{}
	err := row.Scan(
		&w.ID, &w.Name, &w.Description, &w.Status, &w.IsActive, &w.DepartmentID, &w.CreatorID,
		&w.CreatedAt, &w.UpdatedAt,
	)
	return w, err
}

// CreateWorkflow inserts a workflow. Names are unique ignoring case.
func (r *Repo) CreateWorkflow(ctx context.Context, w *models.Workflow) error {
	if w.ID == "" {
		w.ID = uuid.New().String()
	}
	if w.Status == "" {
		w.Status = models.WorkflowStatusDraft
	}

	exists, err := r.WorkflowNameExists(ctx, w.Name, "")
	if err != nil {
		return err
	}
	if exists {
		return sferrors.Newf(sferrors.ErrDuplicateName, "workflow %q", w.Name)
	}

	now := r.now()
	query := `
		INSERT INTO workflows (id, name, description, status, is_active, department_id, creator_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.exec.ExecContext(ctx, query,
		w.ID, w.Name, w.Description, w.Status, w.IsActive, w.DepartmentID, w.CreatorID, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to create workflow: %w", err)
	}
	w.CreatedAt, w.UpdatedAt = now, now

	r.triggerChange(ctx)
	return nil
}

// GetWorkflow retrieves a workflow by its ID.
func (r *Repo) GetWorkflow(ctx context.Context, id string) (*models.Workflow, error) {
	query := `SELECT ` + workflowColumns + ` FROM workflows WHERE id = ?`
	w, err := scanWorkflow(r.exec.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, sferrors.Newf(sferrors.ErrNotFound, "workflow %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workflow: %w", err)
	}
	return w, nil
}

// GetWorkflowByName looks a workflow up by name, ignoring case.
func (r *Repo) GetWorkflowByName(ctx context.Context, name string) (*models.Workflow, error) {
	query := `SELECT ` + workflowColumns + ` FROM workflows WHERE lower(name) = lower(?)`
	w, err := scanWorkflow(r.exec.QueryRowContext(ctx, query, name))
	if err == sql.ErrNoRows {
		return nil, sferrors.Newf(sferrors.ErrNotFound, "workflow %q", name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workflow by name: %w", err)
	}
	return w, nil
}

// WorkflowNameExists reports whether another workflow already uses name,
// ignoring case. excludingID may be empty.
func (r *Repo) WorkflowNameExists(ctx context.Context, name, excludingID string) (bool, error) {
	var n int
	err := r.exec.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM workflows WHERE lower(name) = lower(?) AND id <> ?`,
		strings.TrimSpace(name), excludingID,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check workflow name: %w", err)
	}
	return n > 0, nil
}

// ListWorkflows returns workflows, optionally only those with status.
func (r *Repo) ListWorkflows(ctx context.Context, status *models.WorkflowStatus) ([]*models.Workflow, error) {
	query := `SELECT ` + workflowColumns + ` FROM workflows WHERE 1=1`
	args := []any{}
	if status != nil {
		query += " AND status = ?"
		args = append(args, *status)
	}
	query += " ORDER BY lower(name) ASC"

	rows, err := r.exec.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}
	defer rows.Close()

	var workflows []*models.Workflow
	for rows.Next() {
		w, err := scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}
		workflows = append(workflows, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return workflows, nil
}

// UpdateWorkflow writes every mutable field of w.
func (r *Repo) UpdateWorkflow(ctx context.Context, w *models.Workflow) error {
	exists, err := r.WorkflowNameExists(ctx, w.Name, w.ID)
	if err != nil {
		return err
	}
	if exists {
		return sferrors.Newf(sferrors.ErrDuplicateName, "workflow %q", w.Name)
	}

	now := r.now()
	res, err := r.exec.ExecContext(ctx, `
		UPDATE workflows
		SET name = ?, description = ?, status = ?, is_active = ?, department_id = ?, updated_at = ?
		WHERE id = ?
	`, w.Name, w.Description, w.Status, w.IsActive, w.DepartmentID, now, w.ID)
	if err != nil {
		return fmt.Errorf("failed to update workflow: %w", err)
	}
	if err := expectOne(res, "workflow", w.ID); err != nil {
		return err
	}
	w.UpdatedAt = now

	r.triggerChange(ctx)
	return nil
}

// DeleteWorkflow removes a workflow and its stages. It refuses while any
// task still belongs to the workflow.
func (r *Repo) DeleteWorkflow(ctx context.Context, id string) error {
	n, err := r.CountWorkflowTasks(ctx, id)
	if err != nil {
		return err
	}
	if n > 0 {
		return sferrors.Newf(sferrors.ErrInvalidState, "workflow %s still has %d tasks", id, n)
	}

	res, err := r.exec.ExecContext(ctx, `DELETE FROM workflows WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete workflow: %w", err)
	}
	if err := expectOne(res, "workflow", id); err != nil {
		return err
	}

	r.triggerChange(ctx)
	return nil
}

// CountWorkflowTasks returns how many tasks belong to the workflow.
func (r *Repo) CountWorkflowTasks(ctx context.Context, workflowID string) (int, error) {
	var n int
	err := r.exec.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks WHERE workflow_id = ?`, workflowID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count workflow tasks: %w", err)
	}
	return n, nil
}

func expectOne(res sql.Result, entity, id string) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return sferrors.Newf(sferrors.ErrNotFound, "%s %s", entity, id)
	}
	return nil
}
