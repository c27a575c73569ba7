package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	sferrors "github.com/ldi/stageflow/internal/errors"
	"github.com/ldi/stageflow/pkg/models"
)

const stageColumns = `id, workflow_id, name, description, sort_order, is_final, color, category, created_at, updated_at`

func scanStage(row interface{ Scan(...any) error }) (*models.Stage, error) {
	s := &models.Stage{}
	var category sql.NullString
	err := row.Scan(
		&s.ID, &s.WorkflowID, &s.Name, &s.Description, &s.Order, &s.IsFinal, &s.Color, &category,
		&s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if category.Valid && category.String != "" {
		c := models.Category(category.String)
		s.Category = &c
	}
	return s, nil
}

func categoryArg(c *models.Category) any {
	if c == nil {
		return nil
	}
	return string(*c)
}

// CreateStage inserts a stage. Names must be unique within the workflow,
// compared exactly as stored.
func (r *Repo) CreateStage(ctx context.Context, s *models.Stage) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	if s.Color == "" {
		s.Color = models.DefaultStageColor
	}

	if _, err := r.GetWorkflow(ctx, s.WorkflowID); err != nil {
		return err
	}
	exists, err := r.StageNameExists(ctx, s.WorkflowID, s.Name, "")
	if err != nil {
		return err
	}
	if exists {
		return sferrors.Newf(sferrors.ErrDuplicateName, "stage %q", s.Name)
	}

	now := r.now()
	_, err = r.exec.ExecContext(ctx, `
		INSERT INTO stages (id, workflow_id, name, description, sort_order, is_final, color, category, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, s.ID, s.WorkflowID, s.Name, s.Description, s.Order, s.IsFinal, s.Color, categoryArg(s.Category), now, now)
	if err != nil {
		return fmt.Errorf("failed to create stage: %w", err)
	}
	s.CreatedAt, s.UpdatedAt = now, now

	r.triggerChange(ctx)
	return nil
}

// GetStage retrieves a stage by its ID.
func (r *Repo) GetStage(ctx context.Context, id string) (*models.Stage, error) {
	s, err := scanStage(r.exec.QueryRowContext(ctx, `SELECT `+stageColumns+` FROM stages WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, sferrors.Newf(sferrors.ErrNotFound, "stage %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get stage: %w", err)
	}
	return s, nil
}

// GetStageByName finds a stage in a workflow by its exact name.
func (r *Repo) GetStageByName(ctx context.Context, workflowID, name string) (*models.Stage, error) {
	s, err := scanStage(r.exec.QueryRowContext(ctx,
		`SELECT `+stageColumns+` FROM stages WHERE workflow_id = ? AND name = ?`, workflowID, name))
	if err == sql.ErrNoRows {
		return nil, sferrors.Newf(sferrors.ErrNotFound, "stage %q", name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get stage by name: %w", err)
	}
	return s, nil
}

// UpdateStage writes name, description, order, final flag, color and
// category.
func (r *Repo) UpdateStage(ctx context.Context, s *models.Stage) error {
	exists, err := r.StageNameExists(ctx, s.WorkflowID, s.Name, s.ID)
	if err != nil {
		return err
	}
	if exists {
		return sferrors.Newf(sferrors.ErrDuplicateName, "stage %q", s.Name)
	}

	now := r.now()
	res, err := r.exec.ExecContext(ctx, `
		UPDATE stages
		SET name = ?, description = ?, sort_order = ?, is_final = ?, color = ?, category = ?, updated_at = ?
		WHERE id = ?
	`, s.Name, s.Description, s.Order, s.IsFinal, s.Color, categoryArg(s.Category), now, s.ID)
	if err != nil {
		return fmt.Errorf("failed to update stage: %w", err)
	}
	if err := expectOne(res, "stage", s.ID); err != nil {
		return err
	}
	s.UpdatedAt = now

	r.triggerChange(ctx)
	return nil
}

// DeleteStage removes a stage. It refuses while any task sits on it.
func (r *Repo) DeleteStage(ctx context.Context, id string) error {
	var n int
	if err := r.exec.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks WHERE stage_id = ?`, id).Scan(&n); err != nil {
		return fmt.Errorf("failed to count stage tasks: %w", err)
	}
	if n > 0 {
		return sferrors.Newf(sferrors.ErrInvalidState, "stage %s is used by %d tasks", id, n)
	}

	res, err := r.exec.ExecContext(ctx, `DELETE FROM stages WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete stage: %w", err)
	}
	if err := expectOne(res, "stage", id); err != nil {
		return err
	}

	r.triggerChange(ctx)
	return nil
}

// ListStages returns the workflow's pipeline ordered ascending by order.
func (r *Repo) ListStages(ctx context.Context, workflowID string) ([]*models.Stage, error) {
	return r.queryStages(ctx,
		`SELECT `+stageColumns+` FROM stages WHERE workflow_id = ? ORDER BY sort_order ASC, name ASC`, workflowID)
}

// FirstStage returns the stage with the lowest order, or nil for an empty
// pipeline.
func (r *Repo) FirstStage(ctx context.Context, workflowID string) (*models.Stage, error) {
	return r.queryOneStage(ctx, `
		SELECT `+stageColumns+` FROM stages
		WHERE workflow_id = ?
		ORDER BY sort_order ASC, name ASC LIMIT 1
	`, workflowID)
}

// NextStage returns the stage with the smallest order strictly greater than
// currentOrder, or nil.
func (r *Repo) NextStage(ctx context.Context, workflowID string, currentOrder int) (*models.Stage, error) {
	return r.queryOneStage(ctx, `
		SELECT `+stageColumns+` FROM stages
		WHERE workflow_id = ? AND sort_order > ?
		ORDER BY sort_order ASC, name ASC LIMIT 1
	`, workflowID, currentOrder)
}

// PreviousStage returns the stage with the largest order strictly less than
// currentOrder, or nil.
func (r *Repo) PreviousStage(ctx context.Context, workflowID string, currentOrder int) (*models.Stage, error) {
	return r.queryOneStage(ctx, `
		SELECT `+stageColumns+` FROM stages
		WHERE workflow_id = ? AND sort_order < ?
		ORDER BY sort_order DESC, name DESC LIMIT 1
	`, workflowID, currentOrder)
}

// MaxOrder returns the highest order in the workflow, or 0 when it has no
// stages.
func (r *Repo) MaxOrder(ctx context.Context, workflowID string) (int, error) {
	var max sql.NullInt64
	err := r.exec.QueryRowContext(ctx, `SELECT MAX(sort_order) FROM stages WHERE workflow_id = ?`, workflowID).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("failed to get max stage order: %w", err)
	}
	return int(max.Int64), nil
}

// StageNameExists reports whether the workflow has a stage named exactly
// name, other than excludingID.
func (r *Repo) StageNameExists(ctx context.Context, workflowID, name, excludingID string) (bool, error) {
	var n int
	err := r.exec.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM stages WHERE workflow_id = ? AND name = ? AND id <> ?`,
		workflowID, name, excludingID,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check stage name: %w", err)
	}
	return n > 0, nil
}

func (r *Repo) queryOneStage(ctx context.Context, query string, args ...any) (*models.Stage, error) {
	s, err := scanStage(r.exec.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get stage: %w", err)
	}
	return s, nil
}

func (r *Repo) queryStages(ctx context.Context, query string, args ...any) ([]*models.Stage, error) {
	rows, err := r.exec.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list stages: %w", err)
	}
	defer rows.Close()

	var stages []*models.Stage
	for rows.Next() {
		s, err := scanStage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stage: %w", err)
		}
		stages = append(stages, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return stages, nil
}
