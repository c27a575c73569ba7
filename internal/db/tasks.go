package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	sferrors "github.com/ldi/stageflow/internal/errors"
	"github.com/ldi/stageflow/internal/pipeline"
	"github.com/ldi/stageflow/pkg/models"
)

// taskFrom selects a task with its workflow name, a stage summary and the
// derived status. Callers append WHERE/ORDER clauses.
//
//nolint:gochecknoglobals // Built once from the rule table
var taskFrom = `
	FROM tasks t
	JOIN workflows w ON w.id = t.workflow_id
	LEFT JOIN stages s ON s.id = t.stage_id
`

//nolint:gochecknoglobals // Built once from the rule table
var taskSelect = `
	SELECT t.id, t.workflow_id, t.stage_id, t.title, t.description, t.priority, t.assignee_id, t.creator_id,
	       t.due_date, t.completed_at, t.estimated_hours, t.actual_hours, t.created_at, t.updated_at,
	       w.name,
	       s.id, s.name, s.sort_order, s.is_final, s.color, s.category,
	       ` + statusExpr + ` AS status
` + taskFrom

//nolint:gochecknoglobals // Built once from the rule table
var statusExpr = pipeline.CaseExpr("s")

func scanTask(row interface{ Scan(...any) error }) (*models.Task, error) {
	t := &models.Task{}
	var (
		stageID, stageName, stageColor, stageCategory sql.NullString
		stageOrder                                    sql.NullInt64
		stageFinal                                    sql.NullBool
		status                                        string
	)
	err := row.Scan(
		&t.ID, &t.WorkflowID, &t.StageID, &t.Title, &t.Description, &t.Priority, &t.AssigneeID, &t.CreatorID,
		&t.DueDate, &t.CompletedAt, &t.EstimatedHours, &t.ActualHours, &t.CreatedAt, &t.UpdatedAt,
		&t.WorkflowName,
		&stageID, &stageName, &stageOrder, &stageFinal, &stageColor, &stageCategory,
		&status,
	)
	if err != nil {
		return nil, err
	}

	t.Status = models.Category(status)
	if stageID.Valid {
		t.Stage = &models.Stage{
			ID:         stageID.String,
			WorkflowID: t.WorkflowID,
			Name:       stageName.String,
			Order:      int(stageOrder.Int64),
			IsFinal:    stageFinal.Bool,
			Color:      stageColor.String,
		}
		if stageCategory.Valid && stageCategory.String != "" {
			c := models.Category(stageCategory.String)
			t.Stage.Category = &c
		}
	}
	return t, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// CreateTask inserts a new task.
// If t.ID is empty, a new UUID is generated. Status is recomputed from the
// stage on the way out.
func (r *Repo) CreateTask(ctx context.Context, t *models.Task) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.Priority == "" {
		t.Priority = models.PriorityMedium
	}

	now := r.now()
	t.DueDate = t.DueDate.UTC()
	t.CompletedAt = utcPtr(t.CompletedAt)

	_, err := r.exec.ExecContext(ctx, `
		INSERT INTO tasks (
			id, workflow_id, stage_id, title, description, priority, assignee_id, creator_id,
			due_date, completed_at, estimated_hours, actual_hours, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		t.ID, t.WorkflowID, t.StageID, t.Title, t.Description, t.Priority, t.AssigneeID, t.CreatorID,
		t.DueDate, t.CompletedAt, t.EstimatedHours, t.ActualHours, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	t.CreatedAt, t.UpdatedAt = now, now
	t.Status = pipeline.Resolve(t.Stage)

	r.triggerChange(ctx)
	return nil
}

// GetTask retrieves a task by its ID, with its derived status.
func (r *Repo) GetTask(ctx context.Context, id string) (*models.Task, error) {
	t, err := scanTask(r.exec.QueryRowContext(ctx, taskSelect+` WHERE t.id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, sferrors.Newf(sferrors.ErrNotFound, "task %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return t, nil
}

// GetTaskByTitle retrieves a task by its title within a workflow, ignoring
// case.
func (r *Repo) GetTaskByTitle(ctx context.Context, workflowID, title string) (*models.Task, error) {
	t, err := scanTask(r.exec.QueryRowContext(ctx,
		taskSelect+` WHERE t.workflow_id = ? AND lower(t.title) = lower(?)`, workflowID, title))
	if err == sql.ErrNoRows {
		return nil, sferrors.Newf(sferrors.ErrNotFound, "task %q", title)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task by title: %w", err)
	}
	return t, nil
}

// TaskTitleExists reports whether the workflow already has a task with the
// title, ignoring case. excludingID may be empty.
func (r *Repo) TaskTitleExists(ctx context.Context, workflowID, title, excludingID string) (bool, error) {
	var n int
	err := r.exec.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tasks WHERE workflow_id = ? AND lower(title) = lower(?) AND id <> ?`,
		workflowID, title, excludingID,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check task title: %w", err)
	}
	return n > 0, nil
}

// UpdateTask writes every mutable field of t, including its stage and
// completion stamp. The caller keeps those consistent through Task.MoveTo.
func (r *Repo) UpdateTask(ctx context.Context, t *models.Task) error {
	now := r.now()
	t.DueDate = t.DueDate.UTC()
	t.CompletedAt = utcPtr(t.CompletedAt)

	res, err := r.exec.ExecContext(ctx, `
		UPDATE tasks
		SET stage_id = ?, title = ?, description = ?, priority = ?, assignee_id = ?, due_date = ?,
		    completed_at = ?, estimated_hours = ?, actual_hours = ?, updated_at = ?
		WHERE id = ?
	`,
		t.StageID, t.Title, t.Description, t.Priority, t.AssigneeID, t.DueDate,
		t.CompletedAt, t.EstimatedHours, t.ActualHours, now, t.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}
	if err := expectOne(res, "task", t.ID); err != nil {
		return err
	}
	t.UpdatedAt = now
	t.Status = pipeline.Resolve(t.Stage)

	r.triggerChange(ctx)
	return nil
}

// DeleteTask deletes a task and its comments.
func (r *Repo) DeleteTask(ctx context.Context, id string) error {
	res, err := r.exec.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	if err := expectOne(res, "task", id); err != nil {
		return err
	}

	r.triggerChange(ctx)
	return nil
}

// queryTasks is a helper to execute a query that returns a list of tasks.
func (r *Repo) queryTasks(ctx context.Context, query string, args ...any) ([]*models.Task, error) {
	rows, err := r.exec.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return tasks, nil
}
