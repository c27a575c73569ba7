package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/ldi/stageflow/pkg/models"
)

func (r *Repo) AddComment(ctx context.Context, c *models.Comment) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if _, err := r.GetTask(ctx, c.TaskID); err != nil {
		return err
	}

	c.CreatedAt = r.now()
	_, err := r.exec.ExecContext(ctx,
		`INSERT INTO comments (id, task_id, author_id, body, created_at) VALUES (?, ?, ?, ?, ?)`,
		c.ID, c.TaskID, c.AuthorID, c.Body, c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to add comment: %w", err)
	}

	r.triggerChange(ctx)
	return nil
}

// ListComments returns a task's comments, oldest first.
func (r *Repo) ListComments(ctx context.Context, taskID string) ([]*models.Comment, error) {
	rows, err := r.exec.QueryContext(ctx, `
		SELECT id, task_id, author_id, body, created_at
		FROM comments
		WHERE task_id = ?
		ORDER BY created_at ASC, id ASC
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to list comments: %w", err)
	}
	defer rows.Close()

	var comments []*models.Comment
	for rows.Next() {
		c := &models.Comment{}
		if err := rows.Scan(&c.ID, &c.TaskID, &c.AuthorID, &c.Body, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan comment: %w", err)
		}
		comments = append(comments, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return comments, nil
}
