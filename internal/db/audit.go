package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/ldi/stageflow/pkg/models"
)

// AppendAudit stores one audit entry. Audit writes do not fire the change
// hook; they are not part of the snapshot.
func (r *Repo) AppendAudit(ctx context.Context, e *models.AuditEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = r.now()
	}

	_, err := r.exec.ExecContext(ctx, `
		INSERT INTO audit_log (id, action, entity_type, entity_id, description, actor_id, old_value, new_value, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.Action, e.EntityType, e.EntityID, e.Description, e.ActorID, e.OldValue, e.NewValue, e.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// AuditFilter narrows audit listings. Empty fields do not filter.
type AuditFilter struct {
	EntityType string
	EntityID   string
	ActorID    string
}

// ListAudit returns audit entries, newest first.
func (r *Repo) ListAudit(ctx context.Context, f AuditFilter, page models.PageRequest) (models.Page[*models.AuditEntry], error) {
	page = page.Normalize(r.pageDefault, r.pageMax)

	where := " WHERE 1=1"
	args := []any{}
	if f.EntityType != "" {
		where += " AND entity_type = ?"
		args = append(args, f.EntityType)
	}
	if f.EntityID != "" {
		where += " AND entity_id = ?"
		args = append(args, f.EntityID)
	}
	if f.ActorID != "" {
		where += " AND actor_id = ?"
		args = append(args, f.ActorID)
	}

	var total int
	if err := r.exec.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_log`+where, args...).Scan(&total); err != nil {
		return models.Page[*models.AuditEntry]{}, fmt.Errorf("failed to count audit entries: %w", err)
	}

	rows, err := r.exec.QueryContext(ctx, `
		SELECT id, action, entity_type, entity_id, description, actor_id, old_value, new_value, created_at
		FROM audit_log`+where+`
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, append(args, page.PageSize, page.Offset())...)
	if err != nil {
		return models.Page[*models.AuditEntry]{}, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []*models.AuditEntry
	for rows.Next() {
		e := &models.AuditEntry{}
		if err := rows.Scan(
			&e.ID, &e.Action, &e.EntityType, &e.EntityID, &e.Description, &e.ActorID,
			&e.OldValue, &e.NewValue, &e.CreatedAt,
		); err != nil {
			return models.Page[*models.AuditEntry]{}, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return models.Page[*models.AuditEntry]{}, fmt.Errorf("rows error: %w", err)
	}
	return models.NewPage(entries, total, page), nil
}
