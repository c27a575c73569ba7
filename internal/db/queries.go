package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ldi/stageflow/internal/pipeline"
	"github.com/ldi/stageflow/pkg/models"
)

// Page size bounds used when the DB is opened without WithPageSize.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// WithPageSize sets the default and maximum page size for list queries.
func WithPageSize(defaultSize, max int) Option {
	return func(db *DB) {
		db.pageDefault = defaultSize
		db.pageMax = max
	}
}

// TaskFilter narrows task listings. Nil fields do not filter.
type TaskFilter struct {
	Status     *models.Category `json:"status,omitempty"`
	Priority   *models.Priority `json:"priority,omitempty"`
	AssigneeID *string          `json:"assignee_id,omitempty"`
	CreatorID  *string          `json:"creator_id,omitempty"`
	WorkflowID *string          `json:"workflow_id,omitempty"`
	StageID    *string          `json:"stage_id,omitempty"`

	// InvolvedUserID matches tasks assigned to or created by the user.
	InvolvedUserID *string `json:"involved_user_id,omitempty"`

	// Term is a case-insensitive substring matched against title and
	// description.
	Term string `json:"term,omitempty"`

	// DueBefore and DueFrom/DueTo bound the due date. DueBefore is
	// exclusive, the range is closed.
	DueBefore *time.Time `json:"due_before,omitempty"`
	DueFrom   *time.Time `json:"due_from,omitempty"`
	DueTo     *time.Time `json:"due_to,omitempty"`

	// OpenOnly keeps tasks whose stage is absent or not final.
	OpenOnly bool `json:"open_only,omitempty"`
}

func (f TaskFilter) where() (string, []any) {
	var (
		conds []string
		args  []any
	)
	if f.Status != nil {
		conds = append(conds, "("+statusExpr+") = ?")
		args = append(args, string(*f.Status))
	}
	if f.Priority != nil {
		conds = append(conds, "t.priority = ?")
		args = append(args, string(*f.Priority))
	}
	if f.AssigneeID != nil {
		conds = append(conds, "t.assignee_id = ?")
		args = append(args, *f.AssigneeID)
	}
	if f.CreatorID != nil {
		conds = append(conds, "t.creator_id = ?")
		args = append(args, *f.CreatorID)
	}
	if f.WorkflowID != nil {
		conds = append(conds, "t.workflow_id = ?")
		args = append(args, *f.WorkflowID)
	}
	if f.StageID != nil {
		conds = append(conds, "t.stage_id = ?")
		args = append(args, *f.StageID)
	}
	if f.InvolvedUserID != nil {
		conds = append(conds, "(t.assignee_id = ? OR t.creator_id = ?)")
		args = append(args, *f.InvolvedUserID, *f.InvolvedUserID)
	}
	if term := strings.TrimSpace(f.Term); term != "" {
		pattern := "%" + escapeLike(strings.ToLower(term)) + "%"
		conds = append(conds, `(lower(t.title) LIKE ? ESCAPE '\' OR lower(t.description) LIKE ? ESCAPE '\')`)
		args = append(args, pattern, pattern)
	}
	if f.DueBefore != nil {
		conds = append(conds, "t.due_date < ?")
		args = append(args, f.DueBefore.UTC())
	}
	if f.DueFrom != nil {
		conds = append(conds, "t.due_date >= ?")
		args = append(args, f.DueFrom.UTC())
	}
	if f.DueTo != nil {
		conds = append(conds, "t.due_date <= ?")
		args = append(args, f.DueTo.UTC())
	}
	if f.OpenOnly {
		conds = append(conds, pipeline.OpenExpr("s"))
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

const (
	orderByDue     = " ORDER BY t.due_date ASC, t.created_at ASC, t.id ASC"
	orderByCreated = " ORDER BY t.created_at ASC, t.id ASC"
)

// FindTasks returns one page of tasks matching f, ordered by due date.
func (r *Repo) FindTasks(ctx context.Context, f TaskFilter, page models.PageRequest) (models.Page[*models.Task], error) {
	return r.findTasks(ctx, f, page, orderByDue)
}

// SearchTasks matches term against title and description, ignoring case,
// ordered by creation.
func (r *Repo) SearchTasks(ctx context.Context, term string, page models.PageRequest) (models.Page[*models.Task], error) {
	return r.findTasks(ctx, TaskFilter{Term: term}, page, orderByCreated)
}

// OverdueTasks returns tasks due before asOf whose stage is absent or not
// final. Tasks on a non-final cancel stage are included.
func (r *Repo) OverdueTasks(ctx context.Context, asOf time.Time, page models.PageRequest) (models.Page[*models.Task], error) {
	return r.findTasks(ctx, TaskFilter{DueBefore: &asOf, OpenOnly: true}, page, orderByDue)
}

// DueWithin returns open tasks due in the closed range [start, end].
func (r *Repo) DueWithin(ctx context.Context, start, end time.Time, page models.PageRequest) (models.Page[*models.Task], error) {
	return r.findTasks(ctx, TaskFilter{DueFrom: &start, DueTo: &end, OpenOnly: true}, page, orderByDue)
}

// TasksForUser returns tasks the user is assigned to or created.
func (r *Repo) TasksForUser(ctx context.Context, userID string, f TaskFilter, page models.PageRequest) (models.Page[*models.Task], error) {
	f.InvolvedUserID = &userID
	return r.findTasks(ctx, f, page, orderByDue)
}

func (r *Repo) findTasks(ctx context.Context, f TaskFilter, page models.PageRequest, orderBy string) (models.Page[*models.Task], error) {
	page = page.Normalize(r.pageDefault, r.pageMax)
	where, args := f.where()

	var total int
	if err := r.exec.QueryRowContext(ctx, `SELECT COUNT(*)`+taskFrom+where, args...).Scan(&total); err != nil {
		return models.Page[*models.Task]{}, fmt.Errorf("failed to count tasks: %w", err)
	}

	query := taskSelect + where + orderBy + " LIMIT ? OFFSET ?"
	tasks, err := r.queryTasks(ctx, query, append(args, page.PageSize, page.Offset())...)
	if err != nil {
		return models.Page[*models.Task]{}, err
	}
	return models.NewPage(tasks, total, page), nil
}

// CountByStatus counts tasks per derived status, optionally within one
// workflow. Every category is present in the result.
func (r *Repo) CountByStatus(ctx context.Context, workflowID *string) (models.StatusCounts, error) {
	where, args := TaskFilter{WorkflowID: workflowID}.where()
	rows, err := r.exec.QueryContext(ctx,
		`SELECT `+statusExpr+` AS derived_status, COUNT(*)`+taskFrom+where+` GROUP BY derived_status`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to count tasks by status: %w", err)
	}
	defer rows.Close()

	counts := models.StatusCounts{}
	for _, c := range models.Categories() {
		counts[c] = 0
	}
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		counts[models.Category(status)] += n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return counts, nil
}

// CountByPriority counts tasks per priority, optionally within one
// workflow.
func (r *Repo) CountByPriority(ctx context.Context, workflowID *string) (map[models.Priority]int, error) {
	where, args := TaskFilter{WorkflowID: workflowID}.where()
	rows, err := r.exec.QueryContext(ctx,
		`SELECT t.priority, COUNT(*)`+taskFrom+where+` GROUP BY t.priority`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to count tasks by priority: %w", err)
	}
	defer rows.Close()

	counts := map[models.Priority]int{
		models.PriorityLow:    0,
		models.PriorityMedium: 0,
		models.PriorityHigh:   0,
		models.PriorityUrgent: 0,
	}
	for rows.Next() {
		var (
			p models.Priority
			n int
		)
		if err := rows.Scan(&p, &n); err != nil {
			return nil, fmt.Errorf("failed to scan priority count: %w", err)
		}
		counts[p] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return counts, nil
}

// WorkflowStatistics computes totals for one workflow in a single pass.
// Pending covers every task that is neither completed nor in progress.
func (r *Repo) WorkflowStatistics(ctx context.Context, workflowID string) (*models.WorkflowStats, error) {
	if _, err := r.GetWorkflow(ctx, workflowID); err != nil {
		return nil, err
	}

	query := `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN st = 'COMPLETED' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN st = 'IN_PROGRESS' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN st NOT IN ('COMPLETED', 'IN_PROGRESS') THEN 1 ELSE 0 END), 0)
		FROM (SELECT ` + statusExpr + ` AS st` + taskFrom + ` WHERE t.workflow_id = ?)
	`
	stats := &models.WorkflowStats{WorkflowID: workflowID}
	err := r.exec.QueryRowContext(ctx, query, workflowID).Scan(
		&stats.Total, &stats.Completed, &stats.InProgress, &stats.Pending,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to compute workflow statistics: %w", err)
	}
	return stats, nil
}

// OpenTasksByAssignee maps usernames to the number of assigned tasks that
// are neither completed nor cancelled.
func (r *Repo) OpenTasksByAssignee(ctx context.Context) (map[string]int, error) {
	query := `
		SELECT u.username, COUNT(*)` + taskFrom + `
		JOIN users u ON u.id = t.assignee_id
		WHERE (` + statusExpr + `) NOT IN ('COMPLETED', 'CANCELLED')
		GROUP BY u.username
	`
	rows, err := r.exec.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to count open tasks by assignee: %w", err)
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var (
			username string
			n        int
		)
		if err := rows.Scan(&username, &n); err != nil {
			return nil, fmt.Errorf("failed to scan assignee count: %w", err)
		}
		out[username] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return out, nil
}

// Overview gathers the dashboard counters.
func (r *Repo) Overview(ctx context.Context, asOf time.Time) (*models.Overview, error) {
	o := &models.Overview{}
	counters := []struct {
		query string
		args  []any
		dst   *int
	}{
		{`SELECT COUNT(*) FROM workflows`, nil, &o.Workflows},
		{`SELECT COUNT(*) FROM workflows WHERE status = ?`, []any{string(models.WorkflowStatusActive)}, &o.ActiveWorkflows},
		{`SELECT COUNT(*) FROM tasks`, nil, &o.Tasks},
		{`SELECT COUNT(*) FROM users`, nil, &o.Users},
		{`SELECT COUNT(*) FROM departments`, nil, &o.Departments},
		{`SELECT COUNT(*) FROM teams`, nil, &o.Teams},
		{`SELECT COUNT(*)` + taskFrom + ` WHERE t.due_date < ? AND ` + pipeline.OpenExpr("s"), []any{asOf.UTC()}, &o.Overdue},
	}
	for _, c := range counters {
		if err := r.exec.QueryRowContext(ctx, c.query, c.args...).Scan(c.dst); err != nil {
			return nil, fmt.Errorf("failed to compute overview: %w", err)
		}
	}

	var err error
	if o.ByStatus, err = r.CountByStatus(ctx, nil); err != nil {
		return nil, err
	}
	if o.ByPriority, err = r.CountByPriority(ctx, nil); err != nil {
		return nil, err
	}
	return o, nil
}
