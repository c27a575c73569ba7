package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sferrors "github.com/ldi/stageflow/internal/errors"
	"github.com/ldi/stageflow/pkg/models"
)

type queryFixture struct {
	db     *DB
	dev    *models.Workflow
	ops    *models.Workflow
	stages map[string]*models.Stage
	tasks  map[string]*models.Task
}

// newQueryFixture builds two workflows. Dev holds one task per stage plus an
// unstarted task; Ops holds a single unstarted task.
func newQueryFixture(t *testing.T, opts ...Option) *queryFixture {
	t.Helper()
	db := newTestDB(t, opts...)
	ctx := context.Background()

	dev, stages := createWorkflow(t, db, "Dev", devStages)
	ops, _ := createWorkflow(t, db, "Ops", nil)

	alice := &models.User{Username: "alice", Enabled: true}
	bob := &models.User{Username: "bob", Enabled: true}
	require.NoError(t, db.CreateUser(ctx, alice))
	require.NoError(t, db.CreateUser(ctx, bob))

	day := 24 * time.Hour
	tasks := map[string]*models.Task{
		"backlog":   createTask(t, db, dev, "Write backlog", nil, testBase.Add(-3*day)),
		"todo":      createTask(t, db, dev, "Plan sprint", stages["To Do"], testBase.Add(2*day)),
		"wip":       createTask(t, db, dev, "Build API", stages["In Progress"], testBase.Add(-1*day)),
		"hold":      createTask(t, db, dev, "Wait for vendor", stages["On Hold"], testBase.Add(5*day)),
		"review":    createTask(t, db, dev, "Review 100% of PRs", stages["In Review"], testBase.Add(3*day)),
		"done":      createTask(t, db, dev, "Ship API", stages["Done"], testBase.Add(-2*day)),
		"cancelled": createTask(t, db, dev, "Old idea", stages["Cancelled"], testBase.Add(-4*day)),
		"ops":       createTask(t, db, ops, "Rotate keys", nil, testBase.Add(10*day)),
	}

	assign := func(key string, user *models.User, p models.Priority) {
		task := tasks[key]
		task.AssigneeID = &user.ID
		task.Priority = p
		require.NoError(t, db.UpdateTask(ctx, task))
	}
	assign("wip", alice, models.PriorityHigh)
	assign("hold", alice, models.PriorityLow)
	assign("done", alice, models.PriorityHigh)
	assign("cancelled", bob, models.PriorityUrgent)
	assign("todo", bob, models.PriorityMedium)

	return &queryFixture{db: db, dev: dev, ops: ops, stages: stages, tasks: tasks}
}

func titles(tasks []*models.Task) []string {
	out := make([]string, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t.Title)
	}
	return out
}

func TestFindTasksByDerivedStatus(t *testing.T) {
	f := newQueryFixture(t)
	ctx := context.Background()

	tests := []struct {
		status models.Category
		want   []string
	}{
		{models.CategoryPending, []string{"Write backlog", "Plan sprint", "Review 100% of PRs", "Rotate keys"}},
		{models.CategoryInProgress, []string{"Build API"}},
		{models.CategoryOnHold, []string{"Wait for vendor"}},
		{models.CategoryCancelled, []string{"Old idea"}},
		{models.CategoryCompleted, []string{"Ship API"}},
	}

	for _, tc := range tests {
		t.Run(string(tc.status), func(t *testing.T) {
			status := tc.status
			page, err := f.db.FindTasks(ctx, TaskFilter{Status: &status}, models.PageRequest{PageSize: 50})
			require.NoError(t, err)
			assert.ElementsMatch(t, tc.want, titles(page.Items))
			assert.Equal(t, len(tc.want), page.Total)
			for _, task := range page.Items {
				assert.Equal(t, tc.status, task.Status)
			}
		})
	}
}

func TestFindTasksCombinedFilters(t *testing.T) {
	f := newQueryFixture(t)
	ctx := context.Background()

	alice, err := f.db.GetUserByUsername(ctx, "alice")
	require.NoError(t, err)

	high := models.PriorityHigh
	page, err := f.db.FindTasks(ctx, TaskFilter{AssigneeID: &alice.ID, Priority: &high}, models.PageRequest{})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"Build API", "Ship API"}, titles(page.Items))

	pending := models.CategoryPending
	page, err = f.db.FindTasks(ctx, TaskFilter{Status: &pending, WorkflowID: &f.ops.ID}, models.PageRequest{})
	require.NoError(t, err)
	assert.Equal(t, []string{"Rotate keys"}, titles(page.Items))

	page, err = f.db.FindTasks(ctx, TaskFilter{StageID: &f.stages["On Hold"].ID}, models.PageRequest{})
	require.NoError(t, err)
	assert.Equal(t, []string{"Wait for vendor"}, titles(page.Items))

	// Default order is by due date.
	page, err = f.db.FindTasks(ctx, TaskFilter{WorkflowID: &f.dev.ID}, models.PageRequest{})
	require.NoError(t, err)
	require.Len(t, page.Items, 7)
	assert.Equal(t, "Old idea", page.Items[0].Title)
	assert.Equal(t, "Wait for vendor", page.Items[6].Title)
}

func TestFindTasksPagination(t *testing.T) {
	f := newQueryFixture(t, WithPageSize(3, 5))
	ctx := context.Background()

	page, err := f.db.FindTasks(ctx, TaskFilter{}, models.PageRequest{})
	require.NoError(t, err)
	assert.Equal(t, 8, page.Total)
	assert.Equal(t, 3, page.PageSize)
	assert.Equal(t, 3, page.TotalPages)
	assert.Len(t, page.Items, 3)

	last, err := f.db.FindTasks(ctx, TaskFilter{}, models.PageRequest{Page: 3, PageSize: 3})
	require.NoError(t, err)
	assert.Len(t, last.Items, 2)
	assert.Equal(t, 3, last.Page)

	// Oversized requests are clamped.
	big, err := f.db.FindTasks(ctx, TaskFilter{}, models.PageRequest{PageSize: 1000})
	require.NoError(t, err)
	assert.Equal(t, 5, big.PageSize)
	assert.Len(t, big.Items, 5)
	assert.Equal(t, 2, big.TotalPages)

	past, err := f.db.FindTasks(ctx, TaskFilter{}, models.PageRequest{Page: 9, PageSize: 3})
	require.NoError(t, err)
	assert.Empty(t, past.Items)
	assert.Equal(t, 8, past.Total)
}

func TestCountByStatus(t *testing.T) {
	f := newQueryFixture(t)
	ctx := context.Background()

	counts, err := f.db.CountByStatus(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCounts{
		models.CategoryPending:    4,
		models.CategoryInProgress: 1,
		models.CategoryOnHold:     1,
		models.CategoryCancelled:  1,
		models.CategoryCompleted:  1,
	}, counts)

	var total int
	require.NoError(t, f.db.QueryRow(`SELECT COUNT(*) FROM tasks`).Scan(&total))
	assert.Equal(t, total, counts.Total())

	opsCounts, err := f.db.CountByStatus(ctx, &f.ops.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, opsCounts[models.CategoryPending])
	assert.Equal(t, 0, opsCounts[models.CategoryCompleted])
	assert.Equal(t, 1, opsCounts.Total())
}

func TestCountByStatusSingleWorkflow(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	w, stages := createWorkflow(t, db, "Release", devStages)
	createTask(t, db, w, "Unstarted", nil, testBase)
	createTask(t, db, w, "Building", stages["In Progress"], testBase)
	createTask(t, db, w, "Blocked", stages["On Hold"], testBase)
	createTask(t, db, w, "Shipped", stages["Done"], testBase)
	createTask(t, db, w, "Dropped", stages["Cancelled"], testBase)

	want := models.StatusCounts{
		models.CategoryPending:    1,
		models.CategoryInProgress: 1,
		models.CategoryOnHold:     1,
		models.CategoryCancelled:  1,
		models.CategoryCompleted:  1,
	}
	counts, err := db.CountByStatus(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, want, counts)

	// The workflow's own status must not leak into the grouping.
	_, err = db.Exec(`UPDATE workflows SET status = 'DRAFT' WHERE id = ?`, w.ID)
	require.NoError(t, err)
	counts, err = db.CountByStatus(ctx, &w.ID)
	require.NoError(t, err)
	assert.Equal(t, want, counts)
}

func TestCountByPriority(t *testing.T) {
	f := newQueryFixture(t)

	counts, err := f.db.CountByPriority(context.Background(), &f.dev.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[models.PriorityHigh])
	assert.Equal(t, 1, counts[models.PriorityLow])
	assert.Equal(t, 1, counts[models.PriorityUrgent])
	assert.Equal(t, 3, counts[models.PriorityMedium])
}

func TestOverdueTasksIncludesCancelled(t *testing.T) {
	f := newQueryFixture(t)

	page, err := f.db.OverdueTasks(context.Background(), testBase, models.PageRequest{})
	require.NoError(t, err)
	// Ship API is past due but final, so it is not overdue. Old idea sits on
	// a non-final cancel stage and is still reported.
	assert.ElementsMatch(t, []string{"Write backlog", "Build API", "Old idea"}, titles(page.Items))
}

func TestDueWithin(t *testing.T) {
	f := newQueryFixture(t)
	day := 24 * time.Hour

	// Closed range: both ends are included.
	page, err := f.db.DueWithin(context.Background(), testBase.Add(2*day), testBase.Add(5*day), models.PageRequest{})
	require.NoError(t, err)
	assert.Equal(t, []string{"Plan sprint", "Review 100% of PRs", "Wait for vendor"}, titles(page.Items))

	page, err = f.db.DueWithin(context.Background(), testBase.Add(-2*day), testBase.Add(-2*day), models.PageRequest{})
	require.NoError(t, err)
	assert.Empty(t, page.Items, "final tasks are excluded")
}

func TestSearchTasks(t *testing.T) {
	f := newQueryFixture(t)
	ctx := context.Background()

	page, err := f.db.SearchTasks(ctx, "api", models.PageRequest{})
	require.NoError(t, err)
	// Creation order.
	assert.Equal(t, []string{"Build API", "Ship API"}, titles(page.Items))

	page, err = f.db.SearchTasks(ctx, "100%", models.PageRequest{})
	require.NoError(t, err)
	assert.Equal(t, []string{"Review 100% of PRs"}, titles(page.Items))

	// The percent sign is literal, not a wildcard.
	page, err = f.db.SearchTasks(ctx, "0%o", models.PageRequest{})
	require.NoError(t, err)
	assert.Empty(t, page.Items)
}

func TestWorkflowStatistics(t *testing.T) {
	f := newQueryFixture(t)
	ctx := context.Background()

	stats, err := f.db.WorkflowStatistics(ctx, f.dev.ID)
	require.NoError(t, err)
	assert.Equal(t, 7, stats.Total)
	assert.Equal(t, 1, stats.Completed)
	assert.Equal(t, 1, stats.InProgress)
	assert.Equal(t, 5, stats.Pending)
	assert.Equal(t, stats.Total, stats.Completed+stats.InProgress+stats.Pending)

	_, err = f.db.WorkflowStatistics(ctx, "missing")
	assert.ErrorIs(t, err, sferrors.ErrNotFound)

	empty, _ := createWorkflow(t, f.db, "Empty", nil)
	stats, err = f.db.WorkflowStatistics(ctx, empty.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Total)
}

func TestOpenTasksByAssigneeAndTasksForUser(t *testing.T) {
	f := newQueryFixture(t)
	ctx := context.Background()

	open, err := f.db.OpenTasksByAssignee(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"alice": 2, "bob": 1}, open)

	bob, err := f.db.GetUserByUsername(ctx, "bob")
	require.NoError(t, err)
	page, err := f.db.TasksForUser(ctx, bob.ID, TaskFilter{}, models.PageRequest{})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"Old idea", "Plan sprint"}, titles(page.Items))

	page, err = f.db.TasksForUser(ctx, "creator", TaskFilter{}, models.PageRequest{})
	require.NoError(t, err)
	assert.Equal(t, 8, page.Total)
}

func TestOverview(t *testing.T) {
	f := newQueryFixture(t)

	o, err := f.db.Overview(context.Background(), testBase)
	require.NoError(t, err)
	assert.Equal(t, 2, o.Workflows)
	assert.Equal(t, 2, o.ActiveWorkflows)
	assert.Equal(t, 8, o.Tasks)
	assert.Equal(t, 3, o.Overdue)
	assert.Equal(t, 2, o.Users)
	assert.Equal(t, 8, o.ByStatus.Total())
	assert.Equal(t, 2, o.ByPriority[models.PriorityHigh])
}
