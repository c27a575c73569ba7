package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ldi/stageflow/internal/db"
	sferrors "github.com/ldi/stageflow/internal/errors"
	"github.com/ldi/stageflow/internal/identity"
	"github.com/ldi/stageflow/pkg/models"
)

func TestCompletionFollowsFinalStage(t *testing.T) {
	f := newFixture(t)
	ctx := as(f.alice)

	w, _ := f.workflow(t, ctx, "Release", nil)
	task := f.task(t, ctx, w, "Ship it")
	assert.Nil(t, task.StageID)
	assert.Equal(t, models.CategoryPending, task.Status)
	assert.Nil(t, task.CompletedAt)

	review, err := f.svc.AddStage(ctx, StageInput{WorkflowID: w.ID, Name: "In Review", Order: intPtr(2)})
	require.NoError(t, err)
	done, err := f.svc.AddStage(ctx, StageInput{WorkflowID: w.ID, Name: "Done", Order: intPtr(3), IsFinal: true})
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	moved, err := f.svc.ChangeStage(ctx, task.ID, done.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CategoryCompleted, moved.Status)
	require.NotNil(t, moved.CompletedAt)
	assert.True(t, moved.CompletedAt.Equal(testBase.Add(time.Hour)))

	moved, err = f.svc.ChangeStage(ctx, task.ID, review.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CategoryPending, moved.Status)
	assert.Nil(t, moved.CompletedAt)

	stored, err := f.svc.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CategoryPending, stored.Status)
	assert.Nil(t, stored.CompletedAt)
	assert.Equal(t, "In Review", stored.Stage.Name)
}

func TestHoldAndCancelledStages(t *testing.T) {
	f := newFixture(t)
	ctx := as(f.alice)

	w, stages := f.workflow(t, ctx, "Support", []*models.Stage{
		stage("Open", 1, false),
		stage("On Hold", 2, false),
		stage("Done", 3, true),
		stage("Cancelled", 4, false),
	})
	task := f.task(t, ctx, w, "Printer jam")

	held, err := f.svc.ChangeStage(ctx, task.ID, stages["On Hold"].ID)
	require.NoError(t, err)
	assert.Equal(t, models.CategoryOnHold, held.Status)

	cancelled, err := f.svc.ChangeStage(ctx, task.ID, stages["Cancelled"].ID)
	require.NoError(t, err)
	assert.Equal(t, models.CategoryCancelled, cancelled.Status)
	assert.Nil(t, cancelled.CompletedAt, "a cancelled stage is not terminal unless marked final")
}

func TestOverdueIncludesCancelledTasks(t *testing.T) {
	f := newFixture(t)
	ctx := as(f.alice)

	w, stages := f.workflow(t, ctx, "Ops", devPipeline())
	late, err := f.svc.CreateTask(ctx, TaskInput{
		WorkflowID: w.ID,
		StageID:    &stages["Cancelled"].ID,
		Title:      "Old request",
		DueDate:    testBase.Add(-24 * time.Hour),
	})
	require.NoError(t, err)
	done, err := f.svc.CreateTask(ctx, TaskInput{
		WorkflowID: w.ID,
		StageID:    &stages["Done"].ID,
		Title:      "Finished request",
		DueDate:    testBase.Add(-24 * time.Hour),
	})
	require.NoError(t, err)
	f.task(t, ctx, w, "Future request")

	page, err := f.svc.OverdueTasks(ctx, models.PageRequest{})
	require.NoError(t, err)
	require.Equal(t, 1, page.Total)
	assert.Equal(t, late.ID, page.Items[0].ID)
	assert.Equal(t, models.CategoryCancelled, page.Items[0].Status)
	assert.NotEqual(t, done.ID, page.Items[0].ID)
}

func TestDuplicateTaskTitle(t *testing.T) {
	f := newFixture(t)
	ctx := as(f.alice)

	w1, _ := f.workflow(t, ctx, "Workflow 1", devPipeline())
	w2, _ := f.workflow(t, ctx, "Workflow 2", devPipeline())

	f.task(t, ctx, w1, "Setup")
	_, err := f.svc.CreateTask(ctx, TaskInput{WorkflowID: w1.ID, Title: "setup", DueDate: testBase})
	assert.ErrorIs(t, err, sferrors.ErrDuplicateName)

	_, err = f.svc.CreateTask(ctx, TaskInput{WorkflowID: w2.ID, Title: "Setup", DueDate: testBase})
	assert.NoError(t, err, "titles are scoped to their workflow")
}

func TestCreateTaskStartsOnFirstStage(t *testing.T) {
	f := newFixture(t)
	ctx := as(f.alice)

	w, _ := f.workflow(t, ctx, "Dev", devPipeline())
	task, err := f.svc.CreateTask(ctx, TaskInput{
		WorkflowID: w.ID,
		Title:      "Write docs",
		DueDate:    testBase,
		AssigneeID: &f.bob.ID,
	})
	require.NoError(t, err)
	require.NotNil(t, task.Stage)
	assert.Equal(t, "To Do", task.Stage.Name)
	assert.Equal(t, models.CategoryPending, task.Status)
	assert.Equal(t, f.alice.ID, task.CreatorID)
	assert.Equal(t, models.PriorityMedium, task.Priority)

	assigned := f.notifier.ofType(models.NotificationTaskAssigned)
	require.Len(t, assigned, 1)
	assert.Equal(t, f.bob.ID, *assigned[0].UserID)
	assert.Equal(t, task.ID, assigned[0].EntityID)
}

func TestCreateTaskValidation(t *testing.T) {
	f := newFixture(t)
	ctx := as(f.alice)
	w, _ := f.workflow(t, ctx, "Dev", devPipeline())
	_, otherStages := f.workflow(t, ctx, "Other", devPipeline())

	long := make([]byte, MaxTitleLength+1)
	for i := range long {
		long[i] = 'x'
	}
	missing := "no-such-user"

	tests := []struct {
		name string
		in   TaskInput
		want error
	}{
		{"empty title", TaskInput{WorkflowID: w.ID, DueDate: testBase}, sferrors.ErrInvalidInput},
		{"long title", TaskInput{WorkflowID: w.ID, Title: string(long), DueDate: testBase}, sferrors.ErrInvalidInput},
		{"no due date", TaskInput{WorkflowID: w.ID, Title: "x"}, sferrors.ErrInvalidInput},
		{"bad priority", TaskInput{WorkflowID: w.ID, Title: "x", DueDate: testBase, Priority: "SOMEDAY"}, sferrors.ErrInvalidInput},
		{"negative estimate", TaskInput{WorkflowID: w.ID, Title: "x", DueDate: testBase, EstimatedHours: intPtr(-1)}, sferrors.ErrInvalidInput},
		{"unknown workflow", TaskInput{WorkflowID: "nope", Title: "x", DueDate: testBase}, sferrors.ErrNotFound},
		{"unknown assignee", TaskInput{WorkflowID: w.ID, Title: "x", DueDate: testBase, AssigneeID: &missing}, sferrors.ErrNotFound},
		{"foreign stage", TaskInput{WorkflowID: w.ID, Title: "x", DueDate: testBase, StageID: &otherStages["Done"].ID}, sferrors.ErrInvalidState},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreateTask(ctx, tt.in)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	_, err := f.svc.CreateTask(context.Background(), TaskInput{WorkflowID: w.ID, Title: "anon", DueDate: testBase})
	assert.ErrorIs(t, err, sferrors.ErrInvalidInput)
}

func TestChangeStageRejectsForeignStage(t *testing.T) {
	f := newFixture(t)
	ctx := as(f.alice)

	w, _ := f.workflow(t, ctx, "Dev", devPipeline())
	_, otherStages := f.workflow(t, ctx, "Other", devPipeline())
	task := f.task(t, ctx, w, "Refactor")

	_, err := f.svc.ChangeStage(ctx, task.ID, otherStages["Done"].ID)
	assert.ErrorIs(t, err, sferrors.ErrInvalidState)

	_, err = f.svc.ChangeStage(ctx, task.ID, "missing")
	assert.ErrorIs(t, err, sferrors.ErrNotFound)

	stored, err := f.svc.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "To Do", stored.Stage.Name)
}

func TestAdvanceAndRevert(t *testing.T) {
	f := newFixture(t)
	ctx := as(f.alice)

	w, stages := f.workflow(t, ctx, "Dev", []*models.Stage{
		stage("To Do", 10, false),
		stage("In Progress", 20, false),
		stage("Done", 30, true),
	})
	task, err := f.svc.CreateTask(ctx, TaskInput{WorkflowID: w.ID, Title: "Feature", DueDate: testBase})
	require.NoError(t, err)

	_, err = f.svc.RevertTask(ctx, task.ID)
	assert.ErrorIs(t, err, sferrors.ErrInvalidState, "first stage has no predecessor")

	moved, err := f.svc.AdvanceTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, stages["In Progress"].ID, *moved.StageID)
	assert.Equal(t, models.CategoryInProgress, moved.Status)

	moved, err = f.svc.AdvanceTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CategoryCompleted, moved.Status)
	assert.NotNil(t, moved.CompletedAt)

	_, err = f.svc.AdvanceTask(ctx, task.ID)
	assert.ErrorIs(t, err, sferrors.ErrInvalidState)

	moved, err = f.svc.RevertTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CategoryInProgress, moved.Status)
	assert.Nil(t, moved.CompletedAt)
}

func TestAdvanceUnstartedTask(t *testing.T) {
	f := newFixture(t)
	ctx := as(f.alice)

	w, _ := f.workflow(t, ctx, "Late pipeline", nil)
	task := f.task(t, ctx, w, "Early task")
	require.Nil(t, task.Stage)

	_, err := f.svc.RevertTask(ctx, task.ID)
	assert.ErrorIs(t, err, sferrors.ErrInvalidState)

	_, err = f.svc.AddStage(ctx, StageInput{WorkflowID: w.ID, Name: "Backlog"})
	require.NoError(t, err)
	moved, err := f.svc.AdvanceTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "Backlog", moved.Stage.Name)
}

func TestCompleteTask(t *testing.T) {
	f := newFixture(t)
	ctx := as(f.alice)

	w, stages := f.workflow(t, ctx, "Dev", devPipeline())
	task, err := f.svc.CreateTask(ctx, TaskInput{WorkflowID: w.ID, Title: "Bug", DueDate: testBase, AssigneeID: &f.bob.ID})
	require.NoError(t, err)

	_, err = f.svc.CompleteTask(ctx, task.ID, intPtr(-2))
	assert.ErrorIs(t, err, sferrors.ErrInvalidInput)

	f.clock.Advance(time.Minute)
	done, err := f.svc.CompleteTask(as(f.bob), task.ID, intPtr(5))
	require.NoError(t, err)
	assert.Equal(t, stages["Done"].ID, *done.StageID)
	assert.Equal(t, models.CategoryCompleted, done.Status)
	require.NotNil(t, done.ActualHours)
	assert.Equal(t, 5, *done.ActualHours)

	completed := f.notifier.ofType(models.NotificationTaskCompleted)
	require.Len(t, completed, 1)
	assert.Equal(t, f.alice.ID, *completed[0].UserID, "the creator hears about completion")

	audit, err := f.svc.ListAudit(ctx, db.AuditFilter{EntityType: "task", EntityID: task.ID}, models.PageRequest{})
	require.NoError(t, err)
	require.NotEmpty(t, audit.Items)
	latest := audit.Items[0]
	assert.Equal(t, models.ActionComplete, latest.Action)
	assert.Equal(t, "Changed workflow status from To Do to Done for task: Bug", latest.Description)
	assert.Equal(t, f.bob.ID, *latest.ActorID)

	empty, _ := f.workflow(t, ctx, "No final", []*models.Stage{stage("Open", 1, false)})
	open := f.task(t, ctx, empty, "Stuck")
	_, err = f.svc.CompleteTask(ctx, open.ID, nil)
	assert.ErrorIs(t, err, sferrors.ErrInvalidState)
}

func TestSetCategory(t *testing.T) {
	f := newFixture(t)
	ctx := as(f.alice)

	w, stages := f.workflow(t, ctx, "Dev", devPipeline())
	task := f.task(t, ctx, w, "Research")

	tests := []struct {
		category models.Category
		stage    string
	}{
		{models.CategoryInProgress, "In Progress"},
		{models.CategoryOnHold, "On Hold"},
		{models.CategoryCompleted, "Done"},
		{models.CategoryCancelled, "Cancelled"},
		{models.CategoryPending, "To Do"},
	}
	for _, tt := range tests {
		moved, err := f.svc.SetCategory(ctx, task.ID, tt.category)
		require.NoError(t, err, tt.category)
		assert.Equal(t, stages[tt.stage].ID, *moved.StageID, tt.category)
		assert.Equal(t, tt.category, moved.Status)
		assert.Equal(t, tt.category == models.CategoryCompleted, moved.CompletedAt != nil)
	}

	_, err := f.svc.SetCategory(ctx, task.ID, "DONE-ISH")
	assert.ErrorIs(t, err, sferrors.ErrInvalidInput)

	simple, _ := f.workflow(t, ctx, "Simple", []*models.Stage{stage("Open", 1, false), stage("Closed", 2, true)})
	st := f.task(t, ctx, simple, "Thing")
	_, err = f.svc.SetCategory(ctx, st.ID, models.CategoryOnHold)
	assert.ErrorIs(t, err, sferrors.ErrInvalidState)
}

func TestExplicitStageCategory(t *testing.T) {
	f := newFixture(t)
	ctx := as(f.alice)

	w, _ := f.workflow(t, ctx, "Triage", []*models.Stage{stage("Intake", 1, false)})
	blocked := models.CategoryOnHold
	waiting, err := f.svc.AddStage(ctx, StageInput{WorkflowID: w.ID, Name: "Waiting on vendor", Category: &blocked})
	require.NoError(t, err)
	assert.Equal(t, 2, waiting.Order)

	task := f.task(t, ctx, w, "License renewal")
	moved, err := f.svc.SetCategory(ctx, task.ID, models.CategoryOnHold)
	require.NoError(t, err)
	assert.Equal(t, waiting.ID, *moved.StageID)

	counts, err := f.svc.CountByStatus(ctx, &w.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[models.CategoryOnHold])
}

func TestUpdateTask(t *testing.T) {
	f := newFixture(t)
	ctx := as(f.alice)

	w, _ := f.workflow(t, ctx, "Dev", devPipeline())
	task := f.task(t, ctx, w, "First")
	f.task(t, ctx, w, "Second")

	title := "SECOND"
	_, err := f.svc.UpdateTask(ctx, task.ID, TaskUpdate{Title: &title})
	assert.ErrorIs(t, err, sferrors.ErrDuplicateName)

	title = "First, renamed"
	high := models.PriorityHigh
	due := testBase.Add(240 * time.Hour)
	updated, err := f.svc.UpdateTask(ctx, task.ID, TaskUpdate{Title: &title, Priority: &high, DueDate: &due, EstimatedHours: intPtr(3)})
	require.NoError(t, err)
	assert.Equal(t, "First, renamed", updated.Title)
	assert.Equal(t, models.PriorityHigh, updated.Priority)
	assert.Equal(t, models.CategoryPending, updated.Status)

	stored, err := f.svc.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.True(t, stored.DueDate.Equal(due))
	assert.Equal(t, 3, *stored.EstimatedHours)
}

func TestAssignTask(t *testing.T) {
	f := newFixture(t)
	ctx := as(f.alice)

	w, _ := f.workflow(t, ctx, "Dev", devPipeline())
	task := f.task(t, ctx, w, "Review PR")

	assigned, err := f.svc.AssignTask(ctx, task.ID, &f.bob.ID)
	require.NoError(t, err)
	assert.Equal(t, f.bob.ID, *assigned.AssigneeID)
	require.Len(t, f.notifier.ofType(models.NotificationTaskAssigned), 1)

	missing := "ghost"
	_, err = f.svc.AssignTask(ctx, task.ID, &missing)
	assert.ErrorIs(t, err, sferrors.ErrNotFound)

	cleared, err := f.svc.AssignTask(ctx, task.ID, nil)
	require.NoError(t, err)
	assert.Nil(t, cleared.AssigneeID)
	assert.Len(t, f.notifier.ofType(models.NotificationTaskAssigned), 1)
}

func TestDeleteTaskPolicy(t *testing.T) {
	f := newFixture(t)
	ctx := as(f.alice)

	w, _ := f.workflow(t, ctx, "Dev", devPipeline())
	first := f.task(t, ctx, w, "Alice's task")
	second := f.task(t, ctx, w, "Another task")

	err := f.svc.DeleteTask(as(f.bob), first.ID)
	assert.ErrorIs(t, err, sferrors.ErrPermissionDenied)

	admin := identity.WithPrincipal(context.Background(), &identity.Principal{
		UserID: f.bob.ID,
		Roles:  []*models.UserRole{{RoleName: "admin", Active: true, Permissions: []string{PermissionDeleteAnyTask}}},
	})
	require.NoError(t, f.svc.DeleteTask(admin, first.ID))

	require.NoError(t, f.svc.DeleteTask(ctx, second.ID))
	_, err = f.svc.GetTask(ctx, second.ID)
	assert.ErrorIs(t, err, sferrors.ErrNotFound)

	assert.ErrorIs(t, f.svc.DeleteTask(ctx, second.ID), sferrors.ErrNotFound)
}

func TestComments(t *testing.T) {
	f := newFixture(t)
	ctx := as(f.alice)

	w, _ := f.workflow(t, ctx, "Dev", devPipeline())
	task := f.task(t, ctx, w, "Discuss")

	_, err := f.svc.AddComment(ctx, task.ID, "  ")
	assert.ErrorIs(t, err, sferrors.ErrInvalidInput)
	_, err = f.svc.AddComment(ctx, "missing", "hello")
	assert.ErrorIs(t, err, sferrors.ErrNotFound)

	_, err = f.svc.AddComment(ctx, task.ID, "first")
	require.NoError(t, err)
	f.clock.Advance(time.Second)
	_, err = f.svc.AddComment(as(f.bob), task.ID, "second")
	require.NoError(t, err)

	comments, err := f.svc.ListComments(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, comments, 2)
	assert.Equal(t, f.bob.ID, comments[1].AuthorID)
}

func TestNextStagesForTask(t *testing.T) {
	f := newFixture(t)
	ctx := as(f.alice)

	w, stages := f.workflow(t, ctx, "Dev", devPipeline())
	task := f.task(t, ctx, w, "Plan")

	next, err := f.svc.NextStagesForTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Len(t, next, 5)
	assert.Equal(t, "In Progress", next[0].Name)

	_, err = f.svc.ChangeStage(ctx, task.ID, stages["Cancelled"].ID)
	require.NoError(t, err)
	next, err = f.svc.NextStagesForTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Empty(t, next)
	assert.NotNil(t, next)
}

func TestEffectsOnlyAfterCommit(t *testing.T) {
	f := newFixture(t)
	ctx := as(f.alice)

	w, _ := f.workflow(t, ctx, "Dev", devPipeline())
	task := f.task(t, ctx, w, "Only once")
	before, err := f.svc.ListAudit(ctx, db.AuditFilter{}, models.PageRequest{})
	require.NoError(t, err)

	_, err = f.svc.CreateTask(ctx, TaskInput{WorkflowID: w.ID, Title: "only once", DueDate: testBase, AssigneeID: &f.bob.ID})
	require.ErrorIs(t, err, sferrors.ErrDuplicateName)

	after, err := f.svc.ListAudit(ctx, db.AuditFilter{}, models.PageRequest{})
	require.NoError(t, err)
	assert.Equal(t, before.Total, after.Total)
	assert.Empty(t, f.notifier.ofType(models.NotificationTaskAssigned))

	errs := f.metrics.ops["create_task"]
	require.Len(t, errs, 2)
	assert.NoError(t, errs[0])
	assert.ErrorIs(t, errs[1], sferrors.ErrDuplicateName)

	_, err = f.svc.AdvanceTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Contains(t, f.metrics.transitions, [2]models.Category{models.CategoryPending, models.CategoryInProgress})
}

func TestAuditFailureDoesNotFailOperation(t *testing.T) {
	f := newFixture(t, WithAuditor(failingAuditor{}))
	ctx := as(f.alice)

	w, _ := f.workflow(t, ctx, "Dev", devPipeline())
	task := f.task(t, ctx, w, "Resilient")
	moved, err := f.svc.AdvanceTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CategoryInProgress, moved.Status)
}
