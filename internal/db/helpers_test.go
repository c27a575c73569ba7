package db

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ldi/stageflow/pkg/models"
)

// stepClock advances one second on every call so rows get distinct,
// ordered timestamps.
type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

var testBase = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestDB(t *testing.T, opts ...Option) *DB {
	t.Helper()
	opts = append([]Option{WithClock(&stepClock{t: testBase})}, opts...)
	db, err := Open(":memory:", opts...)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Init(context.Background()))
	return db
}

type stageDef struct {
	name  string
	order int
	final bool
}

// devStages is a sparse pipeline covering every derived status.
var devStages = []stageDef{
	{"To Do", 10, false},
	{"In Progress", 20, false},
	{"On Hold", 30, false},
	{"In Review", 40, false},
	{"Done", 50, true},
	{"Cancelled", 60, false},
}

func createWorkflow(t *testing.T, db *DB, name string, stages []stageDef) (*models.Workflow, map[string]*models.Stage) {
	t.Helper()
	ctx := context.Background()

	w := &models.Workflow{Name: name, Status: models.WorkflowStatusActive, IsActive: true, CreatorID: "admin"}
	require.NoError(t, db.CreateWorkflow(ctx, w))

	byName := make(map[string]*models.Stage)
	for _, def := range stages {
		s := &models.Stage{WorkflowID: w.ID, Name: def.name, Order: def.order, IsFinal: def.final}
		require.NoError(t, db.CreateStage(ctx, s))
		byName[def.name] = s
	}
	return w, byName
}

func createTask(t *testing.T, db *DB, w *models.Workflow, title string, stage *models.Stage, due time.Time) *models.Task {
	t.Helper()
	task := &models.Task{
		WorkflowID: w.ID,
		Title:      title,
		CreatorID:  "creator",
		DueDate:    due,
	}
	task.MoveTo(stage, testBase)
	require.NoError(t, db.CreateTask(context.Background(), task))
	return task
}

func strPtr(s string) *string { return &s }
