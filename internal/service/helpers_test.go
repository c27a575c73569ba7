package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ldi/stageflow/internal/db"
	"github.com/ldi/stageflow/internal/identity"
	"github.com/ldi/stageflow/pkg/models"
)

var testBase = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type recordingNotifier struct {
	mu    sync.Mutex
	notes []*models.Notification
}

func (n *recordingNotifier) Notify(_ context.Context, note *models.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notes = append(n.notes, note)
}

func (n *recordingNotifier) ofType(t models.NotificationType) []*models.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []*models.Notification
	for _, note := range n.notes {
		if note.Type == t {
			out = append(out, note)
		}
	}
	return out
}

type recordingMetrics struct {
	mu          sync.Mutex
	ops         map[string][]error
	transitions [][2]models.Category
}

func (m *recordingMetrics) Operation(name string, _ time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ops == nil {
		m.ops = map[string][]error{}
	}
	m.ops[name] = append(m.ops[name], err)
}

func (m *recordingMetrics) Transition(from, to models.Category) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitions = append(m.transitions, [2]models.Category{from, to})
}

type failingAuditor struct{}

func (failingAuditor) Record(context.Context, *models.AuditEntry) error {
	return errors.New("audit store unavailable")
}

type fixture struct {
	svc      *Service
	db       *db.DB
	clock    *testClock
	notifier *recordingNotifier
	metrics  *recordingMetrics
	alice    *models.User
	bob      *models.User
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	clk := &testClock{t: testBase}
	database, err := db.Open(":memory:", db.WithClock(clk))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, database.Init(context.Background()))

	f := &fixture{
		db:       database,
		clock:    clk,
		notifier: &recordingNotifier{},
		metrics:  &recordingMetrics{},
	}
	opts = append([]Option{WithClock(clk), WithNotifier(f.notifier), WithMetrics(f.metrics)}, opts...)
	f.svc = New(database, opts...)

	ctx := identity.WithPrincipal(context.Background(), identity.System)
	f.alice = &models.User{Username: "alice", Enabled: true}
	f.bob = &models.User{Username: "bob", Enabled: true}
	require.NoError(t, f.svc.CreateUser(ctx, f.alice))
	require.NoError(t, f.svc.CreateUser(ctx, f.bob))
	return f
}

// as returns a context acting as user.
func as(u *models.User) context.Context {
	return identity.WithPrincipal(context.Background(), &identity.Principal{UserID: u.ID})
}

func stage(name string, order int, final bool) *models.Stage {
	return &models.Stage{Name: name, Order: order, IsFinal: final}
}

// devPipeline covers every derived status.
func devPipeline() []*models.Stage {
	return []*models.Stage{
		stage("To Do", 10, false),
		stage("In Progress", 20, false),
		stage("On Hold", 30, false),
		stage("In Review", 40, false),
		stage("Done", 50, true),
		stage("Cancelled", 60, false),
	}
}

func (f *fixture) workflow(t *testing.T, ctx context.Context, name string, stages []*models.Stage) (*models.Workflow, map[string]*models.Stage) {
	t.Helper()
	w, err := f.svc.CreateWorkflow(ctx, WorkflowInput{Name: name, Status: models.WorkflowStatusActive, Stages: stages})
	require.NoError(t, err)
	byName := map[string]*models.Stage{}
	for _, st := range w.Stages {
		byName[st.Name] = st
	}
	return w, byName
}

func (f *fixture) task(t *testing.T, ctx context.Context, w *models.Workflow, title string) *models.Task {
	t.Helper()
	task, err := f.svc.CreateTask(ctx, TaskInput{WorkflowID: w.ID, Title: title, DueDate: testBase.Add(72 * time.Hour)})
	require.NoError(t, err)
	return task
}

func intPtr(v int) *int { return &v }
