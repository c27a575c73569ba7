package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sferrors "github.com/ldi/stageflow/internal/errors"
	"github.com/ldi/stageflow/pkg/models"
)

func TestOutcome(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{sferrors.Newf(sferrors.ErrNotFound, "task %s", "x"), "not_found"},
		{sferrors.ErrDuplicateName, "duplicate"},
		{sferrors.ErrInvalidState, "invalid_state"},
		{sferrors.ErrPermissionDenied, "denied"},
		{sferrors.ErrInvalidInput, "invalid_input"},
		{errors.New("disk full"), "error"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Outcome(tt.err))
	}
}

func TestPrometheusCounts(t *testing.T) {
	p := NewPrometheus()

	p.Operation("create_task", 5*time.Millisecond, nil)
	p.Operation("create_task", time.Millisecond, sferrors.ErrDuplicateName)
	p.Transition(models.CategoryPending, models.CategoryCompleted)

	assert.InDelta(t, 1, testutil.ToFloat64(p.operations.WithLabelValues("create_task", "ok")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(p.operations.WithLabelValues("create_task", "duplicate")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(p.transitions.WithLabelValues("PENDING", "COMPLETED")), 0)
}

func TestPrometheusHandler(t *testing.T) {
	p := NewPrometheus()
	p.Operation("advance_task", time.Millisecond, nil)

	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `stageflow_operations_total{operation="advance_task",outcome="ok"} 1`)
	assert.Contains(t, string(body), "stageflow_operation_duration_seconds_bucket")
}

func TestNoopMetrics(t *testing.T) {
	var m Metrics = NoopMetrics{}
	assert.NotPanics(t, func() {
		m.Operation("x", time.Second, nil)
		m.Transition(models.CategoryPending, models.CategoryInProgress)
	})
}
