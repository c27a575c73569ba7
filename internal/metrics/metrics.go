// Package metrics records service operation counts and latencies.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	sferrors "github.com/ldi/stageflow/internal/errors"
	"github.com/ldi/stageflow/pkg/models"
)

// Metrics is called by the service layer around each operation.
type Metrics interface {
	// Operation is called once per service call with its outcome.
	Operation(name string, duration time.Duration, err error)

	// Transition is called when a task's derived status changes.
	Transition(from, to models.Category)
}

// NoopMetrics discards everything.
type NoopMetrics struct{}

var _ Metrics = (*NoopMetrics)(nil)

// Operation implements Metrics.
func (NoopMetrics) Operation(string, time.Duration, error) {}

// Transition implements Metrics.
func (NoopMetrics) Transition(models.Category, models.Category) {}

// Prometheus exports metrics on its own registry.
type Prometheus struct {
	registry    *prometheus.Registry
	operations  *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	transitions *prometheus.CounterVec
}

var _ Metrics = (*Prometheus)(nil)

// NewPrometheus builds a registry with the service collectors plus the Go and
// process collectors.
func NewPrometheus() *Prometheus {
	p := &Prometheus{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stageflow",
			Name:      "operations_total",
			Help:      "Service operations by name and outcome.",
		}, []string{"operation", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "stageflow",
			Name:      "operation_duration_seconds",
			Help:      "Service operation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stageflow",
			Name:      "task_transitions_total",
			Help:      "Task status changes by source and target status.",
		}, []string{"from", "to"}),
	}
	p.registry.MustRegister(
		p.operations,
		p.latency,
		p.transitions,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return p
}

// Operation implements Metrics.
func (p *Prometheus) Operation(name string, d time.Duration, err error) {
	p.operations.WithLabelValues(name, Outcome(err)).Inc()
	p.latency.WithLabelValues(name).Observe(d.Seconds())
}

// Transition implements Metrics.
func (p *Prometheus) Transition(from, to models.Category) {
	p.transitions.WithLabelValues(string(from), string(to)).Inc()
}

// Registry exposes the underlying registry for tests and extra collectors.
func (p *Prometheus) Registry() *prometheus.Registry {
	return p.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Outcome classifies err into a low-cardinality label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, sferrors.ErrNotFound):
		return "not_found"
	case errors.Is(err, sferrors.ErrDuplicateName):
		return "duplicate"
	case errors.Is(err, sferrors.ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, sferrors.ErrPermissionDenied):
		return "denied"
	case errors.Is(err, sferrors.ErrInvalidInput):
		return "invalid_input"
	default:
		return "error"
	}
}
