// Package service implements the stageflow operations on top of the storage
// layer. Every mutating call runs in one transaction; audit entries,
// notifications and metrics are emitted only after the commit succeeds.
//
// Import rules:
//   - CAN import: internal/db, internal/pipeline, internal/identity, internal/notify,
//     internal/metrics, internal/clock, internal/errors, pkg/models
//   - MUST NOT import: internal/server, internal/mcp, cmd
package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ldi/stageflow/internal/clock"
	"github.com/ldi/stageflow/internal/db"
	"github.com/ldi/stageflow/internal/identity"
	"github.com/ldi/stageflow/internal/metrics"
	"github.com/ldi/stageflow/internal/notify"
	"github.com/ldi/stageflow/pkg/models"
)

// Service is the single entry point used by the HTTP, MCP and CLI surfaces.
type Service struct {
	db         *db.DB
	clock      clock.Clock
	logger     zerolog.Logger
	metrics    metrics.Metrics
	notifier   notify.Notifier
	auditor    Auditor
	authorizer Authorizer
}

// Option configures a Service.
type Option func(*Service)

// WithClock sets the clock used for lifecycle timestamps and due-date
// queries.
func WithClock(c clock.Clock) Option {
	return func(s *Service) {
		s.clock = c
	}
}

// WithLogger sets the service logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithNotifier sets where task and workflow events are published.
func WithNotifier(n notify.Notifier) Option {
	return func(s *Service) {
		s.notifier = n
	}
}

// WithAuditor replaces the default audit_log writer.
func WithAuditor(a Auditor) Option {
	return func(s *Service) {
		s.auditor = a
	}
}

// WithAuthorizer replaces the default policy.
func WithAuthorizer(a Authorizer) Option {
	return func(s *Service) {
		s.authorizer = a
	}
}

// New creates a service over database. Without options it uses the real
// clock, a no-op logger, metrics and notifier, the audit_log table and the
// default policy.
func New(database *db.DB, opts ...Option) *Service {
	s := &Service{
		db:         database,
		clock:      clock.RealClock{},
		logger:     zerolog.Nop(),
		metrics:    metrics.NoopMetrics{},
		notifier:   notify.Noop{},
		authorizer: DefaultPolicy{},
	}
	s.auditor = NewDBAuditor(database.Repo)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB exposes the underlying store for read-only surfaces such as snapshot
// export.
func (s *Service) DB() *db.DB {
	return s.db
}

// effects collects what a transaction wants to emit once it has committed.
type effects struct {
	actor       *string
	now         time.Time
	audits      []*models.AuditEntry
	notes       []*models.Notification
	transitions [][2]models.Category
}

func (fx *effects) audit(action models.ActionType, entityType, entityID, description string, oldValue, newValue *string) {
	fx.audits = append(fx.audits, &models.AuditEntry{
		ID:          uuid.New().String(),
		Action:      action,
		EntityType:  entityType,
		EntityID:    entityID,
		Description: description,
		ActorID:     fx.actor,
		OldValue:    oldValue,
		NewValue:    newValue,
		CreatedAt:   fx.now,
	})
}

func (fx *effects) notify(t models.NotificationType, title, message, entityID string, userID *string) {
	fx.notes = append(fx.notes, &models.Notification{
		ID:        uuid.New().String(),
		Title:     title,
		Message:   message,
		Type:      t,
		EntityID:  entityID,
		UserID:    userID,
		Timestamp: fx.now,
	})
}

func (fx *effects) transition(from, to models.Category) {
	if from != to {
		fx.transitions = append(fx.transitions, [2]models.Category{from, to})
	}
}

// mutate runs fn in a transaction and dispatches its effects after commit.
func (s *Service) mutate(ctx context.Context, op string, fn func(r *db.Repo, fx *effects) error) error {
	start := time.Now()
	fx := &effects{
		actor: identity.FromContext(ctx).ActorID(),
		now:   s.clock.Now().UTC(),
	}

	err := s.db.InTx(ctx, func(r *db.Repo) error {
		return fn(r, fx)
	})
	s.metrics.Operation(op, time.Since(start), err)
	if err != nil {
		s.logger.Debug().Err(err).Str("operation", op).Msg("operation failed")
		return err
	}

	s.dispatch(ctx, op, fx)
	return nil
}

// read times a non-mutating call.
func (s *Service) read(op string, start time.Time, err error) {
	s.metrics.Operation(op, time.Since(start), err)
}

func (s *Service) dispatch(ctx context.Context, op string, fx *effects) {
	for _, e := range fx.audits {
		if err := s.auditor.Record(ctx, e); err != nil {
			s.logger.Warn().Err(err).
				Str("operation", op).
				Str("entity_type", e.EntityType).
				Str("entity_id", e.EntityID).
				Msg("audit record failed")
		}
	}
	for _, n := range fx.notes {
		s.notifier.Notify(ctx, n)
	}
	for _, t := range fx.transitions {
		s.metrics.Transition(t[0], t[1])
	}
}
