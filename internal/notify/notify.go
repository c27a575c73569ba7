// Package notify publishes task and workflow events to a message broker.
//
// Publishing happens after a transaction commits and never fails the caller:
// each event is marshalled, handed to a goroutine bounded by a semaphore, and
// any publish error is logged.
package notify

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	sferrors "github.com/ldi/stageflow/internal/errors"
	"github.com/ldi/stageflow/pkg/models"
)

// DefaultPrefix is the subject prefix used when none is configured.
const DefaultPrefix = "stageflow"

// DefaultMaxInFlight bounds concurrent publishes per notifier.
const DefaultMaxInFlight = 32

// Notifier receives events after they have been committed.
type Notifier interface {
	Notify(ctx context.Context, n *models.Notification)
}

// Publisher is the subset of *nats.Conn the notifier needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

var _ Publisher = (*nats.Conn)(nil)

// Connect dials a NATS server with reconnect settings suited to a long
// running service.
func Connect(url, name string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, sferrors.Wrapf(err, "connect to nats at %s", url)
	}
	return nc, nil
}

// Subject maps a notification type to its subject under prefix.
func Subject(prefix string, t models.NotificationType) string {
	switch t {
	case models.NotificationTaskAssigned:
		return prefix + ".tasks.assigned"
	case models.NotificationTaskCompleted:
		return prefix + ".tasks.completed"
	case models.NotificationWorkflowCreated:
		return prefix + ".workflows.created"
	case models.NotificationWorkflowUpdated:
		return prefix + ".workflows.updated"
	default:
		return prefix + ".tasks.updated"
	}
}

// BrokerNotifier publishes notifications as JSON.
type BrokerNotifier struct {
	pub    Publisher
	prefix string
	logger zerolog.Logger
	sem    chan struct{}
	wg     sync.WaitGroup
}

// Option configures a BrokerNotifier.
type Option func(*BrokerNotifier)

// WithPrefix sets the subject prefix.
func WithPrefix(prefix string) Option {
	return func(n *BrokerNotifier) {
		if prefix != "" {
			n.prefix = prefix
		}
	}
}

// WithLogger sets the logger for publish failures.
func WithLogger(l zerolog.Logger) Option {
	return func(n *BrokerNotifier) {
		n.logger = l
	}
}

// WithMaxInFlight bounds the number of concurrent publishes.
func WithMaxInFlight(max int) Option {
	return func(n *BrokerNotifier) {
		if max > 0 {
			n.sem = make(chan struct{}, max)
		}
	}
}

// New creates a notifier over pub.
func New(pub Publisher, opts ...Option) *BrokerNotifier {
	n := &BrokerNotifier{
		pub:    pub,
		prefix: DefaultPrefix,
		logger: zerolog.Nop(),
		sem:    make(chan struct{}, DefaultMaxInFlight),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Notify publishes n asynchronously. When the in-flight limit is reached the
// event is dropped and logged.
func (b *BrokerNotifier) Notify(ctx context.Context, n *models.Notification) {
	if n == nil {
		return
	}
	if err := ctx.Err(); err != nil {
		b.logger.Warn().Err(err).Str("type", string(n.Type)).Msg("notification skipped")
		return
	}

	data, err := json.Marshal(n)
	if err != nil {
		b.logger.Error().Err(err).Str("type", string(n.Type)).Msg("marshal notification")
		return
	}
	subject := Subject(b.prefix, n.Type)

	select {
	case b.sem <- struct{}{}:
	default:
		b.logger.Warn().Str("subject", subject).Str("entity_id", n.EntityID).Msg("notification dropped, publisher busy")
		return
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer func() { <-b.sem }()
		if err := b.pub.Publish(subject, data); err != nil {
			b.logger.Error().Err(err).Str("subject", subject).Str("entity_id", n.EntityID).Msg("publish notification")
			return
		}
		b.logger.Debug().Str("subject", subject).Str("entity_id", n.EntityID).Msg("notification published")
	}()
}

// Close waits for in-flight publishes or until ctx is done.
func (b *BrokerNotifier) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Noop discards notifications.
type Noop struct{}

func (Noop) Notify(context.Context, *models.Notification) {}

var (
	_ Notifier = (*BrokerNotifier)(nil)
	_ Notifier = Noop{}
)
