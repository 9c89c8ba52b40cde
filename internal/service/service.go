// Package service is the deal lifecycle engine: the KYC gate, the bid
// ledger, the consortium reconciler and the request lifecycle.  Every
// public operation validates fully before it mutates, runs inside one
// Store transaction and, for request-scoped operations, holds the
// request's lock for the whole transaction.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/iliyamo/coverage-consortium/internal/metrics"
	"github.com/iliyamo/coverage-consortium/internal/model"
	"github.com/iliyamo/coverage-consortium/internal/queue"
)

// Actor is the authenticated caller of an operation as supplied by the
// transport.
type Actor struct {
	UserID uint64
	Role   model.Role
}

// SystemActor is used by internal callers such as the scheduler.
func SystemActor() Actor { return Actor{Role: model.RoleSystem} }

func (a Actor) is(role model.Role) bool { return a.Role == role }

// Service implements the engine operations.
type Service struct {
	store   Store
	events  Publisher
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// WithPublisher sets the event publisher.
func WithPublisher(p Publisher) Option { return func(s *Service) { s.events = p } }

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option { return func(s *Service) { s.metrics = m } }

// New builds a Service over store.
func New(store Store, logger *zap.Logger, opts ...Option) *Service {
	if store == nil {
		panic("nil store passed to service.New")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		store:  store,
		events: queue.NopPublisher{},
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	// timestamps are stored as DATETIME(6)
	clock := s.now
	s.now = func() time.Time { return clock().UTC().Truncate(time.Microsecond) }
	return s
}

// track starts timing op; the returned func records the outcome held in
// *errp and is meant to be deferred.
func (s *Service) track(op string, errp *error) func() {
	start := time.Now()
	return func() { s.observe(op, start, *errp) }
}

// observe records the outcome of an operation started at start.
func (s *Service) observe(op string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		if kind, ok := KindOf(err); ok {
			result = string(kind)
		} else {
			result = "error"
			s.logger.Error("operation failed", zap.String("operation", op), zap.Error(err))
		}
	}
	s.metrics.ObserveOperation(op, result, time.Since(start))
}

// publish hands ev to the broker.  Failures are logged and counted but
// never reported to the caller: the transaction has already committed.
func (s *Service) publish(ctx context.Context, ev queue.Event) {
	err := s.events.Publish(ctx, ev)
	s.metrics.EventPublished(ev.QueueName(), err)
	if err != nil {
		s.logger.Warn("event publish failed", zap.String("queue", ev.QueueName()), zap.Error(err))
	}
}

func newEventID() string { return uuid.New().String() }

// notFound converts a store miss into the NotFound kind and wraps other
// storage failures.
func notFound(err error, what string, id uint64) error {
	if errors.Is(err, model.ErrNotFound) {
		return newError(KindNotFound, "%s %d not found", what, id)
	}
	return fmt.Errorf("load %s %d: %w", what, id, err)
}

func timestamp(t time.Time) string { return t.UTC().Format(time.RFC3339) }

func isNotFound(err error) bool { return errors.Is(err, model.ErrNotFound) }
