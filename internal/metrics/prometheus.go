package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "consortium"

// Metrics holds all Prometheus metrics of the service.  A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	// Engine operations
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec

	// Domain outcomes
	BidTransitions     *prometheus.CounterVec
	ConsortiaFinalized prometheus.Counter
	KYCDecisions       *prometheus.CounterVec

	// Infrastructure
	EventsPublished *prometheus.CounterVec
	SchedulerSweeps *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.  Tests
// pass a fresh prometheus.NewRegistry() to avoid duplicate registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		OperationsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_total",
				Help:      "Total engine operations by operation and result",
			},
			[]string{"operation", "result"},
		),
		OperationDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Duration of engine operations",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		BidTransitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bid_transitions_total",
				Help:      "Bids entering each status",
			},
			[]string{"status"},
		),
		ConsortiaFinalized: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "consortia_finalized_total",
				Help:      "Consortia locked by finalization",
			},
		),
		KYCDecisions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "kyc_decisions_total",
				Help:      "KYC state changes by resulting status",
			},
			[]string{"status"},
		),
		EventsPublished: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_published_total",
				Help:      "Domain events handed to the broker by queue and result",
			},
			[]string{"queue", "result"},
		),
		SchedulerSweeps: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scheduler_actions_total",
				Help:      "Deadline scheduler actions by action and result",
			},
			[]string{"action", "result"},
		),
	}
}

// ObserveOperation records one engine call.
func (m *Metrics) ObserveOperation(operation, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.OperationsTotal.WithLabelValues(operation, result).Inc()
	m.OperationDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// BidsEntered counts n bids moving into status.
func (m *Metrics) BidsEntered(status string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.BidTransitions.WithLabelValues(status).Add(float64(n))
}

// Finalized counts a locked consortium.
func (m *Metrics) Finalized() {
	if m == nil {
		return
	}
	m.ConsortiaFinalized.Inc()
}

// KYCDecided counts a KYC state change.
func (m *Metrics) KYCDecided(status string) {
	if m == nil {
		return
	}
	m.KYCDecisions.WithLabelValues(status).Inc()
}

// EventPublished counts a publish attempt.
func (m *Metrics) EventPublished(queue string, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.EventsPublished.WithLabelValues(queue, result).Inc()
}

// SchedulerAction counts one scheduler call.
func (m *Metrics) SchedulerAction(action string, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.SchedulerSweeps.WithLabelValues(action, result).Inc()
}
