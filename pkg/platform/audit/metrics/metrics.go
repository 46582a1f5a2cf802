package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the audit publisher.
type Metrics struct {
	QueueDepth      prometheus.Gauge
	EventsDropped   prometheus.Counter
	EventsEnqueued  prometheus.Counter
	PersistDuration prometheus.Histogram
	PersistFailures *prometheus.CounterVec
}

// New registers the audit metrics with the default registerer.
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer registers the audit metrics with reg. Tests pass a fresh
// prometheus.NewRegistry() to avoid duplicate registration panics.
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "blockcreds_audit_queue_depth",
			Help: "Current number of events waiting in the audit publisher queue",
		}),
		EventsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "blockcreds_audit_events_dropped_total",
			Help: "Audit events dropped because the buffer was full",
		}),
		EventsEnqueued: factory.NewCounter(prometheus.CounterOpts{
			Name: "blockcreds_audit_events_enqueued_total",
			Help: "Audit events accepted by the publisher",
		}),
		PersistDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "blockcreds_audit_persist_duration_seconds",
			Help:    "Time taken to append an audit event to the store",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),
		PersistFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "blockcreds_audit_persist_failures_total",
			Help: "Audit events the store rejected, by action",
		}, []string{"action"}),
	}
}

func (m *Metrics) Enqueued() {
	m.EventsEnqueued.Inc()
	m.QueueDepth.Inc()
}

func (m *Metrics) Dequeued() {
	m.QueueDepth.Dec()
}

func (m *Metrics) Dropped() {
	m.EventsDropped.Inc()
}

// ObservePersist records one store append.
func (m *Metrics) ObservePersist(action string, err error, elapsed time.Duration) {
	m.PersistDuration.Observe(elapsed.Seconds())
	if err != nil {
		m.PersistFailures.WithLabelValues(action).Inc()
	}
}
