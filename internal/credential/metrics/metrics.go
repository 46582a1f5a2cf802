// Package metrics provides Prometheus metrics for credential issuance and
// verification.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Issuance
	IssuedTotal         *prometheus.CounterVec // by mode (engine, client_tx)
	IssueFailuresTotal  *prometheus.CounterVec // by domain error code
	CodeCollisionsTotal prometheus.Counter

	// Verification
	VerificationsTotal    *prometheus.CounterVec   // by surface and outcome
	VerificationReasons   *prometheus.CounterVec   // by primary reason
	VerificationDuration  *prometheus.HistogramVec // by surface
	SimilarityScores      prometheus.Histogram
	BatchSize             prometheus.Histogram
	ChainStateRefreshes   *prometheus.CounterVec // by result (ok, error)
	DependencyCallSeconds *prometheus.HistogramVec // by dependency and outcome
}

// New registers metrics with the default registerer.
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer registers metrics with reg. Tests pass a fresh registry.
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		IssuedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "blockcreds_credentials_issued_total",
			Help: "Total number of credentials issued by anchoring mode",
		}, []string{"mode"}),

		IssueFailuresTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "blockcreds_credential_issue_failures_total",
			Help: "Total number of failed issuance attempts by error code",
		}, []string{"code"}),

		CodeCollisionsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "blockcreds_verification_code_collisions_total",
			Help: "Total number of verification code collisions during issuance",
		}),

		VerificationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "blockcreds_verifications_total",
			Help: "Total number of verifications by surface and outcome",
		}, []string{"surface", "outcome"}),

		VerificationReasons: f.NewCounterVec(prometheus.CounterOpts{
			Name: "blockcreds_verification_failure_reasons_total",
			Help: "Total number of failed verifications by primary reason",
		}, []string{"reason"}),

		VerificationDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "blockcreds_verification_duration_seconds",
			Help:    "Duration of a single verification by surface",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"surface"}),

		SimilarityScores: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "blockcreds_similarity_score",
			Help:    "Distribution of image similarity scores",
			Buckets: []float64{0.1, 0.25, 0.5, 0.6, 0.7, 0.75, 0.8, 0.85, 0.9, 0.95, 1},
		}),

		BatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "blockcreds_verification_batch_size",
			Help:    "Number of codes per batch verification",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250},
		}),

		ChainStateRefreshes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "blockcreds_chain_state_refreshes_total",
			Help: "Total number of cached on-chain state write-backs by result",
		}, []string{"result"}),

		DependencyCallSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "blockcreds_dependency_call_duration_seconds",
			Help:    "Duration of chain, scorer and store calls by outcome",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5},
		}, []string{"dependency", "outcome"}),
	}
}

func (m *Metrics) IncIssued(mode string) {
	m.IssuedTotal.WithLabelValues(mode).Inc()
}

func (m *Metrics) IncIssueFailure(code string) {
	m.IssueFailuresTotal.WithLabelValues(code).Inc()
}

func (m *Metrics) IncCodeCollision() {
	m.CodeCollisionsTotal.Inc()
}

// ObserveVerification records a completed verification. reason is empty
// for valid verdicts.
func (m *Metrics) ObserveVerification(surface string, valid bool, reason string, elapsed time.Duration) {
	outcome := "invalid"
	if valid {
		outcome = "valid"
	}
	m.VerificationsTotal.WithLabelValues(surface, outcome).Inc()
	m.VerificationDuration.WithLabelValues(surface).Observe(elapsed.Seconds())
	if reason != "" {
		m.VerificationReasons.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) ObserveSimilarityScore(score float64) {
	m.SimilarityScores.Observe(score)
}

func (m *Metrics) ObserveBatchSize(n int) {
	m.BatchSize.Observe(float64(n))
}

func (m *Metrics) IncChainStateRefresh(ok bool) {
	if ok {
		m.ChainStateRefreshes.WithLabelValues("ok").Inc()
		return
	}
	m.ChainStateRefreshes.WithLabelValues("error").Inc()
}

func (m *Metrics) ObserveDependency(dependency string, err error, elapsed time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.DependencyCallSeconds.WithLabelValues(dependency, outcome).Observe(elapsed.Seconds())
}
