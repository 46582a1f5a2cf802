package ratelimit

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"blockcreds/internal/platform/privacy"
	"blockcreds/pkg/platform/httputil"
	"blockcreds/pkg/requestcontext"
)

// ExceededResponse is the 429 body.
type ExceededResponse struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after"`
}

// Metrics counts admission decisions per limiter.
type Metrics struct {
	Decisions *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Decisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "blockcreds_ratelimit_decisions_total",
			Help: "Rate limit decisions by limiter and outcome",
		}, []string{"limiter", "outcome"}),
	}
}

func (m *Metrics) observe(limiter, outcome string) {
	if m != nil {
		m.Decisions.WithLabelValues(limiter, outcome).Inc()
	}
}

// Middleware enforces a Limiter keyed by client IP.
type Middleware struct {
	limiter *Limiter
	name    string
	logger  *slog.Logger
	metrics *Metrics
}

func NewMiddleware(limiter *Limiter, name string, logger *slog.Logger, metrics *Metrics) *Middleware {
	return &Middleware{limiter: limiter, name: name, logger: logger, metrics: metrics}
}

// Handler rejects clients over budget with 429. A store failure lets the
// request through.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		ip := requestcontext.ClientIP(ctx)
		if ip == "" {
			ip = "unknown"
		}

		result, err := m.limiter.Check(ctx, ip)
		if err != nil {
			m.logger.ErrorContext(ctx, "failed to check rate limit",
				"limiter", m.name,
				"ip_prefix", privacy.AnonymizeIP(ip),
				"request_id", requestcontext.RequestID(ctx),
				"error", err,
			)
			m.metrics.observe(m.name, "error")
			next.ServeHTTP(w, r)
			return
		}

		addHeaders(w, result)
		if !result.Allowed {
			m.logger.WarnContext(ctx, "rate limit exceeded",
				"limiter", m.name,
				"ip_prefix", privacy.AnonymizeIP(ip),
				"request_id", requestcontext.RequestID(ctx),
			)
			m.metrics.observe(m.name, "rejected")
			writeExceeded(w, result)
			return
		}
		m.metrics.observe(m.name, "allowed")
		next.ServeHTTP(w, r)
	})
}

func addHeaders(w http.ResponseWriter, result *Result) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
}

func writeExceeded(w http.ResponseWriter, result *Result) {
	w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfter))
	httputil.WriteJSON(w, http.StatusTooManyRequests, ExceededResponse{
		Error:      "rate_limit_exceeded",
		Message:    "Too many verification requests from this address. Please try again later.",
		RetryAfter: result.RetryAfter,
	})
}
