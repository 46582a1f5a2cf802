// Package httptransport assembles the HTTP surface: the middleware chain,
// the public and authenticated route groups, health endpoints and metrics.
package httptransport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	credentialHandler "blockcreds/internal/credential/handler"
	jwttoken "blockcreds/internal/jwt_token"
	"blockcreds/internal/platform/health"
	"blockcreds/pkg/platform/middleware/auth"
	"blockcreds/pkg/platform/middleware/metadata"
	"blockcreds/pkg/platform/middleware/request"
	"blockcreds/pkg/platform/ratelimit"
)

// Dependencies are the collaborators NewRouter mounts. Health, Limiter,
// Metrics and MetricsHandler are optional.
type Dependencies struct {
	Logger         *slog.Logger
	Credentials    *credentialHandler.Handler
	Health         *health.Handler
	Validator      auth.JWTValidator
	Metadata       *metadata.Middleware
	Limiter        *ratelimit.Middleware
	Metrics        *request.Metrics
	MetricsHandler http.Handler
	MaxBodyBytes   int64
	RequestTimeout time.Duration
}

// NewRouter wires every endpoint with its middleware.
//
// Anonymous verification is rate limited per client IP. Issuance,
// annotation and full verification need a bearer token with the issue
// scope; batch verification needs the verify scope.
func NewRouter(deps Dependencies) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	meta := deps.Metadata
	if meta == nil {
		meta = metadata.NewMiddleware(nil)
	}

	r := chi.NewRouter()
	r.Use(request.Recovery(logger))
	r.Use(request.RequestID)
	r.Use(request.RequestTime)
	r.Use(meta.Handler)
	r.Use(request.Logger(logger))
	r.Use(request.Latency(deps.Metrics))

	if deps.Health != nil {
		deps.Health.Register(r)
	}
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	r.Group(func(r chi.Router) {
		if deps.RequestTimeout > 0 {
			r.Use(chimw.Timeout(deps.RequestTimeout))
		}
		if deps.MaxBodyBytes > 0 {
			r.Use(request.BodyLimit(deps.MaxBodyBytes))
		}
		r.Use(request.ContentTypeJSON)

		r.Group(func(r chi.Router) {
			if deps.Limiter != nil {
				r.Use(deps.Limiter.Handler)
			}
			deps.Credentials.RegisterPublic(r)
		})

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAuth(deps.Validator, logger))

			r.Group(func(r chi.Router) {
				r.Use(auth.RequireScope(jwttoken.ScopeIssue, logger))
				deps.Credentials.RegisterIssuer(r)
			})
			r.Group(func(r chi.Router) {
				r.Use(auth.RequireScope(jwttoken.ScopeVerify, logger))
				deps.Credentials.RegisterBatch(r)
			})
		})
	})

	return r
}
