package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	credentialHandler "blockcreds/internal/credential/handler"
	"blockcreds/internal/directory"
	jwttoken "blockcreds/internal/jwt_token"
	"blockcreds/internal/platform/config"
	"blockcreds/internal/platform/health"
	"blockcreds/internal/platform/logger"
	"blockcreds/internal/seeder"
	httptransport "blockcreds/internal/transport/http"
	"blockcreds/pkg/platform/middleware/metadata"
	"blockcreds/pkg/platform/middleware/request"
	"blockcreds/pkg/platform/ratelimit"
)

// main wires dependencies chosen by configuration, serves HTTP, and shuts
// down gracefully on SIGINT or SIGTERM.
func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Server.LogLevel)

	if err := run(cfg, log); err != nil {
		log.Error("server exited with error", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("initializing blockcreds",
		"addr", cfg.Server.Addr,
		"environment", cfg.Server.Environment,
		"store", cfg.Store.Driver,
		"chain", cfg.Chain.Driver,
		"scorer", cfg.Scorer.Driver,
		"audit_sink", cfg.Audit.Sink,
		"chain_fail_open", cfg.Trust.ChainFailOpen,
	)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	checks := health.New(cfg.Server.Environment)

	infra, err := connectInfra(ctx, cfg, reg, log)
	if err != nil {
		return err
	}
	defer infra.close(log)
	infra.registerChecks(checks)

	engine, err := buildEngine(ctx, cfg, infra, reg, log)
	if err != nil {
		return err
	}
	defer engine.close()
	engine.registerChecks(checks)

	people := directory.New(buildDirectoryStore(cfg, infra), log)
	if cfg.Server.SeedDemo {
		if _, err := seeder.New(people, engine.service, log).SeedAll(ctx); err != nil {
			return err
		}
	}

	limiterStore := ratelimit.Store(ratelimit.NewInMemoryStore())
	if cfg.RateLimit.Driver == "redis" {
		limiterStore = ratelimit.NewRedisStore(infra.redis)
	}
	limiter := ratelimit.NewLimiter(limiterStore, ratelimit.Config{
		Limit:  cfg.RateLimit.Limit,
		Window: cfg.RateLimit.Window,
	}, "verify")

	router := httptransport.NewRouter(httptransport.Dependencies{
		Logger:      log,
		Credentials: credentialHandler.New(engine.service, people, log),
		Health:      checks,
		Validator:   jwttoken.NewJWTService(cfg.Auth.JWTSigningKey, cfg.Auth.JWTIssuer, cfg.Auth.JWTIssuer, cfg.Auth.TokenTTL),
		Metadata: metadata.NewMiddleware(&metadata.Config{
			TrustedProxies: metadata.ParseTrustedProxies(cfg.Server.TrustedProxies),
		}),
		Limiter:        ratelimit.NewMiddleware(limiter, "verify", log, ratelimit.NewMetrics(reg)),
		Metrics:        request.NewMetrics(reg),
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
		RequestTimeout: cfg.Server.RequestTimeout,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.Server.RequestTimeout + 5*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting http server", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down server gracefully")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
