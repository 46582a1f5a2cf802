// Package service is the credential verification engine. It issues
// credentials anchored on chain and answers whether a presented code (and
// optional image) matches what was issued.
package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"blockcreds/internal/credential/identity"
	"blockcreds/internal/credential/metrics"
	"blockcreds/internal/credential/models"
	"blockcreds/internal/credential/tracer"
	dErrors "blockcreds/pkg/domain-errors"
	"blockcreds/pkg/platform/audit"
	"blockcreds/pkg/requestcontext"
)

// Store persists credential records.
type Store interface {
	Insert(ctx context.Context, c *models.Credential) error
	FindByCode(ctx context.Context, code models.VerificationCode) (*models.Credential, error)
	FindByID(ctx context.Context, id models.CredentialID) (*models.Credential, error)
	Exists(ctx context.Context, code models.VerificationCode) (bool, error)
	UpdateStatus(ctx context.Context, id models.CredentialID, status models.Status, at time.Time) error
	UpdateOnChainState(ctx context.Context, id models.CredentialID, state models.OnChainState, at time.Time) error
}

// ChainClient is the on-chain registry.
type ChainClient interface {
	Submit(ctx context.Context, reg models.Registration) (models.TxRef, error)
	TransactionStatus(ctx context.Context, ref models.TxRef) (models.TxStatus, error)
	Verify(ctx context.Context, code models.VerificationCode) (bool, error)
}

// Scorer compares a presented image against the stored reference and
// returns a similarity in [0, 1].
type Scorer interface {
	Compare(ctx context.Context, presented, reference []byte) (float64, error)
}

// AuditPublisher emits audit events for issuance and verification.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Config holds the trust policy and operational limits.
type Config struct {
	// SimilarityThreshold is the minimum score counted as an image match.
	SimilarityThreshold float64
	// ChainFailOpen treats an unreachable chain as passing. Off by default.
	ChainFailOpen bool
	// HashAlgorithm digests newly issued content.
	HashAlgorithm identity.Algorithm

	MaxCodeAttempts  int
	MaxBatchSize     int
	BatchConcurrency int

	ScoreTimeout      time.Duration
	SubmissionTimeout time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		SimilarityThreshold: 0.85,
		HashAlgorithm:       identity.DefaultAlgorithm,
		MaxCodeAttempts:     5,
		MaxBatchSize:        100,
		BatchConcurrency:    8,
		ScoreTimeout:        10 * time.Second,
		SubmissionTimeout:   90 * time.Second,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.SimilarityThreshold < 0 || c.SimilarityThreshold > 1 {
		return fmt.Errorf("similarity threshold must be within [0, 1], got %v", c.SimilarityThreshold)
	}
	if _, err := identity.ParseAlgorithm(string(c.HashAlgorithm)); err != nil {
		return err
	}
	if c.MaxCodeAttempts < 1 {
		return fmt.Errorf("max code attempts must be positive")
	}
	if c.MaxBatchSize < 1 {
		return fmt.Errorf("max batch size must be positive")
	}
	if c.BatchConcurrency < 1 {
		return fmt.Errorf("batch concurrency must be positive")
	}
	if c.ScoreTimeout <= 0 || c.SubmissionTimeout <= 0 {
		return fmt.Errorf("score and submission timeouts must be positive")
	}
	return nil
}

// Option configures the Service.
type Option func(*Service)

// Service is the verification engine.
type Service struct {
	store   Store
	chain   ChainClient
	scorer  Scorer
	cfg     Config
	auditor AuditPublisher
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  tracer.Tracer
	random  io.Reader
	clock   func() time.Time
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditor(auditor AuditPublisher) Option {
	return func(s *Service) {
		s.auditor = auditor
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithTracer(t tracer.Tracer) Option {
	return func(s *Service) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithRandom sets the entropy source for generated codes. Tests use it to
// force collisions.
func WithRandom(r io.Reader) Option {
	return func(s *Service) {
		s.random = r
	}
}

// WithClock overrides the request clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.clock = now
	}
}

// New creates the engine. The scorer may be nil, in which case any
// credential with a reference image fails verification with
// scorer_unavailable.
func New(store Store, chain ChainClient, scorer Scorer, cfg Config, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("credential store is required")
	}
	if chain == nil {
		return nil, fmt.Errorf("chain client is required")
	}
	if cfg.HashAlgorithm == "" {
		cfg.HashAlgorithm = identity.DefaultAlgorithm
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}

	s := &Service{
		store:  store,
		chain:  chain,
		scorer: scorer,
		cfg:    cfg,
		tracer: tracer.NewNoop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	return s, nil
}

func (s *Service) now(ctx context.Context) time.Time {
	if s.clock != nil {
		return s.clock().UTC()
	}
	return requestcontext.Now(ctx).UTC()
}

// storeError translates a store failure once, keeping not-found and
// conflict distinguishable for callers.
func storeError(err error, msg string) error {
	return dErrors.Wrap(err, dErrors.CodeInternal, msg)
}
