package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"blockcreds/internal/credential/chain"
	"blockcreds/internal/credential/identity"
	"blockcreds/internal/credential/metrics"
	"blockcreds/internal/credential/service"
	"blockcreds/internal/credential/similarity"
	credentialStore "blockcreds/internal/credential/store"
	"blockcreds/internal/credential/tracer"
	"blockcreds/internal/directory"
	"blockcreds/internal/platform/config"
	"blockcreds/internal/platform/database"
	"blockcreds/internal/platform/health"
	"blockcreds/internal/platform/kafka/producer"
	"blockcreds/internal/platform/mongo"
	"blockcreds/internal/platform/redis"
	"blockcreds/migrations"
	"blockcreds/pkg/platform/audit"
	auditmetrics "blockcreds/pkg/platform/audit/metrics"
	auditpublisher "blockcreds/pkg/platform/audit/publisher"
	kafkaaudit "blockcreds/pkg/platform/audit/store/kafka"
	memoryaudit "blockcreds/pkg/platform/audit/store/memory"
	postgresaudit "blockcreds/pkg/platform/audit/store/postgres"
	"blockcreds/pkg/platform/circuit"
)

const poolStatsInterval = 15 * time.Second

// infrastructure holds the connections the configured drivers need. Any
// field may be nil.
type infrastructure struct {
	db       *database.Pool
	mongo    *mongo.Client
	redis    *redis.Client
	producer *producer.Producer
	stop     context.CancelFunc
}

func connectInfra(ctx context.Context, cfg config.Config, reg prometheus.Registerer, log *slog.Logger) (*infrastructure, error) {
	infra := &infrastructure{stop: func() {}}

	needsDB := cfg.Store.Driver == "postgres" || cfg.Audit.Sink == "postgres"
	if needsDB {
		db, err := database.New(cfg.Database)
		if err != nil {
			return nil, err
		}
		infra.db = db
		if cfg.Database.AutoMigrate {
			if err := migrations.Up(ctx, db.DB()); err != nil {
				infra.close(log)
				return nil, err
			}
			log.Info("database migrations applied")
		}
	}

	if cfg.Store.Driver == "mongo" {
		client, err := mongo.New(ctx, cfg.Mongo)
		if err != nil {
			infra.close(log)
			return nil, err
		}
		infra.mongo = client
	}

	if cfg.RateLimit.Driver == "redis" {
		client, err := redis.New(ctx, cfg.Redis, reg)
		if err != nil {
			infra.close(log)
			return nil, err
		}
		infra.redis = client

		statsCtx, cancel := context.WithCancel(context.Background())
		infra.stop = cancel
		go recordPoolStats(statsCtx, client)
	}

	if cfg.Audit.Sink == "kafka" {
		pcfg := producer.DefaultConfig(cfg.Kafka.Brokers)
		pcfg.Acks = cfg.Kafka.Acks
		p, err := producer.New(pcfg, log)
		if err != nil {
			infra.close(log)
			return nil, err
		}
		infra.producer = p
	}
	return infra, nil
}

func recordPoolStats(ctx context.Context, client *redis.Client) {
	ticker := time.NewTicker(poolStatsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			client.RecordPoolStats()
		}
	}
}

func (i *infrastructure) registerChecks(h *health.Handler) {
	if i.db != nil {
		h.RegisterCheck("postgres", i.db.Health)
	}
	if i.mongo != nil {
		h.RegisterCheck("mongo", i.mongo.Health)
	}
	if i.redis != nil {
		h.RegisterCheck("redis", i.redis.Health)
	}
	if i.producer != nil {
		h.RegisterCheck("kafka", i.producer.Ping)
	}
}

func (i *infrastructure) close(log *slog.Logger) {
	i.stop()
	if i.producer != nil {
		if err := i.producer.Close(); err != nil {
			log.Warn("failed to close kafka producer", "error", err)
		}
	}
	if i.redis != nil {
		if err := i.redis.Close(); err != nil {
			log.Warn("failed to close redis client", "error", err)
		}
	}
	if i.mongo != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := i.mongo.Close(ctx); err != nil {
			log.Warn("failed to disconnect mongo", "error", err)
		}
	}
	if err := i.db.Close(); err != nil {
		log.Warn("failed to close database", "error", err)
	}
}

// engine is the assembled verification service plus the pieces the
// process must observe or close.
type engine struct {
	service   *service.Service
	publisher *auditpublisher.Publisher
	breaker   *circuit.Breaker
	scorer    similarity.Scorer
}

func buildEngine(ctx context.Context, cfg config.Config, infra *infrastructure, reg prometheus.Registerer, log *slog.Logger) (*engine, error) {
	store, err := buildCredentialStore(ctx, cfg, infra)
	if err != nil {
		return nil, err
	}

	ledger, err := buildChain(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	scorer := buildScorer(cfg)

	alg, err := identity.ParseAlgorithm(cfg.Trust.HashAlgorithm)
	if err != nil {
		return nil, err
	}

	publisher := auditpublisher.NewPublisher(buildAuditStore(cfg, infra),
		auditpublisher.WithAsyncBuffer(cfg.Audit.Buffer),
		auditpublisher.WithPublisherLogger(log),
		auditpublisher.WithMetrics(auditmetrics.NewWithRegisterer(reg)),
	)

	svcCfg := service.Config{
		SimilarityThreshold: cfg.Trust.SimilarityThreshold,
		ChainFailOpen:       cfg.Trust.ChainFailOpen,
		HashAlgorithm:       alg,
		MaxCodeAttempts:     cfg.Trust.MaxCodeAttempts,
		MaxBatchSize:        cfg.Trust.MaxBatchSize,
		BatchConcurrency:    cfg.Trust.BatchConcurrency,
		ScoreTimeout:        cfg.Scorer.Timeout,
		SubmissionTimeout:   cfg.Trust.SubmissionTimeout,
	}
	svc, err := service.New(store, ledger, scorer, svcCfg,
		service.WithLogger(log),
		service.WithAuditor(publisher),
		service.WithMetrics(metrics.NewWithRegisterer(reg)),
		service.WithTracer(tracer.NewOTel()),
	)
	if err != nil {
		publisher.Close()
		return nil, err
	}

	return &engine{service: svc, publisher: publisher, breaker: ledger.Breaker(), scorer: scorer}, nil
}

func (e *engine) registerChecks(h *health.Handler) {
	h.RegisterCheck("chain", func(context.Context) error {
		if e.breaker.IsOpen() {
			return fmt.Errorf("circuit %s open", e.breaker.Name())
		}
		return nil
	})
	if hs, ok := e.scorer.(interface{ Health(context.Context) error }); ok {
		h.RegisterCheck("similarity", hs.Health)
	}
}

// close drains queued audit events.
func (e *engine) close() {
	e.publisher.Close()
}

func buildCredentialStore(ctx context.Context, cfg config.Config, infra *infrastructure) (service.Store, error) {
	switch cfg.Store.Driver {
	case "postgres":
		return credentialStore.NewPostgres(infra.db.DB()), nil
	case "mongo":
		s := credentialStore.NewMongo(infra.mongo.Database())
		if err := s.EnsureIndexes(ctx); err != nil {
			return nil, fmt.Errorf("ensure credential indexes: %w", err)
		}
		return s, nil
	default:
		return credentialStore.NewInMemoryStore(), nil
	}
}

func buildDirectoryStore(cfg config.Config, infra *infrastructure) directory.Store {
	if cfg.Store.Driver == "postgres" {
		return directory.NewPostgres(infra.db.DB())
	}
	return directory.NewInMemoryStore()
}

func buildChain(ctx context.Context, cfg config.Config, log *slog.Logger) (*chain.Resilient, error) {
	var client chain.Client
	switch cfg.Chain.Driver {
	case "ethereum":
		eth, err := chain.DialEthereum(ctx, chain.EthereumConfig{
			RPCURL:             cfg.Chain.RPCURL,
			ContractAddress:    cfg.Chain.ContractAddress,
			PrivateKey:         cfg.Chain.PrivateKey,
			ChainID:            cfg.Chain.ChainID,
			CodePrefix:         cfg.Chain.CodePrefix,
			ConfirmSubmissions: cfg.Chain.ConfirmSubmits,
		})
		if err != nil {
			return nil, err
		}
		client = eth
	default:
		log.Warn("using in-memory ledger; credentials are not anchored on a real chain")
		client = chain.NewLedger()
	}

	breaker := circuit.New("chain",
		circuit.WithFailureThreshold(cfg.Chain.BreakerFailures),
		circuit.WithCooldown(cfg.Chain.BreakerCooldown),
	)
	return chain.NewResilient(client,
		chain.WithReadTimeout(cfg.Chain.ReadTimeout),
		chain.WithSubmitTimeout(cfg.Chain.SubmitTimeout),
		chain.WithRetry(100*time.Millisecond, time.Second, cfg.Chain.ReadRetries),
		chain.WithBreaker(breaker),
		chain.WithLogger(log),
	), nil
}

func buildScorer(cfg config.Config) similarity.Scorer {
	switch cfg.Scorer.Driver {
	case "http":
		return similarity.NewHTTPScorer(similarity.HTTPConfig{
			BaseURL: cfg.Scorer.URL,
			APIKey:  cfg.Scorer.APIKey,
			Timeout: cfg.Scorer.Timeout,
		})
	case "static":
		return similarity.StaticScorer{Score: cfg.Scorer.StaticScore}
	default:
		return similarity.NewPerceptualScorer()
	}
}

func buildAuditStore(cfg config.Config, infra *infrastructure) audit.Store {
	switch cfg.Audit.Sink {
	case "postgres":
		return postgresaudit.New(infra.db.DB())
	case "kafka":
		return kafkaaudit.New(infra.producer, cfg.Kafka.AuditTopic)
	default:
		return memoryaudit.NewInMemoryStore()
	}
}
