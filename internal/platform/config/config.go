// Package config reads the process configuration from environment
// variables into typed sections.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the full process configuration.
type Config struct {
	Server    Server
	Auth      Auth
	Store     Store
	Database  DatabaseConfig
	Mongo     MongoConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	Chain     Chain
	Scorer    Scorer
	Trust     Trust
	RateLimit RateLimit
	Audit     Audit
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string
	Environment     string
	LogLevel        string
	TrustedProxies  string // comma separated CIDRs allowed to set X-Forwarded-For
	SeedDemo        bool
	MaxBodyBytes    int64
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
}

// Auth configures bearer token validation.
type Auth struct {
	JWTSigningKey string
	JWTIssuer     string
	TokenTTL      time.Duration
}

// Store selects the credential and directory backend.
type Store struct {
	Driver string // memory, postgres or mongo
}

type DatabaseConfig struct {
	URL             string
	AutoMigrate     bool
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type MongoConfig struct {
	URI      string
	Database string
	Timeout  time.Duration
}

type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type KafkaConfig struct {
	Brokers    string
	AuditTopic string
	Acks       string
}

// Chain configures the ledger client and its resilience wrapper.
type Chain struct {
	Driver          string // memory or ethereum
	RPCURL          string
	ContractAddress string
	PrivateKey      string
	ChainID         int64
	CodePrefix      string
	ConfirmSubmits  bool
	ReadTimeout     time.Duration
	SubmitTimeout   time.Duration
	ReadRetries     uint64
	BreakerFailures int
	BreakerCooldown time.Duration
}

// Scorer configures image similarity.
type Scorer struct {
	Driver      string // static, phash or http
	URL         string
	APIKey      string
	Timeout     time.Duration
	StaticScore float64
}

// Trust is the verification policy.
type Trust struct {
	SimilarityThreshold float64
	ChainFailOpen       bool
	HashAlgorithm       string
	MaxCodeAttempts     int
	MaxBatchSize        int
	BatchConcurrency    int
	SubmissionTimeout   time.Duration
}

// RateLimit bounds the public verification endpoints per client IP.
type RateLimit struct {
	Driver string // memory or redis
	Limit  int
	Window time.Duration
}

// Audit selects where audit events go.
type Audit struct {
	Sink   string // memory, postgres or kafka
	Buffer int
}

// FromEnv builds the configuration from environment variables, falling
// back to defaults suitable for a local in-memory run.
func FromEnv() (Config, error) {
	r := &reader{}
	cfg := Config{
		Server: Server{
			Addr:            r.str("BLOCKCREDS_ADDR", ":8080"),
			Environment:     r.str("BLOCKCREDS_ENV", "local"),
			LogLevel:        r.str("LOG_LEVEL", "info"),
			TrustedProxies:  r.str("TRUSTED_PROXIES", ""),
			SeedDemo:        r.bool("SEED_DEMO", false),
			MaxBodyBytes:    int64(r.int("MAX_BODY_BYTES", 8<<20)),
			RequestTimeout:  r.duration("REQUEST_TIMEOUT", 30*time.Second),
			ShutdownTimeout: r.duration("SHUTDOWN_TIMEOUT", 15*time.Second),
		},
		Auth: Auth{
			JWTSigningKey: r.str("JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
			JWTIssuer:     r.str("JWT_ISSUER", "blockcreds"),
			TokenTTL:      r.duration("TOKEN_TTL", 15*time.Minute),
		},
		Store: Store{
			Driver: strings.ToLower(r.str("STORE_DRIVER", "memory")),
		},
		Database: DatabaseConfig{
			URL:             r.str("DATABASE_URL", ""),
			AutoMigrate:     r.bool("DATABASE_AUTO_MIGRATE", true),
			MaxOpenConns:    r.int("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    r.int("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: r.duration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Mongo: MongoConfig{
			URI:      r.str("MONGO_URI", ""),
			Database: r.str("MONGO_DATABASE", "blockcreds"),
			Timeout:  r.duration("MONGO_TIMEOUT", 10*time.Second),
		},
		Redis: RedisConfig{
			URL:          r.str("REDIS_URL", ""),
			PoolSize:     r.int("REDIS_POOL_SIZE", 10),
			MinIdleConns: r.int("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  r.duration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  r.duration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: r.duration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers:    r.str("KAFKA_BROKERS", ""),
			AuditTopic: r.str("KAFKA_AUDIT_TOPIC", "blockcreds.audit"),
			Acks:       r.str("KAFKA_ACKS", "all"),
		},
		Chain: Chain{
			Driver:          strings.ToLower(r.str("CHAIN_DRIVER", "memory")),
			RPCURL:          r.str("CHAIN_RPC_URL", ""),
			ContractAddress: r.str("CHAIN_CONTRACT_ADDRESS", ""),
			PrivateKey:      r.str("CHAIN_PRIVATE_KEY", ""),
			ChainID:         int64(r.int("CHAIN_ID", 0)),
			CodePrefix:      r.str("CHAIN_CODE_PREFIX", ""),
			ConfirmSubmits:  r.bool("CHAIN_CONFIRM_SUBMISSIONS", true),
			ReadTimeout:     r.duration("CHAIN_READ_TIMEOUT", 5*time.Second),
			SubmitTimeout:   r.duration("CHAIN_SUBMIT_TIMEOUT", 60*time.Second),
			ReadRetries:     uint64(r.int("CHAIN_READ_RETRIES", 2)),
			BreakerFailures: r.int("CHAIN_BREAKER_FAILURES", 5),
			BreakerCooldown: r.duration("CHAIN_BREAKER_COOLDOWN", 10*time.Second),
		},
		Scorer: Scorer{
			Driver:      strings.ToLower(r.str("SCORER_DRIVER", "phash")),
			URL:         r.str("SCORER_URL", ""),
			APIKey:      r.str("SCORER_API_KEY", ""),
			Timeout:     r.duration("SCORER_TIMEOUT", 10*time.Second),
			StaticScore: r.float("SCORER_STATIC_SCORE", 0.9),
		},
		Trust: Trust{
			SimilarityThreshold: r.float("SIMILARITY_THRESHOLD", 0.85),
			ChainFailOpen:       r.bool("TRUST_CHAIN_FAIL_OPEN", false),
			HashAlgorithm:       r.str("CONTENT_HASH_ALGORITHM", "sha256"),
			MaxCodeAttempts:     r.int("MAX_CODE_ATTEMPTS", 5),
			MaxBatchSize:        r.int("MAX_BATCH_SIZE", 100),
			BatchConcurrency:    r.int("BATCH_CONCURRENCY", 8),
			SubmissionTimeout:   r.duration("SUBMISSION_TIMEOUT", 90*time.Second),
		},
		RateLimit: RateLimit{
			Driver: strings.ToLower(r.str("RATE_LIMIT_DRIVER", "memory")),
			Limit:  r.int("VERIFY_RATE_LIMIT", 60),
			Window: r.duration("VERIFY_RATE_WINDOW", time.Minute),
		},
		Audit: Audit{
			Sink:   strings.ToLower(r.str("AUDIT_SINK", "memory")),
			Buffer: r.int("AUDIT_BUFFER", 1024),
		},
	}
	if r.err != nil {
		return Config{}, r.err
	}
	return cfg, cfg.Validate()
}

// Validate checks cross-field requirements, such as a driver's connection
// settings.
func (c Config) Validate() error {
	switch c.Store.Driver {
	case "memory":
	case "postgres":
		if c.Database.URL == "" {
			return fmt.Errorf("STORE_DRIVER=postgres requires DATABASE_URL")
		}
	case "mongo":
		if c.Mongo.URI == "" {
			return fmt.Errorf("STORE_DRIVER=mongo requires MONGO_URI")
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.Store.Driver)
	}

	switch c.Chain.Driver {
	case "memory":
	case "ethereum":
		if c.Chain.RPCURL == "" || c.Chain.ContractAddress == "" {
			return fmt.Errorf("CHAIN_DRIVER=ethereum requires CHAIN_RPC_URL and CHAIN_CONTRACT_ADDRESS")
		}
	default:
		return fmt.Errorf("unknown CHAIN_DRIVER %q", c.Chain.Driver)
	}

	switch c.Scorer.Driver {
	case "static", "phash":
	case "http":
		if c.Scorer.URL == "" {
			return fmt.Errorf("SCORER_DRIVER=http requires SCORER_URL")
		}
	default:
		return fmt.Errorf("unknown SCORER_DRIVER %q", c.Scorer.Driver)
	}

	switch c.RateLimit.Driver {
	case "memory":
	case "redis":
		if c.Redis.URL == "" {
			return fmt.Errorf("RATE_LIMIT_DRIVER=redis requires REDIS_URL")
		}
	default:
		return fmt.Errorf("unknown RATE_LIMIT_DRIVER %q", c.RateLimit.Driver)
	}

	switch c.Audit.Sink {
	case "memory":
	case "postgres":
		if c.Database.URL == "" {
			return fmt.Errorf("AUDIT_SINK=postgres requires DATABASE_URL")
		}
	case "kafka":
		if c.Kafka.Brokers == "" {
			return fmt.Errorf("AUDIT_SINK=kafka requires KAFKA_BROKERS")
		}
	default:
		return fmt.Errorf("unknown AUDIT_SINK %q", c.Audit.Sink)
	}

	if c.Trust.SimilarityThreshold < 0 || c.Trust.SimilarityThreshold > 1 {
		return fmt.Errorf("SIMILARITY_THRESHOLD must be within [0, 1]")
	}
	if len(c.Auth.JWTSigningKey) < 16 {
		return fmt.Errorf("JWT_SIGNING_KEY must be at least 16 bytes")
	}
	return nil
}

// reader accumulates the first parse error so FromEnv reads linearly.
type reader struct {
	err error
}

func (r *reader) str(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func (r *reader) int(key string, def int) int {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.fail(key, v, err)
		return def
	}
	return n
}

func (r *reader) float(key string, def float64) float64 {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		r.fail(key, v, err)
		return def
	}
	return f
}

func (r *reader) bool(key string, def bool) bool {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.fail(key, v, err)
		return def
	}
	return b
}

func (r *reader) duration(key string, def time.Duration) time.Duration {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.fail(key, v, err)
		return def
	}
	return d
}

func (r *reader) fail(key, value string, err error) {
	if r.err == nil {
		r.err = fmt.Errorf("invalid %s=%q: %w", key, value, err)
	}
}
