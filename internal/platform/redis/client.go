package redis

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"

	"blockcreds/internal/platform/config"
)

type poolMetrics struct {
	hits       prometheus.Counter
	misses     prometheus.Counter
	timeouts   prometheus.Counter
	totalConns prometheus.Gauge
	idleConns  prometheus.Gauge
	staleConns prometheus.Counter
}

func newPoolMetrics(reg prometheus.Registerer) *poolMetrics {
	f := promauto.With(reg)
	return &poolMetrics{
		hits: f.NewCounter(prometheus.CounterOpts{
			Name: "blockcreds_redis_pool_hits_total",
			Help: "Number of times a connection was found in the pool",
		}),
		misses: f.NewCounter(prometheus.CounterOpts{
			Name: "blockcreds_redis_pool_misses_total",
			Help: "Number of times a connection was not found in the pool",
		}),
		timeouts: f.NewCounter(prometheus.CounterOpts{
			Name: "blockcreds_redis_pool_timeouts_total",
			Help: "Number of times a connection was not obtained due to timeout",
		}),
		totalConns: f.NewGauge(prometheus.GaugeOpts{
			Name: "blockcreds_redis_pool_total_conns",
			Help: "Number of total connections in the pool",
		}),
		idleConns: f.NewGauge(prometheus.GaugeOpts{
			Name: "blockcreds_redis_pool_idle_conns",
			Help: "Number of idle connections in the pool",
		}),
		staleConns: f.NewCounter(prometheus.CounterOpts{
			Name: "blockcreds_redis_pool_stale_conns_total",
			Help: "Number of stale connections removed from the pool",
		}),
	}
}

// Client wraps the go-redis client with health checking capabilities.
type Client struct {
	*redis.Client
	metrics   *poolMetrics
	lastStats *redis.PoolStats
}

// New creates a new Redis client from the provided configuration.
// Returns nil if the URL is empty (Redis not configured).
func New(ctx context.Context, cfg config.RedisConfig, reg prometheus.Registerer) (*Client, error) {
	if cfg.URL == "" {
		return nil, nil
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}

	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns
	opts.DialTimeout = cfg.DialTimeout
	opts.ReadTimeout = cfg.ReadTimeout
	opts.WriteTimeout = cfg.WriteTimeout

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close() //nolint:errcheck // best-effort cleanup on init failure
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{Client: client, metrics: newPoolMetrics(reg)}, nil
}

// Health checks if the Redis connection is healthy.
func (c *Client) Health(ctx context.Context) error {
	return c.Ping(ctx).Err()
}

// RecordPoolStats updates Prometheus metrics with current pool statistics.
// Call this periodically from a background goroutine.
func (c *Client) RecordPoolStats() {
	stats := c.PoolStats()

	c.metrics.totalConns.Set(float64(stats.TotalConns))
	c.metrics.idleConns.Set(float64(stats.IdleConns))

	var last redis.PoolStats
	if c.lastStats != nil {
		last = *c.lastStats
	}
	addDelta(c.metrics.hits, stats.Hits, last.Hits)
	addDelta(c.metrics.misses, stats.Misses, last.Misses)
	addDelta(c.metrics.timeouts, stats.Timeouts, last.Timeouts)
	addDelta(c.metrics.staleConns, stats.StaleConns, last.StaleConns)

	c.lastStats = stats
}

func addDelta(c prometheus.Counter, now, before uint32) {
	if now > before {
		c.Add(float64(now - before))
	}
}
