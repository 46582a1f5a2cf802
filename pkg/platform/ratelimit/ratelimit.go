// Package ratelimit enforces per-client sliding-window limits on public
// endpoints. State lives in a Store: in memory for a single instance, or
// Redis when several instances share one budget.
package ratelimit

import (
	"context"
	"time"
)

// Result is the outcome of one admission check.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter int // seconds, only set when not allowed
}

// Store records consumption in a sliding window keyed by client.
type Store interface {
	AllowN(ctx context.Context, key string, cost, limit int, window time.Duration) (*Result, error)
	Reset(ctx context.Context, key string) error
}

// Config bounds one class of endpoint.
type Config struct {
	Limit  int
	Window time.Duration
}

// DefaultConfig allows 60 verifications per client per minute.
func DefaultConfig() Config {
	return Config{Limit: 60, Window: time.Minute}
}

// Limiter applies a Config to a Store under a key namespace.
type Limiter struct {
	store  Store
	cfg    Config
	prefix string
}

// NewLimiter creates a limiter whose keys are namespaced by prefix.
func NewLimiter(store Store, cfg Config, prefix string) *Limiter {
	if cfg.Limit <= 0 || cfg.Window <= 0 {
		cfg = DefaultConfig()
	}
	return &Limiter{store: store, cfg: cfg, prefix: prefix}
}

// Check consumes one unit for the client identified by key.
func (l *Limiter) Check(ctx context.Context, key string) (*Result, error) {
	return l.store.AllowN(ctx, l.prefix+":"+key, 1, l.cfg.Limit, l.cfg.Window)
}

func retryAfterSeconds(allowed bool, resetAt, now time.Time) int {
	if allowed {
		return 0
	}
	d := resetAt.Sub(now)
	if d <= 0 {
		return 0
	}
	seconds := int(d / time.Second)
	if d%time.Second != 0 {
		seconds++
	}
	return seconds
}
