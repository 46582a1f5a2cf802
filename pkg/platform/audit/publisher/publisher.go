// Package publisher delivers audit events to a store, optionally through an
// in-memory buffer drained by a background goroutine.
package publisher

import (
	"context"
	"log/slog"
	"sync"
	"time"

	dErrors "blockcreds/pkg/domain-errors"
	audit "blockcreds/pkg/platform/audit"
	"blockcreds/pkg/platform/audit/metrics"
)

// Publisher captures structured audit events. It is append-only and uses the
// storage layer for persistence so tests can swap sinks easily.
type Publisher struct {
	store   audit.Store
	events  chan audit.Event
	wg      sync.WaitGroup
	logger  *slog.Logger
	metrics *metrics.Metrics
	async   bool

	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

var _ audit.Emitter = (*Publisher)(nil)

// PublisherOption configures the Publisher.
type PublisherOption func(*Publisher)

// WithAsyncBuffer enables async processing with the specified buffer size.
// Events are queued and persisted in a background goroutine.
func WithAsyncBuffer(size int) PublisherOption {
	return func(p *Publisher) {
		if size > 0 {
			p.events = make(chan audit.Event, size)
			p.async = true
		}
	}
}

// WithPublisherLogger sets a logger for async error reporting.
func WithPublisherLogger(logger *slog.Logger) PublisherOption {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// WithMetrics enables queue and persistence metrics.
func WithMetrics(m *metrics.Metrics) PublisherOption {
	return func(p *Publisher) {
		p.metrics = m
	}
}

func NewPublisher(store audit.Store, opts ...PublisherOption) *Publisher {
	p := &Publisher{store: store}
	for _, opt := range opts {
		opt(p)
	}
	if p.async {
		p.wg.Add(1)
		go p.processEvents()
	}
	return p
}

func (p *Publisher) processEvents() {
	defer p.wg.Done()
	for event := range p.events {
		if p.metrics != nil {
			p.metrics.Dequeued()
		}
		if err := p.persist(context.Background(), event); err != nil && p.logger != nil {
			p.logger.Error("failed to persist audit event",
				"error", err,
				"action", event.Action,
				"code", event.Code,
			)
		}
	}
}

func (p *Publisher) persist(ctx context.Context, event audit.Event) error {
	start := time.Now()
	err := p.store.Append(ctx, event)
	if p.metrics != nil {
		p.metrics.ObservePersist(string(event.Action), err, time.Since(start))
	}
	return err
}

// Close stops accepting events and waits for the queue to drain. Safe to
// call more than once.
func (p *Publisher) Close() {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()
		if p.async {
			close(p.events)
			p.wg.Wait()
		}
	})
}

// Emit records an event. In async mode a full buffer drops the event and
// returns an error instead of blocking the caller.
func (p *Publisher) Emit(ctx context.Context, base audit.Event) error {
	if base.Timestamp.IsZero() {
		base.Timestamp = time.Now().UTC()
	}
	if !p.async {
		return p.persist(ctx, base)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return dErrors.New(dErrors.CodeInternal, "audit publisher closed")
	}

	select {
	case p.events <- base:
		if p.metrics != nil {
			p.metrics.Enqueued()
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		if p.metrics != nil {
			p.metrics.Dropped()
		}
		if p.logger != nil {
			p.logger.Warn("audit buffer full, event dropped",
				"action", base.Action,
				"code", base.Code,
			)
		}
		return dErrors.New(dErrors.CodeInternal, "audit buffer full")
	}
}
