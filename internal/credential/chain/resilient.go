package chain

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"blockcreds/internal/credential/models"
	"blockcreds/pkg/platform/circuit"
)

const (
	DefaultReadTimeout   = 5 * time.Second
	DefaultSubmitTimeout = 60 * time.Second
	defaultRetryInitial  = 100 * time.Millisecond
	defaultRetryMax      = time.Second
	defaultMaxRetries    = 3
)

// Resilient bounds every ledger call with a timeout and guards the ledger
// with a circuit breaker. Reads are retried with exponential backoff on
// retryable categories; submissions are never retried.
type Resilient struct {
	next          Client
	breaker       *circuit.Breaker
	readTimeout   time.Duration
	submitTimeout time.Duration
	retryInitial  time.Duration
	retryMax      time.Duration
	maxRetries    uint64
	logger        *slog.Logger
}

type ResilientOption func(*Resilient)

func WithReadTimeout(d time.Duration) ResilientOption {
	return func(r *Resilient) {
		if d > 0 {
			r.readTimeout = d
		}
	}
}

func WithSubmitTimeout(d time.Duration) ResilientOption {
	return func(r *Resilient) {
		if d > 0 {
			r.submitTimeout = d
		}
	}
}

// WithRetry sets the read retry budget. Zero retries disables retrying.
func WithRetry(initial, max time.Duration, retries uint64) ResilientOption {
	return func(r *Resilient) {
		if initial > 0 {
			r.retryInitial = initial
		}
		if max > 0 {
			r.retryMax = max
		}
		r.maxRetries = retries
	}
}

func WithBreaker(b *circuit.Breaker) ResilientOption {
	return func(r *Resilient) {
		if b != nil {
			r.breaker = b
		}
	}
}

func WithLogger(logger *slog.Logger) ResilientOption {
	return func(r *Resilient) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func NewResilient(next Client, opts ...ResilientOption) *Resilient {
	r := &Resilient{
		next:          next,
		breaker:       circuit.New("chain"),
		readTimeout:   DefaultReadTimeout,
		submitTimeout: DefaultSubmitTimeout,
		retryInitial:  defaultRetryInitial,
		retryMax:      defaultRetryMax,
		maxRetries:    defaultMaxRetries,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Breaker exposes the breaker for health reporting.
func (r *Resilient) Breaker() *circuit.Breaker {
	return r.breaker
}

func (r *Resilient) Verify(ctx context.Context, code models.VerificationCode) (bool, error) {
	if !r.breaker.Allow() {
		return false, NewError(ErrorUnavailable, "verify", "circuit open", ErrCircuitOpen)
	}
	ctx, cancel := context.WithTimeout(ctx, r.readTimeout)
	defer cancel()

	var valid bool
	err := r.retryRead(ctx, func() error {
		v, err := r.next.Verify(ctx, code)
		if err != nil {
			return err
		}
		valid = v
		return nil
	})
	r.record("verify", err)
	if err != nil {
		return false, classify(ctx, "verify", err)
	}
	return valid, nil
}

func (r *Resilient) TransactionStatus(ctx context.Context, ref models.TxRef) (models.TxStatus, error) {
	if !r.breaker.Allow() {
		return models.TxUnknown, NewError(ErrorUnavailable, "tx_status", "circuit open", ErrCircuitOpen)
	}
	ctx, cancel := context.WithTimeout(ctx, r.readTimeout)
	defer cancel()

	status := models.TxUnknown
	err := r.retryRead(ctx, func() error {
		s, err := r.next.TransactionStatus(ctx, ref)
		if err != nil {
			return err
		}
		status = s
		return nil
	})
	r.record("tx_status", err)
	if err != nil {
		return models.TxUnknown, classify(ctx, "tx_status", err)
	}
	return status, nil
}

// Submit is attempted once. A retried submission could anchor the same
// credential twice.
func (r *Resilient) Submit(ctx context.Context, reg models.Registration) (models.TxRef, error) {
	if !r.breaker.Allow() {
		return "", NewError(ErrorUnavailable, "submit", "circuit open", ErrCircuitOpen)
	}
	ctx, cancel := context.WithTimeout(ctx, r.submitTimeout)
	defer cancel()

	ref, err := r.next.Submit(ctx, reg)
	r.record("submit", err)
	if err != nil {
		return "", classify(ctx, "submit", err)
	}
	return ref, nil
}

func (r *Resilient) retryRead(ctx context.Context, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.retryInitial
	bo.MaxInterval = r.retryMax
	bo.MaxElapsedTime = r.readTimeout

	return backoff.Retry(func() error {
		err := op()
		if err != nil && !IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(bo, r.maxRetries), ctx))
}

// record feeds the breaker. Only infrastructure failures count; a ledger
// that answers with a rejection is healthy.
func (r *Resilient) record(op string, err error) {
	var change circuit.StateChange
	if err != nil && (IsRetryable(err) || CategoryOf(err) == ErrorTimeout) {
		change = r.breaker.RecordFailure()
	} else {
		change = r.breaker.RecordSuccess()
	}
	if change.Opened {
		r.logger.Warn("chain circuit opened", "op", op, "error", err)
	}
	if change.Closed {
		r.logger.Info("chain circuit closed", "op", op)
	}
}

var _ Client = (*Resilient)(nil)
