// Package tracer is the tracing seam used by the credential engine.
//
// Spans are opened per operation (issue, verify, batch) and per dependency
// call (chain, scorer, store). Verification codes are recorded as attributes;
// recipient references and images never are.
//
// Implementations:
//   - NoopTracer: for tests
//   - OTelTracer: OpenTelemetry adapter for production
package tracer

import (
	"context"
	"time"
)

// Span represents an active trace span.
type Span interface {
	// End completes the span. A non-nil err marks it failed.
	// End must be called exactly once, typically via defer.
	End(err error)

	SetAttributes(attrs ...Attribute)

	AddEvent(name string, attrs ...Attribute)
}

// Tracer creates spans. Implementations must be safe for concurrent use.
type Tracer interface {
	// Start creates a span and returns a context carrying it.
	//
	// Example:
	//   ctx, span := tr.Start(ctx, tracer.SpanVerify,
	//       tracer.String(tracer.AttrCode, code.String()),
	//   )
	//   defer span.End(nil)
	Start(ctx context.Context, name string, attrs ...Attribute) (context.Context, Span)
}

// Attribute represents a key-value pair attached to spans.
type Attribute struct {
	Key   string
	Value any
}

func String(key, value string) Attribute {
	return Attribute{Key: key, Value: value}
}

func Bool(key string, value bool) Attribute {
	return Attribute{Key: key, Value: value}
}

func Int64(key string, value int64) Attribute {
	return Attribute{Key: key, Value: value}
}

func Float64(key string, value float64) Attribute {
	return Attribute{Key: key, Value: value}
}

// Duration creates a duration attribute in milliseconds.
func Duration(key string, value time.Duration) Attribute {
	return Attribute{Key: key, Value: value.Milliseconds()}
}

// Span names.
const (
	SpanIssue        = "credential.issue"
	SpanVerify       = "credential.verify"
	SpanBatchVerify  = "credential.verify.batch"
	SpanAnnotate     = "credential.annotate"
	SpanChainVerify  = "credential.chain.verify"
	SpanChainSubmit  = "credential.chain.submit"
	SpanChainTxCheck = "credential.chain.tx_status"
	SpanScore        = "credential.similarity.compare"
)

// Attribute keys.
const (
	AttrCode          = "credential.code"
	AttrCredentialID  = "credential.id"
	AttrTxRef         = "credential.tx_ref"
	AttrChainValid    = "chain.valid"
	AttrImageMatch    = "image.match"
	AttrScore         = "image.score"
	AttrOverallValid  = "verdict.valid"
	AttrReason        = "verdict.reason"
	AttrPolicy        = "verdict.policy"
	AttrBatchSize     = "batch.size"
	AttrCodeAttempt   = "issue.code_attempt"
	AttrClientTxSuppl = "issue.client_tx"
)

// Event names.
const (
	EventCacheRefreshed = "chain_state.refreshed"
	EventAuditEmitted   = "audit.emitted"
)
