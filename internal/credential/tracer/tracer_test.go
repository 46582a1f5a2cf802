package tracer_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"blockcreds/internal/credential/tracer"
)

func TestNoopTracer_Start(t *testing.T) {
	tr := tracer.NewNoop()
	ctx := context.Background()

	newCtx, span := tr.Start(ctx, tracer.SpanVerify,
		tracer.String(tracer.AttrCode, "BC-00000001-00000002"),
		tracer.Bool(tracer.AttrOverallValid, true),
	)

	assert.Equal(t, ctx, newCtx)
	require.NotNil(t, span)

	span.SetAttributes(tracer.Float64(tracer.AttrScore, 0.9))
	span.AddEvent(tracer.EventAuditEmitted, tracer.Int64("count", 1))
	span.End(nil)
}

func TestNoopTracer_SpanEndWithError(t *testing.T) {
	_, span := tracer.NewNoop().Start(context.Background(), tracer.SpanIssue)
	require.NotNil(t, span)
	span.End(errors.New("chain unavailable"))
}

func TestOTelTracer_Start(t *testing.T) {
	tr := tracer.NewOTel(tracer.WithOTelTracer(noop.NewTracerProvider().Tracer("test")))

	ctx, span := tr.Start(context.Background(), tracer.SpanChainVerify,
		tracer.String(tracer.AttrCode, "AB12"),
		tracer.Duration("elapsed", 1500*time.Millisecond),
	)
	require.NotNil(t, ctx)
	span.SetAttributes(tracer.Bool(tracer.AttrChainValid, true))
	span.AddEvent(tracer.EventCacheRefreshed)
	span.End(errors.New("boom"))
}

func TestDuration(t *testing.T) {
	attr := tracer.Duration("elapsed", 1500*time.Millisecond)
	assert.Equal(t, int64(1500), attr.Value)
}
