// Package requestcontext carries request-scoped values (request ID, caller,
// client metadata, request time) through context.Context.
package requestcontext

import (
	"context"
	"time"

	id "blockcreds/pkg/domain"
)

type (
	requestIDKey   struct{}
	userIDKey      struct{}
	clientIPKey    struct{}
	clientAgentKey struct{}
	requestTimeKey struct{}
)

// WithRequestID stores the correlation ID for the current request.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// RequestID returns the correlation ID, or "" outside of an HTTP request.
func RequestID(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey{}).(string); ok {
		return v
	}
	return ""
}

// WithUserID stores the authenticated caller.
func WithUserID(ctx context.Context, userID id.UserID) context.Context {
	return context.WithValue(ctx, userIDKey{}, userID)
}

// UserID returns the authenticated caller or the nil ID.
func UserID(ctx context.Context) id.UserID {
	if v, ok := ctx.Value(userIDKey{}).(id.UserID); ok {
		return v
	}
	return id.UserID{}
}

// WithClientMetadata stores the resolved client IP and a coarse client
// description ("Chrome on Windows").
func WithClientMetadata(ctx context.Context, ip, agent string) context.Context {
	ctx = context.WithValue(ctx, clientIPKey{}, ip)
	return context.WithValue(ctx, clientAgentKey{}, agent)
}

func ClientIP(ctx context.Context) string {
	if v, ok := ctx.Value(clientIPKey{}).(string); ok {
		return v
	}
	return ""
}

func ClientAgent(ctx context.Context) string {
	if v, ok := ctx.Value(clientAgentKey{}).(string); ok {
		return v
	}
	return ""
}

// WithTime pins "now" for the request so every timestamp written while
// serving it agrees.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, requestTimeKey{}, t)
}

// Now returns the request-scoped time, falling back to time.Now() for
// workers and tests that never went through the HTTP middleware.
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(requestTimeKey{}).(time.Time); ok {
		return t
	}
	return time.Now()
}
