package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blockcreds/pkg/requestcontext"
)

type failingStore struct{}

func (failingStore) AllowN(context.Context, string, int, int, time.Duration) (*Result, error) {
	return nil, errors.New("redis: connection refused")
}

func (failingStore) Reset(context.Context, string) error { return nil }

func serve(h http.Handler, ip string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodGet, "/verify/BC-00000001-00000002", nil)
	r = r.WithContext(requestcontext.WithClientMetadata(r.Context(), ip, ""))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestMiddleware(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	t.Run("admits then rejects with headers", func(t *testing.T) {
		metrics := NewMetrics(prometheus.NewRegistry())
		limiter := NewLimiter(NewInMemoryStore(), Config{Limit: 2, Window: time.Minute}, "verify")
		h := NewMiddleware(limiter, "verify", logger, metrics).Handler(ok)

		for range 2 {
			w := serve(h, "203.0.113.9")
			assert.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
		}

		w := serve(h, "203.0.113.9")
		require.Equal(t, http.StatusTooManyRequests, w.Code)
		assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
		assert.NotEmpty(t, w.Header().Get("Retry-After"))

		var body ExceededResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "rate_limit_exceeded", body.Error)
		assert.Positive(t, body.RetryAfter)

		assert.Equal(t, http.StatusOK, serve(h, "198.51.100.7").Code)
		assert.Equal(t, 1.0, promtest.ToFloat64(metrics.Decisions.WithLabelValues("verify", "rejected")))
		assert.Equal(t, 3.0, promtest.ToFloat64(metrics.Decisions.WithLabelValues("verify", "allowed")))
	})

	t.Run("store failure lets requests through", func(t *testing.T) {
		limiter := NewLimiter(failingStore{}, DefaultConfig(), "verify")
		h := NewMiddleware(limiter, "verify", logger, nil).Handler(ok)

		w := serve(h, "203.0.113.9")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Header().Get("X-RateLimit-Limit"))
	})
}
