package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(h *Handler, path string) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	h.Register(r)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestReadiness(t *testing.T) {
	t.Run("all checks up", func(t *testing.T) {
		h := New("test")
		h.RegisterCheck("ledger", func(context.Context) error { return nil })

		rec := serve(h, "/health/ready")
		require.Equal(t, http.StatusOK, rec.Code)

		var body ReadinessResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "ready", body.Status)
		assert.Equal(t, "up", body.Checks["ledger"])
	})

	t.Run("one check down", func(t *testing.T) {
		h := New("test")
		h.RegisterCheck("ledger", func(context.Context) error { return nil })
		h.RegisterCheck("scorer", func(context.Context) error { return errors.New("connection refused") })

		rec := serve(h, "/health/ready")
		require.Equal(t, http.StatusServiceUnavailable, rec.Code)

		var body ReadinessResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "not_ready", body.Status)
		assert.Equal(t, "down: connection refused", body.Checks["scorer"])
	})

	t.Run("checks get a deadline", func(t *testing.T) {
		h := New("test")
		h.RegisterCheck("store", func(ctx context.Context) error {
			_, ok := ctx.Deadline()
			if !ok {
				return errors.New("no deadline")
			}
			return nil
		})
		assert.Equal(t, http.StatusOK, serve(h, "/health/ready").Code)
	})
}

func TestLivenessAndStatus(t *testing.T) {
	h := New("staging")
	assert.Equal(t, http.StatusOK, serve(h, "/health/live").Code)

	rec := serve(h, "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	var body StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "staging", body.Environment)
	assert.Equal(t, "healthy", body.Status)
}
