package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryStore_SlidingWindow(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s := NewInMemoryStore()
	s.now = func() time.Time { return now }
	ctx := context.Background()

	for i := range 3 {
		res, err := s.AllowN(ctx, "ip:203.0.113.9", 1, 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, 2-i, res.Remaining)
	}

	res, err := s.AllowN(ctx, "ip:203.0.113.9", 1, 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)
	assert.Equal(t, 60, res.RetryAfter)
	assert.Equal(t, now.Add(time.Minute), res.ResetAt)

	other, err := s.AllowN(ctx, "ip:198.51.100.1", 1, 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, other.Allowed, "keys are independent")

	now = now.Add(61 * time.Second)
	res, err = s.AllowN(ctx, "ip:203.0.113.9", 1, 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Allowed, "window slid past the old requests")
}

func TestInMemoryStore_Reset(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	_, err := s.AllowN(ctx, "k", 1, 1, time.Hour)
	require.NoError(t, err)
	res, err := s.AllowN(ctx, "k", 1, 1, time.Hour)
	require.NoError(t, err)
	require.False(t, res.Allowed)

	require.NoError(t, s.Reset(ctx, "k"))
	res, err = s.AllowN(ctx, "k", 1, 1, time.Hour)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestRetryAfterSeconds(t *testing.T) {
	now := time.Unix(1000, 0)
	assert.Equal(t, 0, retryAfterSeconds(true, now.Add(time.Minute), now))
	assert.Equal(t, 0, retryAfterSeconds(false, now.Add(-time.Second), now))
	assert.Equal(t, 2, retryAfterSeconds(false, now.Add(1500*time.Millisecond), now))
}

func TestNewLimiter_FallsBackToDefaults(t *testing.T) {
	l := NewLimiter(NewInMemoryStore(), Config{}, "verify")
	assert.Equal(t, DefaultConfig(), l.cfg)
}
