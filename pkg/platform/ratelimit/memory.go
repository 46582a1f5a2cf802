package ratelimit

import (
	"context"
	"sync"
	"time"
)

// InMemoryStore keeps a sliding window of timestamps per key.
type InMemoryStore struct {
	mu      sync.Mutex
	windows map[string]*slidingWindow
	now     func() time.Time
}

type slidingWindow struct {
	timestamps []time.Time
	window     time.Duration
}

func (sw *slidingWindow) tryConsume(cost, limit int, now time.Time) (bool, int, time.Time) {
	sw.evict(now)
	if len(sw.timestamps)+cost > limit {
		resetAt := now.Add(sw.window)
		if len(sw.timestamps) > 0 {
			resetAt = sw.timestamps[0].Add(sw.window)
		}
		return false, 0, resetAt
	}
	for range cost {
		sw.timestamps = append(sw.timestamps, now)
	}
	return true, limit - len(sw.timestamps), sw.timestamps[0].Add(sw.window)
}

func (sw *slidingWindow) evict(now time.Time) {
	cutoff := now.Add(-sw.window)
	i := 0
	for ; i < len(sw.timestamps); i++ {
		if sw.timestamps[i].After(cutoff) {
			break
		}
	}
	sw.timestamps = sw.timestamps[i:]
}

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		windows: make(map[string]*slidingWindow),
		now:     time.Now,
	}
}

func (s *InMemoryStore) AllowN(_ context.Context, key string, cost, limit int, window time.Duration) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sw, ok := s.windows[key]
	if !ok {
		sw = &slidingWindow{window: window}
		s.windows[key] = sw
	}
	now := s.now()
	allowed, remaining, resetAt := sw.tryConsume(cost, limit, now)

	return &Result{
		Allowed:    allowed,
		Limit:      limit,
		Remaining:  remaining,
		ResetAt:    resetAt,
		RetryAfter: retryAfterSeconds(allowed, resetAt, now),
	}, nil
}

func (s *InMemoryStore) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.windows, key)
	return nil
}

var _ Store = (*InMemoryStore)(nil)
