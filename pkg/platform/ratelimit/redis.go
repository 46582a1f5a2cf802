package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "ratelimit:"

// slidingWindowScript trims the sorted set to the window, admits the request
// when there is room and reports the count and the oldest member's score.
//
// KEYS[1] window key; ARGV: now_ms, window_ms, limit, cost, member prefix.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local cost = tonumber(ARGV[4])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
local allowed = 0
if count + cost <= limit then
	for i = 1, cost do
		redis.call('ZADD', key, now, ARGV[5] .. ':' .. i)
	end
	count = count + cost
	allowed = 1
end
redis.call('PEXPIRE', key, window)
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
local first = now
if oldest[2] then
	first = tonumber(oldest[2])
end
return {allowed, count, first}
`)

// RedisStore shares windows across instances through Redis sorted sets.
type RedisStore struct {
	client redis.Cmdable
	now    func() time.Time
}

// NewRedisStore wraps a go-redis client or cluster client.
func NewRedisStore(client redis.Cmdable) *RedisStore {
	return &RedisStore{client: client, now: time.Now}
}

func (s *RedisStore) AllowN(ctx context.Context, key string, cost, limit int, window time.Duration) (*Result, error) {
	now := s.now()
	res, err := slidingWindowScript.Run(ctx, s.client, []string{redisKeyPrefix + key},
		now.UnixMilli(),
		window.Milliseconds(),
		limit,
		cost,
		strconv.FormatInt(now.UnixNano(), 36)+"-"+uuid.NewString(),
	).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("rate limit script: %w", err)
	}
	if len(res) != 3 {
		return nil, fmt.Errorf("rate limit script returned %d values", len(res))
	}

	allowed := res[0] == 1
	count := int(res[1])
	resetAt := time.UnixMilli(res[2]).Add(window)
	remaining := 0
	if allowed {
		remaining = max(limit-count, 0)
	}
	return &Result{
		Allowed:    allowed,
		Limit:      limit,
		Remaining:  remaining,
		ResetAt:    resetAt,
		RetryAfter: retryAfterSeconds(allowed, resetAt, now),
	}, nil
}

func (s *RedisStore) Reset(ctx context.Context, key string) error {
	return s.client.Del(ctx, redisKeyPrefix+key).Err()
}

var _ Store = (*RedisStore)(nil)
