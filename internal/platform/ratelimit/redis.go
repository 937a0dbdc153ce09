package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// fixedWindow increments the counter and starts its expiry on the first call of a window.
// It returns the new count and the remaining TTL in milliseconds.
var fixedWindow = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// Redis is a fixed window limiter whose counters live in Redis.
type Redis struct {
	client redis.Scripter
	prefix string
	limit  int
	window time.Duration
}

// NewRedis builds a limiter storing counters under prefix+key.
func NewRedis(client redis.Scripter, prefix string, limit int, period time.Duration) (*Redis, error) {
	if client == nil {
		return nil, errors.New("ratelimit: redis client is required")
	}
	if limit <= 0 || period < time.Millisecond {
		return nil, fmt.Errorf("ratelimit: invalid limit %d per %s", limit, period)
	}
	return &Redis{client: client, prefix: prefix, limit: limit, window: period}, nil
}

// Allow implements Limiter.
func (r *Redis) Allow(ctx context.Context, key string) (Decision, error) {
	values, err := fixedWindow.Run(ctx, r.client, []string{r.prefix + normaliseKey(key)}, r.window.Milliseconds()).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit: redis: %w", err)
	}
	if len(values) != 2 {
		return Decision{}, fmt.Errorf("ratelimit: unexpected script reply %v", values)
	}
	count, ttl := int(values[0]), time.Duration(values[1])*time.Millisecond
	if count > r.limit {
		return Decision{RetryAfter: ttl}, nil
	}
	return Decision{Allowed: true, Remaining: r.limit - count, RetryAfter: ttl}, nil
}
