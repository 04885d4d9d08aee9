package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter enforces the per-sender send quota on the broker. Counting
// happens in a Lua script so concurrent broker nodes see one atomic
// counter per (room, sender) window.
type RedisLimiter struct {
	client    *redis.Client
	keyPrefix string
	limit     int
	window    time.Duration
}

// NewRedisLimiter creates a limiter with the given quota per window.
func NewRedisLimiter(client *redis.Client, keyPrefix string, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{
		client:    client,
		keyPrefix: keyPrefix,
		limit:     limit,
		window:    window,
	}
}

var allowScript = redis.NewScript(`
	local current = redis.call('INCR', KEYS[1])
	if current == 1 then
		redis.call('PEXPIRE', KEYS[1], ARGV[2])
	end
	local ttl = redis.call('PTTL', KEYS[1])
	if current > tonumber(ARGV[1]) then
		return {0, 0, ttl}
	end
	return {1, tonumber(ARGV[1]) - current, ttl}
`)

// Allow consumes one send from the quota for key (typically roomID:senderID)
// and reports the remaining budget and reset time.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (Info, error) {
	now := time.Now()
	res, err := allowScript.Run(ctx, l.client,
		[]string{l.keyPrefix + key},
		l.limit, l.window.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return Info{}, fmt.Errorf("rate limit script: %w", err)
	}
	if len(res) != 3 {
		return Info{}, fmt.Errorf("rate limit script: unexpected reply length %d", len(res))
	}

	resetAt := now.Add(l.window)
	if res[2] > 0 {
		resetAt = now.Add(time.Duration(res[2]) * time.Millisecond)
	}
	return Info{
		Limit:     l.limit,
		Remaining: int(res[1]),
		ResetAt:   resetAt,
		IsLimited: res[0] == 0,
	}, nil
}

// Reset clears the counter for a key.
func (l *RedisLimiter) Reset(ctx context.Context, key string) error {
	return l.client.Del(ctx, l.keyPrefix+key).Err()
}
