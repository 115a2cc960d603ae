package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Decision is the outcome of one rate-limit check.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Limiter decides whether a caller may trigger another synchronization now.
type Limiter interface {
	Allow(ctx context.Context, key string) Decision
}

// counterClient is the slice of the Redis API the limiter needs.
type counterClient interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	ExpireNX(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	TTL(ctx context.Context, key string) *redis.DurationCmd
}

// RedisLimiter implements a fixed-window counter in Redis: INCR a per-caller
// key, apply the window TTL if the key has none yet, reject once the count
// exceeds the limit. When Redis is unavailable every request is allowed; a
// broken limiter must not take synchronization down with it.
type RedisLimiter struct {
	client counterClient
	logger zerolog.Logger
	limit  int64
	window time.Duration
}

func NewRedisLimiter(client *redis.Client, logger zerolog.Logger, limit int, window time.Duration) *RedisLimiter {
	l := &RedisLimiter{
		logger: logger,
		limit:  int64(limit),
		window: window,
	}
	if client != nil {
		l.client = client
	}
	return l
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) Decision {
	if l.client == nil {
		return Decision{Allowed: true}
	}

	windowStart := time.Now().UTC().Truncate(l.window).Unix()
	redisKey := fmt.Sprintf("grantsync:ratelimit:%s:%d", key, windowStart)

	count, err := l.client.Incr(ctx, redisKey).Result()
	if err != nil {
		l.logger.Warn().Err(err).Str("key", key).Msg("rate limiter unavailable, allowing request")
		return Decision{Allowed: true}
	}
	// NX means the TTL is only set once per window, but a counter left
	// without one (a crash between INCR and the original first-hit EXPIRE)
	// heals on the next request instead of lingering.
	if err := l.client.ExpireNX(ctx, redisKey, l.window).Err(); err != nil {
		l.logger.Warn().Err(err).Str("key", key).Msg("failed to set rate limit window expiry")
	}

	if count > l.limit {
		ttl, err := l.client.TTL(ctx, redisKey).Result()
		if err != nil || ttl < 0 {
			ttl = l.window
		}
		return Decision{Allowed: false, RetryAfter: ttl}
	}
	return Decision{Allowed: true}
}
