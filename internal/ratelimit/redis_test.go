package ratelimit

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type fakeCounter struct {
	counts  map[string]int64
	ttls    map[string]time.Duration
	incrErr error
}

func newFakeCounter() *fakeCounter {
	return &fakeCounter{
		counts: map[string]int64{},
		ttls:   map[string]time.Duration{},
	}
}

func (f *fakeCounter) Incr(ctx context.Context, key string) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	if f.incrErr != nil {
		cmd.SetErr(f.incrErr)
		return cmd
	}
	f.counts[key]++
	cmd.SetVal(f.counts[key])
	return cmd
}

func (f *fakeCounter) ExpireNX(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	cmd := redis.NewBoolCmd(ctx)
	if _, ok := f.ttls[key]; ok {
		cmd.SetVal(false)
		return cmd
	}
	f.ttls[key] = expiration
	cmd.SetVal(true)
	return cmd
}

func (f *fakeCounter) TTL(ctx context.Context, key string) *redis.DurationCmd {
	cmd := redis.NewDurationCmd(ctx, time.Second)
	ttl, ok := f.ttls[key]
	if !ok {
		ttl = -1 * time.Second
	}
	cmd.SetVal(ttl)
	return cmd
}

func (f *fakeCounter) onlyKey(t *testing.T) string {
	t.Helper()
	if len(f.counts) != 1 {
		t.Fatalf("expected exactly one counter key, got %v", f.counts)
	}
	for key := range f.counts {
		return key
	}
	return ""
}

func newFakeLimiter(client counterClient, limit int64, window time.Duration) *RedisLimiter {
	return &RedisLimiter{client: client, logger: zerolog.Nop(), limit: limit, window: window}
}

func TestRedisLimiter_NilClientAllows(t *testing.T) {
	t.Parallel()

	limiter := NewRedisLimiter(nil, zerolog.Nop(), 10, time.Hour)

	for i := 0; i < 100; i++ {
		decision := limiter.Allow(context.Background(), "203.0.113.7")
		if !decision.Allowed {
			t.Fatalf("request %d rejected without a backing store", i)
		}
		if decision.RetryAfter != 0 {
			t.Fatalf("unexpected retry-after without a backing store: %s", decision.RetryAfter)
		}
	}
}

func TestRedisLimiter_RejectsOverLimit(t *testing.T) {
	t.Parallel()

	counter := newFakeCounter()
	limiter := newFakeLimiter(counter, 3, time.Hour)

	for i := 0; i < 3; i++ {
		decision := limiter.Allow(context.Background(), "203.0.113.7")
		if !decision.Allowed {
			t.Fatalf("request %d rejected under the limit", i)
		}
	}

	decision := limiter.Allow(context.Background(), "203.0.113.7")
	if decision.Allowed {
		t.Fatal("fourth request must be rejected with limit 3")
	}
	if decision.RetryAfter != time.Hour {
		t.Fatalf("retry-after must come from the window TTL, got %s", decision.RetryAfter)
	}

	key := counter.onlyKey(t)
	if !strings.HasPrefix(key, "grantsync:ratelimit:203.0.113.7:") {
		t.Fatalf("unexpected counter key: %s", key)
	}
	if counter.ttls[key] != time.Hour {
		t.Fatalf("window TTL not applied on first hit: %v", counter.ttls)
	}
}

func TestRedisLimiter_RetryAfterTracksRemainingWindow(t *testing.T) {
	t.Parallel()

	counter := newFakeCounter()
	limiter := newFakeLimiter(counter, 3, time.Hour)

	if decision := limiter.Allow(context.Background(), "scheduler"); !decision.Allowed {
		t.Fatal("first request rejected")
	}
	key := counter.onlyKey(t)
	counter.counts[key] = 3
	counter.ttls[key] = 12 * time.Minute

	decision := limiter.Allow(context.Background(), "scheduler")
	if decision.Allowed {
		t.Fatal("request over the limit must be rejected")
	}
	if decision.RetryAfter != 12*time.Minute {
		t.Fatalf("expected retry-after 12m from remaining TTL, got %s", decision.RetryAfter)
	}
}

func TestRedisLimiter_MissingWindowExpiryIsReapplied(t *testing.T) {
	t.Parallel()

	counter := newFakeCounter()
	limiter := newFakeLimiter(counter, 3, time.Hour)

	if decision := limiter.Allow(context.Background(), "203.0.113.7"); !decision.Allowed {
		t.Fatal("first request rejected")
	}
	key := counter.onlyKey(t)

	// A counter that lost its TTL gets one again on the next request.
	delete(counter.ttls, key)
	counter.counts[key] = 5

	decision := limiter.Allow(context.Background(), "203.0.113.7")
	if decision.Allowed {
		t.Fatal("request over the limit must be rejected")
	}
	if counter.ttls[key] != time.Hour {
		t.Fatalf("window TTL was not reapplied: %v", counter.ttls)
	}
	if decision.RetryAfter != time.Hour {
		t.Fatalf("expected retry-after to fall back to the full window, got %s", decision.RetryAfter)
	}
}

func TestRedisLimiter_RedisErrorFailsOpen(t *testing.T) {
	t.Parallel()

	counter := newFakeCounter()
	counter.incrErr = errors.New("connection refused")
	limiter := newFakeLimiter(counter, 1, time.Hour)

	for i := 0; i < 5; i++ {
		decision := limiter.Allow(context.Background(), "203.0.113.7")
		if !decision.Allowed {
			t.Fatalf("request %d rejected while redis is unavailable", i)
		}
		if decision.RetryAfter != 0 {
			t.Fatalf("unexpected retry-after while redis is unavailable: %s", decision.RetryAfter)
		}
	}
}
