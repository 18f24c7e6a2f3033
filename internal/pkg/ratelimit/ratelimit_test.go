package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newMiniRedis(t *testing.T) *redis.Client {
	t.Helper()
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(s.Close)

	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() {
		if err := rdb.Close(); err != nil {
			t.Fatalf("close redis: %v", err)
		}
	})
	return rdb
}

func TestRateLimiter_AllowConsumesBurst(t *testing.T) {
	rdb := newMiniRedis(t)

	limiter := NewRedisRateLimiter(rdb, nil, "test:resend:", 1.0/60, 1)
	ctx := context.Background()

	allowed, _, err := limiter.Allow(ctx, "user@example.com")
	if err != nil {
		t.Fatalf("first allow: %v", err)
	}
	if !allowed {
		t.Fatalf("expected first request to pass")
	}

	allowed, wait, err := limiter.Allow(ctx, "user@example.com")
	if err != nil {
		t.Fatalf("second allow: %v", err)
	}
	if allowed {
		t.Fatalf("expected second request to be limited")
	}
	if wait <= 0 {
		t.Fatalf("expected positive retry hint, got %v", wait)
	}
}

func TestRateLimiter_BucketsAreIndependent(t *testing.T) {
	rdb := newMiniRedis(t)

	limiter := NewRedisRateLimiter(rdb, nil, "test:resend:", 1.0/60, 1)
	ctx := context.Background()

	if allowed, _, _ := limiter.Allow(ctx, "a@example.com"); !allowed {
		t.Fatalf("expected a@example.com to pass")
	}
	if allowed, _, _ := limiter.Allow(ctx, "b@example.com"); !allowed {
		t.Fatalf("expected b@example.com to have its own bucket")
	}
	if allowed, _, _ := limiter.Allow(ctx, "a@example.com"); allowed {
		t.Fatalf("expected a@example.com to be limited on second request")
	}
}

func TestRateLimiter_RefillAllowsAgain(t *testing.T) {
	rdb := newMiniRedis(t)

	// 每秒 10 个令牌，等待 200ms 就足够补回 1 个
	limiter := NewRedisRateLimiter(rdb, nil, "test:refill:", 10, 1)
	ctx := context.Background()

	if allowed, _, _ := limiter.Allow(ctx, "k"); !allowed {
		t.Fatalf("expected warm request to pass")
	}
	if allowed, _, _ := limiter.Allow(ctx, "k"); allowed {
		t.Fatalf("expected bucket to be drained")
	}

	time.Sleep(200 * time.Millisecond)

	if allowed, _, _ := limiter.Allow(ctx, "k"); !allowed {
		t.Fatalf("expected refill to allow the request")
	}
}
