package tokenstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestStore_ConsumeOnce(t *testing.T) {
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer s.Close()

	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() {
		if err := rdb.Close(); err != nil {
			t.Fatalf("close redis: %v", err)
		}
	})

	store := NewStore(rdb, time.Minute)
	ctx := context.Background()

	first, err := store.Consume(ctx, "jti-abc")
	if err != nil {
		t.Fatalf("first consume: %v", err)
	}
	if !first {
		t.Fatalf("expected first consume to succeed")
	}

	second, err := store.Consume(ctx, "jti-abc")
	if err != nil {
		t.Fatalf("second consume: %v", err)
	}
	if second {
		t.Fatalf("expected second consume to be rejected")
	}
}

func TestStore_ConsumeIndependentTokens(t *testing.T) {
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer s.Close()

	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer rdb.Close()

	store := NewStore(rdb, time.Minute)
	ctx := context.Background()

	if first, err := store.Consume(ctx, "jti-1"); err != nil || !first {
		t.Fatalf("expected jti-1 to be fresh, first=%v err=%v", first, err)
	}
	if first, err := store.Consume(ctx, "jti-2"); err != nil || !first {
		t.Fatalf("expected jti-2 to be fresh, first=%v err=%v", first, err)
	}
}

func TestStore_ConsumeAgainAfterExpiry(t *testing.T) {
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer s.Close()

	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer rdb.Close()

	store := NewStore(rdb, time.Second)
	ctx := context.Background()

	if first, _ := store.Consume(ctx, "jti-ttl"); !first {
		t.Fatalf("expected first consume to succeed")
	}

	s.FastForward(2 * time.Second)

	// 标记过期后 jti 可以再次使用，但此时签名本身也已过期，
	// 上层的 JWT 校验会先拒绝它。
	first, err := store.Consume(ctx, "jti-ttl")
	if err != nil {
		t.Fatalf("consume after expiry: %v", err)
	}
	if !first {
		t.Fatalf("expected marker to expire with ttl")
	}
}
