package tokenstore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "taskhub:activation:used:"

// Store 标记已消费的激活令牌，保证每个令牌只能用一次。
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewStore 创建单次令牌存储。
//
// ttl 应不小于激活令牌本身的有效期，令牌过期后标记即可回收。
func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Store{
		rdb: rdb,
		ttl: ttl,
	}
}

// Consume 尝试消费令牌标识 jti。
//
// 返回值:
//
//	bool: 首次消费返回 true；令牌已被使用过返回 false
//	error: Redis 访问失败
func (s *Store) Consume(ctx context.Context, jti string) (bool, error) {
	if s == nil || s.rdb == nil || jti == "" {
		return false, fmt.Errorf("tokenstore: empty jti")
	}
	key := keyPrefix + jti
	ok, err := s.rdb.SetNX(ctx, key, "1", s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("tokenstore setnx: %w", err)
	}
	return ok, nil
}
