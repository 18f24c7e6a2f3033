package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const sessionKeyPrefix = "taskhub:session:"

// SessionCookieName 页面会话 cookie 名称。
const SessionCookieName = "session_id"

// SessionStore 基于 Redis 的页面会话存储。
//
// 会话由 Redis TTL 自然过期，无需单独的清理任务。
type SessionStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewSessionStore 创建会话存储。
func NewSessionStore(rdb *redis.Client, ttl time.Duration) *SessionStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &SessionStore{
		rdb: rdb,
		ttl: ttl,
	}
}

// Create 为用户创建新会话并返回会话 ID。
func (s *SessionStore) Create(ctx context.Context, userID uint) (string, error) {
	sid := uuid.NewString()
	key := sessionKeyPrefix + sid
	if err := s.rdb.Set(ctx, key, strconv.FormatUint(uint64(userID), 10), s.ttl).Err(); err != nil {
		return "", fmt.Errorf("session set: %w", err)
	}
	return sid, nil
}

// Resolve 将会话 ID 解析为用户 ID，同时滑动续期。
func (s *SessionStore) Resolve(ctx context.Context, sid string) (uint, error) {
	if sid == "" {
		return 0, fmt.Errorf("empty session id")
	}
	key := sessionKeyPrefix + sid
	val, err := s.rdb.Get(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("session get: %w", err)
	}
	uid, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("session parse: %w", err)
	}
	_ = s.rdb.Expire(ctx, key, s.ttl).Err()
	return uint(uid), nil
}

// Destroy 删除会话。
func (s *SessionStore) Destroy(ctx context.Context, sid string) error {
	if sid == "" {
		return nil
	}
	return s.rdb.Del(ctx, sessionKeyPrefix+sid).Err()
}

// TTL 返回会话有效期。
func (s *SessionStore) TTL() time.Duration {
	return s.ttl
}

// SessionMiddleware 校验页面会话 cookie 并将 userID 写入上下文。
//
// 未登录的访问重定向到登录页，而不是返回 JSON 错误。
func SessionMiddleware(store *SessionStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		sid, err := c.Cookie(SessionCookieName)
		if err != nil || sid == "" {
			c.Redirect(http.StatusFound, "/login")
			c.Abort()
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		uid, err := store.Resolve(ctx, sid)
		if err != nil {
			c.Redirect(http.StatusFound, "/login")
			c.Abort()
			return
		}

		c.Set("userID", int(uid))
		c.Next()
	}
}
