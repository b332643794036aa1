package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"friends-go/internal/auth"
)

type redisTokenBlacklist struct {
	client redis.Cmdable
}

// NewRedisTokenBlacklist 创建基于 Redis 的 Token 黑名单。
func NewRedisTokenBlacklist(client redis.Cmdable) auth.TokenBlacklist {
	return &redisTokenBlacklist{client: client}
}

const blacklistKeyPrefix = "bl:jti:"

// Add 将 jti 加入黑名单，过期时间与原 token 一致。
func (r *redisTokenBlacklist) Add(ctx context.Context, jti string, originalTokenExpTime time.Time) error {
	duration := time.Until(originalTokenExpTime)
	if duration <= 0 {
		return nil
	}

	if err := r.client.Set(ctx, blacklistKeyPrefix+jti, "revoked", duration).Err(); err != nil {
		return fmt.Errorf("添加到 Redis 黑名单失败 for JTI %s: %w", jti, err)
	}
	return nil
}

func (r *redisTokenBlacklist) IsBlacklisted(ctx context.Context, jti string) (bool, error) {
	val, err := r.client.Get(ctx, blacklistKeyPrefix+jti).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("从 Redis 黑名单检查失败 for JTI %s: %w", jti, err)
	}
	return val == "revoked", nil
}
