package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"friends-go/internal/models"
)

const accountKeyPrefix = "acct:"

// AccountCache keeps account profiles as JSON strings under acct:<id>.
type AccountCache struct {
	client redis.Cmdable
}

func NewAccountCache(client redis.Cmdable) *AccountCache {
	return &AccountCache{client: client}
}

func accountKey(id uuid.UUID) string {
	return accountKeyPrefix + id.String()
}

// GetMany returns the cached accounts among ids; misses are absent from the map.
func (c *AccountCache) GetMany(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Account, error) {
	out := make(map[uuid.UUID]models.Account, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = accountKey(id)
	}

	vals, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		return out, fmt.Errorf("读取账户缓存失败: %w", err)
	}
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var acc models.Account
		if err := json.Unmarshal([]byte(s), &acc); err != nil {
			// 损坏的条目视为未命中
			continue
		}
		out[ids[i]] = acc
	}
	return out, nil
}

// SetMany writes accounts in one pipeline with the given TTL.
func (c *AccountCache) SetMany(ctx context.Context, accounts []models.Account, ttl time.Duration) error {
	if len(accounts) == 0 {
		return nil
	}
	_, err := c.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, acc := range accounts {
			data, err := json.Marshal(acc)
			if err != nil {
				return err
			}
			pipe.Set(ctx, accountKey(acc.ID), data, ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("写入账户缓存失败: %w", err)
	}
	return nil
}
