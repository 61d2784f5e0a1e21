package farmerledger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const outstandingTTL = 60 * time.Second

// RedisCache caches outstanding views in Redis for a short TTL. It
// also serves as the invalidator the obligation engines call after
// writes. Cache failures degrade to a direct read, never an error.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache constructs RedisCache.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client, ttl: outstandingTTL}
}

func outstandingKey(companyID, farmerID int64) string {
	return fmt.Sprintf("outstanding:%d:%d", companyID, farmerID)
}

// GetOutstanding implements CachePort.
func (c *RedisCache) GetOutstanding(ctx context.Context, companyID, farmerID int64) (Outstanding, bool) {
	raw, err := c.client.Get(ctx, outstandingKey(companyID, farmerID)).Bytes()
	if err != nil {
		return Outstanding{}, false
	}
	var out Outstanding
	if err := json.Unmarshal(raw, &out); err != nil {
		return Outstanding{}, false
	}
	return out, true
}

// SetOutstanding implements CachePort.
func (c *RedisCache) SetOutstanding(ctx context.Context, companyID, farmerID int64, out Outstanding) {
	raw, err := json.Marshal(out)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, outstandingKey(companyID, farmerID), raw, c.ttl).Err(); err != nil {
		slog.Warn("outstanding cache set failed", "error", err)
	}
}

// InvalidateFarmer implements shared.OutstandingInvalidator.
func (c *RedisCache) InvalidateFarmer(ctx context.Context, companyID, farmerID int64) {
	if err := c.client.Del(ctx, outstandingKey(companyID, farmerID)).Err(); err != nil {
		slog.Warn("outstanding cache invalidate failed", "error", err)
	}
}
