package conversation

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const dedupeKeyPrefix = "storefront:inbound:"

// Deduper reports whether a provider message id is seen for the first time.
type Deduper interface {
	FirstSeen(ctx context.Context, key string) (bool, error)
}

// RedisDeduper claims message ids with SET NX and a TTL.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDeduper creates a deduper. A zero ttl defaults to 24h.
func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisDeduper{client: client, ttl: ttl}
}

// FirstSeen claims key. It returns false when another delivery already did.
func (d *RedisDeduper) FirstSeen(ctx context.Context, key string) (bool, error) {
	ok, err := d.client.SetNX(ctx, dedupeKeyPrefix+key, 1, d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim inbound message: %w", err)
	}
	return ok, nil
}
