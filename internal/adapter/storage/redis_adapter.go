package storage

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/sales-ledger/internal/port"
)

const (
	dedupKeyPrefix  = "sales-event:"
	DefaultDedupTTL = 24 * time.Hour
)

var _ port.Deduplicator = (*RedisAdapter)(nil)

type RedisAdapter struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisAdapter(client *redis.Client, ttl time.Duration) *RedisAdapter {
	if ttl <= 0 {
		ttl = DefaultDedupTTL
	}
	return &RedisAdapter{client: client, ttl: ttl}
}

func (r *RedisAdapter) Seen(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, dedupKeyPrefix+key).Result()
	if err != nil {
		return false, err
	}

	return n > 0, nil
}

func (r *RedisAdapter) Remember(ctx context.Context, key string) error {
	return r.client.Set(ctx, dedupKeyPrefix+key, 1, r.ttl).Err()
}
