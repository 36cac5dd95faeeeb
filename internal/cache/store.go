package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/redbco/redb-search/pkg/database"
)

// RemoteStore is the persistent cache tier contract: get/set/delete plus the
// pattern scan used for tenant-wide invalidation.
type RemoteStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	ScanKeys(ctx context.Context, pattern string) ([]string, error)
}

// redisStore adapts the shared Redis client to the RemoteStore contract.
type redisStore struct {
	redis *database.Redis
}

// NewRedisStore wraps a Redis connection as the persistent cache tier.
func NewRedisStore(r *database.Redis) RemoteStore {
	return &redisStore{redis: r}
}

func (s *redisStore) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := s.redis.Client().Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (s *redisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.redis.Client().Set(ctx, key, value, ttl).Err()
}

func (s *redisStore) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.redis.Client().Del(ctx, keys...).Err()
}

func (s *redisStore) ScanKeys(ctx context.Context, pattern string) ([]string, error) {
	return s.redis.ScanKeys(ctx, pattern)
}
