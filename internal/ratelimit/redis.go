package ratelimit

import (
	"context"
	"strings"
	"time"

	"github.com/carhelperai/carhelper/internal/cache"
)

// RedisStore shares counters between instances through the cache layer.
type RedisStore struct {
	cache cache.Cache
}

func NewRedisStore(c cache.Cache) *RedisStore {
	return &RedisStore{cache: c}
}

func (s *RedisStore) Hit(ctx context.Context, key string, win time.Duration) (int64, time.Duration, error) {
	policy, client, _ := strings.Cut(key, ":")
	return s.cache.IncrWithExpiry(ctx, cache.RateLimitKey(policy, client), win)
}
