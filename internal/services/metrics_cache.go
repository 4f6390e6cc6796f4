package services

import (
	"context"
	"errors"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"

	"github.com/huangang/reviewiq/pkg/logger"
)

// MetricsCache stores serialized analytics results under short TTLs.
// Entries may be stale for up to the TTL; no invalidation on writes.
type MetricsCache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte)
	// DeleteExpired purges entries past their TTL. Get already ignores them.
	DeleteExpired()
}

// MemoryMetricsCache is the per-process cache used by default.
type MemoryMetricsCache struct {
	c *cache.Cache
}

func NewMemoryMetricsCache(ttl time.Duration) *MemoryMetricsCache {
	return &MemoryMetricsCache{c: cache.New(ttl, 2*ttl)}
}

func (m *MemoryMetricsCache) Get(_ context.Context, key string) ([]byte, bool) {
	v, ok := m.c.Get(key)
	if !ok {
		return nil, false
	}
	b, ok := v.([]byte)
	return b, ok
}

func (m *MemoryMetricsCache) Set(_ context.Context, key string, value []byte) {
	m.c.Set(key, value, cache.DefaultExpiration)
}

func (m *MemoryMetricsCache) DeleteExpired() { m.c.DeleteExpired() }

// RedisMetricsCache shares cached analytics between replicas.
type RedisMetricsCache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

func NewRedisMetricsCache(client *redis.Client, ttl time.Duration) *RedisMetricsCache {
	return &RedisMetricsCache{client: client, ttl: ttl, prefix: "reviewiq:metrics:"}
}

func (r *RedisMetricsCache) Get(ctx context.Context, key string) ([]byte, bool) {
	b, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logger.Warn().Err(err).Str("key", key).Msg("[MetricsCache] redis get failed")
		}
		return nil, false
	}
	return b, true
}

func (r *RedisMetricsCache) Set(ctx context.Context, key string, value []byte) {
	if err := r.client.Set(ctx, r.prefix+key, value, r.ttl).Err(); err != nil {
		logger.Warn().Err(err).Str("key", key).Msg("[MetricsCache] redis set failed")
	}
}

// DeleteExpired is a no-op: redis expires keys itself.
func (r *RedisMetricsCache) DeleteExpired() {}

// NoopMetricsCache disables caching.
type NoopMetricsCache struct{}

func (NoopMetricsCache) Get(context.Context, string) ([]byte, bool) { return nil, false }
func (NoopMetricsCache) Set(context.Context, string, []byte)        {}
func (NoopMetricsCache) DeleteExpired()                              {}
