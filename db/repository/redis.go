package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"

	"mnemo.evalgo.org/apperr"
)

// RedisCounterRepository implements CounterRepository on redis with the
// fixed-window scheme: one key per (caller key, window bucket), INCR plus
// a one-window expiry. Counting is shared across replicas.
type RedisCounterRepository struct {
	client *redis.Client
}

// NewRedisCounterRepository creates a redis-backed counter repository.
func NewRedisCounterRepository(client *redis.Client) *RedisCounterRepository {
	return &RedisCounterRepository{client: client}
}

// Incr increments the counter in the current window bucket.
func (r *RedisCounterRepository) Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	now := time.Now()
	bucket := now.UnixNano() / int64(window)
	redisKey := fmt.Sprintf("counter:%s:%d", key, bucket)

	pipe := r.client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	// Expiry a little past the window end covers clock skew between
	// replicas; stale buckets are never read again anyway.
	pipe.Expire(ctx, redisKey, window+time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, apperr.Storage("counter incr", err)
	}

	windowEnd := time.Unix(0, (bucket+1)*int64(window))
	return incr.Val(), windowEnd.Sub(now), nil
}

// MemoryCounterRepository implements CounterRepository in process for
// deployments without redis. Counts are per replica, so the effective
// limit scales with the replica count; acceptable for the fallback.
type MemoryCounterRepository struct {
	mu    sync.Mutex
	cache *gocache.Cache
}

// NewMemoryCounterRepository creates an in-process counter repository.
func NewMemoryCounterRepository() *MemoryCounterRepository {
	return &MemoryCounterRepository{
		cache: gocache.New(2*time.Minute, 5*time.Minute),
	}
}

// Incr increments the counter in the current window bucket.
func (m *MemoryCounterRepository) Incr(_ context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	now := time.Now()
	bucket := now.UnixNano() / int64(window)
	cacheKey := fmt.Sprintf("%s:%d", key, bucket)

	m.mu.Lock()
	defer m.mu.Unlock()

	var count int64 = 1
	if v, ok := m.cache.Get(cacheKey); ok {
		count = v.(int64) + 1
	}
	m.cache.Set(cacheKey, count, window+time.Second)

	windowEnd := time.Unix(0, (bucket+1)*int64(window))
	return count, windowEnd.Sub(now), nil
}
