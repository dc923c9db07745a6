package repository

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestRedisCounterIncr(t *testing.T) {
	repo := NewRedisCounterRepository(newTestRedis(t))
	ctx := context.Background()

	count, ttl, err := repo.Incr(ctx, "events:tenant-a", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, time.Minute)

	count, _, err = repo.Incr(ctx, "events:tenant-a", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestRedisCounterKeysIndependent(t *testing.T) {
	repo := NewRedisCounterRepository(newTestRedis(t))
	ctx := context.Background()

	_, _, err := repo.Incr(ctx, "events:tenant-a", time.Minute)
	require.NoError(t, err)

	count, _, err := repo.Incr(ctx, "events:tenant-b", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestRedisCounterStorageError(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	mr.Close()

	repo := NewRedisCounterRepository(client)
	_, _, err = repo.Incr(context.Background(), "events:tenant-a", time.Minute)
	assert.Error(t, err)
}

func TestMemoryCounterIncr(t *testing.T) {
	repo := NewMemoryCounterRepository()
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		count, ttl, err := repo.Incr(ctx, "acb:tenant-a", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, want, count)
		assert.Greater(t, ttl, time.Duration(0))
	}

	count, _, err := repo.Incr(ctx, "acb:tenant-b", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}
