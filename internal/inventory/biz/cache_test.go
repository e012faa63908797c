package biz

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 辅助函数：基于 miniredis 创建测试缓存
func setupTestCache(t *testing.T) (*QueryCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewQueryCache(client, &QueryCacheConfig{
		Enabled:   true,
		TTL:       time.Hour,
		KeyPrefix: "test:answer:",
	}), mr
}

func TestNewQueryCache_WithNilConfig(t *testing.T) {
	cache := NewQueryCache(nil, nil)
	require.NotNil(t, cache)
	assert.False(t, cache.config.Enabled)
	assert.Equal(t, "inventory:answer:", cache.config.KeyPrefix)

	// 未启用时所有操作均为空操作
	cached, err := cache.Get(context.Background(), "t1", "q")
	assert.NoError(t, err)
	assert.Nil(t, cached)
	assert.NoError(t, cache.Set(context.Background(), "t1", "q", "a"))
}

func TestQueryCache_NilReceiver(t *testing.T) {
	var cache *QueryCache
	cached, err := cache.Get(context.Background(), "t1", "q")
	assert.NoError(t, err)
	assert.Nil(t, cached)
	n, err := cache.InvalidateTenant(context.Background(), "t1")
	assert.NoError(t, err)
	assert.Zero(t, n)
}

func TestQueryCache_SetAndGet(t *testing.T) {
	cache, mr := setupTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "t1", "How much is Cheddar?", "$4"))

	cached, err := cache.Get(ctx, "t1", "  how much   is cheddar? ")
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, "$4", cached.Answer)

	// 租户隔离
	cached, err = cache.Get(ctx, "t2", "How much is Cheddar?")
	require.NoError(t, err)
	assert.Nil(t, cached)

	// TTL 生效
	key := cache.cacheKey("t1", "How much is Cheddar?")
	assert.Equal(t, time.Hour, mr.TTL(key))
	mr.FastForward(2 * time.Hour)
	cached, err = cache.Get(ctx, "t1", "How much is Cheddar?")
	require.NoError(t, err)
	assert.Nil(t, cached)
}

func TestQueryCache_CorruptedEntry(t *testing.T) {
	cache, mr := setupTestCache(t)
	key := cache.cacheKey("t1", "q")
	require.NoError(t, mr.Set(key, "not json"))

	cached, err := cache.Get(context.Background(), "t1", "q")
	assert.Error(t, err)
	assert.Nil(t, cached)
	assert.False(t, mr.Exists(key))
}

func TestQueryCache_InvalidateTenant(t *testing.T) {
	cache, mr := setupTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "t1", "q1", "a1"))
	require.NoError(t, cache.Set(ctx, "t1", "q2", "a2"))
	require.NoError(t, cache.Set(ctx, "t2", "q1", "b1"))

	n, err := cache.InvalidateTenant(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.False(t, mr.Exists(cache.cacheKey("t1", "q1")))
	assert.True(t, mr.Exists(cache.cacheKey("t2", "q1")))
}
