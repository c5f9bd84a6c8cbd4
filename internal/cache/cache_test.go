package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMemoryCache 测试内存缓存的基本操作
func TestMemoryCache(t *testing.T) {
	ctx := context.Background()
	c, err := NewMemoryCache(DefaultConfig())
	require.NoError(t, err)

	t.Run("set and get", func(t *testing.T) {
		require.NoError(t, c.Set(ctx, "key1", "value1", 0))

		value, found, err := c.Get(ctx, "key1")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, "value1", value)
	})

	t.Run("missing key", func(t *testing.T) {
		_, found, err := c.Get(ctx, "no-such-key")
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, c.Set(ctx, "key2", "value2", 0))
		require.NoError(t, c.Delete(ctx, "key2"))

		_, found, err := c.Get(ctx, "key2")
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("expiration", func(t *testing.T) {
		require.NoError(t, c.Set(ctx, "key3", "value3", 10*time.Millisecond))
		time.Sleep(30 * time.Millisecond)

		_, found, err := c.Get(ctx, "key3")
		require.NoError(t, err)
		assert.False(t, found, "过期后不应该命中")
	})

	t.Run("clear", func(t *testing.T) {
		require.NoError(t, c.Set(ctx, "key4", "value4", 0))
		require.NoError(t, c.Clear(ctx))

		_, found, err := c.Get(ctx, "key4")
		require.NoError(t, err)
		assert.False(t, found)
	})
}

// TestRedisCache 测试Redis缓存的基本操作
func TestRedisCache(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := DefaultConfig()
	cfg.Type = "redis"
	cfg.RedisAddr = mr.Addr()

	ctx := context.Background()
	c, err := NewCache(cfg)
	require.NoError(t, err)

	require.NoError(t, c.Set(ctx, "key1", "value1", time.Minute))

	value, found, err := c.Get(ctx, "key1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "value1", value)

	_, found, err = c.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, c.Delete(ctx, "key1"))
	_, found, err = c.Get(ctx, "key1")
	require.NoError(t, err)
	assert.False(t, found)
}

// TestNewCacheFallsBackToMemory 测试未知类型回退到内存缓存
func TestNewCacheFallsBackToMemory(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Type = "unknown"

	c, err := NewCache(cfg)
	require.NoError(t, err)
	assert.IsType(t, &MemoryCache{}, c)
}

// TestPredictionCache 测试预测结果缓存的读写
func TestPredictionCache(t *testing.T) {
	ctx := context.Background()
	backend, err := NewMemoryCache(DefaultConfig())
	require.NoError(t, err)

	pc := NewPredictionCache(backend, time.Hour)
	key := PredictionKey("model.2000.bin", "beam=5,maxlen=64,alpha=0.6", "split-abc")

	_, found, err := pc.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, found, "首次查询不应该命中")

	preds := []string{"summary one", "summary two"}
	require.NoError(t, pc.Set(ctx, key, preds))

	got, found, err := pc.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, preds, got)
}

// TestPredictionKeyDiffers 测试不同参数生成不同缓存键
func TestPredictionKeyDiffers(t *testing.T) {
	base := PredictionKey("model.2000.bin", "beam=5", "split-abc")
	assert.NotEqual(t, base, PredictionKey("model.3000.bin", "beam=5", "split-abc"))
	assert.NotEqual(t, base, PredictionKey("model.2000.bin", "beam=3", "split-abc"))
	assert.NotEqual(t, base, PredictionKey("model.2000.bin", "beam=5", "split-def"))
	assert.Equal(t, base, PredictionKey("model.2000.bin", "beam=5", "split-abc"), "相同参数的键应该稳定")
}

// TestPredictionCacheCorruptEntry 测试损坏的缓存内容视为未命中
func TestPredictionCacheCorruptEntry(t *testing.T) {
	ctx := context.Background()
	backend, err := NewMemoryCache(DefaultConfig())
	require.NoError(t, err)

	key := PredictionKey("model.1.bin", "beam=1", "split")
	require.NoError(t, backend.Set(ctx, key, "{not json array", 0))

	_, found, err := NewPredictionCache(backend, time.Hour).Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, found)
}
