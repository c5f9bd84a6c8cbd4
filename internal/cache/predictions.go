package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// PredictionCache 预测结果缓存
// 同一检查点、同一解码参数、同一测试集的解码结果是确定的，可以安全复用
type PredictionCache struct {
	cache Cache
	ttl   time.Duration
}

// NewPredictionCache 创建预测结果缓存
func NewPredictionCache(cache Cache, ttl time.Duration) *PredictionCache {
	return &PredictionCache{cache: cache, ttl: ttl}
}

// PredictionKey 由检查点名、解码参数指纹和测试集指纹生成缓存键
func PredictionKey(checkpoint, decodeFingerprint, splitFingerprint string) string {
	h := sha256.New()
	h.Write([]byte(strings.Join([]string{checkpoint, decodeFingerprint, splitFingerprint}, "|")))
	return "predictions:" + hex.EncodeToString(h.Sum(nil))
}

// Get 查询缓存的预测结果
// 未命中时返回(nil, false, nil)，缓存内容损坏视为未命中
func (p *PredictionCache) Get(ctx context.Context, key string) ([]string, bool, error) {
	raw, found, err := p.cache.Get(ctx, key)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read prediction cache: %w", err)
	}
	if !found {
		return nil, false, nil
	}

	var predictions []string
	if err := json.Unmarshal([]byte(raw), &predictions); err != nil {
		return nil, false, nil
	}
	return predictions, true, nil
}

// Set 写入预测结果
func (p *PredictionCache) Set(ctx context.Context, key string, predictions []string) error {
	raw, err := json.Marshal(predictions)
	if err != nil {
		return fmt.Errorf("failed to encode predictions: %w", err)
	}

	if err := p.cache.Set(ctx, key, string(raw), p.ttl); err != nil {
		return fmt.Errorf("failed to write prediction cache: %w", err)
	}
	return nil
}
