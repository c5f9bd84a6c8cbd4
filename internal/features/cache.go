package features

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fyerfyer/text-sum-system/internal/dataset"
	"github.com/sirupsen/logrus"
)

// cacheEnvelope 特征缓存文件的落盘结构
// 头部携带缓存键，加载时校验数据集内容和配置是否匹配
type cacheEnvelope struct {
	Key     string          `json:"key"`     // 缓存键（内容+配置指纹）
	Records []FeatureRecord `json:"records"` // 特征记录列表
}

// cacheKey 派生划分的缓存键
// 由划分内容指纹、序列长度配置和构建模式共同决定，
// 任一变化都会产生不同的键
func cacheKey(split *dataset.Split, cfg Config, mode Mode) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%d|%d|%d|%s", split.Fingerprint(),
		cfg.MaxSourceLen, cfg.MaxTargetLen, cfg.MaxSeqLen, mode)
	return hex.EncodeToString(h.Sum(nil))
}

// readCache 尝试读取缓存文件
// 文件不存在返回ok=false；存在但无法反序列化返回ErrCacheCorrupt；
// 键不匹配时记录警告并返回ok=false，由调用方重建后覆盖写入
func readCache(path, key string, logger *logrus.Logger) ([]FeatureRecord, bool, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read feature cache: %v", err)
	}

	var envelope cacheEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, false, fmt.Errorf("%w: %s: %v", ErrCacheCorrupt, path, err)
	}
	if envelope.Key == "" || envelope.Records == nil {
		return nil, false, fmt.Errorf("%w: %s: missing header", ErrCacheCorrupt, path)
	}

	if envelope.Key != key {
		logger.WithFields(logrus.Fields{
			"cache_file": path,
			"expected":   key[:12],
			"found":      envelope.Key[:12],
		}).Warn("Feature cache key mismatch, rebuilding features")
		return nil, false, nil
	}

	return envelope.Records, true, nil
}

// writeCache 将特征记录连同缓存键写入文件
func writeCache(path, key string, records []FeatureRecord) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create cache directory: %v", err)
		}
	}

	data, err := json.Marshal(cacheEnvelope{Key: key, Records: records})
	if err != nil {
		return fmt.Errorf("failed to marshal feature cache: %v", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write feature cache: %v", err)
	}

	return nil
}
