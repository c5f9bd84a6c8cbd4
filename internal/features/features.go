package features

import (
	"context"
	"fmt"

	"github.com/fyerfyer/text-sum-system/internal/dataset"
	"github.com/fyerfyer/text-sum-system/internal/runtime"
	"github.com/sirupsen/logrus"
)

// Mode 特征构建模式
type Mode string

const (
	// ModeTrain 训练模式，保留目标侧token
	ModeTrain Mode = "train"
	// ModeInference 推理模式，省略目标侧token
	ModeInference Mode = "inference"
)

// FeatureRecord 一条样本的定长特征记录
// 源序列和目标序列被确定性地截断/填充到配置的长度，
// 附带注意力掩码和片段位置元数据
type FeatureRecord struct {
	SourceIDs   []int `json:"source_ids"`           // 源序列token id，定长
	SourceMask  []int `json:"source_mask"`          // 源序列有效位掩码（1有效0填充）
	TargetIDs   []int `json:"target_ids,omitempty"` // 目标序列token id，仅训练模式
	TargetMask  []int `json:"target_mask,omitempty"`
	SegmentIDs  []int `json:"segment_ids"`  // 片段id：源0目标1
	PositionIDs []int `json:"position_ids"` // 位置id
}

// Tokenizer 分词能力接口
// 由模型运行时客户端实现
type Tokenizer interface {
	TokenizeBatch(ctx context.Context, texts []string) ([][]int, error)
	SpecialTokens(ctx context.Context) (*runtime.SpecialTokens, error)
}

// Config 特征构建配置
type Config struct {
	MaxSourceLen int // 源序列最大长度（含起止token）
	MaxTargetLen int // 目标序列最大长度（含起止token）
	MaxSeqLen    int // 源+目标的总长度上限
	BatchSize    int // 分词批大小
}

// DefaultConfig 返回默认特征构建配置
func DefaultConfig() Config {
	return Config{
		MaxSourceLen: 448,
		MaxTargetLen: 64,
		MaxSeqLen:    512,
		BatchSize:    64,
	}
}

// Validate 校验配置的合法性
func (c Config) Validate() error {
	if c.MaxSourceLen <= 2 {
		return fmt.Errorf("max source length must be greater than 2, got %d", c.MaxSourceLen)
	}
	if c.MaxTargetLen <= 2 {
		return fmt.Errorf("max target length must be greater than 2, got %d", c.MaxTargetLen)
	}
	if c.MaxSourceLen+c.MaxTargetLen > c.MaxSeqLen {
		return fmt.Errorf("combined sequence length %d exceeds max %d",
			c.MaxSourceLen+c.MaxTargetLen, c.MaxSeqLen)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", c.BatchSize)
	}
	return nil
}

// Builder 特征构建器
// 通过运行时分词器将数据划分转换为定长特征记录，并用文件缓存记忆化结果
type Builder struct {
	tokenizer Tokenizer
	config    Config
	logger    *logrus.Logger
}

// BuilderOption 构建器配置选项函数类型
type BuilderOption func(*Builder)

// WithBuilderLogger 设置日志记录器
func WithBuilderLogger(logger *logrus.Logger) BuilderOption {
	return func(b *Builder) {
		b.logger = logger
	}
}

// NewBuilder 创建特征构建器实例
func NewBuilder(tokenizer Tokenizer, config Config, opts ...BuilderOption) (*Builder, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	b := &Builder{
		tokenizer: tokenizer,
		config:    config,
		logger:    logrus.New(),
	}

	for _, opt := range opts {
		opt(b)
	}

	return b, nil
}

// Build 将划分转换为特征记录列表，结果记忆化到cacheFile
// 缓存文件存在且键匹配时直接返回其内容，不再重新分词；
// 文件缺失或键不匹配时重新分词并覆盖写入。
// 已存在但无法反序列化的缓存返回ErrCacheCorrupt，调用方需删除后重跑
func (b *Builder) Build(ctx context.Context, split *dataset.Split, cacheFile string, mode Mode) ([]FeatureRecord, error) {
	key := cacheKey(split, b.config, mode)

	// 缓存命中时跳过重新计算
	if records, ok, err := readCache(cacheFile, key, b.logger); err != nil {
		return nil, err
	} else if ok {
		b.logger.WithFields(logrus.Fields{
			"cache_file": cacheFile,
			"records":    len(records),
		}).Info("Feature cache hit")
		return records, nil
	}

	records, err := b.convert(ctx, split, mode)
	if err != nil {
		return nil, err
	}

	if err := writeCache(cacheFile, key, records); err != nil {
		return nil, err
	}

	b.logger.WithFields(logrus.Fields{
		"cache_file": cacheFile,
		"records":    len(records),
		"mode":       mode,
	}).Info("Feature cache built")

	return records, nil
}

// convert 对划分中的全部样本执行分词和定长化
func (b *Builder) convert(ctx context.Context, split *dataset.Split, mode Mode) ([]FeatureRecord, error) {
	special, err := b.tokenizer.SpecialTokens(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch special tokens: %w", err)
	}

	records := make([]FeatureRecord, 0, split.Len())

	// 按批分词，避免单次请求过大
	for start := 0; start < split.Len(); start += b.config.BatchSize {
		end := start + b.config.BatchSize
		if end > split.Len() {
			end = split.Len()
		}
		batch := split.Examples[start:end]

		sources := make([]string, len(batch))
		targets := make([]string, len(batch))
		for i, ex := range batch {
			sources[i] = ex.Source
			targets[i] = ex.Target
		}

		sourceIDs, err := b.tokenizer.TokenizeBatch(ctx, sources)
		if err != nil {
			return nil, fmt.Errorf("failed to tokenize sources: %w", err)
		}

		var targetIDs [][]int
		if mode == ModeTrain {
			targetIDs, err = b.tokenizer.TokenizeBatch(ctx, targets)
			if err != nil {
				return nil, fmt.Errorf("failed to tokenize targets: %w", err)
			}
		}

		for i := range batch {
			record := b.makeRecord(sourceIDs[i], special)
			if mode == ModeTrain {
				record.TargetIDs, record.TargetMask = fitSequence(targetIDs[i], b.config.MaxTargetLen, special)
			}
			records = append(records, record)
		}
	}

	return records, nil
}

// makeRecord 构造源侧定长特征
func (b *Builder) makeRecord(sourceIDs []int, special *runtime.SpecialTokens) FeatureRecord {
	ids, mask := fitSequence(sourceIDs, b.config.MaxSourceLen, special)

	segments := make([]int, len(ids))
	positions := make([]int, len(ids))
	for i := range ids {
		positions[i] = i
	}

	return FeatureRecord{
		SourceIDs:   ids,
		SourceMask:  mask,
		SegmentIDs:  segments,
		PositionIDs: positions,
	}
}

// fitSequence 将token序列确定性地截断/填充到定长
// 输出形如 BOS ... EOS PAD PAD，截断时保留前部token
func fitSequence(ids []int, maxLen int, special *runtime.SpecialTokens) ([]int, []int) {
	// 预留起止token的位置
	body := ids
	if len(body) > maxLen-2 {
		body = body[:maxLen-2]
	}

	out := make([]int, 0, maxLen)
	out = append(out, special.Bos)
	out = append(out, body...)
	out = append(out, special.Eos)

	mask := make([]int, maxLen)
	for i := 0; i < len(out); i++ {
		mask[i] = 1
	}

	for len(out) < maxLen {
		out = append(out, special.Pad)
	}

	return out, mask
}
