package decoding

import "fmt"

// Config 解码参数
type Config struct {
	BeamSize        int     // 每个样本保留的候选序列数
	MaxTargetLen    int     // 生成序列的最大token数（不含EOS）
	BatchSize       int     // 每个解码会话处理的样本数
	LengthAlpha     float64 // 长度归一化指数
	ForbiddenTokens []int   // 禁止作为首个生成token的id集合
}

// DefaultConfig 返回默认解码参数
func DefaultConfig() Config {
	return Config{
		BeamSize:     5,
		MaxTargetLen: 64,
		BatchSize:    16,
		LengthAlpha:  0.6,
	}
}

// Validate 校验解码参数
func (c Config) Validate() error {
	if c.BeamSize <= 0 {
		return fmt.Errorf("beam size must be positive, got %d", c.BeamSize)
	}

	if c.MaxTargetLen <= 0 {
		return fmt.Errorf("max target length must be positive, got %d", c.MaxTargetLen)
	}

	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", c.BatchSize)
	}

	if c.LengthAlpha < 0 {
		return fmt.Errorf("length alpha must be non-negative, got %f", c.LengthAlpha)
	}

	return nil
}
