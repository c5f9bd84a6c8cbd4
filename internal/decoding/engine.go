package decoding

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fyerfyer/text-sum-system/internal/features"
	"github.com/fyerfyer/text-sum-system/internal/runtime"
	"github.com/sirupsen/logrus"
)

// DecodeRuntime 解码所需的模型运行时能力
type DecodeRuntime interface {
	SpecialTokens(ctx context.Context) (*runtime.SpecialTokens, error)
	StartDecodeSession(ctx context.Context, sourceIDs, sourceMask [][]int) (string, error)
	NextLogProbs(ctx context.Context, sessionID string, exampleIdx []int, prefixes [][]int, topK int) ([][]runtime.TokenLogProb, error)
	CloseDecodeSession(ctx context.Context, sessionID string) error
	DetokenizeBatch(ctx context.Context, tokenIDs [][]int) ([]string, error)
}

// Engine 解码引擎
// 将推理特征按批次送入运行时解码会话，束搜索生成摘要后还原为文本
type Engine struct {
	rt     DecodeRuntime
	config Config
	logger *logrus.Logger
}

// EngineOption 解码引擎配置选项
type EngineOption func(*Engine)

// WithEngineLogger 设置解码引擎的日志记录器
func WithEngineLogger(logger *logrus.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}

// NewEngine 创建解码引擎实例
func NewEngine(rt DecodeRuntime, config Config, opts ...EngineOption) (*Engine, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		rt:     rt,
		config: config,
		logger: logrus.New(),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e, nil
}

// sessionScorer 绑定解码会话的打分器
type sessionScorer struct {
	rt        DecodeRuntime
	sessionID string
}

func (s *sessionScorer) NextLogProbs(ctx context.Context, exampleIdx []int, prefixes [][]int, topK int) ([][]runtime.TokenLogProb, error) {
	return s.rt.NextLogProbs(ctx, s.sessionID, exampleIdx, prefixes, topK)
}

// Predict 为每条推理特征生成一条摘要文本
// 输出与输入同序、等长
func (e *Engine) Predict(ctx context.Context, records []features.FeatureRecord) ([]string, error) {
	if len(records) == 0 {
		return []string{}, nil
	}

	tokens, err := e.rt.SpecialTokens(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch special tokens: %w", err)
	}

	e.logger.WithFields(logrus.Fields{
		"records":    len(records),
		"beam_size":  e.config.BeamSize,
		"batch_size": e.config.BatchSize,
	}).Info("Starting decoding")

	predictions := make([]string, 0, len(records))
	for start := 0; start < len(records); start += e.config.BatchSize {
		end := start + e.config.BatchSize
		if end > len(records) {
			end = len(records)
		}

		texts, err := e.decodeBatch(ctx, records[start:end], tokens.Eos)
		if err != nil {
			return nil, fmt.Errorf("failed to decode batch [%d:%d]: %w", start, end, err)
		}
		predictions = append(predictions, texts...)
	}

	return predictions, nil
}

// decodeBatch 在一个解码会话内处理一批样本
func (e *Engine) decodeBatch(ctx context.Context, batch []features.FeatureRecord, eosToken int) ([]string, error) {
	sourceIDs := make([][]int, len(batch))
	sourceMask := make([][]int, len(batch))
	for i, rec := range batch {
		sourceIDs[i] = rec.SourceIDs
		sourceMask[i] = rec.SourceMask
	}

	sessionID, err := e.rt.StartDecodeSession(ctx, sourceIDs, sourceMask)
	if err != nil {
		return nil, fmt.Errorf("failed to start decode session: %w", err)
	}
	defer func() {
		if err := e.rt.CloseDecodeSession(ctx, sessionID); err != nil {
			e.logger.WithError(err).WithField("session_id", sessionID).
				Warn("Failed to close decode session")
		}
	}()

	outputs, err := beamSearch(ctx, &sessionScorer{rt: e.rt, sessionID: sessionID}, len(batch), eosToken, e.config)
	if err != nil {
		return nil, err
	}

	texts, err := e.rt.DetokenizeBatch(ctx, outputs)
	if err != nil {
		return nil, fmt.Errorf("failed to detokenize predictions: %w", err)
	}
	if len(texts) != len(batch) {
		return nil, fmt.Errorf("detokenizer returned %d texts for %d examples", len(texts), len(batch))
	}

	return texts, nil
}

// SavePredictions 将预测结果写入输出文件
// 每条预测一行，UTF-8编码，按测试集顺序
func SavePredictions(path string, predictions []string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, pred := range predictions {
		// 预测文本内的换行会破坏一行一条的格式
		line := strings.ReplaceAll(pred, "\n", " ")
		if _, err := w.WriteString(line + "\n"); err != nil {
			return fmt.Errorf("failed to write prediction: %w", err)
		}
	}

	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to flush output file: %w", err)
	}

	return f.Sync()
}
