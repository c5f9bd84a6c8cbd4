package runtime

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
)

// ModelClient 是模型运行时服务的领域客户端
// 封装分词、训练步、解码打分和参数快照等模型侧操作，
// 模型结构、梯度计算和优化器数学都在服务端完成
type ModelClient struct {
	client Client
}

// NewModelClient 创建一个新的模型客户端
func NewModelClient(client Client) *ModelClient {
	return &ModelClient{
		client: client,
	}
}

// SpecialTokens 模型词表中的特殊token
type SpecialTokens struct {
	Pad       int `json:"pad"`        // 填充token
	Bos       int `json:"bos"`        // 序列起始token
	Eos       int `json:"eos"`        // 序列结束token
	Unk       int `json:"unk"`        // 未知token
	VocabSize int `json:"vocab_size"` // 词表大小
}

// LoadPretrainedRequest 加载预训练模型请求
type LoadPretrainedRequest struct {
	Model string `json:"model"` // 预训练模型名称
}

// LoadPretrainedResponse 加载预训练模型响应
type LoadPretrainedResponse struct {
	Success   bool   `json:"success"`
	Model     string `json:"model"`
	NumParams int64  `json:"num_params"`
}

// TokenizeRequest 批量分词请求
type TokenizeRequest struct {
	Texts []string `json:"texts"`
}

// TokenizeResponse 批量分词响应
type TokenizeResponse struct {
	Success  bool    `json:"success"`
	TokenIDs [][]int `json:"token_ids"`
}

// DetokenizeRequest 批量反分词请求
type DetokenizeRequest struct {
	TokenIDs [][]int `json:"token_ids"`
}

// DetokenizeResponse 批量反分词响应
type DetokenizeResponse struct {
	Success bool     `json:"success"`
	Texts   []string `json:"texts"`
}

// MicroBatch 一个微批次的训练输入
type MicroBatch struct {
	Device      int     `json:"device"`       // 目标设备编号
	SourceIDs   [][]int `json:"source_ids"`   // 源序列token id
	TargetIDs   [][]int `json:"target_ids"`   // 目标序列token id
	SourceMask  [][]int `json:"source_mask"`  // 源序列有效位掩码
	SegmentIDs  [][]int `json:"segment_ids"`  // 片段id（源/目标区分）
	PositionIDs [][]int `json:"position_ids"` // 位置id
}

// TrainStepRequest 训练步请求
// Apply为false时只累积梯度，为true时累积后执行参数更新
type TrainStepRequest struct {
	Batches        []MicroBatch `json:"batches"`         // 各设备的微批次
	LearningRate   float64      `json:"learning_rate"`   // 本步学习率
	LossScale      float64      `json:"loss_scale"`      // 梯度累积的损失缩放（1/accum_steps）
	Apply          bool         `json:"apply"`           // 是否执行参数更新
	MixedPrecision bool         `json:"mixed_precision"` // 是否使用混合精度
}

// TrainStepResponse 训练步响应
type TrainStepResponse struct {
	Success  bool    `json:"success"`
	Loss     float64 `json:"loss"`      // 本次前向的平均损失
	GradNorm float64 `json:"grad_norm"` // 梯度范数（仅Apply时有意义）
	Step     int     `json:"step"`      // 服务端已完成的优化步数
}

// DecodeSessionRequest 解码会话创建请求
// 会话持有编码后的源序列，后续按前缀查询下一token的对数概率
type DecodeSessionRequest struct {
	SourceIDs  [][]int `json:"source_ids"`  // 源序列token id
	SourceMask [][]int `json:"source_mask"` // 源序列有效位掩码
}

// DecodeSessionResponse 解码会话创建响应
type DecodeSessionResponse struct {
	Success   bool   `json:"success"`
	SessionID string `json:"session_id"`
}

// TokenLogProb 一个候选token及其对数概率
type TokenLogProb struct {
	Token   int     `json:"token"`    // token id
	LogProb float64 `json:"log_prob"` // 对数概率
}

// LogProbsRequest 下一token对数概率查询请求
type LogProbsRequest struct {
	SessionID  string  `json:"session_id"`  // 解码会话ID
	ExampleIdx []int   `json:"example_idx"` // 每个前缀对应的源序列下标
	Prefixes   [][]int `json:"prefixes"`    // 已生成的目标前缀
	TopK       int     `json:"top_k"`       // 每个前缀返回的候选数
}

// LogProbsResponse 下一token对数概率查询响应
// 每个前缀一行，候选按对数概率降序排列
type LogProbsResponse struct {
	Success    bool             `json:"success"`
	Candidates [][]TokenLogProb `json:"candidates"`
}

// CloseSessionRequest 解码会话关闭请求
type CloseSessionRequest struct {
	SessionID string `json:"session_id"`
}

// StateResponse 参数快照导出响应
type StateResponse struct {
	Success bool   `json:"success"`
	State   string `json:"state"` // base64编码的参数快照
	Step    int    `json:"step"`  // 快照对应的优化步数
}

// LoadStateRequest 参数快照加载请求
type LoadStateRequest struct {
	State string `json:"state"` // base64编码的参数快照
	Model string `json:"model"` // 期望的模型名称，用于校验快照匹配
}

// LoadPretrained 让运行时加载指定的预训练模型
func (c *ModelClient) LoadPretrained(ctx context.Context, model string) error {
	if model == "" {
		return NewRuntimeError(ErrCodeInvalidRequest, "model name cannot be empty")
	}

	var resp LoadPretrainedResponse
	if err := c.client.Post(ctx, "/model/load_pretrained", LoadPretrainedRequest{Model: model}, &resp); err != nil {
		return fmt.Errorf("failed to load pretrained model: %w", err)
	}
	if !resp.Success {
		return NewRuntimeError(ErrCodeServerError, "runtime rejected pretrained model load")
	}
	return nil
}

// SpecialTokens 查询模型词表的特殊token
func (c *ModelClient) SpecialTokens(ctx context.Context) (*SpecialTokens, error) {
	var tokens SpecialTokens
	if err := c.client.Get(ctx, "/model/special_tokens", &tokens); err != nil {
		return nil, fmt.Errorf("failed to fetch special tokens: %w", err)
	}
	return &tokens, nil
}

// TokenizeBatch 批量将文本转换为token id序列
func (c *ModelClient) TokenizeBatch(ctx context.Context, texts []string) ([][]int, error) {
	if len(texts) == 0 {
		return [][]int{}, nil
	}

	var resp TokenizeResponse
	if err := c.client.Post(ctx, "/model/tokenize", TokenizeRequest{Texts: texts}, &resp); err != nil {
		return nil, fmt.Errorf("tokenize request failed: %w", err)
	}
	if len(resp.TokenIDs) != len(texts) {
		return nil, NewRuntimeError(ErrCodeServerError,
			fmt.Sprintf("tokenize returned %d sequences for %d texts", len(resp.TokenIDs), len(texts)))
	}
	return resp.TokenIDs, nil
}

// DetokenizeBatch 批量将token id序列还原为文本
func (c *ModelClient) DetokenizeBatch(ctx context.Context, tokenIDs [][]int) ([]string, error) {
	if len(tokenIDs) == 0 {
		return []string{}, nil
	}

	var resp DetokenizeResponse
	if err := c.client.Post(ctx, "/model/detokenize", DetokenizeRequest{TokenIDs: tokenIDs}, &resp); err != nil {
		return nil, fmt.Errorf("detokenize request failed: %w", err)
	}
	if len(resp.Texts) != len(tokenIDs) {
		return nil, NewRuntimeError(ErrCodeServerError,
			fmt.Sprintf("detokenize returned %d texts for %d sequences", len(resp.Texts), len(tokenIDs)))
	}
	return resp.Texts, nil
}

// TrainStep 执行一次训练前向/反向
// 服务端累积梯度；Apply为true时在累积后应用参数更新。
// 设备显存不足时返回ErrOutOfMemory，不会自动缩小批重试
func (c *ModelClient) TrainStep(ctx context.Context, req *TrainStepRequest) (*TrainStepResponse, error) {
	var resp TrainStepResponse
	if err := c.client.Post(ctx, "/train/step", req, &resp); err != nil {
		if isOOM(err) {
			return nil, fmt.Errorf("%w: reduce per-device batch size or enable mixed precision", ErrOutOfMemory)
		}
		return nil, fmt.Errorf("train step failed: %w", err)
	}
	return &resp, nil
}

// StartDecodeSession 创建解码会话
// 服务端对源序列做一次编码，返回会话ID供后续打分
func (c *ModelClient) StartDecodeSession(ctx context.Context, sourceIDs, sourceMask [][]int) (string, error) {
	var resp DecodeSessionResponse
	req := DecodeSessionRequest{SourceIDs: sourceIDs, SourceMask: sourceMask}
	if err := c.client.Post(ctx, "/decode/session", req, &resp); err != nil {
		if isOOM(err) {
			return "", fmt.Errorf("%w: reduce decode batch size", ErrOutOfMemory)
		}
		return "", fmt.Errorf("failed to start decode session: %w", err)
	}
	if resp.SessionID == "" {
		return "", NewRuntimeError(ErrCodeServerError, "runtime returned empty decode session id")
	}
	return resp.SessionID, nil
}

// NextLogProbs 查询给定前缀的下一token候选及对数概率
// 每个前缀返回topK个候选，按对数概率降序
func (c *ModelClient) NextLogProbs(ctx context.Context, sessionID string, exampleIdx []int, prefixes [][]int, topK int) ([][]TokenLogProb, error) {
	req := LogProbsRequest{
		SessionID:  sessionID,
		ExampleIdx: exampleIdx,
		Prefixes:   prefixes,
		TopK:       topK,
	}

	var resp LogProbsResponse
	if err := c.client.Post(ctx, "/decode/logprobs", req, &resp); err != nil {
		return nil, fmt.Errorf("logprobs request failed: %w", err)
	}
	if len(resp.Candidates) != len(prefixes) {
		return nil, NewRuntimeError(ErrCodeServerError,
			fmt.Sprintf("logprobs returned %d rows for %d prefixes", len(resp.Candidates), len(prefixes)))
	}
	return resp.Candidates, nil
}

// CloseDecodeSession 关闭解码会话，释放服务端资源
func (c *ModelClient) CloseDecodeSession(ctx context.Context, sessionID string) error {
	if err := c.client.Post(ctx, "/decode/close", CloseSessionRequest{SessionID: sessionID}, nil); err != nil {
		return fmt.Errorf("failed to close decode session: %w", err)
	}
	return nil
}

// ExportState 导出当前参数快照
// 返回不透明的序列化参数blob和对应的优化步数
func (c *ModelClient) ExportState(ctx context.Context) ([]byte, int, error) {
	var resp StateResponse
	if err := c.client.Get(ctx, "/model/state", &resp); err != nil {
		return nil, 0, fmt.Errorf("failed to export model state: %w", err)
	}

	blob, err := base64.StdEncoding.DecodeString(resp.State)
	if err != nil {
		return nil, 0, NewRuntimeError(ErrCodeServerError, "malformed state blob in runtime response")
	}
	return blob, resp.Step, nil
}

// LoadState 加载参数快照
// 模型名称不匹配时运行时会拒绝加载
func (c *ModelClient) LoadState(ctx context.Context, blob []byte, model string) error {
	req := LoadStateRequest{
		State: base64.StdEncoding.EncodeToString(blob),
		Model: model,
	}
	if err := c.client.Post(ctx, "/model/load_state", req, nil); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict {
			return NewRuntimeError(ErrCodeBadCheckpoint, apiErr.Detail)
		}
		return fmt.Errorf("failed to load model state: %w", err)
	}
	return nil
}

// isOOM 判断API错误是否为设备显存不足
// 运行时服务用507状态码标识显存耗尽
func isOOM(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusInsufficientStorage
}
