package taskqueue

import (
	"encoding/json"
	"time"
)

// TaskType 任务类型
type TaskType string

const (
	// TaskFineTune 完整微调流水线任务
	TaskFineTune TaskType = "finetune"
	// TaskPredict 从检查点解码预测任务
	TaskPredict TaskType = "predict"
	// TaskEvaluate 评估任务
	TaskEvaluate TaskType = "evaluate"
)

// TaskStatus 任务状态
type TaskStatus string

const (
	// StatusPending 等待处理
	StatusPending TaskStatus = "pending"
	// StatusProcessing 处理中
	StatusProcessing TaskStatus = "processing"
	// StatusCompleted 已完成
	StatusCompleted TaskStatus = "completed"
	// StatusFailed 处理失败
	StatusFailed TaskStatus = "failed"
)

// Task 任务基础结构
type Task struct {
	ID          string          `json:"id"`           // 任务唯一标识符
	Type        TaskType        `json:"type"`         // 任务类型
	JobID       string          `json:"job_id"`       // 关联的微调任务ID
	Status      TaskStatus      `json:"status"`       // 任务状态
	Payload     json.RawMessage `json:"payload"`      // 任务载荷数据，不同任务类型对应不同结构
	Result      json.RawMessage `json:"result"`       // 任务结果数据，不同任务类型对应不同结构
	Error       string          `json:"error"`        // 错误信息（如果处理失败）
	CreatedAt   time.Time       `json:"created_at"`   // 创建时间
	UpdatedAt   time.Time       `json:"updated_at"`   // 更新时间
	StartedAt   *time.Time      `json:"started_at"`   // 开始处理时间
	CompletedAt *time.Time      `json:"completed_at"` // 完成时间
	Attempts    int             `json:"attempts"`     // 尝试次数
	MaxRetries  int             `json:"max_retries"`  // 最大重试次数
}

// FineTunePayload 完整微调流水线任务载荷
type FineTunePayload struct {
	JobID       string  `json:"job_id"`        // 微调任务ID
	ModelName   string  `json:"model_name"`    // 预训练模型名称
	DatasetPath string  `json:"dataset_path"`  // 数据集本地路径
	TopN        int     `json:"top_n"`         // 每个数据切分保留的样本数，0表示全量
	MaxSteps    int     `json:"max_steps"`     // 目标优化步数
	BeamSize    int     `json:"beam_size"`     // 束宽
	LearnRate   float64 `json:"learning_rate"` // 基础学习率
	WarmupSteps int     `json:"warmup_steps"`  // 预热步数
	Fp16        bool    `json:"fp16"`          // 是否使用混合精度
	DeviceCount int     `json:"device_count"`  // 数据并行设备数
}

// FineTuneResult 完整微调流水线任务结果
type FineTuneResult struct {
	JobID       string             `json:"job_id"`      // 微调任务ID
	GlobalStep  int                `json:"global_step"` // 完成的优化步数
	Checkpoints []string           `json:"checkpoints"` // 落盘的检查点文件名
	Predictions int                `json:"predictions"` // 生成的预测条数
	Scores      map[string]float64 `json:"scores"`      // 各指标的F值
	Error       string             `json:"error"`       // 错误信息（如果有）
}

// PredictPayload 解码预测任务载荷
type PredictPayload struct {
	JobID      string `json:"job_id"`     // 微调任务ID
	Checkpoint string `json:"checkpoint"` // 检查点文件名，空表示最新
	BeamSize   int    `json:"beam_size"`  // 束宽
	OutputPath string `json:"output_path"` // 预测输出文件路径
}

// PredictResult 解码预测任务结果
type PredictResult struct {
	JobID       string `json:"job_id"`      // 微调任务ID
	Checkpoint  string `json:"checkpoint"`  // 使用的检查点
	Predictions int    `json:"predictions"` // 预测条数
	OutputPath  string `json:"output_path"` // 预测输出文件路径
	FromCache   bool   `json:"from_cache"`  // 是否命中预测缓存
	Error       string `json:"error"`       // 错误信息（如果有）
}

// EvaluatePayload 评估任务载荷
type EvaluatePayload struct {
	JobID      string   `json:"job_id"`     // 微调任务ID
	Candidates []string `json:"candidates"` // 候选摘要，空表示使用任务的预测输出
	References []string `json:"references"` // 参考摘要，空表示使用测试集目标
}

// EvaluateResult 评估任务结果
type EvaluateResult struct {
	JobID   string                        `json:"job_id"`  // 微调任务ID
	Samples int                           `json:"samples"` // 参与评估的样本数
	Scores  map[string]map[string]float64 `json:"scores"`  // 指标 -> {f, p, r}
	Error   string                        `json:"error"`   // 错误信息（如果有）
}
