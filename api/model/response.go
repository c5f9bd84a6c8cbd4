package model

import "time"

// Response 通用响应结构
type Response struct {
	Code    int         `json:"code"`               // 响应状态码，0表示成功
	Message string      `json:"message"`            // 响应消息
	Data    interface{} `json:"data,omitempty"`     // 响应数据，可能为空
	TraceID string      `json:"trace_id,omitempty"` // 调用链追踪ID
}

// NewSuccessResponse 创建成功响应
func NewSuccessResponse(data interface{}) *Response {
	return &Response{
		Code:    0,
		Message: "success",
		Data:    data,
	}
}

// NewErrorResponse 创建错误响应
func NewErrorResponse(code int, message string) *Response {
	return &Response{
		Code:    code,
		Message: message,
	}
}

// JobSubmitResponse 任务创建响应
type JobSubmitResponse struct {
	JobID  string `json:"job_id"`            // 微调任务ID
	Status string `json:"status"`            // 任务状态
	TaskID string `json:"task_id,omitempty"` // 队列任务ID（异步模式下返回）
}

// JobStatusResponse 任务状态查询响应
type JobStatusResponse struct {
	JobID      string `json:"job_id"`                // 任务ID
	ModelName  string `json:"model_name"`            // 预训练模型名称
	Status     string `json:"status"`                // 任务状态：created、running、completed、failed
	Stage      string `json:"stage,omitempty"`       // 当前流水线阶段
	Progress   int    `json:"progress"`              // 进度（0-100）
	GlobalStep int    `json:"global_step"`           // 已完成的优化步数
	MaxSteps   int    `json:"max_steps"`             // 目标优化步数
	TrainSize  int    `json:"train_size,omitempty"`  // 训练集样本数
	TestSize   int    `json:"test_size,omitempty"`   // 测试集样本数
	Error      string `json:"error,omitempty"`       // 错误信息（如果有）
	CreatedAt  string `json:"created_at"`            // 创建时间
	StartedAt  string `json:"started_at,omitempty"`  // 开始执行时间
	FinishedAt string `json:"finished_at,omitempty"` // 完成时间
	UpdatedAt  string `json:"updated_at"`            // 更新时间
}

// JobInfo 任务摘要信息
type JobInfo struct {
	JobID     string    `json:"job_id"`     // 任务ID
	ModelName string    `json:"model_name"` // 预训练模型名称
	Status    string    `json:"status"`     // 任务状态
	Stage     string    `json:"stage"`      // 当前流水线阶段
	Progress  int       `json:"progress"`   // 进度（0-100）
	CreatedAt time.Time `json:"created_at"` // 创建时间
}

// JobListResponse 任务列表响应
type JobListResponse struct {
	Total    int64     `json:"total"`     // 总数量
	Page     int       `json:"page"`      // 当前页码
	PageSize int       `json:"page_size"` // 每页大小
	Jobs     []JobInfo `json:"jobs"`      // 任务列表
}

// JobDeleteResponse 任务删除响应
type JobDeleteResponse struct {
	Success bool   `json:"success"` // 是否成功
	JobID   string `json:"job_id"`  // 任务ID
}

// CheckpointInfo 检查点信息
type CheckpointInfo struct {
	FileName  string    `json:"filename"`   // 检查点文件名
	Step      int       `json:"step"`       // 对应的优化步数
	Size      int64     `json:"size"`       // 文件大小（字节）
	Final     bool      `json:"final"`      // 是否为最终检查点
	CreatedAt time.Time `json:"created_at"` // 落盘时间
}

// CheckpointListResponse 检查点列表响应
type CheckpointListResponse struct {
	JobID       string           `json:"job_id"`      // 任务ID
	Checkpoints []CheckpointInfo `json:"checkpoints"` // 检查点列表，按步数升序
}

// PredictionsResponse 预测结果响应
type PredictionsResponse struct {
	JobID       string   `json:"job_id"`      // 任务ID
	Count       int      `json:"count"`       // 预测条数
	Predictions []string `json:"predictions"` // 预测摘要，与测试集顺序一致
}

// ScoreDetail 单个指标的详细得分
type ScoreDetail struct {
	F float64 `json:"f"` // F值
	P float64 `json:"p"` // 精确率
	R float64 `json:"r"` // 召回率
}

// ScoresResponse 评估得分响应
type ScoresResponse struct {
	JobID   string                 `json:"job_id,omitempty"` // 任务ID
	Samples int                    `json:"samples"`          // 参与评估的样本数
	Scores  map[string]ScoreDetail `json:"scores"`           // 各指标得分：rouge-1、rouge-2、rouge-l
}

// TaskStatusResponse 队列任务状态响应
type TaskStatusResponse struct {
	TaskID      string      `json:"task_id"`                // 队列任务ID
	JobID       string      `json:"job_id"`                 // 关联的微调任务ID
	Type        string      `json:"type"`                   // 任务类型
	Status      string      `json:"status"`                 // 任务状态
	Error       string      `json:"error,omitempty"`        // 错误信息（如果有）
	Result      interface{} `json:"result,omitempty"`       // 任务结果
	CreatedAt   time.Time   `json:"created_at"`             // 创建时间
	StartedAt   *time.Time  `json:"started_at,omitempty"`   // 开始处理时间
	CompletedAt *time.Time  `json:"completed_at,omitempty"` // 完成时间
}
