package model

import "time"

// 分页请求参数
type PaginationRequest struct {
	Page     int `form:"page" json:"page" binding:"omitempty,min=1"`           // 当前页码，从1开始
	PageSize int `form:"page_size" json:"page_size" binding:"omitempty,min=1"` // 每页记录数
}

// GetPage 获取页码，默认为1
func (p *PaginationRequest) GetPage() int {
	if p.Page <= 0 {
		return 1
	}
	return p.Page
}

// GetPageSize 获取每页记录数，默认为10，最大为100
func (p *PaginationRequest) GetPageSize() int {
	if p.PageSize <= 0 {
		return 10
	}
	if p.PageSize > 100 {
		return 100
	}
	return p.PageSize
}

// FineTuneRequest 微调任务创建请求
// 未填写的参数使用服务端默认值
type FineTuneRequest struct {
	ModelName       string  `json:"model_name" binding:"required"`                  // 预训练模型名称
	DatasetPath     string  `json:"dataset_path" binding:"required"`                // 数据集归档路径或URL
	TopN            int     `json:"top_n" binding:"omitempty,min=1"`                // 只取数据集前N条样本
	MaxSourceLen    int     `json:"max_source_len" binding:"omitempty,min=1"`       // 源文本最大token数
	MaxTargetLen    int     `json:"max_target_len" binding:"omitempty,min=1"`       // 摘要最大token数
	BatchSize       int     `json:"batch_size" binding:"omitempty,min=1"`           // 单设备批大小
	GradAccumSteps  int     `json:"grad_accum_steps" binding:"omitempty,min=1"`     // 梯度累积步数
	DeviceCount     int     `json:"device_count" binding:"omitempty,min=1"`         // 并行设备数
	LearningRate    float64 `json:"learning_rate" binding:"omitempty,gt=0"`         // 峰值学习率
	WarmupSteps     int     `json:"warmup_steps" binding:"omitempty,min=0"`         // 学习率预热步数
	MaxSteps        int     `json:"max_steps" binding:"omitempty,min=1"`            // 目标优化步数
	SaveSteps       int     `json:"save_steps" binding:"omitempty,min=1"`           // 检查点保存间隔
	Fp16            bool    `json:"fp16" binding:"omitempty"`                       // 是否启用混合精度
	BeamSize        int     `json:"beam_size" binding:"omitempty,min=1"`            // 集束搜索宽度
	LengthAlpha     float64 `json:"length_alpha" binding:"omitempty,min=0"`         // 长度惩罚系数
	ForbiddenTokens []int   `json:"forbidden_tokens" binding:"omitempty"`           // 禁止作为首token生成的token ID
	OutputPath      string  `json:"output_path" binding:"omitempty"`                // 预测结果输出路径
	Sync            bool    `json:"sync" binding:"omitempty"`                       // 是否同步执行流水线
}

// JobIDRequest 任务ID路径参数
type JobIDRequest struct {
	ID string `uri:"id" binding:"required"` // 微调任务ID
}

// JobListRequest 任务列表请求
type JobListRequest struct {
	PaginationRequest
	Status       string     `form:"status" json:"status" binding:"omitempty"`               // 按任务状态过滤
	ModelName    string     `form:"model_name" json:"model_name" binding:"omitempty"`       // 按模型名称过滤
	CreatedAfter *time.Time `form:"created_after" json:"created_after" binding:"omitempty"` // 创建时间下限
}

// EvaluateRequest 独立评估请求
// 对给定的候选摘要和参考摘要直接计算ROUGE得分
type EvaluateRequest struct {
	Candidates []string `json:"candidates" binding:"required,min=1"` // 候选摘要列表
	References []string `json:"references" binding:"required,min=1"` // 参考摘要列表，与候选一一对应
	JobID      string   `json:"job_id" binding:"omitempty"`          // 可选的关联任务ID，结果会持久化到该任务下
	Async      bool     `json:"async" binding:"omitempty"`           // 是否通过任务队列异步执行
}

// TaskIDRequest 队列任务ID路径参数
type TaskIDRequest struct {
	ID string `uri:"id" binding:"required"` // 队列任务ID
}
