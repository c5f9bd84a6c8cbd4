package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// JobStatus 微调任务状态类型
type JobStatus string

const (
	// JobStatusCreated 任务已创建，等待执行
	JobStatusCreated JobStatus = "created"
	// JobStatusRunning 任务执行中
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted 任务执行完成
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed 任务执行失败
	JobStatusFailed JobStatus = "failed"
)

// PipelineStage 流水线处理阶段
type PipelineStage string

const (
	// StageLoading 数据集加载阶段
	StageLoading PipelineStage = "loading"
	// StageTokenizing 特征化阶段
	StageTokenizing PipelineStage = "tokenizing"
	// StageTraining 训练阶段
	StageTraining PipelineStage = "training"
	// StageDecoding 解码阶段
	StageDecoding PipelineStage = "decoding"
	// StageEvaluating 评估阶段
	StageEvaluating PipelineStage = "evaluating"
	// StageCompleted 全部阶段完成
	StageCompleted PipelineStage = "completed"
)

// TuneJob 微调任务数据模型
// 记录一次完整微调流水线的参数和执行状态
type TuneJob struct {
	ID           string         `gorm:"primaryKey"`         // 任务ID，主键
	ModelName    string         `gorm:"not null"`           // 预训练模型名称
	DatasetPath  string         `gorm:"not null"`           // 数据集本地路径
	Status       JobStatus      `gorm:"not null;index"`     // 任务状态
	CurrentStage PipelineStage  `gorm:"size:20"`            // 当前处理阶段
	Progress     int            `gorm:"not null;default:0"` // 进度（0-100）
	Error        string         `gorm:"type:text"`          // 错误信息
	CreatedAt    time.Time      `gorm:"not null;index"`     // 创建时间
	StartedAt    *time.Time     `gorm:"index"`              // 开始执行时间
	FinishedAt   *time.Time     `gorm:"index"`              // 完成时间
	UpdatedAt    time.Time      `gorm:"not null;index"`     // 更新时间
	TrainSize    int            `gorm:"default:0"`          // 训练集样本数
	TestSize     int            `gorm:"default:0"`          // 测试集样本数
	GlobalStep   int            `gorm:"default:0"`          // 已完成的优化步数
	MaxSteps     int            `gorm:"not null"`           // 目标优化步数
	Params       datatypes.JSON `gorm:"type:json"`          // 训练/解码参数快照，JSON格式
	CurrentTask  string         `gorm:"size:50;index"`      // 当前关联的队列任务ID
}

// BeforeCreate GORM的钩子函数，创建记录前自动设置时间
func (j *TuneJob) BeforeCreate(tx *gorm.DB) (err error) {
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now()
	}
	j.UpdatedAt = time.Now()
	return nil
}

// BeforeUpdate GORM的钩子函数，更新记录前自动设置更新时间
func (j *TuneJob) BeforeUpdate(tx *gorm.DB) (err error) {
	j.UpdatedAt = time.Now()
	return nil
}

// TableName 明确指定表名
func (TuneJob) TableName() string {
	return "tune_jobs"
}

// CheckpointRecord 模型检查点数据模型
// 跟踪训练过程中落盘的参数快照
type CheckpointRecord struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"` // 主键ID
	JobID     string    `gorm:"not null;index"`           // 所属任务ID
	Step      int       `gorm:"not null"`                 // 对应的优化步数
	FileName  string    `gorm:"not null"`                 // 检查点文件名（model.<step>.bin）
	StorageID string    `gorm:"size:50"`                  // 存储层中的文件ID
	Size      int64     `gorm:"default:0"`                // 文件大小（字节）
	CreatedAt time.Time `gorm:"not null"`                 // 创建时间
	Final     bool      `gorm:"default:false"`            // 是否为训练结束时的最终检查点
}

// BeforeCreate GORM的钩子函数，创建记录前自动设置时间
func (c *CheckpointRecord) BeforeCreate(tx *gorm.DB) (err error) {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	return nil
}

// TableName 明确指定表名
func (CheckpointRecord) TableName() string {
	return "checkpoint_records"
}

// EvalRecord 评估结果数据模型
// 持久化一次ROUGE评估的各项得分
type EvalRecord struct {
	ID        uint           `gorm:"primaryKey;autoIncrement"` // 主键ID
	JobID     string         `gorm:"not null;index"`           // 所属任务ID
	Metric    string         `gorm:"not null;size:20"`         // 指标名称：rouge-1, rouge-2, rouge-l
	Precision float64        `gorm:"not null"`                 // 精确率
	Recall    float64        `gorm:"not null"`                 // 召回率
	F1        float64        `gorm:"not null"`                 // F值
	Samples   int            `gorm:"default:0"`                // 参与评估的样本数
	CreatedAt time.Time      `gorm:"not null"`                 // 创建时间
	Extra     datatypes.JSON `gorm:"type:json"`                // 附加信息，JSON格式
}

// BeforeCreate GORM的钩子函数，创建记录前自动设置时间
func (e *EvalRecord) BeforeCreate(tx *gorm.DB) (err error) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	return nil
}

// TableName 明确指定表名
func (EvalRecord) TableName() string {
	return "eval_records"
}
