package repository

import (
	"context"

	"github.com/fyerfyer/text-sum-system/internal/models"
)

// JobRepository 微调任务仓储接口
// 负责任务、检查点和评估结果的存储和检索
type JobRepository interface {
	// Create 创建任务记录
	Create(job *models.TuneJob) error

	// Update 更新任务记录
	Update(job *models.TuneJob) error

	// GetByID 根据ID获取任务
	GetByID(id string) (*models.TuneJob, error)

	// List 列出任务列表，支持分页和筛选
	List(offset, limit int, filters map[string]interface{}) ([]*models.TuneJob, int64, error)

	// Delete 删除任务及其关联记录
	Delete(id string) error

	// UpdateStatus 更新任务状态
	UpdateStatus(id string, status models.JobStatus, errorMsg string) error

	// UpdateStage 更新任务当前阶段和进度
	UpdateStage(id string, stage models.PipelineStage, progress int) error

	// UpdateStep 更新任务已完成的优化步数
	UpdateStep(id string, globalStep int) error

	// UpdateSplitSizes 更新任务的训练/测试样本数
	UpdateSplitSizes(id string, trainSize, testSize int) error

	// SaveCheckpoint 保存检查点记录
	SaveCheckpoint(ckpt *models.CheckpointRecord) error

	// GetCheckpoints 获取任务的所有检查点记录
	GetCheckpoints(jobID string) ([]*models.CheckpointRecord, error)

	// GetLatestCheckpoint 获取任务步数最大的检查点记录
	GetLatestCheckpoint(jobID string) (*models.CheckpointRecord, error)

	// SaveEvalRecords 批量保存评估结果
	SaveEvalRecords(records []*models.EvalRecord) error

	// GetEvalRecords 获取任务的评估结果
	GetEvalRecords(jobID string) ([]*models.EvalRecord, error)

	// WithContext 创建带有上下文的仓储
	WithContext(ctx context.Context) JobRepository
}
