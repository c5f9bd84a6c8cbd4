package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fyerfyer/text-sum-system/internal/database"
	"github.com/fyerfyer/text-sum-system/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// jobRepo 微调任务仓储实现
type jobRepo struct {
	db *gorm.DB // 数据库连接
}

// NewJobRepository 创建微调任务仓储实例
func NewJobRepository() JobRepository {
	return &jobRepo{
		db: database.MustDB(),
	}
}

// NewJobRepositoryWithDB 使用指定的数据库连接创建微调任务仓储实例
func NewJobRepositoryWithDB(db *gorm.DB) JobRepository {
	if db == nil {
		db = database.MustDB()
	}
	return &jobRepo{
		db: db,
	}
}

// WithContext 创建带有上下文的仓储
func (r *jobRepo) WithContext(ctx context.Context) JobRepository {
	return &jobRepo{
		db: r.db.WithContext(ctx),
	}
}

// Create 创建任务记录
func (r *jobRepo) Create(job *models.TuneJob) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.Status == "" {
		job.Status = models.JobStatusCreated
	}

	if err := r.db.Create(job).Error; err != nil {
		return fmt.Errorf("failed to create tune job: %w", err)
	}
	return nil
}

// Update 更新任务记录
func (r *jobRepo) Update(job *models.TuneJob) error {
	result := r.db.Save(job)
	if result.Error != nil {
		return fmt.Errorf("failed to update tune job: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return models.ErrJobNotFound
	}
	return nil
}

// GetByID 根据ID获取任务
func (r *jobRepo) GetByID(id string) (*models.TuneJob, error) {
	var job models.TuneJob
	err := r.db.Where("id = ?", id).First(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get tune job: %w", err)
	}
	return &job, nil
}

// List 列出任务列表，支持分页和筛选
func (r *jobRepo) List(offset, limit int, filters map[string]interface{}) ([]*models.TuneJob, int64, error) {
	query := r.db.Model(&models.TuneJob{})

	for key, value := range filters {
		switch key {
		case "status":
			if s, ok := value.(models.JobStatus); ok {
				query = query.Where("status = ?", string(s))
			} else if s, ok := value.(string); ok {
				query = query.Where("status = ?", s)
			}
		case "model_name":
			if name, ok := value.(string); ok && name != "" {
				query = query.Where("model_name = ?", name)
			}
		case "created_after":
			if ts, ok := value.(time.Time); ok {
				query = query.Where("created_at >= ?", ts)
			}
		}
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count tune jobs: %w", err)
	}

	var jobs []*models.TuneJob
	err := query.Order("created_at DESC").Offset(offset).Limit(limit).Find(&jobs).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list tune jobs: %w", err)
	}

	return jobs, total, nil
}

// Delete 删除任务及其关联的检查点和评估记录
func (r *jobRepo) Delete(id string) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("job_id = ?", id).Delete(&models.CheckpointRecord{}).Error; err != nil {
			return fmt.Errorf("failed to delete checkpoint records: %w", err)
		}

		if err := tx.Where("job_id = ?", id).Delete(&models.EvalRecord{}).Error; err != nil {
			return fmt.Errorf("failed to delete eval records: %w", err)
		}

		result := tx.Where("id = ?", id).Delete(&models.TuneJob{})
		if result.Error != nil {
			return fmt.Errorf("failed to delete tune job: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return models.ErrJobNotFound
		}
		return nil
	})
}

// UpdateStatus 更新任务状态
// 状态进入running时记录开始时间，进入终态时记录完成时间
func (r *jobRepo) UpdateStatus(id string, status models.JobStatus, errorMsg string) error {
	updates := map[string]interface{}{
		"status":     string(status),
		"error":      errorMsg,
		"updated_at": time.Now(),
	}

	now := time.Now()
	switch status {
	case models.JobStatusRunning:
		updates["started_at"] = &now
	case models.JobStatusCompleted, models.JobStatusFailed:
		updates["finished_at"] = &now
	}

	result := r.db.Model(&models.TuneJob{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to update job status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return models.ErrJobNotFound
	}
	return nil
}

// UpdateStage 更新任务当前阶段和进度
func (r *jobRepo) UpdateStage(id string, stage models.PipelineStage, progress int) error {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}

	result := r.db.Model(&models.TuneJob{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"current_stage": string(stage),
			"progress":      progress,
			"updated_at":    time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update job stage: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return models.ErrJobNotFound
	}
	return nil
}

// UpdateStep 更新任务已完成的优化步数
func (r *jobRepo) UpdateStep(id string, globalStep int) error {
	result := r.db.Model(&models.TuneJob{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"global_step": globalStep,
			"updated_at":  time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update job step: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return models.ErrJobNotFound
	}
	return nil
}

// UpdateSplitSizes 更新任务的训练/测试样本数
// 只写样本数列，避免覆盖并发更新的状态字段
func (r *jobRepo) UpdateSplitSizes(id string, trainSize, testSize int) error {
	result := r.db.Model(&models.TuneJob{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"train_size": trainSize,
			"test_size":  testSize,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update job split sizes: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return models.ErrJobNotFound
	}
	return nil
}

// SaveCheckpoint 保存检查点记录
func (r *jobRepo) SaveCheckpoint(ckpt *models.CheckpointRecord) error {
	if err := r.db.Create(ckpt).Error; err != nil {
		return fmt.Errorf("failed to save checkpoint record: %w", err)
	}
	return nil
}

// GetCheckpoints 获取任务的所有检查点记录，按步数升序
func (r *jobRepo) GetCheckpoints(jobID string) ([]*models.CheckpointRecord, error) {
	var records []*models.CheckpointRecord
	err := r.db.Where("job_id = ?", jobID).
		Order("step ASC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get checkpoint records: %w", err)
	}
	return records, nil
}

// GetLatestCheckpoint 获取任务步数最大的检查点记录
func (r *jobRepo) GetLatestCheckpoint(jobID string) (*models.CheckpointRecord, error) {
	var record models.CheckpointRecord
	err := r.db.Where("job_id = ?", jobID).
		Order("step DESC").
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrCheckpointNotFound
		}
		return nil, fmt.Errorf("failed to get latest checkpoint: %w", err)
	}
	return &record, nil
}

// SaveEvalRecords 批量保存评估结果
func (r *jobRepo) SaveEvalRecords(records []*models.EvalRecord) error {
	if len(records) == 0 {
		return nil
	}

	if err := r.db.Create(records).Error; err != nil {
		return fmt.Errorf("failed to save eval records: %w", err)
	}
	return nil
}

// GetEvalRecords 获取任务的评估结果
func (r *jobRepo) GetEvalRecords(jobID string) ([]*models.EvalRecord, error) {
	var records []*models.EvalRecord
	err := r.db.Where("job_id = ?", jobID).
		Order("metric ASC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get eval records: %w", err)
	}
	return records, nil
}
