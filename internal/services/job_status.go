package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/fyerfyer/text-sum-system/internal/models"
	"github.com/fyerfyer/text-sum-system/internal/repository"
	"github.com/sirupsen/logrus"
)

// JobStatusManager 微调任务状态管理器
// 负责管理任务执行的生命周期状态
type JobStatusManager struct {
	repo   repository.JobRepository // 任务仓储接口
	logger *logrus.Logger           // 日志记录器
	mu     sync.Mutex               // 互斥锁，保证状态转换的原子性
}

// NewJobStatusManager 创建任务状态管理器
func NewJobStatusManager(repo repository.JobRepository, logger *logrus.Logger) *JobStatusManager {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.InfoLevel)
	}

	return &JobStatusManager{
		repo:   repo,
		logger: logger,
	}
}

// CreateJob 创建任务记录，初始状态为created
func (m *JobStatusManager) CreateJob(ctx context.Context, job *models.TuneJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.logger.WithFields(logrus.Fields{
		"model":     job.ModelName,
		"max_steps": job.MaxSteps,
	}).Info("Creating tune job")

	job.Status = models.JobStatusCreated
	return m.repo.Create(job)
}

// MarkAsRunning 将任务标记为执行中状态
func (m *JobStatusManager) MarkAsRunning(ctx context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, err := m.repo.GetByID(jobID)
	if err != nil {
		return fmt.Errorf("failed to get tune job: %w", err)
	}

	// 检查状态转换的有效性
	if job.Status != models.JobStatusCreated && job.Status != models.JobStatusFailed {
		return fmt.Errorf("%w: job %s is in %s state",
			models.ErrInvalidJobStatus, jobID, job.Status)
	}

	m.logger.WithField("job_id", jobID).Info("Marking tune job as running")

	return m.repo.UpdateStatus(jobID, models.JobStatusRunning, "")
}

// MarkAsCompleted 将任务标记为完成状态
func (m *JobStatusManager) MarkAsCompleted(ctx context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, err := m.repo.GetByID(jobID)
	if err != nil {
		return fmt.Errorf("failed to get tune job: %w", err)
	}

	if job.Status != models.JobStatusRunning {
		return fmt.Errorf("%w: job %s is in %s state, expected %s",
			models.ErrInvalidJobStatus, jobID, job.Status, models.JobStatusRunning)
	}

	m.logger.WithField("job_id", jobID).Info("Marking tune job as completed")

	if err := m.repo.UpdateStatus(jobID, models.JobStatusCompleted, ""); err != nil {
		return err
	}
	return m.repo.UpdateStage(jobID, models.StageCompleted, 100)
}

// MarkAsFailed 将任务标记为失败状态
func (m *JobStatusManager) MarkAsFailed(ctx context.Context, jobID string, errorMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.repo.GetByID(jobID); err != nil {
		return fmt.Errorf("failed to get tune job: %w", err)
	}

	m.logger.WithFields(logrus.Fields{
		"job_id": jobID,
		"error":  errorMsg,
	}).Error("Marking tune job as failed")

	return m.repo.UpdateStatus(jobID, models.JobStatusFailed, errorMsg)
}

// UpdateStage 更新任务当前阶段和进度
// 只有执行中的任务才能更新阶段
func (m *JobStatusManager) UpdateStage(ctx context.Context, jobID string, stage models.PipelineStage, progress int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, err := m.repo.GetByID(jobID)
	if err != nil {
		return fmt.Errorf("failed to get tune job: %w", err)
	}

	if job.Status != models.JobStatusRunning {
		return fmt.Errorf("cannot update stage: job %s is not running", jobID)
	}

	m.logger.WithFields(logrus.Fields{
		"job_id":   jobID,
		"stage":    stage,
		"progress": progress,
	}).Debug("Updating tune job stage")

	return m.repo.UpdateStage(jobID, stage, progress)
}

// UpdateStep 更新任务已完成的优化步数
func (m *JobStatusManager) UpdateStep(ctx context.Context, jobID string, globalStep int) error {
	return m.repo.UpdateStep(jobID, globalStep)
}

// GetJob 获取完整的任务对象
func (m *JobStatusManager) GetJob(ctx context.Context, jobID string) (*models.TuneJob, error) {
	return m.repo.GetByID(jobID)
}

// ListJobs 获取任务列表
func (m *JobStatusManager) ListJobs(ctx context.Context, offset, limit int, filters map[string]interface{}) ([]*models.TuneJob, int64, error) {
	return m.repo.List(offset, limit, filters)
}

// DeleteJob 删除任务记录
func (m *JobStatusManager) DeleteJob(ctx context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.logger.WithField("job_id", jobID).Info("Deleting tune job record")
	return m.repo.Delete(jobID)
}

// ValidateStateTransition 验证状态转换的有效性
func (m *JobStatusManager) ValidateStateTransition(from, to models.JobStatus) error {
	// 定义有效的状态转换
	validTransitions := map[models.JobStatus][]models.JobStatus{
		models.JobStatusCreated: {
			models.JobStatusRunning,
			models.JobStatusFailed, // 提交后可能立即失败
		},
		models.JobStatusRunning: {
			models.JobStatusCompleted,
			models.JobStatusFailed,
		},
		// 终态
		models.JobStatusCompleted: {},
		models.JobStatusFailed:    {models.JobStatusRunning}, // 允许手动重新提交
	}

	for _, validTo := range validTransitions[from] {
		if validTo == to {
			return nil
		}
	}

	return errors.New("invalid state transition")
}
