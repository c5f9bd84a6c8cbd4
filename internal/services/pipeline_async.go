package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyerfyer/text-sum-system/internal/evaluator"
	"github.com/fyerfyer/text-sum-system/internal/models"
	"github.com/fyerfyer/text-sum-system/pkg/taskqueue"
	"github.com/sirupsen/logrus"
)

// ErrAsyncDisabled 服务未配置任务队列
var ErrAsyncDisabled = errors.New("async processing is not enabled")

// SubmitPipeline 将微调流水线提交到任务队列异步执行
// 返回队列任务ID，调用方可以轮询任务状态
func (s *PipelineService) SubmitPipeline(ctx context.Context, jobID string) (string, error) {
	if err := s.Init(); err != nil {
		return "", err
	}
	if !s.asyncEnabled || s.taskQueue == nil {
		return "", ErrAsyncDisabled
	}

	job, err := s.statusManager.GetJob(ctx, jobID)
	if err != nil {
		return "", err
	}

	params, err := s.jobParams(job)
	if err != nil {
		return "", err
	}

	payload := &taskqueue.FineTunePayload{
		JobID:       job.ID,
		ModelName:   job.ModelName,
		DatasetPath: job.DatasetPath,
		TopN:        params.TopN,
		MaxSteps:    params.MaxSteps,
		BeamSize:    params.BeamSize,
		LearnRate:   params.LearningRate,
		WarmupSteps: params.WarmupSteps,
		Fp16:        params.Fp16,
		DeviceCount: params.DeviceCount,
	}

	taskID, err := s.taskQueue.Enqueue(ctx, taskqueue.TaskFineTune, job.ID, payload)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue finetune task: %w", err)
	}

	// 记录当前关联的队列任务
	job.CurrentTask = taskID
	if err := s.repo.Update(job); err != nil {
		s.logger.WithError(err).WithField("job_id", jobID).
			Warn("Failed to record current task on job")
	}

	s.logger.WithFields(logrus.Fields{
		"job_id":  jobID,
		"task_id": taskID,
	}).Info("Pipeline submitted to task queue")

	return taskID, nil
}

// SubmitEvaluation 将独立评估任务提交到任务队列
func (s *PipelineService) SubmitEvaluation(ctx context.Context, jobID string, candidates, references []string) (string, error) {
	if !s.asyncEnabled || s.taskQueue == nil {
		return "", ErrAsyncDisabled
	}

	payload := &taskqueue.EvaluatePayload{
		JobID:      jobID,
		Candidates: candidates,
		References: references,
	}

	taskID, err := s.taskQueue.Enqueue(ctx, taskqueue.TaskEvaluate, jobID, payload)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue evaluate task: %w", err)
	}
	return taskID, nil
}

// PipelineTaskHandler 流水线队列任务处理器
// 在工作者进程中消费finetune和evaluate任务
type PipelineTaskHandler struct {
	service *PipelineService
	logger  *logrus.Logger
}

// NewPipelineTaskHandler 创建流水线任务处理器
func NewPipelineTaskHandler(service *PipelineService, logger *logrus.Logger) *PipelineTaskHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &PipelineTaskHandler{
		service: service,
		logger:  logger,
	}
}

// GetTaskTypes 返回此处理器支持的任务类型
func (h *PipelineTaskHandler) GetTaskTypes() []taskqueue.TaskType {
	return []taskqueue.TaskType{taskqueue.TaskFineTune, taskqueue.TaskEvaluate}
}

// ProcessTask 处理队列任务
func (h *PipelineTaskHandler) ProcessTask(ctx context.Context, task *taskqueue.Task) error {
	h.logger.WithFields(logrus.Fields{
		"task_id": task.ID,
		"type":    task.Type,
		"job_id":  task.JobID,
	}).Info("Processing pipeline task")

	switch task.Type {
	case taskqueue.TaskFineTune:
		return h.processFineTune(ctx, task)
	case taskqueue.TaskEvaluate:
		return h.processEvaluate(ctx, task)
	default:
		return fmt.Errorf("%w: unsupported task type %s", taskqueue.ErrInvalidPayload, task.Type)
	}
}

// processFineTune 执行完整微调流水线任务
func (h *PipelineTaskHandler) processFineTune(ctx context.Context, task *taskqueue.Task) error {
	var payload taskqueue.FineTunePayload
	if err := taskqueue.UnmarshalPayload(task.Payload, &payload); err != nil {
		return fmt.Errorf("%w: %v", taskqueue.ErrInvalidPayload, err)
	}
	if payload.JobID == "" {
		return fmt.Errorf("%w: missing job id", taskqueue.ErrInvalidPayload)
	}

	summary, err := h.service.RunPipeline(ctx, payload.JobID)
	if err != nil {
		return err
	}

	result := &taskqueue.FineTuneResult{
		JobID:       summary.JobID,
		GlobalStep:  summary.GlobalStep,
		Checkpoints: summary.Checkpoints,
		Predictions: len(summary.Predictions),
		Scores:      flattenScores(summary.Scores),
	}
	if err := h.service.taskQueue.UpdateTaskStatus(ctx, task.ID, taskqueue.StatusProcessing, result, ""); err != nil {
		h.logger.WithError(err).Warn("Failed to attach finetune result to task")
	}

	return nil
}

// processEvaluate 执行独立评估任务
func (h *PipelineTaskHandler) processEvaluate(ctx context.Context, task *taskqueue.Task) error {
	var payload taskqueue.EvaluatePayload
	if err := taskqueue.UnmarshalPayload(task.Payload, &payload); err != nil {
		return fmt.Errorf("%w: %v", taskqueue.ErrInvalidPayload, err)
	}

	candidates, references := payload.Candidates, payload.References
	if len(candidates) == 0 {
		return fmt.Errorf("%w: no candidates to evaluate", taskqueue.ErrInvalidPayload)
	}

	scores, err := evaluator.NewEvaluator(evaluator.WithEvaluatorLogger(h.logger)).
		Score(candidates, references)
	if err != nil {
		return err
	}

	if payload.JobID != "" && h.service.repo != nil {
		records := make([]*models.EvalRecord, 0, len(scores))
		for metric, score := range scores {
			records = append(records, &models.EvalRecord{
				JobID:     payload.JobID,
				Metric:    metric,
				Precision: score.P,
				Recall:    score.R,
				F1:        score.F,
				Samples:   len(candidates),
			})
		}
		if err := h.service.repo.SaveEvalRecords(records); err != nil {
			h.logger.WithError(err).Warn("Failed to persist eval records")
		}
	}

	result := &taskqueue.EvaluateResult{
		JobID:   payload.JobID,
		Samples: len(candidates),
		Scores:  expandScores(scores),
	}
	if err := h.service.taskQueue.UpdateTaskStatus(ctx, task.ID, taskqueue.StatusProcessing, result, ""); err != nil {
		h.logger.WithError(err).Warn("Failed to attach evaluate result to task")
	}

	return nil
}

// flattenScores 提取各指标的F值
func flattenScores(scores map[string]evaluator.Score) map[string]float64 {
	flat := make(map[string]float64, len(scores))
	for metric, s := range scores {
		flat[metric] = s.F
	}
	return flat
}

// expandScores 展开为指标到f/p/r的映射
func expandScores(scores map[string]evaluator.Score) map[string]map[string]float64 {
	out := make(map[string]map[string]float64, len(scores))
	for metric, s := range scores {
		out[metric] = map[string]float64{"f": s.F, "p": s.P, "r": s.R}
	}
	return out
}
