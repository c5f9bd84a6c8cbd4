package handler

import (
	"bufio"
	"context"
	"errors"
	"net/http"
	"os"

	"github.com/fyerfyer/text-sum-system/api/middleware"
	"github.com/fyerfyer/text-sum-system/api/model"
	"github.com/fyerfyer/text-sum-system/internal/models"
	"github.com/fyerfyer/text-sum-system/internal/repository"
	"github.com/fyerfyer/text-sum-system/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// FineTuneHandler 处理微调任务相关的API请求
type FineTuneHandler struct {
	pipeline      *services.PipelineService  // 微调流水线服务
	statusManager *services.JobStatusManager // 任务状态管理器
	repo          repository.JobRepository   // 任务元数据存储
	logger        *logrus.Logger             // 日志记录器
}

// NewFineTuneHandler 创建新的微调任务处理器
func NewFineTuneHandler(
	pipeline *services.PipelineService,
	statusManager *services.JobStatusManager,
	repo repository.JobRepository,
) *FineTuneHandler {
	return &FineTuneHandler{
		pipeline:      pipeline,
		statusManager: statusManager,
		repo:          repo,
		logger:        middleware.GetLogger(),
	}
}

// CreateFineTuneJob 创建微调任务并启动流水线
// POST /api/finetune
func (h *FineTuneHandler) CreateFineTuneJob(c *gin.Context) {
	var req model.FineTuneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.WithError(err).Warn("Invalid fine-tune request")
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(
			http.StatusBadRequest,
			"无效的微调请求参数: "+model.BindingErrorMessage(err),
		))
		return
	}

	params := paramsFromRequest(&req)

	job, err := h.pipeline.CreateJob(c.Request.Context(), req.ModelName, req.DatasetPath, params)
	if err != nil {
		h.logger.WithError(err).Error("Failed to create fine-tune job")
		c.JSON(http.StatusInternalServerError, model.NewErrorResponse(
			http.StatusInternalServerError,
			"创建微调任务失败: "+err.Error(),
		))
		return
	}

	h.logger.WithFields(logrus.Fields{
		"job_id":     job.ID,
		"model_name": job.ModelName,
		"max_steps":  job.MaxSteps,
		"sync":       req.Sync,
	}).Info("Fine-tune job created")

	// 同步模式下直接在请求内执行整条流水线
	if req.Sync {
		summary, err := h.pipeline.RunPipeline(c.Request.Context(), job.ID)
		if err != nil {
			h.logger.WithError(err).WithField("job_id", job.ID).Error("Pipeline run failed")
			c.JSON(http.StatusInternalServerError, model.NewErrorResponse(
				http.StatusInternalServerError,
				"微调流水线执行失败: "+err.Error(),
			))
			return
		}

		c.JSON(http.StatusOK, model.NewSuccessResponse(summary))
		return
	}

	// 异步模式优先走任务队列，未启用队列时退化为后台goroutine执行
	taskID, err := h.pipeline.SubmitPipeline(c.Request.Context(), job.ID)
	if err != nil {
		if !errors.Is(err, services.ErrAsyncDisabled) {
			h.logger.WithError(err).WithField("job_id", job.ID).Error("Failed to submit pipeline task")
			c.JSON(http.StatusInternalServerError, model.NewErrorResponse(
				http.StatusInternalServerError,
				"提交微调任务失败: "+err.Error(),
			))
			return
		}

		// 请求上下文在响应后会被取消，后台执行使用独立上下文
		go func(jobID string) {
			if _, runErr := h.pipeline.RunPipeline(context.Background(), jobID); runErr != nil {
				h.logger.WithError(runErr).WithField("job_id", jobID).Error("Background pipeline run failed")
			}
		}(job.ID)
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(model.JobSubmitResponse{
		JobID:  job.ID,
		Status: string(job.Status),
		TaskID: taskID,
	}))
}

// GetJobStatus 获取微调任务状态
// GET /api/finetune/:id
func (h *FineTuneHandler) GetJobStatus(c *gin.Context) {
	var req model.JobIDRequest
	if err := c.ShouldBindUri(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(
			http.StatusBadRequest,
			"无效的任务ID",
		))
		return
	}

	job, err := h.statusManager.GetJob(c.Request.Context(), req.ID)
	if err != nil {
		if errors.Is(err, models.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, model.NewErrorResponse(
				http.StatusNotFound,
				"微调任务不存在",
			))
			return
		}

		h.logger.WithError(err).WithField("job_id", req.ID).Error("Failed to get job")
		c.JSON(http.StatusInternalServerError, model.NewErrorResponse(
			http.StatusInternalServerError,
			"获取任务状态失败: "+err.Error(),
		))
		return
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(jobStatusResponse(job)))
}

// ListJobs 获取微调任务列表
// GET /api/finetune
func (h *FineTuneHandler) ListJobs(c *gin.Context) {
	var req model.JobListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(
			http.StatusBadRequest,
			"无效的列表查询参数: "+err.Error(),
		))
		return
	}

	filters := make(map[string]interface{})
	if req.Status != "" {
		filters["status"] = req.Status
	}
	if req.ModelName != "" {
		filters["model_name"] = req.ModelName
	}
	if req.CreatedAfter != nil {
		filters["created_after"] = *req.CreatedAfter
	}

	offset := (req.GetPage() - 1) * req.GetPageSize()
	jobs, total, err := h.statusManager.ListJobs(c.Request.Context(), offset, req.GetPageSize(), filters)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list jobs")
		c.JSON(http.StatusInternalServerError, model.NewErrorResponse(
			http.StatusInternalServerError,
			"获取任务列表失败: "+err.Error(),
		))
		return
	}

	infos := make([]model.JobInfo, 0, len(jobs))
	for _, job := range jobs {
		infos = append(infos, model.JobInfo{
			JobID:     job.ID,
			ModelName: job.ModelName,
			Status:    string(job.Status),
			Stage:     string(job.CurrentStage),
			Progress:  job.Progress,
			CreatedAt: job.CreatedAt,
		})
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(model.JobListResponse{
		Total:    total,
		Page:     req.GetPage(),
		PageSize: req.GetPageSize(),
		Jobs:     infos,
	}))
}

// GetPredictions 获取任务生成的预测摘要
// GET /api/finetune/:id/predictions
func (h *FineTuneHandler) GetPredictions(c *gin.Context) {
	var req model.JobIDRequest
	if err := c.ShouldBindUri(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(
			http.StatusBadRequest,
			"无效的任务ID",
		))
		return
	}

	job, err := h.statusManager.GetJob(c.Request.Context(), req.ID)
	if err != nil {
		if errors.Is(err, models.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, model.NewErrorResponse(
				http.StatusNotFound,
				"微调任务不存在",
			))
			return
		}

		c.JSON(http.StatusInternalServerError, model.NewErrorResponse(
			http.StatusInternalServerError,
			"获取任务失败: "+err.Error(),
		))
		return
	}

	if job.Status != models.JobStatusCompleted {
		c.JSON(http.StatusConflict, model.NewErrorResponse(
			http.StatusConflict,
			"任务尚未完成，预测结果不可用",
		))
		return
	}

	path, err := h.pipeline.PredictionsPath(job)
	if err != nil {
		c.JSON(http.StatusInternalServerError, model.NewErrorResponse(
			http.StatusInternalServerError,
			"解析预测输出路径失败: "+err.Error(),
		))
		return
	}

	predictions, err := readPredictions(path)
	if err != nil {
		h.logger.WithError(err).WithFields(logrus.Fields{
			"job_id": req.ID,
			"path":   path,
		}).Error("Failed to read predictions file")
		c.JSON(http.StatusInternalServerError, model.NewErrorResponse(
			http.StatusInternalServerError,
			"读取预测结果失败: "+err.Error(),
		))
		return
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(model.PredictionsResponse{
		JobID:       job.ID,
		Count:       len(predictions),
		Predictions: predictions,
	}))
}

// GetScores 获取任务的ROUGE评估得分
// GET /api/finetune/:id/scores
func (h *FineTuneHandler) GetScores(c *gin.Context) {
	var req model.JobIDRequest
	if err := c.ShouldBindUri(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(
			http.StatusBadRequest,
			"无效的任务ID",
		))
		return
	}

	// 先确认任务存在
	if _, err := h.statusManager.GetJob(c.Request.Context(), req.ID); err != nil {
		if errors.Is(err, models.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, model.NewErrorResponse(
				http.StatusNotFound,
				"微调任务不存在",
			))
			return
		}

		c.JSON(http.StatusInternalServerError, model.NewErrorResponse(
			http.StatusInternalServerError,
			"获取任务失败: "+err.Error(),
		))
		return
	}

	records, err := h.repo.GetEvalRecords(req.ID)
	if err != nil {
		h.logger.WithError(err).WithField("job_id", req.ID).Error("Failed to get eval records")
		c.JSON(http.StatusInternalServerError, model.NewErrorResponse(
			http.StatusInternalServerError,
			"获取评估得分失败: "+err.Error(),
		))
		return
	}

	scores := make(map[string]model.ScoreDetail, len(records))
	samples := 0
	for _, record := range records {
		scores[record.Metric] = model.ScoreDetail{
			F: record.F1,
			P: record.Precision,
			R: record.Recall,
		}
		if record.Samples > samples {
			samples = record.Samples
		}
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(model.ScoresResponse{
		JobID:   req.ID,
		Samples: samples,
		Scores:  scores,
	}))
}

// GetCheckpoints 获取任务训练过程中落盘的检查点列表
// GET /api/finetune/:id/checkpoints
func (h *FineTuneHandler) GetCheckpoints(c *gin.Context) {
	var req model.JobIDRequest
	if err := c.ShouldBindUri(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(
			http.StatusBadRequest,
			"无效的任务ID",
		))
		return
	}

	records, err := h.repo.GetCheckpoints(req.ID)
	if err != nil {
		h.logger.WithError(err).WithField("job_id", req.ID).Error("Failed to get checkpoints")
		c.JSON(http.StatusInternalServerError, model.NewErrorResponse(
			http.StatusInternalServerError,
			"获取检查点列表失败: "+err.Error(),
		))
		return
	}

	infos := make([]model.CheckpointInfo, 0, len(records))
	for _, record := range records {
		infos = append(infos, model.CheckpointInfo{
			FileName:  record.FileName,
			Step:      record.Step,
			Size:      record.Size,
			Final:     record.Final,
			CreatedAt: record.CreatedAt,
		})
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(model.CheckpointListResponse{
		JobID:       req.ID,
		Checkpoints: infos,
	}))
}

// DeleteJob 删除微调任务及其关联记录
// DELETE /api/finetune/:id
func (h *FineTuneHandler) DeleteJob(c *gin.Context) {
	var req model.JobIDRequest
	if err := c.ShouldBindUri(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(
			http.StatusBadRequest,
			"无效的任务ID",
		))
		return
	}

	if err := h.statusManager.DeleteJob(c.Request.Context(), req.ID); err != nil {
		if errors.Is(err, models.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, model.NewErrorResponse(
				http.StatusNotFound,
				"微调任务不存在",
			))
			return
		}

		h.logger.WithError(err).WithField("job_id", req.ID).Error("Failed to delete job")
		c.JSON(http.StatusInternalServerError, model.NewErrorResponse(
			http.StatusInternalServerError,
			"删除任务失败: "+err.Error(),
		))
		return
	}

	h.logger.WithField("job_id", req.ID).Info("Fine-tune job deleted")
	c.JSON(http.StatusOK, model.NewSuccessResponse(model.JobDeleteResponse{
		Success: true,
		JobID:   req.ID,
	}))
}

// paramsFromRequest 把请求参数合并到默认流水线参数上
func paramsFromRequest(req *model.FineTuneRequest) services.PipelineParams {
	params := services.DefaultPipelineParams()
	if req.TopN > 0 {
		params.TopN = req.TopN
	}
	if req.MaxSourceLen > 0 {
		params.MaxSourceLen = req.MaxSourceLen
	}
	if req.MaxTargetLen > 0 {
		params.MaxTargetLen = req.MaxTargetLen
	}
	if req.BatchSize > 0 {
		params.BatchSize = req.BatchSize
	}
	if req.GradAccumSteps > 0 {
		params.GradAccumSteps = req.GradAccumSteps
	}
	if req.DeviceCount > 0 {
		params.DeviceCount = req.DeviceCount
	}
	if req.LearningRate > 0 {
		params.LearningRate = req.LearningRate
	}
	if req.WarmupSteps > 0 {
		params.WarmupSteps = req.WarmupSteps
	}
	if req.MaxSteps > 0 {
		params.MaxSteps = req.MaxSteps
	}
	if req.SaveSteps > 0 {
		params.SaveSteps = req.SaveSteps
	}
	if req.BeamSize > 0 {
		params.BeamSize = req.BeamSize
	}
	if req.LengthAlpha > 0 {
		params.LengthAlpha = req.LengthAlpha
	}
	if len(req.ForbiddenTokens) > 0 {
		params.ForbiddenTokens = req.ForbiddenTokens
	}
	if req.OutputPath != "" {
		params.OutputPath = req.OutputPath
	}
	params.Fp16 = req.Fp16
	return params
}

// jobStatusResponse 把任务模型转换为状态响应
func jobStatusResponse(job *models.TuneJob) model.JobStatusResponse {
	resp := model.JobStatusResponse{
		JobID:      job.ID,
		ModelName:  job.ModelName,
		Status:     string(job.Status),
		Stage:      string(job.CurrentStage),
		Progress:   job.Progress,
		GlobalStep: job.GlobalStep,
		MaxSteps:   job.MaxSteps,
		TrainSize:  job.TrainSize,
		TestSize:   job.TestSize,
		Error:      job.Error,
		CreatedAt:  job.CreatedAt.Format("2006-01-02 15:04:05"),
		UpdatedAt:  job.UpdatedAt.Format("2006-01-02 15:04:05"),
	}
	if job.StartedAt != nil {
		resp.StartedAt = job.StartedAt.Format("2006-01-02 15:04:05")
	}
	if job.FinishedAt != nil {
		resp.FinishedAt = job.FinishedAt.Format("2006-01-02 15:04:05")
	}
	return resp
}

// readPredictions 按行读取预测输出文件
func readPredictions(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var predictions []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		predictions = append(predictions, scanner.Text())
	}
	return predictions, scanner.Err()
}
