package handler

import (
	"errors"
	"net/http"

	"github.com/fyerfyer/text-sum-system/api/middleware"
	"github.com/fyerfyer/text-sum-system/api/model"
	"github.com/fyerfyer/text-sum-system/internal/evaluator"
	"github.com/fyerfyer/text-sum-system/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// EvaluateHandler 处理独立评估相关的API请求
type EvaluateHandler struct {
	evaluator *evaluator.Evaluator      // ROUGE评估器
	pipeline  *services.PipelineService // 流水线服务，用于异步提交评估任务
	logger    *logrus.Logger            // 日志记录器
}

// NewEvaluateHandler 创建新的评估处理器
func NewEvaluateHandler(pipeline *services.PipelineService) *EvaluateHandler {
	logger := middleware.GetLogger()
	return &EvaluateHandler{
		evaluator: evaluator.NewEvaluator(evaluator.WithEvaluatorLogger(logger)),
		pipeline:  pipeline,
		logger:    logger,
	}
}

// Evaluate 对候选摘要和参考摘要计算ROUGE得分
// POST /api/evaluate
func (h *EvaluateHandler) Evaluate(c *gin.Context) {
	var req model.EvaluateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.WithError(err).Warn("Invalid evaluate request")
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(
			http.StatusBadRequest,
			"无效的评估请求参数: "+model.BindingErrorMessage(err),
		))
		return
	}

	// 异步模式需要关联任务ID，结果通过任务队列回查
	if req.Async {
		if req.JobID == "" {
			c.JSON(http.StatusBadRequest, model.NewErrorResponse(
				http.StatusBadRequest,
				"异步评估必须指定job_id",
			))
			return
		}

		taskID, err := h.pipeline.SubmitEvaluation(c.Request.Context(), req.JobID, req.Candidates, req.References)
		if err != nil {
			if errors.Is(err, services.ErrAsyncDisabled) {
				c.JSON(http.StatusBadRequest, model.NewErrorResponse(
					http.StatusBadRequest,
					"任务队列未启用，无法异步评估",
				))
				return
			}

			h.logger.WithError(err).Error("Failed to submit evaluation task")
			c.JSON(http.StatusInternalServerError, model.NewErrorResponse(
				http.StatusInternalServerError,
				"提交评估任务失败: "+err.Error(),
			))
			return
		}

		c.JSON(http.StatusOK, model.NewSuccessResponse(model.JobSubmitResponse{
			JobID:  req.JobID,
			Status: "pending",
			TaskID: taskID,
		}))
		return
	}

	scores, err := h.evaluator.Score(req.Candidates, req.References)
	if err != nil {
		if errors.Is(err, evaluator.ErrLengthMismatch) || errors.Is(err, evaluator.ErrNoSamples) {
			c.JSON(http.StatusBadRequest, model.NewErrorResponse(
				http.StatusBadRequest,
				"评估输入不合法: "+err.Error(),
			))
			return
		}

		h.logger.WithError(err).Error("Evaluation failed")
		c.JSON(http.StatusInternalServerError, model.NewErrorResponse(
			http.StatusInternalServerError,
			"评估失败: "+err.Error(),
		))
		return
	}

	details := make(map[string]model.ScoreDetail, len(scores))
	for metric, score := range scores {
		details[metric] = model.ScoreDetail{F: score.F, P: score.P, R: score.R}
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(model.ScoresResponse{
		JobID:   req.JobID,
		Samples: len(req.Candidates),
		Scores:  details,
	}))
}
