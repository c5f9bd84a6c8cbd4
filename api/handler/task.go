package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fyerfyer/text-sum-system/api/middleware"
	"github.com/fyerfyer/text-sum-system/api/model"
	"github.com/fyerfyer/text-sum-system/pkg/taskqueue"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// TaskHandler 处理队列任务相关的API请求
type TaskHandler struct {
	queue  taskqueue.Queue // 任务队列
	logger *logrus.Logger  // 日志记录器
}

// NewTaskHandler 创建新的任务处理器
func NewTaskHandler(queue taskqueue.Queue) *TaskHandler {
	return &TaskHandler{
		queue:  queue,
		logger: middleware.GetLogger(),
	}
}

// GetTaskStatus 获取队列任务状态
// GET /api/tasks/:id
func (h *TaskHandler) GetTaskStatus(c *gin.Context) {
	var req model.TaskIDRequest
	if err := c.ShouldBindUri(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(
			http.StatusBadRequest,
			"无效的任务ID",
		))
		return
	}

	task, err := h.queue.GetTask(c.Request.Context(), req.ID)
	if err != nil {
		if errors.Is(err, taskqueue.ErrTaskNotFound) {
			c.JSON(http.StatusNotFound, model.NewErrorResponse(
				http.StatusNotFound,
				"队列任务不存在",
			))
			return
		}

		h.logger.WithError(err).WithField("task_id", req.ID).Error("Failed to get task")
		c.JSON(http.StatusInternalServerError, model.NewErrorResponse(
			http.StatusInternalServerError,
			"获取任务失败: "+err.Error(),
		))
		return
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(taskStatusResponse(task)))
}

// ListJobTasks 获取微调任务关联的队列任务
// GET /api/finetune/:id/tasks
func (h *TaskHandler) ListJobTasks(c *gin.Context) {
	var req model.JobIDRequest
	if err := c.ShouldBindUri(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.NewErrorResponse(
			http.StatusBadRequest,
			"无效的任务ID",
		))
		return
	}

	tasks, err := h.queue.GetTasksByJob(c.Request.Context(), req.ID)
	if err != nil {
		h.logger.WithError(err).WithField("job_id", req.ID).Error("Failed to list job tasks")
		c.JSON(http.StatusInternalServerError, model.NewErrorResponse(
			http.StatusInternalServerError,
			"获取关联任务失败: "+err.Error(),
		))
		return
	}

	responses := make([]model.TaskStatusResponse, 0, len(tasks))
	for _, task := range tasks {
		responses = append(responses, taskStatusResponse(task))
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(responses))
}

// taskStatusResponse 把队列任务转换为状态响应
func taskStatusResponse(task *taskqueue.Task) model.TaskStatusResponse {
	resp := model.TaskStatusResponse{
		TaskID:      task.ID,
		JobID:       task.JobID,
		Type:        string(task.Type),
		Status:      string(task.Status),
		Error:       task.Error,
		CreatedAt:   task.CreatedAt,
		StartedAt:   task.StartedAt,
		CompletedAt: task.CompletedAt,
	}

	// 结果按原始JSON透传给客户端
	if len(task.Result) > 0 {
		var result interface{}
		if err := json.Unmarshal(task.Result, &result); err == nil {
			resp.Result = result
		}
	}

	return resp
}
