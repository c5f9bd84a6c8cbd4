package taskqueue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestQueue 创建基于miniredis的测试队列
func setupTestQueue(t *testing.T) Queue {
	t.Helper()

	mr := miniredis.RunT(t)

	cfg := DefaultConfig()
	cfg.RedisAddr = mr.Addr()

	queue, err := NewRedisQueue(cfg)
	require.NoError(t, err, "Failed to create redis queue")

	t.Cleanup(func() {
		queue.Close()
	})

	return queue
}

func TestRedisQueue_Enqueue(t *testing.T) {
	queue := setupTestQueue(t)
	ctx := context.Background()

	payload := &FineTunePayload{
		JobID:     "job-1",
		ModelName: "unilm-base-cased",
		MaxSteps:  2000,
		BeamSize:  5,
	}

	taskID, err := queue.Enqueue(ctx, TaskFineTune, "job-1", payload)
	require.NoError(t, err)
	assert.NotEmpty(t, taskID, "入队应该返回任务ID")

	task, err := queue.GetTask(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, TaskFineTune, task.Type)
	assert.Equal(t, "job-1", task.JobID)
	assert.Equal(t, StatusPending, task.Status)

	var decoded FineTunePayload
	require.NoError(t, UnmarshalPayload(task.Payload, &decoded))
	assert.Equal(t, "unilm-base-cased", decoded.ModelName)
	assert.Equal(t, 2000, decoded.MaxSteps)
}

func TestRedisQueue_GetTask_NotFound(t *testing.T) {
	queue := setupTestQueue(t)

	_, err := queue.GetTask(context.Background(), "no-such-task")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestRedisQueue_UpdateTaskStatus(t *testing.T) {
	queue := setupTestQueue(t)
	ctx := context.Background()

	taskID, err := queue.Enqueue(ctx, TaskPredict, "job-2", &PredictPayload{JobID: "job-2"})
	require.NoError(t, err)

	// 更新为处理中
	err = queue.UpdateTaskStatus(ctx, taskID, StatusProcessing, nil, "")
	require.NoError(t, err)

	task, err := queue.GetTask(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, task.Status)
	assert.NotNil(t, task.StartedAt, "进入处理中应该记录开始时间")

	// 更新为完成并附带结果
	result := &PredictResult{JobID: "job-2", Predictions: 10}
	err = queue.UpdateTaskStatus(ctx, taskID, StatusCompleted, result, "")
	require.NoError(t, err)

	task, err = queue.GetTask(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, task.Status)
	assert.NotNil(t, task.CompletedAt, "完成应该记录结束时间")

	var decoded PredictResult
	require.NoError(t, UnmarshalPayload(task.Result, &decoded))
	assert.Equal(t, 10, decoded.Predictions)
}

func TestRedisQueue_UpdateTaskStatus_Failed(t *testing.T) {
	queue := setupTestQueue(t)
	ctx := context.Background()

	taskID, err := queue.Enqueue(ctx, TaskFineTune, "job-3", nil)
	require.NoError(t, err)

	err = queue.UpdateTaskStatus(ctx, taskID, StatusFailed, nil, "train step 5 failed: out of memory")
	require.NoError(t, err)

	task, err := queue.GetTask(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, task.Status)
	assert.Contains(t, task.Error, "out of memory")
}

func TestRedisQueue_GetTasksByJob(t *testing.T) {
	queue := setupTestQueue(t)
	ctx := context.Background()

	_, err := queue.Enqueue(ctx, TaskFineTune, "job-4", nil)
	require.NoError(t, err)
	_, err = queue.Enqueue(ctx, TaskEvaluate, "job-4", nil)
	require.NoError(t, err)
	_, err = queue.Enqueue(ctx, TaskFineTune, "other-job", nil)
	require.NoError(t, err)

	tasks, err := queue.GetTasksByJob(ctx, "job-4")
	require.NoError(t, err)
	assert.Len(t, tasks, 2, "应该只返回指定微调任务的队列任务")

	for _, task := range tasks {
		assert.Equal(t, "job-4", task.JobID)
	}
}

func TestRedisQueue_DeleteTask(t *testing.T) {
	queue := setupTestQueue(t)
	ctx := context.Background()

	taskID, err := queue.Enqueue(ctx, TaskEvaluate, "job-5", nil)
	require.NoError(t, err)

	require.NoError(t, queue.DeleteTask(ctx, taskID))

	_, err = queue.GetTask(ctx, taskID)
	assert.ErrorIs(t, err, ErrTaskNotFound)

	tasks, err := queue.GetTasksByJob(ctx, "job-5")
	require.NoError(t, err)
	assert.Empty(t, tasks, "删除后不应该出现在任务集合中")
}

func TestRedisQueue_WaitForTask(t *testing.T) {
	queue := setupTestQueue(t)
	ctx := context.Background()

	taskID, err := queue.Enqueue(ctx, TaskFineTune, "job-6", nil)
	require.NoError(t, err)

	// 后台延迟完成任务
	go func() {
		time.Sleep(100 * time.Millisecond)
		queue.UpdateTaskStatus(ctx, taskID, StatusCompleted, nil, "")
		queue.NotifyTaskUpdate(ctx, taskID)
	}()

	task, err := queue.WaitForTask(ctx, taskID, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, task.Status)
}

func TestRedisQueue_WaitForTask_Timeout(t *testing.T) {
	queue := setupTestQueue(t)
	ctx := context.Background()

	taskID, err := queue.Enqueue(ctx, TaskFineTune, "job-7", nil)
	require.NoError(t, err)

	// 任务永远不会完成
	_, err = queue.WaitForTask(ctx, taskID, 200*time.Millisecond)
	assert.ErrorIs(t, err, ErrTaskTimeout)
}
