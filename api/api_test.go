package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/fyerfyer/text-sum-system/api/handler"
	"github.com/fyerfyer/text-sum-system/api/model"
	"github.com/fyerfyer/text-sum-system/internal/cache"
	"github.com/fyerfyer/text-sum-system/internal/database"
	"github.com/fyerfyer/text-sum-system/internal/dataset"
	"github.com/fyerfyer/text-sum-system/internal/models"
	"github.com/fyerfyer/text-sum-system/internal/repository"
	"github.com/fyerfyer/text-sum-system/internal/services"
	"github.com/fyerfyer/text-sum-system/pkg/storage"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// setupTestAPI 创建测试用的路由和依赖
// 流水线服务不带模型运行时，只用于不触发训练的接口测试
func setupTestAPI(t *testing.T) (*gin.Engine, repository.JobRepository, *services.JobStatusManager) {
	t.Helper()

	gin.SetMode(gin.TestMode)

	dbName := fmt.Sprintf("file:memdb_api_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dbName), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.TuneJob{}, &models.CheckpointRecord{}, &models.EvalRecord{}))

	originalDB := database.DB
	database.DB = db
	t.Cleanup(func() { database.DB = originalDB })

	repo := repository.NewJobRepositoryWithDB(db)
	statusManager := services.NewJobStatusManager(repo, nil)

	workDir := t.TempDir()
	store, err := storage.NewLocalStorage(storage.LocalConfig{Path: filepath.Join(workDir, "store")})
	require.NoError(t, err)

	memCache, err := cache.NewMemoryCache(cache.DefaultConfig())
	require.NoError(t, err)

	pipeline := services.NewPipelineService(nil, dataset.NewLoader("http://unused.invalid/archive"), store,
		services.WithJobRepository(repo),
		services.WithStatusManager(statusManager),
		services.WithPredictionCache(cache.NewPredictionCache(memCache, time.Hour)),
		services.WithCacheDir(filepath.Join(workDir, "cache")),
		services.WithOutputDir(filepath.Join(workDir, "output")),
	)

	fineTuneHandler := handler.NewFineTuneHandler(pipeline, statusManager, repo)
	evaluateHandler := handler.NewEvaluateHandler(pipeline)

	router := SetupRouter(fineTuneHandler, evaluateHandler, nil)
	return router, repo, statusManager
}

// doRequest 执行测试请求并解析通用响应
func doRequest(t *testing.T, router *gin.Engine, method, path string, body interface{}) (*httptest.ResponseRecorder, *model.Response) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var resp model.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return w, &resp
}

// decodeData 把响应的data字段解析到目标结构
func decodeData(t *testing.T, resp *model.Response, target interface{}) {
	t.Helper()

	data, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, target))
}

func TestHealthEndpoint(t *testing.T) {
	router, _, _ := setupTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code, "健康检查应返回200")
	assert.Contains(t, w.Body.String(), "ok", "健康检查响应应包含ok")
}

func TestCreateFineTuneJobValidation(t *testing.T) {
	router, _, _ := setupTestAPI(t)

	t.Run("MissingModelName", func(t *testing.T) {
		w, resp := doRequest(t, router, http.MethodPost, "/api/finetune", map[string]interface{}{
			"dataset_path": "data/archive.tar.gz",
		})

		assert.Equal(t, http.StatusBadRequest, w.Code, "缺少模型名称应返回400")
		assert.NotEqual(t, 0, resp.Code, "错误响应的code不应为0")
	})

	t.Run("MissingDatasetPath", func(t *testing.T) {
		w, _ := doRequest(t, router, http.MethodPost, "/api/finetune", map[string]interface{}{
			"model_name": "unilm-base-cased",
		})

		assert.Equal(t, http.StatusBadRequest, w.Code, "缺少数据集路径应返回400")
	})
}

func TestCreateFineTuneJobAsyncFallback(t *testing.T) {
	router, _, statusManager := setupTestAPI(t)

	// 未启用任务队列时创建接口退化为后台goroutine执行
	w, resp := doRequest(t, router, http.MethodPost, "/api/finetune", map[string]interface{}{
		"model_name":   "unilm-base-cased",
		"dataset_path": "does/not/exist.tar.gz",
		"max_steps":    10,
	})

	require.Equal(t, http.StatusOK, w.Code, "创建任务应返回200")

	var submit model.JobSubmitResponse
	decodeData(t, resp, &submit)
	require.NotEmpty(t, submit.JobID, "响应应包含任务ID")
	assert.Empty(t, submit.TaskID, "无队列时不应返回队列任务ID")

	// 数据集不存在，后台流水线会很快失败；等待其结束避免测试清理竞争
	require.Eventually(t, func() bool {
		job, err := statusManager.GetJob(context.Background(), submit.JobID)
		if err != nil {
			return false
		}
		return job.Status == models.JobStatusFailed
	}, 5*time.Second, 50*time.Millisecond, "后台流水线应以失败结束")

	job, err := statusManager.GetJob(context.Background(), submit.JobID)
	require.NoError(t, err)
	assert.NotEmpty(t, job.Error, "失败任务应记录错误信息")
}

func TestGetJobStatus(t *testing.T) {
	router, repo, _ := setupTestAPI(t)

	job := &models.TuneJob{
		ID:          "job-status-1",
		ModelName:   "unilm-base-cased",
		DatasetPath: "data/archive.tar.gz",
		Status:      models.JobStatusRunning,
		CurrentStage: models.StageTraining,
		Progress:    40,
		GlobalStep:  800,
		MaxSteps:    2000,
	}
	require.NoError(t, repo.Create(job))

	t.Run("Found", func(t *testing.T) {
		w, resp := doRequest(t, router, http.MethodGet, "/api/finetune/job-status-1", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var status model.JobStatusResponse
		decodeData(t, resp, &status)
		assert.Equal(t, "job-status-1", status.JobID, "任务ID应匹配")
		assert.Equal(t, "running", status.Status, "任务状态应为running")
		assert.Equal(t, "training", status.Stage, "当前阶段应为training")
		assert.Equal(t, 40, status.Progress, "进度应匹配")
		assert.Equal(t, 800, status.GlobalStep, "已完成步数应匹配")
	})

	t.Run("NotFound", func(t *testing.T) {
		w, _ := doRequest(t, router, http.MethodGet, "/api/finetune/no-such-job", nil)
		assert.Equal(t, http.StatusNotFound, w.Code, "不存在的任务应返回404")
	})
}

func TestListJobs(t *testing.T) {
	router, repo, _ := setupTestAPI(t)

	for i := 0; i < 3; i++ {
		job := &models.TuneJob{
			ID:          fmt.Sprintf("job-list-%d", i),
			ModelName:   "unilm-base-cased",
			DatasetPath: "data/archive.tar.gz",
			MaxSteps:    100,
		}
		if i == 2 {
			job.Status = models.JobStatusCompleted
		}
		require.NoError(t, repo.Create(job))
	}

	t.Run("All", func(t *testing.T) {
		w, resp := doRequest(t, router, http.MethodGet, "/api/finetune?page=1&page_size=10", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var list model.JobListResponse
		decodeData(t, resp, &list)
		assert.Equal(t, int64(3), list.Total, "应返回全部任务")
		assert.Len(t, list.Jobs, 3, "任务列表长度应为3")
	})

	t.Run("FilterByStatus", func(t *testing.T) {
		w, resp := doRequest(t, router, http.MethodGet, "/api/finetune?status=completed", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var list model.JobListResponse
		decodeData(t, resp, &list)
		assert.Equal(t, int64(1), list.Total, "按状态过滤后应只剩1条")
		require.Len(t, list.Jobs, 1)
		assert.Equal(t, "completed", list.Jobs[0].Status)
	})

	t.Run("Pagination", func(t *testing.T) {
		w, resp := doRequest(t, router, http.MethodGet, "/api/finetune?page=2&page_size=2", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var list model.JobListResponse
		decodeData(t, resp, &list)
		assert.Equal(t, int64(3), list.Total, "分页不影响总数")
		assert.Len(t, list.Jobs, 1, "第二页应只有1条")
	})
}

func TestGetPredictionsNotReady(t *testing.T) {
	router, repo, _ := setupTestAPI(t)

	job := &models.TuneJob{
		ID:          "job-pred-1",
		ModelName:   "unilm-base-cased",
		DatasetPath: "data/archive.tar.gz",
		Status:      models.JobStatusRunning,
		MaxSteps:    100,
	}
	require.NoError(t, repo.Create(job))

	w, _ := doRequest(t, router, http.MethodGet, "/api/finetune/job-pred-1/predictions", nil)
	assert.Equal(t, http.StatusConflict, w.Code, "未完成的任务查询预测应返回409")
}

func TestGetScores(t *testing.T) {
	router, repo, _ := setupTestAPI(t)

	job := &models.TuneJob{
		ID:          "job-scores-1",
		ModelName:   "unilm-base-cased",
		DatasetPath: "data/archive.tar.gz",
		Status:      models.JobStatusCompleted,
		MaxSteps:    100,
	}
	require.NoError(t, repo.Create(job))
	require.NoError(t, repo.SaveEvalRecords([]*models.EvalRecord{
		{JobID: job.ID, Metric: "rouge-1", Precision: 0.5, Recall: 0.4, F1: 0.44, Samples: 10},
		{JobID: job.ID, Metric: "rouge-2", Precision: 0.3, Recall: 0.2, F1: 0.24, Samples: 10},
		{JobID: job.ID, Metric: "rouge-l", Precision: 0.45, Recall: 0.35, F1: 0.39, Samples: 10},
	}))

	w, resp := doRequest(t, router, http.MethodGet, "/api/finetune/job-scores-1/scores", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var scores model.ScoresResponse
	decodeData(t, resp, &scores)
	assert.Equal(t, 10, scores.Samples, "样本数应匹配")
	require.Len(t, scores.Scores, 3, "应包含三个指标")
	assert.InDelta(t, 0.44, scores.Scores["rouge-1"].F, 1e-9)
	assert.InDelta(t, 0.2, scores.Scores["rouge-2"].R, 1e-9)
	assert.InDelta(t, 0.45, scores.Scores["rouge-l"].P, 1e-9)
}

func TestGetCheckpoints(t *testing.T) {
	router, repo, _ := setupTestAPI(t)

	job := &models.TuneJob{
		ID:          "job-ckpt-1",
		ModelName:   "unilm-base-cased",
		DatasetPath: "data/archive.tar.gz",
		MaxSteps:    1500,
	}
	require.NoError(t, repo.Create(job))
	require.NoError(t, repo.SaveCheckpoint(&models.CheckpointRecord{
		JobID: job.ID, Step: 500, FileName: "model.500.bin", Size: 1024,
	}))
	require.NoError(t, repo.SaveCheckpoint(&models.CheckpointRecord{
		JobID: job.ID, Step: 1000, FileName: "model.1000.bin", Size: 1024, Final: true,
	}))

	w, resp := doRequest(t, router, http.MethodGet, "/api/finetune/job-ckpt-1/checkpoints", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var list model.CheckpointListResponse
	decodeData(t, resp, &list)
	require.Len(t, list.Checkpoints, 2, "应返回两个检查点")
	assert.Equal(t, "model.500.bin", list.Checkpoints[0].FileName, "检查点应按步数升序")
	assert.True(t, list.Checkpoints[1].Final, "最后一个检查点应为最终检查点")
}

func TestDeleteJob(t *testing.T) {
	router, repo, _ := setupTestAPI(t)

	job := &models.TuneJob{
		ID:          "job-delete-1",
		ModelName:   "unilm-base-cased",
		DatasetPath: "data/archive.tar.gz",
		MaxSteps:    100,
	}
	require.NoError(t, repo.Create(job))

	w, resp := doRequest(t, router, http.MethodDelete, "/api/finetune/job-delete-1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var deleted model.JobDeleteResponse
	decodeData(t, resp, &deleted)
	assert.True(t, deleted.Success, "删除应成功")

	_, err := repo.GetByID("job-delete-1")
	assert.ErrorIs(t, err, models.ErrJobNotFound, "删除后任务应不存在")

	// 重复删除应返回404
	w, _ = doRequest(t, router, http.MethodDelete, "/api/finetune/job-delete-1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestEvaluateEndpoint(t *testing.T) {
	router, _, _ := setupTestAPI(t)

	t.Run("IdenticalTexts", func(t *testing.T) {
		w, resp := doRequest(t, router, http.MethodPost, "/api/evaluate", map[string]interface{}{
			"candidates": []string{"the cat sat on the mat"},
			"references": []string{"the cat sat on the mat"},
		})

		require.Equal(t, http.StatusOK, w.Code)

		var scores model.ScoresResponse
		decodeData(t, resp, &scores)
		require.Len(t, scores.Scores, 3, "应返回三个指标")
		for metric, score := range scores.Scores {
			assert.InDelta(t, 1.0, score.F, 1e-9, "完全相同的文本%s得分应为1", metric)
		}
	})

	t.Run("LengthMismatch", func(t *testing.T) {
		w, _ := doRequest(t, router, http.MethodPost, "/api/evaluate", map[string]interface{}{
			"candidates": []string{"a", "b"},
			"references": []string{"a"},
		})

		assert.Equal(t, http.StatusBadRequest, w.Code, "数量不匹配应返回400")
	})

	t.Run("EmptyCandidates", func(t *testing.T) {
		w, _ := doRequest(t, router, http.MethodPost, "/api/evaluate", map[string]interface{}{
			"candidates": []string{},
			"references": []string{},
		})

		assert.Equal(t, http.StatusBadRequest, w.Code, "空输入应返回400")
	})

	t.Run("AsyncWithoutQueue", func(t *testing.T) {
		w, _ := doRequest(t, router, http.MethodPost, "/api/evaluate", map[string]interface{}{
			"candidates": []string{"a summary"},
			"references": []string{"a reference"},
			"job_id":     "job-any",
			"async":      true,
		})

		assert.Equal(t, http.StatusBadRequest, w.Code, "未启用队列时异步评估应返回400")
	})
}
