package services

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"path/filepath"
	"time"

	"github.com/fyerfyer/text-sum-system/internal/cache"
	"github.com/fyerfyer/text-sum-system/internal/dataset"
	"github.com/fyerfyer/text-sum-system/internal/decoding"
	"github.com/fyerfyer/text-sum-system/internal/evaluator"
	"github.com/fyerfyer/text-sum-system/internal/features"
	"github.com/fyerfyer/text-sum-system/internal/models"
	"github.com/fyerfyer/text-sum-system/internal/repository"
	"github.com/fyerfyer/text-sum-system/internal/runtime"
	"github.com/fyerfyer/text-sum-system/internal/training"
	"github.com/fyerfyer/text-sum-system/pkg/storage"
	"github.com/fyerfyer/text-sum-system/pkg/taskqueue"
	"github.com/sirupsen/logrus"
)

// PipelineRuntime 流水线所需的模型运行时能力
// *runtime.ModelClient 实现了该接口
type PipelineRuntime interface {
	LoadPretrained(ctx context.Context, model string) error
	LoadState(ctx context.Context, blob []byte, model string) error
	TokenizeBatch(ctx context.Context, texts []string) ([][]int, error)
	SpecialTokens(ctx context.Context) (*runtime.SpecialTokens, error)
	TrainStep(ctx context.Context, req *runtime.TrainStepRequest) (*runtime.TrainStepResponse, error)
	ExportState(ctx context.Context) ([]byte, int, error)
	StartDecodeSession(ctx context.Context, sourceIDs, sourceMask [][]int) (string, error)
	NextLogProbs(ctx context.Context, sessionID string, exampleIdx []int, prefixes [][]int, topK int) ([][]runtime.TokenLogProb, error)
	CloseDecodeSession(ctx context.Context, sessionID string) error
	DetokenizeBatch(ctx context.Context, tokenIDs [][]int) ([]string, error)
}

// PipelineParams 一次微调流水线的全部参数
// 提交任务时序列化保存在TuneJob.Params中
type PipelineParams struct {
	TopN            int     `json:"top_n"`            // 每个数据切分保留的样本数，0表示全量
	MaxSourceLen    int     `json:"max_source_len"`   // 源序列最大token数
	MaxTargetLen    int     `json:"max_target_len"`   // 目标序列最大token数
	BatchSize       int     `json:"batch_size"`       // 每设备微批大小
	GradAccumSteps  int     `json:"grad_accum_steps"` // 梯度累积步数
	DeviceCount     int     `json:"device_count"`     // 数据并行设备数
	LearningRate    float64 `json:"learning_rate"`    // 基础学习率
	WarmupSteps     int     `json:"warmup_steps"`     // 预热步数
	MaxSteps        int     `json:"max_steps"`        // 目标优化步数
	SaveSteps       int     `json:"save_steps"`       // 检查点间隔步数
	Fp16            bool    `json:"fp16"`             // 是否使用混合精度
	BeamSize        int     `json:"beam_size"`        // 束宽
	LengthAlpha     float64 `json:"length_alpha"`     // 长度归一化指数
	ForbiddenTokens []int   `json:"forbidden_tokens"` // 禁止作为首个生成token的id
	OutputPath      string  `json:"output_path"`      // 预测输出文件路径，空则使用默认
}

// DefaultPipelineParams 返回默认流水线参数
// 默认值沿用微调CNN/DailyMail摘要时的常用配置
func DefaultPipelineParams() PipelineParams {
	return PipelineParams{
		MaxSourceLen:   448,
		MaxTargetLen:   64,
		BatchSize:      4,
		GradAccumSteps: 2,
		DeviceCount:    1,
		LearningRate:   3e-5,
		WarmupSteps:    200,
		MaxSteps:       2000,
		SaveSteps:      500,
		BeamSize:       5,
		LengthAlpha:    0.6,
	}
}

// PipelineSummary 流水线执行结果摘要
type PipelineSummary struct {
	JobID       string                     `json:"job_id"`      // 任务ID
	GlobalStep  int                        `json:"global_step"` // 完成的优化步数
	Checkpoints []string                   `json:"checkpoints"` // 落盘的检查点文件名
	Predictions []string                   `json:"-"`           // 生成的预测文本
	OutputPath  string                     `json:"output_path"` // 预测输出文件路径
	Scores      map[string]evaluator.Score `json:"scores"`      // 各指标得分
	FromCache   bool                       `json:"from_cache"`  // 解码结果是否命中缓存
	Duration    time.Duration              `json:"duration"`    // 执行耗时
}

// PipelineService 微调流水线服务
// 负责协调数据集加载、特征化、训练、解码和评估
type PipelineService struct {
	rt            PipelineRuntime          // 模型运行时
	loader        *dataset.Loader          // 数据集加载器
	store         storage.Storage          // 检查点存储
	repo          repository.JobRepository // 任务元数据存储
	statusManager *JobStatusManager        // 任务状态管理器
	predCache     *cache.PredictionCache   // 预测结果缓存
	taskQueue     taskqueue.Queue          // 任务队列
	asyncEnabled  bool                     // 是否启用异步处理
	cacheDir      string                   // 特征缓存目录
	outputDir     string                   // 预测输出目录
	checkpointDir string                   // 检查点存储目录前缀
	logger        *logrus.Logger           // 日志记录器
}

// PipelineOption 流水线服务配置选项
type PipelineOption func(*PipelineService)

// NewPipelineService 创建微调流水线服务
func NewPipelineService(
	rt PipelineRuntime,
	loader *dataset.Loader,
	store storage.Storage,
	opts ...PipelineOption,
) *PipelineService {
	srv := &PipelineService{
		rt:            rt,
		loader:        loader,
		store:         store,
		cacheDir:      "data/cache",
		outputDir:     "data/output",
		checkpointDir: "checkpoints",
		logger:        logrus.New(),
	}

	for _, opt := range opts {
		opt(srv)
	}

	return srv
}

// WithLogger 设置日志记录器
func WithLogger(logger *logrus.Logger) PipelineOption {
	return func(s *PipelineService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithJobRepository 设置任务仓储
func WithJobRepository(repo repository.JobRepository) PipelineOption {
	return func(s *PipelineService) {
		s.repo = repo
	}
}

// WithStatusManager 设置状态管理器
func WithStatusManager(manager *JobStatusManager) PipelineOption {
	return func(s *PipelineService) {
		s.statusManager = manager
	}
}

// WithPredictionCache 设置预测结果缓存
func WithPredictionCache(pc *cache.PredictionCache) PipelineOption {
	return func(s *PipelineService) {
		s.predCache = pc
	}
}

// WithTaskQueue 设置任务队列
func WithTaskQueue(queue taskqueue.Queue) PipelineOption {
	return func(s *PipelineService) {
		s.taskQueue = queue
		s.asyncEnabled = queue != nil
	}
}

// WithCacheDir 设置特征缓存目录
func WithCacheDir(dir string) PipelineOption {
	return func(s *PipelineService) {
		if dir != "" {
			s.cacheDir = dir
		}
	}
}

// WithOutputDir 设置预测输出目录
func WithOutputDir(dir string) PipelineOption {
	return func(s *PipelineService) {
		if dir != "" {
			s.outputDir = dir
		}
	}
}

// WithCheckpointDir 设置检查点存储目录前缀
func WithCheckpointDir(dir string) PipelineOption {
	return func(s *PipelineService) {
		if dir != "" {
			s.checkpointDir = dir
		}
	}
}

// Init 初始化流水线服务
// 确保必要的依赖都已设置
func (s *PipelineService) Init() error {
	if s.repo == nil {
		s.repo = repository.NewJobRepository()
	}
	if s.statusManager == nil {
		s.statusManager = NewJobStatusManager(s.repo, s.logger)
	}
	return nil
}

// CreateJob 创建微调任务记录
func (s *PipelineService) CreateJob(ctx context.Context, modelName, datasetPath string, params PipelineParams) (*models.TuneJob, error) {
	if err := s.Init(); err != nil {
		return nil, err
	}

	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to encode pipeline params: %w", err)
	}

	job := &models.TuneJob{
		ModelName:   modelName,
		DatasetPath: datasetPath,
		MaxSteps:    params.MaxSteps,
		Params:      paramsJSON,
	}

	if err := s.statusManager.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create tune job: %w", err)
	}
	return job, nil
}

// RunPipeline 同步执行完整微调流水线
// 依次经过加载、特征化、训练、解码和评估阶段；
// 任何阶段失败都将任务标记为失败并原样返回错误，不做流水线级重试
func (s *PipelineService) RunPipeline(ctx context.Context, jobID string) (*PipelineSummary, error) {
	if err := s.Init(); err != nil {
		return nil, err
	}

	job, err := s.statusManager.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	params, err := s.jobParams(job)
	if err != nil {
		return nil, err
	}

	if err := s.statusManager.MarkAsRunning(ctx, jobID); err != nil {
		return nil, err
	}

	start := time.Now()
	summary, err := s.runStages(ctx, job, params)
	if err != nil {
		if failErr := s.statusManager.MarkAsFailed(ctx, jobID, err.Error()); failErr != nil {
			s.logger.WithError(failErr).WithField("job_id", jobID).
				Error("Failed to mark job as failed")
		}
		return nil, err
	}

	if err := s.statusManager.MarkAsCompleted(ctx, jobID); err != nil {
		return nil, err
	}

	summary.Duration = time.Since(start)
	s.logger.WithFields(logrus.Fields{
		"job_id":   jobID,
		"step":     summary.GlobalStep,
		"duration": summary.Duration,
	}).Info("Pipeline completed")

	return summary, nil
}

// runStages 执行流水线的各个阶段
func (s *PipelineService) runStages(ctx context.Context, job *models.TuneJob, params PipelineParams) (*PipelineSummary, error) {
	jobID := job.ID
	summary := &PipelineSummary{JobID: jobID}

	// 阶段一：加载数据集
	s.updateStage(ctx, jobID, models.StageLoading, 5)
	train, test, err := s.loader.Load(ctx, job.DatasetPath, params.TopN)
	if err != nil {
		return nil, fmt.Errorf("dataset loading failed: %w", err)
	}

	job.TrainSize = train.Len()
	job.TestSize = test.Len()
	if err := s.repo.UpdateSplitSizes(job.ID, train.Len(), test.Len()); err != nil {
		return nil, err
	}

	// 多设备模式需要把切分导出为JSONL，供各运行时工作进程读取
	if params.DeviceCount > 1 {
		runDir := filepath.Join(s.cacheDir, jobID)
		if err := dataset.SaveJSONL(train, filepath.Join(runDir, "train.jsonl")); err != nil {
			return nil, fmt.Errorf("failed to export train split: %w", err)
		}
		if err := dataset.SaveJSONL(test, filepath.Join(runDir, "test.jsonl")); err != nil {
			return nil, fmt.Errorf("failed to export test split: %w", err)
		}
	}

	// 阶段二：加载预训练模型并构建特征
	s.updateStage(ctx, jobID, models.StageTokenizing, 15)
	if err := s.rt.LoadPretrained(ctx, job.ModelName); err != nil {
		return nil, fmt.Errorf("failed to load pretrained model: %w", err)
	}

	featCfg := features.Config{
		MaxSourceLen: params.MaxSourceLen,
		MaxTargetLen: params.MaxTargetLen,
		MaxSeqLen:    params.MaxSourceLen + params.MaxTargetLen,
		BatchSize:    64,
	}
	builder, err := features.NewBuilder(s.rt, featCfg, features.WithBuilderLogger(s.logger))
	if err != nil {
		return nil, err
	}

	trainCache := filepath.Join(s.cacheDir, jobID, "train.features.json")
	trainFeats, err := builder.Build(ctx, train, trainCache, features.ModeTrain)
	if err != nil {
		return nil, fmt.Errorf("train feature build failed: %w", err)
	}

	testCache := filepath.Join(s.cacheDir, jobID, "test.features.json")
	testFeats, err := builder.Build(ctx, test, testCache, features.ModeInference)
	if err != nil {
		return nil, fmt.Errorf("test feature build failed: %w", err)
	}

	// 阶段三：训练
	s.updateStage(ctx, jobID, models.StageTraining, 25)
	checkpoints, globalStep, err := s.runTraining(ctx, jobID, params, trainFeats)
	if err != nil {
		return nil, err
	}
	summary.Checkpoints = checkpointNames(checkpoints)
	summary.GlobalStep = globalStep

	// 阶段四：解码
	s.updateStage(ctx, jobID, models.StageDecoding, 70)
	latestCheckpoint := ""
	if len(summary.Checkpoints) > 0 {
		latestCheckpoint = summary.Checkpoints[len(summary.Checkpoints)-1]
	}

	predictions, fromCache, err := s.runDecoding(ctx, job, params, latestCheckpoint, train, test, testFeats)
	if err != nil {
		return nil, err
	}
	summary.Predictions = predictions
	summary.FromCache = fromCache

	outputPath := params.OutputPath
	if outputPath == "" {
		outputPath = filepath.Join(s.outputDir, jobID, "predictions.txt")
	}
	if err := decoding.SavePredictions(outputPath, predictions); err != nil {
		return nil, err
	}
	summary.OutputPath = outputPath

	// 阶段五：评估
	s.updateStage(ctx, jobID, models.StageEvaluating, 90)
	scores, err := s.runEvaluation(ctx, jobID, predictions, test)
	if err != nil {
		return nil, err
	}
	summary.Scores = scores

	return summary, nil
}

// runTraining 执行训练阶段，返回落盘的检查点和完成的步数
func (s *PipelineService) runTraining(ctx context.Context, jobID string, params PipelineParams, trainFeats []features.FeatureRecord) ([]storage.ObjectInfo, int, error) {
	opts := training.Options{
		PerDeviceBatchSize: params.BatchSize,
		GradAccumSteps:     params.GradAccumSteps,
		DeviceCount:        params.DeviceCount,
		LearningRate:       params.LearningRate,
		WarmupSteps:        params.WarmupSteps,
		MaxSteps:           params.MaxSteps,
		SaveSteps:          params.SaveSteps,
		MixedPrecision:     params.Fp16,
	}

	ckpt := training.NewCheckpointer(s.rt, s.store, path.Join(s.checkpointDir, jobID))
	loop, err := training.NewLoop(s.rt, ckpt, opts,
		training.WithLoopLogger(s.logger),
		training.WithProgress(func(step, maxSteps int, loss float64) {
			// 训练阶段在整体进度条上占25%-70%
			if step%50 == 0 || step == maxSteps {
				progress := 25 + step*45/maxSteps
				s.updateStage(ctx, jobID, models.StageTraining, progress)
				if err := s.statusManager.UpdateStep(ctx, jobID, step); err != nil {
					s.logger.WithError(err).Warn("Failed to persist global step")
				}
			}
		}))
	if err != nil {
		return nil, 0, err
	}

	checkpoints, err := loop.Fit(ctx, trainFeats)
	if err != nil {
		return nil, 0, fmt.Errorf("training failed: %w", err)
	}

	// 持久化检查点记录
	for i, info := range checkpoints {
		step := stepFromCheckpoint(info.Name)
		record := &models.CheckpointRecord{
			JobID:    jobID,
			Step:     step,
			FileName: path.Base(info.Name),
			Size:     info.Size,
			Final:    i == len(checkpoints)-1,
		}
		if err := s.repo.SaveCheckpoint(record); err != nil {
			return nil, 0, err
		}
	}

	return checkpoints, params.MaxSteps, nil
}

// runDecoding 执行解码阶段，优先复用预测缓存
// 缓存键覆盖决定权重的全部输入：模型、训练参数、数据集和解码参数；
// 训练在运行时侧是确定性的，相同输入的解码结果可以安全复用
func (s *PipelineService) runDecoding(ctx context.Context, job *models.TuneJob, params PipelineParams, checkpoint string, train, test *dataset.Split, testFeats []features.FeatureRecord) ([]string, bool, error) {
	decodeCfg := decoding.Config{
		BeamSize:        params.BeamSize,
		MaxTargetLen:    params.MaxTargetLen,
		BatchSize:       params.BatchSize * 4,
		LengthAlpha:     params.LengthAlpha,
		ForbiddenTokens: params.ForbiddenTokens,
	}

	cacheKey := ""
	if s.predCache != nil && checkpoint != "" {
		// 训练语料决定权重内容，指纹必须进入缓存键
		decodeFP := fmt.Sprintf("model=%s,train=%s,steps=%d,lr=%g,warmup=%d,batch=%d,accum=%d,fp16=%v,beam=%d,maxlen=%d,alpha=%g,forbidden=%v",
			job.ModelName, train.Fingerprint(), params.MaxSteps, params.LearningRate, params.WarmupSteps,
			params.BatchSize, params.GradAccumSteps, params.Fp16,
			decodeCfg.BeamSize, decodeCfg.MaxTargetLen, decodeCfg.LengthAlpha, decodeCfg.ForbiddenTokens)
		cacheKey = cache.PredictionKey(checkpoint, decodeFP, test.Fingerprint())

		if cached, found, err := s.predCache.Get(ctx, cacheKey); err == nil && found {
			s.logger.WithField("checkpoint", checkpoint).Info("Reusing cached predictions")
			return cached, true, nil
		}
	}

	engine, err := decoding.NewEngine(s.rt, decodeCfg, decoding.WithEngineLogger(s.logger))
	if err != nil {
		return nil, false, err
	}

	predictions, err := engine.Predict(ctx, testFeats)
	if err != nil {
		return nil, false, fmt.Errorf("decoding failed: %w", err)
	}

	if s.predCache != nil && cacheKey != "" {
		if err := s.predCache.Set(ctx, cacheKey, predictions); err != nil {
			s.logger.WithError(err).Warn("Failed to cache predictions")
		}
	}

	return predictions, false, nil
}

// runEvaluation 执行评估阶段并持久化结果
func (s *PipelineService) runEvaluation(ctx context.Context, jobID string, predictions []string, test *dataset.Split) (map[string]evaluator.Score, error) {
	references := make([]string, test.Len())
	for i, ex := range test.Examples {
		references[i] = ex.Target
	}

	scores, err := evaluator.NewEvaluator(evaluator.WithEvaluatorLogger(s.logger)).
		Score(predictions, references)
	if err != nil {
		return nil, fmt.Errorf("evaluation failed: %w", err)
	}

	records := make([]*models.EvalRecord, 0, len(scores))
	for metric, score := range scores {
		records = append(records, &models.EvalRecord{
			JobID:     jobID,
			Metric:    metric,
			Precision: score.P,
			Recall:    score.R,
			F1:        score.F,
			Samples:   len(predictions),
		})
	}
	if err := s.repo.SaveEvalRecords(records); err != nil {
		return nil, err
	}

	return scores, nil
}

// PredictionsPath 返回任务预测结果文件的落盘路径
// 与流水线解码阶段写出预测文件的规则保持一致
func (s *PipelineService) PredictionsPath(job *models.TuneJob) (string, error) {
	params, err := s.jobParams(job)
	if err != nil {
		return "", err
	}
	if params.OutputPath != "" {
		return params.OutputPath, nil
	}
	return filepath.Join(s.outputDir, job.ID, "predictions.txt"), nil
}

// jobParams 从任务记录还原流水线参数
func (s *PipelineService) jobParams(job *models.TuneJob) (PipelineParams, error) {
	params := DefaultPipelineParams()
	if len(job.Params) > 0 {
		if err := json.Unmarshal(job.Params, &params); err != nil {
			return params, fmt.Errorf("failed to decode pipeline params: %w", err)
		}
	}
	if params.MaxSteps == 0 {
		params.MaxSteps = job.MaxSteps
	}
	return params, nil
}

// updateStage 更新阶段信息，失败只记日志不阻断流水线
func (s *PipelineService) updateStage(ctx context.Context, jobID string, stage models.PipelineStage, progress int) {
	if err := s.statusManager.UpdateStage(ctx, jobID, stage, progress); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"job_id": jobID,
			"stage":  stage,
		}).Warn("Failed to update job stage")
	}
}

// checkpointNames 提取检查点对象名列表
func checkpointNames(infos []storage.ObjectInfo) []string {
	names := make([]string, len(infos))
	for i, info := range infos {
		names[i] = path.Base(info.Name)
	}
	return names
}

// stepFromCheckpoint 从检查点文件名中解析步数
func stepFromCheckpoint(name string) int {
	var step int
	fmt.Sscanf(path.Base(name), "model.%d.bin", &step)
	return step
}
