package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/fyerfyer/text-sum-system/internal/cache"
	"github.com/fyerfyer/text-sum-system/internal/database"
	"github.com/fyerfyer/text-sum-system/internal/dataset"
	"github.com/fyerfyer/text-sum-system/internal/repository"
	"github.com/fyerfyer/text-sum-system/internal/runtime"
	"github.com/fyerfyer/text-sum-system/internal/services"
	"github.com/fyerfyer/text-sum-system/pkg/storage"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// 命令行微调工具
// 同步执行完整流水线：加载数据集、特征化、训练、解码、评估

type cliOptions struct {
	ModelName   string // 预训练模型名称
	DatasetPath string // 数据集归档路径
	ArchiveURL  string // 数据集归档下载地址（本地路径不存在时使用）
	RuntimeURL  string // 模型运行时服务地址
	DataDir     string // 工作目录
	OutputPath  string // 预测结果输出路径

	TopN           int     // 只取数据集前N条样本
	MaxSourceLen   int     // 源文本最大token数
	MaxTargetLen   int     // 摘要最大token数
	BatchSize      int     // 单设备批大小
	GradAccumSteps int     // 梯度累积步数
	DeviceCount    int     // 并行设备数
	LearningRate   float64 // 峰值学习率
	WarmupSteps    int     // 学习率预热步数
	MaxSteps       int     // 目标优化步数
	SaveSteps      int     // 检查点保存间隔
	Fp16           bool    // 是否启用混合精度
	BeamSize       int     // 集束搜索宽度
	LengthAlpha    float64 // 长度惩罚系数
	Forbidden      string  // 禁止作为首token的token ID，逗号分隔

	LogLevel string // 日志级别
}

func main() {
	_ = godotenv.Load()

	opts := parseOptions()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	if level, err := logrus.ParseLevel(opts.LogLevel); err == nil {
		logger.SetLevel(level)
	}

	if err := run(opts, logger); err != nil {
		logger.WithError(err).Error("Pipeline failed")
		os.Exit(1)
	}
}

func parseOptions() cliOptions {
	opts := cliOptions{}

	flag.StringVar(&opts.ModelName, "model", "unilm-base-cased", "Pretrained model name")
	flag.StringVar(&opts.DatasetPath, "dataset", "data/bbc_data.tar.gz", "Dataset archive path")
	flag.StringVar(&opts.ArchiveURL, "archive-url",
		"https://textsum-data.oss-cn-beijing.aliyuncs.com/bbc_data.tar.gz",
		"Dataset archive URL used when the local path is missing")
	flag.StringVar(&opts.RuntimeURL, "runtime-url", "http://localhost:8500/api", "Model runtime service URL")
	flag.StringVar(&opts.DataDir, "data-dir", "./data", "Working directory")
	flag.StringVar(&opts.OutputPath, "output", "", "Predictions output path (default under data dir)")

	flag.IntVar(&opts.TopN, "top-n", 0, "Use only the first N examples of each split (0 for all)")
	flag.IntVar(&opts.MaxSourceLen, "max-source-len", 448, "Maximum source tokens")
	flag.IntVar(&opts.MaxTargetLen, "max-target-len", 64, "Maximum summary tokens")
	flag.IntVar(&opts.BatchSize, "batch-size", 4, "Per-device batch size")
	flag.IntVar(&opts.GradAccumSteps, "grad-accum", 2, "Gradient accumulation steps")
	flag.IntVar(&opts.DeviceCount, "nproc", 1, "Number of parallel devices")
	flag.Float64Var(&opts.LearningRate, "lr", 3e-5, "Peak learning rate")
	flag.IntVar(&opts.WarmupSteps, "warmup-steps", 200, "Learning rate warmup steps")
	flag.IntVar(&opts.MaxSteps, "max-steps", 2000, "Total optimizer steps")
	flag.IntVar(&opts.SaveSteps, "save-steps", 500, "Checkpoint save interval")
	flag.BoolVar(&opts.Fp16, "fp16", false, "Enable mixed precision training")
	flag.IntVar(&opts.BeamSize, "beam-size", 5, "Beam search width")
	flag.Float64Var(&opts.LengthAlpha, "length-alpha", 0.6, "Length penalty exponent")
	flag.StringVar(&opts.Forbidden, "forbidden-tokens", "", "Comma separated token IDs forbidden as the first generated token")

	flag.StringVar(&opts.LogLevel, "log-level", "info", "Log level (debug/info/warn/error)")

	flag.Parse()
	return opts
}

func run(opts cliOptions, logger *logrus.Logger) error {
	// Ctrl+C中断时优雅取消流水线
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// 初始化数据库
	dbPath := filepath.Join(opts.DataDir, "textsum.db")
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	if err := database.Setup(&database.Config{Type: "sqlite", DSN: dbPath}, logger); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	// 模型运行时客户端
	client, err := runtime.NewClient(runtime.DefaultConfig().WithBaseURL(opts.RuntimeURL))
	if err != nil {
		return fmt.Errorf("failed to create runtime client: %w", err)
	}
	rt := runtime.NewModelClient(client)

	// 检查点存储
	store, err := storage.NewLocalStorage(storage.LocalConfig{
		Path: filepath.Join(opts.DataDir, "checkpoints"),
	})
	if err != nil {
		return fmt.Errorf("failed to create checkpoint storage: %w", err)
	}

	// 预测结果缓存
	memCache, err := cache.NewMemoryCache(cache.DefaultConfig())
	if err != nil {
		return fmt.Errorf("failed to create cache: %w", err)
	}

	repo := repository.NewJobRepository()
	statusManager := services.NewJobStatusManager(repo, logger)
	loader := dataset.NewLoader(opts.ArchiveURL, dataset.WithLoaderLogger(logger))

	pipeline := services.NewPipelineService(rt, loader, store,
		services.WithJobRepository(repo),
		services.WithStatusManager(statusManager),
		services.WithPredictionCache(cache.NewPredictionCache(memCache, 24*time.Hour)),
		services.WithCacheDir(filepath.Join(opts.DataDir, "cache")),
		services.WithOutputDir(filepath.Join(opts.DataDir, "output")),
		services.WithLogger(logger),
	)

	params, err := pipelineParams(opts)
	if err != nil {
		return err
	}

	job, err := pipeline.CreateJob(ctx, opts.ModelName, opts.DatasetPath, params)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"job_id":    job.ID,
		"model":     job.ModelName,
		"max_steps": job.MaxSteps,
	}).Info("Starting fine-tune pipeline")

	start := time.Now()
	summary, err := pipeline.RunPipeline(ctx, job.ID)
	if err != nil {
		return err
	}

	printSummary(summary, time.Since(start))
	return nil
}

// pipelineParams 把命令行选项转换为流水线参数
func pipelineParams(opts cliOptions) (services.PipelineParams, error) {
	params := services.DefaultPipelineParams()
	params.TopN = opts.TopN
	params.MaxSourceLen = opts.MaxSourceLen
	params.MaxTargetLen = opts.MaxTargetLen
	params.BatchSize = opts.BatchSize
	params.GradAccumSteps = opts.GradAccumSteps
	params.DeviceCount = opts.DeviceCount
	params.LearningRate = opts.LearningRate
	params.WarmupSteps = opts.WarmupSteps
	params.MaxSteps = opts.MaxSteps
	params.SaveSteps = opts.SaveSteps
	params.Fp16 = opts.Fp16
	params.BeamSize = opts.BeamSize
	params.LengthAlpha = opts.LengthAlpha
	params.OutputPath = opts.OutputPath

	if opts.Forbidden != "" {
		for _, part := range strings.Split(opts.Forbidden, ",") {
			token, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil {
				return params, fmt.Errorf("invalid forbidden token %q: %w", part, err)
			}
			params.ForbiddenTokens = append(params.ForbiddenTokens, token)
		}
	}

	return params, nil
}

// printSummary 打印流水线执行结果和ROUGE得分表
func printSummary(summary *services.PipelineSummary, elapsed time.Duration) {
	fmt.Println()
	fmt.Printf("Job:         %s\n", summary.JobID)
	fmt.Printf("Steps:       %d\n", summary.GlobalStep)
	fmt.Printf("Checkpoints: %s\n", strings.Join(summary.Checkpoints, ", "))
	fmt.Printf("Predictions: %s", summary.OutputPath)
	if summary.FromCache {
		fmt.Print(" (from cache)")
	}
	fmt.Println()
	fmt.Printf("Elapsed:     %s\n", elapsed.Round(time.Second))
	fmt.Println()

	metrics := make([]string, 0, len(summary.Scores))
	for metric := range summary.Scores {
		metrics = append(metrics, metric)
	}
	sort.Strings(metrics)

	fmt.Printf("%-10s %10s %10s %10s\n", "metric", "f", "p", "r")
	for _, metric := range metrics {
		score := summary.Scores[metric]
		fmt.Printf("%-10s %10.4f %10.4f %10.4f\n", metric, score.F, score.P, score.R)
	}
}
