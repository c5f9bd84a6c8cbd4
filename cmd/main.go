package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fyerfyer/text-sum-system/api"
	"github.com/fyerfyer/text-sum-system/api/handler"
	"github.com/fyerfyer/text-sum-system/api/middleware"
	tsconfig "github.com/fyerfyer/text-sum-system/config"
	"github.com/fyerfyer/text-sum-system/internal/cache"
	"github.com/fyerfyer/text-sum-system/internal/database"
	"github.com/fyerfyer/text-sum-system/internal/dataset"
	"github.com/fyerfyer/text-sum-system/internal/repository"
	"github.com/fyerfyer/text-sum-system/internal/runtime"
	"github.com/fyerfyer/text-sum-system/internal/services"
	"github.com/fyerfyer/text-sum-system/pkg/storage"
	"github.com/fyerfyer/text-sum-system/pkg/taskqueue"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// 配置选项
type config struct {
	Port         int           // 服务端口
	Mode         string        // 运行模式 (debug/release)
	LogLevel     string        // 日志级别
	LogFile      string        // 日志文件路径，空则只输出到标准输出
	ReadTimeout  time.Duration // 读取超时
	WriteTimeout time.Duration // 写入超时
	DataDir      string        // 数据目录路径
	ConfigFile   string        // 配置文件路径

	StoragePath string // 检查点存储路径
	ArchiveURL  string // 数据集归档下载地址
	RuntimeURL  string // 模型运行时服务地址
	CacheType   string // 缓存类型

	// 任务队列相关配置
	QueueEnabled     bool          // 是否启用任务队列
	QueueType        string        // 任务队列类型
	RedisAddr        string        // Redis 地址
	RedisPassword    string        // Redis 密码
	RedisDB          int           // Redis 数据库编号
	QueueConcurrency int           // 任务队列处理并发数
	QueueRetryLimit  int           // 任务重试次数
	QueueRetryDelay  time.Duration // 任务重试延迟
}

func main() {
	// 加载.env文件（如果存在）
	_ = godotenv.Load()

	// 解析命令行参数
	cfg := parseFlags()

	// 加载配置文件(如果指定)
	var appConfig *tsconfig.Config
	var err error
	if cfg.ConfigFile != "" {
		appConfig, err = tsconfig.Load(cfg.ConfigFile)
		if err != nil {
			log.Printf("Warning: Failed to load config file: %v, using command line args", err)
		} else {
			// 使用配置文件中的值更新相关设置
			updateConfigFromFile(&cfg, appConfig)
		}
	}

	// 设置Gin模式
	gin.SetMode(cfg.Mode)

	// 初始化日志
	logger := setupLogger(cfg)
	logger.Info("Starting text summarization fine-tune service...")

	// 初始化数据库
	if err := setupDatabase(cfg, logger); err != nil {
		logger.Fatalf("Failed to initialize database: %v", err)
	}

	// 创建模型运行时客户端
	rt, err := setupRuntime(cfg, appConfig)
	if err != nil {
		logger.Fatalf("Failed to initialize model runtime client: %v", err)
	}

	// 创建检查点存储
	store, err := setupStorage(cfg, appConfig)
	if err != nil {
		logger.Fatalf("Failed to initialize storage: %v", err)
	}

	// 创建预测结果缓存
	predCache, err := setupCache(cfg)
	if err != nil {
		logger.Fatalf("Failed to initialize cache: %v", err)
	}

	// 初始化任务队列（如果启用）
	var queue taskqueue.Queue
	if cfg.QueueEnabled {
		queue, err = setupTaskQueue(cfg, logger)
		if err != nil {
			logger.Fatalf("Failed to initialize task queue: %v", err)
		}
		defer queue.Close()
		logger.Info("Task queue initialized successfully")
	}

	// 初始化仓储和状态管理器
	repo := repository.NewJobRepository()
	statusManager := services.NewJobStatusManager(repo, logger)

	// 创建数据集加载器
	loader := dataset.NewLoader(cfg.ArchiveURL, dataset.WithLoaderLogger(logger))

	// 创建流水线服务
	pipelineOptions := []services.PipelineOption{
		services.WithJobRepository(repo),
		services.WithStatusManager(statusManager),
		services.WithPredictionCache(predCache),
		services.WithCacheDir(filepath.Join(cfg.DataDir, "cache")),
		services.WithOutputDir(filepath.Join(cfg.DataDir, "output")),
		services.WithLogger(logger),
	}

	if queue != nil {
		pipelineOptions = append(pipelineOptions, services.WithTaskQueue(queue))
		logger.Info("Pipeline will use async task queue")
	}

	pipelineService := services.NewPipelineService(rt, loader, store, pipelineOptions...)

	// 启动队列工作进程（如果启用）
	if queue != nil {
		worker, err := setupWorker(cfg, queue, pipelineService, logger)
		if err != nil {
			logger.Fatalf("Failed to start task worker: %v", err)
		}
		defer worker.Stop()
	}

	// 初始化API处理器
	fineTuneHandler := handler.NewFineTuneHandler(pipelineService, statusManager, repo)
	evaluateHandler := handler.NewEvaluateHandler(pipelineService)

	var taskHandler *handler.TaskHandler
	if queue != nil {
		taskHandler = handler.NewTaskHandler(queue)
	}

	// 设置路由
	r := api.SetupRouter(fineTuneHandler, evaluateHandler, taskHandler)

	// 启动HTTP服务器
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	// 优雅关闭
	go func() {
		// 启动服务
		logger.Infof("Server is running on port %d", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// 等待终止信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	// 创建带超时的上下文
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// 优雅关闭服务器
	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatalf("Server forced to shutdown: %v", err)
	}

	logger.Info("Server exited")
}

// parseFlags 解析命令行参数
func parseFlags() config {
	cfg := config{}

	// 服务配置
	flag.IntVar(&cfg.Port, "port", 8080, "Server port")
	flag.StringVar(&cfg.Mode, "mode", "debug", "Run mode (debug/release)")
	flag.StringVar(&cfg.LogLevel, "log-level", "info", "Log level (debug/info/warn/error)")
	flag.StringVar(&cfg.LogFile, "log-file", "", "Log file path (empty for stdout only)")
	flag.DurationVar(&cfg.ReadTimeout, "read-timeout", 30*time.Second, "Read timeout")
	flag.DurationVar(&cfg.WriteTimeout, "write-timeout", 30*time.Second, "Write timeout")

	// 存储配置
	flag.StringVar(&cfg.StoragePath, "storage", "./checkpoints", "Checkpoint storage path")

	// 数据集配置
	flag.StringVar(&cfg.ArchiveURL, "archive-url",
		"https://textsum-data.oss-cn-beijing.aliyuncs.com/bbc_data.tar.gz",
		"Dataset archive URL")

	// 模型运行时配置
	flag.StringVar(&cfg.RuntimeURL, "runtime-url", "http://localhost:8500/api", "Model runtime service URL")

	// 缓存配置
	flag.StringVar(&cfg.CacheType, "cache", "memory", "Cache type (memory/redis)")

	// 数据目录配置
	flag.StringVar(&cfg.DataDir, "data-dir", "./data", "Data directory path")

	// 配置文件
	flag.StringVar(&cfg.ConfigFile, "config", "", "Path to config file")

	// 任务队列配置
	flag.BoolVar(&cfg.QueueEnabled, "queue", false, "Enable task queue")
	flag.StringVar(&cfg.QueueType, "queue-type", "redis", "Task queue type (redis)")
	flag.StringVar(&cfg.RedisAddr, "redis-addr", "localhost:6379", "Redis address for task queue")
	flag.StringVar(&cfg.RedisPassword, "redis-password", "", "Redis password")
	flag.IntVar(&cfg.RedisDB, "redis-db", 0, "Redis database number")
	flag.IntVar(&cfg.QueueConcurrency, "queue-concurrency", 1, "Task queue concurrency")
	flag.IntVar(&cfg.QueueRetryLimit, "queue-retry", 0, "Max retry attempts for failed tasks")
	flag.DurationVar(&cfg.QueueRetryDelay, "queue-retry-delay", time.Minute, "Delay between retry attempts")

	// 从环境变量获取连接信息（优先级高于命令行参数）
	if runtimeURL := os.Getenv("MODEL_RUNTIME_URL"); runtimeURL != "" {
		cfg.RuntimeURL = runtimeURL
	}
	if redisAddr := os.Getenv("REDIS_ADDR"); redisAddr != "" {
		cfg.RedisAddr = redisAddr
	}
	if redisPassword := os.Getenv("REDIS_PASSWORD"); redisPassword != "" {
		cfg.RedisPassword = redisPassword
	}

	flag.Parse()
	return cfg
}

// updateConfigFromFile 从配置文件更新命令行参数
func updateConfigFromFile(cfg *config, appConfig *tsconfig.Config) {
	// 只更新未在命令行上明确设置的参数

	if flag.Lookup("runtime-url").DefValue == cfg.RuntimeURL && appConfig.ModelService.BaseURL != "" {
		cfg.RuntimeURL = appConfig.ModelService.BaseURL
	}
	if flag.Lookup("archive-url").DefValue == cfg.ArchiveURL && appConfig.Dataset.ArchiveURL != "" {
		cfg.ArchiveURL = appConfig.Dataset.ArchiveURL
	}
	if flag.Lookup("storage").DefValue == cfg.StoragePath && appConfig.Storage.Path != "" {
		cfg.StoragePath = appConfig.Storage.Path
	}
	if flag.Lookup("cache").DefValue == cfg.CacheType && appConfig.Cache.Type != "" {
		cfg.CacheType = appConfig.Cache.Type
	}

	// 任务队列配置
	if flag.Lookup("queue").DefValue == fmt.Sprint(cfg.QueueEnabled) {
		cfg.QueueEnabled = appConfig.Queue.Enable
	}
	if flag.Lookup("queue-type").DefValue == cfg.QueueType && appConfig.Queue.Type != "" {
		cfg.QueueType = appConfig.Queue.Type
	}
	if flag.Lookup("redis-addr").DefValue == cfg.RedisAddr && appConfig.Queue.RedisAddr != "" {
		cfg.RedisAddr = appConfig.Queue.RedisAddr
	}
	if flag.Lookup("redis-password").DefValue == cfg.RedisPassword {
		cfg.RedisPassword = appConfig.Queue.RedisPassword
	}
	if flag.Lookup("redis-db").DefValue == fmt.Sprint(cfg.RedisDB) {
		cfg.RedisDB = appConfig.Queue.RedisDB
	}
	if flag.Lookup("queue-concurrency").DefValue == fmt.Sprint(cfg.QueueConcurrency) && appConfig.Queue.Concurrency > 0 {
		cfg.QueueConcurrency = appConfig.Queue.Concurrency
	}
	if flag.Lookup("queue-retry").DefValue == fmt.Sprint(cfg.QueueRetryLimit) {
		cfg.QueueRetryLimit = appConfig.Queue.RetryLimit
	}
	if appConfig.Queue.RetryDelay > 0 {
		cfg.QueueRetryDelay = time.Duration(appConfig.Queue.RetryDelay) * time.Second
	}
}

// setupLogger 设置日志系统
func setupLogger(cfg config) *logrus.Logger {
	logger := middleware.GetLogger()

	// 设置日志级别
	switch cfg.LogLevel {
	case "debug":
		logger.SetLevel(logrus.DebugLevel)
	case "info":
		logger.SetLevel(logrus.InfoLevel)
	case "warn":
		logger.SetLevel(logrus.WarnLevel)
	case "error":
		logger.SetLevel(logrus.ErrorLevel)
	default:
		logger.SetLevel(logrus.InfoLevel)
	}

	// 配置日志文件滚动输出
	if cfg.LogFile != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    100, // MB
			MaxBackups: 5,
			MaxAge:     30, // 天
			Compress:   true,
		}
		logger.SetOutput(io.MultiWriter(os.Stdout, rotator))
	}

	return logger
}

// setupDatabase 设置数据库
func setupDatabase(cfg config, logger *logrus.Logger) error {
	dbPath := filepath.Join(cfg.DataDir, "textsum.db")

	// 确保数据目录存在
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return fmt.Errorf("failed to create database directory: %v", err)
	}

	// 初始化数据库
	dbConfig := &database.Config{
		Type: "sqlite",
		DSN:  dbPath,
	}

	return database.Setup(dbConfig, logger)
}

// setupRuntime 设置模型运行时客户端
func setupRuntime(cfg config, appConfig *tsconfig.Config) (*runtime.ModelClient, error) {
	serviceConfig := runtime.DefaultConfig().WithBaseURL(cfg.RuntimeURL)

	// 配置文件中的超时和重试设置优先
	if appConfig != nil {
		if appConfig.ModelService.Timeout > 0 {
			serviceConfig = serviceConfig.WithTimeout(appConfig.ModelService.Timeout)
		}
		if appConfig.ModelService.MaxRetries > 0 {
			serviceConfig = serviceConfig.WithRetry(appConfig.ModelService.MaxRetries, appConfig.ModelService.RetryDelay)
		}
	}

	client, err := runtime.NewClient(serviceConfig)
	if err != nil {
		return nil, err
	}

	return runtime.NewModelClient(client), nil
}

// setupStorage 设置检查点存储
func setupStorage(cfg config, appConfig *tsconfig.Config) (storage.Storage, error) {
	// 配置了MinIO时优先使用对象存储
	if appConfig != nil && appConfig.Storage.Type == "minio" {
		return storage.NewMinioStorage(storage.MinioConfig{
			Endpoint:  appConfig.Storage.Endpoint,
			AccessKey: appConfig.Storage.AccessKey,
			SecretKey: appConfig.Storage.SecretKey,
			UseSSL:    appConfig.Storage.UseSSL,
			Bucket:    appConfig.Storage.Bucket,
		})
	}

	// 确保存储目录存在
	if err := os.MkdirAll(cfg.StoragePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %v", err)
	}

	// 创建本地存储
	return storage.NewLocalStorage(storage.LocalConfig{
		Path: cfg.StoragePath,
	})
}

// setupCache 设置预测结果缓存
func setupCache(cfg config) (*cache.PredictionCache, error) {
	cacheConfig := cache.Config{
		Type:            cfg.CacheType,
		DefaultTTL:      24 * time.Hour,
		CleanupInterval: 10 * time.Minute,
	}

	// 如果配置了Redis，添加Redis配置
	if cfg.CacheType == "redis" {
		cacheConfig.RedisAddr = cfg.RedisAddr
		cacheConfig.RedisPassword = cfg.RedisPassword
		// Redis数据库编号默认为0
	}

	c, err := cache.NewCache(cacheConfig)
	if err != nil {
		return nil, err
	}

	return cache.NewPredictionCache(c, cacheConfig.DefaultTTL), nil
}

// setupTaskQueue 设置任务队列
func setupTaskQueue(cfg config, logger *logrus.Logger) (taskqueue.Queue, error) {
	if !cfg.QueueEnabled {
		return nil, nil
	}

	// 根据配置创建任务队列
	queueConfig := &taskqueue.Config{
		RedisAddr:     cfg.RedisAddr,
		RedisPassword: cfg.RedisPassword,
		RedisDB:       cfg.RedisDB,
		Concurrency:   cfg.QueueConcurrency,
		RetryLimit:    cfg.QueueRetryLimit,
		RetryDelay:    cfg.QueueRetryDelay,
	}

	logger.WithFields(logrus.Fields{
		"type":        cfg.QueueType,
		"redis_addr":  cfg.RedisAddr,
		"concurrency": cfg.QueueConcurrency,
		"retry_limit": cfg.QueueRetryLimit,
	}).Info("Setting up task queue")

	queue, err := taskqueue.NewQueue(cfg.QueueType, queueConfig)
	if err != nil {
		return nil, err
	}

	return queue, nil
}

// setupWorker 启动队列工作进程并注册流水线任务处理器
func setupWorker(cfg config, queue taskqueue.Queue, pipeline *services.PipelineService, logger *logrus.Logger) (taskqueue.Worker, error) {
	redisQueue, ok := queue.(*taskqueue.RedisQueue)
	if !ok {
		return nil, fmt.Errorf("task worker requires a redis queue, got %T", queue)
	}

	queueConfig := &taskqueue.Config{
		RedisAddr:     cfg.RedisAddr,
		RedisPassword: cfg.RedisPassword,
		RedisDB:       cfg.RedisDB,
		Concurrency:   cfg.QueueConcurrency,
		RetryLimit:    cfg.QueueRetryLimit,
		RetryDelay:    cfg.QueueRetryDelay,
	}

	worker := taskqueue.NewRedisWorker(redisQueue, queueConfig)

	taskHandler := services.NewPipelineTaskHandler(pipeline, logger)
	for _, taskType := range taskHandler.GetTaskTypes() {
		worker.RegisterHandler(taskType, taskHandler)
	}

	if err := worker.Start(); err != nil {
		return nil, err
	}

	logger.Info("Task worker started")
	return worker, nil
}
