package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 应用程序配置结构体
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Storage      StorageConfig      `mapstructure:"storage"`
	Dataset      DatasetConfig      `mapstructure:"dataset"`
	Pipeline     PipelineConfig     `mapstructure:"pipeline"`
	Cache        CacheConfig        `mapstructure:"cache"`
	Queue        QueueConfig        `mapstructure:"queue"`
	Database     DatabaseConfig     `mapstructure:"database"`
	ModelService ModelServiceConfig `mapstructure:"model_service"` // 模型运行时服务配置
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host string `mapstructure:"host"` // 服务器主机
	Port int    `mapstructure:"port"` // 服务器端口
}

// StorageConfig 检查点存储配置
type StorageConfig struct {
	Type      string `mapstructure:"type"`     // 存储类型：local 或 minio
	Path      string `mapstructure:"path"`     // 本地存储路径
	Bucket    string `mapstructure:"bucket"`   // MinIO桶名称
	Endpoint  string `mapstructure:"endpoint"` // MinIO端点
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"` // 是否使用SSL
}

// DatasetConfig 数据集配置
type DatasetConfig struct {
	ArchiveURL string `mapstructure:"archive_url"` // 数据集归档下载地址
	CacheDir   string `mapstructure:"cache_dir"`   // 数据集与特征缓存目录
	OutputDir  string `mapstructure:"output_dir"`  // 预测结果输出目录
}

// PipelineConfig 微调流水线默认参数配置
// 对应请求未显式指定时的服务端默认值
type PipelineConfig struct {
	MaxSourceLen   int     `mapstructure:"max_source_len"`   // 源文本最大token数
	MaxTargetLen   int     `mapstructure:"max_target_len"`   // 摘要最大token数
	BatchSize      int     `mapstructure:"batch_size"`       // 单设备批大小
	GradAccumSteps int     `mapstructure:"grad_accum_steps"` // 梯度累积步数
	DeviceCount    int     `mapstructure:"device_count"`     // 并行设备数
	LearningRate   float64 `mapstructure:"learning_rate"`    // 峰值学习率
	WarmupSteps    int     `mapstructure:"warmup_steps"`     // 学习率预热步数
	MaxSteps       int     `mapstructure:"max_steps"`        // 目标优化步数
	SaveSteps      int     `mapstructure:"save_steps"`       // 检查点保存间隔
	Fp16           bool    `mapstructure:"fp16"`             // 是否启用混合精度
	BeamSize       int     `mapstructure:"beam_size"`        // 集束搜索宽度
	LengthAlpha    float64 `mapstructure:"length_alpha"`     // 长度惩罚系数
	CheckpointDir  string  `mapstructure:"checkpoint_dir"`   // 检查点存储目录前缀
}

// CacheConfig 预测结果缓存配置
type CacheConfig struct {
	Enable   bool   `mapstructure:"enable"`   // 是否启用缓存
	Type     string `mapstructure:"type"`     // 缓存类型：memory 或 redis
	Address  string `mapstructure:"address"`  // Redis地址
	Password string `mapstructure:"password"` // Redis密码
	DB       int    `mapstructure:"db"`       // Redis数据库
	TTL      int    `mapstructure:"ttl"`      // 缓存TTL（秒）
}

// QueueConfig 任务队列配置
type QueueConfig struct {
	Enable        bool   `mapstructure:"enable"`         // 是否启用任务队列
	Type          string `mapstructure:"type"`           // 队列类型：redis
	RedisAddr     string `mapstructure:"redis_addr"`     // Redis地址
	RedisPassword string `mapstructure:"redis_password"` // Redis密码
	RedisDB       int    `mapstructure:"redis_db"`       // Redis数据库编号
	Concurrency   int    `mapstructure:"concurrency"`    // 任务处理并发数
	RetryLimit    int    `mapstructure:"retry_limit"`    // 任务最大重试次数
	RetryDelay    int    `mapstructure:"retry_delay"`    // 重试延迟(秒)
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Type string `mapstructure:"type"` // 数据库类型: sqlite, mysql, postgres
	DSN  string `mapstructure:"dsn"`  // 数据源名称
}

// ModelServiceConfig 模型运行时服务配置
type ModelServiceConfig struct {
	BaseURL     string        `mapstructure:"base_url"`     // 运行时服务基础URL
	Timeout     time.Duration `mapstructure:"timeout"`      // 请求超时时间
	MaxRetries  int           `mapstructure:"max_retries"`  // 最大重试次数
	RetryDelay  time.Duration `mapstructure:"retry_delay"`  // 重试间隔
	DialTimeout time.Duration `mapstructure:"dial_timeout"` // 连接超时
}

// Load 从文件和环境变量加载配置
func Load(configPath string) (*Config, error) {
	var config Config

	// 设置默认配置路径
	if configPath == "" {
		configPath = "config.yaml" // 默认在当前目录寻找config.yaml
	}

	// 初始化viper
	v := viper.New()

	// 设置配置文件路径和类型
	v.SetConfigFile(configPath)

	// 尝试读取配置文件
	if err := v.ReadInConfig(); err != nil {
		// 如果找不到配置文件，创建一个默认配置文件
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Printf("Warning: Config file not found at %s, using defaults", configPath)
			setDefaults(v)
			// 创建默认配置文件
			dir := filepath.Dir(configPath)
			if err := os.MkdirAll(dir, 0755); err == nil {
				if err := v.WriteConfigAs(configPath); err != nil {
					log.Printf("Warning: Could not write default config to %s: %v", configPath, err)
				}
			}
		} else {
			return nil, fmt.Errorf("failed to read config file: %v", err)
		}
	} else {
		log.Printf("Using config file: %s", v.ConfigFileUsed())
	}

	// 设置默认值
	setDefaults(v)

	// 支持环境变量覆盖
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 解析配置到结构体
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %v", err)
	}

	// 处理配置项中的环境变量占位符
	resConfig := processEnvironmentVariables(&config)

	return resConfig, nil
}

// processEnvironmentVariables 处理形如${VAR}的环境变量占位符
func processEnvironmentVariables(cfg *Config) *Config {
	cfg.Storage.AccessKey = expandEnv(cfg.Storage.AccessKey)
	cfg.Storage.SecretKey = expandEnv(cfg.Storage.SecretKey)
	cfg.Cache.Password = expandEnv(cfg.Cache.Password)
	cfg.Queue.RedisPassword = expandEnv(cfg.Queue.RedisPassword)

	return cfg
}

// expandEnv 展开${VAR}形式的值，环境变量不存在时保留原值
func expandEnv(value string) string {
	if strings.HasPrefix(value, "${") && strings.HasSuffix(value, "}") {
		envVar := value[2 : len(value)-1]
		if envVal := os.Getenv(envVar); envVal != "" {
			return envVal
		}
	}
	return value
}

// setDefaults 设置配置的默认值
func setDefaults(v *viper.Viper) {
	// 服务器默认配置
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)

	// 存储默认配置
	v.SetDefault("storage.type", "local")
	v.SetDefault("storage.path", "./checkpoints")
	v.SetDefault("storage.bucket", "textsum")
	v.SetDefault("storage.use_ssl", false)

	// 数据集默认配置
	v.SetDefault("dataset.archive_url", "https://textsum-data.oss-cn-beijing.aliyuncs.com/bbc_data.tar.gz")
	v.SetDefault("dataset.cache_dir", "data/cache")
	v.SetDefault("dataset.output_dir", "data/output")

	// 流水线默认配置，沿用微调摘要模型的常用超参数
	v.SetDefault("pipeline.max_source_len", 448)
	v.SetDefault("pipeline.max_target_len", 64)
	v.SetDefault("pipeline.batch_size", 4)
	v.SetDefault("pipeline.grad_accum_steps", 2)
	v.SetDefault("pipeline.device_count", 1)
	v.SetDefault("pipeline.learning_rate", 3e-5)
	v.SetDefault("pipeline.warmup_steps", 200)
	v.SetDefault("pipeline.max_steps", 2000)
	v.SetDefault("pipeline.save_steps", 500)
	v.SetDefault("pipeline.fp16", false)
	v.SetDefault("pipeline.beam_size", 5)
	v.SetDefault("pipeline.length_alpha", 0.6)
	v.SetDefault("pipeline.checkpoint_dir", "checkpoints")

	// 缓存默认配置
	v.SetDefault("cache.enable", true)
	v.SetDefault("cache.type", "memory")
	v.SetDefault("cache.ttl", 86400) // 预测结果可长期复用，默认1天

	// 队列默认配置
	v.SetDefault("queue.enable", false)
	v.SetDefault("queue.type", "redis")
	v.SetDefault("queue.redis_addr", "localhost:6379")
	v.SetDefault("queue.redis_db", 0)
	v.SetDefault("queue.concurrency", 1) // 微调任务独占GPU运行时
	v.SetDefault("queue.retry_limit", 0)
	v.SetDefault("queue.retry_delay", 60) // 60秒

	// 数据库默认配置
	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.dsn", "data/textsum.db")

	// 模型运行时服务默认配置
	v.SetDefault("model_service.base_url", "http://localhost:8500/api")
	v.SetDefault("model_service.timeout", "120s")
	v.SetDefault("model_service.max_retries", 3)
	v.SetDefault("model_service.retry_delay", "1s")
	v.SetDefault("model_service.dial_timeout", "5s")
}
