package runtime

import (
	"time"
)

// ServiceConfig 存储模型运行时服务的连接配置
type ServiceConfig struct {
	BaseURL     string        // 模型运行时服务基础URL
	Timeout     time.Duration // 请求超时时间
	MaxRetries  int           // 最大重试次数
	RetryDelay  time.Duration // 重试间隔
	DialTimeout time.Duration // 连接超时
	EnableTLS   bool          // 是否启用TLS
}

// DefaultConfig 返回默认配置
func DefaultConfig() *ServiceConfig {
	return &ServiceConfig{
		BaseURL:     "http://localhost:8500/api",
		Timeout:     120 * time.Second, // 训练步可能较慢，超时放宽
		MaxRetries:  3,
		RetryDelay:  time.Second,
		DialTimeout: 5 * time.Second,
		EnableTLS:   false,
	}
}

// WithBaseURL 设置基础URL
func (c *ServiceConfig) WithBaseURL(url string) *ServiceConfig {
	c.BaseURL = url
	return c
}

// WithTimeout 设置请求超时时间
func (c *ServiceConfig) WithTimeout(timeout time.Duration) *ServiceConfig {
	c.Timeout = timeout
	return c
}

// WithRetry 设置重试参数
func (c *ServiceConfig) WithRetry(maxRetries int, retryDelay time.Duration) *ServiceConfig {
	c.MaxRetries = maxRetries
	c.RetryDelay = retryDelay
	return c
}

// WithTLS 设置是否启用TLS
func (c *ServiceConfig) WithTLS(enable bool) *ServiceConfig {
	c.EnableTLS = enable
	return c
}
