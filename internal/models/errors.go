package models

import "errors"

var (
	// ErrJobNotFound 微调任务不存在错误
	ErrJobNotFound = errors.New("tune job not found")

	// ErrInvalidJobStatus 无效的任务状态错误
	ErrInvalidJobStatus = errors.New("invalid tune job status")

	// ErrCheckpointNotFound 检查点不存在错误
	ErrCheckpointNotFound = errors.New("checkpoint not found")
)
