package runtime

import (
	"errors"
	"fmt"
)

// ErrOutOfMemory 设备显存不足错误
// 批大小超出设备容量，调用方应减小批大小或启用混合精度后重跑，
// 本层不会自动用更小的批重试
var ErrOutOfMemory = errors.New("device out of memory")

// RuntimeError 模型运行时调用错误类型
type RuntimeError struct {
	Code    int    // 错误码
	Message string // 错误消息
}

// Error 实现error接口
func (e RuntimeError) Error() string {
	return fmt.Sprintf("runtime error (code=%d): %s", e.Code, e.Message)
}

// 错误码常量
const (
	ErrCodeInvalidRequest = 2001 // 无效的请求
	ErrCodeNetworkError   = 2002 // 网络连接错误
	ErrCodeModelNotLoaded = 2003 // 模型未加载
	ErrCodeOutOfMemory    = 2004 // 设备显存不足
	ErrCodeServerError    = 2005 // 服务器错误
	ErrCodeTimeout        = 2006 // 请求超时
	ErrCodeBadCheckpoint  = 2007 // 检查点与模型配置不匹配
)

// NewRuntimeError 创建新的运行时错误
func NewRuntimeError(code int, message string) RuntimeError {
	return RuntimeError{
		Code:    code,
		Message: message,
	}
}

// WrapError 包装普通错误为运行时错误
func WrapError(err error, code int) RuntimeError {
	if err == nil {
		return RuntimeError{Code: code, Message: "unknown error"}
	}

	// 如果已经是RuntimeError类型，则直接返回
	var rtErr RuntimeError
	if errors.As(err, &rtErr) {
		return rtErr
	}

	return RuntimeError{
		Code:    code,
		Message: err.Error(),
	}
}
