package features

import "errors"

var (
	// ErrCacheCorrupt 特征缓存文件损坏错误
	// 已存在的缓存无法反序列化时返回，调用方需删除文件后重跑，
	// 本层不做自动修复
	ErrCacheCorrupt = errors.New("feature cache file is corrupt")
)
