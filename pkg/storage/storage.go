package storage

import (
	"io"
)

// ObjectInfo 制品元数据结构
type ObjectInfo struct {
	Name string // 对象名称，即调用方提供的相对路径
	Size int64  // 对象大小(字节)
	Path string // 内部存储路径(实现相关)
}

// Storage 制品存储接口
// 保存训练流水线产出的检查点和预测输出文件，
// 对象按调用方给定的名称存取，可以有不同实现(本地文件系统、MinIO等)
type Storage interface {
	// Save 以指定名称保存对象并返回对象信息
	// 同名对象会被覆盖
	Save(reader io.Reader, name string) (ObjectInfo, error)

	// Get 获取对象内容
	Get(name string) (io.ReadCloser, error)

	// Delete 删除对象
	Delete(name string) error

	// List 列出指定前缀下的所有对象
	List(prefix string) ([]ObjectInfo, error)

	// Exists 检查对象是否存在
	Exists(name string) (bool, error)
}

// Factory 存储实现的工厂函数
// 用于根据配置创建不同类型的存储实现
type Factory func(cfg interface{}) (Storage, error)
