package training

import (
	"bytes"
	"context"
	"fmt"
	"path"

	"github.com/fyerfyer/text-sum-system/pkg/storage"
)

// StateExporter 参数快照导出能力接口
// 由模型运行时客户端实现
type StateExporter interface {
	ExportState(ctx context.Context) ([]byte, int, error)
}

// Checkpointer 检查点写入器
// 从运行时导出参数快照并按步数命名写入制品存储，
// 写入后的检查点视为不可变
type Checkpointer struct {
	exporter StateExporter
	store    storage.Storage
	dir      string // 存储内的检查点目录前缀
}

// NewCheckpointer 创建检查点写入器实例
func NewCheckpointer(exporter StateExporter, store storage.Storage, dir string) *Checkpointer {
	return &Checkpointer{
		exporter: exporter,
		store:    store,
		dir:      dir,
	}
}

// CheckpointName 返回步数对应的检查点文件名
func CheckpointName(step int) string {
	return fmt.Sprintf("model.%d.bin", step)
}

// Save 导出当前参数快照并写入存储
// 返回落盘后的对象信息
func (c *Checkpointer) Save(ctx context.Context, step int) (storage.ObjectInfo, error) {
	blob, runtimeStep, err := c.exporter.ExportState(ctx)
	if err != nil {
		return storage.ObjectInfo{}, fmt.Errorf("failed to export state for checkpoint: %w", err)
	}

	// 运行时步数与本地步数不一致说明训练状态错乱，立即失败
	if runtimeStep != step {
		return storage.ObjectInfo{}, fmt.Errorf(
			"runtime step %d does not match checkpoint step %d", runtimeStep, step)
	}

	name := path.Join(c.dir, CheckpointName(step))
	info, err := c.store.Save(bytes.NewReader(blob), name)
	if err != nil {
		return storage.ObjectInfo{}, fmt.Errorf("failed to write checkpoint %s: %w", name, err)
	}

	return info, nil
}
