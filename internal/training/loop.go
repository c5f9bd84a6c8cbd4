package training

import (
	"context"
	"fmt"

	"github.com/fyerfyer/text-sum-system/internal/features"
	"github.com/fyerfyer/text-sum-system/internal/runtime"
	"github.com/fyerfyer/text-sum-system/pkg/storage"
	"github.com/sirupsen/logrus"
)

// ModelRuntime 训练所需的运行时能力接口
// 由模型运行时客户端实现
type ModelRuntime interface {
	TrainStep(ctx context.Context, req *runtime.TrainStepRequest) (*runtime.TrainStepResponse, error)
}

// Options 训练循环参数
type Options struct {
	PerDeviceBatchSize int     // 每设备微批大小
	GradAccumSteps     int     // 每次参数更新累积的微批数
	DeviceCount        int     // 数据并行设备数
	LearningRate       float64 // 峰值学习率
	WarmupSteps        int     // 学习率线性预热步数
	MaxSteps           int     // 优化步数上限，训练到此为止
	SaveSteps          int     // 检查点落盘的步数间隔
	MixedPrecision     bool    // 是否使用混合精度
}

// DefaultOptions 返回默认训练参数
func DefaultOptions() Options {
	return Options{
		PerDeviceBatchSize: 4,
		GradAccumSteps:     2,
		DeviceCount:        1,
		LearningRate:       3e-5,
		WarmupSteps:        500,
		MaxSteps:           5000,
		SaveSteps:          1500,
		MixedPrecision:     false,
	}
}

// Validate 校验训练参数的合法性
func (o Options) Validate() error {
	if o.PerDeviceBatchSize <= 0 {
		return fmt.Errorf("per-device batch size must be positive, got %d", o.PerDeviceBatchSize)
	}
	if o.GradAccumSteps <= 0 {
		return fmt.Errorf("gradient accumulation steps must be positive, got %d", o.GradAccumSteps)
	}
	if o.DeviceCount <= 0 {
		return fmt.Errorf("device count must be positive, got %d", o.DeviceCount)
	}
	if o.MaxSteps <= 0 {
		return fmt.Errorf("max steps must be positive, got %d", o.MaxSteps)
	}
	if o.WarmupSteps < 0 || o.WarmupSteps > o.MaxSteps {
		return fmt.Errorf("warmup steps %d out of range [0, %d]", o.WarmupSteps, o.MaxSteps)
	}
	if o.SaveSteps <= 0 {
		return fmt.Errorf("save steps must be positive, got %d", o.SaveSteps)
	}
	if o.LearningRate <= 0 {
		return fmt.Errorf("learning rate must be positive, got %g", o.LearningRate)
	}
	return nil
}

// EffectiveBatchSize 返回一次参数更新消费的样本数
func (o Options) EffectiveBatchSize() int {
	return o.PerDeviceBatchSize * o.DeviceCount * o.GradAccumSteps
}

// ProgressFunc 训练进度回调函数
// 在每次参数更新后调用
type ProgressFunc func(step, maxSteps int, loss float64)

// Loop 训练循环
// 将特征记录切分为各设备的微批次，按梯度累积节奏驱动运行时训练步，
// 并按固定步数间隔写检查点。数据集不足一轮时循环使用
type Loop struct {
	rt       ModelRuntime
	ckpt     *Checkpointer
	opts     Options
	logger   *logrus.Logger
	progress ProgressFunc
}

// LoopOption 训练循环配置选项函数类型
type LoopOption func(*Loop)

// WithLoopLogger 设置日志记录器
func WithLoopLogger(logger *logrus.Logger) LoopOption {
	return func(l *Loop) {
		l.logger = logger
	}
}

// WithProgress 设置进度回调
func WithProgress(fn ProgressFunc) LoopOption {
	return func(l *Loop) {
		l.progress = fn
	}
}

// NewLoop 创建训练循环实例
func NewLoop(rt ModelRuntime, ckpt *Checkpointer, opts Options, loopOpts ...LoopOption) (*Loop, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	l := &Loop{
		rt:     rt,
		ckpt:   ckpt,
		opts:   opts,
		logger: logrus.New(),
	}

	for _, opt := range loopOpts {
		opt(l)
	}

	return l, nil
}

// Fit 在特征记录上执行完整训练
// 恰好执行MaxSteps次参数更新后返回，与epoch边界无关。
// 上下文取消只在步间生效，单步内的前向/反向/聚合不可中断
func (l *Loop) Fit(ctx context.Context, records []features.FeatureRecord) ([]storage.ObjectInfo, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("no training features provided")
	}

	l.logger.WithFields(logrus.Fields{
		"records":         len(records),
		"max_steps":       l.opts.MaxSteps,
		"effective_batch": l.opts.EffectiveBatchSize(),
		"devices":         l.opts.DeviceCount,
		"mixed_precision": l.opts.MixedPrecision,
	}).Info("Starting training loop")

	cursor := 0
	lossScale := 1.0 / float64(l.opts.GradAccumSteps)

	var checkpoints []storage.ObjectInfo
	lastSaved := 0

	for step := 1; step <= l.opts.MaxSteps; step++ {
		// 取消只在步间检查
		select {
		case <-ctx.Done():
			return checkpoints, fmt.Errorf("training canceled at step %d: %w", step, ctx.Err())
		default:
		}

		lr := LearningRate(l.opts.LearningRate, step, l.opts.WarmupSteps, l.opts.MaxSteps)

		var stepLoss float64
		for accum := 0; accum < l.opts.GradAccumSteps; accum++ {
			batches, next := l.nextMicroBatches(records, cursor)
			cursor = next

			resp, err := l.rt.TrainStep(ctx, &runtime.TrainStepRequest{
				Batches:        batches,
				LearningRate:   lr,
				LossScale:      lossScale,
				Apply:          accum == l.opts.GradAccumSteps-1,
				MixedPrecision: l.opts.MixedPrecision,
			})
			if err != nil {
				return checkpoints, fmt.Errorf("train step %d failed: %w", step, err)
			}
			stepLoss += resp.Loss * lossScale
		}

		if l.progress != nil {
			l.progress(step, l.opts.MaxSteps, stepLoss)
		}

		if step%100 == 0 || step == l.opts.MaxSteps {
			l.logger.WithFields(logrus.Fields{
				"step":          step,
				"loss":          stepLoss,
				"learning_rate": lr,
			}).Info("Training progress")
		}

		// 按固定步数间隔写检查点
		if l.ckpt != nil && step%l.opts.SaveSteps == 0 {
			info, err := l.ckpt.Save(ctx, step)
			if err != nil {
				return checkpoints, err
			}
			checkpoints = append(checkpoints, info)
			lastSaved = step
			l.logger.WithField("checkpoint", info.Name).Info("Checkpoint saved")
		}
	}

	// 训练结束时补写最终检查点，避免与步数间隔恰好对齐时重复落盘
	if l.ckpt != nil && lastSaved != l.opts.MaxSteps {
		info, err := l.ckpt.Save(ctx, l.opts.MaxSteps)
		if err != nil {
			return checkpoints, err
		}
		checkpoints = append(checkpoints, info)
		l.logger.WithField("checkpoint", info.Name).Info("Final checkpoint saved")
	}

	l.logger.WithField("checkpoints", len(checkpoints)).Info("Training completed")
	return checkpoints, nil
}

// nextMicroBatches 为所有设备装配下一组微批次
// 游标到达末尾时回绕，多轮遍历数据集
func (l *Loop) nextMicroBatches(records []features.FeatureRecord, cursor int) ([]runtime.MicroBatch, int) {
	batches := make([]runtime.MicroBatch, l.opts.DeviceCount)

	for device := 0; device < l.opts.DeviceCount; device++ {
		batch := runtime.MicroBatch{Device: device}

		for i := 0; i < l.opts.PerDeviceBatchSize; i++ {
			rec := records[cursor%len(records)]
			cursor++

			batch.SourceIDs = append(batch.SourceIDs, rec.SourceIDs)
			batch.SourceMask = append(batch.SourceMask, rec.SourceMask)
			batch.TargetIDs = append(batch.TargetIDs, rec.TargetIDs)
			batch.SegmentIDs = append(batch.SegmentIDs, rec.SegmentIDs)
			batch.PositionIDs = append(batch.PositionIDs, rec.PositionIDs)
		}

		batches[device] = batch
	}

	return batches, cursor % len(records)
}
