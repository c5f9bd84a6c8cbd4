package training

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestLearningRateWarmup 测试预热阶段线性上升
func TestLearningRateWarmup(t *testing.T) {
	base := 1e-4

	assert.InDelta(t, base*0.1, LearningRate(base, 10, 100, 1000), 1e-12)
	assert.InDelta(t, base*0.5, LearningRate(base, 50, 100, 1000), 1e-12)
	assert.InDelta(t, base, LearningRate(base, 100, 100, 1000), 1e-12, "预热结束时应该到达峰值")
}

// TestLearningRateDecay 测试衰减阶段线性下降到零
func TestLearningRateDecay(t *testing.T) {
	base := 1e-4

	mid := LearningRate(base, 550, 100, 1000)
	assert.InDelta(t, base*0.5, mid, 1e-12)

	assert.InDelta(t, 0, LearningRate(base, 1000, 100, 1000), 1e-12, "最后一步学习率应该为零")
	assert.Equal(t, 0.0, LearningRate(base, 1001, 100, 1000), "超过max_steps后恒为零")
}

// TestLearningRateNoWarmup 测试无预热时直接从峰值衰减
func TestLearningRateNoWarmup(t *testing.T) {
	base := 2e-5

	first := LearningRate(base, 1, 0, 100)
	assert.InDelta(t, base*0.99, first, 1e-12)
	assert.InDelta(t, 0, LearningRate(base, 100, 0, 100), 1e-12)
}

// TestLearningRateMonotonic 测试调度曲线形状
func TestLearningRateMonotonic(t *testing.T) {
	base := 1e-4
	warmup, max := 50, 500

	prev := 0.0
	for step := 1; step <= warmup; step++ {
		lr := LearningRate(base, step, warmup, max)
		assert.Greater(t, lr, prev, "预热阶段应该单调上升 (step=%d)", step)
		prev = lr
	}

	for step := warmup + 1; step <= max; step++ {
		lr := LearningRate(base, step, warmup, max)
		assert.Less(t, lr, prev, "衰减阶段应该单调下降 (step=%d)", step)
		prev = lr
	}
}
