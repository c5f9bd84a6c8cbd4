package decoding

import (
	"context"
	"testing"

	"github.com/fyerfyer/text-sum-system/internal/runtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testEOS = 102

// scriptedScorer 按前缀查表返回候选的测试打分器
// 表键是前缀的最后一个token，空前缀用-1
type scriptedScorer struct {
	table map[int][]runtime.TokenLogProb
	calls int
}

func (s *scriptedScorer) NextLogProbs(ctx context.Context, exampleIdx []int, prefixes [][]int, topK int) ([][]runtime.TokenLogProb, error) {
	s.calls++
	rows := make([][]runtime.TokenLogProb, len(prefixes))
	for i, prefix := range prefixes {
		key := -1
		if len(prefix) > 0 {
			key = prefix[len(prefix)-1]
		}
		cands := s.table[key]
		if len(cands) > topK {
			cands = cands[:topK]
		}
		rows[i] = cands
	}
	return rows, nil
}

func searchConfig(beamSize int) Config {
	cfg := DefaultConfig()
	cfg.BeamSize = beamSize
	cfg.MaxTargetLen = 8
	return cfg
}

// TestBeamSearchGreedy 测试束宽为1时退化为贪心解码
func TestBeamSearchGreedy(t *testing.T) {
	scorer := &scriptedScorer{table: map[int][]runtime.TokenLogProb{
		-1: {{Token: 10, LogProb: -0.1}, {Token: 11, LogProb: -2.0}},
		10: {{Token: 20, LogProb: -0.2}, {Token: 21, LogProb: -1.5}},
		20: {{Token: testEOS, LogProb: -0.1}, {Token: 30, LogProb: -3.0}},
	}}

	outputs, err := beamSearch(context.Background(), scorer, 1, testEOS, searchConfig(1))
	require.NoError(t, err)

	require.Len(t, outputs, 1)
	assert.Equal(t, []int{10, 20}, outputs[0], "贪心路径应该逐位取最优候选")
}

// TestBeamSearchForbiddenFirstToken 测试禁用token只在首个生成位置被排除
func TestBeamSearchForbiddenFirstToken(t *testing.T) {
	scorer := &scriptedScorer{table: map[int][]runtime.TokenLogProb{
		-1: {{Token: 99, LogProb: -0.1}, {Token: 10, LogProb: -0.5}},
		10: {{Token: 99, LogProb: -0.1}, {Token: 20, LogProb: -2.0}},
		99: {{Token: testEOS, LogProb: -0.1}, {Token: 30, LogProb: -3.0}},
	}}

	cfg := searchConfig(1)
	cfg.ForbiddenTokens = []int{99}

	outputs, err := beamSearch(context.Background(), scorer, 1, testEOS, cfg)
	require.NoError(t, err)

	require.Len(t, outputs, 1)
	assert.Equal(t, []int{10, 99}, outputs[0], "首位应该跳过禁用token，后续位置不受限制")
}

// TestBeamSearchEOSFirstToken 测试首位EOS被跳过，不产生空序列
func TestBeamSearchEOSFirstToken(t *testing.T) {
	// 首步最优候选是EOS，解码应该退而选次优token
	scorer := &scriptedScorer{table: map[int][]runtime.TokenLogProb{
		-1: {{Token: testEOS, LogProb: -0.1}, {Token: 10, LogProb: -0.5}},
		10: {{Token: testEOS, LogProb: -0.1}, {Token: 20, LogProb: -2.0}},
	}}

	outputs, err := beamSearch(context.Background(), scorer, 1, testEOS, searchConfig(1))
	require.NoError(t, err)

	require.Len(t, outputs, 1)
	assert.Equal(t, []int{10}, outputs[0], "首位不能直接终止，应该选择次优候选")
}

// TestBeamSearchWiderBeamFindsBetterPath 测试束搜索能越过局部最优
func TestBeamSearchWiderBeamFindsBetterPath(t *testing.T) {
	// 贪心会选10开头（-1.0），但11开头的整条路径得分更高
	scorer := &scriptedScorer{table: map[int][]runtime.TokenLogProb{
		-1: {{Token: 10, LogProb: -1.0}, {Token: 11, LogProb: -1.1}},
		10: {{Token: 20, LogProb: -3.0}, {Token: 21, LogProb: -3.5}},
		11: {{Token: 22, LogProb: -0.2}, {Token: 23, LogProb: -0.4}},
		20: {{Token: testEOS, LogProb: -0.1}},
		21: {{Token: testEOS, LogProb: -0.1}},
		22: {{Token: testEOS, LogProb: -0.1}},
		23: {{Token: testEOS, LogProb: -0.1}},
	}}

	greedy, err := beamSearch(context.Background(), scorer, 1, testEOS, searchConfig(1))
	require.NoError(t, err)
	assert.Equal(t, []int{10, 20}, greedy[0])

	wide, err := beamSearch(context.Background(), scorer, 1, testEOS, searchConfig(2))
	require.NoError(t, err)
	assert.Equal(t, []int{11, 22}, wide[0], "束宽为2时应该找到整体更优的路径")
}

// TestBeamSearchLengthLimit 测试无EOS时在长度上限截断
func TestBeamSearchLengthLimit(t *testing.T) {
	scorer := &scriptedScorer{table: map[int][]runtime.TokenLogProb{
		-1: {{Token: 10, LogProb: -0.1}},
		10: {{Token: 10, LogProb: -0.1}},
	}}

	cfg := searchConfig(1)
	cfg.MaxTargetLen = 5

	outputs, err := beamSearch(context.Background(), scorer, 1, testEOS, cfg)
	require.NoError(t, err)

	require.Len(t, outputs, 1)
	assert.Len(t, outputs[0], 5, "没有EOS时应该在最大长度处截断")
}

// TestBeamSearchMultipleExamples 测试多样本独立解码且保持顺序
func TestBeamSearchMultipleExamples(t *testing.T) {
	// 三个样本共享同一张表，输出应该一致且与输入同序
	scorer := &scriptedScorer{table: map[int][]runtime.TokenLogProb{
		-1: {{Token: 10, LogProb: -0.1}, {Token: 11, LogProb: -0.5}},
		10: {{Token: testEOS, LogProb: -0.1}, {Token: 20, LogProb: -1.0}},
	}}

	outputs, err := beamSearch(context.Background(), scorer, 3, testEOS, searchConfig(2))
	require.NoError(t, err)

	require.Len(t, outputs, 3)
	for i, out := range outputs {
		assert.Equal(t, []int{10}, out, "样本%d的解码结果错误", i)
	}
}

// TestLengthPenalty 测试长度归一化系数
func TestLengthPenalty(t *testing.T) {
	assert.InDelta(t, 1.0, lengthPenalty(1, 0.6), 1e-9, "长度1的系数为1")
	assert.Greater(t, lengthPenalty(10, 0.6), lengthPenalty(5, 0.6), "系数随长度单调增")
	assert.InDelta(t, 1.0, lengthPenalty(20, 0), 1e-9, "alpha为0时不做长度归一化")
}
