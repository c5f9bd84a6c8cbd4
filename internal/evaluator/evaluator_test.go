package evaluator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestScoreIdenticalTexts 测试完全相同的文本各指标F值为1
func TestScoreIdenticalTexts(t *testing.T) {
	texts := []string{
		"the cat sat on the mat",
		"markets rallied after the announcement",
	}

	scores, err := NewEvaluator().Score(texts, texts)
	require.NoError(t, err)

	require.Len(t, scores, 3)
	for _, metric := range []string{MetricRouge1, MetricRouge2, MetricRougeL} {
		s, ok := scores[metric]
		require.True(t, ok, "结果应该包含指标%s", metric)
		assert.InDelta(t, 1.0, s.F, 1e-9, "%s的F值应该为1", metric)
		assert.InDelta(t, 1.0, s.P, 1e-9)
		assert.InDelta(t, 1.0, s.R, 1e-9)
	}
}

// TestScoreKnownOverlap 测试手算的重叠得分
func TestScoreKnownOverlap(t *testing.T) {
	// 候选: [the cat sat]，参考: [the cat sat down]
	// rouge-1: overlap=3, P=3/3, R=3/4
	// rouge-2: overlap=2, P=2/2, R=2/3
	// rouge-l: lcs=3, P=3/3, R=3/4
	scores, err := NewEvaluator().Score([]string{"the cat sat"}, []string{"the cat sat down"})
	require.NoError(t, err)

	assert.InDelta(t, 1.0, scores[MetricRouge1].P, 1e-9)
	assert.InDelta(t, 0.75, scores[MetricRouge1].R, 1e-9)
	assert.InDelta(t, 2*1.0*0.75/1.75, scores[MetricRouge1].F, 1e-9)

	assert.InDelta(t, 1.0, scores[MetricRouge2].P, 1e-9)
	assert.InDelta(t, 2.0/3.0, scores[MetricRouge2].R, 1e-9)

	assert.InDelta(t, 1.0, scores[MetricRougeL].P, 1e-9)
	assert.InDelta(t, 0.75, scores[MetricRougeL].R, 1e-9)
}

// TestScoreDisjointTexts 测试完全不重叠的文本得分为0
func TestScoreDisjointTexts(t *testing.T) {
	scores, err := NewEvaluator().Score([]string{"alpha beta"}, []string{"gamma delta"})
	require.NoError(t, err)

	for metric, s := range scores {
		assert.Zero(t, s.F, "%s的F值应该为0", metric)
		assert.Zero(t, s.P)
		assert.Zero(t, s.R)
	}
}

// TestScoreAveragesOverPairs 测试多样本取平均
func TestScoreAveragesOverPairs(t *testing.T) {
	// 第一对完全一致（各项为1），第二对完全不重叠（各项为0）
	scores, err := NewEvaluator().Score(
		[]string{"exact match here", "totally different"},
		[]string{"exact match here", "nothing shared"},
	)
	require.NoError(t, err)

	assert.InDelta(t, 0.5, scores[MetricRouge1].F, 1e-9, "两对样本的平均F值应该是0.5")
	assert.InDelta(t, 0.5, scores[MetricRougeL].F, 1e-9)
}

// TestScoreLengthMismatch 测试条数不一致返回错误
func TestScoreLengthMismatch(t *testing.T) {
	_, err := NewEvaluator().Score([]string{"one"}, []string{"one", "two"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLengthMismatch)
}

// TestScoreEmptyInput 测试空输入返回错误
func TestScoreEmptyInput(t *testing.T) {
	_, err := NewEvaluator().Score(nil, nil)
	assert.ErrorIs(t, err, ErrNoSamples)
}

// TestTokenizeNormalization 测试切词的大小写和标点处理
func TestTokenizeNormalization(t *testing.T) {
	assert.Equal(t, []string{"the", "cat", "s", "hat", "2024"}, tokenize("The cat's hat, 2024!"))
	assert.Empty(t, tokenize("  ...  "))
}

// TestRougeLSubsequence 测试LCS对非连续匹配的处理
func TestRougeLSubsequence(t *testing.T) {
	// [a b c d] vs [a x c y] 的LCS是[a c]，长度2
	s := rougeL([]string{"a", "b", "c", "d"}, []string{"a", "x", "c", "y"})
	assert.InDelta(t, 0.5, s.P, 1e-9)
	assert.InDelta(t, 0.5, s.R, 1e-9)
	assert.InDelta(t, 0.5, s.F, 1e-9)
}
