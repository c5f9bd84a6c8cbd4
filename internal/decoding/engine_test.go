package decoding

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/fyerfyer/text-sum-system/internal/features"
	"github.com/fyerfyer/text-sum-system/internal/runtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDecodeRuntime 测试用解码运行时
// 每个样本生成其首个源token的回显，便于校验顺序
type fakeDecodeRuntime struct {
	sessions       int
	closedSessions []string
	sources        map[string][][]int // sessionID -> 源序列
}

func newFakeDecodeRuntime() *fakeDecodeRuntime {
	return &fakeDecodeRuntime{sources: make(map[string][][]int)}
}

func (f *fakeDecodeRuntime) SpecialTokens(ctx context.Context) (*runtime.SpecialTokens, error) {
	return &runtime.SpecialTokens{Pad: 0, Bos: 101, Eos: 102, Unk: 100, VocabSize: 30000}, nil
}

func (f *fakeDecodeRuntime) StartDecodeSession(ctx context.Context, sourceIDs, sourceMask [][]int) (string, error) {
	f.sessions++
	id := fmt.Sprintf("session-%d", f.sessions)
	f.sources[id] = sourceIDs
	return id, nil
}

func (f *fakeDecodeRuntime) NextLogProbs(ctx context.Context, sessionID string, exampleIdx []int, prefixes [][]int, topK int) ([][]runtime.TokenLogProb, error) {
	sources, ok := f.sources[sessionID]
	if !ok {
		return nil, fmt.Errorf("unknown session %s", sessionID)
	}

	rows := make([][]runtime.TokenLogProb, len(prefixes))
	for i, prefix := range prefixes {
		if len(prefix) == 0 {
			// 首步回显该样本的首个源token
			rows[i] = []runtime.TokenLogProb{{Token: sources[exampleIdx[i]][0], LogProb: -0.1}}
		} else {
			rows[i] = []runtime.TokenLogProb{{Token: 102, LogProb: -0.1}}
		}
	}
	return rows, nil
}

func (f *fakeDecodeRuntime) CloseDecodeSession(ctx context.Context, sessionID string) error {
	f.closedSessions = append(f.closedSessions, sessionID)
	return nil
}

func (f *fakeDecodeRuntime) DetokenizeBatch(ctx context.Context, tokenIDs [][]int) ([]string, error) {
	texts := make([]string, len(tokenIDs))
	for i, ids := range tokenIDs {
		s := ""
		for j, id := range ids {
			if j > 0 {
				s += " "
			}
			s += "tok" + strconv.Itoa(id)
		}
		texts[i] = s
	}
	return texts, nil
}

func inferenceRecords(n int) []features.FeatureRecord {
	records := make([]features.FeatureRecord, n)
	for i := range records {
		records[i] = features.FeatureRecord{
			SourceIDs:  []int{1000 + i, 5, 6},
			SourceMask: []int{1, 1, 1},
		}
	}
	return records
}

// TestEnginePredict 测试预测结果与输入等长同序
func TestEnginePredict(t *testing.T) {
	rt := newFakeDecodeRuntime()
	cfg := DefaultConfig()
	cfg.BatchSize = 2

	engine, err := NewEngine(rt, cfg)
	require.NoError(t, err)

	predictions, err := engine.Predict(context.Background(), inferenceRecords(5))
	require.NoError(t, err)

	require.Len(t, predictions, 5, "每条输入恰好产生一条预测")
	for i, pred := range predictions {
		assert.Equal(t, "tok"+strconv.Itoa(1000+i), pred, "第%d条预测应该对应第%d条输入", i, i)
	}

	assert.Equal(t, 3, rt.sessions, "5条记录按批大小2应该开3个会话")
	assert.Len(t, rt.closedSessions, 3, "所有会话都应该被关闭")
}

// TestEnginePredictEmpty 测试空输入直接返回
func TestEnginePredictEmpty(t *testing.T) {
	rt := newFakeDecodeRuntime()
	engine, err := NewEngine(rt, DefaultConfig())
	require.NoError(t, err)

	predictions, err := engine.Predict(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, predictions)
	assert.Zero(t, rt.sessions, "空输入不应该创建会话")
}

// TestNewEngineInvalidConfig 测试非法解码参数被拒绝
func TestNewEngineInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BeamSize = 0

	_, err := NewEngine(newFakeDecodeRuntime(), cfg)
	assert.Error(t, err)
}

// TestSavePredictions 测试输出文件一条预测一行
func TestSavePredictions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "predictions.txt")
	preds := []string{"first summary", "second\nsummary", "third"}

	require.NoError(t, SavePredictions(path, preds))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "first summary\nsecond summary\nthird\n", string(data),
		"每行一条预测，内部换行被替换，文件以换行结尾")
}
