package runtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newMockRuntime 创建模拟的模型运行时服务
func newMockRuntime(t *testing.T, handler http.HandlerFunc) (*ModelClient, *httptest.Server) {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	config := DefaultConfig()
	config.WithBaseURL(server.URL)
	config.WithRetry(0, time.Millisecond)

	client, err := NewClient(config)
	require.NoError(t, err)

	return NewModelClient(client), server
}

// TestTokenizeBatch 测试批量分词请求
func TestTokenizeBatch(t *testing.T) {
	mc, _ := newMockRuntime(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/model/tokenize", r.URL.Path)

		var req TokenizeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		resp := TokenizeResponse{Success: true}
		for range req.Texts {
			resp.TokenIDs = append(resp.TokenIDs, []int{101, 7, 8, 102})
		}
		json.NewEncoder(w).Encode(resp)
	})

	ids, err := mc.TokenizeBatch(context.Background(), []string{"first text", "second text"})
	require.NoError(t, err)
	assert.Len(t, ids, 2)
	assert.Equal(t, []int{101, 7, 8, 102}, ids[0])
}

// TestTokenizeBatchEmpty 测试空输入直接返回
func TestTokenizeBatchEmpty(t *testing.T) {
	var called atomic.Bool
	mc, _ := newMockRuntime(t, func(w http.ResponseWriter, r *http.Request) {
		called.Store(true)
	})

	ids, err := mc.TokenizeBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.False(t, called.Load(), "空输入不应该发起请求")
}

// TestTokenizeBatchCountMismatch 测试服务端返回数量不一致时的错误
func TestTokenizeBatchCountMismatch(t *testing.T) {
	mc, _ := newMockRuntime(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(TokenizeResponse{
			Success:  true,
			TokenIDs: [][]int{{1}},
		})
	})

	_, err := mc.TokenizeBatch(context.Background(), []string{"a", "b"})
	require.Error(t, err)

	var rtErr RuntimeError
	require.ErrorAs(t, err, &rtErr)
	assert.Equal(t, ErrCodeServerError, rtErr.Code)
}

// TestTrainStepOOM 测试507状态码映射为显存不足错误
func TestTrainStepOOM(t *testing.T) {
	mc, _ := newMockRuntime(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInsufficientStorage)
		json.NewEncoder(w).Encode(map[string]string{"detail": "CUDA out of memory"})
	})

	_, err := mc.TrainStep(context.Background(), &TrainStepRequest{
		Batches:      []MicroBatch{{Device: 0, SourceIDs: [][]int{{1, 2}}}},
		LearningRate: 1e-4,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOutOfMemory)
}

// TestTrainStep 测试正常训练步
func TestTrainStep(t *testing.T) {
	mc, _ := newMockRuntime(t, func(w http.ResponseWriter, r *http.Request) {
		var req TrainStepRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Apply)
		assert.InDelta(t, 0.5, req.LossScale, 1e-9)

		json.NewEncoder(w).Encode(TrainStepResponse{
			Success: true,
			Loss:    2.31,
			Step:    1,
		})
	})

	resp, err := mc.TrainStep(context.Background(), &TrainStepRequest{
		Batches:      []MicroBatch{{Device: 0, SourceIDs: [][]int{{1}}, TargetIDs: [][]int{{2}}}},
		LearningRate: 3e-5,
		LossScale:    0.5,
		Apply:        true,
	})
	require.NoError(t, err)
	assert.InDelta(t, 2.31, resp.Loss, 1e-9)
	assert.Equal(t, 1, resp.Step)
}

// TestDecodeSessionFlow 测试解码会话的创建、打分和关闭
func TestDecodeSessionFlow(t *testing.T) {
	mc, _ := newMockRuntime(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/decode/session":
			json.NewEncoder(w).Encode(DecodeSessionResponse{Success: true, SessionID: "sess-1"})
		case "/decode/logprobs":
			var req LogProbsRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "sess-1", req.SessionID)

			resp := LogProbsResponse{Success: true}
			for range req.Prefixes {
				resp.Candidates = append(resp.Candidates, []TokenLogProb{
					{Token: 5, LogProb: -0.1},
					{Token: 9, LogProb: -1.2},
				})
			}
			json.NewEncoder(w).Encode(resp)
		case "/decode/close":
			w.WriteHeader(http.StatusOK)
		default:
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
	})

	ctx := context.Background()

	sessionID, err := mc.StartDecodeSession(ctx, [][]int{{1, 2, 3}}, [][]int{{1, 1, 1}})
	require.NoError(t, err)
	assert.Equal(t, "sess-1", sessionID)

	cands, err := mc.NextLogProbs(ctx, sessionID, []int{0}, [][]int{{101}}, 2)
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, 5, cands[0][0].Token)

	require.NoError(t, mc.CloseDecodeSession(ctx, sessionID))
}

// TestExportLoadState 测试参数快照导出和加载
func TestExportLoadState(t *testing.T) {
	blob := []byte("opaque-model-weights")

	mc, _ := newMockRuntime(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/model/state":
			json.NewEncoder(w).Encode(StateResponse{
				Success: true,
				State:   base64.StdEncoding.EncodeToString(blob),
				Step:    42,
			})
		case "/model/load_state":
			var req LoadStateRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			decoded, err := base64.StdEncoding.DecodeString(req.State)
			require.NoError(t, err)
			assert.Equal(t, blob, decoded)
			w.WriteHeader(http.StatusOK)
		default:
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
	})

	ctx := context.Background()

	exported, step, err := mc.ExportState(ctx)
	require.NoError(t, err)
	assert.Equal(t, blob, exported)
	assert.Equal(t, 42, step)

	require.NoError(t, mc.LoadState(ctx, exported, "unilm-base-cased"))
}

// TestLoadStateMismatch 测试检查点与模型不匹配时的错误
func TestLoadStateMismatch(t *testing.T) {
	mc, _ := newMockRuntime(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]string{"detail": "checkpoint model mismatch"})
	})

	err := mc.LoadState(context.Background(), []byte("blob"), "wrong-model")
	require.Error(t, err)

	var rtErr RuntimeError
	require.ErrorAs(t, err, &rtErr)
	assert.Equal(t, ErrCodeBadCheckpoint, rtErr.Code)
}

// TestClientRetry 测试传输层错误的重试
func TestClientRetry(t *testing.T) {
	var attempts atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			// 模拟连接被粗暴关闭
			hj, ok := w.(http.Hijacker)
			require.True(t, ok)
			conn, _, err := hj.Hijack()
			require.NoError(t, err)
			conn.Close()
			return
		}
		json.NewEncoder(w).Encode(SpecialTokens{Pad: 0, Bos: 101, Eos: 102, Unk: 100, VocabSize: 30522})
	}))
	defer server.Close()

	config := DefaultConfig()
	config.WithBaseURL(server.URL)
	config.WithRetry(3, time.Millisecond)

	client, err := NewClient(config)
	require.NoError(t, err)
	mc := NewModelClient(client)

	tokens, err := mc.SpecialTokens(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 102, tokens.Eos)
	assert.GreaterOrEqual(t, attempts.Load(), int32(3), "应该至少重试到第3次才成功")
}
