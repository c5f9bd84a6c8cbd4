package dataset

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestJSONLRoundTrip 测试JSONL序列化和反序列化的往返一致性
func TestJSONLRoundTrip(t *testing.T) {
	split := &Split{
		Name: "train",
		Examples: []Example{
			{Source: "first article body", Target: "first summary"},
			{Source: "second article with \"quotes\" and <tags>", Target: "second summary"},
			{Source: "多语言文本 with unicode ☃", Target: "摘要内容"},
		},
	}

	path := filepath.Join(t.TempDir(), "out", "train.jsonl")
	require.NoError(t, SaveJSONL(split, path))

	reloaded, err := LoadJSONL(path, "train")
	require.NoError(t, err)

	require.Equal(t, split.Len(), reloaded.Len(), "往返后样本数量应该一致")
	for i := range split.Examples {
		assert.Equal(t, split.Examples[i], reloaded.Examples[i], "样本 %d 应该逐元素相等", i)
	}
}

// TestSaveJSONLIdempotent 测试重复写入结果确定且覆盖旧文件
func TestSaveJSONLIdempotent(t *testing.T) {
	split := &Split{
		Name: "test",
		Examples: []Example{
			{Source: "article", Target: "summary"},
		},
	}

	path := filepath.Join(t.TempDir(), "split.jsonl")
	require.NoError(t, SaveJSONL(split, path))
	first, err := os.ReadFile(path)
	require.NoError(t, err)

	require.NoError(t, SaveJSONL(split, path))
	second, err := os.ReadFile(path)
	require.NoError(t, err)

	assert.Equal(t, first, second, "两次写入的字节内容应该完全一致")
}

// TestSaveJSONLFieldNames 测试输出字段名为src和tgt
func TestSaveJSONLFieldNames(t *testing.T) {
	split := &Split{
		Name:     "test",
		Examples: []Example{{Source: "a", Target: "b"}},
	}

	path := filepath.Join(t.TempDir(), "fields.jsonl")
	require.NoError(t, SaveJSONL(split, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"src":"a","tgt":"b"}`, string(data))
}

// TestLoadJSONLSkipsEmptyLines 测试空行被忽略
func TestLoadJSONLSkipsEmptyLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gaps.jsonl")
	content := "{\"src\":\"a\",\"tgt\":\"b\"}\n\n{\"src\":\"c\",\"tgt\":\"d\"}\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	split, err := LoadJSONL(path, "train")
	require.NoError(t, err)
	assert.Equal(t, 2, split.Len())
}

// TestLoadJSONLInvalid 测试格式错误时返回解析错误
func TestLoadJSONLInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("not json at all\n"), 0644))

	_, err := LoadJSONL(path, "train")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrParseFailed)
}
