package storage

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestLocalStorageSaveGet 测试本地存储的保存和读取
func TestLocalStorageSaveGet(t *testing.T) {
	store, err := NewLocalStorage(LocalConfig{Path: t.TempDir()})
	require.NoError(t, err)

	content := []byte("opaque checkpoint bytes")
	info, err := store.Save(bytes.NewReader(content), "job-1/model.500.bin")
	require.NoError(t, err)
	assert.Equal(t, "job-1/model.500.bin", info.Name)
	assert.Equal(t, int64(len(content)), info.Size)

	reader, err := store.Get("job-1/model.500.bin")
	require.NoError(t, err)
	defer reader.Close()

	got, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

// TestLocalStorageOverwrite 测试同名对象被覆盖
func TestLocalStorageOverwrite(t *testing.T) {
	store, err := NewLocalStorage(LocalConfig{Path: t.TempDir()})
	require.NoError(t, err)

	_, err = store.Save(bytes.NewReader([]byte("old")), "pred.txt")
	require.NoError(t, err)
	_, err = store.Save(bytes.NewReader([]byte("new content")), "pred.txt")
	require.NoError(t, err)

	reader, err := store.Get("pred.txt")
	require.NoError(t, err)
	defer reader.Close()

	got, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, "new content", string(got))
}

// TestLocalStorageExistsDelete 测试存在性检查和删除
func TestLocalStorageExistsDelete(t *testing.T) {
	store, err := NewLocalStorage(LocalConfig{Path: t.TempDir()})
	require.NoError(t, err)

	exists, err := store.Exists("missing.bin")
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = store.Save(bytes.NewReader([]byte("x")), "a/b.bin")
	require.NoError(t, err)

	exists, err = store.Exists("a/b.bin")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, store.Delete("a/b.bin"))

	exists, err = store.Exists("a/b.bin")
	require.NoError(t, err)
	assert.False(t, exists)

	// 删除不存在的对象应该报错
	assert.Error(t, store.Delete("a/b.bin"))
}

// TestLocalStorageList 测试按前缀列出对象
func TestLocalStorageList(t *testing.T) {
	store, err := NewLocalStorage(LocalConfig{Path: t.TempDir()})
	require.NoError(t, err)

	_, err = store.Save(bytes.NewReader([]byte("1")), "job-1/model.100.bin")
	require.NoError(t, err)
	_, err = store.Save(bytes.NewReader([]byte("2")), "job-1/model.200.bin")
	require.NoError(t, err)
	_, err = store.Save(bytes.NewReader([]byte("3")), "job-2/model.100.bin")
	require.NoError(t, err)

	objects, err := store.List("job-1/")
	require.NoError(t, err)
	assert.Len(t, objects, 2)

	all, err := store.List("")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

// TestLocalStorageRejectsEscapingNames 测试越出基础路径的名称被拒绝
func TestLocalStorageRejectsEscapingNames(t *testing.T) {
	store, err := NewLocalStorage(LocalConfig{Path: t.TempDir()})
	require.NoError(t, err)

	_, err = store.Save(bytes.NewReader([]byte("x")), "../outside.bin")
	assert.Error(t, err)

	_, err = store.Get("/etc/passwd")
	assert.Error(t, err)
}
