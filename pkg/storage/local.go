package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// LocalStorage 本地文件存储实现
type LocalStorage struct {
	basePath string // 基础存储路径
}

// LocalConfig 本地存储配置
type LocalConfig struct {
	Path string // 本地存储路径
}

// NewLocalStorage 创建本地存储实例
func NewLocalStorage(cfg LocalConfig) (*LocalStorage, error) {
	// 确保路径是绝对路径
	absPath, err := filepath.Abs(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path: %v", err)
	}

	// 确保目录存在
	if err := os.MkdirAll(absPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %v", err)
	}

	return &LocalStorage{
		basePath: absPath,
	}, nil
}

// resolve 将对象名称解析为基础路径下的文件路径
// 拒绝越出基础路径的名称
func (s *LocalStorage) resolve(name string) (string, error) {
	cleaned := filepath.Clean(name)
	if cleaned == "." || strings.HasPrefix(cleaned, "..") || filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("invalid object name: %s", name)
	}
	return filepath.Join(s.basePath, cleaned), nil
}

// Save 以指定名称保存对象到本地存储，已存在时覆盖
func (s *LocalStorage) Save(reader io.Reader, name string) (ObjectInfo, error) {
	filePath, err := s.resolve(name)
	if err != nil {
		return ObjectInfo{}, err
	}

	// 创建目录
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return ObjectInfo{}, fmt.Errorf("failed to create directory: %v", err)
	}

	// 创建文件
	file, err := os.Create(filePath)
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("failed to create file: %v", err)
	}
	defer file.Close()

	// 写入文件内容
	size, err := io.Copy(file, reader)
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("failed to write file: %v", err)
	}

	return ObjectInfo{
		Name: filepath.ToSlash(filepath.Clean(name)),
		Size: size,
		Path: filePath,
	}, nil
}

// Get 获取对象内容
func (s *LocalStorage) Get(name string) (io.ReadCloser, error) {
	filePath, err := s.resolve(name)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("object %s not found", name)
		}
		return nil, fmt.Errorf("failed to open file: %v", err)
	}

	return file, nil
}

// Delete 删除对象
func (s *LocalStorage) Delete(name string) error {
	filePath, err := s.resolve(name)
	if err != nil {
		return err
	}

	if err := os.Remove(filePath); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("object %s not found", name)
		}
		return fmt.Errorf("failed to delete file: %v", err)
	}

	return nil
}

// List 列出指定前缀下的所有对象
func (s *LocalStorage) List(prefix string) ([]ObjectInfo, error) {
	var objects []ObjectInfo

	err := filepath.Walk(s.basePath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		// 跳过目录
		if info.IsDir() {
			return nil
		}

		// 获取相对路径作为对象名称
		relPath, err := filepath.Rel(s.basePath, path)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(relPath)

		if prefix != "" && !strings.HasPrefix(name, prefix) {
			return nil
		}

		objects = append(objects, ObjectInfo{
			Name: name,
			Size: info.Size(),
			Path: path,
		})

		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to list objects: %v", err)
	}

	return objects, nil
}

// Exists 检查对象是否存在
func (s *LocalStorage) Exists(name string) (bool, error) {
	filePath, err := s.resolve(name)
	if err != nil {
		return false, err
	}

	if _, err := os.Stat(filePath); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
