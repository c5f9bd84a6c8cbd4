package dataset

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Loader 数据集加载器
// 负责下载远端归档、解析训练/测试划分并应用样本数上限
type Loader struct {
	archiveURL string         // 远端归档地址
	client     *http.Client   // HTTP客户端
	logger     *logrus.Logger // 日志记录器
}

// LoaderOption 加载器配置选项函数类型
type LoaderOption func(*Loader)

// WithHTTPClient 设置HTTP客户端
func WithHTTPClient(client *http.Client) LoaderOption {
	return func(l *Loader) {
		l.client = client
	}
}

// WithLoaderLogger 设置日志记录器
func WithLoaderLogger(logger *logrus.Logger) LoaderOption {
	return func(l *Loader) {
		l.logger = logger
	}
}

// NewLoader 创建数据集加载器实例
func NewLoader(archiveURL string, opts ...LoaderOption) *Loader {
	l := &Loader{
		archiveURL: archiveURL,
		client: &http.Client{
			Timeout: 10 * time.Minute, // 归档可能较大，超时放宽
		},
		logger: logrus.New(),
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Load 加载数据集的训练集和测试集
// 如果localPath不存在则先从远端下载归档并落盘；
// topN > 0 时每个划分只保留前topN条样本
func (l *Loader) Load(ctx context.Context, localPath string, topN int) (*Split, *Split, error) {
	// 本地没有归档时先下载
	if _, err := os.Stat(localPath); os.IsNotExist(err) {
		if err := l.download(ctx, localPath); err != nil {
			return nil, nil, err
		}
	}

	file, err := os.Open(localPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open dataset archive: %w", err)
	}
	defer file.Close()

	train, test, err := parseArchive(file)
	if err != nil {
		return nil, nil, err
	}

	l.logger.WithFields(logrus.Fields{
		"train_size": train.Len(),
		"test_size":  test.Len(),
		"top_n":      topN,
	}).Info("Dataset loaded")

	return train.Truncate(topN), test.Truncate(topN), nil
}

// download 下载归档到本地路径
func (l *Loader) download(ctx context.Context, localPath string) error {
	l.logger.WithField("url", l.archiveURL).Info("Downloading dataset archive")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.archiveURL, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: unexpected status %d", ErrDownloadFailed, resp.StatusCode)
	}

	// 确保目标目录存在
	if dir := filepath.Dir(localPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create archive directory: %v", err)
		}
	}

	// 先写临时文件，写完后改名，避免留下半截归档被后续运行误用
	tmpPath := localPath + ".tmp"
	out, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create archive file: %v", err)
	}

	size, err := io.Copy(out, resp.Body)
	closeErr := out.Close()
	if err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	if closeErr != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write archive file: %v", closeErr)
	}

	if err := os.Rename(tmpPath, localPath); err != nil {
		return fmt.Errorf("failed to finalize archive file: %v", err)
	}

	l.logger.WithFields(logrus.Fields{
		"path": localPath,
		"size": size,
	}).Info("Dataset archive downloaded")

	return nil
}

// parseArchive 解析tar.gz归档
// 归档内应包含train.jsonl和test.jsonl两个文件
func parseArchive(r io.Reader) (*Split, *Split, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrParseFailed, err)
	}
	defer gz.Close()

	var train, test *Split

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrParseFailed, err)
		}

		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		name := filepath.Base(hdr.Name)
		switch {
		case strings.HasPrefix(name, "train") && strings.HasSuffix(name, ".jsonl"):
			examples, err := readJSONL(tr)
			if err != nil {
				return nil, nil, fmt.Errorf("%w: %v", ErrParseFailed, err)
			}
			train = &Split{Name: "train", Examples: examples}
		case strings.HasPrefix(name, "test") && strings.HasSuffix(name, ".jsonl"):
			examples, err := readJSONL(tr)
			if err != nil {
				return nil, nil, fmt.Errorf("%w: %v", ErrParseFailed, err)
			}
			test = &Split{Name: "test", Examples: examples}
		}
	}

	if train == nil {
		return nil, nil, fmt.Errorf("%w: train", ErrSplitMissing)
	}
	if test == nil {
		return nil, nil, fmt.Errorf("%w: test", ErrSplitMissing)
	}

	return train, test, nil
}
