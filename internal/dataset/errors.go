package dataset

import "errors"

var (
	// ErrDownloadFailed 数据集归档下载失败错误
	// 网络不可达或远端返回错误状态，属于致命错误，本层不做重试
	ErrDownloadFailed = errors.New("dataset archive download failed")

	// ErrParseFailed 数据集归档格式无法识别错误
	ErrParseFailed = errors.New("dataset archive format not recognized")

	// ErrSplitMissing 归档中缺少必需的数据划分错误
	ErrSplitMissing = errors.New("dataset split missing from archive")
)
