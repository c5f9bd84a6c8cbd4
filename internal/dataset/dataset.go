package dataset

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Example 一条摘要训练样本
// 源文本为原始文章，目标文本为参考摘要，加载后不可变
type Example struct {
	Source string `json:"src"` // 源文本（文章正文）
	Target string `json:"tgt"` // 目标文本（参考摘要）
}

// Split 数据集的一个划分（训练集或测试集）
// 样本按加载顺序排列，顺序即样本标识
type Split struct {
	Name     string    // 划分名称：train 或 test
	Examples []Example // 有序样本列表
}

// Len 返回划分中的样本数量
func (s *Split) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Examples)
}

// Truncate 截取划分的前n条样本
// n <= 0 时不做截取，返回原划分
func (s *Split) Truncate(n int) *Split {
	if s == nil || n <= 0 || n >= len(s.Examples) {
		return s
	}
	return &Split{
		Name:     s.Name,
		Examples: s.Examples[:n],
	}
}

// Fingerprint 计算划分内容的指纹
// 用于特征缓存的键派生，内容或顺序变化时指纹随之变化
func (s *Split) Fingerprint() string {
	h := sha256.New()
	fmt.Fprintf(h, "%s:%d\n", s.Name, len(s.Examples))
	for _, ex := range s.Examples {
		h.Write([]byte(ex.Source))
		h.Write([]byte{0})
		h.Write([]byte(ex.Target))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}
