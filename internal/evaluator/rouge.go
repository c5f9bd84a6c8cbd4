package evaluator

import (
	"strings"
	"unicode"
)

// Score 单个指标的得分
type Score struct {
	F float64 `json:"f"` // F1值
	P float64 `json:"p"` // 精确率
	R float64 `json:"r"` // 召回率
}

// tokenize 将文本切分为小写词序列
// 非字母数字字符视为分隔符
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

// ngramCounts 统计词序列的n元组出现次数
func ngramCounts(tokens []string, n int) map[string]int {
	counts := make(map[string]int)
	for i := 0; i+n <= len(tokens); i++ {
		counts[strings.Join(tokens[i:i+n], "\x00")]++
	}
	return counts
}

// rougeN 计算一对文本的n元组重叠得分
// 重叠计数按参考侧出现次数截断
func rougeN(candidate, reference []string, n int) Score {
	candCounts := ngramCounts(candidate, n)
	refCounts := ngramCounts(reference, n)

	candTotal := 0
	for _, c := range candCounts {
		candTotal += c
	}
	refTotal := 0
	for _, c := range refCounts {
		refTotal += c
	}

	overlap := 0
	for gram, c := range candCounts {
		if rc, ok := refCounts[gram]; ok {
			if c < rc {
				overlap += c
			} else {
				overlap += rc
			}
		}
	}

	return scoreFromOverlap(overlap, candTotal, refTotal)
}

// rougeL 计算一对文本的最长公共子序列得分
func rougeL(candidate, reference []string) Score {
	lcs := lcsLength(candidate, reference)
	return scoreFromOverlap(lcs, len(candidate), len(reference))
}

// lcsLength 两个词序列的最长公共子序列长度
// 滚动数组的动态规划
func lcsLength(a, b []string) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				curr[j] = prev[j-1] + 1
			} else if prev[j] >= curr[j-1] {
				curr[j] = prev[j]
			} else {
				curr[j] = curr[j-1]
			}
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

// scoreFromOverlap 由重叠计数和两侧总数计算P/R/F
func scoreFromOverlap(overlap, candTotal, refTotal int) Score {
	var p, r float64
	if candTotal > 0 {
		p = float64(overlap) / float64(candTotal)
	}
	if refTotal > 0 {
		r = float64(overlap) / float64(refTotal)
	}

	var f float64
	if p+r > 0 {
		f = 2 * p * r / (p + r)
	}

	return Score{F: f, P: p, R: r}
}
