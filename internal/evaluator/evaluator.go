package evaluator

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// 评估指标名称
const (
	MetricRouge1 = "rouge-1"
	MetricRouge2 = "rouge-2"
	MetricRougeL = "rouge-l"
)

// Evaluator 摘要质量评估器
// 对候选摘要和参考摘要逐对计算ROUGE得分后取平均
type Evaluator struct {
	logger *logrus.Logger
}

// EvaluatorOption 评估器配置选项
type EvaluatorOption func(*Evaluator)

// WithEvaluatorLogger 设置评估器的日志记录器
func WithEvaluatorLogger(logger *logrus.Logger) EvaluatorOption {
	return func(e *Evaluator) {
		e.logger = logger
	}
}

// NewEvaluator 创建评估器实例
func NewEvaluator(opts ...EvaluatorOption) *Evaluator {
	e := &Evaluator{logger: logrus.New()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Score 计算候选与参考之间的平均ROUGE得分
// 两侧条数必须一致且非空，按下标逐对配对
func (e *Evaluator) Score(candidates, references []string) (map[string]Score, error) {
	if len(candidates) != len(references) {
		return nil, fmt.Errorf("%w: %d candidates vs %d references",
			ErrLengthMismatch, len(candidates), len(references))
	}
	if len(candidates) == 0 {
		return nil, ErrNoSamples
	}

	sums := map[string]Score{
		MetricRouge1: {},
		MetricRouge2: {},
		MetricRougeL: {},
	}

	for i := range candidates {
		cand := tokenize(candidates[i])
		ref := tokenize(references[i])

		accumulate(sums, MetricRouge1, rougeN(cand, ref, 1))
		accumulate(sums, MetricRouge2, rougeN(cand, ref, 2))
		accumulate(sums, MetricRougeL, rougeL(cand, ref))
	}

	n := float64(len(candidates))
	result := make(map[string]Score, len(sums))
	for metric, sum := range sums {
		result[metric] = Score{F: sum.F / n, P: sum.P / n, R: sum.R / n}
	}

	e.logger.WithFields(logrus.Fields{
		"samples": len(candidates),
		"rouge_1": fmt.Sprintf("%.4f", result[MetricRouge1].F),
		"rouge_2": fmt.Sprintf("%.4f", result[MetricRouge2].F),
		"rouge_l": fmt.Sprintf("%.4f", result[MetricRougeL].F),
	}).Info("Evaluation completed")

	return result, nil
}

func accumulate(sums map[string]Score, metric string, s Score) {
	acc := sums[metric]
	acc.F += s.F
	acc.P += s.P
	acc.R += s.R
	sums[metric] = acc
}
