package evaluator

import "errors"

var (
	// ErrLengthMismatch 候选与参考条数不一致
	ErrLengthMismatch = errors.New("candidate and reference counts do not match")

	// ErrNoSamples 没有可评估的样本对
	ErrNoSamples = errors.New("no sample pairs to evaluate")
)
