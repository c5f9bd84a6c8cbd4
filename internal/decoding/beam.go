package decoding

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/fyerfyer/text-sum-system/internal/runtime"
)

// Scorer 下一token打分接口
// 一次调用为多个前缀批量返回按对数概率降序的候选token
type Scorer interface {
	NextLogProbs(ctx context.Context, exampleIdx []int, prefixes [][]int, topK int) ([][]runtime.TokenLogProb, error)
}

// beamState 单条候选序列
type beamState struct {
	tokens []int
	score  float64 // 累积对数概率
}

// finishedBeam 已终止的候选序列及其归一化得分
type finishedBeam struct {
	tokens    []int
	normScore float64
}

// lengthPenalty 长度归一化系数，((5+len)/6)^alpha
func lengthPenalty(length int, alpha float64) float64 {
	if length < 1 {
		length = 1
	}
	return math.Pow((5.0+float64(length))/6.0, alpha)
}

// beamSearch 对一批源序列执行束搜索
// 每步将所有样本的存活候选合并成一次批量打分调用。
// 禁用token和EOS在首个生成位置都被排除；候选在遇到EOS或达到长度上限时终止。
// 返回每个样本归一化得分最高的token序列（不含EOS），与输入同序。
func beamSearch(ctx context.Context, scorer Scorer, numExamples, eosToken int, cfg Config) ([][]int, error) {
	forbidden := make(map[int]bool, len(cfg.ForbiddenTokens))
	for _, tok := range cfg.ForbiddenTokens {
		forbidden[tok] = true
	}

	live := make([][]beamState, numExamples)
	best := make([]*finishedBeam, numExamples)
	for i := 0; i < numExamples; i++ {
		live[i] = []beamState{{tokens: nil, score: 0}}
	}

	// EOS和首步禁用token都会消耗候选名额，多取一些保证束宽
	topK := cfg.BeamSize + len(cfg.ForbiddenTokens) + 1

	for step := 0; step < cfg.MaxTargetLen; step++ {
		var exampleIdx []int
		var prefixes [][]int
		for i := 0; i < numExamples; i++ {
			for _, b := range live[i] {
				exampleIdx = append(exampleIdx, i)
				prefixes = append(prefixes, b.tokens)
			}
		}
		if len(prefixes) == 0 {
			break
		}

		rows, err := scorer.NextLogProbs(ctx, exampleIdx, prefixes, topK)
		if err != nil {
			return nil, fmt.Errorf("beam step %d failed: %w", step, err)
		}
		if len(rows) != len(prefixes) {
			return nil, fmt.Errorf("scorer returned %d rows for %d prefixes", len(rows), len(prefixes))
		}

		cursor := 0
		for i := 0; i < numExamples; i++ {
			var expansions []beamState
			for _, b := range live[i] {
				for _, cand := range rows[cursor] {
					if step == 0 && forbidden[cand.Token] {
						continue
					}

					score := b.score + cand.LogProb
					if cand.Token == eosToken {
						// 空前缀不允许直接终止，否则会产生空摘要
						if len(b.tokens) == 0 {
							continue
						}
						recordFinished(best, i, b.tokens, score, len(b.tokens)+1, cfg.LengthAlpha)
						continue
					}

					next := make([]int, len(b.tokens)+1)
					copy(next, b.tokens)
					next[len(b.tokens)] = cand.Token
					expansions = append(expansions, beamState{tokens: next, score: score})
				}
				cursor++
			}

			// 稳定排序保证同分时低序号候选优先
			sort.SliceStable(expansions, func(a, b int) bool {
				return expansions[a].score > expansions[b].score
			})
			if len(expansions) > cfg.BeamSize {
				expansions = expansions[:cfg.BeamSize]
			}
			live[i] = expansions
		}
	}

	// 达到长度上限仍存活的候选按当前长度归一化后参与终选
	outputs := make([][]int, numExamples)
	for i := 0; i < numExamples; i++ {
		for _, b := range live[i] {
			recordFinished(best, i, b.tokens, b.score, len(b.tokens), cfg.LengthAlpha)
		}

		if best[i] != nil {
			outputs[i] = best[i].tokens
		} else {
			outputs[i] = []int{}
		}
	}

	return outputs, nil
}

// recordFinished 记录一条终止候选，只保留归一化得分严格更高的
func recordFinished(best []*finishedBeam, idx int, tokens []int, score float64, length int, alpha float64) {
	norm := score / lengthPenalty(length, alpha)
	if best[idx] != nil && best[idx].normScore >= norm {
		return
	}

	kept := make([]int, len(tokens))
	copy(kept, tokens)
	best[idx] = &finishedBeam{tokens: kept, normScore: norm}
}
