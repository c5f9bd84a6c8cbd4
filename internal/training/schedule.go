package training

// LearningRate 计算给定优化步的学习率
// 前warmupSteps步从0线性升到base，之后线性衰减，到maxSteps时归零。
// step从1开始计数，对应第step次参数更新
func LearningRate(base float64, step, warmupSteps, maxSteps int) float64 {
	if step <= 0 || maxSteps <= 0 {
		return 0
	}
	if step > maxSteps {
		return 0
	}

	if warmupSteps > 0 && step <= warmupSteps {
		return base * float64(step) / float64(warmupSteps)
	}

	if maxSteps == warmupSteps {
		return base
	}

	return base * float64(maxSteps-step) / float64(maxSteps-warmupSteps)
}
