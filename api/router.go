package api

import (
	"github.com/fyerfyer/text-sum-system/api/handler"
	"github.com/fyerfyer/text-sum-system/api/middleware"
	"github.com/gin-gonic/gin"
)

// SetupRouter 设置API路由
// 配置所有的API端点并应用中间件
func SetupRouter(
	fineTuneHandler *handler.FineTuneHandler,
	evaluateHandler *handler.EvaluateHandler,
	taskHandler *handler.TaskHandler,
) *gin.Engine {
	// 创建默认的Gin路由引擎
	router := gin.Default()

	// 应用全局中间件
	router.Use(middleware.Logger())
	router.Use(middleware.ErrorHandler())
	router.Use(middleware.SetTraceID())

	// 在调试模式下记录请求体和响应体
	if gin.Mode() == gin.DebugMode {
		router.Use(middleware.RequestLogger())
	}

	// 创建API分组
	api := router.Group("/api")
	{
		// 微调任务API
		fineTuneGroup := api.Group("/finetune")
		{
			// 创建微调任务 - POST /api/finetune
			fineTuneGroup.POST("", fineTuneHandler.CreateFineTuneJob)

			// 获取任务列表 - GET /api/finetune
			fineTuneGroup.GET("", fineTuneHandler.ListJobs)

			// 获取任务状态 - GET /api/finetune/:id
			fineTuneGroup.GET("/:id", fineTuneHandler.GetJobStatus)

			// 获取预测摘要 - GET /api/finetune/:id/predictions
			fineTuneGroup.GET("/:id/predictions", fineTuneHandler.GetPredictions)

			// 获取评估得分 - GET /api/finetune/:id/scores
			fineTuneGroup.GET("/:id/scores", fineTuneHandler.GetScores)

			// 获取检查点列表 - GET /api/finetune/:id/checkpoints
			fineTuneGroup.GET("/:id/checkpoints", fineTuneHandler.GetCheckpoints)

			// 删除任务 - DELETE /api/finetune/:id
			fineTuneGroup.DELETE("/:id", fineTuneHandler.DeleteJob)

			// 获取关联的队列任务 - GET /api/finetune/:id/tasks
			if taskHandler != nil {
				fineTuneGroup.GET("/:id/tasks", taskHandler.ListJobTasks)
			}
		}

		// 独立评估API
		evalGroup := api.Group("/evaluate")
		{
			// 计算ROUGE得分 - POST /api/evaluate
			evalGroup.POST("", evaluateHandler.Evaluate)
		}

		// 队列任务API
		if taskHandler != nil {
			taskGroup := api.Group("/tasks")
			{
				// 获取队列任务状态 - GET /api/tasks/:id
				taskGroup.GET("/:id", taskHandler.GetTaskStatus)
			}
		}

		// 健康检查API
		api.GET("/health", func(c *gin.Context) {
			c.JSON(200, gin.H{
				"status": "ok",
			})
		})
	}

	return router
}

// Cors 跨域资源共享中间件
// 如果需要支持跨域请求，可以启用此中间件
func Cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Trace-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
