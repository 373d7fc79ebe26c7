package api

import (
	"github.com/gin-gonic/gin"

	"github.com/fyerfyer/sat-parser/api/handler"
	"github.com/fyerfyer/sat-parser/api/middleware"
)

// SetupRouter 设置API路由
func SetupRouter(convHandler *handler.ConversionHandler) *gin.Engine {
	router := gin.New()

	// 应用全局中间件
	router.Use(Cors())
	router.Use(middleware.SetTraceID())
	router.Use(middleware.Logger())
	router.Use(middleware.ErrorMiddleware())

	// 在调试模式下记录请求体
	if gin.Mode() == gin.DebugMode {
		router.Use(middleware.RequestBodyLog())
	}

	api := router.Group("/api")
	{
		convGroup := api.Group("/conversions")
		{
			// 上传PDF - POST /api/conversions
			convGroup.POST("", convHandler.Upload)

			// 任务列表 - GET /api/conversions
			convGroup.GET("", convHandler.List)

			// 任务详情 - GET /api/conversions/:id
			convGroup.GET("/:id", convHandler.Get)

			// 下载CSV - GET /api/conversions/:id/csv
			convGroup.GET("/:id/csv", convHandler.Download)

			// HTML预览 - GET /api/conversions/:id/preview
			convGroup.GET("/:id/preview", convHandler.Preview)

			// 删除任务 - DELETE /api/conversions/:id
			convGroup.DELETE("/:id", convHandler.Delete)
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
func Cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Trace-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
