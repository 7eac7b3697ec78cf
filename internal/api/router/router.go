package router

import (
	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/jobqueue/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	r.GET("/health", handler.Health(deps.Logger, deps.Health))

	jobHandler := handler.NewJobHandler(deps)
	if deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		jobs := v1.Group("/jobs")
		{
			jobs.POST("", jobHandler.CreateJobs)
			jobs.GET("", jobHandler.ListJobs)
			jobs.GET("/stats", jobHandler.Stats)
			jobs.POST("/claim", jobHandler.ClaimJobs)
			jobs.GET("/:job_id", jobHandler.GetJob)
			jobs.POST("/:job_id/fail", jobHandler.FailJob)
		}
	}

	return r
}
