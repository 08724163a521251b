package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/quanglt/vulnscan-be/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "scanqueue-api-service",
		})
	})

	jobHandler := handler.NewJobHandler(deps)
	statusHandler := handler.NewStatusHandler(deps)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		// POST /api/v1/scans - Enqueue a port scan job
		v1.POST("/scans", jobHandler.SubmitScan)

		// POST /api/v1/lookups - Enqueue a CVE keyword lookup job
		v1.POST("/lookups", jobHandler.SubmitLookup)

		jobs := v1.Group("/jobs")
		{
			// GET /api/v1/jobs - List jobs with filtering and pagination
			jobs.GET("", jobHandler.ListJobs)

			// GET /api/v1/jobs/:job_id - Get job details and results
			jobs.GET("/:job_id", jobHandler.GetJob)
		}

		// GET /api/v1/queue/status - Job counts plus broker queue depth
		v1.GET("/queue/status", statusHandler.QueueStatus)
	}

	return r
}
