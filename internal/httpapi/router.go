package httpapi

import (
	"github.com/gin-gonic/gin"
	"github.com/kdlbs/agentorc/internal/common/httpmw"
	"github.com/kdlbs/agentorc/internal/common/logging"
)

// SetupRoutes wires the Execute Agent Service's HTTP surface onto router,
// grounded on the teacher's internal/orchestrator/api/router.go
// SetupRoutes(router, service, log) pattern.
func SetupRoutes(router *gin.RouterGroup, handler *Handler, log *logging.Logger) {
	router.Use(httpmw.RequestLogger(log, "orchestrator"), httpmw.OtelTracing("orchestrator"), Recovery(log), CORS())

	agents := router.Group("/agents")
	{
		agents.POST("/:agentId/execute", handler.Execute)
		agents.POST("/:agentId/execute/stream", handler.ExecuteStream)
	}

	router.GET("/orchestrator/status", handler.Status)
}

// NewRouter builds a standalone gin.Engine exposing the API under
// /api/v1, for use by cmd/orchestrator's main.go.
func NewRouter(handler *Handler, log *logging.Logger) *gin.Engine {
	engine := gin.New()
	v1 := engine.Group("/api/v1")
	SetupRoutes(v1, handler, log)

	engine.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return engine
}
