package api

import (
	"github.com/gin-gonic/gin"

	"github.com/hostclub/serverpool/internal/common/logger"
	"github.com/hostclub/serverpool/internal/workload"
	"github.com/hostclub/serverpool/internal/workload/streaming"
)

// SetupRoutes configures the workload pool API routes
func SetupRoutes(router *gin.RouterGroup, manager *workload.Manager, hub *streaming.Hub, host string, log *logger.Logger) {
	handler := NewHandler(manager, hub, host, log)

	workloads := router.Group("/workloads")
	{
		workloads.POST("", handler.CreateWorkload)
		workloads.GET("", handler.ListWorkloads)
		workloads.GET("/:tenantId", handler.GetWorkload)
		workloads.DELETE("/:tenantId", handler.DeleteWorkload)

		// Lifecycle
		workloads.POST("/:tenantId/start", handler.StartWorkload)
		workloads.POST("/:tenantId/stop", handler.StopWorkload)
		workloads.POST("/:tenantId/join", handler.JoinWorkload)

		// Operators
		workloads.POST("/:tenantId/operators", handler.AddOperator)
		workloads.DELETE("/:tenantId/operators/:identity", handler.RemoveOperator)

		// Extensions
		workloads.POST("/:tenantId/extensions", handler.InstallExtension)
		workloads.DELETE("/:tenantId/extensions/:name", handler.UninstallExtension)

		// Settings
		workloads.PUT("/:tenantId/settings/:key", handler.UpdateSetting)

		// Console
		workloads.GET("/:tenantId/console", handler.GetConsole)
		workloads.GET("/:tenantId/console/stream", handler.StreamConsole)
	}
}
