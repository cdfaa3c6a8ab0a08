// Package v1 wires the version 1 API routes.
package v1

import (
	"github.com/gin-gonic/gin"

	"pulsewatch/internal/alert"
	"pulsewatch/internal/api/v1/alerts"
	"pulsewatch/internal/api/v1/monitors"
	"pulsewatch/internal/api/v1/reports"
	"pulsewatch/internal/core"
	"pulsewatch/internal/registry"
	"pulsewatch/internal/report"
	"pulsewatch/internal/stats"
)

// Services are the domain services behind the v1 routes.
type Services struct {
	Registry *registry.Registry
	Engine   *core.Engine
	Stats    *stats.Aggregator
	Alerts   *alert.Service
	Reports  *report.Service
}

// SetupRoutes configures API routes.
func SetupRoutes(routerGroup *gin.RouterGroup, svc Services) {
	// Initialize handlers
	monitorsHandler := monitors.NewHandler(svc.Registry, svc.Engine, svc.Stats)
	alertsHandler := alerts.NewHandler(svc.Alerts)
	reportsHandler := reports.NewHandler(svc.Reports)

	// Monitors management
	monitorsGroup := routerGroup.Group("/monitors")
	{
		monitorsGroup.GET("", monitorsHandler.List)
		monitorsGroup.POST("", monitorsHandler.Create)
		monitorsGroup.GET("/:id", monitorsHandler.Get)
		monitorsGroup.PATCH("/:id", monitorsHandler.Update)
		monitorsGroup.DELETE("/:id", monitorsHandler.Delete)
		monitorsGroup.POST("/:id/start", monitorsHandler.Start)
		monitorsGroup.POST("/:id/stop", monitorsHandler.Stop)
		monitorsGroup.POST("/:id/check", monitorsHandler.Check)
		monitorsGroup.GET("/:id/stats", monitorsHandler.Stats)
		monitorsGroup.GET("/:id/logs", monitorsHandler.Logs)
		monitorsGroup.GET("/:id/alerts", alertsHandler.List)
		monitorsGroup.POST("/:id/alerts", alertsHandler.Create)
	}

	// Alert rules management
	alertsGroup := routerGroup.Group("/alerts")
	{
		alertsGroup.PATCH("/:id", alertsHandler.Update)
		alertsGroup.DELETE("/:id", alertsHandler.Delete)
	}

	// Reports management
	reportsGroup := routerGroup.Group("/reports")
	{
		reportsGroup.GET("", reportsHandler.List)
		reportsGroup.POST("", reportsHandler.Create)
		reportsGroup.GET("/:id", reportsHandler.Get)
		reportsGroup.PATCH("/:id", reportsHandler.Update)
		reportsGroup.DELETE("/:id", reportsHandler.Delete)
		reportsGroup.POST("/:id/generate", reportsHandler.Generate)
	}
}
