package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"pulsewatch/internal/core"
	"pulsewatch/internal/storage"
)

// Version is reported by the health endpoint. It is set at build time.
var Version = "dev"

// Handler manages public endpoints.
//
// It provides essential system-level information,
// making it suitable for health checks, liveness probes, and basic diagnostics.
type Handler struct {
	engine    *core.Engine
	storage   *storage.Storage
	startTime time.Time
}

// NewHandler initializes a new public API handler.
//
// Parameters:
//   - engine: Core monitoring engine (maybe nil in test environments)
//   - storage: Database storage layer (maybe nil in test environments)
func NewHandler(engine *core.Engine, storage *storage.Storage) *Handler {
	return &Handler{
		engine:    engine,
		storage:   storage,
		startTime: time.Now(),
	}
}

// Ping handles GET /ping
//
// A lightweight endpoint for basic connectivity verification.
//
// Response:
//   - 200 OK with {"message": "pong"}
func (h *Handler) Ping(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "pong",
	})
}

// Health handles GET /health
//
// Reports the database, engine and scheduler. Overall status is "healthy"
// only if every component is; otherwise it is "degraded" and the response
// code is 503.
func (h *Handler) Health(c *gin.Context) {
	ctx := c.Request.Context()

	dbStatus, dbResponseTime := h.checkDatabaseHealth(ctx)
	engineStatus := h.checkEngineHealth()
	schedulerStatus, jobs := h.checkSchedulerHealth()

	overallStatus, code := "healthy", http.StatusOK
	if dbStatus != "healthy" || engineStatus != "healthy" || schedulerStatus != "healthy" {
		overallStatus, code = "degraded", http.StatusServiceUnavailable
	}

	c.JSON(code, gin.H{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    time.Since(h.startTime).Round(time.Second).String(),
		"version":   Version,
		"components": gin.H{
			"database": gin.H{
				"status":           dbStatus,
				"response_time_ms": dbResponseTime,
			},
			"engine": gin.H{
				"status": engineStatus,
			},
			"scheduler": gin.H{
				"status": schedulerStatus,
				"jobs":   jobs,
			},
		},
	})
}

// checkDatabaseHealth pings the database and measures the round trip.
func (h *Handler) checkDatabaseHealth(ctx context.Context) (string, int64) {
	if h.storage == nil {
		return "unhealthy", 0
	}

	start := time.Now()
	err := h.storage.Ping(ctx)
	responseTime := time.Since(start).Milliseconds()
	if err != nil {
		return "unhealthy", responseTime
	}
	return "healthy", responseTime
}

func (h *Handler) checkEngineHealth() string {
	if h.engine == nil || !h.engine.IsRunning() {
		return "unhealthy"
	}
	return "healthy"
}

// checkSchedulerHealth reports whether the scheduler runs and how many
// monitor and report timers are armed.
func (h *Handler) checkSchedulerHealth() (string, int) {
	if h.engine == nil {
		return "unhealthy", 0
	}
	scheduler := h.engine.Scheduler()
	if !scheduler.IsRunning() {
		return "unhealthy", 0
	}
	return "healthy", scheduler.GetJobCount()
}
