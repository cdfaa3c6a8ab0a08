package api

import (
	"github.com/gin-gonic/gin"

	"pulsewatch/internal/api/types"
	v1 "pulsewatch/internal/api/v1"
)

// setupRoutes configures API routes.
func (s *Server) setupRoutes() {
	baseHandler := NewHandler(s.services.Engine, s.storage)

	// Base api router group
	apiGroup := s.router.Group("/api")

	// Base endpoints (no identity required)
	apiGroup.GET("/ping", baseHandler.Ping)
	apiGroup.GET("/health", baseHandler.Health)

	// API v1 routes act on behalf of the caller in X-User-ID
	v1Group := apiGroup.Group("/v1")
	v1Group.Use(RequireOwner())
	v1.SetupRoutes(v1Group, s.services)

	s.router.NoRoute(func(c *gin.Context) {
		types.AbortWithError(c, types.NotFoundError("route"))
	})
}
