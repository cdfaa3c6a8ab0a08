// Package api provides the HTTP API of Pulsewatch.
// This package implements a RESTful API using the Gin framework.
//
// Example usage:
//
//	server := api.NewServer(cfg.Server, st, services)
//	err := server.Start()
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	v1 "pulsewatch/internal/api/v1"
	"pulsewatch/internal/config"
	"pulsewatch/internal/storage"
)

// Server represents the HTTP API server.
type Server struct {
	config   config.ServerConfig
	storage  *storage.Storage
	services v1.Services
	router   *gin.Engine
	server   *http.Server
}

// NewServer creates a new HTTP API server instance.
func NewServer(cfg config.ServerConfig, st *storage.Storage, services v1.Services) *Server {
	gin.SetMode(cfg.Mode)

	server := &Server{
		config:   cfg,
		storage:  st,
		services: services,
		router:   gin.New(),
	}

	// Setup middleware and routes
	server.setupMiddleware()
	server.setupRoutes()

	// Create HTTP server
	server.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      server.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return server
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server and blocks until it is shut down.
func (s *Server) Start() error {
	log.Info().Str("addr", s.config.Addr).Msg("Starting HTTP server")

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// setupMiddleware configures middleware for the Gin router.
func (s *Server) setupMiddleware() {
	// Request ID middleware (should be first)
	s.router.Use(RequestID())

	// Access log, outside recovery so recovered panics are logged as 500s
	s.router.Use(LoggerMiddleware())

	// Custom panic recovery middleware
	s.router.Use(PanicRecovery())
}
