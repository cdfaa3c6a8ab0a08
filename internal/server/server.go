// Package server provides the main server orchestration for Pulsewatch.
//
// This package coordinates the startup and shutdown of all core components:
//   - SQLite storage initialization
//   - Monitoring engine and report timers
//   - HTTP API server management
//   - Graceful shutdown handling
//
// The server follows a structured lifecycle:
//  1. Storage initialization
//  2. Core engine startup
//  3. HTTP API server launch
//  4. Signal handling and graceful shutdown
package server

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"pulsewatch/internal/alert"
	"pulsewatch/internal/api"
	v1 "pulsewatch/internal/api/v1"
	"pulsewatch/internal/checks"
	"pulsewatch/internal/config"
	"pulsewatch/internal/core"
	"pulsewatch/internal/registry"
	"pulsewatch/internal/report"
	"pulsewatch/internal/stats"
	"pulsewatch/internal/storage"
	"pulsewatch/internal/tier"
)

// shutdownTimeout bounds how long in-flight requests may take to finish.
const shutdownTimeout = 30 * time.Second

// Server represents the main Pulsewatch server orchestrator.
//
// It owns the storage, the monitoring engine, the report service and the
// HTTP API, and ensures they start and stop in order.
type Server struct {
	// cfg holds the application configuration
	cfg *config.Config
}

// New creates a new server instance with the provided configuration.
//
// The server is not started until Start() is called.
func New(cfg *config.Config) *Server {
	return &Server{
		cfg: cfg,
	}
}

// Start initializes and starts all server components in the correct order.
//
// This method blocks until:
//   - A fatal error occurs during startup
//   - The provided context is cancelled (shutdown signal)
//   - The HTTP server encounters an unrecoverable error
//
// On shutdown the HTTP server stops first, then the scheduler (waiting for
// in-flight checks), then storage.
func (s *Server) Start(ctx context.Context) error {
	// Phase 1: Initialize SQLite storage
	// This must happen first as all other components depend on it
	st, err := storage.Open(ctx, s.cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close storage")
		}
	}()

	// Phase 2: Initialize core monitoring engine and the services around it
	var poster alert.ChannelPoster
	if s.cfg.Alert.Discord.Enabled {
		poster = alert.NewDiscordClient(s.cfg.Alert.Discord)
	} else {
		log.Warn().Msg("Discord delivery disabled; channel alerts and reports will not be posted")
	}

	checker := checks.NewManager(s.cfg.Checks)
	aggregator := stats.NewAggregator(st.ORM(), st.Repos)
	evaluator := alert.NewEvaluator(st.Repos, aggregator, poster, alert.NewWebhookSender(s.cfg.Alert.WebhookTimeout))
	engine := core.NewEngine(s.cfg, st, checker, aggregator, evaluator)

	tiers := tier.NewService(s.cfg.Tiers, st.Repos)
	rules := alert.NewService(st.Repos)
	reports := report.NewService(s.cfg.Reports, st, tiers, aggregator, engine.Scheduler(), s.publishers(poster)...)

	if err := engine.Start(ctx); err != nil {
		return fmt.Errorf("failed to start engine: %w", err)
	}
	defer engine.Stop()

	if err := reports.Start(ctx); err != nil {
		return fmt.Errorf("failed to start reports: %w", err)
	}

	// Phase 3: Initialize HTTP API server
	httpServer := api.NewServer(s.cfg.Server, st, v1.Services{
		Registry: registry.New(s.cfg.Checks, st, checker, tiers, engine, rules),
		Engine:   engine,
		Stats:    aggregator,
		Alerts:   rules,
		Reports:  reports,
	})

	// Start HTTP server in a separate goroutine to avoid blocking
	// We use a buffered channel to prevent goroutine leaks
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- httpServer.Start()
	}()

	// Phase 4: Wait for shutdown signal or server error
	select {
	case err := <-serverErrors:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
		log.Info().Msg("Shutdown signal received, starting graceful shutdown")
	}

	// Phase 5: Graceful shutdown sequence
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Shutdown HTTP server first to stop accepting new requests; the
	// deferred calls then stop the engine and close storage.
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	log.Info().Msg("Server stopped gracefully")
	return nil
}

// publishers returns the report publishers enabled by configuration.
func (s *Server) publishers(poster alert.ChannelPoster) []report.Publisher {
	var publishers []report.Publisher
	if poster != nil {
		publishers = append(publishers, report.NewChannelPublisher(poster))
	}
	if s.cfg.Reports.Email.Enabled {
		publishers = append(publishers, report.NewEmailPublisher(s.cfg.Reports.Email))
	}
	return publishers
}
