// Package core provides the monitoring engine of Pulsewatch.
//
// The engine is responsible for:
//   - Arming one timer per active monitor
//   - Executing checks
//   - Persisting results and refreshing statistics
//   - Handing down results to the alert evaluator
package core

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"pulsewatch/internal/checks"
	"pulsewatch/internal/config"
	"pulsewatch/internal/stats"
	"pulsewatch/internal/storage"
)

// Alerter evaluates the alert rules of a monitor that just went down.
type Alerter interface {
	Evaluate(ctx context.Context, monitor *storage.Monitor, result *checks.Result)
}

// Engine represents the core monitoring engine.
// It orchestrates all monitoring activities and manages the lifecycle of checks.
type Engine struct {
	config    *config.Config
	storage   *storage.Storage
	scheduler *Scheduler
	checker   *checks.Manager
	stats     *stats.Aggregator
	alerter   Alerter

	// locks serializes check handling per monitor across timers and CheckNow.
	locks keyedMutex

	// Internal state
	running bool
	mu      sync.RWMutex
}

// NewEngine creates a new monitoring engine with the given configuration.
func NewEngine(cfg *config.Config, st *storage.Storage, checker *checks.Manager, aggregator *stats.Aggregator, alerter Alerter) *Engine {
	return &Engine{
		config:    cfg,
		storage:   st,
		scheduler: NewScheduler(cfg.Scheduler),
		checker:   checker,
		stats:     aggregator,
		alerter:   alerter,
		locks:     keyedMutex{entries: make(map[int64]*keyedEntry)},
	}
}

// Scheduler exposes the shared scheduler so report jobs run on the same pool.
func (e *Engine) Scheduler() *Scheduler {
	return e.scheduler
}

// Start starts the scheduler, arms every active monitor and the retention sweep.
//
// Active monitors are started concurrently, bounded by the worker count,
// since each start performs one synchronous check.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return fmt.Errorf("engine is already running")
	}

	log.Info().Msg("Starting monitoring engine")

	if err := e.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	monitors, err := e.storage.Repos.Monitors.Where(ctx, "is_active = ?", true)
	if err != nil {
		e.scheduler.Stop()
		return fmt.Errorf("failed to load monitors: %w", err)
	}
	log.Info().Int("count", len(monitors)).Msg("Loaded active monitors")

	g := new(errgroup.Group)
	g.SetLimit(max(e.config.Scheduler.WorkerCount, 1))
	for _, m := range monitors {
		g.Go(func() error {
			if _, err := e.schedule(&m); err != nil {
				log.Error().Int64("monitor_id", m.ID).Str("name", m.Name).Err(err).Msg("Failed to schedule monitor")
			}
			return nil
		})
	}
	_ = g.Wait()

	if sweep := e.config.Retention.SweepInterval; sweep > 0 {
		if _, err := e.scheduler.AddJob(&ScheduledJob{
			ID:      "retention",
			Trigger: Every(sweep),
			Task:    e.sweepLogs,
		}); err != nil {
			log.Error().Err(err).Msg("Failed to schedule retention sweep")
		}
	}

	e.running = true
	log.Info().Msg("Monitoring engine started successfully")
	return nil
}

// IsRunning returns whether the engine is currently running.
func (e *Engine) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// Stop stops the monitoring engine and waits for in-flight checks.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return
	}

	log.Info().Msg("Stopping monitoring engine")
	e.scheduler.Stop()
	e.running = false
	log.Info().Msg("Monitoring engine stopped")
}

func jobID(monitorID int64) string {
	return "monitor_" + strconv.FormatInt(monitorID, 10)
}

// StartMonitor marks a monitor active and arms its timer after one
// synchronous check. Starting a running monitor is a no-op.
func (e *Engine) StartMonitor(ctx context.Context, monitorID int64) error {
	m, err := e.storage.Repos.Monitors.GetByID(ctx, monitorID)
	if err != nil {
		return err
	}

	if !m.IsActive {
		if _, err := e.storage.Repos.Monitors.UpdateColumns(ctx, m.ID, map[string]any{"is_active": true}); err != nil {
			return fmt.Errorf("failed to activate monitor: %w", err)
		}
		m.IsActive = true
	}

	added, err := e.schedule(m)
	if err != nil {
		return err
	}
	if added {
		log.Info().Int64("monitor_id", m.ID).Str("name", m.Name).Int("interval_seconds", m.IntervalSeconds).Msg("Monitor started")
	}
	return nil
}

// StopMonitor cancels the timer and marks the monitor inactive. The last
// known status is left untouched. Stopping a stopped monitor is a no-op.
func (e *Engine) StopMonitor(ctx context.Context, monitorID int64) error {
	removed := e.scheduler.RemoveJob(jobID(monitorID))

	if _, err := e.storage.Repos.Monitors.UpdateColumns(ctx, monitorID, map[string]any{"is_active": false}); err != nil {
		return fmt.Errorf("failed to deactivate monitor: %w", err)
	}
	if removed {
		log.Info().Int64("monitor_id", monitorID).Msg("Monitor stopped")
	}
	return nil
}

// RestartMonitor re-arms a running monitor so a changed definition takes
// effect at once. Monitors that are not running stay untouched.
func (e *Engine) RestartMonitor(ctx context.Context, monitorID int64) error {
	if !e.scheduler.RemoveJob(jobID(monitorID)) {
		return nil
	}

	m, err := e.storage.Repos.Monitors.GetByID(ctx, monitorID)
	if err != nil {
		return err
	}
	if !m.IsActive {
		return nil
	}
	_, err = e.schedule(m)
	return err
}

// IsMonitorRunning reports whether a timer is armed for the monitor.
func (e *Engine) IsMonitorRunning(monitorID int64) bool {
	return e.scheduler.HasJob(jobID(monitorID))
}

// CheckNow runs a synchronous one-off probe outside the schedule. The
// result is persisted like a scheduled one.
func (e *Engine) CheckNow(ctx context.Context, monitorID int64) (*checks.Result, error) {
	return e.runCheck(ctx, monitorID)
}

// keyedMutex hands out one mutex per monitor id and forgets it when unused.
type keyedMutex struct {
	mu      sync.Mutex
	entries map[int64]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

// Lock blocks until the lock for id is held and returns its release func.
func (k *keyedMutex) Lock(id int64) func() {
	k.mu.Lock()
	entry, ok := k.entries[id]
	if !ok {
		entry = &keyedEntry{}
		k.entries[id] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()

		k.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.entries, id)
		}
		k.mu.Unlock()
	}
}
