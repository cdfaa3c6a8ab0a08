// Package registry owns monitor definitions: creation under tier quotas,
// metadata updates and deletion. Run state changes are delegated to a
// Runner so the registry never touches timers itself.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"pulsewatch/internal/apperr"
	"pulsewatch/internal/checks"
	"pulsewatch/internal/config"
	"pulsewatch/internal/storage"
	"pulsewatch/internal/tier"
)

// Timeout bounds in milliseconds.
const (
	MinTimeoutMs = 1000
	MaxTimeoutMs = 60000
)

// Runner starts and stops monitor timers.
type Runner interface {
	StartMonitor(ctx context.Context, monitorID int64) error
	StopMonitor(ctx context.Context, monitorID int64) error
	RestartMonitor(ctx context.Context, monitorID int64) error
	IsMonitorRunning(monitorID int64) bool
}

// Dependents is told about monitors going away so it can drop what refers to them.
type Dependents interface {
	DeleteForMonitor(ctx context.Context, monitorID int64) (int64, error)
}

// Input is a create request for a monitor.
type Input struct {
	Name            string          `json:"name"`
	Type            string          `json:"type"`
	Target          string          `json:"target"`
	IntervalSeconds int             `json:"interval_seconds"`
	TimeoutMs       int             `json:"timeout_ms"`
	Options         json.RawMessage `json:"options"`
	IsActive        *bool           `json:"is_active"`
}

// Patch is a partial update of a monitor. Nil fields are kept. OwnerID and
// GuildID are accepted only when they match the stored values.
type Patch struct {
	Name            *string         `json:"name"`
	Type            *string         `json:"type"`
	Target          *string         `json:"target"`
	IntervalSeconds *int            `json:"interval_seconds"`
	TimeoutMs       *int            `json:"timeout_ms"`
	Options         json.RawMessage `json:"options"`
	IsActive        *bool           `json:"is_active"`
	OwnerID         *string         `json:"owner_id"`
	GuildID         *string         `json:"guild_id"`
}

// Registry manages monitor definitions.
type Registry struct {
	cfg     config.ChecksConfig
	storage *storage.Storage
	checker *checks.Manager
	tiers   *tier.Service
	runner  Runner
	rules   Dependents
}

// New creates a registry.
func New(cfg config.ChecksConfig, st *storage.Storage, checker *checks.Manager, tiers *tier.Service, runner Runner, rules Dependents) *Registry {
	return &Registry{
		cfg:     cfg,
		storage: st,
		checker: checker,
		tiers:   tiers,
		runner:  runner,
		rules:   rules,
	}
}

// Create validates and stores a monitor for ownerID and starts it when
// active. A missing interval takes the tier floor and a lower one is raised
// to it.
func (r *Registry) Create(ctx context.Context, ownerID, guildID string, in Input) (*storage.Monitor, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, apperr.Invalidf("owner_id is required")
	}

	limits, err := r.tiers.Limits(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	count, err := r.storage.Repos.Monitors.Count(ctx, "owner_id = ?", ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to count monitors: %w", err)
	}
	if count >= int64(limits.MaxMonitors) {
		return nil, fmt.Errorf("%w: limit of %d monitors reached", apperr.ErrQuotaExceeded, limits.MaxMonitors)
	}

	if in.IntervalSeconds < 0 {
		return nil, apperr.Invalidf("interval cannot be negative")
	}
	interval := max(in.IntervalSeconds, int(limits.MinInterval/time.Second))
	if interval > int(limits.MaxInterval/time.Second) {
		return nil, apperr.Invalidf("interval cannot exceed %d seconds", int(limits.MaxInterval/time.Second))
	}

	timeout := in.TimeoutMs
	if timeout == 0 {
		timeout = min(int(r.cfg.DefaultTimeout/time.Millisecond), interval*1000)
	}
	if err := validateTimeout(timeout, interval); err != nil {
		return nil, err
	}

	monitorType := strings.ToLower(strings.TrimSpace(in.Type))
	target, options, err := r.checker.Normalize(monitorType, strings.TrimSpace(in.Target), in.Options)
	if err != nil {
		return nil, err
	}

	active := in.IsActive == nil || *in.IsActive
	m := &storage.Monitor{
		OwnerID:         ownerID,
		GuildID:         guildID,
		Name:            strings.TrimSpace(in.Name),
		Type:            monitorType,
		Target:          target,
		IntervalSeconds: interval,
		TimeoutMs:       timeout,
		Options:         options,
		Status:          storage.StatusPending,
		IsActive:        active,
	}
	if !active {
		m.Status = storage.StatusStopped
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}

	if _, err := r.storage.Repos.Monitors.Create(ctx, m); err != nil {
		return nil, err
	}

	// Concurrent creates can all pass the count above. Rows with lower ids
	// keep their slots and the rest are withdrawn.
	ahead, err := r.storage.Repos.Monitors.Count(ctx, "owner_id = ? AND id <= ?", ownerID, m.ID)
	if err != nil {
		_ = r.storage.Repos.Monitors.Delete(ctx, m.ID)
		return nil, fmt.Errorf("failed to count monitors: %w", err)
	}
	if ahead > int64(limits.MaxMonitors) {
		if err := r.storage.Repos.Monitors.Delete(ctx, m.ID); err != nil {
			log.Error().Int64("monitor_id", m.ID).Err(err).Msg("Failed to withdraw monitor over quota")
		}
		return nil, fmt.Errorf("%w: limit of %d monitors reached", apperr.ErrQuotaExceeded, limits.MaxMonitors)
	}

	log.Info().Int64("monitor_id", m.ID).Str("owner_id", ownerID).Str("type", m.Type).
		Int("interval_seconds", interval).Msg("Monitor created")

	if active {
		if err := r.runner.StartMonitor(ctx, m.ID); err != nil {
			log.Error().Int64("monitor_id", m.ID).Err(err).Msg("Failed to start new monitor")
		}
		return r.Get(ctx, m.ID)
	}
	return m, nil
}

// Get returns a monitor by id.
func (r *Registry) Get(ctx context.Context, monitorID int64) (*storage.Monitor, error) {
	return r.storage.Repos.Monitors.GetByID(ctx, monitorID)
}

// GetOwned returns a monitor that belongs to ownerID.
func (r *Registry) GetOwned(ctx context.Context, ownerID string, monitorID int64) (*storage.Monitor, error) {
	m, err := r.Get(ctx, monitorID)
	if err != nil {
		return nil, err
	}
	if m.OwnerID != ownerID {
		return nil, apperr.ErrForbidden
	}
	return m, nil
}

// ListByOwner returns every monitor of ownerID, active or not.
func (r *Registry) ListByOwner(ctx context.Context, ownerID string) ([]storage.Monitor, error) {
	return r.storage.Repos.Monitors.Where(ctx, "owner_id = ?", ownerID)
}

// Update applies patch to a monitor of ownerID.
//
// Unlike Create, an interval below the tier floor is rejected. Changing the
// probe definition of a running monitor restarts its timer; toggling
// is_active starts or stops it.
func (r *Registry) Update(ctx context.Context, ownerID string, monitorID int64, patch Patch) (*storage.Monitor, error) {
	m, err := r.GetOwned(ctx, ownerID, monitorID)
	if err != nil {
		return nil, err
	}

	if patch.OwnerID != nil && *patch.OwnerID != m.OwnerID {
		return nil, apperr.Invalidf("owner cannot be changed")
	}
	if patch.GuildID != nil && *patch.GuildID != m.GuildID {
		return nil, apperr.Invalidf("guild cannot be changed")
	}

	before := *m
	if patch.Name != nil {
		m.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.Type != nil {
		m.Type = strings.ToLower(strings.TrimSpace(*patch.Type))
	}
	if patch.Target != nil {
		m.Target = strings.TrimSpace(*patch.Target)
	}
	if patch.IntervalSeconds != nil {
		m.IntervalSeconds = *patch.IntervalSeconds
	}
	if patch.TimeoutMs != nil {
		m.TimeoutMs = *patch.TimeoutMs
	}
	if patch.IsActive != nil {
		m.IsActive = *patch.IsActive
	}

	if patch.IntervalSeconds != nil {
		limits, err := r.tiers.Limits(ctx, ownerID)
		if err != nil {
			return nil, err
		}
		if floor := int(limits.MinInterval / time.Second); m.IntervalSeconds < floor {
			return nil, fmt.Errorf("%w: interval must be at least %d seconds on your plan", apperr.ErrPolicyViolation, floor)
		}
		if ceiling := int(limits.MaxInterval / time.Second); m.IntervalSeconds > ceiling {
			return nil, apperr.Invalidf("interval cannot exceed %d seconds", ceiling)
		}
	}
	if err := validateTimeout(m.TimeoutMs, m.IntervalSeconds); err != nil {
		return nil, err
	}

	options := []byte(m.Options)
	if patch.Options != nil {
		options = patch.Options
	}
	if m.Target, m.Options, err = r.checker.Normalize(m.Type, m.Target, options); err != nil {
		return nil, err
	}

	switch {
	case before.IsActive && !m.IsActive:
		m.Status = storage.StatusStopped
	case !before.IsActive && m.IsActive:
		m.Status = storage.StatusPending
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}

	// Stop before writing so no run lands on the stopped status.
	if before.IsActive && !m.IsActive {
		if err := r.runner.StopMonitor(ctx, m.ID); err != nil {
			return nil, err
		}
	}

	if _, err := r.storage.Repos.Monitors.UpdateColumns(ctx, m.ID, map[string]any{
		"name":             m.Name,
		"type":             m.Type,
		"target":           m.Target,
		"interval_seconds": m.IntervalSeconds,
		"timeout_ms":       m.TimeoutMs,
		"options":          m.Options,
		"is_active":        m.IsActive,
		"status":           m.Status,
		"updated_at":       time.Now().UTC(),
	}); err != nil {
		return nil, err
	}

	switch {
	case !before.IsActive && m.IsActive:
		err = r.runner.StartMonitor(ctx, m.ID)
	case m.IsActive && definitionChanged(&before, m):
		err = r.runner.RestartMonitor(ctx, m.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("monitor updated but its timer was not re-armed: %w", err)
	}

	log.Info().Int64("monitor_id", m.ID).Bool("active", m.IsActive).Msg("Monitor updated")
	return r.Get(ctx, m.ID)
}

// SetActive starts or stops a monitor of ownerID. Starting an active
// monitor whose timer is missing arms it again. Stopping cancels the timer
// and keeps the last known status.
func (r *Registry) SetActive(ctx context.Context, ownerID string, monitorID int64, active bool) (*storage.Monitor, error) {
	m, err := r.GetOwned(ctx, ownerID, monitorID)
	if err != nil {
		return nil, err
	}

	if !active {
		if err := r.runner.StopMonitor(ctx, monitorID); err != nil {
			return nil, err
		}
		if m.IsActive {
			if _, err := r.storage.Repos.Monitors.UpdateColumns(ctx, monitorID, map[string]any{
				"is_active":  false,
				"updated_at": time.Now().UTC(),
			}); err != nil {
				return nil, err
			}
			log.Info().Int64("monitor_id", monitorID).Str("status", m.Status).Msg("Monitor stopped")
		}
		return r.Get(ctx, monitorID)
	}

	if m.IsActive {
		if !r.runner.IsMonitorRunning(monitorID) {
			if err := r.runner.StartMonitor(ctx, monitorID); err != nil {
				return nil, err
			}
		}
		return r.Get(ctx, monitorID)
	}
	return r.Update(ctx, ownerID, monitorID, Patch{IsActive: &active})
}

// Delete stops a monitor, removes its alert rules and report memberships,
// then the monitor itself. Deleting a missing monitor is not an error.
func (r *Registry) Delete(ctx context.Context, ownerID string, monitorID int64) error {
	_, err := r.GetOwned(ctx, ownerID, monitorID)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if err := r.runner.StopMonitor(ctx, monitorID); err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return fmt.Errorf("failed to stop monitor: %w", err)
	}
	rules, err := r.rules.DeleteForMonitor(ctx, monitorID)
	if err != nil {
		return fmt.Errorf("failed to delete alert rules: %w", err)
	}
	if err := r.storage.RemoveMonitorFromReports(ctx, monitorID); err != nil {
		return fmt.Errorf("failed to detach monitor from reports: %w", err)
	}
	if err := r.storage.Repos.Monitors.Delete(ctx, monitorID); err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return err
	}

	log.Info().Int64("monitor_id", monitorID).Int64("alert_rules", rules).Msg("Monitor deleted")
	return nil
}

func validateTimeout(timeoutMs, intervalSeconds int) error {
	if timeoutMs < MinTimeoutMs || timeoutMs > MaxTimeoutMs {
		return apperr.Invalidf("timeout must be between %d and %d ms", MinTimeoutMs, MaxTimeoutMs)
	}
	if timeoutMs > intervalSeconds*1000 {
		return apperr.Invalidf("timeout cannot exceed the interval")
	}
	return nil
}

// definitionChanged reports whether a change affects how the monitor is probed.
func definitionChanged(a, b *storage.Monitor) bool {
	return a.Type != b.Type || a.Target != b.Target || a.IntervalSeconds != b.IntervalSeconds ||
		a.TimeoutMs != b.TimeoutMs || a.Options != b.Options
}
