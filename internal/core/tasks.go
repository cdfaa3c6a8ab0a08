package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"pulsewatch/internal/apperr"
	"pulsewatch/internal/checks"
	"pulsewatch/internal/storage"
)

func (e *Engine) schedule(m *storage.Monitor) (bool, error) {
	id := m.ID
	return e.scheduler.AddJob(&ScheduledJob{
		ID:        jobID(id),
		Trigger:   Every(m.Interval()),
		Immediate: true,
		Task: func(ctx context.Context) error {
			// A cancelled job still has its pending fire dropped here.
			if ctx.Err() != nil {
				return nil
			}
			_, err := e.runCheck(ctx, id)
			return err
		},
	})
}

// runCheck probes one monitor and handles its result while holding the
// monitor lock. The probe runs detached from ctx so a stop never aborts
// it; its result is still persisted.
func (e *Engine) runCheck(ctx context.Context, monitorID int64) (result *checks.Result, err error) {
	unlock := e.locks.Lock(monitorID)
	defer unlock()

	ctx = context.WithoutCancel(ctx)

	m, err := e.storage.Repos.Monitors.GetByID(ctx, monitorID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			e.scheduler.RemoveJob(jobID(monitorID))
		}
		return nil, err
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error().Int64("monitor_id", monitorID).Interface("panic", r).Msg("Check handling panicked")
			result = checks.Fault(fmt.Sprintf("scheduling fault: %v", r))
			if e.record(ctx, m, result) {
				if _, serr := e.stats.Recompute(ctx, m.ID); serr != nil {
					log.Error().Int64("monitor_id", m.ID).Err(serr).Msg("Failed to recompute stats")
				}
			}
			err = nil
		}
	}()

	result = e.checker.Execute(ctx, m)
	e.processResult(ctx, m, result)
	return result, nil
}

// processResult persists the result, updates the monitor, refreshes stats
// and, for down results only, evaluates alert rules.
func (e *Engine) processResult(ctx context.Context, m *storage.Monitor, result *checks.Result) {
	if !e.record(ctx, m, result) {
		return
	}

	if _, err := e.stats.Recompute(ctx, m.ID); err != nil {
		log.Error().Int64("monitor_id", m.ID).Err(err).Msg("Failed to recompute stats")
	}

	if result.Status == storage.StatusDown && e.alerter != nil {
		e.alerter.Evaluate(ctx, m, result)
	}
}

// record appends the check log and writes the scheduler-owned monitor columns.
func (e *Engine) record(ctx context.Context, m *storage.Monitor, result *checks.Result) bool {
	entry := newCheckLog(m.ID, result)
	if _, err := e.storage.Repos.CheckLogs.Create(ctx, entry); err != nil {
		log.Error().Int64("monitor_id", m.ID).Err(err).Msg("Failed to save check result")
		return false
	}

	checkedAt := result.CheckedAt
	if _, err := e.storage.Repos.Monitors.UpdateColumns(ctx, m.ID, map[string]any{
		"status":     result.Status,
		"last_check": checkedAt,
	}); err != nil {
		log.Error().Int64("monitor_id", m.ID).Err(err).Msg("Failed to update monitor status")
	}
	m.Status = result.Status
	m.LastCheck = &checkedAt

	log.Debug().Int64("monitor_id", m.ID).Str("status", result.Status).
		Int64("response_time_ms", result.ResponseTimeMs).Str("message", result.Message).Msg("Check recorded")
	return true
}

// sweepLogs deletes check logs past the retention horizon.
func (e *Engine) sweepLogs(ctx context.Context) error {
	_, err := e.stats.Prune(ctx, e.config.Retention.CheckLogs)
	return err
}

// newCheckLog converts a probe result into its log row.
func newCheckLog(monitorID int64, result *checks.Result) *storage.CheckLog {
	details := "{}"
	if len(result.Details) > 0 {
		if b, err := json.Marshal(result.Details); err == nil {
			details = string(b)
		} else {
			log.Warn().Int64("monitor_id", monitorID).Err(err).Msg("Failed to encode check details")
		}
	}
	return &storage.CheckLog{
		MonitorID:      monitorID,
		Status:         result.Status,
		ResponseTimeMs: result.ResponseTimeMs,
		Message:        result.Message,
		Details:        details,
		CheckedAt:      result.CheckedAt,
	}
}
