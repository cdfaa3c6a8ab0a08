// Package stats derives rolling availability and latency figures from the
// append-only check log.
//
// The monitor_stats row is a cache: Recompute always rebuilds it from
// check_logs, so running it twice over the same history yields the same row.
package stats

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"pulsewatch/internal/apperr"
	"pulsewatch/internal/storage"
)

// Windows over which uptime and latency are aggregated.
const (
	Window24h = 24 * time.Hour
	Window7d  = 7 * 24 * time.Hour
	Window30d = 30 * 24 * time.Hour
)

// Log page bounds.
const (
	DefaultLogLimit = 20
	MaxLogLimit     = 100
)

// windowSample is the aggregate of one window.
type windowSample struct {
	total   int64
	up      int64
	avgResp sql.NullFloat64
}

func (w windowSample) uptime() float64 {
	if w.total == 0 {
		return 100
	}
	return 100 * float64(w.up) / float64(w.total)
}

func (w windowSample) avg() *float64 {
	if !w.avgResp.Valid {
		return nil
	}
	v := w.avgResp.Float64
	return &v
}

// Aggregator owns the monitor_stats table.
type Aggregator struct {
	orm   *storage.ORM
	repos *storage.Repositories

	// Now is the reference point of every window.
	Now func() time.Time
}

// NewAggregator creates a stats aggregator.
func NewAggregator(orm *storage.ORM, repos *storage.Repositories) *Aggregator {
	return &Aggregator{orm: orm, repos: repos, Now: time.Now}
}

// Compute derives the statistics of a monitor without storing them.
func (a *Aggregator) Compute(ctx context.Context, monitorID int64) (*storage.MonitorStats, error) {
	now := a.Now().UTC()

	var samples [3]windowSample
	for i, window := range []time.Duration{Window24h, Window7d, Window30d} {
		s, err := a.sample(ctx, monitorID, now.Add(-window))
		if err != nil {
			return nil, err
		}
		samples[i] = s
	}

	var checks, failures int64
	err := a.orm.QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN status <> 'up' THEN 1 ELSE 0 END), 0)
		FROM check_logs WHERE monitor_id = ?`, monitorID,
	).Scan(&checks, &failures)
	if err != nil {
		return nil, fmt.Errorf("failed to count checks: %w", err)
	}

	return &storage.MonitorStats{
		MonitorID:      monitorID,
		Uptime24h:      samples[0].uptime(),
		Uptime7d:       samples[1].uptime(),
		Uptime30d:      samples[2].uptime(),
		AvgResponse24h: samples[0].avg(),
		AvgResponse7d:  samples[1].avg(),
		AvgResponse30d: samples[2].avg(),
		ChecksCount:    checks,
		FailuresCount:  failures,
		UpdatedAt:      now,
	}, nil
}

// sample aggregates the logs checked at or after since. Latency averages
// only positive response times; every entry counts toward uptime.
func (a *Aggregator) sample(ctx context.Context, monitorID int64, since time.Time) (windowSample, error) {
	var s windowSample
	err := a.orm.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'up' THEN 1 ELSE 0 END), 0),
			AVG(CASE WHEN response_time_ms > 0 THEN response_time_ms END)
		FROM check_logs
		WHERE monitor_id = ? AND checked_at >= ?`,
		monitorID, storage.Millis(since),
	).Scan(&s.total, &s.up, &s.avgResp)
	if err != nil {
		return s, fmt.Errorf("failed to aggregate window: %w", err)
	}
	return s, nil
}

// Recompute rebuilds and stores the statistics row of a monitor.
func (a *Aggregator) Recompute(ctx context.Context, monitorID int64) (*storage.MonitorStats, error) {
	st, err := a.Compute(ctx, monitorID)
	if err != nil {
		return nil, err
	}

	_, err = a.orm.Exec(ctx, `
		INSERT INTO monitor_stats (
			monitor_id, uptime_24h, uptime_7d, uptime_30d,
			avg_response_24h, avg_response_7d, avg_response_30d,
			checks_count, failures_count, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(monitor_id) DO UPDATE SET
			uptime_24h = excluded.uptime_24h,
			uptime_7d = excluded.uptime_7d,
			uptime_30d = excluded.uptime_30d,
			avg_response_24h = excluded.avg_response_24h,
			avg_response_7d = excluded.avg_response_7d,
			avg_response_30d = excluded.avg_response_30d,
			checks_count = excluded.checks_count,
			failures_count = excluded.failures_count,
			updated_at = excluded.updated_at`,
		st.MonitorID, st.Uptime24h, st.Uptime7d, st.Uptime30d,
		st.AvgResponse24h, st.AvgResponse7d, st.AvgResponse30d,
		st.ChecksCount, st.FailuresCount, storage.Millis(st.UpdatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to store stats: %w", err)
	}

	log.Debug().Int64("monitor_id", monitorID).Float64("uptime_24h", st.Uptime24h).
		Int64("checks", st.ChecksCount).Msg("Stats recomputed")
	return st, nil
}

// Get returns the stored statistics of a monitor. A monitor that was never
// checked gets a computed zero-history snapshot.
func (a *Aggregator) Get(ctx context.Context, monitorID int64) (*storage.MonitorStats, error) {
	if _, err := a.repos.Monitors.GetByID(ctx, monitorID); err != nil {
		return nil, err
	}

	st, err := a.repos.Stats.First(ctx, "monitor_id = ?", monitorID)
	if errors.Is(err, apperr.ErrNotFound) {
		return a.Compute(ctx, monitorID)
	}
	return st, err
}

// Logs returns one page of a monitor's check log, newest first, and the
// total number of entries.
func (a *Aggregator) Logs(ctx context.Context, monitorID int64, limit, offset int) ([]storage.CheckLog, int64, error) {
	if _, err := a.repos.Monitors.GetByID(ctx, monitorID); err != nil {
		return nil, 0, err
	}

	limit, offset = ClampPage(limit, offset)

	logs, err := a.repos.CheckLogs.Select().
		Where("monitor_id = ?", monitorID).
		OrderBy("checked_at DESC, id DESC").
		Limit(limit).
		Offset(offset).
		Execute(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to load logs: %w", err)
	}

	total, err := a.repos.CheckLogs.Count(ctx, "monitor_id = ?", monitorID)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count logs: %w", err)
	}
	return logs, total, nil
}

// Recent returns the statuses of the n most recent checks, newest first.
func (a *Aggregator) Recent(ctx context.Context, monitorID int64, n int) ([]string, error) {
	rows, err := a.orm.Query(ctx,
		"SELECT status FROM check_logs WHERE monitor_id = ? ORDER BY checked_at DESC, id DESC LIMIT ?",
		monitorID, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	statuses := make([]string, 0, n)
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		statuses = append(statuses, s)
	}
	return statuses, rows.Err()
}

// Prune deletes check logs older than horizon and returns how many went away.
func (a *Aggregator) Prune(ctx context.Context, horizon time.Duration) (int64, error) {
	cutoff := a.Now().Add(-horizon)
	n, err := a.repos.CheckLogs.DeleteWhere(ctx, "checked_at < ?", storage.Millis(cutoff))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Info().Int64("deleted", n).Time("cutoff", cutoff).Msg("Pruned check logs")
	}
	return n, nil
}

// ClampPage applies the log page bounds: limit 1-100 (default 20), offset >= 0.
func ClampPage(limit, offset int) (int, int) {
	switch {
	case limit <= 0:
		limit = DefaultLogLimit
	case limit > MaxLogLimit:
		limit = MaxLogLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
