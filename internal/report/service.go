// Package report builds digests over a set of monitors, on demand or on a
// daily, weekly or monthly schedule, and hands them to publishers.
package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/mail"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"pulsewatch/internal/apperr"
	"pulsewatch/internal/config"
	"pulsewatch/internal/core"
	"pulsewatch/internal/stats"
	"pulsewatch/internal/storage"
	"pulsewatch/internal/tier"
)

var snowflake = regexp.MustCompile(`^[0-9]{17,20}$`)

// Input is a create request for a report.
type Input struct {
	Name       string  `json:"name"`
	MonitorIDs []int64 `json:"monitor_ids"`
	Schedule   string  `json:"schedule"`
	ChannelID  string  `json:"channel_id"`
	Email      string  `json:"email"`
}

// Patch is a partial update of a report. Nil fields are kept.
type Patch struct {
	Name       *string `json:"name"`
	MonitorIDs []int64 `json:"monitor_ids"`
	Schedule   *string `json:"schedule"`
	ChannelID  *string `json:"channel_id"`
	Email      *string `json:"email"`
	IsActive   *bool   `json:"is_active"`
}

// Service manages reports and their generation timers.
type Service struct {
	cfg        config.ReportsConfig
	storage    *storage.Storage
	tiers      *tier.Service
	stats      *stats.Aggregator
	scheduler  *core.Scheduler
	publishers []Publisher

	// Now is the clock used for generated_at and last_generated.
	Now func() time.Time
}

// NewService creates a report service. Scheduled reports are armed on
// scheduler once it runs; see Start.
func NewService(cfg config.ReportsConfig, st *storage.Storage, tiers *tier.Service, aggregator *stats.Aggregator, scheduler *core.Scheduler, publishers ...Publisher) *Service {
	return &Service{
		cfg:        cfg,
		storage:    st,
		tiers:      tiers,
		stats:      aggregator,
		scheduler:  scheduler,
		publishers: publishers,
		Now:        time.Now,
	}
}

func jobID(reportID int64) string {
	return "report_" + strconv.FormatInt(reportID, 10)
}

// Start arms every active scheduled report. The scheduler must be running.
func (s *Service) Start(ctx context.Context) error {
	reports, err := s.storage.Repos.Reports.Where(ctx, "is_active = ? AND schedule_frequency != ''", true)
	if err != nil {
		return fmt.Errorf("failed to load reports: %w", err)
	}
	for i := range reports {
		s.arm(&reports[i])
	}
	log.Info().Int("count", len(reports)).Msg("Scheduled reports armed")
	return nil
}

// Create validates and stores a report owned by ownerID. Every referenced
// monitor must exist and belong to the same owner.
func (s *Service) Create(ctx context.Context, ownerID string, in Input) (*storage.Report, error) {
	sched, err := ParseSchedule(in.Schedule)
	if err != nil {
		return nil, err
	}

	premium, err := s.tiers.IsPremium(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve tier: %w", err)
	}

	r := &storage.Report{
		OwnerID:           ownerID,
		Name:              strings.TrimSpace(in.Name),
		ScheduleFrequency: sched.Frequency,
		ScheduleDay:       sched.Day,
		ChannelID:         strings.TrimSpace(in.ChannelID),
		Email:             strings.TrimSpace(in.Email),
		IsActive:          true,
		IsPremium:         premium,
		MonitorIDs:        in.MonitorIDs,
	}
	if err := s.validate(ctx, r); err != nil {
		return nil, err
	}

	if _, err := s.storage.Repos.Reports.Create(ctx, r); err != nil {
		return nil, err
	}
	if err := s.storage.ReplaceReportMonitors(ctx, r.ID, r.MonitorIDs); err != nil {
		_ = s.storage.Repos.Reports.Delete(ctx, r.ID)
		return nil, err
	}

	s.arm(r)
	log.Info().Int64("report_id", r.ID).Str("owner_id", ownerID).Str("schedule", sched.String()).
		Int("monitors", len(r.MonitorIDs)).Msg("Report created")
	return r, nil
}

// List returns the reports of ownerID with their monitor ids.
func (s *Service) List(ctx context.Context, ownerID string) ([]storage.Report, error) {
	reports, err := s.storage.Repos.Reports.Where(ctx, "owner_id = ?", ownerID)
	if err != nil {
		return nil, err
	}
	for i := range reports {
		if reports[i].MonitorIDs, err = s.storage.ReportMonitorIDs(ctx, reports[i].ID); err != nil {
			return nil, err
		}
	}
	return reports, nil
}

// Get returns one report owned by ownerID.
func (s *Service) Get(ctx context.Context, ownerID string, reportID int64) (*storage.Report, error) {
	r, err := s.load(ctx, reportID)
	if err != nil {
		return nil, err
	}
	if r.OwnerID != ownerID {
		return nil, apperr.ErrForbidden
	}
	return r, nil
}

// Update applies patch with the same validation as Create and re-arms the
// timer for the resulting schedule.
func (s *Service) Update(ctx context.Context, ownerID string, reportID int64, patch Patch) (*storage.Report, error) {
	r, err := s.Get(ctx, ownerID, reportID)
	if err != nil {
		return nil, err
	}

	if patch.Name != nil {
		r.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.MonitorIDs != nil {
		r.MonitorIDs = patch.MonitorIDs
	}
	if patch.Schedule != nil {
		sched, err := ParseSchedule(*patch.Schedule)
		if err != nil {
			return nil, err
		}
		r.ScheduleFrequency, r.ScheduleDay = sched.Frequency, sched.Day
	}
	if patch.ChannelID != nil {
		r.ChannelID = strings.TrimSpace(*patch.ChannelID)
	}
	if patch.Email != nil {
		r.Email = strings.TrimSpace(*patch.Email)
	}
	if patch.IsActive != nil {
		r.IsActive = *patch.IsActive
	}

	if err := s.validate(ctx, r); err != nil {
		return nil, err
	}

	if _, err := s.storage.Repos.Reports.UpdateColumns(ctx, r.ID, map[string]any{
		"name":               r.Name,
		"schedule_frequency": r.ScheduleFrequency,
		"schedule_day":       r.ScheduleDay,
		"channel_id":         r.ChannelID,
		"email":              r.Email,
		"is_active":          r.IsActive,
		"updated_at":         s.Now().UTC(),
	}); err != nil {
		return nil, err
	}
	if patch.MonitorIDs != nil {
		if err := s.storage.ReplaceReportMonitors(ctx, r.ID, r.MonitorIDs); err != nil {
			return nil, err
		}
	}

	s.disarm(r.ID)
	s.arm(r)

	log.Info().Int64("report_id", r.ID).Msg("Report updated")
	return s.load(ctx, r.ID)
}

// Delete disarms and removes a report.
func (s *Service) Delete(ctx context.Context, ownerID string, reportID int64) error {
	if _, err := s.Get(ctx, ownerID, reportID); err != nil {
		return err
	}
	s.disarm(reportID)
	if err := s.storage.Repos.Reports.Delete(ctx, reportID); err != nil {
		return err
	}
	log.Info().Int64("report_id", reportID).Msg("Report deleted")
	return nil
}

// Generate builds and publishes a report owned by ownerID right away.
func (s *Service) Generate(ctx context.Context, ownerID string, reportID int64) (*Artifact, error) {
	r, err := s.Get(ctx, ownerID, reportID)
	if err != nil {
		return nil, err
	}
	return s.generate(ctx, r)
}

func (s *Service) load(ctx context.Context, reportID int64) (*storage.Report, error) {
	r, err := s.storage.Repos.Reports.GetByID(ctx, reportID)
	if err != nil {
		return nil, err
	}
	if r.MonitorIDs, err = s.storage.ReportMonitorIDs(ctx, r.ID); err != nil {
		return nil, err
	}
	return r, nil
}

// validate checks the report row, its sinks and monitor ownership.
func (s *Service) validate(ctx context.Context, r *storage.Report) error {
	if err := r.Validate(); err != nil {
		return err
	}
	if !snowflake.MatchString(r.ChannelID) {
		return apperr.Invalidf("channel_id must be a channel snowflake")
	}
	if r.Email != "" {
		if _, err := mail.ParseAddress(r.Email); err != nil {
			return apperr.Invalidf("invalid email address %q", r.Email)
		}
	}

	seen := make(map[int64]bool, len(r.MonitorIDs))
	for _, id := range r.MonitorIDs {
		if seen[id] {
			return apperr.Invalidf("monitor %d is listed twice", id)
		}
		seen[id] = true

		m, err := s.storage.Repos.Monitors.GetByID(ctx, id)
		if errors.Is(err, apperr.ErrNotFound) || (err == nil && m.OwnerID != r.OwnerID) {
			return apperr.Invalidf("monitor %d does not exist or is not yours", id)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// arm schedules generation for an active scheduled report. Reports created
// before the scheduler runs are picked up by Start.
func (s *Service) arm(r *storage.Report) {
	sched := scheduleOf(r)
	if !r.IsActive || sched.IsManual() || !s.scheduler.IsRunning() {
		return
	}

	reportID := r.ID
	added, err := s.scheduler.AddJob(&core.ScheduledJob{
		ID:      jobID(reportID),
		Trigger: sched.In(s.cfg.Location()),
		Task: func(ctx context.Context) error {
			return s.runScheduled(ctx, reportID)
		},
	})
	if err != nil {
		log.Error().Int64("report_id", reportID).Err(err).Msg("Failed to arm report")
		return
	}
	if added {
		next := sched.In(s.cfg.Location()).Next(s.Now())
		log.Debug().Int64("report_id", reportID).Time("next", next).Msg("Report armed")
	}
}

func (s *Service) disarm(reportID int64) {
	s.scheduler.RemoveJob(jobID(reportID))
}

// runScheduled is the timer task of one report.
func (s *Service) runScheduled(ctx context.Context, reportID int64) error {
	r, err := s.load(ctx, reportID)
	if errors.Is(err, apperr.ErrNotFound) {
		s.disarm(reportID)
		return nil
	}
	if err != nil {
		return err
	}
	if !r.IsActive {
		s.disarm(reportID)
		return nil
	}
	_, err = s.generate(ctx, r)
	return err
}

// generate assembles the artifact, publishes it and stamps last_generated.
// Publish failures are logged and do not fail generation.
func (s *Service) generate(ctx context.Context, r *storage.Report) (*Artifact, error) {
	limit := s.cfg.RecentLogs
	if r.IsPremium {
		limit = s.cfg.PremiumRecentLogs
	}

	entries := make([]*Entry, len(r.MonitorIDs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(s.cfg.Concurrency, 1))
	for i, id := range r.MonitorIDs {
		g.Go(func() error {
			entry, err := s.entry(gctx, id, limit, r.IsPremium)
			if errors.Is(err, apperr.ErrNotFound) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("monitor %d: %w", id, err)
			}
			entries[i] = entry
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to assemble report %d: %w", r.ID, err)
	}

	now := s.Now().UTC()
	a := &Artifact{
		ID:          uuid.NewString(),
		ReportID:    r.ID,
		Name:        r.Name,
		OwnerID:     r.OwnerID,
		Premium:     r.IsPremium,
		GeneratedAt: now,
		Entries:     slices.DeleteFunc(entries, func(e *Entry) bool { return e == nil }),
	}
	a.Summary = summarize(a.Entries)

	for _, p := range s.publishers {
		if err := p.Publish(ctx, r, a); err != nil {
			log.Warn().Int64("report_id", r.ID).Str("publisher", p.Name()).Err(err).Msg("Failed to publish report")
		}
	}

	if _, err := s.storage.Repos.Reports.UpdateColumns(ctx, r.ID, map[string]any{"last_generated": now}); err != nil {
		return nil, fmt.Errorf("failed to stamp report: %w", err)
	}
	r.LastGenerated = &now

	log.Info().Int64("report_id", r.ID).Str("artifact_id", a.ID).Int("monitors", len(a.Entries)).Msg("Report generated")
	return a, nil
}

func (s *Service) entry(ctx context.Context, monitorID int64, limit int, detailed bool) (*Entry, error) {
	m, err := s.storage.Repos.Monitors.GetByID(ctx, monitorID)
	if err != nil {
		return nil, err
	}
	st, err := s.stats.Get(ctx, monitorID)
	if err != nil {
		return nil, err
	}
	logs, _, err := s.stats.Logs(ctx, monitorID, limit, 0)
	if err != nil {
		return nil, err
	}

	e := &Entry{Monitor: *m, Stats: *st, RecentLogs: make([]LogLine, 0, len(logs))}
	for _, l := range logs {
		line := LogLine{Status: l.Status, ResponseTimeMs: l.ResponseTimeMs, CheckedAt: l.CheckedAt}
		if detailed {
			line.Message = l.Message
			if l.Details != "" && l.Details != "{}" {
				line.Details = json.RawMessage(l.Details)
			}
		}
		e.RecentLogs = append(e.RecentLogs, line)
	}
	return e, nil
}
