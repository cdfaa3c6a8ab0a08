package report

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"pulsewatch/internal/apperr"
	"pulsewatch/internal/config"
	"pulsewatch/internal/core"
	"pulsewatch/internal/stats"
	"pulsewatch/internal/storage"
	"pulsewatch/internal/storage/storagetest"
	"pulsewatch/internal/tier"
)

const channelID = "123456789012345678"

type recordingPublisher struct {
	mu        sync.Mutex
	artifacts []*Artifact
	err       error
}

func (p *recordingPublisher) Name() string { return "recording" }

func (p *recordingPublisher) Publish(ctx context.Context, r *storage.Report, a *Artifact) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.artifacts = append(p.artifacts, a)
	return p.err
}

type fixture struct {
	st        *storage.Storage
	svc       *Service
	tiers     *tier.Service
	scheduler *core.Scheduler
	published *recordingPublisher
}

func newFixture(t *testing.T, publishers ...Publisher) *fixture {
	t.Helper()

	st := storagetest.Open(t)
	tiers := tier.NewService(config.TiersConfig{
		Free:           config.TierLimits{MaxMonitors: 5, MinInterval: 300 * time.Second},
		Premium:        config.TierLimits{MaxMonitors: 20, MinInterval: 30 * time.Second},
		MaxInterval:    24 * time.Hour,
		PremiumFeature: "premium",
	}, st.Repos)
	scheduler := core.NewScheduler(config.SchedulerConfig{WorkerCount: 2})
	recorder := &recordingPublisher{}

	cfg := config.ReportsConfig{Timezone: "UTC", RecentLogs: 2, PremiumRecentLogs: 20, Concurrency: 2}
	svc := NewService(cfg, st, tiers, stats.NewAggregator(st.ORM(), st.Repos), scheduler,
		append([]Publisher{recorder}, publishers...)...)

	return &fixture{st: st, svc: svc, tiers: tiers, scheduler: scheduler, published: recorder}
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	mine := storagetest.Monitor(t, f.st, "u1")
	theirs := storagetest.Monitor(t, f.st, "u2")

	tests := []struct {
		name string
		in   Input
	}{
		{"Foreign monitor", Input{Name: "r", MonitorIDs: []int64{mine.ID, theirs.ID}, ChannelID: channelID}},
		{"Missing monitor", Input{Name: "r", MonitorIDs: []int64{9999}, ChannelID: channelID}},
		{"Duplicate monitor", Input{Name: "r", MonitorIDs: []int64{mine.ID, mine.ID}, ChannelID: channelID}},
		{"No monitors", Input{Name: "r", ChannelID: channelID}},
		{"Missing channel", Input{Name: "r", MonitorIDs: []int64{mine.ID}}},
		{"Malformed channel", Input{Name: "r", MonitorIDs: []int64{mine.ID}, ChannelID: "general"}},
		{"Bad schedule", Input{Name: "r", MonitorIDs: []int64{mine.ID}, ChannelID: channelID, Schedule: "weekly-9"}},
		{"Bad email", Input{Name: "r", MonitorIDs: []int64{mine.ID}, ChannelID: channelID, Email: "not-an-address"}},
		{"Empty name", Input{Name: "  ", MonitorIDs: []int64{mine.ID}, ChannelID: channelID}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Create(ctx, "u1", tt.in)
			if !errors.Is(err, apperr.ErrInvalid) {
				t.Errorf("Expected ErrInvalid, got: %v", err)
			}
		})
	}

	t.Run("Nothing was written", func(t *testing.T) {
		n, _ := f.st.Repos.Reports.Count(ctx, "1 = 1")
		if n != 0 {
			t.Errorf("Expected no reports, got: %d", n)
		}
	})
}

func TestCreateAndGet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := storagetest.Monitor(t, f.st, "u1")
	b := storagetest.Monitor(t, f.st, "u1")

	r, err := f.svc.Create(ctx, "u1", Input{
		Name:       "Weekly digest",
		MonitorIDs: []int64{b.ID, a.ID},
		Schedule:   "weekly-3",
		ChannelID:  channelID,
		Email:      "ops@example.com",
	})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	t.Run("Schedule is stored parsed", func(t *testing.T) {
		if r.ScheduleFrequency != storage.FrequencyWeekly || r.ScheduleDay != 3 {
			t.Errorf("Expected weekly/3, got: %s/%d", r.ScheduleFrequency, r.ScheduleDay)
		}
	})

	t.Run("Monitor order is kept", func(t *testing.T) {
		got, err := f.svc.Get(ctx, "u1", r.ID)
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if len(got.MonitorIDs) != 2 || got.MonitorIDs[0] != b.ID || got.MonitorIDs[1] != a.ID {
			t.Errorf("Expected [%d %d], got: %v", b.ID, a.ID, got.MonitorIDs)
		}
	})

	t.Run("Other owners are forbidden", func(t *testing.T) {
		if _, err := f.svc.Get(ctx, "u2", r.ID); !errors.Is(err, apperr.ErrForbidden) {
			t.Errorf("Expected ErrForbidden, got: %v", err)
		}
		if err := f.svc.Delete(ctx, "u2", r.ID); !errors.Is(err, apperr.ErrForbidden) {
			t.Errorf("Expected ErrForbidden, got: %v", err)
		}
	})

	t.Run("List is per owner", func(t *testing.T) {
		list, _ := f.svc.List(ctx, "u1")
		if len(list) != 1 || len(list[0].MonitorIDs) != 2 {
			t.Errorf("Expected one report with two monitors, got: %+v", list)
		}
		other, _ := f.svc.List(ctx, "u2")
		if len(other) != 0 {
			t.Errorf("Expected no reports for u2, got: %d", len(other))
		}
	})

	t.Run("Free owners get free reports", func(t *testing.T) {
		if r.IsPremium {
			t.Error("Expected a free report")
		}
	})
}

func TestSchedulingLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m := storagetest.Monitor(t, f.st, "u1")
	manual, err := f.svc.Create(ctx, "u1", Input{Name: "manual", MonitorIDs: []int64{m.ID}, ChannelID: channelID})
	if err != nil {
		t.Fatalf("Failed to create: %v", err)
	}
	daily, err := f.svc.Create(ctx, "u1", Input{Name: "daily", MonitorIDs: []int64{m.ID}, ChannelID: channelID, Schedule: "daily"})
	if err != nil {
		t.Fatalf("Failed to create: %v", err)
	}

	if err := f.scheduler.Start(ctx); err != nil {
		t.Fatalf("Failed to start scheduler: %v", err)
	}
	defer f.scheduler.Stop()

	if err := f.svc.Start(ctx); err != nil {
		t.Fatalf("Failed to start reports: %v", err)
	}

	t.Run("Only scheduled reports are armed", func(t *testing.T) {
		if f.scheduler.HasJob(jobID(manual.ID)) {
			t.Error("Expected manual report to stay unarmed")
		}
		if !f.scheduler.HasJob(jobID(daily.ID)) {
			t.Error("Expected daily report to be armed")
		}
	})

	t.Run("Deactivation disarms", func(t *testing.T) {
		off := false
		if _, err := f.svc.Update(ctx, "u1", daily.ID, Patch{IsActive: &off}); err != nil {
			t.Fatalf("Failed to update: %v", err)
		}
		if f.scheduler.HasJob(jobID(daily.ID)) {
			t.Error("Expected inactive report to be disarmed")
		}
	})

	t.Run("Scheduling a manual report arms it", func(t *testing.T) {
		weekly := "weekly-1"
		updated, err := f.svc.Update(ctx, "u1", manual.ID, Patch{Schedule: &weekly})
		if err != nil {
			t.Fatalf("Failed to update: %v", err)
		}
		if updated.ScheduleFrequency != storage.FrequencyWeekly || updated.ScheduleDay != 1 {
			t.Errorf("Expected weekly/1, got: %s/%d", updated.ScheduleFrequency, updated.ScheduleDay)
		}
		if !f.scheduler.HasJob(jobID(manual.ID)) {
			t.Error("Expected weekly report to be armed")
		}
	})

	t.Run("Delete disarms", func(t *testing.T) {
		if err := f.svc.Delete(ctx, "u1", manual.ID); err != nil {
			t.Fatalf("Failed to delete: %v", err)
		}
		if f.scheduler.HasJob(jobID(manual.ID)) {
			t.Error("Expected deleted report to be disarmed")
		}
		if _, err := f.svc.Get(ctx, "u1", manual.ID); !errors.Is(err, apperr.ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got: %v", err)
		}
	})
}

func TestGenerate(t *testing.T) {
	failing := &recordingPublisher{err: errors.New("channel unreachable")}
	f := newFixture(t, failing)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Millisecond)
	f.svc.Now = func() time.Time { return now }

	up := storagetest.Monitor(t, f.st, "u1")
	down := storagetest.Monitor(t, f.st, "u1")
	for i := 3; i > 0; i-- {
		storagetest.Log(t, f.st, up.ID, storage.StatusUp, 100, now.Add(-time.Duration(i)*time.Minute))
	}
	storagetest.Log(t, f.st, down.ID, storage.StatusDown, 0, now.Add(-time.Minute))
	f.st.Repos.Monitors.UpdateColumns(ctx, up.ID, map[string]any{"status": storage.StatusUp})
	f.st.Repos.Monitors.UpdateColumns(ctx, down.ID, map[string]any{"status": storage.StatusDown})

	r, err := f.svc.Create(ctx, "u1", Input{Name: "digest", MonitorIDs: []int64{up.ID, down.ID}, ChannelID: channelID})
	if err != nil {
		t.Fatalf("Failed to create: %v", err)
	}

	a, err := f.svc.Generate(ctx, "u1", r.ID)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	t.Run("Artifact carries every monitor", func(t *testing.T) {
		if a.ID == "" || a.ReportID != r.ID || !a.GeneratedAt.Equal(now) {
			t.Errorf("Expected artifact metadata, got: %+v", a)
		}
		if len(a.Entries) != 2 || a.Entries[0].Monitor.ID != up.ID {
			t.Fatalf("Expected two entries in report order, got: %d", len(a.Entries))
		}
	})

	t.Run("Free reports keep few logs", func(t *testing.T) {
		if n := len(a.Entries[0].RecentLogs); n != 2 {
			t.Errorf("Expected 2 recent logs, got: %d", n)
		}
	})

	t.Run("Summary counts statuses", func(t *testing.T) {
		s := a.Summary
		if s.Total != 2 || s.Up != 1 || s.Down != 1 || s.Other != 0 {
			t.Errorf("Expected 1 up and 1 down, got: %+v", s)
		}
	})

	t.Run("Every publisher is tried", func(t *testing.T) {
		if len(f.published.artifacts) != 1 || len(failing.artifacts) != 1 {
			t.Errorf("Expected both publishers to run once, got: %d and %d",
				len(f.published.artifacts), len(failing.artifacts))
		}
	})

	t.Run("Last generated is stamped despite publish failure", func(t *testing.T) {
		stored, _ := f.svc.Get(ctx, "u1", r.ID)
		if stored.LastGenerated == nil || !stored.LastGenerated.Equal(now) {
			t.Errorf("Expected last_generated %v, got: %v", now, stored.LastGenerated)
		}
	})

	t.Run("Deleted monitors are dropped", func(t *testing.T) {
		if err := f.st.Repos.Monitors.Delete(ctx, down.ID); err != nil {
			t.Fatalf("Failed to delete monitor: %v", err)
		}
		a, err := f.svc.Generate(ctx, "u1", r.ID)
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if len(a.Entries) != 1 {
			t.Errorf("Expected one entry, got: %d", len(a.Entries))
		}
	})
}

func TestPremiumReportDetails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.tiers.Grant(ctx, "u1", "premium", nil); err != nil {
		t.Fatalf("Failed to grant: %v", err)
	}

	m := storagetest.Monitor(t, f.st, "u1")
	entry := &storage.CheckLog{
		MonitorID: m.ID,
		Status:    storage.StatusDown,
		Message:   "connection refused",
		Details:   `{"port":443}`,
		CheckedAt: time.Now().UTC(),
	}
	if _, err := f.st.Repos.CheckLogs.Create(ctx, entry); err != nil {
		t.Fatalf("Failed to append log: %v", err)
	}

	r, err := f.svc.Create(ctx, "u1", Input{Name: "premium", MonitorIDs: []int64{m.ID}, ChannelID: channelID})
	if err != nil {
		t.Fatalf("Failed to create: %v", err)
	}
	if !r.IsPremium {
		t.Fatal("Expected a premium report")
	}

	a, err := f.svc.Generate(ctx, "u1", r.ID)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	line := a.Entries[0].RecentLogs[0]
	if line.Message != "connection refused" || string(line.Details) != `{"port":443}` {
		t.Errorf("Expected failure details, got: %+v", line)
	}
}

func TestDigestRendering(t *testing.T) {
	avg := 123.0
	a := &Artifact{
		ReportID:    7,
		Name:        "digest",
		GeneratedAt: time.Date(2025, 10, 16, 0, 0, 0, 0, time.UTC),
		Entries: []*Entry{{
			Monitor: storage.Monitor{Name: "api", Status: storage.StatusDown, Target: "https://api.example.com"},
			Stats:   storage.MonitorStats{Uptime24h: 50, Uptime7d: 90, AvgResponse24h: &avg},
		}},
	}
	a.Summary = summarize(a.Entries)

	embed := DigestEmbed(a)
	if embed.Color != 16711680 {
		t.Errorf("Expected red for a down monitor, got: %d", embed.Color)
	}
	if len(embed.Fields) != 1 || embed.Fields[0].Value != "DOWN | 50.00% (24h) | 90.00% (7d) | 123ms" {
		t.Errorf("Unexpected fields: %+v", embed.Fields)
	}

	text := DigestText(a)
	if want := "api [DOWN] https://api.example.com"; !strings.Contains(text, want) {
		t.Errorf("Expected %q in text, got: %s", want, text)
	}
}

