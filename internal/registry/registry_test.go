package registry

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"pulsewatch/internal/alert"
	"pulsewatch/internal/apperr"
	"pulsewatch/internal/checks"
	"pulsewatch/internal/config"
	"pulsewatch/internal/storage"
	"pulsewatch/internal/storage/storagetest"
	"pulsewatch/internal/tier"
)

const channelID = "123456789012345678"

// fakeRunner records lifecycle calls instead of arming timers.
type fakeRunner struct {
	mu      sync.Mutex
	calls   []string
	running map[int64]bool
}

func (r *fakeRunner) record(call string, id int64, running bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
	r.running[id] = running
}

func (r *fakeRunner) StartMonitor(ctx context.Context, id int64) error {
	r.record("start", id, true)
	return nil
}

func (r *fakeRunner) StopMonitor(ctx context.Context, id int64) error {
	r.record("stop", id, false)
	return nil
}

func (r *fakeRunner) RestartMonitor(ctx context.Context, id int64) error {
	r.record("restart", id, r.IsMonitorRunning(id))
	return nil
}

func (r *fakeRunner) IsMonitorRunning(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running[id]
}

func (r *fakeRunner) take() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	calls := r.calls
	r.calls = nil
	return calls
}

type fixture struct {
	st     *storage.Storage
	reg    *Registry
	runner *fakeRunner
	tiers  *tier.Service
	rules  *alert.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	st := storagetest.Open(t)
	checksCfg := config.ChecksConfig{DefaultTimeout: 10 * time.Second}
	tiers := tier.NewService(config.TiersConfig{
		Free:           config.TierLimits{MaxMonitors: 2, MinInterval: 300 * time.Second},
		Premium:        config.TierLimits{MaxMonitors: 20, MinInterval: 30 * time.Second},
		MaxInterval:    24 * time.Hour,
		PremiumFeature: "premium",
	}, st.Repos)
	runner := &fakeRunner{running: make(map[int64]bool)}
	rules := alert.NewService(st.Repos)

	return &fixture{
		st:     st,
		reg:    New(checksCfg, st, checks.NewManager(checksCfg), tiers, runner, rules),
		runner: runner,
		tiers:  tiers,
		rules:  rules,
	}
}

func tcpInput(interval int) Input {
	return Input{Name: "db", Type: "tcp", Target: "db.example.com:5432", IntervalSeconds: interval}
}

func TestCreate(t *testing.T) {
	ctx := context.Background()

	t.Run("Interval defaults to the tier floor", func(t *testing.T) {
		f := newFixture(t)
		m, err := f.reg.Create(ctx, "u1", "g1", tcpInput(0))
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if m.IntervalSeconds != 300 {
			t.Errorf("Expected 300s, got: %d", m.IntervalSeconds)
		}
		if m.TimeoutMs != 10000 {
			t.Errorf("Expected the configured default timeout, got: %d", m.TimeoutMs)
		}
		if m.GuildID != "g1" || m.Options != "{}" {
			t.Errorf("Unexpected monitor: %+v", m)
		}
	})

	t.Run("Interval below the floor is raised", func(t *testing.T) {
		f := newFixture(t)
		m, err := f.reg.Create(ctx, "u1", "g1", tcpInput(60))
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if m.IntervalSeconds != 300 {
			t.Errorf("Expected 300s, got: %d", m.IntervalSeconds)
		}
	})

	t.Run("Premium floor is lower", func(t *testing.T) {
		f := newFixture(t)
		f.tiers.Grant(ctx, "u1", "premium", nil)
		m, err := f.reg.Create(ctx, "u1", "g1", tcpInput(60))
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if m.IntervalSeconds != 60 {
			t.Errorf("Expected 60s, got: %d", m.IntervalSeconds)
		}
	})

	t.Run("Active monitors start at once", func(t *testing.T) {
		f := newFixture(t)
		m, _ := f.reg.Create(ctx, "u1", "g1", tcpInput(0))
		if calls := f.runner.take(); len(calls) != 1 || calls[0] != "start" {
			t.Errorf("Expected one start, got: %v", calls)
		}
		if !f.runner.IsMonitorRunning(m.ID) {
			t.Error("Expected monitor to be running")
		}
	})

	t.Run("Inactive monitors stay stopped", func(t *testing.T) {
		f := newFixture(t)
		in := tcpInput(0)
		off := false
		in.IsActive = &off
		m, err := f.reg.Create(ctx, "u1", "g1", in)
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if m.Status != storage.StatusStopped || len(f.runner.take()) != 0 {
			t.Errorf("Expected a stopped monitor and no runner calls, got: %s", m.Status)
		}
	})

	t.Run("Quota counts inactive monitors", func(t *testing.T) {
		f := newFixture(t)
		off := false
		in := tcpInput(0)
		in.IsActive = &off
		for range 2 {
			if _, err := f.reg.Create(ctx, "u1", "g1", in); err != nil {
				t.Fatalf("Expected no error, got: %v", err)
			}
		}
		if _, err := f.reg.Create(ctx, "u1", "g1", tcpInput(0)); !errors.Is(err, apperr.ErrQuotaExceeded) {
			t.Errorf("Expected ErrQuotaExceeded, got: %v", err)
		}
		if _, err := f.reg.Create(ctx, "u2", "g1", tcpInput(0)); err != nil {
			t.Errorf("Expected other owners to be unaffected, got: %v", err)
		}
	})
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		in   Input
	}{
		{"Unknown type", Input{Name: "x", Type: "smtp", Target: "mail.example.com"}},
		{"Injected ping target", Input{Name: "x", Type: "ping", Target: "-c 1000 example.com"}},
		{"TCP without port", Input{Name: "x", Type: "tcp", Target: "example.com"}},
		{"Unknown option", Input{Name: "x", Type: "tcp", Target: "example.com:80", Options: json.RawMessage(`{"retries":3}`)}},
		{"Keyword without keyword", Input{Name: "x", Type: "keyword", Target: "https://example.com"}},
		{"Interval over a day", Input{Name: "x", Type: "tcp", Target: "example.com:80", IntervalSeconds: 90000}},
		{"Timeout too short", Input{Name: "x", Type: "tcp", Target: "example.com:80", TimeoutMs: 500}},
		{"Timeout too long", Input{Name: "x", Type: "tcp", Target: "example.com:80", TimeoutMs: 61000}},
		{"Missing name", Input{Type: "tcp", Target: "example.com:80"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.reg.Create(ctx, "u1", "g1", tt.in); !errors.Is(err, apperr.ErrInvalid) {
				t.Errorf("Expected ErrInvalid, got: %v", err)
			}
		})
	}

	t.Run("Nothing was written", func(t *testing.T) {
		list, _ := f.reg.ListByOwner(ctx, "u1")
		if len(list) != 0 {
			t.Errorf("Expected no monitors, got: %d", len(list))
		}
	})
}

func TestUpdate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m, err := f.reg.Create(ctx, "u1", "g1", tcpInput(600))
	if err != nil {
		t.Fatalf("Failed to create: %v", err)
	}
	f.runner.take()

	t.Run("Interval below the floor is rejected", func(t *testing.T) {
		interval := 120
		_, err := f.reg.Update(ctx, "u1", m.ID, Patch{IntervalSeconds: &interval})
		if !errors.Is(err, apperr.ErrPolicyViolation) {
			t.Errorf("Expected ErrPolicyViolation, got: %v", err)
		}
		if got, _ := f.reg.Get(ctx, m.ID); got.IntervalSeconds != 600 {
			t.Errorf("Expected interval to stay 600, got: %d", got.IntervalSeconds)
		}
	})

	t.Run("Owner and guild are immutable", func(t *testing.T) {
		owner, guild := "u2", "g2"
		if _, err := f.reg.Update(ctx, "u1", m.ID, Patch{OwnerID: &owner}); !errors.Is(err, apperr.ErrInvalid) {
			t.Errorf("Expected ErrInvalid, got: %v", err)
		}
		if _, err := f.reg.Update(ctx, "u1", m.ID, Patch{GuildID: &guild}); !errors.Is(err, apperr.ErrInvalid) {
			t.Errorf("Expected ErrInvalid, got: %v", err)
		}
	})

	t.Run("Other owners are forbidden", func(t *testing.T) {
		name := "mine now"
		if _, err := f.reg.Update(ctx, "u2", m.ID, Patch{Name: &name}); !errors.Is(err, apperr.ErrForbidden) {
			t.Errorf("Expected ErrForbidden, got: %v", err)
		}
	})

	t.Run("Renaming does not restart", func(t *testing.T) {
		name := "primary db"
		got, err := f.reg.Update(ctx, "u1", m.ID, Patch{Name: &name})
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if got.Name != name {
			t.Errorf("Expected %q, got: %q", name, got.Name)
		}
		if calls := f.runner.take(); len(calls) != 0 {
			t.Errorf("Expected no runner calls, got: %v", calls)
		}
	})

	t.Run("Changing the interval restarts", func(t *testing.T) {
		interval := 900
		got, err := f.reg.Update(ctx, "u1", m.ID, Patch{IntervalSeconds: &interval})
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if got.IntervalSeconds != 900 {
			t.Errorf("Expected 900, got: %d", got.IntervalSeconds)
		}
		if calls := f.runner.take(); len(calls) != 1 || calls[0] != "restart" {
			t.Errorf("Expected one restart, got: %v", calls)
		}
	})

	t.Run("Deactivation stops and marks stopped", func(t *testing.T) {
		inactive := false
		got, err := f.reg.Update(ctx, "u1", m.ID, Patch{IsActive: &inactive})
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if got.IsActive || got.Status != storage.StatusStopped {
			t.Errorf("Expected inactive stopped monitor, got: %v/%s", got.IsActive, got.Status)
		}
		if calls := f.runner.take(); len(calls) != 1 || calls[0] != "stop" {
			t.Errorf("Expected one stop, got: %v", calls)
		}
	})

	t.Run("Changes to a stopped monitor do not start it", func(t *testing.T) {
		target := "db2.example.com:5432"
		if _, err := f.reg.Update(ctx, "u1", m.ID, Patch{Target: &target}); err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if calls := f.runner.take(); len(calls) != 0 {
			t.Errorf("Expected no runner calls, got: %v", calls)
		}
	})

	t.Run("Activation starts", func(t *testing.T) {
		got, err := f.reg.SetActive(ctx, "u1", m.ID, true)
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if !got.IsActive || got.Status != storage.StatusPending {
			t.Errorf("Expected active pending monitor, got: %v/%s", got.IsActive, got.Status)
		}
		if calls := f.runner.take(); len(calls) != 1 || calls[0] != "start" {
			t.Errorf("Expected one start, got: %v", calls)
		}
	})
}

func TestDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m, err := f.reg.Create(ctx, "u1", "g1", tcpInput(0))
	if err != nil {
		t.Fatalf("Failed to create: %v", err)
	}
	if _, err := f.rules.Create(ctx, "u1", m.ID, alert.RuleInput{SinkType: "channel", ChannelID: channelID}); err != nil {
		t.Fatalf("Failed to create rule: %v", err)
	}
	storagetest.Log(t, f.st, m.ID, storage.StatusUp, 10, time.Now())
	f.runner.take()

	if err := f.reg.Delete(ctx, "u2", m.ID); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("Expected ErrForbidden for another owner, got: %v", err)
	}
	if err := f.reg.Delete(ctx, "u1", m.ID); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	t.Run("Timer is stopped", func(t *testing.T) {
		if calls := f.runner.take(); len(calls) != 1 || calls[0] != "stop" {
			t.Errorf("Expected one stop, got: %v", calls)
		}
	})

	t.Run("Monitor is gone", func(t *testing.T) {
		if _, err := f.reg.Get(ctx, m.ID); !errors.Is(err, apperr.ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got: %v", err)
		}
	})

	t.Run("Alert rules and logs are gone", func(t *testing.T) {
		rules, _ := f.st.Repos.AlertRules.Count(ctx, "monitor_id = ?", m.ID)
		logs, _ := f.st.Repos.CheckLogs.Count(ctx, "monitor_id = ?", m.ID)
		if rules != 0 || logs != 0 {
			t.Errorf("Expected no dependents, got: %d rules, %d logs", rules, logs)
		}
	})

	t.Run("Deleting again is a no-op", func(t *testing.T) {
		if err := f.reg.Delete(ctx, "u1", m.ID); err != nil {
			t.Errorf("Expected no error, got: %v", err)
		}
	})
}

func TestSetActiveRearmsMissingTimer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m, err := f.reg.Create(ctx, "u1", "g1", tcpInput(0))
	if err != nil {
		t.Fatalf("Failed to create: %v", err)
	}
	f.runner.take()

	if _, err := f.reg.SetActive(ctx, "u1", m.ID, true); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if calls := f.runner.take(); len(calls) != 0 {
		t.Errorf("Expected starting a running monitor to be a no-op, got: %v", calls)
	}

	f.runner.record("lost", m.ID, false)
	f.runner.take()
	if _, err := f.reg.SetActive(ctx, "u1", m.ID, true); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if calls := f.runner.take(); len(calls) != 1 || calls[0] != "start" {
		t.Errorf("Expected the timer to be re-armed, got: %v", calls)
	}
}

func TestStopKeepsLastStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m, err := f.reg.Create(ctx, "u1", "g1", tcpInput(0))
	if err != nil {
		t.Fatalf("Failed to create: %v", err)
	}
	if _, err := f.st.Repos.Monitors.UpdateColumns(ctx, m.ID, map[string]any{"status": storage.StatusDown}); err != nil {
		t.Fatalf("Failed to set status: %v", err)
	}
	f.runner.take()

	got, err := f.reg.SetActive(ctx, "u1", m.ID, false)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	t.Run("Status is untouched", func(t *testing.T) {
		if got.Status != storage.StatusDown {
			t.Errorf("Expected status %s, got: %s", storage.StatusDown, got.Status)
		}
	})

	t.Run("Monitor is inactive and its timer stopped", func(t *testing.T) {
		if got.IsActive {
			t.Error("Expected monitor to be inactive")
		}
		if calls := f.runner.take(); len(calls) != 1 || calls[0] != "stop" {
			t.Errorf("Expected one stop, got: %v", calls)
		}
	})

	t.Run("Stopping again is a no-op on the record", func(t *testing.T) {
		again, err := f.reg.SetActive(ctx, "u1", m.ID, false)
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if again.IsActive || again.Status != storage.StatusDown {
			t.Errorf("Expected inactive down monitor, got: %v/%s", again.IsActive, again.Status)
		}
	})
}

func TestConcurrentCreatesRespectQuota(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	inactive := false
	in := tcpInput(0)
	in.IsActive = &inactive

	const attempts = 6
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
		other   []error
	)
	for range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.reg.Create(ctx, "u1", "g1", in)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case !errors.Is(err, apperr.ErrQuotaExceeded):
				other = append(other, err)
			}
		}()
	}
	wg.Wait()

	if len(other) != 0 {
		t.Fatalf("Expected only quota errors, got: %v", other)
	}
	if created != 2 {
		t.Errorf("Expected 2 creates to succeed, got: %d", created)
	}
	if n, _ := f.st.Repos.Monitors.Count(ctx, "owner_id = ?", "u1"); n != 2 {
		t.Errorf("Expected 2 stored monitors, got: %d", n)
	}
}
