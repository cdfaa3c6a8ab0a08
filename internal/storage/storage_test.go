package storage_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"pulsewatch/internal/apperr"
	"pulsewatch/internal/storage"
	"pulsewatch/internal/storage/storagetest"
)

func TestMigrations(t *testing.T) {
	ctx := context.Background()
	cfg := storagetest.Config(t)

	st, err := storage.Open(ctx, cfg)
	if err != nil {
		t.Fatalf("Expected first open to succeed, got: %v", err)
	}
	version, err := st.SchemaVersion(ctx)
	if err != nil {
		t.Fatalf("Expected schema version, got: %v", err)
	}
	if version != 6 {
		t.Errorf("Expected schema version 6, got: %d", version)
	}
	st.Close()

	t.Run("Reopening applies nothing twice", func(t *testing.T) {
		st, err := storage.Open(ctx, cfg)
		if err != nil {
			t.Fatalf("Expected reopen to succeed, got: %v", err)
		}
		defer st.Close()

		again, _ := st.SchemaVersion(ctx)
		if again != version {
			t.Errorf("Expected version %d after reopen, got: %d", version, again)
		}
	})
}

func TestRepositoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := storagetest.Open(t)
	repo := st.Repos.Monitors

	m := storagetest.Monitor(t, st, "owner-1")
	if m.ID == 0 {
		t.Fatal("Expected Create to fill the generated ID")
	}

	t.Run("GetByID returns persisted values", func(t *testing.T) {
		got, err := repo.GetByID(ctx, m.ID)
		if err != nil {
			t.Fatalf("Expected monitor, got: %v", err)
		}
		if got.OwnerID != "owner-1" || got.Type != "http" || !got.IsActive {
			t.Errorf("Unexpected monitor: %+v", got)
		}
		if got.LastCheck != nil {
			t.Errorf("Expected nil last_check, got: %v", got.LastCheck)
		}
		if got.CreatedAt.UnixMilli() != m.CreatedAt.UnixMilli() {
			t.Errorf("Expected created_at %v, got: %v", m.CreatedAt, got.CreatedAt)
		}
	})

	t.Run("UpdateColumns touches only named columns", func(t *testing.T) {
		now := time.Now().UTC().Truncate(time.Millisecond)
		ok, err := repo.UpdateColumns(ctx, m.ID, map[string]any{
			"status":     storage.StatusUp,
			"last_check": now,
		})
		if err != nil || !ok {
			t.Fatalf("Expected update to hit one row, got ok=%v err=%v", ok, err)
		}

		got, _ := repo.GetByID(ctx, m.ID)
		if got.Status != storage.StatusUp {
			t.Errorf("Expected status up, got: %s", got.Status)
		}
		if got.LastCheck == nil || !got.LastCheck.Equal(now) {
			t.Errorf("Expected last_check %v, got: %v", now, got.LastCheck)
		}
		if got.Name != m.Name {
			t.Errorf("Expected name to be untouched, got: %s", got.Name)
		}
	})

	t.Run("UpdateColumns on missing row", func(t *testing.T) {
		ok, err := repo.UpdateColumns(ctx, 9999, map[string]any{"status": storage.StatusDown})
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if ok {
			t.Error("Expected no row to be updated")
		}
	})

	t.Run("Missing row is not found", func(t *testing.T) {
		_, err := repo.GetByID(ctx, 9999)
		if !errors.Is(err, apperr.ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got: %v", err)
		}
	})

	t.Run("Delete is idempotent", func(t *testing.T) {
		if err := repo.Delete(ctx, m.ID); err != nil {
			t.Fatalf("Expected delete to succeed, got: %v", err)
		}
		if err := repo.Delete(ctx, m.ID); err != nil {
			t.Errorf("Expected second delete to succeed, got: %v", err)
		}
		if n, _ := repo.Count(ctx, ""); n != 0 {
			t.Errorf("Expected no monitors left, got: %d", n)
		}
	})
}

func TestSelectBuilder(t *testing.T) {
	ctx := context.Background()
	st := storagetest.Open(t)
	m := storagetest.Monitor(t, st, "owner-1")

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		storagetest.Log(t, st, m.ID, storage.StatusUp, int64(100+i), base.Add(time.Duration(i)*time.Minute))
	}

	logs, err := st.Repos.CheckLogs.Select().
		Where("monitor_id = ?", m.ID).
		OrderBy("checked_at DESC").
		Limit(2).
		Offset(1).
		Execute(ctx)
	if err != nil {
		t.Fatalf("Expected logs, got: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("Expected 2 logs, got: %d", len(logs))
	}
	if logs[0].ResponseTimeMs != 103 || logs[1].ResponseTimeMs != 102 {
		t.Errorf("Expected newest-first paging, got: %d, %d", logs[0].ResponseTimeMs, logs[1].ResponseTimeMs)
	}

	count, err := st.Repos.CheckLogs.Select().Where("monitor_id = ?", m.ID).Limit(2).Count(ctx)
	if err != nil {
		t.Fatalf("Expected count, got: %v", err)
	}
	if count != 5 {
		t.Errorf("Expected count to ignore limit, got: %d", count)
	}
}

func TestReportMonitors(t *testing.T) {
	ctx := context.Background()
	st := storagetest.Open(t)
	a := storagetest.Monitor(t, st, "owner-1")
	b := storagetest.Monitor(t, st, "owner-1")

	r := &storage.Report{OwnerID: "owner-1", Name: "weekly", ChannelID: "123", IsActive: true}
	if _, err := st.Repos.Reports.Create(ctx, r); err != nil {
		t.Fatalf("Failed to create report: %v", err)
	}

	if err := st.ReplaceReportMonitors(ctx, r.ID, []int64{b.ID, a.ID}); err != nil {
		t.Fatalf("Expected replace to succeed, got: %v", err)
	}
	ids, err := st.ReportMonitorIDs(ctx, r.ID)
	if err != nil {
		t.Fatalf("Expected ids, got: %v", err)
	}
	if len(ids) != 2 || ids[0] != b.ID || ids[1] != a.ID {
		t.Errorf("Expected order [%d %d], got: %v", b.ID, a.ID, ids)
	}

	if err := st.RemoveMonitorFromReports(ctx, b.ID); err != nil {
		t.Fatalf("Expected removal to succeed, got: %v", err)
	}
	ids, _ = st.ReportMonitorIDs(ctx, r.ID)
	if len(ids) != 1 || ids[0] != a.ID {
		t.Errorf("Expected only %d left, got: %v", a.ID, ids)
	}
}

func TestAlertRuleValidate(t *testing.T) {
	valid := storage.AlertRule{
		MonitorID:           1,
		SinkType:            storage.SinkChannel,
		ChannelID:           "123",
		ConsecutiveFailures: 3,
		CooldownSeconds:     300,
	}

	tests := []struct {
		name   string
		mutate func(r *storage.AlertRule)
		ok     bool
	}{
		{"Valid channel rule", func(r *storage.AlertRule) {}, true},
		{"Channel rule with webhook url", func(r *storage.AlertRule) { r.WebhookURL = "https://x.test" }, false},
		{"Webhook rule without url", func(r *storage.AlertRule) { r.SinkType = storage.SinkWebhook }, false},
		{"Webhook rule", func(r *storage.AlertRule) {
			r.SinkType, r.ChannelID, r.WebhookURL = storage.SinkWebhook, "", "https://x.test/hook"
		}, true},
		{"Threshold above 10", func(r *storage.AlertRule) { r.ConsecutiveFailures = 11 }, false},
		{"Cooldown below 60", func(r *storage.AlertRule) { r.CooldownSeconds = 59 }, false},
		{"Unknown sink", func(r *storage.AlertRule) { r.SinkType = "email" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := valid
			tt.mutate(&r)
			err := r.Validate()
			if tt.ok && err != nil {
				t.Errorf("Expected valid rule, got: %v", err)
			}
			if !tt.ok && !errors.Is(err, apperr.ErrInvalid) {
				t.Errorf("Expected ErrInvalid, got: %v", err)
			}
		})
	}
}
