// Package storagetest opens throwaway databases for package tests.
package storagetest

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"pulsewatch/internal/config"
	"pulsewatch/internal/storage"
)

// Config returns a storage configuration for a fresh file under t.TempDir.
// It uses the pure-Go driver so tests run without cgo.
func Config(t testing.TB) config.StorageConfig {
	t.Helper()
	return config.StorageConfig{
		Driver:          "sqlite",
		Path:            filepath.Join(t.TempDir(), "test.db"),
		MaxOpenConns:    1,
		MaxIdleConns:    1,
		ConnMaxLifetime: time.Hour,
		BusyTimeout:     5 * time.Second,
	}
}

// Open returns a migrated storage that is closed when the test ends.
func Open(t testing.TB) *storage.Storage {
	t.Helper()

	st, err := storage.Open(context.Background(), Config(t))
	if err != nil {
		t.Fatalf("Failed to open test storage: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

// Monitor inserts an active http monitor owned by ownerID and returns it.
func Monitor(t testing.TB, st *storage.Storage, ownerID string) *storage.Monitor {
	t.Helper()

	m := &storage.Monitor{
		OwnerID:         ownerID,
		GuildID:         "guild-1",
		Name:            "example",
		Type:            "http",
		Target:          "https://example.com",
		IntervalSeconds: 300,
		TimeoutMs:       5000,
		Options:         "{}",
		Status:          storage.StatusPending,
		IsActive:        true,
	}
	if _, err := st.Repos.Monitors.Create(context.Background(), m); err != nil {
		t.Fatalf("Failed to create monitor: %v", err)
	}
	return m
}

// Log appends a check log entry for monitorID.
func Log(t testing.TB, st *storage.Storage, monitorID int64, status string, responseMs int64, at time.Time) {
	t.Helper()

	entry := &storage.CheckLog{
		MonitorID:      monitorID,
		Status:         status,
		ResponseTimeMs: responseMs,
		Details:        "{}",
		CheckedAt:      at,
	}
	if _, err := st.Repos.CheckLogs.Create(context.Background(), entry); err != nil {
		t.Fatalf("Failed to append log: %v", err)
	}
}
