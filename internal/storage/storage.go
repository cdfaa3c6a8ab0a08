package storage

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"

	"github.com/rs/zerolog/log"

	// Register both SQLite drivers: "sqlite3" (cgo) and "sqlite" (pure Go).
	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"

	"pulsewatch/internal/config"
)

// Storage owns the database handle, the ORM and the typed repositories.
type Storage struct {
	db       *sql.DB
	orm      *ORM
	migrator *Migrator

	Repos *Repositories
}

// Open connects to the configured SQLite database and applies pending migrations.
func Open(ctx context.Context, cfg config.StorageConfig) (*Storage, error) {
	dsn, err := buildDSN(cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	migrator, err := NewMigrator(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	orm := NewORM(db)
	log.Info().Str("driver", cfg.Driver).Str("path", cfg.Path).Msg("Storage ready")

	return &Storage{
		db:       db,
		orm:      orm,
		migrator: migrator,
		Repos:    NewRepositories(orm),
	}, nil
}

// buildDSN enables foreign keys, WAL and a busy timeout using each driver's own syntax.
func buildDSN(cfg config.StorageConfig) (string, error) {
	busy := cfg.BusyTimeout.Milliseconds()
	q := url.Values{}

	switch cfg.Driver {
	case "sqlite3":
		q.Set("_foreign_keys", "on")
		q.Set("_journal_mode", "WAL")
		q.Set("_busy_timeout", fmt.Sprint(busy))
	case "sqlite":
		q.Add("_pragma", "foreign_keys(1)")
		q.Add("_pragma", "journal_mode(WAL)")
		q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busy))
	default:
		return "", fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}

	return "file:" + cfg.Path + "?" + q.Encode(), nil
}

// ORM returns the query layer for raw Query and Exec calls.
func (s *Storage) ORM() *ORM {
	return s.orm
}

// SchemaVersion returns the latest applied migration version.
func (s *Storage) SchemaVersion(ctx context.Context) (int, error) {
	return s.migrator.CurrentVersion(ctx)
}

// Ping checks that the database is reachable.
func (s *Storage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ReportMonitorIDs returns the monitors of a report in position order.
func (s *Storage) ReportMonitorIDs(ctx context.Context, reportID int64) ([]int64, error) {
	rows, err := s.orm.Query(ctx,
		"SELECT monitor_id FROM report_monitors WHERE report_id = ? ORDER BY position", reportID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan report monitor: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ReplaceReportMonitors atomically replaces the ordered monitor set of a report.
func (s *Storage) ReplaceReportMonitors(ctx context.Context, reportID int64, monitorIDs []int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM report_monitors WHERE report_id = ?", reportID); err != nil {
		return fmt.Errorf("failed to clear report monitors: %w", err)
	}
	for pos, id := range monitorIDs {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO report_monitors (report_id, monitor_id, position) VALUES (?, ?, ?)",
			reportID, id, pos,
		); err != nil {
			return fmt.Errorf("failed to insert report monitor: %w", err)
		}
	}
	return tx.Commit()
}

// RemoveMonitorFromReports drops a monitor from every report that references it.
func (s *Storage) RemoveMonitorFromReports(ctx context.Context, monitorID int64) error {
	_, err := s.orm.Exec(ctx, "DELETE FROM report_monitors WHERE monitor_id = ?", monitorID)
	return err
}

// Close closes the underlying database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}
