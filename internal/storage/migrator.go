package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Migrator applies versioned schema migrations.
//
// Applied versions are tracked in schema_migrations. Each migration runs
// in its own transaction and is applied exactly once.
type Migrator struct {
	db         *sql.DB
	migrations []Migration
}

// Migration is a single forward schema change.
type Migration struct {
	Version int
	Name    string
	UpSQL   string
	DownSQL string
}

// NewMigrator creates the tracking table and registers the built-in migrations.
func NewMigrator(ctx context.Context, db *sql.DB) (*Migrator, error) {
	m := &Migrator{db: db}

	if err := m.createMigrationsTable(ctx); err != nil {
		return nil, fmt.Errorf("failed to create migrations table: %w", err)
	}

	m.registerBuiltinMigrations()
	return m, nil
}

func (m *Migrator) createMigrationsTable(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at INTEGER NOT NULL
		)
	`)
	return err
}

// registerBuiltinMigrations registers the engine schema:
//   - monitors: probe definitions and their last known status
//   - check_logs: append-only probe results
//   - monitor_stats: derived window statistics, one row per monitor
//   - alert_rules / alert_events: notification policies and firings
//   - reports / report_monitors: digests and their ordered monitors
//   - user_features: tier lookup
func (m *Migrator) registerBuiltinMigrations() {
	m.AddMigration(Migration{
		Version: 1,
		Name:    "create_monitors_table",
		UpSQL: `
			CREATE TABLE monitors (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				owner_id TEXT NOT NULL,
				guild_id TEXT NOT NULL DEFAULT '',
				name TEXT NOT NULL,
				type TEXT NOT NULL CHECK (type IN ('http', 'https', 'keyword', 'performance', 'ping', 'tcp', 'dns', 'ssl')),
				target TEXT NOT NULL,
				interval_seconds INTEGER NOT NULL,
				timeout_ms INTEGER NOT NULL,
				options TEXT NOT NULL DEFAULT '{}',
				status TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('up', 'down', 'pending', 'error', 'stopped')),
				is_active BOOLEAN NOT NULL DEFAULT 1,
				last_check INTEGER,
				created_at INTEGER NOT NULL,
				updated_at INTEGER NOT NULL
			);

			CREATE INDEX idx_monitors_owner_id ON monitors(owner_id);
			CREATE INDEX idx_monitors_is_active ON monitors(is_active);
		`,
		DownSQL: `DROP TABLE IF EXISTS monitors;`,
	})

	m.AddMigration(Migration{
		Version: 2,
		Name:    "create_check_logs_table",
		UpSQL: `
			CREATE TABLE check_logs (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				monitor_id INTEGER NOT NULL,
				status TEXT NOT NULL CHECK (status IN ('up', 'down', 'error')),
				response_time_ms INTEGER NOT NULL DEFAULT 0,
				message TEXT NOT NULL DEFAULT '',
				details TEXT NOT NULL DEFAULT '{}',
				checked_at INTEGER NOT NULL,
				FOREIGN KEY (monitor_id) REFERENCES monitors(id) ON DELETE CASCADE
			);

			CREATE INDEX idx_check_logs_monitor_checked ON check_logs(monitor_id, checked_at);
			CREATE INDEX idx_check_logs_checked_at ON check_logs(checked_at);
		`,
		DownSQL: `DROP TABLE IF EXISTS check_logs;`,
	})

	m.AddMigration(Migration{
		Version: 3,
		Name:    "create_monitor_stats_table",
		UpSQL: `
			CREATE TABLE monitor_stats (
				monitor_id INTEGER PRIMARY KEY,
				uptime_24h REAL NOT NULL DEFAULT 100,
				uptime_7d REAL NOT NULL DEFAULT 100,
				uptime_30d REAL NOT NULL DEFAULT 100,
				avg_response_24h REAL,
				avg_response_7d REAL,
				avg_response_30d REAL,
				checks_count INTEGER NOT NULL DEFAULT 0,
				failures_count INTEGER NOT NULL DEFAULT 0,
				updated_at INTEGER NOT NULL,
				FOREIGN KEY (monitor_id) REFERENCES monitors(id) ON DELETE CASCADE
			);
		`,
		DownSQL: `DROP TABLE IF EXISTS monitor_stats;`,
	})

	m.AddMigration(Migration{
		Version: 4,
		Name:    "create_alert_tables",
		UpSQL: `
			CREATE TABLE alert_rules (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				monitor_id INTEGER NOT NULL,
				sink_type TEXT NOT NULL CHECK (sink_type IN ('channel', 'webhook')),
				channel_id TEXT NOT NULL DEFAULT '',
				webhook_url TEXT NOT NULL DEFAULT '',
				mention TEXT NOT NULL DEFAULT '',
				consecutive_failures INTEGER NOT NULL CHECK (consecutive_failures BETWEEN 1 AND 10),
				cooldown_seconds INTEGER NOT NULL CHECK (cooldown_seconds BETWEEN 60 AND 86400),
				is_active BOOLEAN NOT NULL DEFAULT 1,
				last_triggered INTEGER,
				created_at INTEGER NOT NULL,
				updated_at INTEGER NOT NULL,
				CHECK ((sink_type = 'channel' AND channel_id != '' AND webhook_url = '')
					OR (sink_type = 'webhook' AND webhook_url != '' AND channel_id = '')),
				FOREIGN KEY (monitor_id) REFERENCES monitors(id) ON DELETE CASCADE
			);

			CREATE INDEX idx_alert_rules_monitor_id ON alert_rules(monitor_id);

			CREATE TABLE alert_events (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				rule_id INTEGER NOT NULL,
				monitor_id INTEGER NOT NULL,
				delivered BOOLEAN NOT NULL,
				error TEXT NOT NULL DEFAULT '',
				sent_at INTEGER NOT NULL,
				FOREIGN KEY (rule_id) REFERENCES alert_rules(id) ON DELETE CASCADE
			);

			CREATE INDEX idx_alert_events_rule_id ON alert_events(rule_id);
		`,
		DownSQL: `DROP TABLE IF EXISTS alert_events; DROP TABLE IF EXISTS alert_rules;`,
	})

	m.AddMigration(Migration{
		Version: 5,
		Name:    "create_report_tables",
		UpSQL: `
			CREATE TABLE reports (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				owner_id TEXT NOT NULL,
				name TEXT NOT NULL,
				schedule_frequency TEXT NOT NULL DEFAULT '' CHECK (schedule_frequency IN ('', 'daily', 'weekly', 'monthly')),
				schedule_day INTEGER NOT NULL DEFAULT 0,
				channel_id TEXT NOT NULL,
				email TEXT NOT NULL DEFAULT '',
				is_active BOOLEAN NOT NULL DEFAULT 1,
				is_premium BOOLEAN NOT NULL DEFAULT 0,
				last_generated INTEGER,
				created_at INTEGER NOT NULL,
				updated_at INTEGER NOT NULL
			);

			CREATE INDEX idx_reports_owner_id ON reports(owner_id);

			CREATE TABLE report_monitors (
				report_id INTEGER NOT NULL,
				monitor_id INTEGER NOT NULL,
				position INTEGER NOT NULL,
				PRIMARY KEY (report_id, monitor_id),
				FOREIGN KEY (report_id) REFERENCES reports(id) ON DELETE CASCADE,
				FOREIGN KEY (monitor_id) REFERENCES monitors(id) ON DELETE CASCADE
			);
		`,
		DownSQL: `DROP TABLE IF EXISTS report_monitors; DROP TABLE IF EXISTS reports;`,
	})

	m.AddMigration(Migration{
		Version: 6,
		Name:    "create_user_features_table",
		UpSQL: `
			CREATE TABLE user_features (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				user_id TEXT NOT NULL,
				feature_id TEXT NOT NULL,
				expires_at INTEGER,
				created_at INTEGER NOT NULL,
				UNIQUE (user_id, feature_id)
			);
		`,
		DownSQL: `DROP TABLE IF EXISTS user_features;`,
	})

	log.Debug().Int("count", len(m.migrations)).Msg("Built-in migrations registered")
}

// AddMigration registers a migration, keeping the list sorted by version.
func (m *Migrator) AddMigration(migration Migration) {
	m.migrations = append(m.migrations, migration)
	sort.Slice(m.migrations, func(i, j int) bool {
		return m.migrations[i].Version < m.migrations[j].Version
	})
}

// Migrate applies all pending migrations and returns how many were applied.
func (m *Migrator) Migrate(ctx context.Context) (int, error) {
	applied, err := m.appliedVersions(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get applied migrations: %w", err)
	}

	count := 0
	for _, migration := range m.migrations {
		if applied[migration.Version] {
			continue
		}

		log.Info().
			Int("version", migration.Version).
			Str("name", migration.Name).
			Msg("Applying migration")

		if err := m.applyMigration(ctx, migration); err != nil {
			return count, fmt.Errorf("failed to apply migration %d (%s): %w",
				migration.Version, migration.Name, err)
		}
		count++
	}

	if count > 0 {
		log.Info().Int("count", count).Msg("Database migrations completed")
	} else {
		log.Debug().Msg("No pending migrations")
	}
	return count, nil
}

// CurrentVersion returns the highest applied migration version, or 0.
func (m *Migrator) CurrentVersion(ctx context.Context) (int, error) {
	var version sql.NullInt64
	if err := m.db.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_migrations").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return int(version.Int64), nil
}

func (m *Migrator) appliedVersions(ctx context.Context) (map[int]bool, error) {
	rows, err := m.db.QueryContext(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	versions := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("failed to scan migration version: %w", err)
		}
		versions[version] = true
	}
	return versions, rows.Err()
}

func (m *Migrator) applyMigration(ctx context.Context, migration Migration) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback() // ignored after Commit

	for i, stmt := range splitSQL(migration.UpSQL) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute statement %d: %w", i+1, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)",
		migration.Version, migration.Name, time.Now().UnixMilli(),
	); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}

	return tx.Commit()
}

// splitSQL splits a script on semicolons. Migration bodies contain no string literals with semicolons.
func splitSQL(script string) []string {
	var result []string
	for _, stmt := range strings.Split(script, ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			result = append(result, stmt)
		}
	}
	return result
}
