package config

import "github.com/spf13/viper"

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "60s")

	// Storage defaults
	v.SetDefault("storage.driver", "sqlite3")
	v.SetDefault("storage.path", "pulsewatch.db")
	v.SetDefault("storage.max_open_conns", 8)
	v.SetDefault("storage.max_idle_conns", 4)
	v.SetDefault("storage.conn_max_lifetime", "1h")
	v.SetDefault("storage.busy_timeout", "5s")

	// Scheduler defaults
	v.SetDefault("scheduler.worker_count", 16)

	// Check defaults
	v.SetDefault("checks.default_timeout", "10s")
	v.SetDefault("checks.user_agent", "Pulsewatch-Monitor/1.0")
	v.SetDefault("checks.http.max_redirects", 10)
	v.SetDefault("checks.http.max_body_bytes", 1<<20)
	v.SetDefault("checks.ping.count", 3)
	v.SetDefault("checks.ping.interval", "1s")
	v.SetDefault("checks.ping.privileged", false)
	v.SetDefault("checks.ssl.warn_days", 14)
	v.SetDefault("checks.dns.server", "")

	// Tier defaults
	v.SetDefault("tiers.free.max_monitors", 5)
	v.SetDefault("tiers.free.min_interval", "300s")
	v.SetDefault("tiers.premium.max_monitors", 20)
	v.SetDefault("tiers.premium.min_interval", "30s")
	v.SetDefault("tiers.max_interval", "24h")
	v.SetDefault("tiers.premium_feature", "premium")

	// Alert defaults
	v.SetDefault("alert.webhook_timeout", "10s")
	v.SetDefault("alert.discord.enabled", false)
	v.SetDefault("alert.discord.api_base", "https://discord.com/api/v10")
	v.SetDefault("alert.discord.timeout", "10s")

	// Report defaults
	v.SetDefault("reports.timezone", "UTC")
	v.SetDefault("reports.recent_logs", 5)
	v.SetDefault("reports.premium_recent_logs", 20)
	v.SetDefault("reports.concurrency", 4)
	v.SetDefault("reports.email.enabled", false)
	v.SetDefault("reports.email.sender_name", "Pulsewatch Reports")

	// Retention defaults
	v.SetDefault("retention.check_logs", "720h")
	v.SetDefault("retention.sweep_interval", "1h")

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
}
