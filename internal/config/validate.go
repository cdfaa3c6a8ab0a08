package config

import (
	"fmt"
	"net"
	"net/mail"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"
)

var (
	validLogLevels     = []string{"trace", "debug", "info", "warn", "error", "fatal", "panic"}
	validServerModes   = []string{"debug", "release", "test"}
	validStorageDriver = []string{"sqlite3", "sqlite"}
)

// validateConfig validates the configuration and returns an error if invalid.
func validateConfig(c *Config) error {
	for _, validate := range []func() error{
		func() error { return validateServerConfig(c.Server) },
		func() error { return validateStorageConfig(c.Storage) },
		func() error { return validateSchedulerConfig(c.Scheduler) },
		func() error { return validateChecksConfig(c.Checks) },
		func() error { return validateTiersConfig(c.Tiers) },
		func() error { return validateAlertConfig(c.Alert) },
		func() error { return validateReportsConfig(c.Reports) },
		func() error { return validateRetentionConfig(c.Retention) },
		func() error { return validateLogConfig(c.Log) },
	} {
		if err := validate(); err != nil {
			return err
		}
	}
	return nil
}

// validateServerConfig validates server configuration.
func validateServerConfig(s ServerConfig) error {
	if s.Addr == "" {
		return fmt.Errorf("server.addr cannot be empty")
	}

	host, portStr, err := net.SplitHostPort(s.Addr)
	if err != nil {
		return fmt.Errorf("server.addr invalid format: %w", err)
	}

	if portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return fmt.Errorf("server.addr invalid port: %w", err)
		}
		if port < 0 || port > 65535 {
			return fmt.Errorf("server.addr port out of range (0-65535)")
		}
	}

	if host != "" && host != "0.0.0.0" && host != "localhost" && net.ParseIP(host) == nil {
		return fmt.Errorf("server.addr invalid host: %s", host)
	}

	if !slices.Contains(validServerModes, s.Mode) {
		return fmt.Errorf("server.mode must be one of: debug, release, test")
	}

	if s.ReadTimeout < time.Second || s.ReadTimeout > 5*time.Minute {
		return fmt.Errorf("server.read_timeout must be between 1s and 5m")
	}
	if s.WriteTimeout < time.Second || s.WriteTimeout > 5*time.Minute {
		return fmt.Errorf("server.write_timeout must be between 1s and 5m")
	}
	if s.IdleTimeout <= 0 {
		return fmt.Errorf("server.idle_timeout must be greater than 0")
	}
	if s.IdleTimeout > 30*time.Minute {
		return fmt.Errorf("server.idle_timeout too large (max 30m)")
	}

	return nil
}

// validateStorageConfig validates storage configuration.
func validateStorageConfig(s StorageConfig) error {
	if !slices.Contains(validStorageDriver, s.Driver) {
		return fmt.Errorf("storage.driver must be one of: sqlite3, sqlite")
	}
	if s.Path == "" {
		return fmt.Errorf("storage.path cannot be empty")
	}
	if strings.Contains(s.Path, "..") {
		return fmt.Errorf("storage.path cannot contain '..' for security")
	}

	if s.MaxOpenConns <= 0 {
		return fmt.Errorf("storage.max_open_conns must be greater than 0")
	}
	if s.MaxOpenConns > 1000 {
		return fmt.Errorf("storage.max_open_conns too large (max 1000)")
	}
	if s.MaxIdleConns < 0 {
		return fmt.Errorf("storage.max_idle_conns cannot be negative")
	}
	if s.MaxIdleConns > s.MaxOpenConns {
		return fmt.Errorf("storage.max_idle_conns cannot be greater than max_open_conns")
	}
	if s.ConnMaxLifetime < time.Minute || s.ConnMaxLifetime > 24*time.Hour {
		return fmt.Errorf("storage.conn_max_lifetime must be between 1m and 24h")
	}
	if s.BusyTimeout < 0 {
		return fmt.Errorf("storage.busy_timeout cannot be negative")
	}

	return nil
}

// validateSchedulerConfig validates scheduler configuration.
func validateSchedulerConfig(s SchedulerConfig) error {
	if s.WorkerCount <= 0 {
		return fmt.Errorf("scheduler.worker_count must be greater than 0")
	}
	if s.WorkerCount > 1000 {
		return fmt.Errorf("scheduler.worker_count too large (max 1000)")
	}
	return nil
}

// validateChecksConfig validates probe defaults.
func validateChecksConfig(c ChecksConfig) error {
	if c.DefaultTimeout < time.Second || c.DefaultTimeout > time.Minute {
		return fmt.Errorf("checks.default_timeout must be between 1s and 60s")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("checks.user_agent cannot be empty")
	}
	if c.HTTP.MaxRedirects < 0 || c.HTTP.MaxRedirects > 20 {
		return fmt.Errorf("checks.http.max_redirects must be between 0 and 20")
	}
	if c.HTTP.MaxBodyBytes <= 0 {
		return fmt.Errorf("checks.http.max_body_bytes must be greater than 0")
	}
	if c.Ping.Count < 1 || c.Ping.Count > 10 {
		return fmt.Errorf("checks.ping.count must be between 1 and 10")
	}
	if c.Ping.Interval < 100*time.Millisecond {
		return fmt.Errorf("checks.ping.interval too small (min 100ms)")
	}
	if c.SSL.WarnDays < 1 || c.SSL.WarnDays > 365 {
		return fmt.Errorf("checks.ssl.warn_days must be between 1 and 365")
	}
	if c.DNS.Server != "" {
		if _, _, err := net.SplitHostPort(c.DNS.Server); err != nil {
			return fmt.Errorf("checks.dns.server must be host:port: %w", err)
		}
	}
	return nil
}

// validateTiersConfig validates tier quotas and interval floors.
func validateTiersConfig(t TiersConfig) error {
	for name, limits := range map[string]TierLimits{"free": t.Free, "premium": t.Premium} {
		if limits.MaxMonitors <= 0 {
			return fmt.Errorf("tiers.%s.max_monitors must be greater than 0", name)
		}
		if limits.MinInterval < time.Second {
			return fmt.Errorf("tiers.%s.min_interval too small (min 1s)", name)
		}
		if limits.MinInterval > t.MaxInterval {
			return fmt.Errorf("tiers.%s.min_interval cannot exceed tiers.max_interval", name)
		}
	}
	if t.Premium.MinInterval > t.Free.MinInterval {
		return fmt.Errorf("tiers.premium.min_interval cannot exceed tiers.free.min_interval")
	}
	if t.PremiumFeature == "" {
		return fmt.Errorf("tiers.premium_feature cannot be empty")
	}
	return nil
}

// validateAlertConfig validates alert sink configuration.
func validateAlertConfig(a AlertConfig) error {
	if a.WebhookTimeout < time.Second || a.WebhookTimeout > 2*time.Minute {
		return fmt.Errorf("alert.webhook_timeout must be between 1s and 2m")
	}

	d := a.Discord
	if !d.Enabled {
		return nil
	}
	if d.Token == "" {
		return fmt.Errorf("alert.discord.token is required when discord is enabled")
	}
	if len(d.Token) < 10 {
		return fmt.Errorf("alert.discord.token too short (min 10 chars)")
	}
	u, err := url.Parse(d.APIBase)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("alert.discord.api_base must be an http(s) URL")
	}
	if d.Timeout < time.Second || d.Timeout > 2*time.Minute {
		return fmt.Errorf("alert.discord.timeout must be between 1s and 2m")
	}
	return nil
}

// validateReportsConfig validates report generation settings.
func validateReportsConfig(r ReportsConfig) error {
	if _, err := time.LoadLocation(r.Timezone); err != nil {
		return fmt.Errorf("reports.timezone invalid: %w", err)
	}
	if r.RecentLogs < 1 || r.RecentLogs > 100 {
		return fmt.Errorf("reports.recent_logs must be between 1 and 100")
	}
	if r.PremiumRecentLogs > 100 {
		return fmt.Errorf("reports.premium_recent_logs too large (max 100)")
	}
	if r.Concurrency < 1 {
		return fmt.Errorf("reports.concurrency must be greater than 0")
	}

	e := r.Email
	if !e.Enabled {
		return nil
	}
	if e.APIKey == "" {
		return fmt.Errorf("reports.email.api_key is required when email is enabled")
	}
	if _, err := mail.ParseAddress(e.SenderEmail); err != nil {
		return fmt.Errorf("reports.email.sender_email invalid: %w", err)
	}
	return nil
}

// validateRetentionConfig validates the check-log retention window.
func validateRetentionConfig(r RetentionConfig) error {
	// Shorter horizons would truncate the 30d stats window.
	if r.CheckLogs < 30*24*time.Hour {
		return fmt.Errorf("retention.check_logs too small (min 720h)")
	}
	if r.SweepInterval < time.Minute {
		return fmt.Errorf("retention.sweep_interval too small (min 1m)")
	}
	return nil
}

// validateLogConfig validates log configuration.
func validateLogConfig(l LogConfig) error {
	if !slices.Contains(validLogLevels, strings.ToLower(l.Level)) {
		return fmt.Errorf("log.level must be one of: trace, debug, info, warn, error, fatal, panic")
	}
	return nil
}
