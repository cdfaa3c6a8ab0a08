package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"path/filepath"

	"github.com/spf13/viper"
)

// Config represents the complete configuration schema for the pulsewatch engine.
//
// Configuration sources (in order of precedence):
//  1. Defaults
//  2. Configuration file (optional)
//  3. Environment variables
type Config struct {
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Storage   StorageConfig   `mapstructure:"storage" yaml:"storage"`
	Scheduler SchedulerConfig `mapstructure:"scheduler" yaml:"scheduler"`
	Checks    ChecksConfig    `mapstructure:"checks" yaml:"checks"`
	Tiers     TiersConfig     `mapstructure:"tiers" yaml:"tiers"`
	Alert     AlertConfig     `mapstructure:"alert" yaml:"alert"`
	Reports   ReportsConfig   `mapstructure:"reports" yaml:"reports"`
	Retention RetentionConfig `mapstructure:"retention" yaml:"retention"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
}

type ServerConfig struct {
	Addr         string        `mapstructure:"addr" yaml:"addr"`
	Mode         string        `mapstructure:"mode" yaml:"mode"` // gin mode: debug, release, test
	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
}

type StorageConfig struct {
	Driver          string        `mapstructure:"driver" yaml:"driver"` // sqlite3 (cgo) or sqlite (pure go)
	Path            string        `mapstructure:"path" yaml:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime"`
	BusyTimeout     time.Duration `mapstructure:"busy_timeout" yaml:"busy_timeout"`
}

type SchedulerConfig struct {
	WorkerCount int `mapstructure:"worker_count" yaml:"worker_count"`
}

type ChecksConfig struct {
	DefaultTimeout time.Duration `mapstructure:"default_timeout" yaml:"default_timeout"`
	UserAgent      string        `mapstructure:"user_agent" yaml:"user_agent"`
	HTTP           HTTPDefaults  `mapstructure:"http" yaml:"http"`
	Ping           PingDefaults  `mapstructure:"ping" yaml:"ping"`
	SSL            SSLDefaults   `mapstructure:"ssl" yaml:"ssl"`
	DNS            DNSDefaults   `mapstructure:"dns" yaml:"dns"`
}

type HTTPDefaults struct {
	MaxRedirects int   `mapstructure:"max_redirects" yaml:"max_redirects"`
	MaxBodyBytes int64 `mapstructure:"max_body_bytes" yaml:"max_body_bytes"`
}

type PingDefaults struct {
	Count      int           `mapstructure:"count" yaml:"count"`
	Interval   time.Duration `mapstructure:"interval" yaml:"interval"`
	Privileged bool          `mapstructure:"privileged" yaml:"privileged"`
}

type SSLDefaults struct {
	WarnDays int `mapstructure:"warn_days" yaml:"warn_days"`
}

type DNSDefaults struct {
	Server string `mapstructure:"server" yaml:"server"` // host:port, empty uses the system resolver
}

// TiersConfig holds the quota and interval policy per subscription tier.
type TiersConfig struct {
	Free           TierLimits    `mapstructure:"free" yaml:"free"`
	Premium        TierLimits    `mapstructure:"premium" yaml:"premium"`
	MaxInterval    time.Duration `mapstructure:"max_interval" yaml:"max_interval"`
	PremiumFeature string        `mapstructure:"premium_feature" yaml:"premium_feature"`
}

type TierLimits struct {
	MaxMonitors int           `mapstructure:"max_monitors" yaml:"max_monitors"`
	MinInterval time.Duration `mapstructure:"min_interval" yaml:"min_interval"`
}

type AlertConfig struct {
	WebhookTimeout time.Duration `mapstructure:"webhook_timeout" yaml:"webhook_timeout"`
	Discord        DiscordConfig `mapstructure:"discord" yaml:"discord"`
}

type DiscordConfig struct {
	Enabled bool          `mapstructure:"enabled" yaml:"enabled"`
	APIBase string        `mapstructure:"api_base" yaml:"api_base"`
	Token   string        `mapstructure:"token" yaml:"token"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type ReportsConfig struct {
	Timezone          string      `mapstructure:"timezone" yaml:"timezone"`
	RecentLogs        int         `mapstructure:"recent_logs" yaml:"recent_logs"`
	PremiumRecentLogs int         `mapstructure:"premium_recent_logs" yaml:"premium_recent_logs"`
	Concurrency       int         `mapstructure:"concurrency" yaml:"concurrency"`
	Email             EmailConfig `mapstructure:"email" yaml:"email"`
}

type EmailConfig struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled"`
	APIKey      string `mapstructure:"api_key" yaml:"api_key"`
	SenderName  string `mapstructure:"sender_name" yaml:"sender_name"`
	SenderEmail string `mapstructure:"sender_email" yaml:"sender_email"`
}

type RetentionConfig struct {
	CheckLogs     time.Duration `mapstructure:"check_logs" yaml:"check_logs"`
	SweepInterval time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`   // trace, debug, info, warn, error, fatal, panic
	Pretty bool   `mapstructure:"pretty" yaml:"pretty"` // human-readable console output
}

// Location resolves the report timezone. Validation guarantees it loads.
func (r ReportsConfig) Location() *time.Location {
	loc, err := time.LoadLocation(r.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Load loads configuration from defaults, configuration file,
// and environment variables, then validates the result.
//
// The function fails fast on:
//   - Invalid configuration file
//   - Invalid or missing required configuration values
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("PULSEWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AllowEmptyEnv(false)
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	if configDir := getConfigDir(); configDir != "" {
		v.AddConfigPath(configDir)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config file error: %w", err)
		}
	}

	// Secrets have no default, so AutomaticEnv cannot discover them during Unmarshal.
	for key, env := range map[string]string{
		"alert.discord.token":        "PULSEWATCH_ALERT_DISCORD_TOKEN",
		"reports.email.api_key":      "PULSEWATCH_REPORTS_EMAIL_API_KEY",
		"reports.email.sender_email": "PULSEWATCH_REPORTS_EMAIL_SENDER_EMAIL",
	} {
		if _, exists := os.LookupEnv(env); exists {
			if err := v.BindEnv(key, env); err != nil {
				return nil, fmt.Errorf("failed to bind %s: %w", env, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	normalizeConfig(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// getConfigDir returns the appropriate config directory for the current OS
func getConfigDir() string {
	if runtime.GOOS == "windows" {
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "pulsewatch")
		}
		return ""
	}

	if home := os.Getenv("HOME"); home != "" {
		return filepath.Join(home, ".pulsewatch")
	}
	return ""
}
