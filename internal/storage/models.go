// Package storage defines the persisted records of the monitoring engine.
//
// All models use struct tags to define database column mappings:
//
//	`db:"column_name,constraint1,constraint2"`
//
// Supported constraints:
//   - primary: Marks the field as primary key
//   - not_null: Documents a NOT NULL column
//   - auto_increment: Skipped on INSERT, filled back from LastInsertId
//
// time.Time columns are stored as unix milliseconds so that window
// predicates compare integers on every driver.
package storage

import (
	"time"
)

// Monitor is a configured, periodically probed target.
//
// Registry owns the metadata columns, the scheduler owns Status and LastCheck.
type Monitor struct {
	ID      int64  `db:"id,primary,auto_increment" json:"id"`
	OwnerID string `db:"owner_id,not_null" json:"owner_id"`
	GuildID string `db:"guild_id,not_null" json:"guild_id"`
	Name    string `db:"name,not_null" json:"name"`

	// Type selects the check strategy: http, https, keyword, performance, ping, tcp, dns, ssl.
	Type   string `db:"type,not_null" json:"type"`
	Target string `db:"target,not_null" json:"target"`

	IntervalSeconds int `db:"interval_seconds,not_null" json:"interval_seconds"`
	TimeoutMs       int `db:"timeout_ms,not_null" json:"timeout_ms"`

	// Options is the JSON encoding of the validated per-type options.
	Options string `db:"options,not_null" json:"options"`

	Status    string     `db:"status,not_null" json:"status"`
	IsActive  bool       `db:"is_active,not_null" json:"is_active"`
	LastCheck *time.Time `db:"last_check" json:"last_check,omitempty"`

	CreatedAt time.Time `db:"created_at,not_null" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at,not_null" json:"updated_at"`
}

// Interval returns the probe interval as a duration.
func (m Monitor) Interval() time.Duration {
	return time.Duration(m.IntervalSeconds) * time.Second
}

// Timeout returns the probe timeout as a duration.
func (m Monitor) Timeout() time.Duration {
	return time.Duration(m.TimeoutMs) * time.Millisecond
}

// CheckLog is one append-only probe result.
type CheckLog struct {
	ID             int64     `db:"id,primary,auto_increment" json:"id"`
	MonitorID      int64     `db:"monitor_id,not_null" json:"monitor_id"`
	Status         string    `db:"status,not_null" json:"status"`
	ResponseTimeMs int64     `db:"response_time_ms,not_null" json:"response_time_ms"`
	Message        string    `db:"message,not_null" json:"message"`
	Details        string    `db:"details,not_null" json:"details"` // JSON object
	CheckedAt      time.Time `db:"checked_at,not_null" json:"checked_at"`
}

// MonitorStats is the derived per-monitor statistics row.
//
// It is a cache over check_logs and is rewritten after every check.
type MonitorStats struct {
	MonitorID      int64     `db:"monitor_id,primary" json:"monitor_id"`
	Uptime24h      float64   `db:"uptime_24h,not_null" json:"uptime_24h"`
	Uptime7d       float64   `db:"uptime_7d,not_null" json:"uptime_7d"`
	Uptime30d      float64   `db:"uptime_30d,not_null" json:"uptime_30d"`
	AvgResponse24h *float64  `db:"avg_response_24h" json:"avg_response_24h"`
	AvgResponse7d  *float64  `db:"avg_response_7d" json:"avg_response_7d"`
	AvgResponse30d *float64  `db:"avg_response_30d" json:"avg_response_30d"`
	ChecksCount    int64     `db:"checks_count,not_null" json:"checks_count"`
	FailuresCount  int64     `db:"failures_count,not_null" json:"failures_count"`
	UpdatedAt      time.Time `db:"updated_at,not_null" json:"updated_at"`
}

// AlertRule is a notification policy bound to a monitor.
//
// Exactly one of ChannelID and WebhookURL is populated, matching SinkType.
type AlertRule struct {
	ID                  int64      `db:"id,primary,auto_increment" json:"id"`
	MonitorID           int64      `db:"monitor_id,not_null" json:"monitor_id"`
	SinkType            string     `db:"sink_type,not_null" json:"sink_type"`
	ChannelID           string     `db:"channel_id,not_null" json:"channel_id,omitempty"`
	WebhookURL          string     `db:"webhook_url,not_null" json:"webhook_url,omitempty"`
	Mention             string     `db:"mention,not_null" json:"mention,omitempty"`
	ConsecutiveFailures int        `db:"consecutive_failures,not_null" json:"consecutive_failures"`
	CooldownSeconds     int        `db:"cooldown_seconds,not_null" json:"cooldown_seconds"`
	IsActive            bool       `db:"is_active,not_null" json:"is_active"`
	LastTriggered       *time.Time `db:"last_triggered" json:"last_triggered,omitempty"`
	CreatedAt           time.Time  `db:"created_at,not_null" json:"created_at"`
	UpdatedAt           time.Time  `db:"updated_at,not_null" json:"updated_at"`
}

// Cooldown returns the minimum time between two firings of the rule.
func (r AlertRule) Cooldown() time.Duration {
	return time.Duration(r.CooldownSeconds) * time.Second
}

// AlertEvent records one firing of an alert rule and whether the sink accepted it.
type AlertEvent struct {
	ID        int64     `db:"id,primary,auto_increment" json:"id"`
	RuleID    int64     `db:"rule_id,not_null" json:"rule_id"`
	MonitorID int64     `db:"monitor_id,not_null" json:"monitor_id"`
	Delivered bool      `db:"delivered,not_null" json:"delivered"`
	Error     string    `db:"error,not_null" json:"error,omitempty"`
	SentAt    time.Time `db:"sent_at,not_null" json:"sent_at"`
}

// Report is a scheduled or on-demand digest over a set of monitors.
//
// The schedule is stored parsed. An empty ScheduleFrequency means manual only.
type Report struct {
	ID                int64      `db:"id,primary,auto_increment" json:"id"`
	OwnerID           string     `db:"owner_id,not_null" json:"owner_id"`
	Name              string     `db:"name,not_null" json:"name"`
	ScheduleFrequency string     `db:"schedule_frequency,not_null" json:"schedule_frequency,omitempty"`
	ScheduleDay       int        `db:"schedule_day,not_null" json:"schedule_day,omitempty"`
	ChannelID         string     `db:"channel_id,not_null" json:"channel_id"`
	Email             string     `db:"email,not_null" json:"email,omitempty"`
	IsActive          bool       `db:"is_active,not_null" json:"is_active"`
	IsPremium         bool       `db:"is_premium,not_null" json:"is_premium"`
	LastGenerated     *time.Time `db:"last_generated" json:"last_generated,omitempty"`
	CreatedAt         time.Time  `db:"created_at,not_null" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at,not_null" json:"updated_at"`

	// MonitorIDs is loaded from report_monitors in position order.
	MonitorIDs []int64 `db:"-" json:"monitor_ids"`
}

// UserFeature grants a feature (such as premium) to a user, optionally until ExpiresAt.
type UserFeature struct {
	ID        int64      `db:"id,primary,auto_increment" json:"id"`
	UserID    string     `db:"user_id,not_null" json:"user_id"`
	FeatureID string     `db:"feature_id,not_null" json:"feature_id"`
	ExpiresAt *time.Time `db:"expires_at" json:"expires_at,omitempty"`
	CreatedAt time.Time  `db:"created_at,not_null" json:"created_at"`
}

// TableName returns the database table name for Monitor.
func (Monitor) TableName() string { return "monitors" }

// TableName returns the database table name for CheckLog.
func (CheckLog) TableName() string { return "check_logs" }

// TableName returns the database table name for MonitorStats.
func (MonitorStats) TableName() string { return "monitor_stats" }

// TableName returns the database table name for AlertRule.
func (AlertRule) TableName() string { return "alert_rules" }

// TableName returns the database table name for AlertEvent.
func (AlertEvent) TableName() string { return "alert_events" }

// TableName returns the database table name for Report.
func (Report) TableName() string { return "reports" }

// TableName returns the database table name for UserFeature.
func (UserFeature) TableName() string { return "user_features" }

// Monitor status values.
const (
	StatusUp      = "up"
	StatusDown    = "down"
	StatusPending = "pending"
	StatusError   = "error"
	StatusStopped = "stopped"
)

// Alert sink types.
const (
	SinkChannel = "channel"
	SinkWebhook = "webhook"
)

// Report schedule frequencies.
const (
	FrequencyNone    = ""
	FrequencyDaily   = "daily"
	FrequencyWeekly  = "weekly"
	FrequencyMonthly = "monthly"
)
