package storage

import (
	"slices"
	"strings"
	"unicode/utf8"

	"pulsewatch/internal/apperr"
)

// Field bounds enforced before any row is written.
const (
	MaxNameLength          = 100
	MinConsecutiveFailures = 1
	MaxConsecutiveFailures = 10
	MinCooldownSeconds     = 60
	MaxCooldownSeconds     = 86400
	MaxReportMonitors      = 25
)

var (
	monitorStatuses = []string{StatusUp, StatusDown, StatusPending, StatusError, StatusStopped}
	logStatuses     = []string{StatusUp, StatusDown, StatusError}
)

// IsValidStatus reports whether status is a monitor status.
func IsValidStatus(status string) bool {
	return slices.Contains(monitorStatuses, status)
}

// Validate checks the storage-level invariants of a monitor row.
func (m *Monitor) Validate() error {
	if strings.TrimSpace(m.OwnerID) == "" {
		return apperr.Invalidf("owner_id is required")
	}
	if err := validateName(m.Name); err != nil {
		return err
	}
	if m.Target == "" {
		return apperr.Invalidf("target is required")
	}
	if m.IntervalSeconds <= 0 {
		return apperr.Invalidf("interval must be greater than 0")
	}
	if m.TimeoutMs <= 0 {
		return apperr.Invalidf("timeout must be greater than 0")
	}
	if !IsValidStatus(m.Status) {
		return apperr.Invalidf("invalid status: %s", m.Status)
	}
	return nil
}

// Validate checks a check-log entry before it is appended.
func (l *CheckLog) Validate() error {
	if l.MonitorID <= 0 {
		return apperr.Invalidf("monitor_id is required")
	}
	if !slices.Contains(logStatuses, l.Status) {
		return apperr.Invalidf("invalid log status: %s", l.Status)
	}
	if l.ResponseTimeMs < 0 {
		return apperr.Invalidf("response time cannot be negative")
	}
	return nil
}

// Validate checks the sink invariant and the threshold and cooldown bounds.
func (r *AlertRule) Validate() error {
	if r.MonitorID <= 0 {
		return apperr.Invalidf("monitor_id is required")
	}

	switch r.SinkType {
	case SinkChannel:
		if r.ChannelID == "" || r.WebhookURL != "" {
			return apperr.Invalidf("channel sink requires channel_id and no webhook_url")
		}
	case SinkWebhook:
		if r.WebhookURL == "" || r.ChannelID != "" {
			return apperr.Invalidf("webhook sink requires webhook_url and no channel_id")
		}
		if r.Mention != "" {
			return apperr.Invalidf("mention is only supported for channel sinks")
		}
	default:
		return apperr.Invalidf("sink_type must be channel or webhook")
	}

	if r.ConsecutiveFailures < MinConsecutiveFailures || r.ConsecutiveFailures > MaxConsecutiveFailures {
		return apperr.Invalidf("consecutive_failures must be between %d and %d",
			MinConsecutiveFailures, MaxConsecutiveFailures)
	}
	if r.CooldownSeconds < MinCooldownSeconds || r.CooldownSeconds > MaxCooldownSeconds {
		return apperr.Invalidf("cooldown must be between %d and %d seconds",
			MinCooldownSeconds, MaxCooldownSeconds)
	}
	return nil
}

// Validate checks report metadata and the stored schedule form.
func (r *Report) Validate() error {
	if strings.TrimSpace(r.OwnerID) == "" {
		return apperr.Invalidf("owner_id is required")
	}
	if err := validateName(r.Name); err != nil {
		return err
	}
	if r.ChannelID == "" {
		return apperr.Invalidf("channel_id is required")
	}
	if len(r.MonitorIDs) == 0 {
		return apperr.Invalidf("a report needs at least one monitor")
	}
	if len(r.MonitorIDs) > MaxReportMonitors {
		return apperr.Invalidf("a report can reference at most %d monitors", MaxReportMonitors)
	}

	switch r.ScheduleFrequency {
	case FrequencyNone, FrequencyDaily:
		if r.ScheduleDay != 0 {
			return apperr.Invalidf("schedule day is only valid for weekly and monthly schedules")
		}
	case FrequencyWeekly:
		if r.ScheduleDay < 0 || r.ScheduleDay > 6 {
			return apperr.Invalidf("weekly schedule day must be between 0 and 6")
		}
	case FrequencyMonthly:
		if r.ScheduleDay < 1 || r.ScheduleDay > 31 {
			return apperr.Invalidf("monthly schedule day must be between 1 and 31")
		}
	default:
		return apperr.Invalidf("unknown schedule frequency: %s", r.ScheduleFrequency)
	}
	return nil
}

func validateName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return apperr.Invalidf("name is required")
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return apperr.Invalidf("name too long (max %d chars)", MaxNameLength)
	}
	return nil
}
