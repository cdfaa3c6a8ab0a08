package report

import (
	"encoding/json"
	"time"

	"pulsewatch/internal/storage"
)

// Artifact is one generated digest. Rendering is left to publishers.
type Artifact struct {
	ID          string    `json:"id"`
	ReportID    int64     `json:"report_id"`
	Name        string    `json:"name"`
	OwnerID     string    `json:"owner_id"`
	Premium     bool      `json:"premium"`
	GeneratedAt time.Time `json:"generated_at"`
	Summary     Summary   `json:"summary"`
	Entries     []*Entry  `json:"entries"`
}

// Entry is the state of one monitor at generation time.
type Entry struct {
	Monitor    storage.Monitor      `json:"monitor"`
	Stats      storage.MonitorStats `json:"stats"`
	RecentLogs []LogLine            `json:"recent_logs"`
}

// LogLine is a check log entry as shown in a report. Message and Details
// are only filled for premium reports.
type LogLine struct {
	Status         string          `json:"status"`
	ResponseTimeMs int64           `json:"response_time_ms"`
	Message        string          `json:"message,omitempty"`
	Details        json.RawMessage `json:"details,omitempty"`
	CheckedAt      time.Time       `json:"checked_at"`
}

// Summary counts monitors by status.
type Summary struct {
	Total        int     `json:"total"`
	Up           int     `json:"up"`
	Down         int     `json:"down"`
	Other        int     `json:"other"`
	AvgUptime24h float64 `json:"avg_uptime_24h"`
}

func summarize(entries []*Entry) Summary {
	var s Summary
	var uptime float64
	for _, e := range entries {
		s.Total++
		switch e.Monitor.Status {
		case storage.StatusUp:
			s.Up++
		case storage.StatusDown:
			s.Down++
		default:
			s.Other++
		}
		uptime += e.Stats.Uptime24h
	}
	if s.Total > 0 {
		s.AvgUptime24h = uptime / float64(s.Total)
	}
	return s
}
