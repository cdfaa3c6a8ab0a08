// Package monitors defines API request/response types for monitor endpoints.
package monitors

import (
	"encoding/json"
	"time"

	"pulsewatch/internal/storage"
)

// MonitorResponse represents a monitor in API responses. Options are
// returned as a JSON object rather than the stored string.
type MonitorResponse struct {
	ID              int64           `json:"id"`
	OwnerID         string          `json:"owner_id"`
	GuildID         string          `json:"guild_id"`
	Name            string          `json:"name"`
	Type            string          `json:"type"`
	Target          string          `json:"target"`
	IntervalSeconds int             `json:"interval_seconds"`
	TimeoutMs       int             `json:"timeout_ms"`
	Options         json.RawMessage `json:"options"`
	Status          string          `json:"status"`
	IsActive        bool            `json:"is_active"`
	Running         bool            `json:"running"`
	LastCheck       *time.Time      `json:"last_check"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

func toResponse(m *storage.Monitor, running bool) MonitorResponse {
	options := json.RawMessage(m.Options)
	if !json.Valid(options) {
		options = json.RawMessage("{}")
	}
	return MonitorResponse{
		ID:              m.ID,
		OwnerID:         m.OwnerID,
		GuildID:         m.GuildID,
		Name:            m.Name,
		Type:            m.Type,
		Target:          m.Target,
		IntervalSeconds: m.IntervalSeconds,
		TimeoutMs:       m.TimeoutMs,
		Options:         options,
		Status:          m.Status,
		IsActive:        m.IsActive,
		Running:         running,
		LastCheck:       m.LastCheck,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

// CheckLogResponse is one check log entry with decoded details.
type CheckLogResponse struct {
	ID             int64           `json:"id"`
	Status         string          `json:"status"`
	ResponseTimeMs int64           `json:"response_time_ms"`
	Message        string          `json:"message"`
	Details        json.RawMessage `json:"details"`
	CheckedAt      time.Time       `json:"checked_at"`
}

func toLogResponse(l storage.CheckLog) CheckLogResponse {
	details := json.RawMessage(l.Details)
	if !json.Valid(details) {
		details = json.RawMessage("{}")
	}
	return CheckLogResponse{
		ID:             l.ID,
		Status:         l.Status,
		ResponseTimeMs: l.ResponseTimeMs,
		Message:        l.Message,
		Details:        details,
		CheckedAt:      l.CheckedAt,
	}
}
