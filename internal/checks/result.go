package checks

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"pulsewatch/internal/storage"
)

// Result is the normalized outcome of one probe.
type Result struct {
	Status         string         `json:"status"`
	ResponseTimeMs int64          `json:"response_time_ms"`
	Message        string         `json:"message"`
	Details        map[string]any `json:"details,omitempty"`
	CheckedAt      time.Time      `json:"checked_at"`
}

// Warning reports whether an up result carries a warning (SSL expiry, slow response).
func (r *Result) Warning() bool {
	w, _ := r.Details["warning"].(bool)
	return w
}

// BaseChecker provides the result constructors shared by every checker.
type BaseChecker struct{}

// Success returns an up result measured from start.
func (BaseChecker) Success(start time.Time, message string, details map[string]any) *Result {
	return newResult(storage.StatusUp, start, message, details)
}

// Warn returns an up result flagged as a warning.
func (BaseChecker) Warn(start time.Time, message string, details map[string]any) *Result {
	if details == nil {
		details = map[string]any{}
	}
	details["warning"] = true
	return newResult(storage.StatusUp, start, message, details)
}

// Failure returns a down result. Probe failures are data, never errors.
func (BaseChecker) Failure(start time.Time, message string, details map[string]any) *Result {
	return newResult(storage.StatusDown, start, message, details)
}

// Fault returns an error result for a fault inside the engine itself.
func Fault(message string) *Result {
	return &Result{
		Status:    storage.StatusError,
		Message:   message,
		Details:   map[string]any{},
		CheckedAt: time.Now().UTC(),
	}
}

func newResult(status string, start time.Time, message string, details map[string]any) *Result {
	if details == nil {
		details = map[string]any{}
	}
	return &Result{
		Status:         status,
		ResponseTimeMs: time.Since(start).Milliseconds(),
		Message:        message,
		Details:        details,
		CheckedAt:      time.Now().UTC(),
	}
}

// DescribeError turns a network error into a short human-readable reason.
func (BaseChecker) DescribeError(err error) string {
	var dnsErr *net.DNSError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timed out"
	case errors.As(err, &dnsErr):
		if dnsErr.IsNotFound {
			return "DNS lookup failed: no such host " + dnsErr.Name
		}
		return "DNS lookup failed: " + dnsErr.Err
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "connection refused"):
		return "connection refused"
	case strings.Contains(msg, "no route to host"), strings.Contains(msg, "host unreachable"):
		return "host unreachable"
	case strings.Contains(msg, "connection reset"):
		return "connection reset by peer"
	}
	return msg
}
