// Package checks provides the probe strategies of the monitoring engine.
//
// Every monitor type has one Checker. Checkers never return errors:
// unreachable targets, unexpected responses and timeouts are all
// reported as down results with a message and diagnostic details.
//
// Supported types:
//   - http, https, keyword, performance: web endpoints
//   - ping: ICMP reachability
//   - tcp: port reachability
//   - dns: record resolution
//   - ssl: certificate expiry
package checks

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"pulsewatch/internal/apperr"
	"pulsewatch/internal/config"
	"pulsewatch/internal/storage"
)

// Probe is everything a checker needs for one execution.
type Probe struct {
	MonitorID int64
	Target    string
	Options   Options
}

// Checker defines the interface that all check types must implement.
type Checker interface {
	// Check performs one probe. It must honour ctx and never panic on bad input.
	Check(ctx context.Context, p Probe) *Result

	// Type returns the monitor type handled by the checker.
	Type() string
}

// Manager routes probes to the checker for each monitor type.
type Manager struct {
	mu       sync.RWMutex
	checkers map[string]Checker
}

// NewManager creates a check manager with all built-in checkers.
func NewManager(cfg config.ChecksConfig) *Manager {
	m := &Manager{checkers: make(map[string]Checker)}

	m.Register(NewHTTPChecker(cfg, TypeHTTP))
	m.Register(NewHTTPChecker(cfg, TypeHTTPS))
	m.Register(NewHTTPChecker(cfg, TypeKeyword))
	m.Register(NewPerformanceChecker(cfg))
	m.Register(NewPingChecker(cfg.Ping))
	m.Register(NewTCPChecker())
	m.Register(NewDNSChecker(cfg.DNS))
	m.Register(NewSSLChecker(cfg.SSL))

	return m
}

// Register adds or replaces the checker for its type.
func (m *Manager) Register(checker Checker) {
	m.mu.Lock()
	m.checkers[checker.Type()] = checker
	m.mu.Unlock()
	log.Debug().Str("type", checker.Type()).Msg("Checker registered")
}

// Types returns the supported monitor types in sorted order.
func (m *Manager) Types() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	types := make([]string, 0, len(m.checkers))
	for t := range m.checkers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

func (m *Manager) checker(monitorType string) (Checker, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.checkers[monitorType]
	return c, ok
}

// Normalize validates a monitor definition at creation or update time and
// returns the normalized target and the encoded options.
func (m *Manager) Normalize(monitorType, target string, rawOptions []byte) (string, string, error) {
	if _, ok := m.checker(monitorType); !ok {
		return "", "", apperr.Invalidf("unsupported monitor type: %s", monitorType)
	}
	normalized, err := ValidateTarget(monitorType, target)
	if err != nil {
		return "", "", err
	}
	opts, err := ParseOptions(monitorType, rawOptions)
	if err != nil {
		return "", "", err
	}
	encoded, err := EncodeOptions(opts)
	if err != nil {
		return "", "", err
	}
	return normalized, encoded, nil
}

// Execute probes a monitor within its timeout.
//
// The returned result is never nil. A panic inside a checker becomes an
// error result; an exceeded timeout becomes a down result.
func (m *Manager) Execute(ctx context.Context, monitor *storage.Monitor) (result *Result) {
	checker, ok := m.checker(monitor.Type)
	if !ok {
		return Fault("unsupported monitor type: " + monitor.Type)
	}

	opts, err := ParseOptions(monitor.Type, []byte(monitor.Options))
	if err != nil {
		return Fault("stored options are invalid: " + err.Error())
	}

	ctx, cancel := context.WithTimeout(ctx, monitor.Timeout())
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			log.Error().Int64("monitor_id", monitor.ID).Str("type", monitor.Type).
				Interface("panic", r).Msg("Checker panicked")
			result = Fault(fmt.Sprintf("checker panic: %v", r))
		}
	}()

	log.Debug().Int64("monitor_id", monitor.ID).Str("type", monitor.Type).Str("name", monitor.Name).Msg("Executing check")

	result = checker.Check(ctx, Probe{MonitorID: monitor.ID, Target: monitor.Target, Options: opts})
	if result == nil {
		return Fault("checker returned no result")
	}

	if result.Status != storage.StatusUp && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		if result.Details == nil {
			result.Details = map[string]any{}
		}
		result.Details["cause"] = result.Message
		result.Message = fmt.Sprintf("timed out after %dms", monitor.TimeoutMs)
		result.ResponseTimeMs = int64(monitor.TimeoutMs)
	}

	log.Debug().Int64("monitor_id", monitor.ID).Str("status", result.Status).
		Int64("response_time_ms", result.ResponseTimeMs).Msg("Check completed")
	return result
}

// Timeout bounds used when validating monitor definitions.
const (
	MinTimeout = time.Second
	MaxTimeout = 60 * time.Second
)
