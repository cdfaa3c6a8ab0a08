// Package apperr declares the error kinds shared by the monitoring
// components. Callers wrap them with context and test with errors.Is.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a monitor, rule, report or log row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalid marks a configuration error: invalid monitor, alert or
	// report parameters rejected before anything is persisted.
	ErrInvalid = errors.New("invalid configuration")

	// ErrQuotaExceeded is returned when an owner reached the monitor limit of their tier.
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrPolicyViolation is returned when an update asks for an interval below the tier floor.
	ErrPolicyViolation = errors.New("policy violation")

	// ErrForbidden is returned when a caller touches a resource owned by someone else.
	ErrForbidden = errors.New("forbidden")
)

// Invalidf wraps ErrInvalid with a formatted reason.
func Invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// NotFoundf wraps ErrNotFound with a formatted reason.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}
