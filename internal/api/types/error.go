package types

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"pulsewatch/internal/apperr"
)

// ContextOwnerKey is the gin context key holding the caller's user id.
const ContextOwnerKey = "owner_id"

// ContextGuildKey is the gin context key holding the caller's guild id.
const ContextGuildKey = "guild_id"

// Error represents error information in API responses
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// ErrorWithContext pairs an API error with its HTTP status and the
// underlying cause, which is logged but never sent to clients.
type ErrorWithContext struct {
	Status int
	Err    Error
	Cause  error
}

func (e *ErrorWithContext) Error() string {
	return e.Err.Message + ": " + e.Err.Details
}

func newError(status int, code, message, details string) *ErrorWithContext {
	return &ErrorWithContext{Status: status, Err: Error{Code: code, Message: message, Details: details}}
}

// ErrorResponse creates an error API response
func ErrorResponse(code, message, details string) Response {
	return Response{
		Success: false,
		Error: &Error{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

// ValidationError reports invalid input.
func ValidationError(details string) *ErrorWithContext {
	return newError(http.StatusBadRequest, "VALIDATION_ERROR", "Invalid input data", details)
}

// AuthenticationError reports a missing caller identity.
func AuthenticationError(details string) *ErrorWithContext {
	return newError(http.StatusUnauthorized, "AUTHENTICATION_ERROR", "Authentication failed", details)
}

// AuthorizationError reports access to another owner's resource.
func AuthorizationError(details string) *ErrorWithContext {
	return newError(http.StatusForbidden, "AUTHORIZATION_ERROR", "Access denied", details)
}

// NotFoundError reports a missing resource.
func NotFoundError(resource string) *ErrorWithContext {
	return newError(http.StatusNotFound, "NOT_FOUND", "Resource not found", resource+" not found")
}

// PolicyError reports a request the caller's plan does not allow.
func PolicyError(details string) *ErrorWithContext {
	return newError(http.StatusConflict, "POLICY_VIOLATION", "Not allowed on your plan", details)
}

// QuotaError reports an exhausted quota.
func QuotaError(details string) *ErrorWithContext {
	return newError(http.StatusTooManyRequests, "QUOTA_EXCEEDED", "Quota exceeded", details)
}

// InternalError hides cause from the client and keeps it for the log.
func InternalError(details string, cause error) *ErrorWithContext {
	e := newError(http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error", details)
	e.Cause = cause
	return e
}

// FromError maps a service error onto its API error.
func FromError(resource string, err error) *ErrorWithContext {
	switch {
	case errors.Is(err, apperr.ErrInvalid):
		return ValidationError(err.Error())
	case errors.Is(err, apperr.ErrNotFound):
		return NotFoundError(resource)
	case errors.Is(err, apperr.ErrForbidden):
		return AuthorizationError(resource + " belongs to another user")
	case errors.Is(err, apperr.ErrPolicyViolation):
		return PolicyError(err.Error())
	case errors.Is(err, apperr.ErrQuotaExceeded):
		return QuotaError(err.Error())
	default:
		return InternalError(resource+" operation failed", err)
	}
}

// AbortWithError writes the error response and stops the handler chain.
func AbortWithError(c *gin.Context, e *ErrorWithContext) {
	if e.Cause != nil {
		log.Error().Err(e.Cause).Str("request_id", c.GetString("request_id")).
			Str("path", c.FullPath()).Msg(e.Err.Details)
	}
	_ = c.Error(e)
	c.AbortWithStatusJSON(e.Status, Response{Success: false, Error: &e.Err})
}

// OwnerID returns the caller's user id set by the identity middleware.
func OwnerID(c *gin.Context) string {
	return c.GetString(ContextOwnerKey)
}

// GuildID returns the caller's guild id, empty when the header was absent.
func GuildID(c *gin.Context) string {
	return c.GetString(ContextGuildKey)
}
