package api

import (
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"pulsewatch/internal/api/types"
)

// Header names understood by the API.
const (
	HeaderRequestID = "X-Request-ID"
	HeaderUserID    = "X-User-ID"
	HeaderGuildID   = "X-Guild-ID"
)

// RequestID tags every request with an id, reusing the caller's when present.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(HeaderRequestID, id)
		c.Next()
	}
}

// PanicRecovery turns a handler panic into a 500 response.
func PanicRecovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				types.AbortWithError(c, types.InternalError("unexpected failure",
					fmt.Errorf("panic: %v\n%s", r, debug.Stack())))
			}
		}()
		c.Next()
	}
}

// LoggerMiddleware writes one access log event per request.
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		event := log.Info()
		switch {
		case status >= 500:
			event = log.Error()
		case status >= 400:
			event = log.Warn()
		}

		event.
			Str("request_id", c.GetString("request_id")).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("HTTP request")
	}
}

// RequireOwner reads the caller identity from X-User-ID (and the optional
// X-Guild-ID) and rejects requests without one.
func RequireOwner() gin.HandlerFunc {
	return func(c *gin.Context) {
		owner := strings.TrimSpace(c.GetHeader(HeaderUserID))
		if owner == "" {
			types.AbortWithError(c, types.AuthenticationError(HeaderUserID+" header is required"))
			return
		}
		c.Set(types.ContextOwnerKey, owner)
		c.Set(types.ContextGuildKey, strings.TrimSpace(c.GetHeader(HeaderGuildID)))
		c.Next()
	}
}
