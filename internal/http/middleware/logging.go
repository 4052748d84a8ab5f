// Package middleware holds the Gin middleware shared by every route:
// correlation ids, caller identity, access logging, panic recovery,
// idempotency-key validation, rate limiting, metrics and security headers.
//
// Recommended order: RequestID, Identity, Logger, Recovery.
package middleware

import (
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	requestIDKey    = "requestID"
	requestIDHeader = "X-Request-ID"
	// UserIDKey is the Gin context key holding the caller's user id.
	UserIDKey = "userID"
	// HeaderUserID carries the caller's user id.
	HeaderUserID = "X-User-ID"
	loggerKey    = "logger"

	maxQueryLogLength = 2048
	// maxUserIDLength matches the conversations.user_id column.
	maxUserIDLength = 64
)

// RequestID reuses the client's X-Request-ID or mints a UUID, and echoes it
// on the response.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(requestIDHeader)
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Set(requestIDKey, rid)
		c.Header(requestIDHeader, rid)
		c.Next()
	}
}

// Identity records the trimmed X-User-ID header. Over-long values are
// dropped, not truncated, so two callers never collapse into one id.
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		uid := strings.TrimSpace(c.GetHeader(HeaderUserID))
		if uid != "" && len(uid) <= maxUserIDLength {
			c.Set(UserIDKey, uid)
		}
		c.Next()
	}
}

// UserID returns the caller id stored by Identity, or "".
func UserID(c *gin.Context) string { return c.GetString(UserIDKey) }

func requestID(c *gin.Context) string { return c.GetString(requestIDKey) }

// Logger emits one access log line per request and installs a request
// logger in both the Gin context and the request context, where services
// pick it up with zerolog.Ctx. Query, user agent and headers pass through the
// redactor first.
func Logger(opts RedactOptions) gin.HandlerFunc {
	rd := newRedactor(opts)

	return func(c *gin.Context) {
		start := time.Now()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		reqLog := log.With().
			Str("request_id", requestID(c)).
			Str("user_id", UserID(c)).
			Str("method", c.Request.Method).
			Str("path", route).
			Str("remote_ip", c.ClientIP()).
			Str("query", truncate(rd.scrub(c.Request.URL.RawQuery), maxQueryLogLength)).
			Logger()
		c.Set(loggerKey, &reqLog)
		c.Request = c.Request.WithContext(reqLog.WithContext(c.Request.Context()))

		c.Next()

		status := c.Writer.Status()
		accessEvent(&reqLog, status, c.Errors).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Int64("bytes_in", c.Request.ContentLength).
			Int("bytes_out", c.Writer.Size()).
			Str("user_agent", rd.scrub(c.Request.UserAgent())).
			Interface("headers", rd.headers(c.Request.Header)).
			Msg("request")
	}
}

// accessEvent picks the level: error for 5xx or handler errors, warn for
// 4xx, info otherwise.
func accessEvent(l *zerolog.Logger, status int, errs []*gin.Error) *zerolog.Event {
	switch {
	case len(errs) > 0:
		return l.Error().Str("errors", joinErrors(errs))
	case status >= http.StatusInternalServerError:
		return l.Error()
	case status >= http.StatusBadRequest:
		return l.Warn()
	}
	return l.Info()
}

func joinErrors(errs []*gin.Error) string {
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		msgs = append(msgs, e.Error())
	}
	return strings.Join(msgs, "; ")
}

// Recovery turns a panic into a logged stack trace and, when the response
// has not started, a 500 envelope.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			rid := requestID(c)
			LoggerFrom(c).Error().
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Str("request_id", rid).
				Msg("panic recovered")

			if c.Writer.Written() {
				c.AbortWithStatus(http.StatusInternalServerError)
				return
			}
			c.Header(requestIDHeader, rid)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"request_id": rid,
				"code":       "internal_error",
				"message":    "internal server error",
			})
		}()
		c.Next()
	}
}

// LoggerFrom returns the request logger installed by Logger, or a copy of
// the global logger.
func LoggerFrom(c *gin.Context) *zerolog.Logger {
	if lg, ok := c.Value(loggerKey).(*zerolog.Logger); ok {
		return lg
	}
	l := log.With().Logger()
	return &l
}

// truncate caps s at max bytes plus an ellipsis; max <= 0 disables it.
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
