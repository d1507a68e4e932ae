package logger

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const headerRequestID = "X-Request-Id"

// quietPaths are polled by probes and logged at debug.
var quietPaths = map[string]struct{}{"/healthz": {}}

// Middleware returns a Gin middleware that injects request_id, a
// request-scoped logger, and logs one summary line per request.
func Middleware(l *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		rid := c.GetHeader(headerRequestID)
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Writer.Header().Set(headerRequestID, rid)

		reqLogger := l.With("request_id", rid)
		c.Set("logger", reqLogger)
		c.Request = c.Request.WithContext(With(c.Request.Context(), reqLogger))

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		status := c.Writer.Status()
		attrs := []any{
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"duration_ms", float64(time.Since(start).Milliseconds()),
		}
		// Set by auth.RequireAccessToken on protected routes.
		if uid := c.GetString("user_id"); uid != "" {
			attrs = append(attrs, "user_id", uid, "role", c.GetString("role"))
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, "errors", c.Errors.String())
		}
		reqLogger.Log(c.Request.Context(), requestLevel(path, status, len(c.Errors) > 0), "request", attrs...)
	}
}

func requestLevel(path string, status int, hasErrors bool) slog.Level {
	switch {
	case status >= http.StatusInternalServerError || hasErrors:
		return slog.LevelError
	case status >= http.StatusBadRequest:
		return slog.LevelWarn
	}
	if _, ok := quietPaths[path]; ok {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

// FromGin pulls the request-scoped logger from Gin context.
func FromGin(c *gin.Context) *slog.Logger {
	if v, ok := c.Get("logger"); ok {
		if l, ok := v.(*slog.Logger); ok && l != nil {
			return l
		}
	}
	return slog.Default()
}
