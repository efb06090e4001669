package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/lllypuk/notifysync/internal/application/appcore"
)

const (
	// RequestIDHeader is the header name for request ID.
	RequestIDHeader = "X-Request-ID"

	// RequestIDKey is the context key for request ID.
	RequestIDKey = "request_id"

	// DefaultSlowRequestThreshold marks successful requests slower than this as warnings.
	DefaultSlowRequestThreshold = 2 * time.Second
)

// LoggingConfig holds configuration for the logging middleware.
type LoggingConfig struct {
	Logger    *slog.Logger
	SkipPaths []string

	// SlowThreshold raises a successful request to warn level. Zero disables it.
	// WebSocket sessions are exempt since they last as long as the connection.
	SlowThreshold time.Duration
}

// DefaultLoggingConfig returns a LoggingConfig with sensible defaults.
func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Logger:        slog.Default(),
		SkipPaths:     []string{"/health", "/ready", "/metrics"},
		SlowThreshold: DefaultSlowRequestThreshold,
	}
}

// Logging assigns a request ID and logs each request when it completes.
// An upgraded connection is logged once as a WebSocket session with its duration.
func Logging(config LoggingConfig) echo.MiddlewareFunc {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	skipPaths := make(map[string]struct{}, len(config.SkipPaths))
	for _, path := range config.SkipPaths {
		skipPaths[path] = struct{}{}
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if _, ok := skipPaths[req.URL.Path]; ok {
				return next(c)
			}

			requestID := req.Header.Get(RequestIDHeader)
			if requestID == "" {
				requestID = uuid.New().String()
			}
			c.Response().Header().Set(RequestIDHeader, requestID)
			c.Set(RequestIDKey, requestID)
			c.SetRequest(req.WithContext(appcore.WithCorrelationID(req.Context(), requestID)))

			start := time.Now()
			err := next(c)
			latency := time.Since(start)

			status := responseStatus(c, err)
			attrs := append(requestAttrs(c),
				slog.Int("status", status),
				slog.Duration("latency", latency),
				slog.String("user_agent", req.UserAgent()),
				slog.Int64("response_size", c.Response().Size),
			)
			if req.ContentLength > 0 {
				attrs = append(attrs, slog.Int64("content_length", req.ContentLength))
			}

			msg, level := "HTTP request", slog.LevelInfo
			switch {
			case status == http.StatusSwitchingProtocols:
				msg = "websocket session ended"
			case status >= http.StatusInternalServerError:
				level = slog.LevelError
			case status >= http.StatusBadRequest:
				level = slog.LevelWarn
			case config.SlowThreshold > 0 && latency > config.SlowThreshold:
				level = slog.LevelWarn
				attrs = append(attrs, slog.Bool("slow", true))
			}
			if err != nil && level > slog.LevelInfo {
				attrs = append(attrs, slog.String("error", err.Error()))
			}

			config.Logger.LogAttrs(c.Request().Context(), level, msg, attrs...)
			return err
		}
	}
}

// responseStatus prefers the status carried by a returned echo error.
func responseStatus(c echo.Context, err error) int {
	var he *echo.HTTPError
	if err != nil && errors.As(err, &he) {
		return he.Code
	}
	return c.Response().Status
}

// requestAttrs describes the request for log entries. The user key is present
// only once UserKey has run for the route.
func requestAttrs(c echo.Context) []slog.Attr {
	req := c.Request()
	attrs := []slog.Attr{
		slog.String("method", req.Method),
		slog.String("path", req.URL.Path),
		slog.String("remote_ip", c.RealIP()),
	}

	requestID := GetRequestID(c)
	if requestID == "" {
		requestID = req.Header.Get(RequestIDHeader)
	}
	if requestID != "" {
		attrs = append(attrs, slog.String("request_id", requestID))
	}
	if key := GetUserKey(c); key != "" {
		attrs = append(attrs, slog.String("user_key", key))
	}
	return attrs
}

// GetRequestID retrieves the request ID from the echo context.
func GetRequestID(c echo.Context) string {
	if id, ok := c.Get(RequestIDKey).(string); ok {
		return id
	}
	return ""
}
