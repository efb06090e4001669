// Package middleware provides echo middleware for the sync service.
package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/lllypuk/notifysync/internal/application/appcore"
)

const (
	// UserKeyHeader carries the signed-in user's key, set by the upstream gateway.
	UserKeyHeader = "X-User-Key"

	// UserKeyQueryParam carries the user key for clients that cannot set headers (browser WebSockets).
	UserKeyQueryParam = "user_key"

	// UserKeyContextKey is the echo context key for the user key.
	UserKeyContextKey = "user_key"
)

// UserKeyConfig holds configuration for the user key middleware.
type UserKeyConfig struct {
	// Header is the request header holding the key.
	Header string

	// AllowQuery accepts the key from the query string when the header is absent.
	AllowQuery bool
}

// DefaultUserKeyConfig returns a UserKeyConfig with sensible defaults.
func DefaultUserKeyConfig() UserKeyConfig {
	return UserKeyConfig{
		Header:     UserKeyHeader,
		AllowQuery: false,
	}
}

// UserKey rejects requests without a user key and stores the key on the echo and request contexts.
// Authentication happens upstream; the key is trusted as given.
func UserKey(config UserKeyConfig) echo.MiddlewareFunc {
	if config.Header == "" {
		config.Header = UserKeyHeader
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := strings.TrimSpace(c.Request().Header.Get(config.Header))
			if key == "" && config.AllowQuery {
				key = strings.TrimSpace(c.QueryParam(UserKeyQueryParam))
			}

			if key == "" {
				return c.JSON(http.StatusUnauthorized, map[string]any{
					"success": false,
					"error": map[string]string{
						"code":    "UNAUTHORIZED",
						"message": "user key required",
					},
				})
			}

			c.Set(UserKeyContextKey, key)
			c.SetRequest(c.Request().WithContext(appcore.WithUserKey(c.Request().Context(), key)))

			return next(c)
		}
	}
}

// GetUserKey retrieves the user key from the echo context.
func GetUserKey(c echo.Context) string {
	if key, ok := c.Get(UserKeyContextKey).(string); ok {
		return key
	}
	return ""
}
