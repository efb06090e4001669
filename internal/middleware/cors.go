package middleware

import (
	"net/http"
	"slices"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// CORS configuration constants.
const (
	// DefaultCORSMaxAge is the default max age for CORS preflight cache (24 hours in seconds).
	DefaultCORSMaxAge = 86400
)

// CORSConfig holds CORS middleware configuration.
type CORSConfig struct {
	// AllowOrigins defines a list of origins that may access the resource.
	// Use "*" to allow all origins.
	AllowOrigins []string

	// AllowMethods defines a list of methods allowed when accessing the resource.
	AllowMethods []string

	// AllowHeaders defines a list of request headers that can be used when
	// making the actual request.
	AllowHeaders []string

	// AllowCredentials indicates whether the request can include user credentials.
	AllowCredentials bool

	// ExposeHeaders defines a list of headers that browsers are allowed to access.
	ExposeHeaders []string

	// MaxAge indicates how long (in seconds) the results of a preflight request
	// can be cached.
	MaxAge int
}

// DefaultCORSConfig returns a CORSConfig with sensible defaults.
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{
			echo.GET,
			echo.HEAD,
			echo.POST,
			echo.OPTIONS,
		},
		AllowHeaders: []string{
			echo.HeaderOrigin,
			echo.HeaderContentType,
			echo.HeaderAccept,
			echo.HeaderXRequestID,
			UserKeyHeader,
		},
		AllowCredentials: false,
		ExposeHeaders:    []string{echo.HeaderXRequestID, "X-Ratelimit-Remaining"},
		MaxAge:           DefaultCORSMaxAge,
	}
}

// WithOrigins returns a copy restricted to origins. An empty list keeps the current origins.
func (c CORSConfig) WithOrigins(origins ...string) CORSConfig {
	if len(origins) > 0 {
		c.AllowOrigins = slices.Clone(origins)
	}
	return c
}

// AllowsOrigin reports whether a page served from origin may call the API.
func (c CORSConfig) AllowsOrigin(origin string) bool {
	return slices.Contains(c.AllowOrigins, "*") || slices.Contains(c.AllowOrigins, origin)
}

// CheckOrigin applies the origin list to a WebSocket handshake.
// Requests without an Origin header come from non-browser clients and pass.
func (c CORSConfig) CheckOrigin(r *http.Request) bool {
	origin := r.Header.Get(echo.HeaderOrigin)
	return origin == "" || c.AllowsOrigin(origin)
}

// CORS returns a CORS middleware with the given configuration.
func CORS(config CORSConfig) echo.MiddlewareFunc {
	return middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     config.AllowOrigins,
		AllowMethods:     config.AllowMethods,
		AllowHeaders:     config.AllowHeaders,
		AllowCredentials: config.AllowCredentials,
		ExposeHeaders:    config.ExposeHeaders,
		MaxAge:           config.MaxAge,
	})
}
