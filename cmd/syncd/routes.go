package main

import (
	"github.com/labstack/echo/v4"

	"github.com/lllypuk/notifysync/internal/infrastructure/httpserver"
	"github.com/lllypuk/notifysync/internal/middleware"
)

// SetupRoutes configures all routes and middleware chains on e.
func SetupRoutes(e *echo.Echo, c *Container) *httpserver.Router {
	routerConfig := httpserver.DefaultRouterConfig()
	routerConfig.Logger = c.Logger
	routerConfig.RateLimitMiddleware = rateLimitMiddleware(c)

	routerConfig.CORSConfig = c.CORSConfig()
	routerConfig.LoggingConfig.Logger = c.Logger
	routerConfig.RecoveryConfig.Logger = c.Logger
	routerConfig.RecoveryConfig.OnPanic = c.Metrics.PanicRecovered

	router := httpserver.NewRouter(e, routerConfig)

	router.RegisterHealthEndpointsWithChecker(c.HealthChecker())
	router.RegisterMetricsEndpoint(c.MetricsRegistry)
	router.RegisterAll(c.NotificationHandler, c.WSHandler)

	return router
}

// rateLimitMiddleware returns nil when rate limiting is disabled.
func rateLimitMiddleware(c *Container) echo.MiddlewareFunc {
	rl := c.Config.RateLimit
	if !rl.Enabled || c.RateLimitStore == nil {
		return nil
	}

	cfg := middleware.DefaultRateLimitConfig()
	cfg.Logger = c.Logger
	cfg.Store = c.RateLimitStore
	cfg.Limit = rl.Requests
	cfg.Window = rl.Window
	cfg.BurstSize = rl.Burst
	return middleware.RateLimit(cfg)
}
