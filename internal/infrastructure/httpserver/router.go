package httpserver

import (
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lllypuk/notifysync/internal/middleware"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	// Logger is the structured logger for router events.
	Logger *slog.Logger

	// UserKeyConfig configures user key extraction for user routes.
	UserKeyConfig middleware.UserKeyConfig

	// RateLimitMiddleware limits user routes. Runs after the user key is known.
	RateLimitMiddleware echo.MiddlewareFunc

	// CORSConfig is the CORS configuration.
	CORSConfig middleware.CORSConfig

	// LoggingConfig is the logging middleware configuration.
	LoggingConfig middleware.LoggingConfig

	// RecoveryConfig is the recovery middleware configuration.
	RecoveryConfig middleware.RecoveryConfig

	// APIPrefix is the prefix for all API routes.
	// Default is "/api/v1".
	APIPrefix string
}

// DefaultRouterConfig returns a RouterConfig with sensible defaults.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		Logger:         slog.Default(),
		UserKeyConfig:  middleware.DefaultUserKeyConfig(),
		CORSConfig:     middleware.DefaultCORSConfig(),
		LoggingConfig:  middleware.DefaultLoggingConfig(),
		RecoveryConfig: middleware.DefaultRecoveryConfig(),
		APIPrefix:      "/api/v1",
	}
}

// Router manages HTTP route groups and middleware chains.
type Router struct {
	echo   *echo.Echo
	config RouterConfig
	logger *slog.Logger

	public *echo.Group
	user   *echo.Group
	socket *echo.Group
}

// NewRouter creates a new router with the given configuration.
func NewRouter(e *echo.Echo, config RouterConfig) *Router {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.APIPrefix == "" {
		config.APIPrefix = "/api/v1"
	}

	r := &Router{
		echo:   e,
		config: config,
		logger: config.Logger,
	}

	r.setupGlobalMiddleware()
	r.setupRouteGroups()

	return r
}

func (r *Router) setupGlobalMiddleware() {
	// Recovery middleware (must be first to catch all panics)
	r.echo.Use(middleware.RecoveryWithConfig(r.config.RecoveryConfig))
	r.echo.Use(middleware.CORS(r.config.CORSConfig))
	r.echo.Use(middleware.Logging(r.config.LoggingConfig))
}

func (r *Router) setupRouteGroups() {
	userMiddleware := []echo.MiddlewareFunc{middleware.UserKey(r.config.UserKeyConfig)}
	if r.config.RateLimitMiddleware != nil {
		userMiddleware = append(userMiddleware, r.config.RateLimitMiddleware)
	}

	r.public = r.echo.Group(r.config.APIPrefix)
	r.user = r.public.Group("", userMiddleware...)

	// Browsers cannot set headers on a WebSocket handshake, so the socket group
	// also accepts the key from the query string.
	socketKey := r.config.UserKeyConfig
	socketKey.AllowQuery = true
	socketMiddleware := []echo.MiddlewareFunc{middleware.UserKey(socketKey)}
	if r.config.RateLimitMiddleware != nil {
		socketMiddleware = append(socketMiddleware, r.config.RateLimitMiddleware)
	}
	r.socket = r.echo.Group("", socketMiddleware...)
}

// Echo returns the underlying Echo instance.
func (r *Router) Echo() *echo.Echo {
	return r.echo
}

// Public returns the API group that needs no user key.
func (r *Router) Public() *echo.Group {
	return r.public
}

// User returns the API group whose requests carry a user key.
func (r *Router) User() *echo.Group {
	return r.user
}

// Socket returns the root group for WebSocket endpoints.
func (r *Router) Socket() *echo.Group {
	return r.socket
}

// RouteRegistrar defines the interface for registering routes.
type RouteRegistrar interface {
	RegisterRoutes(r *Router)
}

// RegisterAll registers all route registrars with the router.
func (r *Router) RegisterAll(registrars ...RouteRegistrar) {
	for _, registrar := range registrars {
		registrar.RegisterRoutes(r)
	}
}

// PrintRoutes logs all registered routes (for debugging).
func (r *Router) PrintRoutes() {
	for _, route := range r.echo.Routes() {
		r.logger.Debug("registered route",
			slog.String("method", route.Method),
			slog.String("path", route.Path),
		)
	}
}

// RegisterMetricsEndpoint serves gatherer's metrics on /metrics.
func (r *Router) RegisterMetricsEndpoint(gatherer prometheus.Gatherer) {
	r.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
}
