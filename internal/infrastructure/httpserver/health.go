package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/sync/errgroup"

	"github.com/lllypuk/notifysync/internal/application/appcore"
)

// Health status constants - single source of truth for all health endpoints.
const (
	// StatusHealthy indicates the component is fully operational.
	StatusHealthy = "healthy"

	// StatusUnhealthy indicates the component is not operational.
	StatusUnhealthy = "unhealthy"

	// StatusDegraded indicates the component is operational but with issues.
	StatusDegraded = "degraded"

	// StatusReady indicates the service is ready to accept traffic.
	StatusReady = "ready"

	// StatusNotReady indicates the service is not ready to accept traffic.
	StatusNotReady = "not_ready"
)

// ComponentStatus represents the health status of a single component.
type ComponentStatus struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthResponse represents the response for health endpoints.
type HealthResponse struct {
	Status     string            `json:"status"`
	Components []ComponentStatus `json:"components,omitempty"`
}

// HealthChecker defines the interface for checking application health.
type HealthChecker interface {
	// IsReady checks if all infrastructure components are healthy and ready to serve traffic.
	IsReady(ctx context.Context) bool

	// GetHealthStatus returns detailed health status of all components.
	GetHealthStatus(ctx context.Context) []ComponentStatus
}

// CompositeChecker runs a set of component checkers concurrently.
type CompositeChecker struct {
	checkers []appcore.HealthChecker
	timeout  time.Duration
}

// DefaultCheckTimeout bounds a single component check.
const DefaultCheckTimeout = 3 * time.Second

// NewCompositeChecker creates a checker over the given components.
func NewCompositeChecker(checkers ...appcore.HealthChecker) *CompositeChecker {
	return &CompositeChecker{
		checkers: checkers,
		timeout:  DefaultCheckTimeout,
	}
}

// IsReady reports whether every component is healthy.
func (c *CompositeChecker) IsReady(ctx context.Context) bool {
	for _, status := range c.GetHealthStatus(ctx) {
		if status.Status != StatusHealthy {
			return false
		}
	}
	return true
}

// GetHealthStatus checks every component. The result keeps the order of the checkers.
func (c *CompositeChecker) GetHealthStatus(ctx context.Context) []ComponentStatus {
	statuses := make([]ComponentStatus, len(c.checkers))

	g, gctx := errgroup.WithContext(ctx)
	for i, checker := range c.checkers {
		g.Go(func() error {
			checkCtx, cancel := context.WithTimeout(gctx, c.timeout)
			defer cancel()

			result := checker.Check(checkCtx)
			status := ComponentStatus{
				Name:    checker.Name(),
				Status:  StatusHealthy,
				Message: result.Message,
			}
			if !result.Healthy {
				status.Status = StatusUnhealthy
			}
			statuses[i] = status
			return nil
		})
	}
	_ = g.Wait()

	return statuses
}

// HealthEndpoints manages health check endpoint registration.
type HealthEndpoints struct {
	checker HealthChecker
}

// NewHealthEndpoints creates a new HealthEndpoints instance.
func NewHealthEndpoints(checker HealthChecker) *HealthEndpoints {
	return &HealthEndpoints{
		checker: checker,
	}
}

// Register registers all health endpoints on the Echo instance.
// Endpoints registered:
//   - GET /health - Liveness probe (always returns 200 if app is running)
//   - GET /ready - Readiness probe (returns 200 if ready, 503 if not)
//   - GET /health/details - Detailed health status of all components
func (h *HealthEndpoints) Register(e *echo.Echo) {
	e.GET("/health", h.handleHealth)
	e.GET("/ready", h.handleReady)
	e.GET("/health/details", h.handleHealthDetails)
}

// handleHealth handles the liveness probe endpoint.
// This endpoint always returns 200 OK if the application is running.
// Used by Kubernetes liveness probes.
func (h *HealthEndpoints) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{
		Status: StatusHealthy,
	})
}

// handleReady handles the readiness probe endpoint.
// Returns 200 OK if all components are ready, 503 Service Unavailable otherwise.
// Used by Kubernetes readiness probes and load balancer health checks.
func (h *HealthEndpoints) handleReady(c echo.Context) error {
	ctx := c.Request().Context()

	if h.checker == nil || h.checker.IsReady(ctx) {
		return c.JSON(http.StatusOK, HealthResponse{
			Status:     StatusReady,
			Components: h.getComponentsIfAvailable(ctx),
		})
	}

	return c.JSON(http.StatusServiceUnavailable, HealthResponse{
		Status:     StatusNotReady,
		Components: h.getComponentsIfAvailable(ctx),
	})
}

// handleHealthDetails handles the detailed health status endpoint.
// Returns the status of each component with optional error messages.
func (h *HealthEndpoints) handleHealthDetails(c echo.Context) error {
	ctx := c.Request().Context()

	components := h.getComponentsIfAvailable(ctx)

	// Determine overall status based on component statuses
	overallStatus := StatusHealthy
	statusCode := http.StatusOK

	for _, comp := range components {
		if comp.Status == StatusUnhealthy {
			overallStatus = StatusUnhealthy
			statusCode = http.StatusServiceUnavailable
			break
		}
		if comp.Status == StatusDegraded {
			overallStatus = StatusDegraded
			// Don't break - unhealthy takes precedence
		}
	}

	return c.JSON(statusCode, HealthResponse{
		Status:     overallStatus,
		Components: components,
	})
}

// getComponentsIfAvailable returns component statuses if checker is available.
func (h *HealthEndpoints) getComponentsIfAvailable(ctx context.Context) []ComponentStatus {
	if h.checker == nil {
		return nil
	}
	return h.checker.GetHealthStatus(ctx)
}

// RegisterHealthEndpointsWithChecker registers health endpoints with a HealthChecker.
// This is a convenience function for the Router.
func (r *Router) RegisterHealthEndpointsWithChecker(checker HealthChecker) {
	endpoints := NewHealthEndpoints(checker)
	endpoints.Register(r.echo)
}
