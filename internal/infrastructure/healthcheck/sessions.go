package healthcheck

import (
	"context"
	"fmt"

	"github.com/lllypuk/notifysync/internal/application/appcore"
)

const defaultMaxSessions = 10000

// SessionCounter reports how many sync sessions are running.
type SessionCounter interface {
	Len() int
}

// HubStatus reports the state of the WebSocket hub.
type HubStatus interface {
	IsRunning() bool
	ClientCount() int
}

// SessionsChecker reports the sync session load. It turns unhealthy when the
// hub is down or the number of sessions exceeds the limit.
type SessionsChecker struct {
	sessions    SessionCounter
	hub         HubStatus
	maxSessions int
}

// SessionsOption configures SessionsChecker.
type SessionsOption func(*SessionsChecker)

// WithMaxSessions sets the session limit.
func WithMaxSessions(limit int) SessionsOption {
	return func(c *SessionsChecker) {
		c.maxSessions = limit
	}
}

// NewSessionsChecker creates a sessions health checker.
func NewSessionsChecker(sessions SessionCounter, hub HubStatus, opts ...SessionsOption) *SessionsChecker {
	c := &SessionsChecker{
		sessions:    sessions,
		hub:         hub,
		maxSessions: defaultMaxSessions,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Name returns the name of this health checker.
func (c *SessionsChecker) Name() string {
	return "sync_sessions"
}

// Check performs the health check.
func (c *SessionsChecker) Check(_ context.Context) appcore.HealthStatus {
	sessions := c.sessions.Len()
	details := map[string]any{
		"sessions":     sessions,
		"max_sessions": c.maxSessions,
	}

	if c.hub != nil {
		details["clients"] = c.hub.ClientCount()
		if !c.hub.IsRunning() {
			return appcore.Unhealthy(details, "websocket hub is not running")
		}
	}
	if sessions > c.maxSessions {
		return appcore.Unhealthy(details, "%d active sessions exceed the limit of %d", sessions, c.maxSessions)
	}
	return appcore.Healthy(fmt.Sprintf("%d active sessions", sessions), details)
}
