// Package appcore provides core application interfaces and shared utilities.
package appcore

import (
	"context"
	"fmt"
	"time"
)

// HealthChecker reports the state of one dependency of the sync service.
type HealthChecker interface {
	Check(ctx context.Context) HealthStatus
	Name() string
}

// HealthStatus is the result of one check.
type HealthStatus struct {
	Healthy   bool           `json:"healthy"`
	Message   string         `json:"message,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	CheckedAt time.Time      `json:"checked_at"`
}

// Healthy builds a passing status.
func Healthy(message string, details map[string]any) HealthStatus {
	return HealthStatus{Healthy: true, Message: message, Details: details, CheckedAt: time.Now()}
}

// Unhealthy builds a failing status with a formatted message.
func Unhealthy(details map[string]any, format string, args ...any) HealthStatus {
	return HealthStatus{
		Healthy:   false,
		Message:   fmt.Sprintf(format, args...),
		Details:   details,
		CheckedAt: time.Now(),
	}
}

// PingStatus turns a connectivity probe into a status carrying its latency.
func PingStatus(ping func() error) HealthStatus {
	start := time.Now()
	if err := ping(); err != nil {
		return Unhealthy(nil, "ping failed: %v", err)
	}
	return Healthy("connected", map[string]any{"latency": time.Since(start).String()})
}
