package appcore

import (
	"context"
	"errors"
)

// Context keys
type contextKey string

const (
	userKeyKey       contextKey = "userKey"
	correlationIDKey contextKey = "correlationID"
)

var (
	ErrUserKeyNotFound       = errors.New("user key not found in context")
	ErrCorrelationIDNotFound = errors.New("correlation ID not found in context")
)

// GetUserKey extracts the user key from the context
func GetUserKey(ctx context.Context) (string, error) {
	userKey, ok := ctx.Value(userKeyKey).(string)
	if !ok || userKey == "" {
		return "", ErrUserKeyNotFound
	}
	return userKey, nil
}

// WithUserKey adds the user key to the context
func WithUserKey(ctx context.Context, userKey string) context.Context {
	return context.WithValue(ctx, userKeyKey, userKey)
}

// GetCorrelationID extracts the correlation ID from the context
func GetCorrelationID(ctx context.Context) (string, error) {
	correlationID, ok := ctx.Value(correlationIDKey).(string)
	if !ok {
		return "", ErrCorrelationIDNotFound
	}
	return correlationID, nil
}

// WithCorrelationID adds the correlation ID to the context
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, correlationIDKey, correlationID)
}
