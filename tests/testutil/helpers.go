// Package testutil starts shared Redis and MongoDB containers for integration tests.
package testutil

import (
	"context"
	"testing"
	"time"
)

const contextTimeout = 30 * time.Second

// NewTestContext creates context with timeout for tests
func NewTestContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), contextTimeout)
	t.Cleanup(cancel)
	return ctx
}

// SkipIfShort skips container-backed tests under -short
func SkipIfShort(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container-backed test in short mode")
	}
}
