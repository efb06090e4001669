package httpserver_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lllypuk/notifysync/internal/application/appcore"
	"github.com/lllypuk/notifysync/internal/infrastructure/httpserver"
)

type stubChecker struct {
	name    string
	healthy bool
}

func (s stubChecker) Name() string { return s.name }

func (s stubChecker) Check(context.Context) appcore.HealthStatus {
	return appcore.HealthStatus{Healthy: s.healthy, Message: s.name + " checked", CheckedAt: time.Now()}
}

func TestCompositeChecker(t *testing.T) {
	ctx := context.Background()

	t.Run("all healthy", func(t *testing.T) {
		checker := httpserver.NewCompositeChecker(
			stubChecker{name: "mongodb", healthy: true},
			stubChecker{name: "redis", healthy: true},
		)

		statuses := checker.GetHealthStatus(ctx)

		require.Len(t, statuses, 2)
		assert.Equal(t, "mongodb", statuses[0].Name)
		assert.Equal(t, "redis", statuses[1].Name)
		assert.Equal(t, httpserver.StatusHealthy, statuses[1].Status)
		assert.True(t, checker.IsReady(ctx))
	})

	t.Run("one unhealthy", func(t *testing.T) {
		checker := httpserver.NewCompositeChecker(
			stubChecker{name: "mongodb", healthy: true},
			stubChecker{name: "redis", healthy: false},
		)

		statuses := checker.GetHealthStatus(ctx)

		assert.Equal(t, httpserver.StatusUnhealthy, statuses[1].Status)
		assert.Equal(t, "redis checked", statuses[1].Message)
		assert.False(t, checker.IsReady(ctx))
	})

	t.Run("no checkers", func(t *testing.T) {
		assert.True(t, httpserver.NewCompositeChecker().IsReady(ctx))
	})
}

func TestHealthEndpoints(t *testing.T) {
	tests := []struct {
		name          string
		path          string
		healthy       bool
		expectedCode  int
		expectedState string
	}{
		{"liveness ignores components", "/health", false, http.StatusOK, httpserver.StatusHealthy},
		{"ready", "/ready", true, http.StatusOK, httpserver.StatusReady},
		{"not ready", "/ready", false, http.StatusServiceUnavailable, httpserver.StatusNotReady},
		{"details healthy", "/health/details", true, http.StatusOK, httpserver.StatusHealthy},
		{"details unhealthy", "/health/details", false, http.StatusServiceUnavailable, httpserver.StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, router := newTestRouter(t, nil)
			router.RegisterHealthEndpointsWithChecker(
				httpserver.NewCompositeChecker(stubChecker{name: "redis", healthy: tt.healthy}),
			)

			rec := serve(e, httptest.NewRequest(http.MethodGet, tt.path, nil))

			assert.Equal(t, tt.expectedCode, rec.Code)
			var body httpserver.HealthResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.expectedState, body.Status)
		})
	}
}
