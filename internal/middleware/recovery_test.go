package middleware_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lllypuk/notifysync/internal/middleware"
)

func TestDefaultRecoveryConfig(t *testing.T) {
	config := middleware.DefaultRecoveryConfig()

	assert.NotNil(t, config.Logger)
	assert.Equal(t, middleware.DefaultStackSize, config.StackSize)
	assert.False(t, config.DisablePrintStack)
	assert.Nil(t, config.OnPanic)
}

func TestRecovery(t *testing.T) {
	tests := []struct {
		name  string
		panic any
		want  string
	}{
		{"string panic", "boom", "boom"},
		{"error panic", errors.New("broken"), "broken"},
		{"int panic", 42, "42"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/api/v1/notifications", nil)
			req.Header.Set(middleware.RequestIDHeader, "req-9")
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			handler := middleware.Recovery(newJSONLogger(&buf))(func(echo.Context) error {
				panic(tt.panic)
			})

			require.NoError(t, handler(c))
			assert.Equal(t, http.StatusInternalServerError, rec.Code)

			var body map[string]any
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, false, body["success"])
			assert.Equal(t, "INTERNAL_ERROR", body["error"].(map[string]any)["code"])

			entry := decodeLogLine(t, &buf)
			assert.Equal(t, "panic recovered", entry["msg"])
			assert.Equal(t, tt.want, entry["error"])
			assert.Equal(t, "req-9", entry["request_id"])
			assert.NotEmpty(t, entry["stack"])
		})
	}
}

func TestRecovery_NoPanic(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

	handler := middleware.Recovery(nil)(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	require.NoError(t, handler(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestRecovery_DisablePrintStack(t *testing.T) {
	var buf bytes.Buffer
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())

	handler := middleware.RecoveryWithConfig(middleware.RecoveryConfig{
		Logger:            newJSONLogger(&buf),
		DisablePrintStack: true,
	})(func(echo.Context) error { panic("quiet") })

	require.NoError(t, handler(c))
	_, hasStack := decodeLogLine(t, &buf)["stack"]
	assert.False(t, hasStack)
}

func TestRecovery_OnPanicAndUserKey(t *testing.T) {
	var buf bytes.Buffer
	panics := 0
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodPost, "/api/v1/notifications/read-all", nil), httptest.NewRecorder())
	c.Set(middleware.UserKeyContextKey, "ana")

	handler := middleware.RecoveryWithConfig(middleware.RecoveryConfig{
		Logger:  newJSONLogger(&buf),
		OnPanic: func() { panics++ },
	})(func(echo.Context) error { panic("boom") })

	require.NoError(t, handler(c))
	assert.Equal(t, 1, panics)

	entry := decodeLogLine(t, &buf)
	assert.Equal(t, "ana", entry["user_key"])
	assert.Equal(t, "/api/v1/notifications/read-all", entry["path"])
}

func TestRecovery_ReraisesAbortHandler(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/ws", nil), httptest.NewRecorder())

	handler := middleware.Recovery(nil)(func(echo.Context) error { panic(http.ErrAbortHandler) })

	assert.PanicsWithValue(t, http.ErrAbortHandler, func() { _ = handler(c) })
}
