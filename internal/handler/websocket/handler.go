// Package websocket provides HTTP handlers for WebSocket connections.
package websocket

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	appnotification "github.com/lllypuk/notifysync/internal/application/notification"
	"github.com/lllypuk/notifysync/internal/infrastructure/httpserver"
	ws "github.com/lllypuk/notifysync/internal/infrastructure/websocket"
	"github.com/lllypuk/notifysync/internal/middleware"
)

// Handler configuration constants.
const (
	defaultHandlerReadBufferSize  = 1024
	defaultHandlerWriteBufferSize = 1024
	defaultAcquireTimeout         = 30 * time.Second
	releaseTimeout                = 10 * time.Second
)

// SessionProvider hands out the shared sync session of a user.
// Declared on the consumer side.
type SessionProvider interface {
	Acquire(ctx context.Context, userKey string) (ws.Session, error)
	Release(ctx context.Context, userKey string) error
}

// EngineRegistry is the registry of per-user sync engines.
type EngineRegistry interface {
	Acquire(ctx context.Context, userKey string) (*appnotification.Engine, error)
	Release(ctx context.Context, userKey string) error
}

type registrySessions struct {
	registry EngineRegistry
}

// SessionsFromRegistry adapts an engine registry to a SessionProvider.
func SessionsFromRegistry(registry EngineRegistry) SessionProvider {
	return registrySessions{registry: registry}
}

func (r registrySessions) Acquire(ctx context.Context, userKey string) (ws.Session, error) {
	engine, err := r.registry.Acquire(ctx, userKey)
	if err != nil {
		return nil, err
	}
	return engine, nil
}

func (r registrySessions) Release(ctx context.Context, userKey string) error {
	return r.registry.Release(ctx, userKey)
}

// Handler handles WebSocket HTTP requests.
type Handler struct {
	hub            *ws.Hub
	broadcaster    *ws.Broadcaster
	sessions       SessionProvider
	upgrader       websocket.Upgrader
	logger         *slog.Logger
	clientConfig   ws.ClientConfig
	acquireTimeout time.Duration
}

// HandlerConfig holds configuration for the WebSocket handler.
type HandlerConfig struct {
	// ReadBufferSize is the size of the read buffer for WebSocket connections.
	ReadBufferSize int

	// WriteBufferSize is the size of the write buffer for WebSocket connections.
	WriteBufferSize int

	// CheckOrigin is a function that returns true if the request origin is acceptable.
	// If nil, a default function allowing all origins is used.
	CheckOrigin func(r *http.Request) bool

	// AcquireTimeout bounds the initial load of a new session.
	AcquireTimeout time.Duration

	// Logger is the structured logger for the handler.
	Logger *slog.Logger

	// ClientConfig is the configuration for WebSocket clients.
	ClientConfig ws.ClientConfig
}

// DefaultHandlerConfig returns a default configuration.
func DefaultHandlerConfig() HandlerConfig {
	return HandlerConfig{
		ReadBufferSize:  defaultHandlerReadBufferSize,
		WriteBufferSize: defaultHandlerWriteBufferSize,
		CheckOrigin:     nil,
		AcquireTimeout:  defaultAcquireTimeout,
		Logger:          slog.Default(),
		ClientConfig:    ws.DefaultClientConfig(),
	}
}

// HandlerOption configures the Handler.
type HandlerOption func(*Handler)

// WithHandlerLogger sets the logger for the handler.
func WithHandlerLogger(logger *slog.Logger) HandlerOption {
	return func(h *Handler) {
		h.logger = logger
	}
}

// WithHandlerConfig sets the handler configuration.
func WithHandlerConfig(config HandlerConfig) HandlerOption {
	return func(h *Handler) {
		h.upgrader.ReadBufferSize = config.ReadBufferSize
		h.upgrader.WriteBufferSize = config.WriteBufferSize
		if config.CheckOrigin != nil {
			h.upgrader.CheckOrigin = config.CheckOrigin
		}
		if config.Logger != nil {
			h.logger = config.Logger
		}
		if config.AcquireTimeout > 0 {
			h.acquireTimeout = config.AcquireTimeout
		}
		h.clientConfig = config.ClientConfig
	}
}

// NewHandler creates a new WebSocket handler.
func NewHandler(
	hub *ws.Hub,
	broadcaster *ws.Broadcaster,
	sessions SessionProvider,
	opts ...HandlerOption,
) *Handler {
	h := &Handler{
		hub:         hub,
		broadcaster: broadcaster,
		sessions:    sessions,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  defaultHandlerReadBufferSize,
			WriteBufferSize: defaultHandlerWriteBufferSize,
			CheckOrigin: func(_ *http.Request) bool {
				return true
			},
		},
		logger:         slog.Default(),
		clientConfig:   ws.DefaultClientConfig(),
		acquireTimeout: defaultAcquireTimeout,
	}

	for _, opt := range opts {
		opt(h)
	}

	return h
}

// HandleWebSocket signs the user in (or joins their running session), upgrades
// the connection and streams snapshots to it until either side closes.
func (h *Handler) HandleWebSocket(c echo.Context) error {
	userKey := middleware.GetUserKey(c)
	if userKey == "" {
		h.logger.Warn("websocket connection rejected: user key required",
			slog.String("remote_ip", c.RealIP()),
		)
		return httpserver.RespondErrorWithCode(c, http.StatusUnauthorized, "UNAUTHORIZED", "User key required")
	}

	acquireCtx, cancel := context.WithTimeout(c.Request().Context(), h.acquireTimeout)
	session, err := h.sessions.Acquire(acquireCtx, userKey)
	cancel()
	if err != nil {
		h.logger.Error("failed to open sync session",
			slog.String("user_key", userKey),
			slog.String("error", err.Error()),
		)
		return httpserver.RespondError(c, err)
	}

	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed",
			slog.String("user_key", userKey),
			slog.String("error", err.Error()),
		)
		h.release(userKey)
		return nil // Upgrade already sent an error response
	}

	client := ws.NewClient(
		h.hub,
		conn,
		userKey,
		session,
		ws.WithClientConfig(h.clientConfig),
		ws.WithClientLogger(h.logger),
		ws.WithOnClose(func() {
			h.broadcaster.Detach(userKey)
			h.release(userKey)
		}),
	)

	h.hub.Register(client)
	h.broadcaster.Attach(userKey, session)
	client.SendSnapshot()

	h.logger.Info("websocket connection established",
		slog.String("user_key", userKey),
		slog.String("remote_ip", c.RealIP()),
	)

	go client.WritePump()
	go client.ReadPump()

	return nil
}

func (h *Handler) release(userKey string) {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	if err := h.sessions.Release(ctx, userKey); err != nil {
		h.logger.Warn("failed to release sync session",
			slog.String("user_key", userKey),
			slog.String("error", err.Error()),
		)
	}
}

// RegisterRoutes registers the WebSocket endpoint on the socket group.
func (h *Handler) RegisterRoutes(r *httpserver.Router) {
	r.Socket().GET("/ws", h.HandleWebSocket)
}
