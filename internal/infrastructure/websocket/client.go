package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	appnotification "github.com/lllypuk/notifysync/internal/application/notification"
)

// Default client configuration constants.
const (
	defaultReadBufferSize   = 1024
	defaultWriteBufferSize  = 1024
	defaultPingInterval     = 30 * time.Second
	defaultPongWait         = 60 * time.Second
	defaultWriteWait        = 10 * time.Second
	defaultMaxMessageSize   = 65536
	defaultSendBufferSize   = 256
	defaultOperationTimeout = 15 * time.Second
)

// ClientConfig holds configuration for WebSocket clients.
type ClientConfig struct {
	// ReadBufferSize is the size of the read buffer.
	ReadBufferSize int

	// WriteBufferSize is the size of the write buffer.
	WriteBufferSize int

	// PingInterval is the interval for sending ping messages.
	PingInterval time.Duration

	// PongWait is the maximum time to wait for a pong response.
	PongWait time.Duration

	// WriteWait is the maximum time to wait for a write operation.
	WriteWait time.Duration

	// MaxMessageSize is the maximum allowed message size.
	MaxMessageSize int64

	// OperationTimeout bounds a single engine call made for a client message.
	OperationTimeout time.Duration
}

// DefaultClientConfig returns sensible default configuration.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		ReadBufferSize:   defaultReadBufferSize,
		WriteBufferSize:  defaultWriteBufferSize,
		PingInterval:     defaultPingInterval,
		PongWait:         defaultPongWait,
		WriteWait:        defaultWriteWait,
		MaxMessageSize:   defaultMaxMessageSize,
		OperationTimeout: defaultOperationTimeout,
	}
}

// SnapshotSource is the observable side of a sync engine.
type SnapshotSource interface {
	Snapshot() appnotification.Snapshot
	OnChange(listener appnotification.Listener) func()
}

// Session is the part of a sync engine a connection drives.
// Declared on the consumer side.
type Session interface {
	SnapshotSource
	MarkAsRead(ctx context.Context, notificationID string) error
	MarkAllAsRead(ctx context.Context) error
	Refresh(ctx context.Context) error
	Background(ctx context.Context) error
	Foreground(ctx context.Context) error
}

// Client represents a single WebSocket connection of one user.
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	userKey string
	session Session
	config  ClientConfig
	logger  *slog.Logger

	// ctx is cancelled when the connection closes, aborting engine calls in flight.
	ctx    context.Context
	cancel context.CancelFunc

	onClose     func()
	onCloseOnce sync.Once

	closed   bool
	closedMu sync.RWMutex
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithClientConfig sets the client configuration.
func WithClientConfig(config ClientConfig) ClientOption {
	return func(c *Client) {
		c.config = config
	}
}

// WithClientLogger sets the logger for the client.
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithOnClose sets a func run once after the read loop ends and the client left the hub.
func WithOnClose(fn func()) ClientOption {
	return func(c *Client) {
		c.onClose = fn
	}
}

// NewClient creates a new WebSocket client bound to a user's session.
func NewClient(hub *Hub, conn *websocket.Conn, userKey string, session Session, opts ...ClientOption) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		hub:     hub,
		conn:    conn,
		send:    make(chan []byte, defaultSendBufferSize),
		userKey: userKey,
		session: session,
		config:  DefaultClientConfig(),
		logger:  slog.Default(),
		ctx:     ctx,
		cancel:  cancel,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// UserKey returns the user key associated with this client.
func (c *Client) UserKey() string {
	return c.userKey
}

// IsClosed returns whether the client connection has been closed.
func (c *Client) IsClosed() bool {
	c.closedMu.RLock()
	defer c.closedMu.RUnlock()
	return c.closed
}

// ReadPump reads messages from the WebSocket connection.
// It should be run as a goroutine.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.onCloseOnce.Do(func() {
			if c.onClose != nil {
				c.onClose()
			}
		})
	}()

	c.conn.SetReadLimit(c.config.MaxMessageSize)

	if err := c.conn.SetReadDeadline(time.Now().Add(c.config.PongWait)); err != nil {
		c.logger.Error("failed to set read deadline", slog.String("error", err.Error()))
		return
	}

	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("websocket read error",
					slog.String("user_key", c.userKey),
					slog.String("error", err.Error()),
				)
			}
			return
		}

		c.handleClientMessage(message)
	}
}

// WritePump writes messages to the WebSocket connection.
// It should be run as a goroutine.
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait)); err != nil {
				c.logger.Error("failed to set write deadline", slog.String("error", err.Error()))
				return
			}

			if !ok {
				// Channel closed by Close
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Warn("websocket write error",
					slog.String("user_key", c.userKey),
					slog.String("error", err.Error()),
				)
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait)); err != nil {
				c.logger.Error("failed to set write deadline", slog.String("error", err.Error()))
				return
			}

			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleClientMessage runs one client command against the session. Commands of one
// connection run in arrival order.
func (c *Client) handleClientMessage(message []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		c.logger.Warn("invalid client message",
			slog.String("user_key", c.userKey),
			slog.String("error", err.Error()),
		)
		c.sendError("", CodeInvalidMessage, "invalid message format")
		return
	}

	var run func(ctx context.Context) error
	switch msg.Type {
	case TypeMarkRead:
		if msg.ID == "" {
			c.sendError(msg.Type, CodeInvalidInput, "id is required for mark_read")
			return
		}
		run = func(ctx context.Context) error { return c.session.MarkAsRead(ctx, msg.ID) }

	case TypeMarkAllRead:
		run = c.session.MarkAllAsRead

	case TypeRefresh:
		run = c.session.Refresh

	case TypeBackground:
		run = c.session.Background

	case TypeForeground:
		run = c.session.Foreground

	case TypePing:
		c.sendPong()
		return

	default:
		c.logger.Debug("unknown message type",
			slog.String("user_key", c.userKey),
			slog.String("type", msg.Type),
		)
		c.sendError(msg.Type, CodeInvalidMessage, "unknown message type: "+msg.Type)
		return
	}

	ctx, cancel := context.WithTimeout(c.ctx, c.config.OperationTimeout)
	defer cancel()

	if err := run(ctx); err != nil {
		c.logger.Info("client command failed",
			slog.String("user_key", c.userKey),
			slog.String("type", msg.Type),
			slog.String("error", err.Error()),
		)
		c.sendError(msg.Type, ErrorCode(err), err.Error())
		return
	}
	c.sendAck(msg.Type, msg.ID)
}

// SendSnapshot sends the session's current state to this connection only.
func (c *Client) SendSnapshot() {
	data, err := EncodeSnapshot(c.session.Snapshot())
	if err != nil {
		c.logger.Error("failed to encode snapshot", slog.String("error", err.Error()))
		return
	}
	c.Send(data)
}

func (c *Client) sendError(action, code, message string) {
	data, _ := encode(TypeError, ErrorView{Code: code, Message: message, Action: action})
	c.Send(data)
}

func (c *Client) sendAck(action, id string) {
	data, _ := encode(TypeAck, AckView{Action: action, ID: id})
	c.Send(data)
}

func (c *Client) sendPong() {
	data, _ := encode(TypePong, nil)
	c.Send(data)
}

// Send queues a message for the client. A full buffer drops the message.
func (c *Client) Send(message []byte) {
	c.closedMu.RLock()
	defer c.closedMu.RUnlock()

	if c.closed {
		return
	}

	select {
	case c.send <- message:
	default:
		c.logger.Warn("client send buffer full",
			slog.String("user_key", c.userKey),
		)
	}
}

// Close closes the client connection.
func (c *Client) Close() {
	c.closedMu.Lock()
	defer c.closedMu.Unlock()

	if c.closed {
		return
	}
	c.closed = true

	c.cancel()
	close(c.send)
	_ = c.conn.Close()

	c.logger.Debug("client connection closed",
		slog.String("user_key", c.userKey),
	)
}
