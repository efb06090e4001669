// Package websocket serves notification snapshots to observers over WebSocket.
package websocket

import (
	"context"
	"log/slog"
	"sync"
)

// Hub configuration constants.
const (
	defaultBroadcastBufferSize = 256
)

// ConnectionObserver is told about every client that joins or leaves the hub.
type ConnectionObserver interface {
	ClientConnected()
	ClientDisconnected()
}

// Hub manages all WebSocket connections, grouped by user.
type Hub struct {
	// clients holds all connected clients.
	clients map[*Client]bool

	// userClients maps user keys to their connected clients (one user can have multiple connections).
	userClients map[string]map[*Client]bool

	// register channel for new client connections.
	register chan *Client

	// unregister channel for client disconnections.
	unregister chan *Client

	// broadcast channel for messages to be delivered.
	broadcast chan *userMessage

	// mu protects concurrent access to maps.
	mu sync.RWMutex

	logger   *slog.Logger
	observer ConnectionObserver

	// done is closed when the hub stops.
	done     chan struct{}
	doneOnce sync.Once

	running   bool
	runningMu sync.RWMutex
}

// userMessage is a message addressed to every connection of one user.
type userMessage struct {
	userKey string
	message []byte
}

// HubOption configures the Hub.
type HubOption func(*Hub)

// WithHubLogger sets the logger for the hub.
func WithHubLogger(logger *slog.Logger) HubOption {
	return func(h *Hub) {
		h.logger = logger
	}
}

// WithConnectionObserver sets an observer for client connects and disconnects.
func WithConnectionObserver(observer ConnectionObserver) HubOption {
	return func(h *Hub) {
		h.observer = observer
	}
}

// NewHub creates a new Hub with the given options.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		clients:     make(map[*Client]bool),
		userClients: make(map[string]map[*Client]bool),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		broadcast:   make(chan *userMessage, defaultBroadcastBufferSize),
		logger:      slog.Default(),
		done:        make(chan struct{}),
	}

	for _, opt := range opts {
		opt(h)
	}

	return h
}

// Run starts the hub's main event loop.
// It should be run as a goroutine.
func (h *Hub) Run(ctx context.Context) {
	h.runningMu.Lock()
	if h.running {
		h.runningMu.Unlock()
		return
	}
	h.running = true
	h.runningMu.Unlock()

	h.logger.InfoContext(ctx, "websocket hub started")

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return

		case <-h.done:
			h.shutdown()
			return

		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

// Stop signals the hub to stop.
func (h *Hub) Stop() {
	h.doneOnce.Do(func() { close(h.done) })
}

// shutdown closes every connection. Clients unregistering afterwards find the hub stopped.
func (h *Hub) shutdown() {
	h.doneOnce.Do(func() { close(h.done) })

	h.runningMu.Lock()
	h.running = false
	h.runningMu.Unlock()

	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		client.Close()
		if h.observer != nil {
			h.observer.ClientDisconnected()
		}
	}

	h.clients = make(map[*Client]bool)
	h.userClients = make(map[string]map[*Client]bool)

	h.logger.Info("websocket hub stopped")
}

// Register registers a new client with the hub. A stopped hub closes the client instead.
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		client.Close()
	}
}

// Unregister unregisters a client from the hub.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
		client.Close()
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[client] = true

	if h.userClients[client.userKey] == nil {
		h.userClients[client.userKey] = make(map[*Client]bool)
	}
	h.userClients[client.userKey][client] = true

	if h.observer != nil {
		h.observer.ClientConnected()
	}

	h.logger.Debug("client registered",
		slog.String("user_key", client.userKey),
		slog.Int("total_clients", len(h.clients)),
	)
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; !ok {
		return
	}

	if userClients, ok := h.userClients[client.userKey]; ok {
		delete(userClients, client)
		if len(userClients) == 0 {
			delete(h.userClients, client.userKey)
		}
	}

	delete(h.clients, client)
	client.Close()

	if h.observer != nil {
		h.observer.ClientDisconnected()
	}

	h.logger.Debug("client unregistered",
		slog.String("user_key", client.userKey),
		slog.Int("total_clients", len(h.clients)),
	)
}

// SendToUser queues a message for all connections of a user.
// It blocks while the queue is full and returns false once the hub has stopped.
func (h *Hub) SendToUser(userKey string, message []byte) bool {
	select {
	case <-h.done:
		return false
	default:
	}

	select {
	case h.broadcast <- &userMessage{userKey: userKey, message: message}:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) deliver(msg *userMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.userClients[msg.userKey] {
		client.Send(msg.message)
	}
}

// ClientCount returns the total number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// UserCount returns the number of users with at least one connection.
func (h *Hub) UserCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.userClients)
}

// UserConnectionCount returns the number of connections for a specific user.
func (h *Hub) UserConnectionCount(userKey string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.userClients[userKey])
}

// IsRunning returns whether the hub is currently running.
func (h *Hub) IsRunning() bool {
	h.runningMu.RLock()
	defer h.runningMu.RUnlock()
	return h.running
}
