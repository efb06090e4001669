package websocket

import (
	"log/slog"
	"sync"
	"sync/atomic"

	appnotification "github.com/lllypuk/notifysync/internal/application/notification"
)

// Broadcaster pushes engine snapshots to every connection of a user.
// Engine listeners only record the latest snapshot; a goroutine per user encodes and
// delivers it, so a slow hub never stalls an engine loop and the last state always lands.
type Broadcaster struct {
	hub    *Hub
	logger *slog.Logger

	mu       sync.Mutex
	attached map[string]*attachment
}

type attachment struct {
	refs     int
	source   SnapshotSource
	detach   func()
	latest   atomic.Pointer[appnotification.Snapshot]
	notify   chan struct{}
	stop     chan struct{}
	finished chan struct{}
}

// BroadcasterOption configures a Broadcaster.
type BroadcasterOption func(*Broadcaster)

// WithBroadcasterLogger sets the logger for the broadcaster.
func WithBroadcasterLogger(logger *slog.Logger) BroadcasterOption {
	return func(b *Broadcaster) {
		b.logger = logger
	}
}

// NewBroadcaster creates a new Broadcaster.
func NewBroadcaster(hub *Hub, opts ...BroadcasterOption) *Broadcaster {
	b := &Broadcaster{
		hub:      hub,
		logger:   slog.Default(),
		attached: make(map[string]*attachment),
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// Attach starts forwarding source's snapshots to userKey's connections.
// Calls are reference counted; each Attach needs a matching Detach.
func (b *Broadcaster) Attach(userKey string, source SnapshotSource) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if a, ok := b.attached[userKey]; ok {
		a.refs++
		if a.source == source {
			return
		}
		// A new engine replaced the old one for this user.
		a.detach()
		a.source = source
		a.detach = source.OnChange(a.listener)
		return
	}

	a := &attachment{
		refs:     1,
		source:   source,
		notify:   make(chan struct{}, 1),
		stop:     make(chan struct{}),
		finished: make(chan struct{}),
	}
	a.detach = source.OnChange(a.listener)
	b.attached[userKey] = a

	go b.forward(userKey, a)

	b.logger.Debug("snapshot broadcaster attached", slog.String("user_key", userKey))
}

// Detach drops one reference; the last one stops forwarding.
func (b *Broadcaster) Detach(userKey string) {
	b.mu.Lock()
	a, ok := b.attached[userKey]
	if !ok {
		b.mu.Unlock()
		return
	}
	a.refs--
	if a.refs > 0 {
		b.mu.Unlock()
		return
	}
	delete(b.attached, userKey)
	b.mu.Unlock()

	a.close()
	b.logger.Debug("snapshot broadcaster detached", slog.String("user_key", userKey))
}

// Close stops forwarding for every user.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	attached := b.attached
	b.attached = make(map[string]*attachment)
	b.mu.Unlock()

	for _, a := range attached {
		a.close()
	}
}

// AttachedUsers returns the number of users with forwarding enabled.
func (b *Broadcaster) AttachedUsers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.attached)
}

func (b *Broadcaster) forward(userKey string, a *attachment) {
	defer close(a.finished)

	for {
		select {
		case <-a.stop:
			return
		case <-a.notify:
		}

		snapshot := a.latest.Load()
		if snapshot == nil {
			continue
		}
		data, err := EncodeSnapshot(*snapshot)
		if err != nil {
			b.logger.Error("failed to encode snapshot",
				slog.String("user_key", userKey),
				slog.String("error", err.Error()),
			)
			continue
		}
		if !b.hub.SendToUser(userKey, data) {
			return
		}
	}
}

func (a *attachment) listener(s appnotification.Snapshot) {
	a.latest.Store(&s)
	select {
	case a.notify <- struct{}{}:
	default:
	}
}

func (a *attachment) close() {
	a.detach()
	close(a.stop)
	<-a.finished
}
