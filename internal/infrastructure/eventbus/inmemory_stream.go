package eventbus

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	appnotification "github.com/lllypuk/notifysync/internal/application/notification"
	"github.com/lllypuk/notifysync/internal/domain/notification"
)

const defaultMemoryBuffer = 256

// ErrSubscriberBehind is returned when a subscriber's buffer is full and an event was dropped.
var ErrSubscriberBehind = errors.New("subscriber buffer full, event dropped")

// InMemoryChangeStream is a process-local change stream for mock mode and tests.
// Disconnect and Reconnect simulate a broken transport: events published in between are lost.
type InMemoryChangeStream struct {
	mu           sync.Mutex
	subs         map[string]map[*memorySubscription]struct{}
	disconnected map[string]bool
	bufferSize   int
	logger       *slog.Logger
}

// NewInMemoryChangeStream creates an in-memory change stream.
func NewInMemoryChangeStream(logger *slog.Logger) *InMemoryChangeStream {
	if logger == nil {
		logger = slog.Default()
	}
	return &InMemoryChangeStream{
		subs:         make(map[string]map[*memorySubscription]struct{}),
		disconnected: make(map[string]bool),
		bufferSize:   defaultMemoryBuffer,
		logger:       logger,
	}
}

type delivery struct {
	event  *notification.ChangeEvent
	status notification.StreamStatus
	err    error
}

// Publish delivers ev to every subscription of userKey.
func (s *InMemoryChangeStream) Publish(_ context.Context, userKey string, ev notification.ChangeEvent) error {
	if userKey == "" {
		return errors.New("user key cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disconnected[userKey] {
		return nil
	}

	var dropped bool
	for sub := range s.subs[userKey] {
		if !sub.offer(delivery{event: &ev}) {
			dropped = true
		}
	}
	if dropped {
		s.logger.Warn("in-memory subscriber is behind", slog.String("user_key", userKey))
		return ErrSubscriberBehind
	}
	return nil
}

// Subscribe registers handler for userKey's events.
func (s *InMemoryChangeStream) Subscribe(
	_ context.Context,
	userKey string,
	handler notification.StreamHandler,
) (appnotification.Subscription, error) {
	if userKey == "" {
		return nil, errors.New("user key cannot be empty")
	}
	if handler.OnEvent == nil {
		return nil, errors.New("event handler cannot be nil")
	}

	sub := &memorySubscription{
		stream:  s,
		userKey: userKey,
		queue:   make(chan delivery, s.bufferSize),
		done:    make(chan struct{}),
	}

	s.mu.Lock()
	if s.subs[userKey] == nil {
		s.subs[userKey] = make(map[*memorySubscription]struct{})
	}
	s.subs[userKey][sub] = struct{}{}
	s.mu.Unlock()

	sub.wg.Add(1)
	go sub.run(handler)

	return sub, nil
}

// Disconnect reports the user's subscriptions as degraded and drops events until Reconnect.
func (s *InMemoryChangeStream) Disconnect(userKey string, cause error) {
	s.setConnected(userKey, false, delivery{status: notification.StreamDegraded, err: cause})
}

// Reconnect reports the user's subscriptions as live again.
func (s *InMemoryChangeStream) Reconnect(userKey string) {
	s.setConnected(userKey, true, delivery{status: notification.StreamLive})
}

// SubscriberCount returns the number of open subscriptions of userKey.
func (s *InMemoryChangeStream) SubscriberCount(userKey string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs[userKey])
}

func (s *InMemoryChangeStream) setConnected(userKey string, connected bool, d delivery) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if connected {
		delete(s.disconnected, userKey)
	} else {
		s.disconnected[userKey] = true
	}
	for sub := range s.subs[userKey] {
		sub.offer(d)
	}
}

func (s *InMemoryChangeStream) remove(sub *memorySubscription) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.subs[sub.userKey], sub)
	if len(s.subs[sub.userKey]) == 0 {
		delete(s.subs, sub.userKey)
	}
}

type memorySubscription struct {
	stream  *InMemoryChangeStream
	userKey string
	queue   chan delivery
	done    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
}

func (m *memorySubscription) offer(d delivery) bool {
	select {
	case m.queue <- d:
		return true
	default:
		return false
	}
}

func (m *memorySubscription) run(handler notification.StreamHandler) {
	defer m.wg.Done()
	for {
		select {
		case <-m.done:
			return
		case d := <-m.queue:
			select {
			case <-m.done:
				return
			default:
			}
			if d.event != nil {
				handler.OnEvent(*d.event)
			} else if handler.OnStatus != nil {
				handler.OnStatus(d.status, d.err)
			}
		}
	}
}

// Close stops delivery and waits for a callback in progress. It must not be called from a callback.
func (m *memorySubscription) Close() error {
	m.once.Do(func() {
		m.stream.remove(m)
		close(m.done)
		m.wg.Wait()
	})
	return nil
}

var (
	_ appnotification.EventStream = (*InMemoryChangeStream)(nil)
	_ appnotification.Publisher   = (*InMemoryChangeStream)(nil)
)
