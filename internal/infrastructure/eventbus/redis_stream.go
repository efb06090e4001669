// Package eventbus delivers per-user notification change events.
package eventbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"

	appnotification "github.com/lllypuk/notifysync/internal/application/notification"
	"github.com/lllypuk/notifysync/internal/domain/notification"
)

// Default stream configuration constants.
const (
	defaultChannelPrefix    = "notifysync:"
	defaultReconnectInitial = 200 * time.Millisecond
	defaultReconnectMax     = 10 * time.Second
)

// ReconnectConfig configures the wait between receive attempts after a connection error.
type ReconnectConfig struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultReconnectConfig returns the default reconnect configuration.
func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{
		InitialBackoff: defaultReconnectInitial,
		MaxBackoff:     defaultReconnectMax,
	}
}

// PublishObserver is notified about every publish attempt.
type PublishObserver interface {
	EventPublished(kind notification.ChangeKind, err error)
}

// RedisChangeStream implements the change stream over Redis Pub/Sub, one channel per user.
type RedisChangeStream struct {
	client        *redis.Client
	logger        *slog.Logger
	channelPrefix string
	reconnect     ReconnectConfig
	observer      PublishObserver
}

// Option configures a RedisChangeStream.
type Option func(*RedisChangeStream)

// WithLogger sets the logger for the stream.
func WithLogger(logger *slog.Logger) Option {
	return func(s *RedisChangeStream) {
		s.logger = logger
	}
}

// WithChannelPrefix sets a prefix for Redis channel names.
func WithChannelPrefix(prefix string) Option {
	return func(s *RedisChangeStream) {
		s.channelPrefix = prefix
	}
}

// WithReconnectConfig sets the reconnect backoff.
func WithReconnectConfig(config ReconnectConfig) Option {
	return func(s *RedisChangeStream) {
		s.reconnect = config
	}
}

// WithPublishObserver sets an observer for publish attempts.
func WithPublishObserver(observer PublishObserver) Option {
	return func(s *RedisChangeStream) {
		s.observer = observer
	}
}

// NewRedisChangeStream creates a new Redis-based change stream.
func NewRedisChangeStream(client *redis.Client, opts ...Option) *RedisChangeStream {
	s := &RedisChangeStream{
		client:        client,
		logger:        slog.Default(),
		channelPrefix: defaultChannelPrefix,
		reconnect:     DefaultReconnectConfig(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Publish publishes a change event to the user's channel.
func (s *RedisChangeStream) Publish(ctx context.Context, userKey string, ev notification.ChangeEvent) error {
	err := s.publish(ctx, userKey, ev)
	if s.observer != nil {
		s.observer.EventPublished(ev.Kind, err)
	}
	return err
}

func (s *RedisChangeStream) publish(ctx context.Context, userKey string, ev notification.ChangeEvent) error {
	if userKey == "" {
		return errors.New("user key cannot be empty")
	}

	data, err := encodeEvent(userKey, ev)
	if err != nil {
		return err
	}

	channel := s.channelName(userKey)
	if publishErr := s.client.Publish(ctx, channel, data).Err(); publishErr != nil {
		return fmt.Errorf("failed to publish change event to Redis: %w", publishErr)
	}

	s.logger.DebugContext(ctx, "change event published",
		slog.String("event_id", ev.ID),
		slog.String("kind", string(ev.Kind)),
		slog.String("notification_id", ev.Notification.ID()),
		slog.String("channel", channel),
	)
	return nil
}

// Subscribe listens on the user's channel until the subscription is closed.
// Handler callbacks run on a single goroutine in delivery order.
func (s *RedisChangeStream) Subscribe(
	ctx context.Context,
	userKey string,
	handler notification.StreamHandler,
) (appnotification.Subscription, error) {
	if userKey == "" {
		return nil, errors.New("user key cannot be empty")
	}
	if handler.OnEvent == nil {
		return nil, errors.New("event handler cannot be nil")
	}

	channel := s.channelName(userKey)
	pubsub := s.client.Subscribe(ctx, channel)

	// Wait for subscription confirmation
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to channel: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sub := &redisSubscription{
		pubsub: pubsub,
		cancel: cancel,
	}

	sub.wg.Add(1)
	go s.receive(loopCtx, sub, channel, handler)

	s.logger.DebugContext(ctx, "change stream subscribed", slog.String("channel", channel))
	return sub, nil
}

// receive reads the channel. go-redis resubscribes on its own after a broken
// connection; the subscribe confirmation that follows marks the stream live again.
func (s *RedisChangeStream) receive(
	ctx context.Context,
	sub *redisSubscription,
	channel string,
	handler notification.StreamHandler,
) {
	defer sub.wg.Done()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.reconnect.InitialBackoff
	b.MaxInterval = s.reconnect.MaxBackoff
	b.MaxElapsedTime = 0

	degraded := false
	setStatus := func(status notification.StreamStatus, err error) {
		if handler.OnStatus != nil {
			handler.OnStatus(status, err)
		}
	}

	for {
		msg, err := sub.pubsub.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, redis.ErrClosed) {
				return
			}
			if !degraded {
				degraded = true
				s.logger.WarnContext(ctx, "change stream receive failed",
					slog.String("channel", channel),
					slog.String("error", err.Error()),
				)
				setStatus(notification.StreamDegraded, err)
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(b.NextBackOff()):
			}
			continue
		}

		switch m := msg.(type) {
		case *redis.Subscription:
			if degraded {
				degraded = false
				b.Reset()
				s.logger.InfoContext(ctx, "change stream recovered", slog.String("channel", channel))
				setStatus(notification.StreamLive, nil)
			}
		case *redis.Message:
			ev, decodeErr := decodeEvent([]byte(m.Payload))
			if decodeErr != nil {
				s.logger.ErrorContext(ctx, "failed to decode change event",
					slog.String("channel", m.Channel),
					slog.String("error", decodeErr.Error()),
				)
				continue
			}
			if ctx.Err() != nil {
				return
			}
			handler.OnEvent(ev)
		}
	}
}

// channelName returns the Redis channel name of a user.
func (s *RedisChangeStream) channelName(userKey string) string {
	return s.channelPrefix + "notifications:" + userKey
}

type redisSubscription struct {
	pubsub *redis.PubSub
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
	err    error
}

// Close stops the receive loop and waits for it. It must not be called from a handler callback.
func (s *redisSubscription) Close() error {
	s.once.Do(func() {
		s.cancel()
		if err := s.pubsub.Close(); err != nil {
			s.err = fmt.Errorf("failed to close pubsub: %w", err)
		}
		s.wg.Wait()
	})
	return s.err
}

var (
	_ appnotification.EventStream = (*RedisChangeStream)(nil)
	_ appnotification.Publisher   = (*RedisChangeStream)(nil)
)
