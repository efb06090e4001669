package notification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/lllypuk/notifysync/internal/domain/errs"
	"github.com/lllypuk/notifysync/internal/domain/notification"
)

var errSubscribeFailed = errors.New("failed to subscribe to change stream")

// SignIn starts a session for userKey, loads the feed and subscribes to the change stream.
// Signing in again as the same user reuses the session; another user replaces it.
// Only a failed load fails the sign-in. A stream that cannot be opened leaves the session
// degraded and is retried in the background.
func (e *Engine) SignIn(ctx context.Context, userKey string) error {
	if userKey == "" {
		return fmt.Errorf("user key is required: %w", errs.ErrInvalidInput)
	}

	var (
		tag    SessionTag
		loaded bool
		oldSub Subscription
	)
	if err := e.do(ctx, func() {
		if e.cur.store != nil && e.cur.userKey == userKey {
			tag, loaded = e.cur.tag, e.cur.loaded
			return
		}
		oldSub = e.endSession()
		e.cur = session{
			tag:     newSessionTag(),
			userKey: userKey,
			store:   NewStore(),
			pending: make(map[string]struct{}),
			conn:    ConnectionDisconnected,
		}
		tag = e.cur.tag
		e.metrics.SessionStarted()
		e.publish()
	}); err != nil {
		return err
	}
	e.closeSubscription(oldSub)

	e.logger.InfoContext(ctx, "session started",
		slog.String("user_key", userKey),
		slog.String("session", tag.String()),
	)

	if !loaded {
		if err := e.loadWithRetry(ctx, tag, userKey); err != nil {
			return err
		}
	}

	return e.subscribe(ctx, tag, userKey)
}

// SignOut ends the session. Completions still in flight are dropped when they arrive.
func (e *Engine) SignOut(ctx context.Context) error {
	var sub Subscription
	if err := e.do(ctx, func() {
		sub = e.endSession()
	}); err != nil {
		return err
	}
	e.closeSubscription(sub)
	return nil
}

// Background closes the change stream while keeping the loaded state.
func (e *Engine) Background(ctx context.Context) error {
	var (
		sub    Subscription
		active bool
	)
	if err := e.do(ctx, func() {
		if e.cur.store == nil {
			return
		}
		active = true
		e.cur.background = true
		sub = e.cur.sub
		e.cur.sub = nil
		e.cur.conn = ConnectionPaused
		e.publish()
	}); err != nil {
		return err
	}
	if !active {
		return ErrNotSignedIn
	}
	e.closeSubscription(sub)
	return nil
}

// Foreground reloads the state missed while in background and resubscribes.
func (e *Engine) Foreground(ctx context.Context) error {
	var (
		tag     SessionTag
		userKey string
		active  bool
	)
	if err := e.do(ctx, func() {
		if e.cur.store == nil {
			return
		}
		active = true
		e.cur.background = false
		tag, userKey = e.cur.tag, e.cur.userKey
	}); err != nil {
		return err
	}
	if !active {
		return ErrNotSignedIn
	}

	loadErr := e.load(ctx, tag, userKey)
	subErr := e.subscribe(ctx, tag, userKey)
	return errors.Join(loadErr, subErr)
}

// resubscribe retries opening the stream with backoff until it succeeds, the session
// ends or goes to background, or the retry policy gives up.
func (e *Engine) resubscribe(tag SessionTag, userKey string) {
	ctx, cancel := e.lifetime()
	defer cancel()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.config.StreamRetry.InitialInterval
	b.MaxInterval = e.config.StreamRetry.MaxInterval
	b.MaxElapsedTime = e.config.StreamRetry.MaxElapsedTime

	attempt := 0
	operation := func() error {
		attempt++
		err := e.trySubscribe(ctx, tag, userKey)
		if err != nil && !errors.Is(err, errSubscribeFailed) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		e.logger.WarnContext(ctx, "change stream resubscribe failed, retrying",
			slog.String("user_key", userKey),
			slog.Int("attempt", attempt),
			slog.Duration("wait", wait),
			slog.String("error", err.Error()),
		)
	}

	// the caller has just failed, so wait before the first attempt
	select {
	case <-ctx.Done():
	case <-time.After(b.NextBackOff()):
		if err := backoff.RetryNotify(operation, backoff.WithContext(b, ctx), notify); err != nil &&
			errors.Is(err, errSubscribeFailed) {
			e.logger.ErrorContext(ctx, "giving up on change stream until the next refresh",
				slog.String("user_key", userKey),
				slog.String("error", err.Error()),
			)
		}
	}

	_ = e.do(context.WithoutCancel(ctx), func() {
		if e.cur.store != nil && e.cur.tag == tag {
			e.cur.resubscribing = false
		}
	})
}

// needsResubscribe reports whether the session has no stream and nothing is opening one.
// Runs on the loop.
func (e *Engine) needsResubscribe() bool {
	cur := &e.cur
	return cur.store != nil && !cur.background && cur.sub == nil &&
		!cur.subscribing && !cur.resubscribing && cur.conn == ConnectionDegraded
}

// lifetime returns a context that ends when the engine stops.
func (e *Engine) lifetime() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-e.done:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// loadWithRetry performs the sign-in load with exponential backoff.
func (e *Engine) loadWithRetry(ctx context.Context, tag SessionTag, userKey string) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.config.LoadRetry.InitialInterval
	b.MaxInterval = e.config.LoadRetry.MaxInterval
	b.MaxElapsedTime = e.config.LoadRetry.MaxElapsedTime

	attempt := 0
	operation := func() error {
		attempt++
		err := e.load(ctx, tag, userKey)
		if errors.Is(err, ErrStaleSession) || errors.Is(err, ErrEngineStopped) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		e.logger.WarnContext(ctx, "initial load failed, retrying",
			slog.String("user_key", userKey),
			slog.Int("attempt", attempt),
			slog.Duration("wait", wait),
			slog.String("error", err.Error()),
		)
	}

	return backoff.RetryNotify(operation, backoff.WithContext(b, ctx), notify)
}

// subscribe opens the change stream for the session unless it is open, opening or paused.
// A stream failure is not returned: the session is published as degraded and a background
// resubscribe takes over. Only engine errors such as a stale session are reported.
func (e *Engine) subscribe(ctx context.Context, tag SessionTag, userKey string) error {
	err := e.trySubscribe(ctx, tag, userKey)
	if !errors.Is(err, errSubscribeFailed) {
		return err
	}

	e.logger.WarnContext(ctx, "change stream unavailable, resubscribing in background",
		slog.String("user_key", userKey),
		slog.String("error", err.Error()),
	)
	start := false
	if doErr := e.do(context.WithoutCancel(ctx), func() {
		if e.cur.tag == tag && e.needsResubscribe() {
			e.cur.resubscribing = true
			start = true
		}
	}); doErr != nil {
		return doErr
	}
	if start {
		go e.resubscribe(tag, userKey)
	}
	return nil
}

// trySubscribe makes one subscribe attempt. Stream failures wrap errSubscribeFailed.
func (e *Engine) trySubscribe(ctx context.Context, tag SessionTag, userKey string) error {
	proceed := false
	if err := e.do(ctx, func() {
		cur := &e.cur
		if cur.store == nil || cur.tag != tag || cur.sub != nil || cur.subscribing || cur.background {
			return
		}
		cur.subscribing = true
		proceed = true
	}); err != nil {
		return err
	}
	if !proceed {
		return nil
	}

	handler := notification.StreamHandler{
		OnEvent: func(ev notification.ChangeEvent) {
			if _, err := e.ApplyEvent(context.Background(), tag, ev); err != nil &&
				!errors.Is(err, ErrEngineStopped) {
				e.logger.Warn("failed to apply change event", slog.String("error", err.Error()))
			}
		},
		OnStatus: func(status notification.StreamStatus, err error) {
			e.streamStatus(tag, status, err)
		},
	}

	sub, subErr := e.stream.Subscribe(ctx, userKey, handler)

	orphan := false
	if err := e.do(context.WithoutCancel(ctx), func() {
		cur := &e.cur
		if cur.store == nil || cur.tag != tag {
			orphan = true
			return
		}
		cur.subscribing = false
		if subErr != nil {
			if cur.conn != ConnectionDegraded && !cur.background {
				cur.conn = ConnectionDegraded
				e.publish()
			}
			return
		}
		if cur.background {
			orphan = true
			return
		}
		prev := cur.conn
		cur.sub = sub
		cur.conn = ConnectionLive
		// events published while the stream was down were never delivered
		if prev == ConnectionDegraded {
			e.requestRefresh(tag)
		}
		e.publish()
	}); err != nil {
		if sub != nil {
			_ = sub.Close()
		}
		return err
	}

	if subErr != nil {
		return fmt.Errorf("%w: %w", errSubscribeFailed, subErr)
	}
	if orphan {
		_ = sub.Close()
		return ErrStaleSession
	}
	return nil
}

// streamStatus handles connectivity changes reported by the subscription.
func (e *Engine) streamStatus(tag SessionTag, status notification.StreamStatus, cause error) {
	err := e.do(context.Background(), func() {
		cur := &e.cur
		if cur.store == nil || cur.tag != tag || cur.background {
			return
		}
		prev := cur.conn
		switch status {
		case notification.StreamLive:
			cur.conn = ConnectionLive
			// events may have been missed while the stream was down
			if prev == ConnectionDegraded {
				e.requestRefresh(tag)
			}
		case notification.StreamDegraded:
			cur.conn = ConnectionDegraded
		default:
			return
		}
		if prev != cur.conn {
			e.publish()
		}
	})
	if err != nil {
		return
	}

	if status == notification.StreamDegraded {
		attrs := []any{slog.String("session", tag.String())}
		if cause != nil {
			attrs = append(attrs, slog.String("error", cause.Error()))
		}
		e.logger.Warn("change stream degraded", attrs...)
	}
}

// endSession clears the session and returns its subscription for closing off the loop.
// Runs on the loop.
func (e *Engine) endSession() Subscription {
	if e.cur.store == nil {
		return nil
	}
	sub := e.cur.sub
	userKey := e.cur.userKey
	e.cur = session{conn: ConnectionDisconnected}
	e.metrics.SessionEnded()
	e.publish()
	e.logger.Info("session ended", slog.String("user_key", userKey))
	return sub
}

func (e *Engine) closeSubscription(sub Subscription) {
	if sub == nil {
		return
	}
	if err := sub.Close(); err != nil {
		e.logger.Warn("failed to close change stream subscription", slog.String("error", err.Error()))
	}
}
