package notification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lllypuk/notifysync/internal/domain/notification"
)

// Default engine configuration constants.
const (
	defaultRefreshInterval     = 5 * time.Minute
	defaultWriteTimeout        = 10 * time.Second
	defaultOpBuffer            = 64
	defaultLoadInitialInterval = 500 * time.Millisecond
	defaultLoadMaxInterval     = 30 * time.Second
	defaultLoadMaxElapsed      = 2 * time.Minute
	defaultStreamRetryInitial  = time.Second
	defaultStreamRetryMax      = time.Minute
)

// RetryConfig is an exponential backoff policy.
type RetryConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// MaxElapsedTime of zero retries until the context ends.
	MaxElapsedTime time.Duration
}

// EngineConfig holds engine configuration.
type EngineConfig struct {
	// RefreshInterval is the period of background full reloads. Zero disables them.
	RefreshInterval time.Duration

	// WriteTimeout bounds each confirming write.
	WriteTimeout time.Duration

	// OpBuffer is the capacity of the apply queue.
	OpBuffer int

	// LoadRetry controls retries of the load performed at sign-in.
	LoadRetry RetryConfig

	// StreamRetry controls resubscribing after a failed subscribe. With MaxElapsedTime
	// of zero it keeps trying for as long as the session lasts.
	StreamRetry RetryConfig
}

// DefaultEngineConfig returns sensible default configuration.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		RefreshInterval: defaultRefreshInterval,
		WriteTimeout:    defaultWriteTimeout,
		OpBuffer:        defaultOpBuffer,
		LoadRetry: RetryConfig{
			InitialInterval: defaultLoadInitialInterval,
			MaxInterval:     defaultLoadMaxInterval,
			MaxElapsedTime:  defaultLoadMaxElapsed,
		},
		StreamRetry: RetryConfig{
			InitialInterval: defaultStreamRetryInitial,
			MaxInterval:     defaultStreamRetryMax,
		},
	}
}

// session is the state of the signed-in user. Only the engine loop touches it.
type session struct {
	tag         SessionTag
	userKey     string
	store       *Store
	loaded      bool
	pending     map[string]struct{}
	sub         Subscription
	subscribing bool
	background  bool
	conn        ConnectionState

	// resubscribing is set while a background resubscribe loop owns the session.
	resubscribing bool
}

// Engine keeps one user's notification feed and unread counter in sync with the server.
//
// Every store mutation runs as a closure on the goroutine executing Run, so an event
// application or an optimistic mutation always completes before the next one starts.
// Network calls happen on the caller's goroutine between loop operations.
type Engine struct {
	client  SyncClient
	stream  EventStream
	logger  *slog.Logger
	metrics Metrics
	config  EngineConfig

	ops        chan func()
	refreshReq chan SessionTag
	done       chan struct{}

	running   bool
	runningMu sync.Mutex

	// refreshing guards against overlapping background reloads.
	refreshing atomic.Bool

	snapshot atomic.Pointer[Snapshot]

	listeners    map[uint64]Listener
	nextListener uint64
	listenersMu  sync.Mutex

	// cur is owned by the loop goroutine.
	cur session
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithEngineLogger sets the logger for the engine.
func WithEngineLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithEngineMetrics sets the metrics sink for the engine.
func WithEngineMetrics(metrics Metrics) EngineOption {
	return func(e *Engine) {
		e.metrics = metrics
	}
}

// WithEngineConfig sets the engine configuration.
func WithEngineConfig(config EngineConfig) EngineOption {
	return func(e *Engine) {
		e.config = config
	}
}

// NewEngine creates an engine. Run must be started before any other method is used.
func NewEngine(client SyncClient, stream EventStream, opts ...EngineOption) *Engine {
	e := &Engine{
		client:     client,
		stream:     stream,
		logger:     slog.Default(),
		metrics:    noopMetrics{},
		config:     DefaultEngineConfig(),
		refreshReq: make(chan SessionTag, 1),
		done:       make(chan struct{}),
		listeners:  make(map[uint64]Listener),
		cur:        session{conn: ConnectionDisconnected},
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.config.OpBuffer <= 0 {
		e.config.OpBuffer = defaultOpBuffer
	}
	if e.config.StreamRetry.InitialInterval <= 0 {
		e.config.StreamRetry.InitialInterval = defaultStreamRetryInitial
	}
	if e.config.StreamRetry.MaxInterval < e.config.StreamRetry.InitialInterval {
		e.config.StreamRetry.MaxInterval = max(defaultStreamRetryMax, e.config.StreamRetry.InitialInterval)
	}
	e.ops = make(chan func(), e.config.OpBuffer)
	e.snapshot.Store(&Snapshot{Items: []notification.Notification{}, Connection: ConnectionDisconnected})

	return e
}

// Run executes the apply loop until ctx is cancelled. It ends the active session on exit.
func (e *Engine) Run(ctx context.Context) error {
	e.runningMu.Lock()
	if e.running {
		e.runningMu.Unlock()
		return errors.New("sync engine is already running")
	}
	e.running = true
	e.runningMu.Unlock()

	var tick <-chan time.Time
	if e.config.RefreshInterval > 0 {
		ticker := time.NewTicker(e.config.RefreshInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			close(e.done)
			if sub := e.endSession(); sub != nil {
				e.closeSubscription(sub)
			}
			e.logger.DebugContext(ctx, "sync engine stopped")
			return ctx.Err()

		case op := <-e.ops:
			op()

		case <-tick:
			if e.cur.store != nil && !e.cur.background {
				e.startBackgroundLoad(ctx, e.cur.tag, e.cur.userKey)
				// a resubscribe loop that gave up is restarted on the next tick
				if e.needsResubscribe() {
					e.cur.resubscribing = true
					go e.resubscribe(e.cur.tag, e.cur.userKey)
				}
			}

		case tag := <-e.refreshReq:
			if e.cur.store != nil && e.cur.tag == tag {
				e.startBackgroundLoad(ctx, tag, e.cur.userKey)
			}
		}
	}
}

// Snapshot returns the latest published state. Safe to call from any goroutine.
func (e *Engine) Snapshot() Snapshot {
	return *e.snapshot.Load()
}

// OnChange registers a listener and returns a func that removes it.
func (e *Engine) OnChange(listener Listener) func() {
	e.listenersMu.Lock()
	defer e.listenersMu.Unlock()

	id := e.nextListener
	e.nextListener++
	e.listeners[id] = listener

	return func() {
		e.listenersMu.Lock()
		defer e.listenersMu.Unlock()
		delete(e.listeners, id)
	}
}

// ApplyEvent applies a change event issued under tag. Events for another session are dropped.
func (e *Engine) ApplyEvent(ctx context.Context, tag SessionTag, ev notification.ChangeEvent) (Outcome, error) {
	var outcome Outcome
	if err := e.do(ctx, func() {
		outcome = e.applyEvent(tag, ev)
	}); err != nil {
		return OutcomeIgnored, err
	}

	e.metrics.EventApplied(ev.Kind, outcome)
	e.logger.DebugContext(ctx, "change event handled",
		slog.String("event_id", ev.ID),
		slog.String("kind", string(ev.Kind)),
		slog.String("notification_id", ev.Notification.ID()),
		slog.String("outcome", string(outcome)),
	)
	return outcome, nil
}

// Refresh reloads the feed and the unread count from the server.
func (e *Engine) Refresh(ctx context.Context) error {
	tag, userKey, err := e.activeSession(ctx)
	if err != nil {
		return err
	}
	return e.load(ctx, tag, userKey)
}

// applyEvent runs on the loop.
func (e *Engine) applyEvent(tag SessionTag, ev notification.ChangeEvent) Outcome {
	cur := &e.cur
	if cur.store == nil || cur.tag != tag {
		return OutcomeStale
	}

	n := ev.Notification
	if !ev.Kind.IsValid() || n.ID() == "" {
		return OutcomeIgnored
	}
	if n.Recipient() != "" && n.Recipient() != cur.userKey {
		e.logger.Warn("change event addressed to another user",
			slog.String("notification_id", n.ID()),
			slog.String("user_key", cur.userKey),
		)
		return OutcomeIgnored
	}

	prev, existed := cur.store.Get(n.ID())

	if ev.Kind == notification.ChangeInsert {
		// at-least-once delivery: a redelivered creation must not count twice
		if existed {
			return OutcomeDuplicate
		}
		cur.store.UpsertFromEvent(n)
		cur.store.IncrementUnread()
		e.publish()
		return OutcomeApplied
	}

	outcome := OutcomeUnchanged
	if existed {
		switch {
		case !prev.IsRead() && n.IsRead():
			cur.store.DecrementUnread()
			outcome = OutcomeApplied
		case prev.IsRead() && !n.IsRead():
			cur.store.IncrementUnread()
			outcome = OutcomeApplied
		}
	}
	cur.store.UpsertFromEvent(n)
	e.publish()
	return outcome
}

// load fetches the feed and the count concurrently and replaces the store if the session
// is still the one the load was issued for.
func (e *Engine) load(ctx context.Context, tag SessionTag, userKey string) error {
	start := time.Now()

	var (
		items []notification.Notification
		count int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		items, err = e.client.FetchNotifications(gctx, userKey)
		if err != nil {
			return fmt.Errorf("failed to fetch notifications: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		count, err = e.client.FetchUnreadCount(gctx, userKey)
		if err != nil {
			return fmt.Errorf("failed to fetch unread count: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		e.metrics.LoadCompleted(false, time.Since(start))
		return fmt.Errorf("%w: %w", ErrLoadFailed, err)
	}

	stale := false
	if err := e.do(context.WithoutCancel(ctx), func() {
		if e.cur.store == nil || e.cur.tag != tag {
			stale = true
			return
		}
		e.cur.store.ReplaceAll(items, count)
		e.cur.loaded = true
		clear(e.cur.pending)
		e.publish()
	}); err != nil {
		return err
	}
	if stale {
		return ErrStaleSession
	}

	e.metrics.LoadCompleted(true, time.Since(start))
	e.logger.DebugContext(ctx, "notifications loaded",
		slog.String("user_key", userKey),
		slog.Int("items", len(items)),
		slog.Int("unread_count", count),
		slog.Duration("took", time.Since(start)),
	)
	return nil
}

// startBackgroundLoad runs a load off the loop unless one is already in flight.
func (e *Engine) startBackgroundLoad(ctx context.Context, tag SessionTag, userKey string) {
	if !e.refreshing.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer e.refreshing.Store(false)
		if err := e.load(ctx, tag, userKey); err != nil && !errors.Is(err, ErrStaleSession) &&
			!errors.Is(err, ErrEngineStopped) && !errors.Is(err, context.Canceled) {
			e.logger.WarnContext(ctx, "background refresh failed",
				slog.String("user_key", userKey),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// requestRefresh asks the loop to reload the session identified by tag.
func (e *Engine) requestRefresh(tag SessionTag) {
	select {
	case e.refreshReq <- tag:
	default:
	}
}

// activeSession returns the tag and user of the signed-in session.
func (e *Engine) activeSession(ctx context.Context) (SessionTag, string, error) {
	var (
		tag     SessionTag
		userKey string
		active  bool
	)
	if err := e.do(ctx, func() {
		if e.cur.store == nil {
			return
		}
		tag, userKey, active = e.cur.tag, e.cur.userKey, true
	}); err != nil {
		return "", "", err
	}
	if !active {
		return "", "", ErrNotSignedIn
	}
	return tag, userKey, nil
}

// do runs fn on the loop and waits for it to finish.
func (e *Engine) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	op := func() {
		defer close(finished)
		fn()
	}

	select {
	case e.ops <- op:
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return ErrEngineStopped
	}

	select {
	case <-finished:
		return nil
	case <-e.done:
		select {
		case <-finished:
			return nil
		default:
			return ErrEngineStopped
		}
	}
}

// publish stores a fresh snapshot and notifies listeners. Runs on the loop.
func (e *Engine) publish() {
	snap := Snapshot{
		Session:    e.cur.tag,
		UserKey:    e.cur.userKey,
		Items:      []notification.Notification{},
		Loaded:     e.cur.loaded,
		Connection: e.cur.conn,
		Pending:    len(e.cur.pending),
	}
	if e.cur.store != nil {
		s := e.cur.store.Snapshot()
		snap.Items = s.Items
		snap.UnreadCount = s.UnreadCount
	}
	e.snapshot.Store(&snap)

	e.listenersMu.Lock()
	listeners := slices.Collect(maps.Values(e.listeners))
	e.listenersMu.Unlock()

	for _, l := range listeners {
		l(snap)
	}
}
