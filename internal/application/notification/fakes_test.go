package notification_test

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	appnotification "github.com/lllypuk/notifysync/internal/application/notification"
	"github.com/lllypuk/notifysync/internal/domain/errs"
	"github.com/lllypuk/notifysync/internal/domain/notification"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

var errBoom = errors.New("boom")

var baseTime = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

// notif builds a stored notification created minutesAgo minutes before baseTime.
func notif(id, recipient string, read bool, minutesAgo int) notification.Notification {
	return notification.Reconstruct(
		id,
		recipient,
		notification.KindMessage,
		"Message "+id,
		"body "+id,
		nil,
		nil,
		read,
		baseTime.Add(-time.Duration(minutesAgo)*time.Minute),
	)
}

// fakeClient is an in-memory SyncClient.
type fakeClient struct {
	mu sync.Mutex

	items  map[string][]notification.Notification
	unread map[string]int

	fetchErr      error
	failFetches   int
	markReadErr   error
	markAllErr    error
	markReadGate  chan struct{}
	fetchGates    map[string]chan struct{}
	heldFetches   int
	fetchCalls    int
	markReadCalls int
	markAllCalls  int
	markedReadIDs []string
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		items:      make(map[string][]notification.Notification),
		unread:     make(map[string]int),
		fetchGates: make(map[string]chan struct{}),
	}
}

func (c *fakeClient) set(userKey string, unread int, items ...notification.Notification) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[userKey] = items
	c.unread[userKey] = unread
}

func (c *fakeClient) setMarkReadErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markReadErr = err
}

func (c *fakeClient) setMarkAllErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markAllErr = err
}

func (c *fakeClient) setFetchErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fetchErr = err
}

func (c *fakeClient) fetches() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fetchCalls
}

func (c *fakeClient) markReads() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.markReadCalls
}

func (c *fakeClient) markAlls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.markAllCalls
}

// holdFetches blocks FetchNotifications for userKey until the returned func is called.
func (c *fakeClient) holdFetches(userKey string) (release func()) {
	gate := make(chan struct{})
	c.mu.Lock()
	c.fetchGates[userKey] = gate
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.fetchGates, userKey)
		c.mu.Unlock()
		close(gate)
	}
}

// held returns the number of fetches waiting on a gate.
func (c *fakeClient) held() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.heldFetches
}

func (c *fakeClient) FetchNotifications(ctx context.Context, userKey string) ([]notification.Notification, error) {
	c.mu.Lock()
	gate := c.fetchGates[userKey]
	if gate != nil {
		c.heldFetches++
	}
	c.mu.Unlock()

	if gate != nil {
		defer func() {
			c.mu.Lock()
			c.heldFetches--
			c.mu.Unlock()
		}()
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.fetchCalls++
	if c.failFetches > 0 {
		c.failFetches--
		return nil, errBoom
	}
	if c.fetchErr != nil {
		return nil, c.fetchErr
	}
	return slices.Clone(c.items[userKey]), nil
}

func (c *fakeClient) FetchUnreadCount(_ context.Context, userKey string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fetchErr != nil {
		return 0, c.fetchErr
	}
	return c.unread[userKey], nil
}

func (c *fakeClient) MarkRead(ctx context.Context, _ string, notificationID string) error {
	c.mu.Lock()
	gate := c.markReadGate
	c.markReadCalls++
	c.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.markReadErr != nil {
		return c.markReadErr
	}
	c.markedReadIDs = append(c.markedReadIDs, notificationID)
	return nil
}

func (c *fakeClient) MarkAllRead(_ context.Context, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markAllCalls++
	return c.markAllErr
}

// fakeStream hands the test direct control over stream callbacks.
type fakeStream struct {
	mu sync.Mutex

	handlers     map[string]notification.StreamHandler
	subscribeErr error
	attempts     int
	subscribes   int
	closes       int
}

func newFakeStream() *fakeStream {
	return &fakeStream{handlers: make(map[string]notification.StreamHandler)}
}

func (s *fakeStream) Subscribe(
	_ context.Context,
	userKey string,
	handler notification.StreamHandler,
) (appnotification.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	if s.subscribeErr != nil {
		return nil, s.subscribeErr
	}
	s.subscribes++
	s.handlers[userKey] = handler
	return &fakeSubscription{stream: s, userKey: userKey}, nil
}

func (s *fakeStream) setSubscribeErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribeErr = err
}

func (s *fakeStream) subscribeAttempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

func (s *fakeStream) handler(userKey string) (notification.StreamHandler, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.handlers[userKey]
	return h, ok
}

// emit delivers ev synchronously, like a subscription's receive goroutine would.
func (s *fakeStream) emit(t *testing.T, userKey string, ev notification.ChangeEvent) {
	t.Helper()
	h, ok := s.handler(userKey)
	require.True(t, ok, "no subscription for %s", userKey)
	h.OnEvent(ev)
}

func (s *fakeStream) status(t *testing.T, userKey string, status notification.StreamStatus, err error) {
	t.Helper()
	h, ok := s.handler(userKey)
	require.True(t, ok, "no subscription for %s", userKey)
	h.OnStatus(status, err)
}

func (s *fakeStream) counts() (subscribes, closes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscribes, s.closes
}

type fakeSubscription struct {
	stream  *fakeStream
	userKey string
	once    sync.Once
}

func (f *fakeSubscription) Close() error {
	f.once.Do(func() {
		f.stream.mu.Lock()
		defer f.stream.mu.Unlock()
		f.stream.closes++
		delete(f.stream.handlers, f.userKey)
	})
	return nil
}

// fakeMetrics counts engine instrumentation calls.
type fakeMetrics struct {
	mu        sync.Mutex
	outcomes  map[appnotification.Outcome]int
	rollbacks map[string]int
	sessions  int
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{
		outcomes:  make(map[appnotification.Outcome]int),
		rollbacks: make(map[string]int),
	}
}

func (m *fakeMetrics) EventApplied(_ notification.ChangeKind, outcome appnotification.Outcome) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes[outcome]++
}

func (m *fakeMetrics) LoadCompleted(bool, time.Duration) {}

func (m *fakeMetrics) RollbackPerformed(operation string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollbacks[operation]++
}

func (m *fakeMetrics) SessionStarted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions++
}

func (m *fakeMetrics) SessionEnded() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions--
}

func (m *fakeMetrics) rollbackCount(operation string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rollbacks[operation]
}

func (m *fakeMetrics) activeSessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions
}

func testEngineConfig() appnotification.EngineConfig {
	return appnotification.EngineConfig{
		RefreshInterval: 0,
		WriteTimeout:    time.Second,
		OpBuffer:        16,
		LoadRetry: appnotification.RetryConfig{
			InitialInterval: time.Millisecond,
			MaxInterval:     5 * time.Millisecond,
			MaxElapsedTime:  200 * time.Millisecond,
		},
		StreamRetry: appnotification.RetryConfig{
			InitialInterval: time.Millisecond,
			MaxInterval:     5 * time.Millisecond,
		},
	}
}

// startEngine runs an engine until the test ends.
func startEngine(
	t *testing.T,
	client appnotification.SyncClient,
	stream appnotification.EventStream,
	opts ...appnotification.EngineOption,
) *appnotification.Engine {
	t.Helper()

	opts = append([]appnotification.EngineOption{appnotification.WithEngineConfig(testEngineConfig())}, opts...)
	engine := appnotification.NewEngine(client, stream, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = engine.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return engine
}

// fakeRepository is an in-memory Repository.
type fakeRepository struct {
	mu        sync.Mutex
	items     map[string]notification.Notification
	insertErr error
	markErr   error
}

func newFakeRepository(items ...notification.Notification) *fakeRepository {
	r := &fakeRepository{items: make(map[string]notification.Notification)}
	for _, n := range items {
		r.items[n.ID()] = n
	}
	return r
}

func (r *fakeRepository) byRecipient(recipient string, unreadOnly bool) []notification.Notification {
	var result []notification.Notification
	for _, n := range r.items {
		if n.Recipient() == recipient && (!unreadOnly || !n.IsRead()) {
			result = append(result, n)
		}
	}
	slices.SortFunc(result, func(a, b notification.Notification) int {
		return b.CreatedAt().Compare(a.CreatedAt())
	})
	return result
}

func (r *fakeRepository) FindByRecipient(
	_ context.Context,
	recipient string,
	limit int,
) ([]notification.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := r.byRecipient(recipient, false)
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (r *fakeRepository) FindByID(_ context.Context, id string) (notification.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.items[id]
	if !ok {
		return notification.Notification{}, errs.ErrNotFound
	}
	return n, nil
}

func (r *fakeRepository) FindUnread(_ context.Context, recipient string) ([]notification.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byRecipient(recipient, true), nil
}

func (r *fakeRepository) CountUnread(_ context.Context, recipient string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byRecipient(recipient, true)), nil
}

func (r *fakeRepository) Insert(_ context.Context, n notification.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.insertErr != nil {
		return r.insertErr
	}
	if _, ok := r.items[n.ID()]; ok {
		return errs.ErrAlreadyExists
	}
	r.items[n.ID()] = n
	return nil
}

func (r *fakeRepository) MarkRead(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.markErr != nil {
		return false, r.markErr
	}
	n, ok := r.items[id]
	if !ok {
		return false, errs.ErrNotFound
	}
	if n.IsRead() {
		return false, nil
	}
	r.items[id] = n.WithRead(true)
	return true, nil
}

func (r *fakeRepository) MarkManyRead(_ context.Context, recipient string, ids []string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.markErr != nil {
		return 0, r.markErr
	}
	changed := 0
	for _, id := range ids {
		n, ok := r.items[id]
		if ok && n.Recipient() == recipient && !n.IsRead() {
			r.items[id] = n.WithRead(true)
			changed++
		}
	}
	return changed, nil
}

// fakePublisher records published events.
type fakePublisher struct {
	mu     sync.Mutex
	events map[string][]notification.ChangeEvent
	err    error
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{events: make(map[string][]notification.ChangeEvent)}
}

func (p *fakePublisher) Publish(_ context.Context, userKey string, ev notification.ChangeEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events[userKey] = append(p.events[userKey], ev)
	return nil
}

func (p *fakePublisher) published(userKey string) []notification.ChangeEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.events[userKey])
}
