// Package httphandler provides the REST handlers of the notification API.
package httphandler

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"

	notifapp "github.com/lllypuk/notifysync/internal/application/notification"
	"github.com/lllypuk/notifysync/internal/domain/notification"
	"github.com/lllypuk/notifysync/internal/infrastructure/httpserver"
	"github.com/lllypuk/notifysync/internal/middleware"
)

// Validation constants for notification handler.
const (
	maxNotificationListLimit = 100
	releaseTimeout           = 10 * time.Second
)

// NotificationResponse represents a notification in API responses.
type NotificationResponse struct {
	ID        string                   `json:"id"`
	Kind      string                   `json:"kind"`
	Title     string                   `json:"title"`
	Body      string                   `json:"body"`
	Payload   map[string]any           `json:"payload,omitempty"`
	Subject   *notification.SubjectRef `json:"subject,omitempty"`
	IsRead    bool                     `json:"is_read"`
	CreatedAt string                   `json:"created_at"`
}

// NotificationListResponse represents the user's feed in API responses.
type NotificationListResponse struct {
	Notifications []NotificationResponse `json:"notifications"`
	UnreadCount   int                    `json:"unread_count"`
	Total         int                    `json:"total"`
	Loaded        bool                   `json:"loaded"`
	Connection    string                 `json:"connection"`
}

// UnreadCountResponse represents the count of unread notifications.
type UnreadCountResponse struct {
	Count int `json:"count"`
}

// CreateNotificationRequest is the body of POST /notifications.
type CreateNotificationRequest struct {
	Recipient string         `json:"recipient"`
	Kind      string         `json:"kind"`
	Title     string         `json:"title"`
	Body      string         `json:"body"`
	Payload   map[string]any `json:"payload,omitempty"`
	ListingID string         `json:"listing_id,omitempty"`
	ActorID   string         `json:"actor_id,omitempty"`
}

// NotificationSession is the part of a sync session the REST API drives.
// Declared on the consumer side per project guidelines.
type NotificationSession interface {
	Snapshot() notifapp.Snapshot
	MarkAsRead(ctx context.Context, notificationID string) error
	MarkAllAsRead(ctx context.Context) error
	Refresh(ctx context.Context) error
}

// SessionProvider hands out the shared sync session of a user.
type SessionProvider interface {
	Acquire(ctx context.Context, userKey string) (NotificationSession, error)
	Release(ctx context.Context, userKey string) error
}

// NotificationCreator creates a notification and announces it to the recipient.
type NotificationCreator interface {
	Execute(ctx context.Context, cmd notifapp.CreateNotificationCommand) (notification.Notification, error)
}

// EngineRegistry is the registry of per-user sync engines.
type EngineRegistry interface {
	Acquire(ctx context.Context, userKey string) (*notifapp.Engine, error)
	Release(ctx context.Context, userKey string) error
}

type registrySessions struct {
	registry EngineRegistry
}

// SessionsFromRegistry adapts an engine registry to a SessionProvider.
func SessionsFromRegistry(registry EngineRegistry) SessionProvider {
	return registrySessions{registry: registry}
}

func (r registrySessions) Acquire(ctx context.Context, userKey string) (NotificationSession, error) {
	engine, err := r.registry.Acquire(ctx, userKey)
	if err != nil {
		return nil, err
	}
	return engine, nil
}

func (r registrySessions) Release(ctx context.Context, userKey string) error {
	return r.registry.Release(ctx, userKey)
}

// NotificationHandler handles notification-related HTTP requests.
// Each request joins the user's sync session, so a mark-read over REST is
// visible to the user's open sockets at once.
type NotificationHandler struct {
	sessions SessionProvider
	creator  NotificationCreator
}

// NewNotificationHandler creates a new NotificationHandler.
func NewNotificationHandler(sessions SessionProvider, creator NotificationCreator) *NotificationHandler {
	return &NotificationHandler{
		sessions: sessions,
		creator:  creator,
	}
}

// RegisterRoutes registers notification routes with the router.
func (h *NotificationHandler) RegisterRoutes(r *httpserver.Router) {
	r.User().GET("/notifications", h.List)
	r.User().GET("/notifications/unread-count", h.UnreadCount)
	r.User().POST("/notifications/:id/read", h.MarkAsRead)
	r.User().POST("/notifications/read-all", h.MarkAllRead)
	r.User().POST("/notifications/refresh", h.Refresh)
	r.User().POST("/notifications", h.Create)
}

// List handles GET /api/v1/notifications.
// Query parameters: unread_only=true, limit=N.
func (h *NotificationHandler) List(c echo.Context) error {
	return h.withSession(c, func(ctx context.Context, s NotificationSession) error {
		resp := ToNotificationListResponse(s.Snapshot())
		resp.Notifications = filterNotifications(resp.Notifications,
			c.QueryParam("unread_only") == "true",
			parseLimit(c),
		)
		return httpserver.RespondOK(c, resp)
	})
}

// UnreadCount handles GET /api/v1/notifications/unread-count.
func (h *NotificationHandler) UnreadCount(c echo.Context) error {
	return h.withSession(c, func(_ context.Context, s NotificationSession) error {
		return httpserver.RespondOK(c, UnreadCountResponse{Count: s.Snapshot().UnreadCount})
	})
}

// MarkAsRead handles POST /api/v1/notifications/:id/read.
func (h *NotificationHandler) MarkAsRead(c echo.Context) error {
	notificationID := c.Param("id")
	if notificationID == "" {
		return httpserver.RespondErrorWithCode(
			c, http.StatusBadRequest, "INVALID_NOTIFICATION_ID", "notification ID is required")
	}

	return h.withSession(c, func(ctx context.Context, s NotificationSession) error {
		if err := s.MarkAsRead(ctx, notificationID); err != nil {
			return httpserver.RespondError(c, err)
		}
		return httpserver.RespondOK(c, UnreadCountResponse{Count: s.Snapshot().UnreadCount})
	})
}

// MarkAllRead handles POST /api/v1/notifications/read-all.
func (h *NotificationHandler) MarkAllRead(c echo.Context) error {
	return h.withSession(c, func(ctx context.Context, s NotificationSession) error {
		if err := s.MarkAllAsRead(ctx); err != nil {
			return httpserver.RespondError(c, err)
		}
		return httpserver.RespondOK(c, UnreadCountResponse{Count: s.Snapshot().UnreadCount})
	})
}

// Refresh handles POST /api/v1/notifications/refresh.
// Reloads the feed from the store and returns it.
func (h *NotificationHandler) Refresh(c echo.Context) error {
	return h.withSession(c, func(ctx context.Context, s NotificationSession) error {
		if err := s.Refresh(ctx); err != nil {
			return httpserver.RespondError(c, err)
		}
		return httpserver.RespondOK(c, ToNotificationListResponse(s.Snapshot()))
	})
}

// Create handles POST /api/v1/notifications.
// The caller's user key is the sender; the recipient comes from the body.
func (h *NotificationHandler) Create(c echo.Context) error {
	var req CreateNotificationRequest
	if err := c.Bind(&req); err != nil {
		return httpserver.RespondErrorWithCode(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body")
	}

	actorID := req.ActorID
	if actorID == "" {
		actorID = middleware.GetUserKey(c)
	}

	created, err := h.creator.Execute(c.Request().Context(), notifapp.CreateNotificationCommand{
		Recipient: req.Recipient,
		Kind:      notification.Kind(req.Kind),
		Title:     req.Title,
		Body:      req.Body,
		Payload:   req.Payload,
		ListingID: req.ListingID,
		ActorID:   actorID,
	})
	if err != nil {
		return httpserver.RespondError(c, err)
	}

	return httpserver.RespondCreated(c, ToNotificationResponse(created))
}

// withSession runs fn against the user's session and releases it afterwards.
func (h *NotificationHandler) withSession(
	c echo.Context,
	fn func(ctx context.Context, s NotificationSession) error,
) error {
	userKey := middleware.GetUserKey(c)
	if userKey == "" {
		return httpserver.RespondErrorWithCode(c, http.StatusUnauthorized, "UNAUTHORIZED", "user key required")
	}

	ctx := c.Request().Context()
	session, err := h.sessions.Acquire(ctx, userKey)
	if err != nil {
		return httpserver.RespondError(c, err)
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()
		_ = h.sessions.Release(releaseCtx, userKey)
	}()

	return fn(ctx, session)
}

// Helper functions

func parseLimit(c echo.Context) int {
	limitStr := c.QueryParam("limit")
	if limitStr == "" {
		return 0
	}
	l, err := strconv.Atoi(limitStr)
	if err != nil || l <= 0 {
		return 0
	}
	return min(l, maxNotificationListLimit)
}

func filterNotifications(items []NotificationResponse, unreadOnly bool, limit int) []NotificationResponse {
	if unreadOnly {
		filtered := make([]NotificationResponse, 0, len(items))
		for _, n := range items {
			if !n.IsRead {
				filtered = append(filtered, n)
			}
		}
		items = filtered
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

// ToNotificationResponse converts a domain Notification to NotificationResponse.
func ToNotificationResponse(n notification.Notification) NotificationResponse {
	return NotificationResponse{
		ID:        n.ID(),
		Kind:      string(n.Kind()),
		Title:     n.Title(),
		Body:      n.Body(),
		Payload:   n.Payload(),
		Subject:   n.Subject(),
		IsRead:    n.IsRead(),
		CreatedAt: n.CreatedAt().Format(time.RFC3339),
	}
}

// ToNotificationListResponse converts a session snapshot to NotificationListResponse.
func ToNotificationListResponse(s notifapp.Snapshot) NotificationListResponse {
	items := make([]NotificationResponse, 0, len(s.Items))
	for _, n := range s.Items {
		items = append(items, ToNotificationResponse(n))
	}
	return NotificationListResponse{
		Notifications: items,
		UnreadCount:   s.UnreadCount,
		Total:         len(items),
		Loaded:        s.Loaded,
		Connection:    string(s.Connection),
	}
}

// MockSession is a mock implementation of NotificationSession for testing.
type MockSession struct {
	mu         sync.Mutex
	items      []notification.Notification
	MarkErr    error
	RefreshErr error
	Refreshes  int
}

// NewMockSession creates a mock session holding items.
func NewMockSession(items ...notification.Notification) *MockSession {
	return &MockSession{items: items}
}

// Snapshot returns the mock feed.
func (m *MockSession) Snapshot() notifapp.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	unread := 0
	for _, n := range m.items {
		if !n.IsRead() {
			unread++
		}
	}
	return notifapp.Snapshot{
		Items:       append([]notification.Notification(nil), m.items...),
		UnreadCount: unread,
		Loaded:      true,
		Connection:  notifapp.ConnectionLive,
	}
}

// MarkAsRead marks a notification as read in the mock session.
func (m *MockSession) MarkAsRead(_ context.Context, notificationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.MarkErr != nil {
		return m.MarkErr
	}
	for i, n := range m.items {
		if n.ID() == notificationID {
			m.items[i] = n.WithRead(true)
		}
	}
	return nil
}

// MarkAllAsRead marks every notification as read in the mock session.
func (m *MockSession) MarkAllAsRead(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.MarkErr != nil {
		return m.MarkErr
	}
	for i, n := range m.items {
		m.items[i] = n.WithRead(true)
	}
	return nil
}

// Refresh counts refresh calls.
func (m *MockSession) Refresh(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Refreshes++
	return m.RefreshErr
}

// MockSessionProvider is a mock implementation of SessionProvider for testing.
type MockSessionProvider struct {
	mu         sync.Mutex
	sessions   map[string]*MockSession
	refs       map[string]int
	AcquireErr error
}

// NewMockSessionProvider creates a new mock session provider.
func NewMockSessionProvider() *MockSessionProvider {
	return &MockSessionProvider{
		sessions: make(map[string]*MockSession),
		refs:     make(map[string]int),
	}
}

// SetSession sets the session returned for userKey.
func (m *MockSessionProvider) SetSession(userKey string, s *MockSession) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[userKey] = s
}

// Acquire returns the user's mock session, creating an empty one on first use.
func (m *MockSessionProvider) Acquire(_ context.Context, userKey string) (NotificationSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.AcquireErr != nil {
		return nil, m.AcquireErr
	}
	s, ok := m.sessions[userKey]
	if !ok {
		s = NewMockSession()
		m.sessions[userKey] = s
	}
	m.refs[userKey]++
	return s, nil
}

// Release drops one reference.
func (m *MockSessionProvider) Release(_ context.Context, userKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refs[userKey]--
	return nil
}

// Refs returns the number of outstanding references of userKey.
func (m *MockSessionProvider) Refs(userKey string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refs[userKey]
}
