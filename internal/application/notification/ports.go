package notification

import (
	"context"
	"time"

	"github.com/lllypuk/notifysync/internal/domain/notification"
)

// SyncClient is the engine's view of the server-held source of truth.
// Declared on the consumer side (application layer).
type SyncClient interface {
	// FetchNotifications returns the current loaded window, newest first. May be a page.
	FetchNotifications(ctx context.Context, userKey string) ([]notification.Notification, error)

	// FetchUnreadCount returns the authoritative unread total, including rows outside the window.
	FetchUnreadCount(ctx context.Context, userKey string) (int, error)

	// MarkRead confirms a single read mutation.
	MarkRead(ctx context.Context, userKey, notificationID string) error

	// MarkAllRead confirms a bulk read mutation.
	MarkAllRead(ctx context.Context, userKey string) error
}

// Subscription is a live change stream subscription.
type Subscription interface {
	// Close releases the subscription. No handler callback runs after Close returns.
	Close() error
}

// EventStream delivers change events scoped to one user, at-least-once, ordered per id.
type EventStream interface {
	Subscribe(ctx context.Context, userKey string, handler notification.StreamHandler) (Subscription, error)
}

// Repository is the persistence port used by FeedService and the create use case.
type Repository interface {
	// FindByRecipient returns up to limit notifications, newest first.
	FindByRecipient(ctx context.Context, recipient string, limit int) ([]notification.Notification, error)

	// FindByID returns a single notification.
	FindByID(ctx context.Context, id string) (notification.Notification, error)

	// FindUnread returns every unread notification of recipient.
	FindUnread(ctx context.Context, recipient string) ([]notification.Notification, error)

	// CountUnread returns the number of unread notifications of recipient.
	CountUnread(ctx context.Context, recipient string) (int, error)

	// Insert stores a new notification.
	Insert(ctx context.Context, n notification.Notification) error

	// MarkRead sets the read flag and reports whether the row changed.
	MarkRead(ctx context.Context, id string) (bool, error)

	// MarkManyRead sets the read flag on the given ids and returns how many changed.
	MarkManyRead(ctx context.Context, recipient string, ids []string) (int, error)
}

// Publisher pushes change events onto a user's stream.
type Publisher interface {
	Publish(ctx context.Context, userKey string, ev notification.ChangeEvent) error
}

// Metrics receives engine instrumentation. All methods must be cheap and non-blocking.
type Metrics interface {
	EventApplied(kind notification.ChangeKind, outcome Outcome)
	LoadCompleted(success bool, took time.Duration)
	RollbackPerformed(operation string)
	SessionStarted()
	SessionEnded()
}

type noopMetrics struct{}

func (noopMetrics) EventApplied(notification.ChangeKind, Outcome) {}
func (noopMetrics) LoadCompleted(bool, time.Duration)             {}
func (noopMetrics) RollbackPerformed(string)                      {}
func (noopMetrics) SessionStarted()                               {}
func (noopMetrics) SessionEnded()                                 {}
