package notification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lllypuk/notifysync/internal/domain/errs"
	"github.com/lllypuk/notifysync/internal/domain/notification"
)

// DefaultPageSize is the number of notifications returned by FetchNotifications.
const DefaultPageSize = 50

// FeedService is the server side of SyncClient: reads and writes go to the repository and
// every row a write changes is announced on the recipient's change stream.
type FeedService struct {
	repo      Repository
	publisher Publisher
	pageSize  int
	logger    *slog.Logger
}

// FeedOption configures a FeedService.
type FeedOption func(*FeedService)

// WithPageSize sets how many notifications a fetch returns.
func WithPageSize(size int) FeedOption {
	return func(s *FeedService) {
		if size > 0 {
			s.pageSize = size
		}
	}
}

// WithFeedLogger sets the logger.
func WithFeedLogger(logger *slog.Logger) FeedOption {
	return func(s *FeedService) {
		s.logger = logger
	}
}

// NewFeedService creates a FeedService.
func NewFeedService(repo Repository, publisher Publisher, opts ...FeedOption) *FeedService {
	s := &FeedService{
		repo:      repo,
		publisher: publisher,
		pageSize:  DefaultPageSize,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FetchNotifications returns the newest page of the user's feed.
func (s *FeedService) FetchNotifications(ctx context.Context, userKey string) ([]notification.Notification, error) {
	items, err := s.repo.FindByRecipient(ctx, userKey, s.pageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	return items, nil
}

// FetchUnreadCount returns the user's unread total across the whole feed.
func (s *FeedService) FetchUnreadCount(ctx context.Context, userKey string) (int, error) {
	count, err := s.repo.CountUnread(ctx, userKey)
	if err != nil {
		return 0, fmt.Errorf("failed to count unread notifications: %w", err)
	}
	return count, nil
}

// MarkRead marks a single notification as read. Marking an already read notification succeeds.
func (s *FeedService) MarkRead(ctx context.Context, userKey, notificationID string) error {
	notif, err := s.repo.FindByID(ctx, notificationID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return ErrNotificationNotFound
		}
		return fmt.Errorf("failed to find notification: %w", err)
	}
	if notif.Recipient() != userKey {
		return ErrNotificationAccessDenied
	}

	changed, err := s.repo.MarkRead(ctx, notificationID)
	if err != nil {
		return fmt.Errorf("failed to mark notification as read: %w", err)
	}
	if changed {
		s.publish(ctx, userKey, notif.WithRead(true))
	}
	return nil
}

// MarkAllRead marks every unread notification of the user as read.
func (s *FeedService) MarkAllRead(ctx context.Context, userKey string) error {
	unread, err := s.repo.FindUnread(ctx, userKey)
	if err != nil {
		return fmt.Errorf("failed to find unread notifications: %w", err)
	}
	if len(unread) == 0 {
		return nil
	}

	ids := make([]string, 0, len(unread))
	for _, n := range unread {
		ids = append(ids, n.ID())
	}
	changed, err := s.repo.MarkManyRead(ctx, userKey, ids)
	if err != nil {
		return fmt.Errorf("failed to mark notifications as read: %w", err)
	}

	for _, n := range unread {
		s.publish(ctx, userKey, n.WithRead(true))
	}
	s.logger.DebugContext(ctx, "notifications marked as read",
		slog.String("user_key", userKey),
		slog.Int("changed", changed),
	)
	return nil
}

// publish announces an update; a lost event is repaired by the subscriber's next refresh.
func (s *FeedService) publish(ctx context.Context, userKey string, n notification.Notification) {
	if err := s.publisher.Publish(ctx, userKey, notification.NewUpdated(n)); err != nil {
		s.logger.WarnContext(ctx, "failed to publish notification update",
			slog.String("notification_id", n.ID()),
			slog.String("user_key", userKey),
			slog.String("error", err.Error()),
		)
	}
}

var _ SyncClient = (*FeedService)(nil)
