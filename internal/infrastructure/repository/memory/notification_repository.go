// Package memory keeps notifications in process memory for mock mode.
package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"

	appnotification "github.com/lllypuk/notifysync/internal/application/notification"
	"github.com/lllypuk/notifysync/internal/domain/errs"
	"github.com/lllypuk/notifysync/internal/domain/notification"
)

const (
	defaultLimit = 50
	maxLimit     = 100
)

// NotificationRepository implements appnotification.Repository on a map.
// It follows the ordering and error contract of the MongoDB repository.
type NotificationRepository struct {
	mu    sync.RWMutex
	byID  map[string]notification.Notification
	order map[string][]string // recipient -> ids
}

// NewNotificationRepository creates an empty repository.
func NewNotificationRepository() *NotificationRepository {
	return &NotificationRepository{
		byID:  make(map[string]notification.Notification),
		order: make(map[string][]string),
	}
}

// FindByID returns a single notification.
func (r *NotificationRepository) FindByID(_ context.Context, id string) (notification.Notification, error) {
	if id == "" {
		return notification.Notification{}, errs.ErrInvalidInput
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	n, ok := r.byID[id]
	if !ok {
		return notification.Notification{}, errs.ErrNotFound
	}
	return n, nil
}

// FindByRecipient returns up to limit notifications of recipient, newest first.
func (r *NotificationRepository) FindByRecipient(
	_ context.Context,
	recipient string,
	limit int,
) ([]notification.Notification, error) {
	if recipient == "" {
		return nil, errs.ErrInvalidInput
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	limit = min(limit, maxLimit)

	all := r.sorted(recipient, nil)
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// FindUnread returns every unread notification of recipient, newest first.
func (r *NotificationRepository) FindUnread(_ context.Context, recipient string) ([]notification.Notification, error) {
	if recipient == "" {
		return nil, errs.ErrInvalidInput
	}
	return r.sorted(recipient, func(n notification.Notification) bool { return !n.IsRead() }), nil
}

// CountUnread counts unread notifications of recipient.
func (r *NotificationRepository) CountUnread(ctx context.Context, recipient string) (int, error) {
	unread, err := r.FindUnread(ctx, recipient)
	if err != nil {
		return 0, err
	}
	return len(unread), nil
}

// Insert stores n. A second insert of the same ID fails with errs.ErrAlreadyExists.
func (r *NotificationRepository) Insert(_ context.Context, n notification.Notification) error {
	if n.ID() == "" || n.Recipient() == "" {
		return errs.ErrInvalidInput
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[n.ID()]; exists {
		return errs.ErrAlreadyExists
	}
	r.byID[n.ID()] = n
	r.order[n.Recipient()] = append(r.order[n.Recipient()], n.ID())
	return nil
}

// MarkRead sets the read flag and reports whether the notification was unread before.
func (r *NotificationRepository) MarkRead(_ context.Context, id string) (bool, error) {
	if id == "" {
		return false, errs.ErrInvalidInput
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.byID[id]
	if !ok {
		return false, errs.ErrNotFound
	}
	if n.IsRead() {
		return false, nil
	}
	r.byID[id] = n.WithRead(true)
	return true, nil
}

// MarkManyRead marks the given notifications of recipient as read and returns how many changed.
// Ids of other recipients are ignored.
func (r *NotificationRepository) MarkManyRead(_ context.Context, recipient string, ids []string) (int, error) {
	if recipient == "" {
		return 0, errs.ErrInvalidInput
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	changed := 0
	for _, id := range ids {
		n, ok := r.byID[id]
		if !ok || n.Recipient() != recipient || n.IsRead() {
			continue
		}
		r.byID[id] = n.WithRead(true)
		changed++
	}
	return changed, nil
}

func (r *NotificationRepository) sorted(
	recipient string,
	keep func(notification.Notification) bool,
) []notification.Notification {
	r.mu.RLock()
	ids := r.order[recipient]
	out := make([]notification.Notification, 0, len(ids))
	for _, id := range ids {
		n := r.byID[id]
		if keep == nil || keep(n) {
			out = append(out, n)
		}
	}
	r.mu.RUnlock()

	slices.SortStableFunc(out, func(a, b notification.Notification) int {
		if c := b.CreatedAt().Compare(a.CreatedAt()); c != 0 {
			return c
		}
		return cmp.Compare(b.ID(), a.ID())
	})
	return out
}

var _ appnotification.Repository = (*NotificationRepository)(nil)
