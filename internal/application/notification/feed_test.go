package notification_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appnotification "github.com/lllypuk/notifysync/internal/application/notification"
	"github.com/lllypuk/notifysync/internal/domain/notification"
)

func TestFeedService_Fetch(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepository(
		notif("a", "ana", false, 1),
		notif("b", "ana", true, 2),
		notif("c", "ana", false, 3),
		notif("d", "bob", false, 1),
	)
	feed := appnotification.NewFeedService(repo, newFakePublisher(), appnotification.WithPageSize(2))

	items, err := feed.FetchNotifications(ctx, "ana")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "a", items[0].ID())
	assert.Equal(t, "b", items[1].ID())

	count, err := feed.FetchUnreadCount(ctx, "ana")
	require.NoError(t, err)
	assert.Equal(t, 2, count, "count covers rows outside the page")
}

func TestFeedService_MarkRead(t *testing.T) {
	ctx := context.Background()

	t.Run("marks and publishes an update", func(t *testing.T) {
		repo := newFakeRepository(notif("a", "ana", false, 1))
		publisher := newFakePublisher()
		feed := appnotification.NewFeedService(repo, publisher)

		require.NoError(t, feed.MarkRead(ctx, "ana", "a"))

		stored, err := repo.FindByID(ctx, "a")
		require.NoError(t, err)
		assert.True(t, stored.IsRead())

		events := publisher.published("ana")
		require.Len(t, events, 1)
		assert.Equal(t, notification.ChangeUpdate, events[0].Kind)
		assert.Equal(t, "a", events[0].Notification.ID())
		assert.True(t, events[0].Notification.IsRead())
	})

	t.Run("already read succeeds silently", func(t *testing.T) {
		repo := newFakeRepository(notif("a", "ana", true, 1))
		publisher := newFakePublisher()
		feed := appnotification.NewFeedService(repo, publisher)

		require.NoError(t, feed.MarkRead(ctx, "ana", "a"))
		assert.Empty(t, publisher.published("ana"))
	})

	t.Run("not found", func(t *testing.T) {
		feed := appnotification.NewFeedService(newFakeRepository(), newFakePublisher())
		require.ErrorIs(t, feed.MarkRead(ctx, "ana", "missing"), appnotification.ErrNotificationNotFound)
	})

	t.Run("someone else's notification", func(t *testing.T) {
		feed := appnotification.NewFeedService(newFakeRepository(notif("a", "bob", false, 1)), newFakePublisher())
		require.ErrorIs(t, feed.MarkRead(ctx, "ana", "a"), appnotification.ErrNotificationAccessDenied)
	})

	t.Run("repository failure", func(t *testing.T) {
		repo := newFakeRepository(notif("a", "ana", false, 1))
		repo.markErr = errBoom
		feed := appnotification.NewFeedService(repo, newFakePublisher())
		require.ErrorIs(t, feed.MarkRead(ctx, "ana", "a"), errBoom)
	})

	t.Run("publish failure does not fail the write", func(t *testing.T) {
		repo := newFakeRepository(notif("a", "ana", false, 1))
		publisher := newFakePublisher()
		publisher.err = errBoom
		feed := appnotification.NewFeedService(repo, publisher)

		require.NoError(t, feed.MarkRead(ctx, "ana", "a"))
	})
}

func TestFeedService_MarkAllRead(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepository(
		notif("a", "ana", false, 1),
		notif("b", "ana", true, 2),
		notif("c", "ana", false, 3),
		notif("d", "bob", false, 1),
	)
	publisher := newFakePublisher()
	feed := appnotification.NewFeedService(repo, publisher)

	require.NoError(t, feed.MarkAllRead(ctx, "ana"))

	count, err := repo.CountUnread(ctx, "ana")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
	bobCount, err := repo.CountUnread(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, 1, bobCount)

	events := publisher.published("ana")
	require.Len(t, events, 2)
	for _, ev := range events {
		assert.Equal(t, notification.ChangeUpdate, ev.Kind)
		assert.True(t, ev.Notification.IsRead())
	}

	require.NoError(t, feed.MarkAllRead(ctx, "ana"), "nothing left to mark")
	assert.Len(t, publisher.published("ana"), 2)
}

func TestFeedService_DrivesEngine(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepository(notif("a", "ana", false, 1), notif("b", "ana", false, 2))
	feed := appnotification.NewFeedService(repo, newFakePublisher())
	engine := startEngine(t, feed, newFakeStream())

	require.NoError(t, engine.SignIn(ctx, "ana"))
	require.Equal(t, 2, engine.Snapshot().UnreadCount)

	require.NoError(t, engine.MarkAsRead(ctx, "b"))
	require.NoError(t, engine.Refresh(ctx))

	assert.Equal(t, 1, engine.Snapshot().UnreadCount)
}
