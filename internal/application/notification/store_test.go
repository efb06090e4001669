package notification_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appnotification "github.com/lllypuk/notifysync/internal/application/notification"
	"github.com/lllypuk/notifysync/internal/domain/notification"
)

func storeIDs(s *appnotification.Store) []string {
	snap := s.Snapshot()
	result := make([]string, 0, len(snap.Items))
	for _, n := range snap.Items {
		result = append(result, n.ID())
	}
	return result
}

func TestStore_ReplaceAll(t *testing.T) {
	t.Run("counter comes from the server, not from items", func(t *testing.T) {
		s := appnotification.NewStore()

		s.ReplaceAll([]notification.Notification{
			notif("a", "ana", false, 1),
			notif("b", "ana", true, 2),
		}, 12)

		assert.Equal(t, 12, s.UnreadCount())
		assert.Equal(t, 2, s.Len())
	})

	t.Run("items are sorted newest first", func(t *testing.T) {
		s := appnotification.NewStore()

		s.ReplaceAll([]notification.Notification{
			notif("old", "ana", false, 30),
			notif("new", "ana", false, 1),
			notif("mid", "ana", false, 10),
		}, 3)

		assert.Equal(t, []string{"new", "mid", "old"}, storeIDs(s))
	})

	t.Run("duplicate ids keep the first occurrence", func(t *testing.T) {
		s := appnotification.NewStore()

		s.ReplaceAll([]notification.Notification{
			notif("a", "ana", false, 1),
			notif("a", "ana", true, 1),
		}, 1)

		require.Equal(t, 1, s.Len())
		got, ok := s.Get("a")
		require.True(t, ok)
		assert.False(t, got.IsRead())
	})

	t.Run("negative count is clamped", func(t *testing.T) {
		s := appnotification.NewStore()
		s.ReplaceAll(nil, -4)
		assert.Equal(t, 0, s.UnreadCount())
	})

	t.Run("replaces previous content", func(t *testing.T) {
		s := appnotification.NewStore()
		s.ReplaceAll([]notification.Notification{notif("a", "ana", false, 1)}, 1)

		s.ReplaceAll([]notification.Notification{notif("b", "ana", false, 1)}, 5)

		_, ok := s.Get("a")
		assert.False(t, ok)
		assert.Equal(t, []string{"b"}, storeIDs(s))
		assert.Equal(t, 5, s.UnreadCount())
	})
}

func TestStore_UpsertFromEvent(t *testing.T) {
	t.Run("new item is placed by creation time", func(t *testing.T) {
		s := appnotification.NewStore()
		s.ReplaceAll([]notification.Notification{
			notif("new", "ana", false, 1),
			notif("old", "ana", false, 20),
		}, 2)

		existed, _ := s.UpsertFromEvent(notif("mid", "ana", false, 10))

		assert.False(t, existed)
		assert.Equal(t, []string{"new", "mid", "old"}, storeIDs(s))
		assert.Equal(t, 2, s.UnreadCount(), "upsert never touches the counter")
	})

	t.Run("item newer than everything goes first", func(t *testing.T) {
		s := appnotification.NewStore()
		s.ReplaceAll([]notification.Notification{notif("a", "ana", false, 5)}, 1)

		s.UpsertFromEvent(notif("b", "ana", false, 0))

		assert.Equal(t, []string{"b", "a"}, storeIDs(s))
	})

	t.Run("existing item is replaced in place", func(t *testing.T) {
		s := appnotification.NewStore()
		s.ReplaceAll([]notification.Notification{
			notif("a", "ana", false, 1),
			notif("b", "ana", false, 2),
		}, 2)

		existed, prev := s.UpsertFromEvent(notif("b", "ana", true, 2))

		assert.True(t, existed)
		assert.False(t, prev.IsRead())
		got, _ := s.Get("b")
		assert.True(t, got.IsRead())
		assert.Equal(t, []string{"a", "b"}, storeIDs(s))
	})
}

func TestStore_ReadFlags(t *testing.T) {
	s := appnotification.NewStore()
	s.ReplaceAll([]notification.Notification{
		notif("a", "ana", false, 1),
		notif("b", "ana", true, 2),
		notif("c", "ana", false, 3),
	}, 2)

	assert.True(t, s.MarkRead("a"))
	assert.False(t, s.MarkRead("a"), "second mark is not a transition")
	assert.False(t, s.MarkRead("missing"))

	assert.True(t, s.MarkUnread("a"))
	assert.False(t, s.MarkUnread("a"))

	assert.Equal(t, 2, s.MarkAllRead())
	for _, n := range s.Snapshot().Items {
		assert.True(t, n.IsRead(), n.ID())
	}
	assert.Equal(t, 0, s.MarkAllRead())
}

func TestStore_Counter(t *testing.T) {
	s := appnotification.NewStore()

	s.DecrementUnread()
	assert.Equal(t, 0, s.UnreadCount(), "never below zero")

	s.IncrementUnread()
	s.IncrementUnread()
	assert.Equal(t, 2, s.UnreadCount())

	s.DecrementUnread()
	assert.Equal(t, 1, s.UnreadCount())

	s.ResetUnread()
	assert.Equal(t, 0, s.UnreadCount())
}

func TestStore_SnapshotIsACopy(t *testing.T) {
	s := appnotification.NewStore()
	s.ReplaceAll([]notification.Notification{notif("a", "ana", false, 1)}, 1)

	snap := s.Snapshot()
	s.MarkRead("a")
	s.IncrementUnread()

	assert.False(t, snap.Items[0].IsRead())
	assert.Equal(t, 1, snap.UnreadCount)
}
