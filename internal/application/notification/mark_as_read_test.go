package notification_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appnotification "github.com/lllypuk/notifysync/internal/application/notification"
	"github.com/lllypuk/notifysync/internal/domain/errs"
)

func TestEngine_MarkAsRead(t *testing.T) {
	ctx := context.Background()

	t.Run("confirmed write keeps the optimistic state", func(t *testing.T) {
		engine, client, _ := signedIn(t, 5, notif("a", user, false, 1))

		require.NoError(t, engine.MarkAsRead(ctx, "a"))

		snap := engine.Snapshot()
		assert.Equal(t, 4, snap.UnreadCount)
		assert.False(t, unreadOf(t, engine, "a"))
		assert.Equal(t, 0, snap.Pending)
		assert.Equal(t, 1, client.markReads())
	})

	t.Run("already read makes no call", func(t *testing.T) {
		engine, client, _ := signedIn(t, 0, notif("a", user, true, 1))

		require.NoError(t, engine.MarkAsRead(ctx, "a"))

		assert.Equal(t, 0, client.markReads())
		assert.Equal(t, 0, engine.Snapshot().UnreadCount)
	})

	t.Run("id outside the window is written through", func(t *testing.T) {
		engine, client, _ := signedIn(t, 3, notif("a", user, false, 1))

		require.NoError(t, engine.MarkAsRead(ctx, "far"))

		assert.Equal(t, 1, client.markReads())
		assert.Equal(t, 3, engine.Snapshot().UnreadCount, "the stream update adjusts the counter")
	})

	t.Run("counter drops before the server answers", func(t *testing.T) {
		engine, client, _ := signedIn(t, 2, notif("a", user, false, 1))
		gate := make(chan struct{})
		client.mu.Lock()
		client.markReadGate = gate
		client.mu.Unlock()

		result := make(chan error, 1)
		go func() { result <- engine.MarkAsRead(ctx, "a") }()

		require.Eventually(t, func() bool {
			snap := engine.Snapshot()
			return snap.UnreadCount == 1 && snap.Pending == 1
		}, waitFor, tick)
		assert.False(t, unreadOf(t, engine, "a"))

		close(gate)
		require.NoError(t, <-result)
		assert.Equal(t, 0, engine.Snapshot().Pending)
	})

	t.Run("failed write restores flag and counter", func(t *testing.T) {
		client := newFakeClient()
		client.set(user, 5, notif("a", user, false, 1), notif("b", user, false, 2))
		client.setMarkReadErr(errBoom)
		metrics := newFakeMetrics()
		engine := startEngine(t, client, newFakeStream(), appnotification.WithEngineMetrics(metrics))
		require.NoError(t, engine.SignIn(ctx, user))

		err := engine.MarkAsRead(ctx, "a")

		require.ErrorIs(t, err, appnotification.ErrMarkReadRejected)
		require.ErrorIs(t, err, errBoom)
		snap := engine.Snapshot()
		assert.Equal(t, 5, snap.UnreadCount)
		assert.True(t, unreadOf(t, engine, "a"))
		assert.Equal(t, 0, snap.Pending)
		assert.Equal(t, 1, metrics.rollbackCount("mark_as_read"))
	})

	t.Run("refresh during the write supersedes the rollback", func(t *testing.T) {
		engine, client, _ := signedIn(t, 1, notif("a", user, false, 1))
		gate := make(chan struct{})
		client.mu.Lock()
		client.markReadGate = gate
		client.mu.Unlock()

		result := make(chan error, 1)
		go func() { result <- engine.MarkAsRead(ctx, "a") }()
		require.Eventually(t, func() bool { return engine.Snapshot().Pending == 1 }, waitFor, tick)

		// another device read it meanwhile
		client.set(user, 0, notif("a", user, true, 1))
		require.NoError(t, engine.Refresh(ctx))

		client.setMarkReadErr(errBoom)
		close(gate)

		require.ErrorIs(t, <-result, appnotification.ErrMarkReadRejected)
		assert.Equal(t, 0, engine.Snapshot().UnreadCount)
		assert.False(t, unreadOf(t, engine, "a"))
	})

	t.Run("completion after sign-out is stale", func(t *testing.T) {
		engine, client, _ := signedIn(t, 1, notif("a", user, false, 1))
		gate := make(chan struct{})
		client.mu.Lock()
		client.markReadGate = gate
		client.mu.Unlock()

		result := make(chan error, 1)
		go func() { result <- engine.MarkAsRead(ctx, "a") }()
		require.Eventually(t, func() bool { return engine.Snapshot().Pending == 1 }, waitFor, tick)

		require.NoError(t, engine.SignOut(ctx))
		close(gate)

		require.ErrorIs(t, <-result, appnotification.ErrStaleSession)
		snap := engine.Snapshot()
		assert.Empty(t, snap.Items)
		assert.Equal(t, 0, snap.UnreadCount)
	})

	t.Run("requires a session", func(t *testing.T) {
		engine := startEngine(t, newFakeClient(), newFakeStream())
		require.ErrorIs(t, engine.MarkAsRead(ctx, "a"), appnotification.ErrNotSignedIn)
	})

	t.Run("requires an id", func(t *testing.T) {
		engine, _, _ := signedIn(t, 0)
		require.ErrorIs(t, engine.MarkAsRead(ctx, ""), errs.ErrInvalidInput)
	})
}
