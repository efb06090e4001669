package websocket_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appnotification "github.com/lllypuk/notifysync/internal/application/notification"
	ws "github.com/lllypuk/notifysync/internal/infrastructure/websocket"
)

func TestBroadcaster_ForwardsSnapshots(t *testing.T) {
	hub := startHub(t)
	broadcaster := ws.NewBroadcaster(hub)
	t.Cleanup(broadcaster.Close)

	session := newFakeSession("ana")
	_, first := connectClient(t, hub, "ana", session)
	_, second := connectClient(t, hub, "ana", session)
	broadcaster.Attach("ana", session)
	broadcaster.Attach("ana", session)

	next := session.Snapshot()
	next.UnreadCount = 7
	session.emit(next)

	assert.Equal(t, 7, decodeData[ws.SnapshotView](t, readUntil(t, first, ws.TypeSnapshot)).UnreadCount)
	assert.Equal(t, 7, decodeData[ws.SnapshotView](t, readUntil(t, second, ws.TypeSnapshot)).UnreadCount)
	assert.Equal(t, 1, session.listenerCount(), "one listener per user")
}

func TestBroadcaster_LatestSnapshotWins(t *testing.T) {
	hub := startHub(t)
	broadcaster := ws.NewBroadcaster(hub)
	t.Cleanup(broadcaster.Close)

	session := newFakeSession("ana")
	_, conn := connectClient(t, hub, "ana", session)
	broadcaster.Attach("ana", session)

	for i := 1; i <= 50; i++ {
		next := session.Snapshot()
		next.UnreadCount = i
		session.emit(next)
	}

	// Intermediate snapshots may be coalesced; the final one must arrive.
	for {
		view := decodeData[ws.SnapshotView](t, readUntil(t, conn, ws.TypeSnapshot))
		if view.UnreadCount == 50 {
			break
		}
	}
}

func TestBroadcaster_DetachIsReferenceCounted(t *testing.T) {
	hub := startHub(t)
	broadcaster := ws.NewBroadcaster(hub)
	session := newFakeSession("ana")

	broadcaster.Attach("ana", session)
	broadcaster.Attach("ana", session)
	assert.Equal(t, 1, broadcaster.AttachedUsers())

	broadcaster.Detach("ana")
	assert.Equal(t, 1, broadcaster.AttachedUsers())
	assert.Equal(t, 1, session.listenerCount())

	broadcaster.Detach("ana")
	assert.Zero(t, broadcaster.AttachedUsers())
	assert.Zero(t, session.listenerCount())

	broadcaster.Detach("ana")
	broadcaster.Detach("nobody")
}

func TestBroadcaster_RebindsToNewSession(t *testing.T) {
	hub := startHub(t)
	broadcaster := ws.NewBroadcaster(hub)
	t.Cleanup(broadcaster.Close)

	old := newFakeSession("ana")
	replacement := newFakeSession("ana")

	broadcaster.Attach("ana", old)
	broadcaster.Attach("ana", replacement)

	assert.Zero(t, old.listenerCount())
	assert.Equal(t, 1, replacement.listenerCount())
}

func TestBroadcaster_ScopedPerUser(t *testing.T) {
	hub := startHub(t)
	broadcaster := ws.NewBroadcaster(hub)
	t.Cleanup(broadcaster.Close)

	ana := newFakeSession("ana")
	bob := newFakeSession("bob")
	_, anaConn := connectClient(t, hub, "ana", ana)
	_, bobConn := connectClient(t, hub, "bob", bob)
	broadcaster.Attach("ana", ana)
	broadcaster.Attach("bob", bob)

	ana.emit(appnotification.Snapshot{UserKey: "ana", UnreadCount: 3})

	assert.Equal(t, 3, decodeData[ws.SnapshotView](t, readUntil(t, anaConn, ws.TypeSnapshot)).UnreadCount)

	require.NoError(t, bobConn.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	_, _, err := bobConn.ReadMessage()
	require.Error(t, err)
}
