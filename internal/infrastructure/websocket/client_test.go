package websocket_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appnotification "github.com/lllypuk/notifysync/internal/application/notification"
	ws "github.com/lllypuk/notifysync/internal/infrastructure/websocket"
)

func TestClient_Commands(t *testing.T) {
	tests := []struct {
		name     string
		message  map[string]any
		wantCall string
	}{
		{"mark read", map[string]any{"type": "mark_read", "id": "n1"}, "mark_read:n1"},
		{"mark all read", map[string]any{"type": "mark_all_read"}, "mark_all_read"},
		{"refresh", map[string]any{"type": "refresh"}, "refresh"},
		{"background", map[string]any{"type": "background"}, "background"},
		{"foreground", map[string]any{"type": "foreground"}, "foreground"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hub := startHub(t)
			session := newFakeSession("ana")
			_, conn := connectClient(t, hub, "ana", session)

			writeJSON(t, conn, tt.message)

			msg := readMessage(t, conn)
			require.Equal(t, ws.TypeAck, msg.Type)
			ack := decodeData[ws.AckView](t, msg)
			assert.Equal(t, tt.message["type"], ack.Action)
			assert.Equal(t, []string{tt.wantCall}, session.recorded())
		})
	}
}

func TestClient_CommandErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		{"bulk failure", fmt.Errorf("%w: %w", appnotification.ErrRefreshRequired, errors.New("timeout")), ws.CodeRefreshRequired},
		{"rejected mark", appnotification.ErrMarkReadRejected, ws.CodeMarkReadRejected},
		{"signed out", appnotification.ErrNotSignedIn, ws.CodeSessionEnded},
		{"unexpected", errors.New("boom"), ws.CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hub := startHub(t)
			session := newFakeSession("ana")
			session.setErr(tt.err)
			_, conn := connectClient(t, hub, "ana", session)

			writeJSON(t, conn, map[string]any{"type": "mark_all_read"})

			msg := readMessage(t, conn)
			require.Equal(t, ws.TypeError, msg.Type)
			view := decodeData[ws.ErrorView](t, msg)
			assert.Equal(t, tt.wantCode, view.Code)
			assert.Equal(t, "mark_all_read", view.Action)
		})
	}
}

func TestClient_InvalidMessages(t *testing.T) {
	hub := startHub(t)
	session := newFakeSession("ana")
	_, conn := connectClient(t, hub, "ana", session)

	t.Run("malformed json", func(t *testing.T) {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
		view := decodeData[ws.ErrorView](t, readUntil(t, conn, ws.TypeError))
		assert.Equal(t, ws.CodeInvalidMessage, view.Code)
	})

	t.Run("unknown type", func(t *testing.T) {
		writeJSON(t, conn, map[string]any{"type": "subscribe"})
		view := decodeData[ws.ErrorView](t, readUntil(t, conn, ws.TypeError))
		assert.Equal(t, ws.CodeInvalidMessage, view.Code)
	})

	t.Run("mark read without id", func(t *testing.T) {
		writeJSON(t, conn, map[string]any{"type": "mark_read"})
		view := decodeData[ws.ErrorView](t, readUntil(t, conn, ws.TypeError))
		assert.Equal(t, ws.CodeInvalidInput, view.Code)
	})

	assert.Empty(t, session.recorded())
}

func TestClient_Ping(t *testing.T) {
	hub := startHub(t)
	_, conn := connectClient(t, hub, "ana", newFakeSession("ana"))

	writeJSON(t, conn, map[string]any{"type": "ping"})

	assert.Equal(t, ws.TypePong, readMessage(t, conn).Type)
}

func TestClient_SendSnapshot(t *testing.T) {
	hub := startHub(t)
	session := newFakeSession("ana")
	session.snapshot.UnreadCount = 4
	client, conn := connectClient(t, hub, "ana", session)

	client.SendSnapshot()

	view := decodeData[ws.SnapshotView](t, readUntil(t, conn, ws.TypeSnapshot))
	assert.Equal(t, 4, view.UnreadCount)
	assert.True(t, view.Loaded)
	assert.Equal(t, "live", view.Connection)
	assert.NotNil(t, view.Notifications)
}

func TestClient_OnCloseRunsOnce(t *testing.T) {
	hub := startHub(t)
	closed := make(chan struct{}, 2)
	client, conn := connectClient(t, hub, "ana", newFakeSession("ana"),
		ws.WithOnClose(func() { closed <- struct{}{} }),
	)

	require.NoError(t, conn.Close())

	select {
	case <-closed:
	case <-time.After(waitFor):
		t.Fatal("on-close hook did not run")
	}
	require.Eventually(t, func() bool { return hub.UserConnectionCount("ana") == 0 }, waitFor, tick)
	assert.True(t, client.IsClosed())
	assert.Empty(t, closed)
}

func TestClient_SendAfterClose(t *testing.T) {
	hub := ws.NewHub()
	serverConn, _, cleanup := createWSConnPair(t)
	defer cleanup()
	client := ws.NewClient(hub, serverConn, "ana", newFakeSession("ana"))

	client.Close()
	client.Close()

	assert.NotPanics(t, func() { client.Send([]byte("late")) })
}

func TestDefaultClientConfig(t *testing.T) {
	config := ws.DefaultClientConfig()

	assert.Equal(t, 1024, config.ReadBufferSize)
	assert.Equal(t, 1024, config.WriteBufferSize)
	assert.Equal(t, 30*time.Second, config.PingInterval)
	assert.Equal(t, 60*time.Second, config.PongWait)
	assert.Equal(t, 10*time.Second, config.WriteWait)
	assert.Equal(t, int64(65536), config.MaxMessageSize)
	assert.Equal(t, 15*time.Second, config.OperationTimeout)
}
