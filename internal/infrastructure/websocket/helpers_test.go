package websocket_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	appnotification "github.com/lllypuk/notifysync/internal/application/notification"
	ws "github.com/lllypuk/notifysync/internal/infrastructure/websocket"
)

const (
	waitFor = 2 * time.Second
	tick    = 10 * time.Millisecond
)

// fakeSession records calls and lets tests push snapshots to listeners.
type fakeSession struct {
	mu        sync.Mutex
	snapshot  appnotification.Snapshot
	listeners map[int]appnotification.Listener
	next      int
	calls     []string
	err       error
}

func newFakeSession(userKey string) *fakeSession {
	return &fakeSession{
		snapshot: appnotification.Snapshot{
			UserKey:    userKey,
			Loaded:     true,
			Connection: appnotification.ConnectionLive,
		},
		listeners: make(map[int]appnotification.Listener),
	}
}

func (f *fakeSession) Snapshot() appnotification.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshot
}

func (f *fakeSession) OnChange(listener appnotification.Listener) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.next
	f.next++
	f.listeners[id] = listener
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.listeners, id)
	}
}

func (f *fakeSession) listenerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listeners)
}

// emit stores s and calls every listener, the way the engine loop does.
func (f *fakeSession) emit(s appnotification.Snapshot) {
	f.mu.Lock()
	f.snapshot = s
	listeners := make([]appnotification.Listener, 0, len(f.listeners))
	for _, l := range f.listeners {
		listeners = append(listeners, l)
	}
	f.mu.Unlock()

	for _, l := range listeners {
		l(s)
	}
}

func (f *fakeSession) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.err
}

func (f *fakeSession) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeSession) recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeSession) MarkAsRead(_ context.Context, id string) error {
	return f.record("mark_read:" + id)
}

func (f *fakeSession) MarkAllAsRead(context.Context) error { return f.record("mark_all_read") }
func (f *fakeSession) Refresh(context.Context) error       { return f.record("refresh") }
func (f *fakeSession) Background(context.Context) error    { return f.record("background") }
func (f *fakeSession) Foreground(context.Context) error    { return f.record("foreground") }

// fakeObserver counts hub connects and disconnects.
type fakeObserver struct {
	mu           sync.Mutex
	connected    int
	disconnected int
}

func (o *fakeObserver) ClientConnected() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.connected++
}

func (o *fakeObserver) ClientDisconnected() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.disconnected++
}

func (o *fakeObserver) counts() (int, int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.connected, o.disconnected
}

func startHub(t *testing.T, opts ...ws.HubOption) *ws.Hub {
	t.Helper()
	hub := ws.NewHub(opts...)
	go hub.Run(t.Context())
	require.Eventually(t, hub.IsRunning, waitFor, tick)
	t.Cleanup(hub.Stop)
	return hub
}

// connectClient wires a server-side Client to a dialed connection and starts its pumps.
func connectClient(
	t *testing.T,
	hub *ws.Hub,
	userKey string,
	session ws.Session,
	opts ...ws.ClientOption,
) (*ws.Client, *websocket.Conn) {
	t.Helper()

	serverConn, clientConn, cleanup := createWSConnPair(t)
	t.Cleanup(cleanup)

	client := ws.NewClient(hub, serverConn, userKey, session, opts...)
	hub.Register(client)
	require.Eventually(t, func() bool { return hub.UserConnectionCount(userKey) > 0 }, waitFor, tick)

	go client.WritePump()
	go client.ReadPump()

	return client, clientConn
}

func createWSConnPair(t *testing.T) (*websocket.Conn, *websocket.Conn, func()) {
	t.Helper()

	upgrader := websocket.Upgrader{
		CheckOrigin: func(_ *http.Request) bool { return true },
	}

	serverChan := make(chan *websocket.Conn, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		serverChan <- conn
	}))

	wsURL := "ws" + server.URL[4:]
	clientConn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	select {
	case serverConn := <-serverChan:
		cleanup := func() {
			serverConn.Close()
			clientConn.Close()
			server.Close()
		}
		return serverConn, clientConn, cleanup
	case <-time.After(time.Second):
		clientConn.Close()
		server.Close()
		t.Fatal("timeout waiting for server connection")
		return nil, nil, nil
	}
}

func writeJSON(t *testing.T, conn *websocket.Conn, msg any) {
	t.Helper()
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

// readMessage reads the next server message, skipping nothing.
func readMessage(t *testing.T, conn *websocket.Conn) ws.Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(waitFor)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg ws.Message
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

// readUntil reads messages until one of msgType arrives.
func readUntil(t *testing.T, conn *websocket.Conn, msgType string) ws.Message {
	t.Helper()
	for {
		msg := readMessage(t, conn)
		if msg.Type == msgType {
			return msg
		}
	}
}

func decodeData[T any](t *testing.T, msg ws.Message) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(msg.Data, &v))
	return v
}
