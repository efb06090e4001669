package websocket

import (
	"encoding/json"
	"errors"
	"time"

	appnotification "github.com/lllypuk/notifysync/internal/application/notification"
	"github.com/lllypuk/notifysync/internal/domain/errs"
	"github.com/lllypuk/notifysync/internal/domain/notification"
)

// Server to client message types.
const (
	TypeSnapshot = "snapshot"
	TypeAck      = "ack"
	TypeError    = "error"
	TypePong     = "pong"
)

// Client to server message types.
const (
	TypeMarkRead    = "mark_read"
	TypeMarkAllRead = "mark_all_read"
	TypeRefresh     = "refresh"
	TypeBackground  = "background"
	TypeForeground  = "foreground"
	TypePing        = "ping"
)

// Error codes sent in error messages.
const (
	CodeInvalidMessage   = "INVALID_MESSAGE"
	CodeInvalidInput     = "INVALID_INPUT"
	CodeRefreshRequired  = "REFRESH_REQUIRED"
	CodeMarkReadRejected = "MARK_READ_REJECTED"
	CodeLoadFailed       = "LOAD_FAILED"
	CodeSessionEnded     = "SESSION_ENDED"
	CodeInternal         = "INTERNAL_ERROR"
)

// Message is the envelope of every server to client message.
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ClientMessage represents a message from client to server.
type ClientMessage struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
}

// NotificationView is the wire form of a notification.
type NotificationView struct {
	ID        string                   `json:"id"`
	Kind      string                   `json:"kind"`
	Title     string                   `json:"title"`
	Body      string                   `json:"body"`
	Payload   map[string]any           `json:"payload,omitempty"`
	Subject   *notification.SubjectRef `json:"subject,omitempty"`
	Read      bool                     `json:"read"`
	CreatedAt time.Time                `json:"created_at"`
}

// NewNotificationView converts a notification to its wire form.
func NewNotificationView(n notification.Notification) NotificationView {
	return NotificationView{
		ID:        n.ID(),
		Kind:      string(n.Kind()),
		Title:     n.Title(),
		Body:      n.Body(),
		Payload:   n.Payload(),
		Subject:   n.Subject(),
		Read:      n.IsRead(),
		CreatedAt: n.CreatedAt(),
	}
}

// SnapshotView is the data of a snapshot message.
type SnapshotView struct {
	Session       string             `json:"session,omitempty"`
	Notifications []NotificationView `json:"notifications"`
	UnreadCount   int                `json:"unread_count"`
	Loaded        bool               `json:"loaded"`
	Connection    string             `json:"connection"`
	Pending       int                `json:"pending"`
}

// NewSnapshotView converts an engine snapshot to its wire form.
func NewSnapshotView(s appnotification.Snapshot) SnapshotView {
	views := make([]NotificationView, 0, len(s.Items))
	for _, n := range s.Items {
		views = append(views, NewNotificationView(n))
	}
	return SnapshotView{
		Session:       s.Session.String(),
		Notifications: views,
		UnreadCount:   s.UnreadCount,
		Loaded:        s.Loaded,
		Connection:    string(s.Connection),
		Pending:       s.Pending,
	}
}

// ErrorView is the data of an error message.
type ErrorView struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
}

// AckView is the data of an ack message.
type AckView struct {
	Action string `json:"action"`
	ID     string `json:"id,omitempty"`
}

// EncodeSnapshot builds a snapshot message.
func EncodeSnapshot(s appnotification.Snapshot) ([]byte, error) {
	return encode(TypeSnapshot, NewSnapshotView(s))
}

func encode(msgType string, data any) ([]byte, error) {
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	return json.Marshal(Message{Type: msgType, Data: raw})
}

// ErrorCode maps an engine error to the code reported to clients.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, appnotification.ErrRefreshRequired):
		return CodeRefreshRequired
	case errors.Is(err, appnotification.ErrMarkReadRejected):
		return CodeMarkReadRejected
	case errors.Is(err, appnotification.ErrLoadFailed):
		return CodeLoadFailed
	case errors.Is(err, appnotification.ErrNotSignedIn),
		errors.Is(err, appnotification.ErrStaleSession),
		errors.Is(err, appnotification.ErrEngineStopped):
		return CodeSessionEnded
	case errors.Is(err, errs.ErrInvalidInput):
		return CodeInvalidInput
	default:
		return CodeInternal
	}
}
