package notification

import (
	"github.com/google/uuid"

	"github.com/lllypuk/notifysync/internal/domain/notification"
)

// SessionTag identifies one signed-in session. Completions and stream events carry the tag
// they were issued under and are dropped when it no longer matches.
type SessionTag string

func newSessionTag() SessionTag {
	return SessionTag(uuid.New().String())
}

// String returns the tag value
func (t SessionTag) String() string { return string(t) }

// Outcome reports what applying a change event did
type Outcome string

// Event outcomes
const (
	// OutcomeApplied the event changed the feed
	OutcomeApplied Outcome = "applied"
	// OutcomeUnchanged an update with no read transition; the record was still adopted
	OutcomeUnchanged Outcome = "unchanged"
	// OutcomeDuplicate a redelivered insert for an id already present
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeStale the event belongs to an ended session
	OutcomeStale Outcome = "stale"
	// OutcomeIgnored the event was malformed or addressed to another user
	OutcomeIgnored Outcome = "ignored"
)

// ConnectionState is the change stream state observers see
type ConnectionState string

// Connection states
const (
	ConnectionDisconnected ConnectionState = "disconnected"
	ConnectionLive         ConnectionState = "live"
	ConnectionDegraded     ConnectionState = "degraded"
	ConnectionPaused       ConnectionState = "paused"
)

// Snapshot is the read-only view handed to observers.
type Snapshot struct {
	Session     SessionTag
	UserKey     string
	Items       []notification.Notification
	UnreadCount int
	Loaded      bool
	Connection  ConnectionState
	Pending     int
}

// Listener is notified synchronously after every completed store mutation.
// It runs on the engine loop and must neither block nor call back into the engine.
type Listener func(Snapshot)
