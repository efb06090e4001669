package notification

import (
	"time"

	"github.com/google/uuid"
)

// ChangeKind tells whether a change event created a row or modified one
type ChangeKind string

// Change kinds
const (
	ChangeInsert ChangeKind = "insert"
	ChangeUpdate ChangeKind = "update"
)

// IsValid reports whether k is insert or update.
func (k ChangeKind) IsValid() bool {
	return k == ChangeInsert || k == ChangeUpdate
}

// ChangeEvent carries the full record as of the change.
type ChangeEvent struct {
	ID           string
	Kind         ChangeKind
	Notification Notification
	OccurredAt   time.Time
}

// NewInserted creates an insert event for n
func NewInserted(n Notification) ChangeEvent {
	return newChangeEvent(ChangeInsert, n)
}

// NewUpdated creates an update event for n
func NewUpdated(n Notification) ChangeEvent {
	return newChangeEvent(ChangeUpdate, n)
}

func newChangeEvent(kind ChangeKind, n Notification) ChangeEvent {
	return ChangeEvent{
		ID:           uuid.New().String(),
		Kind:         kind,
		Notification: n,
		OccurredAt:   time.Now().UTC(),
	}
}

// StreamStatus is the connectivity state of a change stream subscription
type StreamStatus string

// Stream statuses
const (
	StreamLive     StreamStatus = "live"
	StreamDegraded StreamStatus = "degraded"
)

// StreamHandler receives callbacks from a change stream subscription.
// Both callbacks are invoked from a single goroutine per subscription, in delivery order.
type StreamHandler struct {
	// OnEvent is called for every delivered change.
	OnEvent func(ChangeEvent)

	// OnStatus is called when connectivity degrades or recovers. Optional.
	OnStatus func(status StreamStatus, err error)
}
