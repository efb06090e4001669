package eventbus

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lllypuk/notifysync/internal/domain/notification"
)

// changeEnvelope is the wire form of a change event.
type changeEnvelope struct {
	ID           string           `json:"id"`
	Kind         string           `json:"kind"`
	UserKey      string           `json:"user_key"`
	OccurredAt   time.Time        `json:"occurred_at"`
	Notification notificationJSON `json:"notification"`
}

// notificationJSON is a JSON-serializable version of notification.Notification.
type notificationJSON struct {
	ID        string                   `json:"id"`
	Recipient string                   `json:"recipient"`
	Kind      string                   `json:"kind"`
	Title     string                   `json:"title"`
	Body      string                   `json:"body"`
	Payload   map[string]any           `json:"payload,omitempty"`
	Subject   *notification.SubjectRef `json:"subject,omitempty"`
	Read      bool                     `json:"read"`
	CreatedAt time.Time                `json:"created_at"`
}

func toNotificationJSON(n notification.Notification) notificationJSON {
	return notificationJSON{
		ID:        n.ID(),
		Recipient: n.Recipient(),
		Kind:      string(n.Kind()),
		Title:     n.Title(),
		Body:      n.Body(),
		Payload:   n.Payload(),
		Subject:   n.Subject(),
		Read:      n.IsRead(),
		CreatedAt: n.CreatedAt(),
	}
}

func (j notificationJSON) toNotification() notification.Notification {
	return notification.Reconstruct(
		j.ID,
		j.Recipient,
		notification.Kind(j.Kind),
		j.Title,
		j.Body,
		j.Payload,
		j.Subject,
		j.Read,
		j.CreatedAt,
	)
}

// encodeEvent serializes ev for userKey's channel.
func encodeEvent(userKey string, ev notification.ChangeEvent) ([]byte, error) {
	if !ev.Kind.IsValid() {
		return nil, fmt.Errorf("unknown change kind %q", ev.Kind)
	}
	data, err := json.Marshal(changeEnvelope{
		ID:           ev.ID,
		Kind:         string(ev.Kind),
		UserKey:      userKey,
		OccurredAt:   ev.OccurredAt,
		Notification: toNotificationJSON(ev.Notification),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal change event: %w", err)
	}
	return data, nil
}

// decodeEvent parses a change event received on a channel.
func decodeEvent(data []byte) (notification.ChangeEvent, error) {
	var envelope changeEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return notification.ChangeEvent{}, fmt.Errorf("failed to unmarshal change event: %w", err)
	}
	if envelope.Notification.ID == "" {
		return notification.ChangeEvent{}, errors.New("change event without notification id")
	}
	return notification.ChangeEvent{
		ID:           envelope.ID,
		Kind:         notification.ChangeKind(envelope.Kind),
		Notification: envelope.Notification.toNotification(),
		OccurredAt:   envelope.OccurredAt,
	}, nil
}
