package notification

import (
	"github.com/lllypuk/notifysync/internal/application/appcore"
	"github.com/lllypuk/notifysync/internal/domain/notification"
)

// CreateNotificationCommand - notification creation for a recipient
type CreateNotificationCommand struct {
	Recipient string
	Kind      notification.Kind
	Title     string
	Body      string
	Payload   notification.Payload
	ListingID string
	ActorID   string
}

func (c CreateNotificationCommand) CommandName() string { return "CreateNotification" }

var _ appcore.Command = CreateNotificationCommand{}
