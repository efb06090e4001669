package notification

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lllypuk/notifysync/internal/application/appcore"
	"github.com/lllypuk/notifysync/internal/domain/notification"
)

// CreateNotificationUseCase handles notification creation
type CreateNotificationUseCase struct {
	notificationRepo Repository
	publisher        Publisher
	logger           *slog.Logger
}

// NewCreateNotificationUseCase creates a new use case for creating notifications.
// The publisher pushes the insert onto the recipient's change stream.
func NewCreateNotificationUseCase(
	notificationRepo Repository,
	publisher Publisher,
	logger *slog.Logger,
) *CreateNotificationUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &CreateNotificationUseCase{
		notificationRepo: notificationRepo,
		publisher:        publisher,
		logger:           logger,
	}
}

// Execute performs notification creation
func (uc *CreateNotificationUseCase) Execute(
	ctx context.Context,
	cmd CreateNotificationCommand,
) (notification.Notification, error) {
	// validation
	if err := uc.validate(cmd); err != nil {
		return notification.Notification{}, fmt.Errorf("validation failed: %w", err)
	}

	notif, err := notification.NewNotification(
		cmd.Recipient,
		cmd.Kind,
		cmd.Title,
		cmd.Body,
		cmd.Payload,
		&notification.SubjectRef{ListingID: cmd.ListingID, ActorID: cmd.ActorID},
	)
	if err != nil {
		return notification.Notification{}, fmt.Errorf("failed to create notification: %w", err)
	}

	// storage
	if saveErr := uc.notificationRepo.Insert(ctx, notif); saveErr != nil {
		return notification.Notification{}, fmt.Errorf("failed to save notification: %w", saveErr)
	}

	// the row is stored; a lost event is repaired by the subscriber's next refresh
	if pubErr := uc.publisher.Publish(ctx, notif.Recipient(), notification.NewInserted(notif)); pubErr != nil {
		uc.logger.WarnContext(ctx, "failed to publish notification insert",
			slog.String("notification_id", notif.ID()),
			slog.String("recipient", notif.Recipient()),
			slog.String("error", pubErr.Error()),
		)
	}

	return notif, nil
}

// validate validates commands
func (uc *CreateNotificationUseCase) validate(cmd CreateNotificationCommand) error {
	if err := appcore.ValidateRequired("recipient", cmd.Recipient); err != nil {
		return err
	}
	kinds := make([]string, 0, len(notification.Kinds()))
	for _, k := range notification.Kinds() {
		kinds = append(kinds, string(k))
	}
	if err := appcore.ValidateEnum("kind", string(cmd.Kind), kinds); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidNotificationKind, err)
	}
	if err := appcore.ValidateRequired("title", cmd.Title); err != nil {
		return err
	}
	if err := appcore.ValidateMaxLength("title", cmd.Title, appcore.MaxTitleLength); err != nil {
		return err
	}
	if err := appcore.ValidateRequired("body", cmd.Body); err != nil {
		return err
	}
	if err := appcore.ValidateMaxLength("body", cmd.Body, appcore.MaxBodyLength); err != nil {
		return err
	}
	return nil
}

var _ appcore.UseCase[CreateNotificationCommand, notification.Notification] = (*CreateNotificationUseCase)(nil)
