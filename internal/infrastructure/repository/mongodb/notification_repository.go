package mongodb

import (
	"context"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	appnotification "github.com/lllypuk/notifysync/internal/application/notification"
	"github.com/lllypuk/notifysync/internal/domain/errs"
	"github.com/lllypuk/notifysync/internal/domain/notification"
)

// MongoNotificationRepository implements appnotification.Repository.
type MongoNotificationRepository struct {
	collection *mongo.Collection
	logger     *slog.Logger
}

// RepoOption configures MongoNotificationRepository.
type RepoOption func(*MongoNotificationRepository)

// WithRepoLogger sets the logger used for skipped documents.
func WithRepoLogger(logger *slog.Logger) RepoOption {
	return func(r *MongoNotificationRepository) {
		r.logger = logger
	}
}

// NewMongoNotificationRepository creates a repository over collection.
func NewMongoNotificationRepository(collection *mongo.Collection, opts ...RepoOption) *MongoNotificationRepository {
	r := &MongoNotificationRepository{
		collection: collection,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// FindByID finds a notification by its ID.
func (r *MongoNotificationRepository) FindByID(ctx context.Context, id string) (notification.Notification, error) {
	if id == "" {
		return notification.Notification{}, errs.ErrInvalidInput
	}

	var doc notificationDocument
	err := r.collection.FindOne(ctx, bson.M{"notification_id": id}).Decode(&doc)
	if err != nil {
		return notification.Notification{}, HandleMongoError(err, "find notification")
	}

	return documentToNotification(&doc), nil
}

// FindByRecipient returns the newest notifications of recipient.
func (r *MongoNotificationRepository) FindByRecipient(
	ctx context.Context,
	recipient string,
	limit int,
) ([]notification.Notification, error) {
	if recipient == "" {
		return nil, errs.ErrInvalidInput
	}

	limit = pageLimit(limit)
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "notification_id", Value: -1}}).
		SetLimit(int64(limit))

	return r.find(ctx, bson.M{"recipient": recipient}, opts)
}

// FindUnread returns every unread notification of recipient, newest first.
func (r *MongoNotificationRepository) FindUnread(
	ctx context.Context,
	recipient string,
) ([]notification.Notification, error) {
	if recipient == "" {
		return nil, errs.ErrInvalidInput
	}

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	return r.find(ctx, bson.M{"recipient": recipient, "read": false}, opts)
}

// CountUnread counts unread notifications of recipient.
func (r *MongoNotificationRepository) CountUnread(ctx context.Context, recipient string) (int, error) {
	if recipient == "" {
		return 0, errs.ErrInvalidInput
	}

	count, err := r.collection.CountDocuments(ctx, bson.M{"recipient": recipient, "read": false})
	if err != nil {
		return 0, HandleMongoError(err, "count unread notifications")
	}
	return int(count), nil
}

// Insert stores a new notification. A second insert of the same ID fails with errs.ErrAlreadyExists.
func (r *MongoNotificationRepository) Insert(ctx context.Context, n notification.Notification) error {
	if n.ID() == "" || n.Recipient() == "" {
		return errs.ErrInvalidInput
	}

	_, err := r.collection.InsertOne(ctx, notificationToDocument(n))
	return HandleMongoError(err, "insert notification")
}

// MarkRead sets the read flag and reports whether the document was unread before.
func (r *MongoNotificationRepository) MarkRead(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, errs.ErrInvalidInput
	}

	result, err := r.collection.UpdateOne(ctx,
		bson.M{"notification_id": id, "read": false},
		bson.M{"$set": bson.M{"read": true}},
	)
	if err != nil {
		return false, HandleMongoError(err, "mark notification read")
	}
	if result.ModifiedCount > 0 {
		return true, nil
	}

	// Nothing modified: either already read or missing.
	count, err := r.collection.CountDocuments(ctx, bson.M{"notification_id": id})
	if err != nil {
		return false, HandleMongoError(err, "mark notification read")
	}
	if count == 0 {
		return false, errs.ErrNotFound
	}
	return false, nil
}

// MarkManyRead marks the given notifications of recipient as read and returns how many changed.
func (r *MongoNotificationRepository) MarkManyRead(
	ctx context.Context,
	recipient string,
	ids []string,
) (int, error) {
	if recipient == "" {
		return 0, errs.ErrInvalidInput
	}
	if len(ids) == 0 {
		return 0, nil
	}

	result, err := r.collection.UpdateMany(ctx,
		bson.M{"recipient": recipient, "notification_id": bson.M{"$in": ids}, "read": false},
		bson.M{"$set": bson.M{"read": true}},
	)
	if err != nil {
		return 0, HandleMongoError(err, "mark notifications read")
	}
	return int(result.ModifiedCount), nil
}

func (r *MongoNotificationRepository) find(
	ctx context.Context,
	filter bson.M,
	opts *options.FindOptionsBuilder,
) ([]notification.Notification, error) {
	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, HandleMongoError(err, "find notifications")
	}
	defer cursor.Close(ctx)

	notifications := make([]notification.Notification, 0)
	for cursor.Next(ctx) {
		var doc notificationDocument
		if decodeErr := cursor.Decode(&doc); decodeErr != nil {
			r.logger.WarnContext(ctx, "skipping undecodable notification document",
				slog.String("error", decodeErr.Error()),
			)
			continue
		}
		notifications = append(notifications, documentToNotification(&doc))
	}

	if err = cursor.Err(); err != nil {
		return nil, HandleMongoError(err, "find notifications")
	}

	return notifications, nil
}

// notificationDocument is the MongoDB representation of a notification.
type notificationDocument struct {
	NotificationID string                   `bson:"notification_id"`
	Recipient      string                   `bson:"recipient"`
	Kind           string                   `bson:"kind"`
	Title          string                   `bson:"title"`
	Body           string                   `bson:"body"`
	Payload        bson.M                   `bson:"payload,omitempty"`
	Subject        *notification.SubjectRef `bson:"subject,omitempty"`
	Read           bool                     `bson:"read"`
	CreatedAt      time.Time                `bson:"created_at"`
}

func notificationToDocument(n notification.Notification) notificationDocument {
	var payload bson.M
	if p := n.Payload(); len(p) > 0 {
		payload = bson.M(p)
	}
	return notificationDocument{
		NotificationID: n.ID(),
		Recipient:      n.Recipient(),
		Kind:           string(n.Kind()),
		Title:          n.Title(),
		Body:           n.Body(),
		Payload:        payload,
		Subject:        n.Subject(),
		Read:           n.IsRead(),
		CreatedAt:      n.CreatedAt().UTC(),
	}
}

func documentToNotification(doc *notificationDocument) notification.Notification {
	var payload notification.Payload
	if len(doc.Payload) > 0 {
		payload = notification.Payload(doc.Payload)
	}
	return notification.Reconstruct(
		doc.NotificationID,
		doc.Recipient,
		notification.Kind(doc.Kind),
		doc.Title,
		doc.Body,
		payload,
		doc.Subject,
		doc.Read,
		doc.CreatedAt.UTC(),
	)
}

var _ appnotification.Repository = (*MongoNotificationRepository)(nil)
