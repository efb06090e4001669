// Package mongodb provides MongoDB infrastructure components including index management.
package mongodb

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// CollectionNotifications is the collection holding notification documents.
const CollectionNotifications = "notifications"

// IndexDefinition describes a MongoDB index to be created.
type IndexDefinition struct {
	Collection string
	Name       string
	Keys       bson.D
	Options    *options.IndexOptionsBuilder
}

// CreateAllIndexes creates all necessary indexes for the application.
// Calling it again with the same definitions is a no-op.
func CreateAllIndexes(ctx context.Context, db *mongo.Database) error {
	for _, idx := range GetAllIndexDefinitions() {
		model := mongo.IndexModel{
			Keys:    idx.Keys,
			Options: idx.Options.SetName(idx.Name),
		}

		if _, err := db.Collection(idx.Collection).Indexes().CreateOne(ctx, model); err != nil {
			return fmt.Errorf("failed to create index %s on collection %s: %w", idx.Name, idx.Collection, err)
		}
	}

	return nil
}

// GetAllIndexDefinitions returns all index definitions for all collections.
func GetAllIndexDefinitions() []IndexDefinition {
	return GetNotificationIndexes()
}

// GetNotificationIndexes returns index definitions for the notifications collection.
func GetNotificationIndexes() []IndexDefinition {
	return []IndexDefinition{
		{
			// Primary key - unique notification ID
			Collection: CollectionNotifications,
			Name:       "idx_notifications_id_unique",
			Keys:       bson.D{{Key: "notification_id", Value: 1}},
			Options:    options.Index().SetUnique(true),
		},
		{
			// Feed page: newest first per recipient
			Collection: CollectionNotifications,
			Name:       "idx_notifications_recipient_time",
			Keys:       bson.D{{Key: "recipient", Value: 1}, {Key: "created_at", Value: -1}},
			Options:    options.Index(),
		},
		{
			// Unread count and mark-all
			Collection: CollectionNotifications,
			Name:       "idx_notifications_recipient_unread",
			Keys:       bson.D{{Key: "recipient", Value: 1}, {Key: "read", Value: 1}},
			Options:    options.Index(),
		},
		{
			// Lookups by listing
			Collection: CollectionNotifications,
			Name:       "idx_notifications_listing",
			Keys:       bson.D{{Key: "subject.listing_id", Value: 1}},
			Options:    options.Index().SetSparse(true),
		},
	}
}
