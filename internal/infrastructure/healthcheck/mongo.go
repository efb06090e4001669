// Package healthcheck provides health checks for the service's backing stores and sessions.
package healthcheck

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/lllypuk/notifysync/internal/application/appcore"
)

// MongoChecker pings the MongoDB primary.
type MongoChecker struct {
	client *mongo.Client
}

// NewMongoChecker creates a MongoDB health checker.
func NewMongoChecker(client *mongo.Client) *MongoChecker {
	return &MongoChecker{client: client}
}

// Name returns the name of this health checker.
func (c *MongoChecker) Name() string {
	return "mongodb"
}

// Check performs the health check.
func (c *MongoChecker) Check(ctx context.Context) appcore.HealthStatus {
	return appcore.PingStatus(func() error {
		return c.client.Ping(ctx, readpref.Primary())
	})
}
