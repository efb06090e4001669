package healthcheck

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/lllypuk/notifysync/internal/application/appcore"
)

// RedisChecker pings Redis.
type RedisChecker struct {
	client redis.UniversalClient
}

// NewRedisChecker creates a Redis health checker.
func NewRedisChecker(client redis.UniversalClient) *RedisChecker {
	return &RedisChecker{client: client}
}

// Name returns the name of this health checker.
func (c *RedisChecker) Name() string {
	return "redis"
}

// Check performs the health check.
func (c *RedisChecker) Check(ctx context.Context) appcore.HealthStatus {
	return appcore.PingStatus(func() error {
		return c.client.Ping(ctx).Err()
	})
}
