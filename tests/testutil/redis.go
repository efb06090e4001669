package testutil

import (
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Redis test configuration constants
const (
	redisCtxTimeout                = 10 * time.Second
	redisContainerStartupTimeout   = 60 * time.Second
	redisContainerTerminateTimeout = 5 * time.Second
	redisContainerMemoryLimit      = 128 * 1024 * 1024 // 128MB
	redisTestPoolSize              = 10
)

var (
	sharedRedis    *RedisContainer
	sharedRedisErr error
	sharedRedisMu  sync.Mutex
)

// RedisContainer is a running Redis container.
type RedisContainer struct {
	Container testcontainers.Container
	Addr      string
}

// GetSharedRedisContainer returns a singleton Redis container, restarting it if it died.
func GetSharedRedisContainer(ctx context.Context) (*RedisContainer, error) {
	sharedRedisMu.Lock()
	defer sharedRedisMu.Unlock()

	if sharedRedis != nil {
		state, err := sharedRedis.Container.State(ctx)
		if err == nil && state.Running {
			return sharedRedis, nil
		}
		terminateCtx, cancel := context.WithTimeout(context.Background(), redisContainerTerminateTimeout)
		_ = sharedRedis.Container.Terminate(terminateCtx)
		cancel()
		sharedRedis = nil
	}

	startupCtx, cancel := context.WithTimeout(context.Background(), redisContainerStartupTimeout)
	defer cancel()

	sharedRedis, sharedRedisErr = StartRedisContainer(startupCtx)
	return sharedRedis, sharedRedisErr
}

// StartRedisContainer starts a new Redis container. The caller terminates it.
func StartRedisContainer(ctx context.Context) (*RedisContainer, error) {
	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		HostConfigModifier: func(hc *container.HostConfig) {
			hc.Memory = redisContainerMemoryLimit
			hc.MemorySwap = redisContainerMemoryLimit
		},
		WaitingFor: wait.ForAll(
			wait.ForLog("Ready to accept connections").WithStartupTimeout(redisContainerStartupTimeout),
			wait.ForListeningPort("6379/tcp").WithStartupTimeout(redisContainerStartupTimeout),
		),
	}

	cont, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start Redis container: %w", err)
	}

	host, err := cont.Host(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}

	port, err := cont.MappedPort(ctx, "6379")
	if err != nil {
		return nil, fmt.Errorf("failed to get container port: %w", err)
	}

	return &RedisContainer{
		Container: cont,
		Addr:      net.JoinHostPort(host, port.Port()),
	}, nil
}

// SetupTestRedis creates a Redis client on the shared container and flushes it after the test.
func SetupTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	SkipIfShort(t)

	ctx, cancel := context.WithTimeout(context.Background(), redisCtxTimeout)
	defer cancel()

	cont, err := GetSharedRedisContainer(ctx)
	if err != nil {
		t.Fatalf("Failed to get shared Redis container: %v", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cont.Addr,
		PoolSize: redisTestPoolSize,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("Failed to ping Redis: %v", err)
	}

	t.Cleanup(func() {
		cleanupCtx, cleanupCancel := context.WithTimeout(context.Background(), redisCtxTimeout)
		defer cleanupCancel()
		_ = client.FlushDB(cleanupCtx).Err()
		_ = client.Close()
	})

	return client
}

// SetupIsolatedRedis starts a dedicated container the test may stop or restart.
func SetupIsolatedRedis(t *testing.T) (*redis.Client, *RedisContainer) {
	t.Helper()
	SkipIfShort(t)

	ctx, cancel := context.WithTimeout(context.Background(), redisContainerStartupTimeout)
	defer cancel()

	cont, err := StartRedisContainer(ctx)
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: cont.Addr})
	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("Failed to ping Redis: %v", err)
	}

	t.Cleanup(func() {
		_ = client.Close()
		terminateCtx, terminateCancel := context.WithTimeout(context.Background(), redisContainerTerminateTimeout)
		defer terminateCancel()
		_ = cont.Container.Terminate(terminateCtx)
	})

	return client, cont
}
