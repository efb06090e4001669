package testutil

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// MongoDB test configuration constants
const (
	mongoCtxTimeout              = 10 * time.Second
	mongoContainerStartupTimeout = 90 * time.Second
	mongoContainerMemoryLimit    = 512 * 1024 * 1024 // 512MB
	mongoPingRetries             = 5
	mongoPingRetryDelay          = 500 * time.Millisecond
	maxTestNameLength            = 40
)

var (
	sharedMongo     *MongoContainer
	sharedMongoErr  error
	sharedMongoOnce sync.Once
)

// MongoContainer is a running MongoDB container.
type MongoContainer struct {
	Container testcontainers.Container
	URI       string
}

// GetSharedMongoContainer returns a singleton MongoDB container started on first use.
func GetSharedMongoContainer(ctx context.Context) (*MongoContainer, error) {
	sharedMongoOnce.Do(func() {
		sharedMongo, sharedMongoErr = startMongoContainer(ctx)
	})
	return sharedMongo, sharedMongoErr
}

func startMongoContainer(ctx context.Context) (*MongoContainer, error) {
	req := testcontainers.ContainerRequest{
		Image:        "mongo:8",
		ExposedPorts: []string{"27017/tcp"},
		Env: map[string]string{
			"MONGO_INITDB_ROOT_USERNAME": "admin",
			"MONGO_INITDB_ROOT_PASSWORD": "admin123",
		},
		HostConfigModifier: func(hc *container.HostConfig) {
			hc.Memory = mongoContainerMemoryLimit
		},
		WaitingFor: wait.ForLog("Waiting for connections").WithStartupTimeout(mongoContainerStartupTimeout),
	}

	cont, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start MongoDB container: %w", err)
	}

	host, err := cont.Host(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}

	port, err := cont.MappedPort(ctx, "27017")
	if err != nil {
		return nil, fmt.Errorf("failed to get container port: %w", err)
	}

	return &MongoContainer{
		Container: cont,
		URI:       fmt.Sprintf("mongodb://admin:admin123@%s", net.JoinHostPort(host, port.Port())),
	}, nil
}

// SetupTestMongoDB returns an isolated database on the shared container, dropped after the test.
func SetupTestMongoDB(t *testing.T) *mongo.Database {
	t.Helper()
	SkipIfShort(t)

	startupCtx, cancel := context.WithTimeout(context.Background(), mongoContainerStartupTimeout)
	defer cancel()

	cont, err := GetSharedMongoContainer(startupCtx)
	if err != nil {
		t.Fatalf("Failed to get shared MongoDB container: %v", err)
	}

	client, err := mongo.Connect(options.Client().ApplyURI(cont.URI))
	if err != nil {
		t.Fatalf("Failed to connect to MongoDB: %v", err)
	}

	for i := range mongoPingRetries {
		pingCtx, pingCancel := context.WithTimeout(context.Background(), mongoCtxTimeout)
		err = client.Ping(pingCtx, nil)
		pingCancel()
		if err == nil {
			break
		}
		if i < mongoPingRetries-1 {
			time.Sleep(mongoPingRetryDelay)
		}
	}
	if err != nil {
		t.Fatalf("Failed to ping MongoDB after %d retries: %v", mongoPingRetries, err)
	}

	db := client.Database(testDBName(t.Name()))

	t.Cleanup(func() {
		cleanupCtx, cleanupCancel := context.WithTimeout(context.Background(), mongoCtxTimeout)
		defer cleanupCancel()
		_ = db.Drop(cleanupCtx)
		_ = client.Disconnect(cleanupCtx)
	})

	return db
}

// testDBName derives a valid database name from the test name (MongoDB limit: 63 chars)
func testDBName(testName string) string {
	name := strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return r
		}
		return '_'
	}, testName)
	if len(name) > maxTestNameLength {
		hash := sha256.Sum256([]byte(testName))
		name = name[:20] + "_" + hex.EncodeToString(hash[:])[:12]
	}
	return "notifysync_test_" + name
}
