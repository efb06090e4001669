package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/lllypuk/notifysync/internal/application/appcore"
	appnotification "github.com/lllypuk/notifysync/internal/application/notification"
	"github.com/lllypuk/notifysync/internal/config"
	httphandler "github.com/lllypuk/notifysync/internal/handler/http"
	wshandler "github.com/lllypuk/notifysync/internal/handler/websocket"
	"github.com/lllypuk/notifysync/internal/infrastructure/eventbus"
	"github.com/lllypuk/notifysync/internal/infrastructure/healthcheck"
	"github.com/lllypuk/notifysync/internal/infrastructure/httpserver"
	"github.com/lllypuk/notifysync/internal/infrastructure/metrics"
	mongodbinfra "github.com/lllypuk/notifysync/internal/infrastructure/mongodb"
	"github.com/lllypuk/notifysync/internal/infrastructure/repository/memory"
	mongorepo "github.com/lllypuk/notifysync/internal/infrastructure/repository/mongodb"
	"github.com/lllypuk/notifysync/internal/infrastructure/websocket"
	"github.com/lllypuk/notifysync/internal/middleware"
)

// Container timeouts.
const (
	containerInitTimeout   = 30 * time.Second
	redisPingTimeout       = 5 * time.Second
	mongoDisconnectTimeout = 10 * time.Second
	registryCloseTimeout   = 10 * time.Second
)

// Container holds every wired dependency of the sync server.
type Container struct {
	Config *config.Config
	Logger *slog.Logger

	// Infrastructure (nil in mock mode)
	MongoDB *mongo.Client
	Redis   *redis.Client

	Metrics         *metrics.SyncMetrics
	MetricsRegistry *prometheus.Registry

	Stream         appnotification.EventStream
	Publisher      appnotification.Publisher
	RateLimitStore middleware.RateLimitStore
	Hub            *websocket.Hub
	Broadcaster    *websocket.Broadcaster

	// Application
	Repository    appnotification.Repository
	Feed          *appnotification.FeedService
	CreateUseCase *appnotification.CreateNotificationUseCase
	Registry      *appnotification.Registry

	// Handlers
	NotificationHandler *httphandler.NotificationHandler
	WSHandler           *wshandler.Handler

	checkers []appcore.HealthChecker
}

// ContainerOption configures the Container.
type ContainerOption func(*Container)

// WithLogger sets the logger for the container.
func WithLogger(logger *slog.Logger) ContainerOption {
	return func(c *Container) {
		c.Logger = logger
	}
}

// NewContainer wires every component according to cfg.
func NewContainer(cfg *config.Config, opts ...ContainerOption) (*Container, error) {
	c := &Container{
		Config: cfg,
		Logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.logWiringMode()
	c.setupMetrics()

	if err := c.setupInfrastructure(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to setup infrastructure: %w", err)
	}

	c.setupApplication()
	c.setupHandlers()
	c.setupHealthCheckers()

	if err := c.validateWiring(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("wiring validation failed: %w", err)
	}

	c.Logger.Info("container initialized successfully")
	return c, nil
}

func (c *Container) logWiringMode() {
	if c.Config.App.IsMockMode() {
		c.Logger.Warn("running in MOCK mode: notifications are kept in memory",
			slog.String("mode", string(c.Config.App.Mode)),
		)
		return
	}
	c.Logger.Info("running in REAL mode",
		slog.String("mongodb", c.Config.MongoDB.Database),
		slog.String("redis", c.Config.Redis.Addr),
		slog.String("eventbus", c.Config.EventBus.Type),
	)
}

func (c *Container) setupMetrics() {
	c.MetricsRegistry = prometheus.NewRegistry()
	c.MetricsRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	c.Metrics = metrics.NewSyncMetrics(c.MetricsRegistry)
}

func (c *Container) setupInfrastructure() error {
	ctx, cancel := context.WithTimeout(context.Background(), containerInitTimeout)
	defer cancel()

	if c.Config.App.IsMockMode() {
		c.setupMockInfrastructure()
	} else {
		if err := c.setupMongoDB(ctx); err != nil {
			return fmt.Errorf("mongodb: %w", err)
		}
		if err := c.setupRedis(ctx); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		c.setupEventBus()
		c.RateLimitStore = middleware.NewRedisRateLimitStore(c.Redis, c.Config.EventBus.RedisChannelPrefix+"ratelimit:")
	}

	c.Hub = websocket.NewHub(
		websocket.WithHubLogger(c.Logger),
		websocket.WithConnectionObserver(c.Metrics),
	)
	c.Broadcaster = websocket.NewBroadcaster(c.Hub, websocket.WithBroadcasterLogger(c.Logger))
	return nil
}

func (c *Container) setupMockInfrastructure() {
	stream := eventbus.NewInMemoryChangeStream(c.Logger)
	c.Stream = stream
	c.Publisher = stream
	c.Repository = memory.NewNotificationRepository()
	c.RateLimitStore = middleware.NewMemoryRateLimitStore()
}

func (c *Container) setupMongoDB(ctx context.Context) error {
	clientOpts := options.Client().
		ApplyURI(c.Config.MongoDB.URI).
		SetMaxPoolSize(c.Config.MongoDB.MaxPoolSize)

	client, connectErr := mongo.Connect(clientOpts)
	if connectErr != nil {
		return fmt.Errorf("failed to connect: %w", connectErr)
	}
	c.MongoDB = client

	pingCtx, cancel := context.WithTimeout(ctx, c.Config.MongoDB.Timeout)
	defer cancel()

	if pingErr := client.Ping(pingCtx, nil); pingErr != nil {
		return fmt.Errorf("failed to ping: %w", pingErr)
	}

	c.Logger.InfoContext(ctx, "connected to MongoDB",
		slog.String("database", c.Config.MongoDB.Database),
	)

	db := client.Database(c.Config.MongoDB.Database)
	indexCtx, indexCancel := context.WithTimeout(ctx, c.Config.MongoDB.Timeout)
	defer indexCancel()

	if indexErr := mongodbinfra.CreateAllIndexes(indexCtx, db); indexErr != nil {
		return fmt.Errorf("failed to create indexes: %w", indexErr)
	}

	c.Repository = mongorepo.NewMongoNotificationRepository(
		db.Collection(mongodbinfra.CollectionNotifications),
		mongorepo.WithRepoLogger(c.Logger),
	)
	return nil
}

func (c *Container) setupRedis(ctx context.Context) error {
	c.Redis = redis.NewClient(&redis.Options{
		Addr:     c.Config.Redis.Addr,
		Password: c.Config.Redis.Password,
		DB:       c.Config.Redis.DB,
		PoolSize: c.Config.Redis.PoolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()

	if pingErr := c.Redis.Ping(pingCtx).Err(); pingErr != nil {
		return fmt.Errorf("failed to ping: %w", pingErr)
	}

	c.Logger.InfoContext(ctx, "connected to Redis",
		slog.String("addr", c.Config.Redis.Addr),
	)
	return nil
}

func (c *Container) setupEventBus() {
	if c.Config.EventBus.Type == "inmemory" {
		stream := eventbus.NewInMemoryChangeStream(c.Logger)
		c.Stream = stream
		c.Publisher = stream
		c.Logger.Warn("in-memory change stream: events do not reach other instances")
		return
	}

	stream := eventbus.NewRedisChangeStream(c.Redis,
		eventbus.WithLogger(c.Logger),
		eventbus.WithChannelPrefix(c.Config.EventBus.RedisChannelPrefix),
		eventbus.WithPublishObserver(c.Metrics),
	)
	c.Stream = stream
	c.Publisher = stream
}

// engineConfig maps the sync section onto the engine configuration.
func (c *Container) engineConfig() appnotification.EngineConfig {
	sc := c.Config.Sync
	return appnotification.EngineConfig{
		RefreshInterval: sc.RefreshInterval,
		WriteTimeout:    sc.WriteTimeout,
		OpBuffer:        sc.OpBuffer,
		LoadRetry: appnotification.RetryConfig{
			InitialInterval: sc.LoadInitialBackoff,
			MaxInterval:     sc.LoadMaxBackoff,
			MaxElapsedTime:  sc.LoadMaxElapsed,
		},
		StreamRetry: appnotification.RetryConfig{
			InitialInterval: sc.StreamRetryInitial,
			MaxInterval:     sc.StreamRetryMax,
		},
	}
}

func (c *Container) setupApplication() {
	c.Feed = appnotification.NewFeedService(c.Repository, c.Publisher,
		appnotification.WithPageSize(c.Config.Sync.PageSize),
		appnotification.WithFeedLogger(c.Logger),
	)
	c.CreateUseCase = appnotification.NewCreateNotificationUseCase(c.Repository, c.Publisher, c.Logger)
	c.Registry = appnotification.NewRegistry(c.Feed, c.Stream, c.Logger,
		appnotification.WithEngineConfig(c.engineConfig()),
		appnotification.WithEngineMetrics(c.Metrics),
	)
}

func (c *Container) setupHandlers() {
	c.NotificationHandler = httphandler.NewNotificationHandler(
		httphandler.SessionsFromRegistry(c.Registry),
		c.CreateUseCase,
	)

	wsCfg := c.Config.WebSocket
	clientConfig := websocket.DefaultClientConfig()
	clientConfig.ReadBufferSize = wsCfg.ReadBufferSize
	clientConfig.WriteBufferSize = wsCfg.WriteBufferSize
	clientConfig.PingInterval = wsCfg.PingInterval
	clientConfig.PongWait = wsCfg.PongTimeout
	clientConfig.OperationTimeout = wsCfg.OperationTimeout

	handlerConfig := wshandler.DefaultHandlerConfig()
	handlerConfig.ReadBufferSize = wsCfg.ReadBufferSize
	handlerConfig.WriteBufferSize = wsCfg.WriteBufferSize
	handlerConfig.AcquireTimeout = wsCfg.AcquireTimeout
	handlerConfig.CheckOrigin = c.CORSConfig().CheckOrigin
	handlerConfig.Logger = c.Logger
	handlerConfig.ClientConfig = clientConfig

	c.WSHandler = wshandler.NewHandler(c.Hub, c.Broadcaster,
		wshandler.SessionsFromRegistry(c.Registry),
		wshandler.WithHandlerConfig(handlerConfig),
	)
}

func (c *Container) setupHealthCheckers() {
	if c.MongoDB != nil {
		c.checkers = append(c.checkers, healthcheck.NewMongoChecker(c.MongoDB))
	}
	if c.Redis != nil {
		c.checkers = append(c.checkers, healthcheck.NewRedisChecker(c.Redis))
	}
	c.checkers = append(c.checkers, healthcheck.NewSessionsChecker(c.Registry, c.Hub,
		healthcheck.WithMaxSessions(c.Config.Sync.MaxSessions),
	))
}

// CORSConfig returns the browser origin policy shared by REST and WebSocket routes.
func (c *Container) CORSConfig() middleware.CORSConfig {
	return middleware.DefaultCORSConfig().WithOrigins(c.Config.Server.AllowedOrigins...)
}

// HealthChecker returns the composite checker behind the health endpoints.
func (c *Container) HealthChecker() *httpserver.CompositeChecker {
	return httpserver.NewCompositeChecker(c.checkers...)
}

// validateWiring ensures every required component is present.
func (c *Container) validateWiring() error {
	var errs []error

	if c.Repository == nil {
		errs = append(errs, errors.New("repository not initialized"))
	}
	if c.Stream == nil || c.Publisher == nil {
		errs = append(errs, errors.New("change stream not initialized"))
	}
	if c.Registry == nil {
		errs = append(errs, errors.New("session registry not initialized"))
	}
	if c.NotificationHandler == nil || c.WSHandler == nil {
		errs = append(errs, errors.New("handlers not initialized"))
	}
	if c.Config.App.IsRealMode() && (c.MongoDB == nil || c.Redis == nil) {
		errs = append(errs, errors.New("real mode requires MongoDB and Redis"))
	}

	return errors.Join(errs...)
}

// StartHub runs the WebSocket hub until ctx is cancelled.
func (c *Container) StartHub(ctx context.Context) {
	go c.Hub.Run(ctx)
}

// Close releases every resource in reverse order of creation.
func (c *Container) Close() error {
	c.Logger.Info("closing container resources...")

	var errs []error

	if c.Registry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), registryCloseTimeout)
		if err := c.Registry.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("session registry close: %w", err))
		} else {
			c.Logger.Debug("sync sessions stopped")
		}
		cancel()
	}

	if c.Broadcaster != nil {
		c.Broadcaster.Close()
	}

	if c.Hub != nil {
		c.Hub.Stop()
		c.Logger.Debug("websocket hub stopped")
	}

	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close: %w", err))
		} else {
			c.Logger.Debug("redis connection closed")
		}
	}

	if c.MongoDB != nil {
		ctx, cancel := context.WithTimeout(context.Background(), mongoDisconnectTimeout)
		defer cancel()

		if err := c.MongoDB.Disconnect(ctx); err != nil {
			errs = append(errs, fmt.Errorf("mongodb disconnect: %w", err))
		} else {
			c.Logger.Debug("mongodb connection closed")
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	c.Logger.Info("all container resources closed")
	return nil
}
