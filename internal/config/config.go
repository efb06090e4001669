// Package config provides configuration loading and validation for the application.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default configuration constants.
const (
	DefaultHost            = "0.0.0.0"
	DefaultPort            = 8080
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 30 * time.Second
	DefaultShutdownTimeout = 10 * time.Second

	DefaultMongoDBTimeout     = 10 * time.Second
	DefaultMongoDBMaxPoolSize = 100

	DefaultRedisPoolSize = 10

	DefaultWSBufferSize       = 1024
	DefaultWSPingInterval     = 30 * time.Second
	DefaultWSPongTimeout      = 60 * time.Second
	DefaultWSAcquireTimeout   = 30 * time.Second
	DefaultWSOperationTimeout = 15 * time.Second

	DefaultSyncPageSize           = 50
	DefaultSyncRefreshInterval    = 5 * time.Minute
	DefaultSyncLoadInitialBackoff = 500 * time.Millisecond
	DefaultSyncLoadMaxBackoff     = 30 * time.Second
	DefaultSyncLoadMaxElapsed     = 2 * time.Minute
	DefaultSyncStreamRetryInitial = time.Second
	DefaultSyncStreamRetryMax     = time.Minute
	DefaultSyncWriteTimeout       = 10 * time.Second
	DefaultSyncOpBuffer           = 256
	DefaultSyncMaxSessions        = 10000

	DefaultRateLimitRequests = 100
	DefaultRateLimitWindow   = time.Minute
	DefaultRateLimitBurst    = 10
)

// AppMode defines the application wiring mode.
type AppMode string

// Application wiring modes.
const (
	// AppModeReal uses real implementations (MongoDB, Redis).
	// This is the default mode and should be used in production.
	AppModeReal AppMode = "real"

	// AppModeMock keeps notifications and the change stream in memory for development/testing.
	// This mode is NOT allowed in production environments.
	AppModeMock AppMode = "mock"
)

// Config holds the complete application configuration.
type Config struct {
	App       AppConfig       `yaml:"app"`
	Server    ServerConfig    `yaml:"server"`
	MongoDB   MongoDBConfig   `yaml:"mongodb"`
	Redis     RedisConfig     `yaml:"redis"`
	EventBus  EventBusConfig  `yaml:"eventbus"`
	Log       LogConfig       `yaml:"log"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Sync      SyncConfig      `yaml:"sync"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// AppConfig holds application-level configuration.
type AppConfig struct {
	// Mode controls dependency wiring: "real" (default) or "mock".
	// In production, only "real" mode is allowed.
	Mode AppMode `yaml:"mode" env:"APP_MODE"`

	// Name is the application name used in logs and metrics.
	Name string `yaml:"name" env:"APP_NAME"`

	// Environment is "development" (default) or "production".
	Environment string `yaml:"environment" env:"APP_ENV"`
}

// IsRealMode returns true if the application should use real implementations.
func (c AppConfig) IsRealMode() bool {
	return c.Mode == "" || c.Mode == AppModeReal
}

// IsMockMode returns true if the application should use mock implementations.
func (c AppConfig) IsMockMode() bool {
	return c.Mode == AppModeMock
}

// ServerConfig holds HTTP server configuration.
//
//nolint:golines // Struct tags require longer lines for readability
type ServerConfig struct {
	Host            string        `yaml:"host" env:"SERVER_HOST"`
	Port            int           `yaml:"port" env:"SERVER_PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"SERVER_READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"SERVER_WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SERVER_SHUTDOWN_TIMEOUT"`
	BodyLimit       string        `yaml:"body_limit" env:"SERVER_BODY_LIMIT"`
	AllowedOrigins  []string      `yaml:"allowed_origins" env:"SERVER_ALLOWED_ORIGINS"` // comma separated in env
}

// Address returns the full server address (host:port).
func (c ServerConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// MongoDBConfig holds MongoDB connection configuration.
//
//nolint:golines // Struct tags require longer lines for readability
type MongoDBConfig struct {
	URI         string        `yaml:"uri" env:"MONGODB_URI"`
	Database    string        `yaml:"database" env:"MONGODB_DATABASE"`
	Timeout     time.Duration `yaml:"timeout" env:"MONGODB_TIMEOUT"`
	MaxPoolSize uint64        `yaml:"max_pool_size" env:"MONGODB_MAX_POOL_SIZE"`
}

// RedisConfig holds Redis connection configuration.
//
//nolint:golines // Struct tags require longer lines for readability
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"REDIS_ADDR"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB"`
	PoolSize int    `yaml:"pool_size" env:"REDIS_POOL_SIZE"`
}

// EventBusConfig holds event bus configuration.
//
//nolint:golines // Struct tags require longer lines for readability
type EventBusConfig struct {
	Type               string `yaml:"type" env:"EVENTBUS_TYPE"` // redis | inmemory
	RedisChannelPrefix string `yaml:"redis_channel_prefix" env:"EVENTBUS_REDIS_CHANNEL_PREFIX"`
}

// LogConfig holds logging configuration.
//
//nolint:golines // Struct tags require longer lines for readability
type LogConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`   // debug | info | warn | error
	Format string `yaml:"format" env:"LOG_FORMAT"` // json | text
}

// WebSocketConfig holds WebSocket server configuration.
//
//nolint:golines // Struct tags require longer lines for readability
type WebSocketConfig struct {
	ReadBufferSize   int           `yaml:"read_buffer_size" env:"WS_READ_BUFFER_SIZE"`
	WriteBufferSize  int           `yaml:"write_buffer_size" env:"WS_WRITE_BUFFER_SIZE"`
	PingInterval     time.Duration `yaml:"ping_interval" env:"WS_PING_INTERVAL"`
	PongTimeout      time.Duration `yaml:"pong_timeout" env:"WS_PONG_TIMEOUT"`
	AcquireTimeout   time.Duration `yaml:"acquire_timeout" env:"WS_ACQUIRE_TIMEOUT"`
	OperationTimeout time.Duration `yaml:"operation_timeout" env:"WS_OPERATION_TIMEOUT"`
}

// SyncConfig holds the per-user sync engine configuration.
//
//nolint:golines // Struct tags require longer lines for readability
type SyncConfig struct {
	PageSize           int           `yaml:"page_size" env:"SYNC_PAGE_SIZE"`
	RefreshInterval    time.Duration `yaml:"refresh_interval" env:"SYNC_REFRESH_INTERVAL"` // 0 disables periodic reloads
	LoadInitialBackoff time.Duration `yaml:"load_initial_backoff" env:"SYNC_LOAD_INITIAL_BACKOFF"`
	LoadMaxBackoff     time.Duration `yaml:"load_max_backoff" env:"SYNC_LOAD_MAX_BACKOFF"`
	LoadMaxElapsed     time.Duration `yaml:"load_max_elapsed" env:"SYNC_LOAD_MAX_ELAPSED"`
	StreamRetryInitial time.Duration `yaml:"stream_retry_initial" env:"SYNC_STREAM_RETRY_INITIAL"`
	StreamRetryMax     time.Duration `yaml:"stream_retry_max" env:"SYNC_STREAM_RETRY_MAX"`
	WriteTimeout       time.Duration `yaml:"write_timeout" env:"SYNC_WRITE_TIMEOUT"`
	OpBuffer           int           `yaml:"op_buffer" env:"SYNC_OP_BUFFER"`
	MaxSessions        int           `yaml:"max_sessions" env:"SYNC_MAX_SESSIONS"`
}

// RateLimitConfig holds request rate limiting configuration.
//
//nolint:golines // Struct tags require longer lines for readability
type RateLimitConfig struct {
	Enabled  bool          `yaml:"enabled" env:"RATE_LIMIT_ENABLED"`
	Requests int           `yaml:"requests" env:"RATE_LIMIT_REQUESTS"`
	Window   time.Duration `yaml:"window" env:"RATE_LIMIT_WINDOW"`
	Burst    int           `yaml:"burst" env:"RATE_LIMIT_BURST"`
}

// Configuration errors.
var (
	ErrConfigNotFound      = errors.New("configuration file not found")
	ErrConfigInvalid       = errors.New("invalid configuration")
	ErrMissingRequired     = errors.New("missing required configuration")
	ErrInvalidDuration     = errors.New("invalid duration format")
	ErrInvalidLogLevel     = errors.New("invalid log level: must be debug, info, warn, or error")
	ErrInvalidLogFormat    = errors.New("invalid log format: must be json or text")
	ErrInvalidEventBusType = errors.New("invalid event bus type: must be redis or inmemory")
	ErrInvalidAppMode      = errors.New("invalid app mode: must be real or mock")
	ErrInvalidEnvironment  = errors.New("invalid environment: must be development or production")
	ErrMockModeInProd      = errors.New("mock mode is not allowed in production")
)

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Mode:        AppModeReal,
			Name:        "notifysync",
			Environment: "development",
		},
		Server: ServerConfig{
			Host:            DefaultHost,
			Port:            DefaultPort,
			ReadTimeout:     DefaultReadTimeout,
			WriteTimeout:    DefaultWriteTimeout,
			ShutdownTimeout: DefaultShutdownTimeout,
			BodyLimit:       "1M",
		},
		MongoDB: MongoDBConfig{
			URI:         "mongodb://localhost:27017",
			Database:    "notifysync",
			Timeout:     DefaultMongoDBTimeout,
			MaxPoolSize: DefaultMongoDBMaxPoolSize,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			Password: "",
			DB:       0,
			PoolSize: DefaultRedisPoolSize,
		},
		EventBus: EventBusConfig{
			Type:               "redis",
			RedisChannelPrefix: "notifysync:",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:   DefaultWSBufferSize,
			WriteBufferSize:  DefaultWSBufferSize,
			PingInterval:     DefaultWSPingInterval,
			PongTimeout:      DefaultWSPongTimeout,
			AcquireTimeout:   DefaultWSAcquireTimeout,
			OperationTimeout: DefaultWSOperationTimeout,
		},
		Sync: SyncConfig{
			PageSize:           DefaultSyncPageSize,
			RefreshInterval:    DefaultSyncRefreshInterval,
			LoadInitialBackoff: DefaultSyncLoadInitialBackoff,
			LoadMaxBackoff:     DefaultSyncLoadMaxBackoff,
			LoadMaxElapsed:     DefaultSyncLoadMaxElapsed,
			StreamRetryInitial: DefaultSyncStreamRetryInitial,
			StreamRetryMax:     DefaultSyncStreamRetryMax,
			WriteTimeout:       DefaultSyncWriteTimeout,
			OpBuffer:           DefaultSyncOpBuffer,
			MaxSessions:        DefaultSyncMaxSessions,
		},
		RateLimit: RateLimitConfig{
			Enabled:  true,
			Requests: DefaultRateLimitRequests,
			Window:   DefaultRateLimitWindow,
			Burst:    DefaultRateLimitBurst,
		},
	}
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	var errs []error

	errs = c.validateApp(errs)
	errs = c.validateServer(errs)
	errs = c.validateMongoDB(errs)
	errs = c.validateRedis(errs)
	errs = c.validateLog(errs)
	errs = c.validateEventBus(errs)
	errs = c.validateWebSocket(errs)
	errs = c.validateSync(errs)
	errs = c.validateRateLimit(errs)

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrConfigInvalid, errors.Join(errs...))
	}

	return nil
}

// validateApp validates application configuration.
func (c *Config) validateApp(errs []error) []error {
	if c.App.Mode != "" && c.App.Mode != AppModeReal && c.App.Mode != AppModeMock {
		errs = append(errs, fmt.Errorf("%w: got %q", ErrInvalidAppMode, c.App.Mode))
	}
	validEnvironments := map[string]bool{"": true, "development": true, "production": true}
	if !validEnvironments[strings.ToLower(c.App.Environment)] {
		errs = append(errs, fmt.Errorf("%w: got %q", ErrInvalidEnvironment, c.App.Environment))
	}
	if c.App.IsMockMode() && c.IsProduction() {
		errs = append(errs, ErrMockModeInProd)
	}
	return errs
}

// validateServer validates server configuration.
func (c *Config) validateServer(errs []error) []error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.Server.ReadTimeout <= 0 {
		errs = append(errs, errors.New("server.read_timeout must be positive"))
	}
	if c.Server.WriteTimeout <= 0 {
		errs = append(errs, errors.New("server.write_timeout must be positive"))
	}
	return errs
}

// validateMongoDB validates MongoDB configuration.
func (c *Config) validateMongoDB(errs []error) []error {
	if c.MongoDB.URI == "" {
		errs = append(errs, errors.New("mongodb.uri is required"))
	}
	if c.MongoDB.Database == "" {
		errs = append(errs, errors.New("mongodb.database is required"))
	}
	return errs
}

// validateRedis validates Redis configuration.
func (c *Config) validateRedis(errs []error) []error {
	if c.Redis.Addr == "" {
		errs = append(errs, errors.New("redis.addr is required"))
	}
	return errs
}

// validateLog validates logging configuration.
func (c *Config) validateLog(errs []error) []error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[strings.ToLower(c.Log.Level)] {
		errs = append(errs, ErrInvalidLogLevel)
	}
	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[strings.ToLower(c.Log.Format)] {
		errs = append(errs, ErrInvalidLogFormat)
	}
	return errs
}

// validateEventBus validates event bus configuration.
func (c *Config) validateEventBus(errs []error) []error {
	validEventBusTypes := map[string]bool{"redis": true, "inmemory": true}
	if !validEventBusTypes[strings.ToLower(c.EventBus.Type)] {
		errs = append(errs, ErrInvalidEventBusType)
	}
	return errs
}

// validateWebSocket validates WebSocket configuration.
func (c *Config) validateWebSocket(errs []error) []error {
	if c.WebSocket.ReadBufferSize <= 0 {
		errs = append(errs, errors.New("websocket.read_buffer_size must be positive"))
	}
	if c.WebSocket.WriteBufferSize <= 0 {
		errs = append(errs, errors.New("websocket.write_buffer_size must be positive"))
	}
	if c.WebSocket.PingInterval <= 0 {
		errs = append(errs, errors.New("websocket.ping_interval must be positive"))
	}
	if c.WebSocket.PongTimeout <= 0 {
		errs = append(errs, errors.New("websocket.pong_timeout must be positive"))
	}
	if c.WebSocket.PingInterval >= c.WebSocket.PongTimeout {
		errs = append(errs, errors.New("websocket.ping_interval must be shorter than websocket.pong_timeout"))
	}
	if c.WebSocket.AcquireTimeout <= 0 {
		errs = append(errs, errors.New("websocket.acquire_timeout must be positive"))
	}
	if c.WebSocket.OperationTimeout <= 0 {
		errs = append(errs, errors.New("websocket.operation_timeout must be positive"))
	}
	return errs
}

// validateSync validates sync engine configuration.
func (c *Config) validateSync(errs []error) []error {
	if c.Sync.PageSize <= 0 {
		errs = append(errs, errors.New("sync.page_size must be positive"))
	}
	if c.Sync.RefreshInterval < 0 {
		errs = append(errs, errors.New("sync.refresh_interval must not be negative"))
	}
	if c.Sync.LoadInitialBackoff <= 0 {
		errs = append(errs, errors.New("sync.load_initial_backoff must be positive"))
	}
	if c.Sync.LoadMaxBackoff < c.Sync.LoadInitialBackoff {
		errs = append(errs, errors.New("sync.load_max_backoff must not be less than sync.load_initial_backoff"))
	}
	if c.Sync.LoadMaxElapsed < 0 {
		errs = append(errs, errors.New("sync.load_max_elapsed must not be negative"))
	}
	if c.Sync.StreamRetryInitial <= 0 {
		errs = append(errs, errors.New("sync.stream_retry_initial must be positive"))
	}
	if c.Sync.StreamRetryMax < c.Sync.StreamRetryInitial {
		errs = append(errs, errors.New("sync.stream_retry_max must not be less than sync.stream_retry_initial"))
	}
	if c.Sync.WriteTimeout <= 0 {
		errs = append(errs, errors.New("sync.write_timeout must be positive"))
	}
	if c.Sync.OpBuffer <= 0 {
		errs = append(errs, errors.New("sync.op_buffer must be positive"))
	}
	if c.Sync.MaxSessions <= 0 {
		errs = append(errs, errors.New("sync.max_sessions must be positive"))
	}
	return errs
}

// validateRateLimit validates rate limiting configuration.
func (c *Config) validateRateLimit(errs []error) []error {
	if !c.RateLimit.Enabled {
		return errs
	}
	if c.RateLimit.Requests <= 0 {
		errs = append(errs, errors.New("rate_limit.requests must be positive"))
	}
	if c.RateLimit.Window <= 0 {
		errs = append(errs, errors.New("rate_limit.window must be positive"))
	}
	if c.RateLimit.Burst < 0 {
		errs = append(errs, errors.New("rate_limit.burst must not be negative"))
	}
	return errs
}

// Load loads configuration from the default config file and environment variables.
func Load() (*Config, error) {
	return LoadFromPath("")
}

// LoadFromPath loads configuration from a specific file path.
// If path is empty, it tries to find the config file in standard locations.
func LoadFromPath(path string) (*Config, error) {
	loader := NewLoader()
	return loader.Load(path)
}

// Loader handles configuration loading from files and environment variables.
type Loader struct {
	configPaths []string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		configPaths: []string{
			"configs/config.yaml",
			"config.yaml",
			"/etc/notifysync/config.yaml",
		},
	}
}

// WithConfigPaths sets custom config paths to search.
func (l *Loader) WithConfigPaths(paths []string) *Loader {
	l.configPaths = paths
	return l
}

// Load builds the configuration in layers: defaults, then the YAML file, then
// environment overrides. A missing or broken file is fatal only when the path
// was chosen explicitly through the argument or CONFIG_PATH.
func (l *Loader) Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	configPath, explicit := l.resolvePath(path)
	if configPath != "" {
		if err := l.loadFromFile(cfg, configPath); err != nil && explicit {
			return nil, fmt.Errorf("failed to load config from %s: %w", configPath, err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (l *Loader) resolvePath(path string) (string, bool) {
	if path != "" {
		return path, true
	}
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		return envPath, true
	}
	for _, p := range l.configPaths {
		if _, err := os.Stat(p); err == nil {
			return p, false
		}
	}
	return "", false
}

// loadFromFile loads configuration from a YAML file.
func (l *Loader) loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if unmarshalErr := yaml.Unmarshal(data, cfg); unmarshalErr != nil {
		return fmt.Errorf("failed to parse config file: %w", unmarshalErr)
	}

	return nil
}

// loadFromEnv loads configuration from environment variables.
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.loadEnvToStruct(reflect.ValueOf(cfg).Elem())
}

// loadEnvToStruct recursively loads environment variables into a struct.
func (l *Loader) loadEnvToStruct(v reflect.Value) error {
	t := v.Type()

	for i := range v.NumField() {
		field := v.Field(i)
		fieldType := t.Field(i)

		// Handle embedded structs
		if field.Kind() == reflect.Struct {
			if err := l.loadEnvToStruct(field); err != nil {
				return err
			}
			continue
		}

		// Get env tag
		envTag := fieldType.Tag.Get("env")
		if envTag == "" {
			continue
		}

		// Get environment variable value
		envValue := os.Getenv(envTag)
		if envValue == "" {
			continue
		}

		// Set field value based on type
		if err := l.setFieldFromEnv(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s from env %s: %w", fieldType.Name, envTag, err)
		}
	}

	return nil
}

// setFieldFromEnv sets a struct field value from an environment variable string.
//
//nolint:exhaustive // We only support a subset of reflect.Kind for config values
func (l *Loader) setFieldFromEnv(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// Check if it's a time.Duration
		if field.Type() == reflect.TypeFor[time.Duration]() {
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("%w: %s", ErrInvalidDuration, value)
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer value: %s", value)
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid unsigned integer value: %s", value)
		}
		field.SetUint(u)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean value: %s", value)
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type: %s", field.Type())
		}
		var items []string
		for item := range strings.SplitSeq(value, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		field.Set(reflect.ValueOf(items))

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid float value: %s", value)
		}
		field.SetFloat(f)

	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}

	return nil
}

// IsDevelopment returns true if the log level indicates a development environment.
func (c *Config) IsDevelopment() bool {
	return strings.ToLower(c.Log.Level) == "debug"
}

// IsProduction returns true if the service runs in the production environment.
func (c *Config) IsProduction() bool {
	return strings.ToLower(c.App.Environment) == "production"
}
