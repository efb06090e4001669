package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
)

// Rate limit defaults.
const (
	DefaultRateLimit       = 100
	DefaultRateLimitWindow = time.Minute
	DefaultBurstSize       = 10
	defaultRateLimitPrefix = "notifysync:ratelimit:"
)

// RateLimitStore counts requests per key in fixed windows.
type RateLimitStore interface {
	// Increment increments the counter for key, starting a new window if none is open,
	// and returns the new count with the time left in the window.
	Increment(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
}

// RateLimitConfig holds configuration for the rate limit middleware.
type RateLimitConfig struct {
	Logger *slog.Logger

	// Store is the counter backend. A nil store disables rate limiting.
	Store RateLimitStore

	// Limit is the maximum number of requests allowed per window.
	Limit int

	// Window is the time window for rate limiting.
	Window time.Duration

	// BurstSize is added to Limit.
	BurstSize int

	// KeyFunc generates the counter key. Defaults to the user key, then the client IP.
	KeyFunc func(c echo.Context) string

	// SkipPaths are paths that are never limited.
	SkipPaths []string
}

// DefaultRateLimitConfig returns a RateLimitConfig with sensible defaults.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Logger:    slog.Default(),
		Limit:     DefaultRateLimit,
		Window:    DefaultRateLimitWindow,
		BurstSize: DefaultBurstSize,
		SkipPaths: []string{"/health", "/ready", "/metrics"},
	}
}

// RateLimit returns a rate limiting middleware with the given configuration.
// Store failures let the request through.
func RateLimit(config RateLimitConfig) echo.MiddlewareFunc {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Limit <= 0 {
		config.Limit = DefaultRateLimit
	}
	if config.Window <= 0 {
		config.Window = DefaultRateLimitWindow
	}
	if config.KeyFunc == nil {
		config.KeyFunc = rateLimitKey
	}

	skipPaths := make(map[string]struct{}, len(config.SkipPaths))
	for _, path := range config.SkipPaths {
		skipPaths[path] = struct{}{}
	}
	totalLimit := int64(config.Limit + config.BurstSize)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if config.Store == nil {
				return next(c)
			}
			if _, ok := skipPaths[c.Request().URL.Path]; ok {
				return next(c)
			}

			key := config.KeyFunc(c)
			count, ttl, err := config.Store.Increment(c.Request().Context(), key, config.Window)
			if err != nil {
				config.Logger.ErrorContext(c.Request().Context(), "failed to increment rate limit counter",
					slog.String("key", key),
					slog.String("error", err.Error()),
				)
				return next(c)
			}

			remaining := max(totalLimit-count, 0)
			header := c.Response().Header()
			header.Set("X-Ratelimit-Limit", strconv.FormatInt(totalLimit, 10))
			header.Set("X-Ratelimit-Remaining", strconv.FormatInt(remaining, 10))
			if ttl > 0 {
				header.Set("X-Ratelimit-Reset", strconv.FormatInt(time.Now().Add(ttl).Unix(), 10))
			}

			if count > totalLimit {
				config.Logger.WarnContext(c.Request().Context(), "rate limit exceeded",
					slog.String("key", key),
					slog.Int64("count", count),
					slog.Int64("limit", totalLimit),
					slog.String("path", c.Request().URL.Path),
				)
				return respondRateLimitError(c, ttl)
			}

			return next(c)
		}
	}
}

// rateLimitKey keys signed-in requests by user and the rest by client IP.
func rateLimitKey(c echo.Context) string {
	if key := GetUserKey(c); key != "" {
		return "user:" + key
	}
	return "ip:" + c.RealIP()
}

func respondRateLimitError(c echo.Context, retryAfter time.Duration) error {
	seconds := int64(retryAfter.Seconds())
	if retryAfter > 0 {
		c.Response().Header().Set("Retry-After", strconv.FormatInt(seconds, 10))
	}

	return c.JSON(http.StatusTooManyRequests, map[string]any{
		"success": false,
		"error": map[string]any{
			"code":        "RATE_LIMIT_EXCEEDED",
			"message":     "Too many requests. Please try again later.",
			"retry_after": seconds,
		},
	})
}

// MemoryRateLimitStore keeps counters in process. Used in mock mode and tests.
type MemoryRateLimitStore struct {
	mu     sync.Mutex
	counts map[string]*rateLimitEntry
	now    func() time.Time
}

type rateLimitEntry struct {
	count     int64
	expiresAt time.Time
}

// NewMemoryRateLimitStore creates a new in-memory rate limit store.
func NewMemoryRateLimitStore() *MemoryRateLimitStore {
	return &MemoryRateLimitStore{
		counts: make(map[string]*rateLimitEntry),
		now:    time.Now,
	}
}

// Increment increments the counter for the given key.
func (s *MemoryRateLimitStore) Increment(
	_ context.Context,
	key string,
	window time.Duration,
) (int64, time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	entry, ok := s.counts[key]
	if !ok || !now.Before(entry.expiresAt) {
		entry = &rateLimitEntry{expiresAt: now.Add(window)}
		s.counts[key] = entry
	}
	entry.count++

	return entry.count, entry.expiresAt.Sub(now), nil
}

// RedisRateLimitStore shares counters between instances through Redis.
type RedisRateLimitStore struct {
	client    redis.Cmdable
	keyPrefix string
}

// NewRedisRateLimitStore creates a new Redis-based rate limit store.
func NewRedisRateLimitStore(client redis.Cmdable, keyPrefix string) *RedisRateLimitStore {
	if keyPrefix == "" {
		keyPrefix = defaultRateLimitPrefix
	}
	return &RedisRateLimitStore{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

// Increment increments the counter and opens the window on the first hit.
func (s *RedisRateLimitStore) Increment(
	ctx context.Context,
	key string,
	window time.Duration,
) (int64, time.Duration, error) {
	fullKey := s.keyPrefix + key

	var incr *redis.IntCmd
	var ttl *redis.DurationCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, fullKey)
		pipe.ExpireNX(ctx, fullKey, window)
		ttl = pipe.PTTL(ctx, fullKey)
		return nil
	})
	if err != nil {
		return 0, 0, fmt.Errorf("failed to increment rate limit counter: %w", err)
	}

	return incr.Val(), ttl.Val(), nil
}
