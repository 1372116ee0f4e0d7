// Package cache provides an optional Redis-backed cache for resolved metadata.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/guiyumin/vfetch/internal/core/media"
)

// DefaultInfoTTL is used when Config.TTL is zero
const DefaultInfoTTL = 10 * time.Minute

// KeyInfo prefixes metadata entries; the suffix is a hash of the URL
const KeyInfo = "vfetch:cache:info:"

// Config contains cache configuration
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	TTL           time.Duration

	// DisableOnError turns the cache off after the first Redis failure
	DisableOnError bool
}

// Cache stores MediaInfo by source URL. A nil or disabled Cache misses on
// every lookup and drops every write.
type Cache struct {
	client *redis.Client
	logger zerolog.Logger
	ttl    time.Duration
	config Config

	mu       sync.RWMutex
	disabled bool
}

// New connects to Redis. An empty address, or a server that does not answer
// a ping, yields a disabled cache rather than an error.
func New(cfg Config, logger zerolog.Logger) *Cache {
	logger = logger.With().Str("component", "cache").Logger()
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultInfoTTL
	}

	if cfg.RedisAddr == "" {
		return &Cache{logger: logger, ttl: ttl, config: cfg, disabled: true}
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("redis cache unavailable, running without caching")
		client.Close()
		return &Cache{logger: logger, ttl: ttl, config: cfg, disabled: true}
	}

	logger.Info().Str("addr", cfg.RedisAddr).Dur("ttl", ttl).Msg("redis cache initialized")
	return &Cache{client: client, logger: logger, ttl: ttl, config: cfg}
}

// Close closes the Redis connection
func (c *Cache) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// IsAvailable returns true if the cache is operational
func (c *Cache) IsAvailable() bool {
	if c == nil {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.disabled && c.client != nil
}

func (c *Cache) handleError(err error, operation string) {
	if err == nil || errors.Is(err, redis.Nil) {
		return
	}
	c.logger.Debug().Err(err).Str("operation", operation).Msg("cache operation failed")

	if c.config.DisableOnError {
		c.mu.Lock()
		c.disabled = true
		c.mu.Unlock()
		c.logger.Warn().Msg("disabling cache due to redis error")
	}
}

// Key returns the Redis key for a source URL
func Key(rawURL string) string {
	sum := sha256.Sum256([]byte(rawURL))
	return KeyInfo + hex.EncodeToString(sum[:16])
}

// GetInfo looks up cached metadata. Errors are reported but callers may
// treat them as misses.
func (c *Cache) GetInfo(ctx context.Context, rawURL string) (*media.Info, bool, error) {
	if !c.IsAvailable() {
		return nil, false, nil
	}

	data, err := c.client.Get(ctx, Key(rawURL)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		c.handleError(err, "get")
		return nil, false, err
	}

	var info media.Info
	if err := json.Unmarshal(data, &info); err != nil {
		c.logger.Debug().Err(err).Msg("failed to unmarshal cached info")
		return nil, false, nil
	}
	c.logger.Debug().Str("url", rawURL).Msg("info cache hit")
	return &info, true, nil
}

// SetInfo stores metadata under the URL for the configured TTL
func (c *Cache) SetInfo(ctx context.Context, rawURL string, info *media.Info) error {
	if !c.IsAvailable() || info == nil {
		return nil
	}

	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("marshal cache value: %w", err)
	}
	if err := c.client.Set(ctx, Key(rawURL), data, c.ttl).Err(); err != nil {
		c.handleError(err, "set")
		return err
	}
	return nil
}

// Invalidate drops a cached entry
func (c *Cache) Invalidate(ctx context.Context, rawURL string) error {
	if !c.IsAvailable() {
		return nil
	}
	if err := c.client.Del(ctx, Key(rawURL)).Err(); err != nil {
		c.handleError(err, "delete")
		return err
	}
	return nil
}
