package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"load-forecast/internal/config"
	"load-forecast/pkg/logging"
)

const keyPrefix = "load-forecast:rollout:"

// Observer is notified of cache lookups
type Observer interface {
	CacheHit()
	CacheMiss()
}

// ForecastCache stores rollout responses in Redis as JSON
type ForecastCache struct {
	client   redis.UniversalClient
	ttl      time.Duration
	logger   *logging.StructuredLogger
	observer Observer
}

// NewRedisClient opens and pings a Redis connection for the cache section of the config
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// NewForecastCache wraps client. A nil observer is allowed.
func NewForecastCache(client redis.UniversalClient, ttl time.Duration, logger *logging.StructuredLogger, observer Observer) *ForecastCache {
	return &ForecastCache{
		client:   client,
		ttl:      ttl,
		logger:   logger,
		observer: observer,
	}
}

// Key derives a stable cache key from the JSON encoding of a request
func Key(request interface{}) (string, error) {
	raw, err := json.Marshal(request)
	if err != nil {
		return "", fmt.Errorf("failed to encode cache key: %w", err)
	}
	sum := sha256.Sum256(raw)
	return keyPrefix + hex.EncodeToString(sum[:]), nil
}

// Get decodes the value stored under key into dest. It reports false on a miss.
// Redis failures are logged and treated as misses.
func (c *ForecastCache) Get(ctx context.Context, key string, dest interface{}) bool {
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn(ctx, "[CACHE_GET_ERROR] Redis lookup failed", logging.Fields{
				"key":   key,
				"error": err.Error(),
			})
		}
		c.miss()
		return false
	}

	if err := json.Unmarshal(raw, dest); err != nil {
		c.logger.Warn(ctx, "[CACHE_DECODE_ERROR] Dropping undecodable entry", logging.Fields{
			"key":   key,
			"error": err.Error(),
		})
		c.client.Del(ctx, key)
		c.miss()
		return false
	}

	if c.observer != nil {
		c.observer.CacheHit()
	}
	return true
}

// Set stores value under key for the configured TTL
func (c *ForecastCache) Set(ctx context.Context, key string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}

	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store cache entry: %w", err)
	}
	return nil
}

// HealthCheck pings Redis
func (c *ForecastCache) HealthCheck(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}

func (c *ForecastCache) miss() {
	if c.observer != nil {
		c.observer.CacheMiss()
	}
}
