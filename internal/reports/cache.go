package reports

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const cacheVersionKey = "reports:version"

// Cache stores report results under a global version. Bumping the version
// orphans every cached report at once; orphans expire with their TTL.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewCache instantiates the cache. A nil client disables caching.
func NewCache(client *redis.Client, ttl time.Duration, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{client: client, ttl: ttl, logger: logger}
}

func (c *Cache) enabled() bool {
	return c != nil && c.client != nil
}

// Version returns the current cache version, initialising it when missing.
func (c *Cache) Version(ctx context.Context) (int64, error) {
	if !c.enabled() {
		return 0, nil
	}
	ver, err := c.client.Get(ctx, cacheVersionKey).Int64()
	if errors.Is(err, redis.Nil) {
		if err := c.client.SetNX(ctx, cacheVersionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return c.client.Get(ctx, cacheVersionKey).Int64()
	}
	return ver, err
}

// BuildKey composes a versioned key.
func (c *Cache) BuildKey(ctx context.Context, parts ...string) (string, error) {
	ver, err := c.Version(ctx)
	if err != nil {
		return "", fmt.Errorf("reports: cache version: %w", err)
	}
	return fmt.Sprintf("reports:%s:v%d", strings.Join(parts, ":"), ver), nil
}

// Fetch loads key into dest or fills it from load. Redis failures degrade to
// an uncached load; only load and decode errors are returned.
func (c *Cache) Fetch(ctx context.Context, key string, dest any, load func(context.Context) (any, error)) error {
	cacheable := c.enabled() && key != ""
	if cacheable {
		payload, err := c.client.Get(ctx, key).Bytes()
		switch {
		case err == nil:
			if err := json.Unmarshal(payload, dest); err == nil {
				return nil
			}
			c.logger.WarnContext(ctx, "discarding undecodable report cache entry", slog.String("key", key))
		case !errors.Is(err, redis.Nil):
			c.logger.WarnContext(ctx, "report cache get failed", slog.String("key", key), slog.Any("error", err))
			cacheable = false
		}
	}
	value, err := load(ctx)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if cacheable {
		if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
			c.logger.WarnContext(ctx, "report cache set failed", slog.String("key", key), slog.Any("error", err))
		}
	}
	return json.Unmarshal(raw, dest)
}

// Bump invalidates every cached report.
func (c *Cache) Bump(ctx context.Context) error {
	if !c.enabled() {
		return nil
	}
	return c.client.Incr(ctx, cacheVersionKey).Err()
}
