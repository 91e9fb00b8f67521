package cache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"erpsync/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Cache is a cache-aside layer over Redis. A nil client (redis unavailable at
// startup) or a runtime redis error degrades every operation to a miss or a
// no-op; callers always fall through to the entity store.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zerolog.Logger
}

func New(client *redis.Client, ttl time.Duration, logger *zerolog.Logger) *Cache {
	return &Cache{
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

// Enabled reports whether a backing client is configured.
func (c *Cache) Enabled() bool {
	return c != nil && c.client != nil
}

// TTL returns the default entry lifetime.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	if !c.Enabled() {
		return nil, false
	}
	val, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("cache get failed, treating as miss")
		return nil, false
	}
	return val, true
}

func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if !c.Enabled() {
		return
	}
	if ttl <= 0 {
		ttl = c.ttl
	}
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("cache set failed, entry not stored")
	}
}

func (c *Cache) Delete(ctx context.Context, keys ...string) {
	if !c.Enabled() || len(keys) == 0 {
		return
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.logger.Warn().Err(err).Msg("cache delete failed")
	}
}

// DeleteByPattern removes every key matching a glob pattern using SCAN, so a
// big keyspace never blocks redis the way KEYS would.
func (c *Cache) DeleteByPattern(ctx context.Context, pattern string) {
	if !c.Enabled() {
		return
	}

	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			c.logger.Warn().Err(err).Str("pattern", pattern).Msg("cache scan failed")
			return
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				c.logger.Warn().Err(err).Str("pattern", pattern).Msg("cache pattern delete failed")
			}
		}
		cursor = next
		if cursor == 0 {
			return
		}
	}
}

// EntityKey is the cache key for a single entity lookup.
func EntityKey(module, remoteID string) string {
	return fmt.Sprintf("%s:entity:%s", module, remoteID)
}

// ListKey namespaces a list query by module and a stable fingerprint of its
// filter and pagination parameters, so distinct queries never collide.
func ListKey(module string, filter models.EntityFilter, page, pageSize int) string {
	return fmt.Sprintf("%s:list:%s", module, fingerprint(filter, page, pageSize))
}

// ListPattern matches every cached list query for a module.
func ListPattern(module string) string {
	return fmt.Sprintf("%s:list:*", module)
}

func fingerprint(filter models.EntityFilter, page, pageSize int) string {
	params := struct {
		Filter   models.EntityFilter `json:"filter"`
		Page     int                 `json:"page"`
		PageSize int                 `json:"page_size"`
	}{filter, page, pageSize}

	data, err := json.Marshal(params)
	if err != nil {
		return fmt.Sprintf("p%d-s%d", page, pageSize)
	}
	sum := sha1.Sum(data)
	return hex.EncodeToString(sum[:])[:16]
}
