package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/aperture-photos/aperture/internal/logger"
	"github.com/redis/go-redis/v9"
)

// Invalidator is the read-cache hook the pipeline publishes through. The
// pipeline never reads the cache itself; it only knocks out the keys whose
// backing lists just changed.
type Invalidator interface {
	Invalidate(ctx context.Context, keys ...string) error
}

// Keys for the list caches affected by a newly published record.
func RecentKey() string { return "media:recent" }

func CategoryKey(categoryID string) string { return "media:category:" + categoryID }

func UploaderKey(uploaderID string) string { return "media:uploader:" + uploaderID }

// RedisCache is a TTL-scoped, namespaced cache. Entries expire on their own;
// invalidation just makes readers see fresh lists sooner.
type RedisCache struct {
	client    *redis.Client
	namespace string
	ttl       time.Duration
}

var _ Invalidator = (*RedisCache)(nil)

func NewRedisCache(client *redis.Client, namespace string, ttl time.Duration) *RedisCache {
	return &RedisCache{
		client:    client,
		namespace: namespace,
		ttl:       ttl,
	}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := c.client.Get(ctx, c.namespaced(key)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get %s: %w", key, err)
	}
	return data, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte) error {
	if err := c.client.Set(ctx, c.namespaced(key), value, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return nil
}

func (c *RedisCache) Invalidate(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	namespaced := make([]string, len(keys))
	for i, k := range keys {
		namespaced[i] = c.namespaced(k)
	}

	if err := c.client.Del(ctx, namespaced...).Err(); err != nil {
		return fmt.Errorf("cache invalidate: %w", err)
	}

	logger.FromContext(ctx).Debug("cache keys invalidated", "count", len(keys))
	return nil
}

func (c *RedisCache) namespaced(key string) string {
	return c.namespace + ":" + key
}
