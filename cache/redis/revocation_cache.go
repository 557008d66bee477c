package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/paperpress/blog-api/cache"
)

// RevocationCache implements cache.RevocationCache on Redis, so every API
// instance observes a revocation as soon as it is written.
type RevocationCache struct {
	client *redis.Client
	prefix string // Optional prefix for keys
}

// NewRevocationCache creates a new [RevocationCache] instance.
func NewRevocationCache(client *redis.Client, prefix string) *RevocationCache {
	return &RevocationCache{
		client: client,
		prefix: prefix,
	}
}

// redisKey returns the Redis key for a given credential ID.
func (r *RevocationCache) redisKey(tokenID string) string {
	return fmt.Sprintf("%s:revoked:%s", r.prefix, cache.HashToken(tokenID))
}

// Get implements cache.RevocationCache.Get.
func (r *RevocationCache) Get(ctx context.Context, tokenID string) (bool, error) {
	_, err := r.client.Get(ctx, r.redisKey(tokenID)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read revocation entry from Redis: %w", err)
	}
	return true, nil
}

// Set implements cache.RevocationCache.Set.
func (r *RevocationCache) Set(ctx context.Context, tokenID string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := r.client.Set(ctx, r.redisKey(tokenID), "1", ttl).Err(); err != nil {
		return fmt.Errorf("failed to set revocation entry in Redis: %w", err)
	}
	return nil
}

// Invalidate implements cache.RevocationCache.Invalidate.
func (r *RevocationCache) Invalidate(ctx context.Context, tokenID string) error {
	if err := r.client.Del(ctx, r.redisKey(tokenID)).Err(); err != nil {
		return fmt.Errorf("failed to delete revocation entry from Redis: %w", err)
	}
	return nil
}

// Close releases the underlying client connection.
func (r *RevocationCache) Close() error {
	return r.client.Close()
}
