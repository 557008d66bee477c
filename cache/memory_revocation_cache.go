package cache

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// MemoryRevocationCache implements RevocationCache using ttlcache. Suitable
// for single-instance deployments; use the Redis implementation when several
// instances must observe a revocation at once.
type MemoryRevocationCache struct {
	cache *ttlcache.Cache[string, struct{}]
}

// NewMemoryRevocationCache creates an in-memory revocation cache with
// automatic expiry of its entries.
//
//nolint:ireturn
func NewMemoryRevocationCache() RevocationCache {
	cache := ttlcache.New(
		ttlcache.WithDisableTouchOnHit[string, struct{}](),
	)

	// Start the expiry process
	go cache.Start()

	return &MemoryRevocationCache{cache: cache}
}

// Get implements RevocationCache.Get.
func (c *MemoryRevocationCache) Get(_ context.Context, tokenID string) (bool, error) {
	return c.cache.Get(HashToken(tokenID)) != nil, nil
}

// Set implements RevocationCache.Set.
func (c *MemoryRevocationCache) Set(_ context.Context, tokenID string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	c.cache.Set(HashToken(tokenID), struct{}{}, ttl)
	return nil
}

// Invalidate implements RevocationCache.Invalidate.
func (c *MemoryRevocationCache) Invalidate(_ context.Context, tokenID string) error {
	c.cache.Delete(HashToken(tokenID))
	return nil
}

// Close stops the expiry goroutine.
func (c *MemoryRevocationCache) Close() error {
	c.cache.Stop()
	return nil
}
