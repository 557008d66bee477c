package cache

import (
	"context"
	"time"
)

// RevocationCache caches positive revocation lookups for the denylist hot
// path. Only confirmed-revoked credential IDs are worth caching: a revocation
// must become visible immediately, while a "not revoked" answer is cheap to
// re-derive from the store.
//
//go:generate mockgen -source=$GOFILE -destination=../mocks/mock_$GOPACKAGE/mock_$GOFILE -package=mock_$GOPACKAGE
type RevocationCache interface {
	// Get reports whether the credential ID is cached as revoked.
	Get(ctx context.Context, tokenID string) (bool, error)
	// Set caches the credential ID as revoked until ttl elapses.
	Set(ctx context.Context, tokenID string, ttl time.Duration) error
	// Invalidate drops any entry for the credential ID.
	Invalidate(ctx context.Context, tokenID string) error
	Close() error
}
