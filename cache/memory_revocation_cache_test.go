package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRevocationCache_SetAndGet(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryRevocationCache()
	defer c.Close()

	revoked, err := c.Get(ctx, "jti-1")
	require.NoError(t, err)
	assert.False(t, revoked)

	require.NoError(t, c.Set(ctx, "jti-1", time.Minute))

	revoked, err = c.Get(ctx, "jti-1")
	require.NoError(t, err)
	assert.True(t, revoked)
}

func TestMemoryRevocationCache_EntriesExpire(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryRevocationCache()
	defer c.Close()

	require.NoError(t, c.Set(ctx, "jti-1", 20*time.Millisecond))

	assert.Eventually(t, func() bool {
		revoked, err := c.Get(ctx, "jti-1")
		return err == nil && !revoked
	}, time.Second, 10*time.Millisecond)
}

func TestMemoryRevocationCache_Invalidate(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryRevocationCache()
	defer c.Close()

	require.NoError(t, c.Set(ctx, "jti-1", time.Minute))
	require.NoError(t, c.Invalidate(ctx, "jti-1"))

	revoked, err := c.Get(ctx, "jti-1")
	require.NoError(t, err)
	assert.False(t, revoked)
}

func TestHashToken_Deterministic(t *testing.T) {
	assert.Equal(t, HashToken("abc"), HashToken("abc"))
	assert.NotEqual(t, HashToken("abc"), HashToken("abd"))
	assert.Len(t, HashToken("abc"), 64)
}
