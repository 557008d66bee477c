package services_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paperpress/blog-api/domain"
	"github.com/paperpress/blog-api/inmemory"
	"github.com/paperpress/blog-api/services"
)

func newSessionService(t *testing.T, policy services.SessionPolicy) *services.RefreshSessionService {
	t.Helper()
	signer, err := services.NewSigner("test-signing-secret", "blog-api-test", 15*time.Minute)
	require.NoError(t, err)
	return services.NewRefreshSessionService(inmemory.NewRefreshTokenRepository(), signer, policy)
}

func TestRefreshSessionService_CreateAndExchange(t *testing.T) {
	ctx := context.Background()
	svc := newSessionService(t, services.DefaultSessionPolicy())

	session, err := svc.CreateSession(ctx, "user-1", "Firefox on Linux", "203.0.113.9")
	require.NoError(t, err)
	assert.Len(t, session.Token, 64)
	assert.Equal(t, "user-1", session.UserID)

	result, err := svc.Exchange(ctx, session.Token)
	require.NoError(t, err)
	assert.NotEmpty(t, result.AccessToken)
	assert.Equal(t, "user-1", result.UserID)
	assert.True(t, result.AccessExpiresAt.After(time.Now()))
}

func TestRefreshSessionService_RotationInvalidatesOldToken(t *testing.T) {
	ctx := context.Background()
	svc := newSessionService(t, services.DefaultSessionPolicy())

	session, err := svc.CreateSession(ctx, "user-1", "Firefox", "203.0.113.9")
	require.NoError(t, err)

	result, err := svc.Exchange(ctx, session.Token)
	require.NoError(t, err)
	require.NotEqual(t, session.Token, result.RefreshToken)

	// The rotated-out token is dead.
	_, err = svc.Exchange(ctx, session.Token)
	assert.ErrorIs(t, err, domain.ErrInvalidSession)

	// The replacement works.
	_, err = svc.Exchange(ctx, result.RefreshToken)
	assert.NoError(t, err)
}

func TestRefreshSessionService_RotationDisabledKeepsToken(t *testing.T) {
	ctx := context.Background()
	policy := services.DefaultSessionPolicy()
	policy.RotationEnabled = false
	svc := newSessionService(t, policy)

	session, err := svc.CreateSession(ctx, "user-1", "Firefox", "203.0.113.9")
	require.NoError(t, err)

	result, err := svc.Exchange(ctx, session.Token)
	require.NoError(t, err)
	assert.Equal(t, session.Token, result.RefreshToken)

	// Same token keeps working.
	_, err = svc.Exchange(ctx, session.Token)
	assert.NoError(t, err)
}

func TestRefreshSessionService_UnknownTokenIsInvalid(t *testing.T) {
	ctx := context.Background()
	svc := newSessionService(t, services.DefaultSessionPolicy())

	_, err := svc.Exchange(ctx, "never-issued")
	assert.ErrorIs(t, err, domain.ErrInvalidSession)
}

func TestRefreshSessionService_RevokedTokenIsInvalid(t *testing.T) {
	ctx := context.Background()
	svc := newSessionService(t, services.DefaultSessionPolicy())

	session, err := svc.CreateSession(ctx, "user-1", "Firefox", "203.0.113.9")
	require.NoError(t, err)

	require.NoError(t, svc.Revoke(ctx, session.Token))
	_, err = svc.Exchange(ctx, session.Token)
	assert.ErrorIs(t, err, domain.ErrInvalidSession)

	// Revoking again is harmless.
	assert.NoError(t, svc.Revoke(ctx, session.Token))
}

func TestRefreshSessionService_CapEvictsOldest(t *testing.T) {
	ctx := context.Background()
	policy := services.DefaultSessionPolicy()
	policy.MaxPerUser = 3
	svc := newSessionService(t, policy)

	first, err := svc.CreateSession(ctx, "user-1", "device-0", "203.0.113.9")
	require.NoError(t, err)
	for i := 1; i < 3; i++ {
		_, err := svc.CreateSession(ctx, "user-1", "device", "203.0.113.9")
		require.NoError(t, err)
	}

	// The fourth session pushes the oldest out.
	_, err = svc.CreateSession(ctx, "user-1", "device-3", "203.0.113.9")
	require.NoError(t, err)

	active, err := svc.ActiveSessions(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, active, 3)

	_, err = svc.Exchange(ctx, first.Token)
	assert.ErrorIs(t, err, domain.ErrInvalidSession)
}

func TestRefreshSessionService_CreationRateLimit(t *testing.T) {
	ctx := context.Background()
	policy := services.DefaultSessionPolicy()
	policy.CreatePerHour = 2
	svc := newSessionService(t, policy)

	for i := 0; i < 2; i++ {
		_, err := svc.CreateSession(ctx, "user-1", "device", "203.0.113.9")
		require.NoError(t, err)
	}

	_, err := svc.CreateSession(ctx, "user-1", "device", "203.0.113.9")
	var policyErr *domain.SecurityPolicyError
	assert.ErrorAs(t, err, &policyErr)

	// Other users are unaffected.
	_, err = svc.CreateSession(ctx, "user-2", "device", "203.0.113.9")
	assert.NoError(t, err)
}

func TestRefreshSessionService_RevokeAllForUser(t *testing.T) {
	ctx := context.Background()
	svc := newSessionService(t, services.DefaultSessionPolicy())

	var tokens []string
	for i := 0; i < 3; i++ {
		session, err := svc.CreateSession(ctx, "user-1", "device", "203.0.113.9")
		require.NoError(t, err)
		tokens = append(tokens, session.Token)
	}
	other, err := svc.CreateSession(ctx, "user-2", "device", "203.0.113.9")
	require.NoError(t, err)

	revoked, err := svc.RevokeAllForUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), revoked)

	for _, token := range tokens {
		_, err := svc.Exchange(ctx, token)
		assert.ErrorIs(t, err, domain.ErrInvalidSession)
	}
	_, err = svc.Exchange(ctx, other.Token)
	assert.NoError(t, err)
}

func TestRefreshSessionService_ExpiredSessionIsInvalid(t *testing.T) {
	ctx := context.Background()
	policy := services.DefaultSessionPolicy()
	policy.TokenTTL = time.Millisecond
	svc := newSessionService(t, policy)

	session, err := svc.CreateSession(ctx, "user-1", "device", "203.0.113.9")
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)

	_, err = svc.Exchange(ctx, session.Token)
	assert.ErrorIs(t, err, domain.ErrInvalidSession)

	deleted, err := svc.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
}
