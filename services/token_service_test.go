package services_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paperpress/blog-api/domain"
	"github.com/paperpress/blog-api/inmemory"
	"github.com/paperpress/blog-api/services"
)

func newTokenService(policies map[domain.TokenCategory]services.CategoryPolicy) (*services.TokenService, *inmemory.ActionTokenRepository) {
	repo := inmemory.NewActionTokenRepository()
	limiter := services.NewTokenRateLimiter(repo, policies)
	svc := services.NewTokenService(repo, limiter, nil, 30*24*time.Hour)
	return svc, repo
}

func TestTokenService_IssueAndConsume(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTokenService(nil)

	token, err := svc.Issue(ctx, "reader@example.com", domain.CategoryNewsletterConfirm)
	require.NoError(t, err)
	assert.Len(t, token.Value, 64)
	assert.Equal(t, "reader@example.com", token.Subject)
	assert.False(t, token.Used())

	consumed, err := svc.Consume(ctx, token.Value, domain.CategoryNewsletterConfirm)
	require.NoError(t, err)
	assert.True(t, consumed.Used())

	_, err = svc.Consume(ctx, token.Value, domain.CategoryNewsletterConfirm)
	assert.ErrorIs(t, err, domain.ErrTokenAlreadyUsed)
}

func TestTokenService_ValidateDoesNotConsume(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTokenService(nil)

	token, err := svc.Issue(ctx, "reader@example.com", domain.CategoryPasswordReset)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		validated, err := svc.Validate(ctx, token.Value, domain.CategoryPasswordReset)
		require.NoError(t, err)
		assert.False(t, validated.Used())
	}

	_, err = svc.Consume(ctx, token.Value, domain.CategoryPasswordReset)
	assert.NoError(t, err)
}

func TestTokenService_UnknownToken(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTokenService(nil)

	_, err := svc.Validate(ctx, "no-such-token", domain.CategoryNewsletterConfirm)
	assert.ErrorIs(t, err, domain.ErrTokenNotFound)
}

func TestTokenService_WrongCategoryIsNotFound(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTokenService(nil)

	token, err := svc.Issue(ctx, "reader@example.com", domain.CategoryNewsletterConfirm)
	require.NoError(t, err)

	_, err = svc.Validate(ctx, token.Value, domain.CategoryNewsletterUnsubscribe)
	assert.ErrorIs(t, err, domain.ErrTokenNotFound)
}

func TestTokenService_Expiration(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTokenService(nil)

	token, err := svc.IssueWithTTL(ctx, "reader@example.com", domain.CategoryNewsletterConfirm, time.Millisecond)
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)

	_, err = svc.Validate(ctx, token.Value, domain.CategoryNewsletterConfirm)
	assert.ErrorIs(t, err, domain.ErrTokenExpired)
	_, err = svc.Consume(ctx, token.Value, domain.CategoryNewsletterConfirm)
	assert.ErrorIs(t, err, domain.ErrTokenExpired)
}

func TestTokenService_RateLimit(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTokenService(nil)

	var first *domain.ActionToken
	for i := 0; i < 3; i++ {
		token, err := svc.Issue(ctx, "reader@example.com", domain.CategoryNewsletterConfirm)
		require.NoError(t, err)
		if first == nil {
			first = token
		}
	}

	_, err := svc.Issue(ctx, "reader@example.com", domain.CategoryNewsletterConfirm)
	var rateErr *domain.RateLimitError
	require.ErrorAs(t, err, &rateErr)
	assert.Equal(t, domain.CategoryNewsletterConfirm, rateErr.Category)
	assert.False(t, rateErr.RetryAt.IsZero())
	// The oldest token in the window ages out first.
	assert.WithinDuration(t, first.CreatedAt.Add(time.Hour), rateErr.RetryAt, time.Second)

	// Other subjects and categories are unaffected.
	_, err = svc.Issue(ctx, "other@example.com", domain.CategoryNewsletterConfirm)
	assert.NoError(t, err)
	_, err = svc.Issue(ctx, "reader@example.com", domain.CategoryEmailVerification)
	assert.NoError(t, err)
}

func TestTokenService_SupersedesPriorTokens(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTokenService(nil)

	first, err := svc.Issue(ctx, "reader@example.com", domain.CategoryNewsletterConfirm)
	require.NoError(t, err)
	second, err := svc.Issue(ctx, "reader@example.com", domain.CategoryNewsletterConfirm)
	require.NoError(t, err)

	_, err = svc.Validate(ctx, first.Value, domain.CategoryNewsletterConfirm)
	assert.ErrorIs(t, err, domain.ErrTokenAlreadyUsed)
	_, err = svc.Validate(ctx, second.Value, domain.CategoryNewsletterConfirm)
	assert.NoError(t, err)
}

func TestTokenService_UnsubscribeTokensAreNotSuperseded(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTokenService(nil)

	first, err := svc.Issue(ctx, "reader@example.com", domain.CategoryNewsletterUnsubscribe)
	require.NoError(t, err)
	second, err := svc.Issue(ctx, "reader@example.com", domain.CategoryNewsletterUnsubscribe)
	require.NoError(t, err)

	// Links in previously sent newsletters must keep working.
	_, err = svc.Validate(ctx, first.Value, domain.CategoryNewsletterUnsubscribe)
	assert.NoError(t, err)
	_, err = svc.Validate(ctx, second.Value, domain.CategoryNewsletterUnsubscribe)
	assert.NoError(t, err)
}

func TestTokenService_ConcurrentConsumeHasOneWinner(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTokenService(nil)

	token, err := svc.Issue(ctx, "reader@example.com", domain.CategoryNewsletterConfirm)
	require.NoError(t, err)

	const attempts = 16
	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Consume(ctx, token.Value, domain.CategoryNewsletterConfirm)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	winners := 0
	for err := range results {
		if err == nil {
			winners++
		} else {
			assert.ErrorIs(t, err, domain.ErrTokenAlreadyUsed)
		}
	}
	assert.Equal(t, 1, winners)
}

func TestTokenService_HasValidToken(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTokenService(nil)

	ok, err := svc.HasValidToken(ctx, "reader@example.com", domain.CategoryNewsletterConfirm)
	require.NoError(t, err)
	assert.False(t, ok)

	token, err := svc.Issue(ctx, "reader@example.com", domain.CategoryNewsletterConfirm)
	require.NoError(t, err)

	ok, err = svc.HasValidToken(ctx, "reader@example.com", domain.CategoryNewsletterConfirm)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = svc.Consume(ctx, token.Value, domain.CategoryNewsletterConfirm)
	require.NoError(t, err)

	ok, err = svc.HasValidToken(ctx, "reader@example.com", domain.CategoryNewsletterConfirm)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTokenService_DeleteAllForSubject(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTokenService(nil)

	_, err := svc.Issue(ctx, "reader@example.com", domain.CategoryNewsletterConfirm)
	require.NoError(t, err)
	_, err = svc.Issue(ctx, "reader@example.com", domain.CategoryNewsletterUnsubscribe)
	require.NoError(t, err)
	other, err := svc.Issue(ctx, "other@example.com", domain.CategoryNewsletterConfirm)
	require.NoError(t, err)

	deleted, err := svc.DeleteAllForSubject(ctx, "reader@example.com")
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	_, err = svc.Validate(ctx, other.Value, domain.CategoryNewsletterConfirm)
	assert.NoError(t, err)
}

func TestTokenService_CleanupExpired(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTokenService(nil)

	expired, err := svc.IssueWithTTL(ctx, "reader@example.com", domain.CategoryNewsletterUnsubscribe, time.Millisecond)
	require.NoError(t, err)
	alive, err := svc.Issue(ctx, "reader@example.com", domain.CategoryNewsletterConfirm)
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)

	deleted, err := svc.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, err = svc.Validate(ctx, expired.Value, domain.CategoryNewsletterUnsubscribe)
	assert.ErrorIs(t, err, domain.ErrTokenNotFound)
	_, err = svc.Validate(ctx, alive.Value, domain.CategoryNewsletterConfirm)
	assert.NoError(t, err)
}

func TestTokenService_Statistics(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTokenService(nil)

	token, err := svc.Issue(ctx, "a@example.com", domain.CategoryNewsletterConfirm)
	require.NoError(t, err)
	_, err = svc.Issue(ctx, "b@example.com", domain.CategoryNewsletterConfirm)
	require.NoError(t, err)
	_, err = svc.Consume(ctx, token.Value, domain.CategoryNewsletterConfirm)
	require.NoError(t, err)

	stats, err := svc.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Valid[domain.CategoryNewsletterConfirm])
	assert.Equal(t, int64(1), stats.Used[domain.CategoryNewsletterConfirm])
	assert.Equal(t, int64(0), stats.Valid[domain.CategoryPasswordReset])
}

func TestTokenRateLimiter_NextAllowedAtWhenAllowed(t *testing.T) {
	ctx := context.Background()
	repo := inmemory.NewActionTokenRepository()
	limiter := services.NewTokenRateLimiter(repo, nil)

	at, err := limiter.NextAllowedAt(ctx, "reader@example.com", domain.CategoryNewsletterConfirm)
	require.NoError(t, err)
	assert.True(t, at.IsZero())
}

func TestTokenRateLimiter_UnknownCategory(t *testing.T) {
	ctx := context.Background()
	repo := inmemory.NewActionTokenRepository()
	limiter := services.NewTokenRateLimiter(repo, nil)

	_, err := limiter.CanIssue(ctx, "reader@example.com", domain.TokenCategory("bogus"))
	assert.Error(t, err)
	assert.False(t, errors.Is(err, domain.ErrTokenNotFound))
}
