package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/paperpress/blog-api/domain"
	"github.com/paperpress/blog-api/internal/metrics"
	"github.com/paperpress/blog-api/mailer"
)

// tokenValueBytes is the entropy of a generated token value (256 bits,
// hex encoded).
const tokenValueBytes = 32

// TokenService is the lifecycle engine for single-use action tokens:
// issuance with rate limiting, read-only validation, atomic consumption and
// best-effort cleanup.
type TokenService struct {
	repo     domain.ActionTokenRepository
	limiter  *TokenRateLimiter
	notifier mailer.Notifier

	usedRetention time.Duration
}

// NewTokenService creates the lifecycle engine. The notifier may be nil when
// no email dispatch is wanted (tests, data-only deployments).
func NewTokenService(
	repo domain.ActionTokenRepository,
	limiter *TokenRateLimiter,
	notifier mailer.Notifier,
	usedRetention time.Duration,
) *TokenService {
	if usedRetention <= 0 {
		usedRetention = 30 * 24 * time.Hour
	}
	return &TokenService{
		repo:          repo,
		limiter:       limiter,
		notifier:      notifier,
		usedRetention: usedRetention,
	}
}

// Issue generates a new token for the subject with the category's default
// TTL. Returns *domain.RateLimitError when the subject has requested too
// many tokens in the trailing window.
func (s *TokenService) Issue(ctx context.Context, subject string, category domain.TokenCategory) (*domain.ActionToken, error) {
	policy, ok := s.limiter.Policy(category)
	if !ok {
		return nil, errors.New("no policy for category: " + string(category))
	}
	return s.IssueWithTTL(ctx, subject, category, policy.TTL)
}

// IssueWithTTL is Issue with an explicit TTL override.
func (s *TokenService) IssueWithTTL(ctx context.Context, subject string, category domain.TokenCategory, ttl time.Duration) (*domain.ActionToken, error) {
	allowed, err := s.limiter.CanIssue(ctx, subject, category)
	if err != nil {
		return nil, fmt.Errorf("rate limit check failed: %w", err)
	}
	if !allowed {
		retryAt, hintErr := s.limiter.NextAllowedAt(ctx, subject, category)
		if hintErr != nil {
			log.Warn().Err(hintErr).Str("category", string(category)).
				Msg("Could not derive retry-after hint for rate-limited issuance")
		}
		return nil, &domain.RateLimitError{Subject: subject, Category: category, RetryAt: retryAt}
	}

	policy, _ := s.limiter.Policy(category)
	if policy.Supersede {
		now := time.Now().UTC()
		invalidated, supErr := s.repo.MarkAllUsed(ctx, subject, category, now)
		if supErr != nil {
			return nil, fmt.Errorf("failed to supersede existing tokens: %w", supErr)
		}
		if invalidated > 0 {
			log.Info().Int64("count", invalidated).Str("category", string(category)).
				Msg("Invalidated existing tokens on new issuance")
		}
	}

	value, err := generateTokenValue()
	if err != nil {
		return nil, err
	}
	token, err := domain.NewActionToken(value, subject, category, ttl)
	if err != nil {
		return nil, err
	}

	if err := s.repo.Store(ctx, token); err != nil {
		return nil, fmt.Errorf("failed to store action token: %w", err)
	}

	metrics.TokensIssuedTotal.WithLabelValues(string(category)).Inc()
	log.Info().Str("category", string(category)).Time("expires_at", token.ExpiresAt).
		Msg("Action token issued")

	if s.notifier != nil {
		// Fire and forget: email dispatch is observed, never awaited.
		go s.notifier.TokenIssued(context.WithoutCancel(ctx), token)
	}

	return token, nil
}

// Validate looks the token up and checks it without consuming it, so callers
// can render e.g. a password-reset form before the action happens. Fails with
// ErrTokenNotFound, ErrTokenAlreadyUsed or ErrTokenExpired.
func (s *TokenService) Validate(ctx context.Context, value string, category domain.TokenCategory) (*domain.ActionToken, error) {
	token, err := s.repo.FindByValue(ctx, value, category)
	if err != nil {
		return nil, err
	}
	if token.Used() {
		return nil, domain.ErrTokenAlreadyUsed
	}
	if token.Expired(time.Now().UTC()) {
		return nil, domain.ErrTokenExpired
	}
	return token, nil
}

// Consume validates the token and atomically marks it used. Of any number of
// concurrent Consume calls on the same value, exactly one succeeds; the rest
// observe ErrTokenAlreadyUsed.
func (s *TokenService) Consume(ctx context.Context, value string, category domain.TokenCategory) (*domain.ActionToken, error) {
	token, err := s.Validate(ctx, value, category)
	if err != nil {
		return nil, err
	}

	usedAt := time.Now().UTC()
	if err := s.repo.MarkUsed(ctx, value, category, usedAt); err != nil {
		return nil, err
	}
	token.UsedAt = &usedAt

	metrics.TokensConsumedTotal.WithLabelValues(string(category)).Inc()
	log.Info().Str("category", string(category)).Msg("Action token consumed")
	return token, nil
}

// HasValidToken reports whether the subject holds any still-valid token of
// the category.
func (s *TokenService) HasValidToken(ctx context.Context, subject string, category domain.TokenCategory) (bool, error) {
	_, err := s.repo.FindMostRecentValid(ctx, subject, category, time.Now().UTC())
	if errors.Is(err, domain.ErrTokenNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// MostRecentValidToken returns the subject's newest valid token of the
// category, or ErrTokenNotFound.
func (s *TokenService) MostRecentValidToken(ctx context.Context, subject string, category domain.TokenCategory) (*domain.ActionToken, error) {
	return s.repo.FindMostRecentValid(ctx, subject, category, time.Now().UTC())
}

// DeleteAllForSubject erases every token for a subject, valid or not. Used
// for data-erasure requests.
func (s *TokenService) DeleteAllForSubject(ctx context.Context, subject string) (int64, error) {
	deleted, err := s.repo.DeleteBySubject(ctx, subject)
	if err != nil {
		return 0, err
	}
	log.Info().Int64("count", deleted).Msg("Deleted all action tokens for subject")
	return deleted, nil
}

// CleanupExpired deletes tokens past their expiry. Failures are reported to
// the caller (the scheduler logs them); validation never depends on cleanup
// having run.
func (s *TokenService) CleanupExpired(ctx context.Context) (int64, error) {
	deleted, err := s.repo.DeleteExpired(ctx, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		metrics.TokensCleanedTotal.WithLabelValues("expired").Add(float64(deleted))
		log.Info().Int64("count", deleted).Msg("Cleaned up expired action tokens")
	}
	return deleted, nil
}

// CleanupUsed deletes consumed tokens older than the retention window.
func (s *TokenService) CleanupUsed(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-s.usedRetention)
	deleted, err := s.repo.DeleteUsedBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		metrics.TokensCleanedTotal.WithLabelValues("used").Add(float64(deleted))
		log.Info().Int64("count", deleted).Msg("Cleaned up old used action tokens")
	}
	return deleted, nil
}

// TokenStatistics is a monitoring snapshot of the token store.
type TokenStatistics struct {
	Valid map[domain.TokenCategory]int64 `json:"valid"`
	Used  map[domain.TokenCategory]int64 `json:"used"`
}

// Statistics counts valid and used tokens per category.
func (s *TokenService) Statistics(ctx context.Context) (*TokenStatistics, error) {
	now := time.Now().UTC()
	stats := &TokenStatistics{
		Valid: make(map[domain.TokenCategory]int64, len(domain.Categories)),
		Used:  make(map[domain.TokenCategory]int64, len(domain.Categories)),
	}
	for _, category := range domain.Categories {
		valid, err := s.repo.CountValidByCategory(ctx, category, now)
		if err != nil {
			return nil, err
		}
		used, err := s.repo.CountUsedByCategory(ctx, category)
		if err != nil {
			return nil, err
		}
		stats.Valid[category] = valid
		stats.Used[category] = used
	}
	return stats, nil
}

// generateTokenValue returns a fresh random token value from the platform
// CSPRNG.
func generateTokenValue() (string, error) {
	buf := make([]byte, tokenValueBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes for token value: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
