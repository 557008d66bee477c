package services

import (
	"context"
	"errors"
	"time"

	"github.com/paperpress/blog-api/domain"
)

// CategoryPolicy captures the per-category issuance policy: how long a token
// lives, how many may be requested per trailing window, and whether a new
// issuance supersedes the subject's earlier tokens.
type CategoryPolicy struct {
	TTL        time.Duration
	RateMax    int
	RateWindow time.Duration
	// Supersede invalidates the subject's other valid tokens of the same
	// category on issuance. Unsubscribe tokens keep it off: links in old
	// newsletters must keep working.
	Supersede bool
}

// DefaultPolicies returns the documented per-category defaults.
func DefaultPolicies() map[domain.TokenCategory]CategoryPolicy {
	return map[domain.TokenCategory]CategoryPolicy{
		domain.CategoryEmailVerification: {
			TTL: 24 * time.Hour, RateMax: 3, RateWindow: time.Hour, Supersede: true,
		},
		domain.CategoryPasswordReset: {
			TTL: 15 * time.Minute, RateMax: 5, RateWindow: time.Hour, Supersede: true,
		},
		domain.CategoryNewsletterConfirm: {
			TTL: 48 * time.Hour, RateMax: 3, RateWindow: time.Hour, Supersede: true,
		},
		domain.CategoryNewsletterUnsubscribe: {
			TTL: 365 * 24 * time.Hour, RateMax: 2, RateWindow: time.Hour, Supersede: false,
		},
		domain.CategoryNewsletterDataRequest: {
			TTL: 7 * 24 * time.Hour, RateMax: 1, RateWindow: 24 * time.Hour, Supersede: true,
		},
	}
}

// TokenRateLimiter answers whether a subject may request another token of a
// category right now. It is a point-in-time count against the token store,
// not a separate counter: two concurrent issuance requests can both observe
// "below limit" and both succeed, overshooting the cap by at most one. That
// imprecision is accepted; the single-use and expiry invariants do not depend
// on it.
type TokenRateLimiter struct {
	repo     domain.ActionTokenRepository
	policies map[domain.TokenCategory]CategoryPolicy
}

// NewTokenRateLimiter creates a rate limiter over the token store. Nil
// policies select the defaults.
func NewTokenRateLimiter(repo domain.ActionTokenRepository, policies map[domain.TokenCategory]CategoryPolicy) *TokenRateLimiter {
	if policies == nil {
		policies = DefaultPolicies()
	}
	return &TokenRateLimiter{repo: repo, policies: policies}
}

// CanIssue reports whether the subject is below the category's issuance cap.
func (l *TokenRateLimiter) CanIssue(ctx context.Context, subject string, category domain.TokenCategory) (bool, error) {
	policy, ok := l.policies[category]
	if !ok {
		return false, errors.New("no rate policy for category: " + string(category))
	}
	since := time.Now().UTC().Add(-policy.RateWindow)
	count, err := l.repo.CountCreatedSince(ctx, subject, category, since)
	if err != nil {
		return false, err
	}
	return count < int64(policy.RateMax), nil
}

// NextAllowedAt returns when the subject may next request a token of the
// category, or the zero time when they may do so immediately or no hint can
// be derived.
func (l *TokenRateLimiter) NextAllowedAt(ctx context.Context, subject string, category domain.TokenCategory) (time.Time, error) {
	allowed, err := l.CanIssue(ctx, subject, category)
	if err != nil {
		return time.Time{}, err
	}
	if allowed {
		return time.Time{}, nil
	}

	policy := l.policies[category]
	since := time.Now().UTC().Add(-policy.RateWindow)
	oldest, err := l.repo.FindOldestCreatedSince(ctx, subject, category, since)
	if errors.Is(err, domain.ErrTokenNotFound) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	// The oldest token in the window ages out of it first.
	return oldest.CreatedAt.Add(policy.RateWindow), nil
}

// Policy returns the category's policy.
func (l *TokenRateLimiter) Policy(category domain.TokenCategory) (CategoryPolicy, bool) {
	policy, ok := l.policies[category]
	return policy, ok
}
