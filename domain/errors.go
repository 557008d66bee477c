package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrTokenNotFound indicates no token record matches the lookup.
	ErrTokenNotFound = errors.New("token not found")
	// ErrTokenAlreadyUsed indicates the token was consumed before, possibly
	// by a concurrent request that won the race.
	ErrTokenAlreadyUsed = errors.New("token has already been used")
	// ErrTokenExpired indicates the token's lifetime has elapsed.
	ErrTokenExpired = errors.New("token has expired")

	// ErrInvalidSession indicates a refresh token that is unknown, expired or
	// revoked. The three cases are deliberately indistinguishable to callers.
	ErrInvalidSession = errors.New("invalid or expired session")

	// ErrTwoFactorNotConfigured indicates the user never set a second factor
	// up.
	ErrTwoFactorNotConfigured = errors.New("two-factor authentication is not configured")
	// ErrTwoFactorAlreadyEnabled indicates setup was attempted on an account
	// with the second factor already active.
	ErrTwoFactorAlreadyEnabled = errors.New("two-factor authentication is already enabled")
	// ErrTwoFactorNotEnabled indicates an operation that requires an active
	// second factor.
	ErrTwoFactorNotEnabled = errors.New("two-factor authentication is not enabled")
)

// RateLimitError reports that a subject requested too many action tokens of
// one category inside the trailing window. RetryAt is a hint for a
// Retry-After header; it is the zero time when no hint could be derived.
type RateLimitError struct {
	Subject  string
	Category TokenCategory
	RetryAt  time.Time
}

func (e *RateLimitError) Error() string {
	if e.RetryAt.IsZero() {
		return fmt.Sprintf("too many %s tokens requested, please try again later", e.Category)
	}
	return fmt.Sprintf("too many %s tokens requested, retry after %s", e.Category, e.RetryAt.Format(time.RFC3339))
}

// SecurityPolicyError reports that an operation was refused by a security
// policy, such as the session-creation or revocation rate caps.
type SecurityPolicyError struct {
	Reason string
}

func (e *SecurityPolicyError) Error() string {
	return e.Reason
}
