package domain

import (
	"context"
	"time"
)

// ActionTokenRepository persists single-use action tokens. Implementations
// must return ErrTokenNotFound when no record matches, and must implement
// MarkUsed as a conditional update so that concurrent consumption attempts
// resolve to exactly one winner.
type ActionTokenRepository interface {
	Store(ctx context.Context, token *ActionToken) error
	// FindByValue looks a token up by value and category.
	FindByValue(ctx context.Context, value string, category TokenCategory) (*ActionToken, error)
	// MarkUsed sets used_at iff it is currently unset. Returns
	// ErrTokenAlreadyUsed when another caller won the race, ErrTokenNotFound
	// when no such token exists.
	MarkUsed(ctx context.Context, value string, category TokenCategory, usedAt time.Time) error
	// MarkAllUsed consumes every currently-valid token for the subject and
	// category, returning how many were invalidated.
	MarkAllUsed(ctx context.Context, subject string, category TokenCategory, usedAt time.Time) (int64, error)
	// CountCreatedSince counts tokens created for the subject and category at
	// or after the given instant. Used for rate limiting.
	CountCreatedSince(ctx context.Context, subject string, category TokenCategory, since time.Time) (int64, error)
	// FindOldestCreatedSince returns the oldest token in the trailing window,
	// or ErrTokenNotFound when the window is empty.
	FindOldestCreatedSince(ctx context.Context, subject string, category TokenCategory, since time.Time) (*ActionToken, error)
	// FindMostRecentValid returns the newest still-valid token for the
	// subject and category, or ErrTokenNotFound.
	FindMostRecentValid(ctx context.Context, subject string, category TokenCategory, now time.Time) (*ActionToken, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
	DeleteUsedBefore(ctx context.Context, cutoff time.Time) (int64, error)
	// DeleteBySubject removes every token for a subject. Used for data
	// erasure requests.
	DeleteBySubject(ctx context.Context, subject string) (int64, error)
	CountValidByCategory(ctx context.Context, category TokenCategory, now time.Time) (int64, error)
	CountUsedByCategory(ctx context.Context, category TokenCategory) (int64, error)
}

// RefreshTokenRepository persists refresh-token sessions. Revoke must be a
// conditional update on the revoked flag.
type RefreshTokenRepository interface {
	Store(ctx context.Context, token *RefreshToken) error
	// FindActive returns the session iff it is not revoked and not expired,
	// ErrInvalidSession otherwise.
	FindActive(ctx context.Context, token string, now time.Time) (*RefreshToken, error)
	// Touch updates last_used_at on a session.
	Touch(ctx context.Context, token string, at time.Time) error
	// Revoke marks a session revoked iff it is currently active. Returns
	// false when no active session matched.
	Revoke(ctx context.Context, token string, at time.Time) (bool, error)
	RevokeAllForUser(ctx context.Context, userID string, at time.Time) (int64, error)
	// FindActiveByUser returns the user's active sessions ordered oldest
	// first.
	FindActiveByUser(ctx context.Context, userID string, now time.Time) ([]*RefreshToken, error)
	CountActiveByUser(ctx context.Context, userID string, now time.Time) (int64, error)
	CountCreatedSince(ctx context.Context, userID string, since time.Time) (int64, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
	DeleteRevokedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// RevokedTokenRepository persists the access-credential denylist.
type RevokedTokenRepository interface {
	Store(ctx context.Context, token *RevokedToken) error
	Exists(ctx context.Context, tokenID string) (bool, error)
	// CountRevokedSince counts entries a user created in the trailing window.
	// Used to rate limit revocation churn.
	CountRevokedSince(ctx context.Context, userID string, since time.Time) (int64, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
	DeleteByUser(ctx context.Context, userID string) (int64, error)
}

// TwoFactorRepository persists per-user second-factor configuration.
// UseBackupCode must be a conditional update so a backup code can only ever
// be consumed once.
type TwoFactorRepository interface {
	// Save upserts the configuration for auth.UserID.
	Save(ctx context.Context, auth *TwoFactorAuth) error
	// FindByUser returns ErrTwoFactorNotConfigured when the user has no
	// configuration.
	FindByUser(ctx context.Context, userID string) (*TwoFactorAuth, error)
	Enable(ctx context.Context, userID string, at time.Time) error
	Disable(ctx context.Context, userID string) error
	// UseBackupCode appends the code to the consumed set iff it is not
	// already there. Returns false when the code was consumed before.
	UseBackupCode(ctx context.Context, userID, code string, at time.Time) (bool, error)
	// TouchLastUsed records a successful verification.
	TouchLastUsed(ctx context.Context, userID string, at time.Time) error
	// ReplaceBackupCodes swaps in a new code set and clears the consumed set.
	ReplaceBackupCodes(ctx context.Context, userID string, codes []string) error
}
