package inmemory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/paperpress/blog-api/domain"
)

// RefreshTokenRepository is an in-memory implementation of
// domain.RefreshTokenRepository.
type RefreshTokenRepository struct {
	mu     sync.RWMutex
	tokens map[string]*domain.RefreshToken
}

// NewRefreshTokenRepository creates an empty in-memory session repository.
func NewRefreshTokenRepository() *RefreshTokenRepository {
	return &RefreshTokenRepository{
		tokens: make(map[string]*domain.RefreshToken),
	}
}

// Store persists a new session.
func (r *RefreshTokenRepository) Store(_ context.Context, token *domain.RefreshToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tokens[token.Token]; exists {
		return errors.New("refresh token with this value already exists")
	}
	clone := *token
	r.tokens[token.Token] = &clone
	return nil
}

// FindActive returns the session iff it is not revoked and not expired.
func (r *RefreshTokenRepository) FindActive(_ context.Context, token string, now time.Time) (*domain.RefreshToken, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, exists := r.tokens[token]
	if !exists || !record.Active(now) {
		return nil, domain.ErrInvalidSession
	}
	clone := *record
	return &clone, nil
}

// Touch updates last_used_at on a session.
func (r *RefreshTokenRepository) Touch(_ context.Context, token string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, exists := r.tokens[token]
	if !exists {
		return domain.ErrInvalidSession
	}
	record.LastUsedAt = at
	return nil
}

// Revoke marks a session revoked iff it is currently active.
func (r *RefreshTokenRepository) Revoke(_ context.Context, token string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, exists := r.tokens[token]
	if !exists || record.Revoked {
		return false, nil
	}
	revokedAt := at
	record.Revoked = true
	record.RevokedAt = &revokedAt
	return true, nil
}

// RevokeAllForUser marks every active session for the user revoked.
func (r *RefreshTokenRepository) RevokeAllForUser(_ context.Context, userID string, at time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var count int64
	for _, record := range r.tokens {
		if record.UserID == userID && !record.Revoked {
			revokedAt := at
			record.Revoked = true
			record.RevokedAt = &revokedAt
			count++
		}
	}
	return count, nil
}

// FindActiveByUser returns the user's active sessions, oldest first.
func (r *RefreshTokenRepository) FindActiveByUser(_ context.Context, userID string, now time.Time) ([]*domain.RefreshToken, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var sessions []*domain.RefreshToken
	for _, record := range r.tokens {
		if record.UserID == userID && record.Active(now) {
			clone := *record
			sessions = append(sessions, &clone)
		}
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})
	return sessions, nil
}

// CountActiveByUser counts the user's active sessions.
func (r *RefreshTokenRepository) CountActiveByUser(_ context.Context, userID string, now time.Time) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var count int64
	for _, record := range r.tokens {
		if record.UserID == userID && record.Active(now) {
			count++
		}
	}
	return count, nil
}

// CountCreatedSince counts sessions created by the user in the window.
func (r *RefreshTokenRepository) CountCreatedSince(_ context.Context, userID string, since time.Time) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var count int64
	for _, record := range r.tokens {
		if record.UserID == userID && !record.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

// DeleteExpired removes sessions past their expiry.
func (r *RefreshTokenRepository) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var count int64
	for token, record := range r.tokens {
		if !now.Before(record.ExpiresAt) {
			delete(r.tokens, token)
			count++
		}
	}
	return count, nil
}

// DeleteRevokedBefore removes revoked sessions older than the cutoff.
func (r *RefreshTokenRepository) DeleteRevokedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var count int64
	for token, record := range r.tokens {
		if record.Revoked && record.RevokedAt != nil && record.RevokedAt.Before(cutoff) {
			delete(r.tokens, token)
			count++
		}
	}
	return count, nil
}

var _ domain.RefreshTokenRepository = (*RefreshTokenRepository)(nil)
