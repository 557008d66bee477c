package inmemory

import (
	"context"
	"sync"
	"time"

	"github.com/paperpress/blog-api/domain"
)

// RevokedTokenRepository is an in-memory implementation of
// domain.RevokedTokenRepository.
type RevokedTokenRepository struct {
	mu     sync.RWMutex
	tokens map[string]*domain.RevokedToken
}

// NewRevokedTokenRepository creates an empty in-memory denylist.
func NewRevokedTokenRepository() *RevokedTokenRepository {
	return &RevokedTokenRepository{
		tokens: make(map[string]*domain.RevokedToken),
	}
}

// Store persists a denylist entry; re-inserting an existing ID is a no-op.
func (r *RevokedTokenRepository) Store(_ context.Context, token *domain.RevokedToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tokens[token.TokenID]; exists {
		return nil
	}
	clone := *token
	r.tokens[token.TokenID] = &clone
	return nil
}

// Exists reports whether a denylist entry is present for the credential ID.
func (r *RevokedTokenRepository) Exists(_ context.Context, tokenID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.tokens[tokenID]
	return exists, nil
}

// CountRevokedSince counts entries a user created in the trailing window.
func (r *RevokedTokenRepository) CountRevokedSince(_ context.Context, userID string, since time.Time) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var count int64
	for _, token := range r.tokens {
		if token.UserID == userID && !token.RevokedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

// DeleteExpired removes entries whose underlying credential has expired.
func (r *RevokedTokenRepository) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var count int64
	for id, token := range r.tokens {
		if !now.Before(token.ExpiresAt) {
			delete(r.tokens, id)
			count++
		}
	}
	return count, nil
}

// DeleteByUser removes every entry belonging to a user.
func (r *RevokedTokenRepository) DeleteByUser(_ context.Context, userID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var count int64
	for id, token := range r.tokens {
		if token.UserID == userID {
			delete(r.tokens, id)
			count++
		}
	}
	return count, nil
}

var _ domain.RevokedTokenRepository = (*RevokedTokenRepository)(nil)
