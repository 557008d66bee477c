// Package inmemory provides map-backed implementations of the domain
// repositories. Suitable for development, testing, or single-instance
// deployments; the conditional-update semantics mirror the MongoDB
// implementations exactly.
package inmemory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/paperpress/blog-api/domain"
)

// ActionTokenRepository is an in-memory implementation of
// domain.ActionTokenRepository.
type ActionTokenRepository struct {
	mu     sync.RWMutex
	tokens map[string]*domain.ActionToken
}

// NewActionTokenRepository creates an empty in-memory token repository.
func NewActionTokenRepository() *ActionTokenRepository {
	return &ActionTokenRepository{
		tokens: make(map[string]*domain.ActionToken),
	}
}

// Store persists a new token record.
func (r *ActionTokenRepository) Store(_ context.Context, token *domain.ActionToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tokens[token.Value]; exists {
		return errors.New("action token with this value already exists")
	}
	clone := *token
	r.tokens[token.Value] = &clone
	return nil
}

// FindByValue looks a token up by value and category.
func (r *ActionTokenRepository) FindByValue(_ context.Context, value string, category domain.TokenCategory) (*domain.ActionToken, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	token, exists := r.tokens[value]
	if !exists || token.Category != category {
		return nil, domain.ErrTokenNotFound
	}
	clone := *token
	return &clone, nil
}

// MarkUsed sets used_at iff it is currently unset.
func (r *ActionTokenRepository) MarkUsed(_ context.Context, value string, category domain.TokenCategory, usedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	token, exists := r.tokens[value]
	if !exists || token.Category != category {
		return domain.ErrTokenNotFound
	}
	if token.UsedAt != nil {
		return domain.ErrTokenAlreadyUsed
	}
	at := usedAt
	token.UsedAt = &at
	return nil
}

// MarkAllUsed consumes every currently-valid token for the subject/category.
func (r *ActionTokenRepository) MarkAllUsed(_ context.Context, subject string, category domain.TokenCategory, usedAt time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var count int64
	for _, token := range r.tokens {
		if token.Subject == subject && token.Category == category && token.Valid(usedAt) {
			at := usedAt
			token.UsedAt = &at
			count++
		}
	}
	return count, nil
}

// CountCreatedSince counts tokens created in the trailing window.
func (r *ActionTokenRepository) CountCreatedSince(_ context.Context, subject string, category domain.TokenCategory, since time.Time) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var count int64
	for _, token := range r.tokens {
		if token.Subject == subject && token.Category == category && !token.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

// FindOldestCreatedSince returns the oldest token in the trailing window.
func (r *ActionTokenRepository) FindOldestCreatedSince(_ context.Context, subject string, category domain.TokenCategory, since time.Time) (*domain.ActionToken, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matches []*domain.ActionToken
	for _, token := range r.tokens {
		if token.Subject == subject && token.Category == category && !token.CreatedAt.Before(since) {
			matches = append(matches, token)
		}
	}
	if len(matches) == 0 {
		return nil, domain.ErrTokenNotFound
	}
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].CreatedAt.Before(matches[j].CreatedAt)
	})
	clone := *matches[0]
	return &clone, nil
}

// FindMostRecentValid returns the newest still-valid token for the subject.
func (r *ActionTokenRepository) FindMostRecentValid(_ context.Context, subject string, category domain.TokenCategory, now time.Time) (*domain.ActionToken, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var newest *domain.ActionToken
	for _, token := range r.tokens {
		if token.Subject != subject || token.Category != category || !token.Valid(now) {
			continue
		}
		if newest == nil || token.CreatedAt.After(newest.CreatedAt) {
			newest = token
		}
	}
	if newest == nil {
		return nil, domain.ErrTokenNotFound
	}
	clone := *newest
	return &clone, nil
}

// DeleteExpired removes tokens past their expiry.
func (r *ActionTokenRepository) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var count int64
	for value, token := range r.tokens {
		if token.Expired(now) {
			delete(r.tokens, value)
			count++
		}
	}
	return count, nil
}

// DeleteUsedBefore removes consumed tokens older than the retention cutoff.
func (r *ActionTokenRepository) DeleteUsedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var count int64
	for value, token := range r.tokens {
		if token.Used() && token.CreatedAt.Before(cutoff) {
			delete(r.tokens, value)
			count++
		}
	}
	return count, nil
}

// DeleteBySubject removes every token for a subject.
func (r *ActionTokenRepository) DeleteBySubject(_ context.Context, subject string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var count int64
	for value, token := range r.tokens {
		if token.Subject == subject {
			delete(r.tokens, value)
			count++
		}
	}
	return count, nil
}

// CountValidByCategory counts still-valid tokens of a category.
func (r *ActionTokenRepository) CountValidByCategory(_ context.Context, category domain.TokenCategory, now time.Time) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var count int64
	for _, token := range r.tokens {
		if token.Category == category && token.Valid(now) {
			count++
		}
	}
	return count, nil
}

// CountUsedByCategory counts consumed tokens of a category.
func (r *ActionTokenRepository) CountUsedByCategory(_ context.Context, category domain.TokenCategory) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var count int64
	for _, token := range r.tokens {
		if token.Category == category && token.Used() {
			count++
		}
	}
	return count, nil
}

var _ domain.ActionTokenRepository = (*ActionTokenRepository)(nil)
