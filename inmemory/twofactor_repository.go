package inmemory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/paperpress/blog-api/domain"
)

// TwoFactorRepository is an in-memory implementation of
// domain.TwoFactorRepository.
type TwoFactorRepository struct {
	mu      sync.RWMutex
	configs map[string]*domain.TwoFactorAuth
}

// NewTwoFactorRepository creates an empty in-memory configuration store.
func NewTwoFactorRepository() *TwoFactorRepository {
	return &TwoFactorRepository{
		configs: make(map[string]*domain.TwoFactorAuth),
	}
}

// Save upserts the configuration for auth.UserID.
func (r *TwoFactorRepository) Save(_ context.Context, auth *domain.TwoFactorAuth) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	clone := cloneTwoFactor(auth)
	r.configs[auth.UserID] = clone
	return nil
}

// FindByUser returns the user's configuration.
func (r *TwoFactorRepository) FindByUser(_ context.Context, userID string) (*domain.TwoFactorAuth, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	auth, exists := r.configs[userID]
	if !exists {
		return nil, domain.ErrTwoFactorNotConfigured
	}
	return cloneTwoFactor(auth), nil
}

// Enable flips the enabled flag and records when it happened.
func (r *TwoFactorRepository) Enable(_ context.Context, userID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	auth, exists := r.configs[userID]
	if !exists {
		return domain.ErrTwoFactorNotConfigured
	}
	enabledAt := at
	auth.Enabled = true
	auth.EnabledAt = &enabledAt
	return nil
}

// Disable clears the enabled flag and its timestamp.
func (r *TwoFactorRepository) Disable(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	auth, exists := r.configs[userID]
	if !exists {
		return domain.ErrTwoFactorNotConfigured
	}
	auth.Enabled = false
	auth.EnabledAt = nil
	return nil
}

// UseBackupCode appends the code to the consumed set iff it is not already
// there, under one lock so concurrent spends resolve to one winner.
func (r *TwoFactorRepository) UseBackupCode(_ context.Context, userID, code string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	auth, exists := r.configs[userID]
	if !exists {
		return false, domain.ErrTwoFactorNotConfigured
	}
	if !slices.Contains(auth.BackupCodes, code) || slices.Contains(auth.UsedBackupCodes, code) {
		return false, nil
	}
	usedAt := at
	auth.UsedBackupCodes = append(auth.UsedBackupCodes, code)
	auth.LastUsedAt = &usedAt
	return true, nil
}

// TouchLastUsed records a successful verification.
func (r *TwoFactorRepository) TouchLastUsed(_ context.Context, userID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	auth, exists := r.configs[userID]
	if !exists {
		return domain.ErrTwoFactorNotConfigured
	}
	usedAt := at
	auth.LastUsedAt = &usedAt
	return nil
}

// ReplaceBackupCodes swaps in a new code set and clears the consumed set.
func (r *TwoFactorRepository) ReplaceBackupCodes(_ context.Context, userID string, codes []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	auth, exists := r.configs[userID]
	if !exists {
		return domain.ErrTwoFactorNotConfigured
	}
	auth.BackupCodes = slices.Clone(codes)
	auth.UsedBackupCodes = []string{}
	return nil
}

func cloneTwoFactor(auth *domain.TwoFactorAuth) *domain.TwoFactorAuth {
	clone := *auth
	clone.BackupCodes = slices.Clone(auth.BackupCodes)
	clone.UsedBackupCodes = slices.Clone(auth.UsedBackupCodes)
	return &clone
}

var _ domain.TwoFactorRepository = (*TwoFactorRepository)(nil)
