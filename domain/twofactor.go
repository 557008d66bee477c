package domain

import (
	"errors"
	"slices"
	"time"
)

// TwoFactorAuth holds a user's second-factor configuration. The secret and
// backup codes are provisioned in a disabled state and only trusted once the
// user proves they can produce a valid code.
type TwoFactorAuth struct {
	UserID          string     `bson:"_id" json:"user_id"`
	Secret          string     `bson:"secret" json:"-"`
	Enabled         bool       `bson:"enabled" json:"enabled"`
	BackupCodes     []string   `bson:"backup_codes" json:"-"`
	UsedBackupCodes []string   `bson:"used_backup_codes" json:"-"`
	CreatedAt       time.Time  `bson:"created_at" json:"created_at"`
	EnabledAt       *time.Time `bson:"enabled_at,omitempty" json:"enabled_at,omitempty"`
	LastUsedAt      *time.Time `bson:"last_used_at,omitempty" json:"last_used_at,omitempty"`
}

// NewTwoFactorAuth constructs a disabled configuration awaiting verification.
func NewTwoFactorAuth(userID, secret string, backupCodes []string) (*TwoFactorAuth, error) {
	if userID == "" {
		return nil, errors.New("user ID is required")
	}
	if secret == "" {
		return nil, errors.New("secret is required")
	}
	if len(backupCodes) == 0 {
		return nil, errors.New("backup codes are required")
	}
	return &TwoFactorAuth{
		UserID:          userID,
		Secret:          secret,
		BackupCodes:     backupCodes,
		UsedBackupCodes: []string{},
		CreatedAt:       time.Now().UTC(),
	}, nil
}

// BackupCodeUsed reports whether the given code has already been consumed.
func (a *TwoFactorAuth) BackupCodeUsed(code string) bool {
	return slices.Contains(a.UsedBackupCodes, code)
}

// HasBackupCode reports whether the code belongs to the issued set,
// regardless of whether it has been consumed.
func (a *TwoFactorAuth) HasBackupCode(code string) bool {
	return slices.Contains(a.BackupCodes, code)
}

// AvailableBackupCodes returns the codes not yet consumed.
func (a *TwoFactorAuth) AvailableBackupCodes() []string {
	available := make([]string, 0, len(a.BackupCodes))
	for _, code := range a.BackupCodes {
		if !a.BackupCodeUsed(code) {
			available = append(available, code)
		}
	}
	return available
}
