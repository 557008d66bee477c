package domain

import (
	"errors"
	"time"
)

// RevokeReason records why an access credential was denylisted.
type RevokeReason string

const (
	ReasonLogout         RevokeReason = "logout"
	ReasonAdminRevoke    RevokeReason = "admin_revoke"
	ReasonPasswordChange RevokeReason = "password_change"
	ReasonAccountLocked  RevokeReason = "account_locked"
	ReasonSecurityBreach RevokeReason = "security_breach"
)

// Valid reports whether r is a known revocation reason.
func (r RevokeReason) Valid() bool {
	switch r {
	case ReasonLogout, ReasonAdminRevoke, ReasonPasswordChange,
		ReasonAccountLocked, ReasonSecurityBreach:
		return true
	}
	return false
}

// RevokedToken is a denylist entry for a signed access credential, keyed by
// the credential's embedded unique ID (its jti claim). ExpiresAt mirrors the
// credential's own expiry so the entry can be pruned once the credential
// would be rejected by its expiration check anyway.
type RevokedToken struct {
	TokenID   string       `bson:"_id" json:"token_id"`
	UserID    string       `bson:"user_id" json:"user_id"`
	Reason    RevokeReason `bson:"reason" json:"reason"`
	RevokedAt time.Time    `bson:"revoked_at" json:"revoked_at"`
	ExpiresAt time.Time    `bson:"expires_at" json:"expires_at"`
}

// NewRevokedToken constructs a validated denylist entry.
func NewRevokedToken(tokenID, userID string, reason RevokeReason, expiresAt time.Time) (*RevokedToken, error) {
	if tokenID == "" {
		return nil, errors.New("token ID is required")
	}
	if userID == "" {
		return nil, errors.New("user ID is required")
	}
	if !reason.Valid() {
		return nil, errors.New("unknown revocation reason: " + string(reason))
	}
	if expiresAt.IsZero() {
		return nil, errors.New("expiry is required")
	}
	return &RevokedToken{
		TokenID:   tokenID,
		UserID:    userID,
		Reason:    reason,
		RevokedAt: time.Now().UTC(),
		ExpiresAt: expiresAt,
	}, nil
}
