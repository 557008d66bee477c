package domain

import (
	"errors"
	"time"
)

// RefreshToken is a long-lived session-continuation token. One record per
// device session; rotation replaces the record rather than mutating the value.
type RefreshToken struct {
	Token      string     `bson:"_id" json:"token"`
	UserID     string     `bson:"user_id" json:"user_id"`
	DeviceInfo string     `bson:"device_info,omitempty" json:"device_info,omitempty"`
	IPAddress  string     `bson:"ip_address,omitempty" json:"ip_address,omitempty"`
	CreatedAt  time.Time  `bson:"created_at" json:"created_at"`
	ExpiresAt  time.Time  `bson:"expires_at" json:"expires_at"`
	LastUsedAt time.Time  `bson:"last_used_at,omitempty" json:"last_used_at,omitempty"`
	Revoked    bool       `bson:"revoked" json:"revoked"`
	RevokedAt  *time.Time `bson:"revoked_at,omitempty" json:"revoked_at,omitempty"`
}

// NewRefreshToken constructs a validated refresh-token record.
func NewRefreshToken(token, userID, deviceInfo, ipAddress string, ttl time.Duration) (*RefreshToken, error) {
	if token == "" {
		return nil, errors.New("refresh token value is required")
	}
	if userID == "" {
		return nil, errors.New("refresh token user ID is required")
	}
	if ttl <= 0 {
		return nil, errors.New("refresh token ttl must be positive")
	}
	now := time.Now().UTC()
	return &RefreshToken{
		Token:      token,
		UserID:     userID,
		DeviceInfo: deviceInfo,
		IPAddress:  ipAddress,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
	}, nil
}

// Active reports whether the session can still be exchanged: not revoked and
// not past its expiry.
func (t *RefreshToken) Active(now time.Time) bool {
	return !t.Revoked && now.Before(t.ExpiresAt)
}
