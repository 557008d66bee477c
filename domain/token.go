package domain

import (
	"errors"
	"time"
)

// TokenCategory identifies what action a token authorizes.
type TokenCategory string

const (
	CategoryEmailVerification     TokenCategory = "email_verification"
	CategoryPasswordReset         TokenCategory = "password_reset"
	CategoryNewsletterConfirm     TokenCategory = "newsletter_confirm"
	CategoryNewsletterUnsubscribe TokenCategory = "newsletter_unsubscribe"
	CategoryNewsletterDataRequest TokenCategory = "newsletter_data_request"
)

// Categories lists every known token category.
var Categories = []TokenCategory{
	CategoryEmailVerification,
	CategoryPasswordReset,
	CategoryNewsletterConfirm,
	CategoryNewsletterUnsubscribe,
	CategoryNewsletterDataRequest,
}

// Valid reports whether c is one of the known categories.
func (c TokenCategory) Valid() bool {
	switch c {
	case CategoryEmailVerification, CategoryPasswordReset,
		CategoryNewsletterConfirm, CategoryNewsletterUnsubscribe,
		CategoryNewsletterDataRequest:
		return true
	}
	return false
}

// ActionToken is a single-use, time-bounded token tied to a subject (an email
// address or user ID, depending on category) authorizing one specific action.
type ActionToken struct {
	Value     string        `bson:"_id" json:"value"`
	Subject   string        `bson:"subject" json:"subject"`
	Category  TokenCategory `bson:"category" json:"category"`
	IPAddress string        `bson:"ip_address,omitempty" json:"ip_address,omitempty"`
	UserAgent string        `bson:"user_agent,omitempty" json:"user_agent,omitempty"`
	CreatedAt time.Time     `bson:"created_at" json:"created_at"`
	ExpiresAt time.Time     `bson:"expires_at" json:"expires_at"`
	UsedAt    *time.Time    `bson:"used_at,omitempty" json:"used_at,omitempty"`
}

// NewActionToken constructs a validated token record. The value must already
// be generated from a cryptographically secure source.
func NewActionToken(value, subject string, category TokenCategory, ttl time.Duration) (*ActionToken, error) {
	if value == "" {
		return nil, errors.New("token value is required")
	}
	if subject == "" {
		return nil, errors.New("token subject is required")
	}
	if !category.Valid() {
		return nil, errors.New("unknown token category: " + string(category))
	}
	if ttl <= 0 {
		return nil, errors.New("token ttl must be positive")
	}
	now := time.Now().UTC()
	return &ActionToken{
		Value:     value,
		Subject:   subject,
		Category:  category,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}, nil
}

// Used reports whether the token has been consumed.
func (t *ActionToken) Used() bool {
	return t.UsedAt != nil
}

// Expired reports whether the token is past its expiry at the given instant.
func (t *ActionToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// Valid reports whether the token is still usable: never consumed and not
// expired.
func (t *ActionToken) Valid(now time.Time) bool {
	return !t.Used() && !t.Expired(now)
}
