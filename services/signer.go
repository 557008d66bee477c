package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AccessTokenClaims are the claims embedded in a signed access credential.
// The jti (RegisteredClaims.ID) is what the revocation registry keys on.
type AccessTokenClaims struct {
	jwt.RegisteredClaims
	UserID string `json:"user_id"`
}

// Signer mints and parses signed access credentials. Each credential carries
// a unique ID and its own expiry; everything else about authentication lives
// elsewhere.
type Signer struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

// NewSigner creates a Signer with the given HMAC secret, issuer and access
// credential lifetime.
func NewSigner(secret, issuer string, ttl time.Duration) (*Signer, error) {
	if secret == "" {
		return nil, errors.New("signer secret is required")
	}
	if ttl <= 0 {
		return nil, errors.New("access credential ttl must be positive")
	}
	return &Signer{
		secret: []byte(secret),
		issuer: issuer,
		ttl:    ttl,
	}, nil
}

// Mint issues a new signed credential for the user, returning the credential,
// its unique ID and its expiry.
func (s *Signer) Mint(userID string) (string, string, time.Time, error) {
	now := time.Now().UTC()
	expiresAt := now.Add(s.ttl)
	jti := uuid.NewString()

	claims := AccessTokenClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Issuer:    s.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", "", time.Time{}, fmt.Errorf("failed to sign access credential: %w", err)
	}
	return token, jti, expiresAt, nil
}

// Parse validates the credential's signature and expiry and returns its
// claims.
func (s *Signer) Parse(tokenString string) (*AccessTokenClaims, error) {
	claims := &AccessTokenClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid access credential")
	}
	return claims, nil
}
