package services_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paperpress/blog-api/services"
)

func TestSigner_MintAndParse(t *testing.T) {
	signer, err := services.NewSigner("test-signing-secret", "blog-api-test", 15*time.Minute)
	require.NoError(t, err)

	raw, jti, expiresAt, err := signer.Mint("user-1")
	require.NoError(t, err)
	assert.NotEmpty(t, raw)
	assert.NotEmpty(t, jti)
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), expiresAt, time.Second)

	claims, err := signer.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, jti, claims.ID)
	assert.Equal(t, "blog-api-test", claims.Issuer)
}

func TestSigner_EachCredentialHasUniqueID(t *testing.T) {
	signer, err := services.NewSigner("test-signing-secret", "blog-api-test", 15*time.Minute)
	require.NoError(t, err)

	_, first, _, err := signer.Mint("user-1")
	require.NoError(t, err)
	_, second, _, err := signer.Mint("user-1")
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestSigner_RejectsTamperedToken(t *testing.T) {
	signer, err := services.NewSigner("test-signing-secret", "blog-api-test", 15*time.Minute)
	require.NoError(t, err)

	other, err := services.NewSigner("a-different-secret", "blog-api-test", 15*time.Minute)
	require.NoError(t, err)
	raw, _, _, err := other.Mint("user-1")
	require.NoError(t, err)

	_, err = signer.Parse(raw)
	assert.Error(t, err)
}

func TestSigner_RejectsExpiredToken(t *testing.T) {
	signer, err := services.NewSigner("test-signing-secret", "blog-api-test", 15*time.Minute)
	require.NoError(t, err)

	// Hand-roll an expired credential with the same secret.
	claims := services.AccessTokenClaims{
		UserID: "user-1",
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        "expired-jti",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-signing-secret"))
	require.NoError(t, err)

	_, err = signer.Parse(raw)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestSigner_RejectsUnsignedAlgorithm(t *testing.T) {
	signer, err := services.NewSigner("test-signing-secret", "blog-api-test", 15*time.Minute)
	require.NoError(t, err)

	raw, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Subject: "user-1",
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = signer.Parse(raw)
	assert.Error(t, err)
}

func TestNewSigner_Validation(t *testing.T) {
	_, err := services.NewSigner("", "issuer", time.Minute)
	assert.Error(t, err)
	_, err = services.NewSigner("secret", "issuer", 0)
	assert.Error(t, err)
}
