// Package totp implements RFC 6238 time-based one-time passwords with the
// parameters used by common authenticator apps: HMAC-SHA1, 30 second time
// steps, 6 digit codes.
package totp

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base32"
	"encoding/binary"
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	// Period is the length of one time step in seconds.
	Period = 30
	// Digits is the number of digits in a generated code.
	Digits = 6
	// Skew is the number of adjacent time steps accepted on either side of
	// the current one, tolerating client clock drift.
	Skew = 1
	// SecretSize is the secret key length in bytes (160 bits).
	SecretSize = 20

	// DefaultBackupCodeCount is the number of backup codes issued per setup.
	DefaultBackupCodeCount = 10
	// BackupCodeLength is the number of digits in a backup code.
	BackupCodeLength = 8
)

// GenerateSecret returns a new random 160-bit secret, base32 encoded without
// padding, as expected by authenticator apps.
func GenerateSecret() (string, error) {
	buf := make([]byte, SecretSize)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes for TOTP secret: %w", err)
	}
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf), nil
}

// GenerateBackupCodes returns count random numeric codes of BackupCodeLength
// digits each. The codes are returned in plaintext; they are shown to the
// user exactly once.
func GenerateBackupCodes(count int) ([]string, error) {
	if count <= 0 {
		count = DefaultBackupCodeCount
	}
	codes := make([]string, count)
	for i := range codes {
		code, err := randomDigits(BackupCodeLength)
		if err != nil {
			return nil, err
		}
		codes[i] = code
	}
	return codes, nil
}

// randomDigits returns n uniformly distributed decimal digits. Bytes of 250
// and above are rejected; reducing them mod 10 would favor digits 0 through 5.
func randomDigits(n int) (string, error) {
	digits := make([]byte, 0, n)
	buf := make([]byte, n)
	for len(digits) < n {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("failed to read random bytes for backup code: %w", err)
		}
		for _, b := range buf {
			if b >= 250 {
				continue
			}
			digits = append(digits, '0'+b%10)
			if len(digits) == n {
				break
			}
		}
	}
	return string(digits), nil
}

// GenerateCode computes the code for the given base32 secret and time
// counter (unix seconds divided by Period).
func GenerateCode(secret string, counter uint64) (string, error) {
	key, err := decodeSecret(secret)
	if err != nil {
		return "", err
	}

	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], counter)

	mac := hmac.New(sha1.New, key)
	mac.Write(msg[:])
	sum := mac.Sum(nil)

	// Dynamic truncation per RFC 4226 §5.3: the low 4 bits of the last byte
	// select a 4-byte window, whose top bit is masked off.
	offset := sum[len(sum)-1] & 0x0f
	value := (uint32(sum[offset])&0x7f)<<24 |
		uint32(sum[offset+1])<<16 |
		uint32(sum[offset+2])<<8 |
		uint32(sum[offset+3])

	return fmt.Sprintf("%0*d", Digits, value%1000000), nil
}

// GenerateCodeAt computes the code for the given instant.
func GenerateCodeAt(secret string, t time.Time) (string, error) {
	return GenerateCode(secret, uint64(t.Unix())/Period)
}

// Validate reports whether code matches the secret at instant t, accepting
// codes from the Skew adjacent time steps on either side.
func Validate(secret, code string, t time.Time) bool {
	counter := t.Unix() / Period
	for i := int64(-Skew); i <= Skew; i++ {
		expected, err := GenerateCode(secret, uint64(counter+i))
		if err != nil {
			return false
		}
		if ConstantTimeEquals(code, expected) {
			return true
		}
	}
	return false
}

// ConstantTimeEquals compares two strings without short-circuiting on the
// first mismatched character, resisting timing side-channels. Length is
// checked first; code lengths are public knowledge.
func ConstantTimeEquals(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	var v byte
	for i := 0; i < len(a); i++ {
		v |= a[i] ^ b[i]
	}
	return v == 0
}

// ProvisioningURI builds the otpauth:// URI that authenticator apps consume
// during enrollment.
func ProvisioningURI(issuer, accountName, secret string) string {
	label := url.PathEscape(issuer + ":" + accountName)
	q := url.Values{}
	q.Set("secret", secret)
	q.Set("issuer", issuer)
	q.Set("digits", fmt.Sprintf("%d", Digits))
	q.Set("period", fmt.Sprintf("%d", Period))
	return fmt.Sprintf("otpauth://totp/%s?%s", label, q.Encode())
}

func decodeSecret(secret string) ([]byte, error) {
	normalized := strings.ToUpper(strings.TrimSpace(secret))
	key, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(normalized)
	if err != nil {
		return nil, fmt.Errorf("malformed TOTP secret: %w", err)
	}
	return key, nil
}
