package cache

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashToken hashes a token identifier before it is used as a cache key, so
// raw credential IDs never sit in the cache and keys stay a fixed length.
func HashToken(token string) string {
	hasher := sha256.New()
	hasher.Write([]byte(token))
	return hex.EncodeToString(hasher.Sum(nil))
}
