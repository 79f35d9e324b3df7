package auth

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// CacheKey derives the connection cache key for a credential set and group.
// Raw credentials never appear in the key.
func CacheKey(creds Credentials, group string) string {
	h, _ := blake2b.New256(nil)
	h.Write(creds.material())
	h.Write([]byte{0})
	h.Write([]byte(group))
	return hex.EncodeToString(h.Sum(nil))
}
