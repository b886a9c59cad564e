package crypto

import (
	"crypto/sha256"
	"encoding/hex"
)

// ShortIDLen is the length in hex characters of a derived short-id.
const ShortIDLen = 16

// DeriveShortID deterministically derives the 16-char lowercase-hex Reality
// short-id from a user's UUID: the first 8 bytes of SHA-256(uuid).
func DeriveShortID(id string) string {
	sum := sha256.Sum256([]byte(id))
	return hex.EncodeToString(sum[:8])
}
