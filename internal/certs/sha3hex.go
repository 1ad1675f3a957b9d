package certs

import (
	"encoding/hex"

	"golang.org/x/crypto/sha3"
)

// sha3Hex returns the lowercase hex SHA3-512 digest of s, used for the
// certificate's embedded fingerprint_hash during minting. The
// fingerprint deriver itself (internal/fingerprint) uses the same
// golang.org/x/crypto/sha3 primitive for the fingerprint hash proper.
func sha3Hex(s string) string {
	sum := sha3.Sum512([]byte(s))
	return hex.EncodeToString(sum[:])
}
