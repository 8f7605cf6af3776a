// Package digest hashes canonical bytes. SHA-256 is the primary algorithm;
// sha512 and sha3-256 are available for export surfaces that request them.
package digest

import (
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/sha3"
)

const (
	AlgSHA256  = "sha256"
	AlgSHA512  = "sha512"
	AlgSHA3256 = "sha3-256"
)

// HexLen is the length of a rendered SHA-256 digest at API boundaries.
const HexLen = 64

// SHA256 returns the raw 32-byte SHA-256 digest of data.
func SHA256(data []byte) []byte {
	s := sha256.Sum256(data)
	return s[:]
}

// SHA256Hex renders the SHA-256 digest of data as 64 lowercase hex characters.
func SHA256Hex(data []byte) string {
	return hex.EncodeToString(SHA256(data))
}

// For hashes data with the named algorithm.
func For(alg string, data []byte) ([]byte, error) {
	switch alg {
	case AlgSHA256:
		return SHA256(data), nil
	case AlgSHA512:
		s := sha512.Sum512(data)
		return s[:], nil
	case AlgSHA3256:
		s := sha3.Sum256(data)
		return s[:], nil
	default:
		return nil, fmt.Errorf("unsupported hash algorithm: %q", alg)
	}
}

// ValidHex reports whether s is a well-formed rendered digest:
// exactly 64 lowercase hex characters.
func ValidHex(s string) bool {
	if len(s) != HexLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// EqualHex compares two rendered digests in constant time.
func EqualHex(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
