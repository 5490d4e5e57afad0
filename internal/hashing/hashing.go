// Package hashing provides the sha256 primitives shared by cache keying,
// API-key storage, and admin-identity fingerprinting. It's deliberately
// stdlib-only: crypto/sha256 is a single function call and no library in
// the retrieval pack wraps it more idiomatically (see DESIGN.md).
package hashing

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hex returns the lowercase hex-encoded sha256 digest of s.
func Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// ShortHex returns the first n hex characters of Hex(s). Used for log
// fingerprints so secrets never appear in full, and for x-cache-key-hash
// (n=32 per the spec).
func ShortHex(s string, n int) string {
	full := Hex(s)
	if n >= len(full) {
		return full
	}
	return full[:n]
}
