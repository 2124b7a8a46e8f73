// Package hashutil provides content hashing used to verify that build
// recipes and serialized configuration are byte-identical across runs.
package hashutil

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hex returns the lowercase hex-encoded SHA-256 digest of data.
func Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HexString is a convenience wrapper over Hex for string inputs.
func HexString(s string) string {
	return Hex([]byte(s))
}
