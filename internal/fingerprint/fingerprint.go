// Package fingerprint computes content hashes used as deduplication keys.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
)

// Compute returns the lowercase hex SHA-256 digest of the raw audio bytes.
// Identical bytes always yield identical digests regardless of filename or
// any other metadata.
func Compute(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
