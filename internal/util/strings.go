// Package util provides small internal helpers shared across the relay.
package util

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashForLogging creates a short SHA256 hash of sensitive data for logging.
// State values are caller-supplied correlation ids and may embed user
// identifiers, so logs carry only their hash.
func HashForLogging(sensitive string) string {
	if sensitive == "" {
		return "<empty>"
	}
	hash := sha256.Sum256([]byte(sensitive))
	return hex.EncodeToString(hash[:])[:16]
}
