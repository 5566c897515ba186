// Package requestid generates the opaque ids stamped onto every request.
package requestid

import (
	"crypto/rand"
	"encoding/hex"
)

// New returns 32 hex chars of randomness.
func New() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
