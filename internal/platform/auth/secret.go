package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// SecretPrefix marks generated key secrets so they are recognizable in
// configuration files and logs scrubbers.
const SecretPrefix = "pd_"

const keyPrefixLen = 8

// GenerateSecret mints a new API key secret. The secret is returned exactly
// once; only its hash and display prefix are meant to be stored.
func GenerateSecret() (secret, hash, prefix string, err error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", "", "", fmt.Errorf("generate secret: %w", err)
	}
	secret = SecretPrefix + base64.RawURLEncoding.EncodeToString(raw)
	return secret, HashSecret(secret), KeyPrefix(secret), nil
}

// KeyPrefix returns the display prefix stored alongside a secret's hash.
func KeyPrefix(secret string) string {
	if len(secret) <= keyPrefixLen {
		return secret
	}
	return secret[:keyPrefixLen]
}

// HashSecret returns the hex SHA-256 digest stored and looked up in place of
// the secret itself.
func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}
