// Package auth provides API key hashing and bearer token generation.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// HashKey returns a SHA-256 hash of the key.
func HashKey(key string) string {
	key = strings.TrimSpace(key)

	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}

// NewAPIKey generates a user-facing bearer key. The raw key is returned
// only once; only its hash is stored.
func NewAPIKey() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("entropy failure: %w", err)
	}
	return "kb_" + hex.EncodeToString(raw), nil
}

// NewToken generates a job-scoped bearer token (attachments or results).
// Tokens are unguessable and carry no relation to the job id.
func NewToken() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("entropy failure: %w", err)
	}
	return hex.EncodeToString(raw), nil
}
