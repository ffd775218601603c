package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"strings"
)

// HMACEnvKey is the env var name for the token HMAC secret.
// #nosec G101 -- not a credential; it's an environment variable name.
const HMACEnvKey = "PARLEY_TOKEN_HMAC_KEY"

var (
	// ErrHMACKeyMissing means PARLEY_TOKEN_HMAC_KEY is unset or empty.
	ErrHMACKeyMissing = errors.New("token: hmac key missing")

	// ErrHMACKeyTooShort means the key does not meet the minimum byte length.
	ErrHMACKeyTooShort = errors.New("token: hmac key too short")
)

// HMACKeyFromEnv reads the HMAC secret from the environment and enforces a
// minimum byte length. Length is measured in bytes because the key is used
// as raw key material for HMAC-SHA256.
func HMACKeyFromEnv(minBytes int) ([]byte, error) {
	key := strings.TrimSpace(os.Getenv(HMACEnvKey))
	if key == "" {
		return nil, ErrHMACKeyMissing
	}
	if len(key) < minBytes {
		return nil, ErrHMACKeyTooShort
	}
	return []byte(key), nil
}

// HMACEnabled reports whether refresh-token hashing runs in HMAC mode
// in this process.
func HMACEnabled() bool {
	return strings.TrimSpace(os.Getenv(HMACEnvKey)) != ""
}

// HashSHA256Hex returns a SHA-256 hex digest of s.
func HashSHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// HashHMACSHA256Hex returns an HMAC-SHA256 hex digest of s using key.
func HashHMACSHA256Hex(s string, key []byte) string {
	m := hmac.New(sha256.New, key)
	_, _ = m.Write([]byte(s))
	return hex.EncodeToString(m.Sum(nil))
}

// HashTokenHex hashes refresh tokens for server-side storage.
// Behavior:
//   - If PARLEY_TOKEN_HMAC_KEY is set (non-empty), uses HMAC-SHA256(token, key).
//   - Otherwise falls back to SHA-256(token) for dev/back-compat.
func HashTokenHex(token string) string {
	key := strings.TrimSpace(os.Getenv(HMACEnvKey))
	if key == "" {
		return HashSHA256Hex(token)
	}
	return HashHMACSHA256Hex(token, []byte(key))
}
