package identity

import "parley/cmd/security/password"

// HashPassword hashes a plaintext password with the configured Argon2id
// parameters and policy.
func HashPassword(plain string, cfg password.Config) (string, error) {
	return cfg.Hash(plain)
}

// VerifyPassword checks a plaintext password against an encoded hash.
// The hash string is treated as untrusted input.
func VerifyPassword(plain, encodedHash string, cfg password.Config) (bool, error) {
	return cfg.Verify(encodedHash, plain)
}
