package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Hashes use the PHC string form:
// $argon2id$v=19$m=<mem_kib>,t=<iterations>,p=<parallelism>$<salt_b64>$<key_b64>

// Hash derives an Argon2id key for the password and returns it in the
// encoded form above. The password must satisfy the configured policy.
func (c Config) Hash(password string) (string, error) {
	if err := c.Validate(password); err != nil {
		return "", err
	}

	salt := make([]byte, c.Params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("salt: %w", err)
	}

	key := argon2.IDKey(
		[]byte(password),
		salt,
		c.Params.Iterations,
		c.Params.MemoryKiB,
		c.Params.Parallelism,
		c.Params.KeyLength,
	)

	enc := base64.RawStdEncoding
	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		c.Params.MemoryKiB,
		c.Params.Iterations,
		c.Params.Parallelism,
		enc.EncodeToString(salt),
		enc.EncodeToString(key),
	), nil
}

// Verify reports whether password matches encodedHash. A malformed or
// unsupported hash yields ErrInvalidHash; a clean mismatch is (false, nil).
func (c Config) Verify(encodedHash, password string) (bool, error) {
	params, salt, want, err := parseHash(encodedHash)
	if err != nil {
		return false, err
	}

	// Stored hashes are still untrusted input: cost parameters well above
	// our own configuration are refused instead of honored.
	if !costAcceptable(params, c.Params) {
		return false, ErrInvalidHash
	}

	got := argon2.IDKey(
		[]byte(password),
		salt,
		params.Iterations,
		params.MemoryKiB,
		params.Parallelism,
		uint32(len(want)), // #nosec G115 -- key length bounded by costAcceptable.
	)

	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

// costAcceptable accepts hashes produced with equal or smaller cost settings
// and rejects anything far above the configured limits.
func costAcceptable(got, limit Argon2idParams) bool {
	if got.MemoryKiB > limit.MemoryKiB*2 ||
		got.Iterations > limit.Iterations*2 ||
		got.Parallelism > limit.Parallelism*2 {
		return false
	}
	if got.SaltLength < 8 || got.SaltLength > 64 {
		return false
	}
	if got.KeyLength < 16 || got.KeyLength > 128 {
		return false
	}
	return true
}

func parseHash(encoded string) (Argon2idParams, []byte, []byte, error) {
	fail := func() (Argon2idParams, []byte, []byte, error) {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}

	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return fail()
	}
	if parts[2] != fmt.Sprintf("v=%d", argon2.Version) {
		return fail()
	}

	var mem, iters, par uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &mem, &iters, &par); err != nil {
		return fail()
	}
	if mem == 0 || iters == 0 || par == 0 || par > 255 {
		return fail()
	}

	enc := base64.RawStdEncoding
	salt, err := enc.DecodeString(parts[4])
	if err != nil {
		return fail()
	}
	key, err := enc.DecodeString(parts[5])
	if err != nil {
		return fail()
	}

	params := Argon2idParams{
		MemoryKiB:   mem,
		Iterations:  iters,
		Parallelism: uint8(par),        // #nosec G115 -- par <= 255 checked above.
		SaltLength:  uint32(len(salt)), // #nosec G115 -- lengths re-checked by costAcceptable.
		KeyLength:   uint32(len(key)),  // #nosec G115 -- lengths re-checked by costAcceptable.
	}
	return params, salt, key, nil
}
