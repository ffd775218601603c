package password

import (
	"errors"
	"testing"
)

func TestHashVerifyRoundTrip(t *testing.T) {
	cfg := DefaultConfig()

	h, err := cfg.Hash("correct horse battery staple 9!")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}

	ok, err := cfg.Verify(h, "correct horse battery staple 9!")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !ok {
		t.Fatalf("expected match")
	}

	ok, err = cfg.Verify(h, "wrong horse entirely!!")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if ok {
		t.Fatalf("expected mismatch")
	}
}

func TestValidate_LengthPolicy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Policy.MinLength = 12
	cfg.Policy.MaxLength = 16

	tests := []struct {
		name string
		pw   string
		want error
	}{
		{name: "too_short", pw: "short", want: ErrPasswordTooShort},
		{name: "too_long", pw: "this passphrase is well past sixteen", want: ErrPasswordTooLong},
		{name: "in_range", pw: "goodpassw0rd!", want: nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if err := cfg.Validate(tc.pw); !errors.Is(err, tc.want) {
				t.Fatalf("Validate(%q) = %v, want %v", tc.pw, err, tc.want)
			}
		})
	}
}

func TestVerify_MalformedHash(t *testing.T) {
	cfg := DefaultConfig()

	hashes := []string{
		"",
		"not-a-hash",
		"$argon2i$v=19$m=65536,t=3,p=1$AAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAA",
		"$argon2id$v=18$m=65536,t=3,p=1$AAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAA",
	}
	for _, h := range hashes {
		ok, err := cfg.Verify(h, "whatever")
		if !errors.Is(err, ErrInvalidHash) {
			t.Fatalf("Verify(%q): err = %v, want ErrInvalidHash", h, err)
		}
		if ok {
			t.Fatalf("Verify(%q): expected false", h)
		}
	}
}

func TestValidate_RejectsTrivialPasswords(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Policy.MinLength = 8
	cfg.Policy.RejectVeryWeak = true

	for _, pw := range []string{"password", "11111111", "12345678901"} {
		if err := cfg.Validate(pw); !errors.Is(err, ErrWeakPassword) {
			t.Fatalf("Validate(%q) = %v, want ErrWeakPassword", pw, err)
		}
	}

	if err := cfg.Validate("plausible-pass-1"); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}
