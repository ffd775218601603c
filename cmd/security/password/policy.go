package password

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Validate applies the configured policy. Lengths count runes, not bytes,
// so multi-byte passphrases are not penalized.
func (c Config) Validate(password string) error {
	switch n := utf8.RuneCountInString(password); {
	case n < c.Policy.MinLength:
		return ErrPasswordTooShort
	case n > c.Policy.MaxLength:
		return ErrPasswordTooLong
	}

	if c.Policy.RejectVeryWeak && isTrivial(password) {
		return ErrWeakPassword
	}
	return nil
}

// isTrivial catches only the most obvious throwaway passwords. Full strength
// estimation is left to the client.
func isTrivial(pw string) bool {
	s := strings.TrimSpace(pw)
	if s == "" {
		return true
	}

	runes := []rune(s)

	same := true
	for _, r := range runes[1:] {
		if r != runes[0] {
			same = false
			break
		}
	}
	if same {
		return true
	}

	// PIN-like: short all-digit strings.
	digitsOnly := true
	for _, r := range runes {
		if !unicode.IsDigit(r) {
			digitsOnly = false
			break
		}
	}
	if digitsOnly && len(runes) < 12 {
		return true
	}

	switch strings.ToLower(s) {
	case "password", "password123", "123456", "123456789", "qwerty", "qwerty123", "11111111":
		return true
	}
	return false
}
