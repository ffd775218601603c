package password

import "errors"

// Errors returned by Validate and Verify. Callers branch on these with
// errors.Is when mapping them to API responses.
var (
	ErrPasswordTooShort = errors.New("password below minimum length")
	ErrPasswordTooLong  = errors.New("password above maximum length")
	ErrWeakPassword     = errors.New("password too weak")
	ErrInvalidHash      = errors.New("malformed password hash")
)
