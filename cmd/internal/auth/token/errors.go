package token

import (
	"errors"
	"fmt"
)

var (
	// ErrTokenInvalid is returned when a token fails signature or structural
	// verification, or carries the wrong kind.
	ErrTokenInvalid = errors.New("token invalid")

	// ErrTokenExpired is returned when a token verifies but is past its expiry.
	ErrTokenExpired = errors.New("token expired")

	// ErrRefreshNotFound is returned when a refresh token matches no persisted
	// record for the presenting device.
	ErrRefreshNotFound = errors.New("refresh token not found")

	// ErrRefreshRevoked is returned when the matched refresh record has been
	// revoked. Concurrent renewals of the same token observe this error on
	// every call but the one that won the rotation.
	ErrRefreshRevoked = errors.New("refresh token revoked")

	// ErrRefreshExpired is returned when the matched refresh record is past
	// its expiry.
	ErrRefreshExpired = errors.New("refresh token expired")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)

// ErrRefreshReuseDetected is returned when an already-rotated refresh token is
// presented again: either the client missed a completed rotation or the token
// was stolen. It unwraps to ErrRefreshRevoked so callers that only care about
// the renew outcome can treat both uniformly.
var ErrRefreshReuseDetected = fmt.Errorf("refresh token reuse detected: %w", ErrRefreshRevoked)
