package authgate

import "errors"

var (
	// ErrConfig indicates invalid gateway configuration.
	ErrConfig = errors.New("authgate: invalid config")

	// ErrNoIdentity is returned when no authenticated identity is attached to
	// a request context.
	ErrNoIdentity = errors.New("authgate: no identity in context")
)
