package authgate

import (
	"context"

	"parley/cmd/internal/auth/token"
)

type contextKey struct{}

var identityKey contextKey

// WithIdentity attaches an authenticated identity to a request context.
func WithIdentity(ctx context.Context, id token.Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFrom extracts the authenticated identity from a request context.
func IdentityFrom(ctx context.Context) (token.Identity, error) {
	id, ok := ctx.Value(identityKey).(token.Identity)
	if !ok || id.UserID == "" {
		return token.Identity{}, ErrNoIdentity
	}
	return id, nil
}
