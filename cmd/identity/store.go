package identity

import (
	"context"
	"time"
)

// User is Parley's canonical security principal.
type User struct {
	ID           string
	Username     string
	UsernameNorm string
	DisplayName  *string
	Role         string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// UserAuth pairs a user with its password hash for login checks.
type UserAuth struct {
	User         User
	PasswordHash string
}

// CreateUserInput is the input for user creation. Password is hashed inside
// the store; callers never handle hashes.
type CreateUserInput struct {
	Username    string
	DisplayName *string
	Password    string
	Now         time.Time
}

// Store is the identity persistence contract.
//
// Username lookups are case-insensitive (matched on the normalized form).
// SearchUsers matches the normalized username by substring and returns at
// most limit users ordered by normalized username. UpdateDisplayName sets
// the display name when the pointer is non-nil and clears it otherwise.
type Store interface {
	CreateUser(ctx context.Context, in CreateUserInput) (User, error)
	GetUserByID(ctx context.Context, id string) (User, error)
	GetUserAuthByUsername(ctx context.Context, username string) (UserAuth, error)
	SearchUsers(ctx context.Context, query string, limit int) ([]User, error)
	UpdateDisplayName(ctx context.Context, id string, displayName *string, now time.Time) (User, error)
}

const defaultRole = "member"

const (
	defaultSearchLimit = 20
	maxSearchLimit     = 100
)

func clampSearchLimit(limit int) int {
	if limit <= 0 {
		return defaultSearchLimit
	}
	if limit > maxSearchLimit {
		return maxSearchLimit
	}
	return limit
}
