package token

import (
	"context"
	"time"
)

// Record mirrors a parley.refresh_tokens row.
//
// Records are append-only: rotation and revocation flip the revoked flag,
// they never delete rows. The lineage for one (UserID, DeviceID) pair is the
// ordered chain of records created by successive rotations.
type Record struct {
	ID        string
	UserID    string
	TokenHash string
	DeviceID  string
	Revoked   bool
	ExpiresAt time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store abstracts refresh-record persistence.
//
// Implementations must make Rotate atomic: when two rotations race on the
// same record, exactly one succeeds and every other observes
// ErrRefreshRevoked.
type Store interface {
	// Insert appends a new refresh record.
	Insert(ctx context.Context, rec Record) error

	// Find loads the record matching a token hash and device fingerprint.
	// Returns ErrRefreshNotFound when no record matches.
	Find(ctx context.Context, tokenHash, deviceID string) (Record, error)

	// Rotate revokes the record identified by oldID and inserts next in one
	// atomic step. Returns ErrRefreshRevoked when oldID is already revoked.
	Rotate(ctx context.Context, now time.Time, oldID string, next Record) error

	// Revoke marks a single record revoked (idempotent).
	Revoke(ctx context.Context, now time.Time, recordID string) error

	// RevokeDevice revokes every live record of one device lineage
	// (idempotent).
	RevokeDevice(ctx context.Context, now time.Time, userID, deviceID string) error
}
