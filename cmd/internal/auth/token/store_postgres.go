package token

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store using PostgreSQL (parley.refresh_tokens).
//
// Ownership model:
//   - PostgresStore does NOT own the pgx pool. The caller must close it.
//
// Rotation safety:
//   - Rotate runs inside a single transaction and revokes the predecessor
//     with a conditional UPDATE, so concurrent rotations of the same record
//     serialize on the row and only one UPDATE reports an affected row.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a Postgres-backed refresh-record store.
func NewPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, errors.New("token: nil pool")
	}
	return &PostgresStore{pool: pool}, nil
}

// Insert appends a new refresh record.
func (s *PostgresStore) Insert(ctx context.Context, rec Record) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO parley.refresh_tokens (
			id, user_id, token_hash, device_id,
			revoked, expires_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, false, $5, $6, $6)
	`, rec.ID, rec.UserID, rec.TokenHash, rec.DeviceID, rec.ExpiresAt, rec.CreatedAt)
	return err
}

// Find loads the record matching a token hash and device fingerprint.
func (s *PostgresStore) Find(ctx context.Context, tokenHash, deviceID string) (Record, error) {
	var rec Record

	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, token_hash, device_id,
		       revoked, expires_at, created_at, updated_at
		FROM parley.refresh_tokens
		WHERE token_hash = $1 AND device_id = $2
	`, tokenHash, deviceID).Scan(
		&rec.ID,
		&rec.UserID,
		&rec.TokenHash,
		&rec.DeviceID,
		&rec.Revoked,
		&rec.ExpiresAt,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrRefreshNotFound
	}
	if err != nil {
		return Record{}, err
	}

	return rec, nil
}

// Rotate revokes oldID and inserts next atomically.
func (s *PostgresStore) Rotate(ctx context.Context, now time.Time, oldID string, next Record) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Revoke-if-live. A concurrent rotation that already revoked the row
	// leaves nothing to update, which is how the loser learns it lost.
	tag, err := tx.Exec(ctx, `
		UPDATE parley.refresh_tokens
		SET revoked = true, updated_at = $2
		WHERE id = $1 AND revoked = false
	`, oldID, now)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRefreshRevoked
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO parley.refresh_tokens (
			id, user_id, token_hash, device_id,
			revoked, expires_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, false, $5, $6, $6)
	`, next.ID, next.UserID, next.TokenHash, next.DeviceID, next.ExpiresAt, next.CreatedAt); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// Revoke marks a single record revoked (idempotent).
func (s *PostgresStore) Revoke(ctx context.Context, now time.Time, recordID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE parley.refresh_tokens
		SET revoked = true, updated_at = $2
		WHERE id = $1 AND revoked = false
	`, recordID, now)
	return err
}

// RevokeDevice revokes every live record of one device lineage (idempotent).
func (s *PostgresStore) RevokeDevice(ctx context.Context, now time.Time, userID, deviceID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE parley.refresh_tokens
		SET revoked = true, updated_at = $3
		WHERE user_id = $1 AND device_id = $2 AND revoked = false
	`, userID, deviceID, now)
	return err
}
