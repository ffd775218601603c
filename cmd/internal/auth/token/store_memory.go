package token

import (
	"context"
	"sync"
	"time"
)

// InMemoryStore is a Store for dev mode and unit tests.
//
// It honors the same rotation-atomicity contract as the Postgres store: the
// revoke-and-insert step runs under one lock, so concurrent Rotate calls on
// the same record resolve to exactly one winner.
type InMemoryStore struct {
	mu      sync.Mutex
	records map[string]*Record // id -> record
}

// NewInMemoryStore constructs an empty in-memory refresh-record store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[string]*Record)}
}

// Insert appends a new refresh record.
func (s *InMemoryStore) Insert(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := rec
	s.records[rec.ID] = &cp
	return nil
}

// Find loads the record matching a token hash and device fingerprint.
func (s *InMemoryStore) Find(ctx context.Context, tokenHash, deviceID string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range s.records {
		if rec.TokenHash == tokenHash && rec.DeviceID == deviceID {
			return *rec, nil
		}
	}
	return Record{}, ErrRefreshNotFound
}

// Rotate revokes oldID and inserts next atomically.
func (s *InMemoryStore) Rotate(ctx context.Context, now time.Time, oldID string, next Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.records[oldID]
	if !ok || old.Revoked {
		return ErrRefreshRevoked
	}
	old.Revoked = true
	old.UpdatedAt = now

	cp := next
	s.records[next.ID] = &cp
	return nil
}

// Revoke marks a single record revoked (idempotent).
func (s *InMemoryStore) Revoke(ctx context.Context, now time.Time, recordID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.records[recordID]; ok && !rec.Revoked {
		rec.Revoked = true
		rec.UpdatedAt = now
	}
	return nil
}

// RevokeDevice revokes every live record of one device lineage (idempotent).
func (s *InMemoryStore) RevokeDevice(ctx context.Context, now time.Time, userID, deviceID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range s.records {
		if rec.UserID == userID && rec.DeviceID == deviceID && !rec.Revoked {
			rec.Revoked = true
			rec.UpdatedAt = now
		}
	}
	return nil
}

// liveCount reports non-revoked records for a device lineage (test helper).
func (s *InMemoryStore) liveCount(userID, deviceID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, rec := range s.records {
		if rec.UserID == userID && rec.DeviceID == deviceID && !rec.Revoked {
			n++
		}
	}
	return n
}
