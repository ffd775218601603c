package realtime

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
)

// PostgresMessageStore persists messages to parley.messages.
type PostgresMessageStore struct {
	pool *pgxpool.Pool
}

// NewPostgresMessageStore wraps an existing pool.
func NewPostgresMessageStore(pool *pgxpool.Pool) *PostgresMessageStore {
	return &PostgresMessageStore{pool: pool}
}

func (s *PostgresMessageStore) CreateMessage(ctx context.Context, roomID, authorID, content string) (Message, error) {
	now := time.Now().UTC()
	msg := Message{
		ID:        ulid.Make().String(),
		RoomID:    roomID,
		AuthorID:  authorID,
		Content:   content,
		CreatedAt: now,
		UpdatedAt: now,
	}

	const q = `
		INSERT INTO parley.messages (id, room_id, author_id, content, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	if _, err := s.pool.Exec(ctx, q, msg.ID, msg.RoomID, msg.AuthorID, msg.Content, msg.CreatedAt, msg.UpdatedAt); err != nil {
		return Message{}, fmt.Errorf("insert message: %w", err)
	}
	return msg, nil
}

func (s *PostgresMessageStore) Close() error { return nil }

// RecentMessages returns up to limit messages for a room, oldest first.
func (s *PostgresMessageStore) RecentMessages(ctx context.Context, roomID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = defaultBacklogLimit
	}

	const q = `
		SELECT id, room_id, author_id, content, created_at, updated_at
		FROM parley.messages
		WHERE room_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := s.pool.Query(ctx, q, roomID, limit)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.RoomID, &m.AuthorID, &m.Content, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	// Reverse into chronological order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// PostgresMembershipStore reads room membership from parley.room_members.
type PostgresMembershipStore struct {
	pool *pgxpool.Pool
}

// NewPostgresMembershipStore wraps an existing pool.
func NewPostgresMembershipStore(pool *pgxpool.Pool) *PostgresMembershipStore {
	return &PostgresMembershipStore{pool: pool}
}

func (s *PostgresMembershipStore) Rooms(ctx context.Context, userID string) ([]string, error) {
	const q = `
		SELECT room_id
		FROM parley.room_members
		WHERE user_id = $1
		ORDER BY room_id
	`
	rows, err := s.pool.Query(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("query memberships: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan membership: %w", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memberships: %w", err)
	}
	return out, nil
}
