package realtime

import (
	"context"
	"time"
)

// Message is the canonical persisted chat message.
type Message struct {
	ID        string
	RoomID    string
	AuthorID  string
	Content   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// MessageStore persists chat messages.
//
// Requirements:
//   - Assigned ids are monotonic and time-ordered within a room.
//   - CreateMessage either fully persists or fails; there is no partial state
//     a broadcast could leak.
//   - RecentMessages returns up to limit messages for a room in chronological
//     order; it backs the backlog replay on connect.
type MessageStore interface {
	CreateMessage(ctx context.Context, roomID, authorID, content string) (Message, error)
	RecentMessages(ctx context.Context, roomID string, limit int) ([]Message, error)
	Close() error
}

// MembershipStore is the authorization boundary for room membership.
//
// Rooms returns the snapshot the socket session subscribes from; it is read
// once at connection-authentication time and never refreshed afterward.
type MembershipStore interface {
	Rooms(ctx context.Context, userID string) ([]string, error)
}
