package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// InMemoryMessageStore keeps messages in process memory. It backs the dev
// profile and the package tests.
type InMemoryMessageStore struct {
	mu       sync.Mutex
	messages []Message

	// FailNext forces the next CreateMessage to fail, for exercising the
	// persistence failure path.
	FailNext error
}

// NewInMemoryMessageStore constructs an empty in-memory message store.
func NewInMemoryMessageStore() *InMemoryMessageStore {
	return &InMemoryMessageStore{}
}

func (s *InMemoryMessageStore) CreateMessage(_ context.Context, roomID, authorID, content string) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.FailNext; err != nil {
		s.FailNext = nil
		return Message{}, err
	}

	now := time.Now().UTC()
	msg := Message{
		ID:        ulid.Make().String(),
		RoomID:    roomID,
		AuthorID:  authorID,
		Content:   content,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.messages = append(s.messages, msg)
	return msg, nil
}

func (s *InMemoryMessageStore) RecentMessages(_ context.Context, roomID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = defaultBacklogLimit
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Message
	for _, m := range s.messages {
		if m.RoomID == roomID {
			out = append(out, m)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *InMemoryMessageStore) Close() error { return nil }

// Messages returns a copy of everything persisted, in insertion order.
func (s *InMemoryMessageStore) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// InMemoryMembershipStore maps users to room ids. It backs the dev profile and
// the package tests.
type InMemoryMembershipStore struct {
	mu    sync.RWMutex
	rooms map[string][]string
}

// NewInMemoryMembershipStore constructs an empty in-memory membership store.
func NewInMemoryMembershipStore() *InMemoryMembershipStore {
	return &InMemoryMembershipStore{rooms: make(map[string][]string)}
}

// Join records a user's membership in a room.
func (s *InMemoryMembershipStore) Join(userID, roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rooms[userID] {
		if r == roomID {
			return
		}
	}
	s.rooms[userID] = append(s.rooms[userID], roomID)
}

func (s *InMemoryMembershipStore) Rooms(_ context.Context, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.rooms[userID]))
	copy(out, s.rooms[userID])
	return out, nil
}

// StaticMembershipStore grants every user the same fixed room list.
// Dev-only: it lets freshly registered users join the seeded rooms without
// a database.
type StaticMembershipStore struct {
	rooms []string
}

// NewStaticMembershipStore constructs a membership store with a fixed room
// list shared by all users.
func NewStaticMembershipStore(rooms []string) *StaticMembershipStore {
	out := make([]string, len(rooms))
	copy(out, rooms)
	return &StaticMembershipStore{rooms: out}
}

func (s *StaticMembershipStore) Rooms(_ context.Context, _ string) ([]string, error) {
	out := make([]string, len(s.rooms))
	copy(out, s.rooms)
	return out, nil
}
