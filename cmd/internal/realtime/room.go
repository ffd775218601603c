package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// Room is a per-room subscriber set with persist-then-broadcast fan-out.
//
// Concurrency guarantees:
//   - Subscribe/Unsubscribe are safe under concurrent Send.
//   - Sends for one room are persisted and broadcast in processing order;
//     nothing orders sends across different rooms.
//   - Broadcast never blocks (drops under backpressure) and is panic-safe
//     because Client.Send is never closed by the server.
type Room struct {
	log   *slog.Logger
	ID    string
	store MessageStore

	// sendMu serializes persist-then-broadcast so per-room ordering holds.
	sendMu sync.Mutex

	mu   sync.RWMutex
	subs map[string]*Client
}

// NewRoom constructs a room channel bound to a message store.
func NewRoom(log *slog.Logger, id string, store MessageStore) *Room {
	if log == nil {
		log = slog.Default()
	}
	return &Room{
		log:   log,
		ID:    id,
		store: store,
		subs:  make(map[string]*Client),
	}
}

// Subscribe adds a socket to the subscriber set.
func (r *Room) Subscribe(c *Client) {
	if r == nil || c == nil || c.SessionID == "" {
		return
	}

	r.mu.Lock()
	r.subs[c.SessionID] = c
	r.mu.Unlock()

	r.log.Info("room.subscribe", "room", r.ID, "session_id", c.SessionID)
}

// SubscribeWithBacklog replays up to limit recent room messages into the
// socket's queue and then subscribes it. The whole sequence runs under the
// send lock, so a concurrent Send is either fully in the backlog or delivered
// live after subscription, never both and never neither.
//
// A store failure degrades to a plain Subscribe; the error is returned so the
// caller can log it, but the session stays usable.
func (r *Room) SubscribeWithBacklog(ctx context.Context, c *Client, limit int) error {
	if r == nil || c == nil || c.SessionID == "" {
		return nil
	}
	if limit <= 0 {
		r.Subscribe(c)
		return nil
	}

	r.sendMu.Lock()
	defer r.sendMu.Unlock()

	msgs, err := r.store.RecentMessages(ctx, r.ID, limit)
	if err != nil {
		r.Subscribe(c)
		return fmt.Errorf("backlog replay for room %q: %w", r.ID, err)
	}

	for _, msg := range msgs {
		env := MessageEnvelope{
			Type:     FrameMessage,
			Content:  msg.Content,
			AuthorID: msg.AuthorID,
			Room:     r.ID,
		}
		b, err := json.Marshal(env)
		if err != nil {
			continue
		}
		c.enqueue(b)
	}

	r.Subscribe(c)
	return nil
}

// Unsubscribe removes a socket from the subscriber set.
func (r *Room) Unsubscribe(sessionID string) {
	if r == nil || sessionID == "" {
		return
	}

	r.mu.Lock()
	_, ok := r.subs[sessionID]
	delete(r.subs, sessionID)
	r.mu.Unlock()

	if ok {
		r.log.Info("room.unsubscribe", "room", r.ID, "session_id", sessionID)
	}
}

// Subscribed reports whether a socket is currently in the subscriber set.
func (r *Room) Subscribed(sessionID string) bool {
	if r == nil || sessionID == "" {
		return false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.subs[sessionID]
	return ok
}

// Subscribers reports the current subscriber count.
func (r *Room) Subscribers() int {
	if r == nil {
		return 0
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// Send verifies the sender's subscription, persists the message, and only on
// successful persistence broadcasts the envelope to every subscribed socket,
// the sender included. On persistence failure nothing is broadcast and the
// error is reported to the caller alone.
func (r *Room) Send(ctx context.Context, sessionID, authorID, content, domain string) error {
	if r == nil {
		return ErrNotSubscribed
	}
	if !r.Subscribed(sessionID) {
		return ErrNotSubscribed
	}

	content = strings.TrimSpace(content)
	if content == "" {
		return fmt.Errorf("%w: empty content", ErrPersistenceFailed)
	}

	r.sendMu.Lock()
	defer r.sendMu.Unlock()

	msg, err := r.store.CreateMessage(ctx, r.ID, authorID, content)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
	}

	env := MessageEnvelope{
		Type:     FrameMessage,
		Content:  msg.Content,
		Domain:   domain,
		AuthorID: msg.AuthorID,
		Room:     r.ID,
	}

	// Serialize once per fan-out, not once per socket.
	b, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
	}

	r.broadcast(b)
	metricMessages.Inc()
	return nil
}

func (r *Room) broadcast(payload []byte) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, c := range r.subs {
		if c.enqueue(payload) {
			metricFanout.Inc()
		}
	}
}
