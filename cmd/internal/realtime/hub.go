package realtime

import (
	"log/slog"
	"sync"
)

// Hub owns the room channels. Rooms are created lazily on first reference and
// live for the process lifetime.
type Hub struct {
	log   *slog.Logger
	store MessageStore

	mu    sync.RWMutex
	rooms map[string]*Room
}

// NewHub constructs an empty hub backed by a message store.
func NewHub(log *slog.Logger, store MessageStore) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:   log,
		store: store,
		rooms: make(map[string]*Room),
	}
}

// GetOrCreateRoom returns the channel for a room id, creating it on first use.
func (h *Hub) GetOrCreateRoom(id string) *Room {
	h.mu.RLock()
	r, ok := h.rooms[id]
	h.mu.RUnlock()
	if ok {
		return r
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if r, ok = h.rooms[id]; ok {
		return r
	}
	r = NewRoom(h.log, id, h.store)
	h.rooms[id] = r
	h.log.Info("hub.room.create", "room", id)
	return r
}

// Room returns the channel for a room id, or nil when it was never created.
func (h *Hub) Room(id string) *Room {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.rooms[id]
}
