package realtime

import (
	"encoding/json"
	"hash/fnv"
	"log/slog"
	"sync"
)

const registryShards = 32

// Registry is the process-wide map from user identity to that user's live
// sockets. A user may hold many simultaneous sockets (tabs, devices).
//
// The map is sharded by userID so concurrent open/close for different users
// never contend on one lock. Registries are plain injectable values, not
// singletons, so tests instantiate isolated instances.
type Registry struct {
	log    *slog.Logger
	shards [registryShards]registryShard
}

type registryShard struct {
	mu    sync.RWMutex
	users map[string]map[*Client]struct{}
}

// NewRegistry constructs an empty connection registry.
func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	r := &Registry{log: log}
	for i := range r.shards {
		r.shards[i].users = make(map[string]map[*Client]struct{})
	}
	return r
}

func (r *Registry) shard(userID string) *registryShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return &r.shards[h.Sum32()%registryShards]
}

// Add registers a live socket for a user.
func (r *Registry) Add(userID string, c *Client) {
	if r == nil || c == nil || userID == "" {
		return
	}

	s := r.shard(userID)
	s.mu.Lock()
	set := s.users[userID]
	if set == nil {
		set = make(map[*Client]struct{})
		s.users[userID] = set
	}
	set[c] = struct{}{}
	s.mu.Unlock()

	metricConnections.Inc()
	r.log.Info("registry.add", "user_id", userID, "session_id", c.SessionID)
}

// Remove deregisters a socket. The user's entry disappears when its socket
// set becomes empty.
func (r *Registry) Remove(userID string, c *Client) {
	if r == nil || c == nil || userID == "" {
		return
	}

	s := r.shard(userID)
	s.mu.Lock()
	set := s.users[userID]
	if set == nil {
		s.mu.Unlock()
		return
	}
	if _, ok := set[c]; !ok {
		s.mu.Unlock()
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(s.users, userID)
	}
	s.mu.Unlock()

	metricConnections.Dec()
	r.log.Info("registry.remove", "user_id", userID, "session_id", c.SessionID)
}

// BroadcastTo serializes payload once and offers it to every live socket of
// one user. A user with zero live sockets is a no-op, not an error.
func (r *Registry) BroadcastTo(userID string, payload any) {
	if r == nil || userID == "" {
		return
	}

	b, err := json.Marshal(payload)
	if err != nil {
		r.log.Error("registry.broadcast.marshal.fail", "user_id", userID, "err", err)
		return
	}

	s := r.shard(userID)
	s.mu.RLock()
	defer s.mu.RUnlock()

	for c := range s.users[userID] {
		c.enqueue(b)
	}
}

// Sockets reports the number of live sockets registered for a user.
func (r *Registry) Sockets(userID string) int {
	if r == nil || userID == "" {
		return 0
	}

	s := r.shard(userID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users[userID])
}
