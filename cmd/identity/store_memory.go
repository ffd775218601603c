package identity

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"parley/cmd/security/password"
)

// InMemoryStore keeps users in process memory. It backs the dev profile and
// the package tests.
type InMemoryStore struct {
	mu     sync.RWMutex
	byID   map[string]User
	byNorm map[string]string // username_norm -> id
	hashes map[string]string // id -> password hash
	pwCfg  password.Config
}

// NewInMemoryStore constructs an empty in-memory identity store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byID:   make(map[string]User),
		byNorm: make(map[string]string),
		hashes: make(map[string]string),
		pwCfg:  password.DefaultConfig(),
	}
}

func (s *InMemoryStore) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
	const op = "identity.CreateUser"

	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	username := strings.TrimSpace(in.Username)
	if username == "" {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "username is required"}
	}
	if strings.TrimSpace(in.Password) == "" {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "password is required"}
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	pwHash, err := HashPassword(in.Password, s.pwCfg)
	if err != nil {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: err.Error()}
	}

	id, err := NewULID(now)
	if err != nil {
		return User{}, err
	}

	norm := NormalizeUsername(username)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byNorm[norm]; exists {
		return User{}, ConflictError{Op: op, Field: "username"}
	}

	u := User{
		ID:           id,
		Username:     username,
		UsernameNorm: norm,
		DisplayName:  in.DisplayName,
		Role:         defaultRole,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.byID[id] = u
	s.byNorm[norm] = id
	s.hashes[id] = pwHash
	return u, nil
}

func (s *InMemoryStore) GetUserByID(ctx context.Context, id string) (User, error) {
	const op = "identity.GetUserByID"

	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.byID[strings.TrimSpace(id)]
	if !ok {
		return User{}, OpError{Op: op, Kind: ErrNotFound}
	}
	return u, nil
}

func (s *InMemoryStore) GetUserAuthByUsername(ctx context.Context, username string) (UserAuth, error) {
	const op = "identity.GetUserAuthByUsername"

	if err := ctx.Err(); err != nil {
		return UserAuth{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byNorm[NormalizeUsername(username)]
	if !ok {
		return UserAuth{}, OpError{Op: op, Kind: ErrNotFound}
	}
	return UserAuth{User: s.byID[id], PasswordHash: s.hashes[id]}, nil
}

func (s *InMemoryStore) SearchUsers(ctx context.Context, query string, limit int) ([]User, error) {
	const op = "identity.SearchUsers"

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	needle := NormalizeUsername(query)
	if needle == "" {
		return nil, OpError{Op: op, Kind: ErrInvalidInput, Msg: "query is required"}
	}
	limit = clampSearchLimit(limit)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []User
	for _, u := range s.byID {
		if strings.Contains(u.UsernameNorm, needle) {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UsernameNorm < out[j].UsernameNorm })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) UpdateDisplayName(ctx context.Context, id string, displayName *string, now time.Time) (User, error) {
	const op = "identity.UpdateDisplayName"

	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[strings.TrimSpace(id)]
	if !ok {
		return User{}, OpError{Op: op, Kind: ErrNotFound}
	}

	if displayName != nil {
		v := strings.TrimSpace(*displayName)
		if v == "" {
			return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "display name must not be blank"}
		}
		u.DisplayName = &v
	} else {
		u.DisplayName = nil
	}
	u.UpdatedAt = now

	s.byID[u.ID] = u
	return u, nil
}

var _ Store = (*InMemoryStore)(nil)
