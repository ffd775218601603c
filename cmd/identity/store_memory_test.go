package identity

import (
	"context"
	"testing"
	"time"
)

func TestInMemoryStore_CreateAndLookup(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	u, err := s.CreateUser(ctx, CreateUserInput{
		Username: "Navid",
		Password: "a-long-enough-password",
		Now:      now,
	})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if u.Username != "Navid" || u.UsernameNorm != "navid" || u.Role != defaultRole {
		t.Fatalf("unexpected user: %+v", u)
	}
	if len(u.ID) != 26 {
		t.Fatalf("expected ULID id, got %q", u.ID)
	}

	got, err := s.GetUserByID(ctx, u.ID)
	if err != nil {
		t.Fatalf("GetUserByID: %v", err)
	}
	if got.ID != u.ID {
		t.Fatalf("unexpected lookup result: %+v", got)
	}

	// Case-insensitive username lookup with a verifiable hash.
	ua, err := s.GetUserAuthByUsername(ctx, "  nAvId  ")
	if err != nil {
		t.Fatalf("GetUserAuthByUsername: %v", err)
	}
	ok, err := VerifyPassword("a-long-enough-password", ua.PasswordHash, s.pwCfg)
	if err != nil || !ok {
		t.Fatalf("expected password to verify, ok=%v err=%v", ok, err)
	}
	ok, err = VerifyPassword("wrong-password-entirely", ua.PasswordHash, s.pwCfg)
	if err != nil || ok {
		t.Fatalf("expected mismatch, ok=%v err=%v", ok, err)
	}
}

func TestInMemoryStore_UsernameConflictCaseInsensitive(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	if _, err := s.CreateUser(ctx, CreateUserInput{Username: "Navid", Password: "a-long-enough-password"}); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	_, err := s.CreateUser(ctx, CreateUserInput{Username: "nAvId", Password: "another-long-password"})
	if err == nil || !IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestInMemoryStore_SearchUsers(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	for _, name := range []string{"ada", "adam", "grace", "linus"} {
		if _, err := s.CreateUser(ctx, CreateUserInput{Username: name, Password: "a-long-enough-password"}); err != nil {
			t.Fatalf("CreateUser(%q): %v", name, err)
		}
	}

	users, err := s.SearchUsers(ctx, "  ADA ", 10)
	if err != nil {
		t.Fatalf("SearchUsers: %v", err)
	}
	if len(users) != 2 || users[0].Username != "ada" || users[1].Username != "adam" {
		t.Fatalf("unexpected matches: %+v", users)
	}

	// Limit truncates the ordered result.
	users, err = s.SearchUsers(ctx, "a", 2)
	if err != nil {
		t.Fatalf("SearchUsers: %v", err)
	}
	if len(users) != 2 || users[0].Username != "ada" || users[1].Username != "adam" {
		t.Fatalf("unexpected limited matches: %+v", users)
	}

	if _, err := s.SearchUsers(ctx, "   ", 10); !IsInvalidInput(err) {
		t.Fatalf("expected invalid input for blank query, got %v", err)
	}
}

func TestInMemoryStore_UpdateDisplayName(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	u, err := s.CreateUser(ctx, CreateUserInput{Username: "ada", Password: "a-long-enough-password"})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	name := "  Ada Lovelace  "
	later := u.UpdatedAt.Add(time.Hour)
	got, err := s.UpdateDisplayName(ctx, u.ID, &name, later)
	if err != nil {
		t.Fatalf("UpdateDisplayName: %v", err)
	}
	if got.DisplayName == nil || *got.DisplayName != "Ada Lovelace" {
		t.Fatalf("expected trimmed display name, got %+v", got.DisplayName)
	}
	if !got.UpdatedAt.Equal(later) {
		t.Fatalf("expected updated_at to advance, got %v", got.UpdatedAt)
	}

	// Nil clears the display name.
	got, err = s.UpdateDisplayName(ctx, u.ID, nil, later.Add(time.Hour))
	if err != nil {
		t.Fatalf("UpdateDisplayName: %v", err)
	}
	if got.DisplayName != nil {
		t.Fatalf("expected cleared display name, got %q", *got.DisplayName)
	}

	blank := "   "
	if _, err := s.UpdateDisplayName(ctx, u.ID, &blank, time.Time{}); !IsInvalidInput(err) {
		t.Fatalf("expected invalid input for blank display name, got %v", err)
	}
	if _, err := s.UpdateDisplayName(ctx, "nope", &name, time.Time{}); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestInMemoryStore_ValidationAndNotFound(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	if _, err := s.CreateUser(ctx, CreateUserInput{Username: "", Password: "x"}); !IsInvalidInput(err) {
		t.Fatalf("expected invalid input for empty username, got %v", err)
	}
	if _, err := s.CreateUser(ctx, CreateUserInput{Username: "x", Password: ""}); !IsInvalidInput(err) {
		t.Fatalf("expected invalid input for empty password, got %v", err)
	}
	if _, err := s.GetUserByID(ctx, "nope"); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := s.GetUserAuthByUsername(ctx, "nope"); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}
