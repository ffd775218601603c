package realtime

import (
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRegistry_AddRemove(t *testing.T) {
	reg := NewRegistry(testLogger())

	c1 := NewClient("user-1", "sess-1", 8)
	c2 := NewClient("user-1", "sess-2", 8)

	reg.Add("user-1", c1)
	reg.Add("user-1", c2)

	if got := reg.Sockets("user-1"); got != 2 {
		t.Fatalf("expected 2 sockets, got %d", got)
	}

	reg.Remove("user-1", c1)
	if got := reg.Sockets("user-1"); got != 1 {
		t.Fatalf("expected 1 socket after remove, got %d", got)
	}

	// Removing the same client twice must not disturb the remaining set.
	reg.Remove("user-1", c1)
	if got := reg.Sockets("user-1"); got != 1 {
		t.Fatalf("expected 1 socket after double remove, got %d", got)
	}

	reg.Remove("user-1", c2)
	if got := reg.Sockets("user-1"); got != 0 {
		t.Fatalf("expected 0 sockets after full removal, got %d", got)
	}
}

func TestRegistry_BroadcastToAllSockets(t *testing.T) {
	reg := NewRegistry(testLogger())

	c1 := NewClient("user-1", "sess-1", 8)
	c2 := NewClient("user-1", "sess-2", 8)
	other := NewClient("user-2", "sess-3", 8)

	reg.Add("user-1", c1)
	reg.Add("user-1", c2)
	reg.Add("user-2", other)

	reg.BroadcastTo("user-1", newErrorFrame("ping"))

	for _, c := range []*Client{c1, c2} {
		select {
		case b := <-c.Send:
			var f ErrorFrame
			if err := json.Unmarshal(b, &f); err != nil {
				t.Fatalf("unmarshal payload: %v", err)
			}
			if f.Message != "ping" {
				t.Fatalf("unexpected payload: %+v", f)
			}
		default:
			t.Fatalf("socket %s received nothing", c.SessionID)
		}
	}

	select {
	case <-other.Send:
		t.Fatalf("user-2 socket must not receive user-1 broadcast")
	default:
	}
}

func TestRegistry_BroadcastToUnknownUserIsNoop(t *testing.T) {
	reg := NewRegistry(testLogger())
	// Must not panic or error.
	reg.BroadcastTo("ghost", newErrorFrame("hello"))
}

func TestRegistry_ConcurrentAddRemove(t *testing.T) {
	reg := NewRegistry(testLogger())

	const users = 8
	const socketsPerUser = 16

	var wg sync.WaitGroup
	for u := 0; u < users; u++ {
		userID := string(rune('a' + u))
		for s := 0; s < socketsPerUser; s++ {
			wg.Add(1)
			go func(userID string, n int) {
				defer wg.Done()
				c := NewClient(userID, NewSessionID(), 8)
				reg.Add(userID, c)
				reg.BroadcastTo(userID, newErrorFrame("x"))
				reg.Remove(userID, c)
			}(userID, s)
		}
	}
	wg.Wait()

	for u := 0; u < users; u++ {
		userID := string(rune('a' + u))
		if got := reg.Sockets(userID); got != 0 {
			t.Fatalf("user %s: expected 0 sockets after churn, got %d", userID, got)
		}
	}
}
