package realtime

import "sync"

// Client represents one connected websocket session.
//
// Design notes:
//   - Send carries pre-serialized payloads so broadcasters marshal once per
//     fan-out, not once per socket.
//   - Send is intentionally NOT closed by the server to avoid panics from
//     concurrent broadcasters; done signals goroutines to stop instead.
//   - Close is idempotent.
type Client struct {
	SessionID string
	UserID    string
	Send      chan []byte

	done      chan struct{}
	closeOnce sync.Once
}

// NewClient constructs a Client with a bounded send queue.
func NewClient(userID, sessionID string, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = 64
	}
	return &Client{
		SessionID: sessionID,
		UserID:    userID,
		Send:      make(chan []byte, sendQueueSize),
		done:      make(chan struct{}),
	}
}

// Done returns a channel that is closed when the client is shutting down.
func (c *Client) Done() <-chan struct{} {
	if c == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.done
}

// Close signals the client goroutines to stop (idempotent).
// It does NOT close Send to keep broadcast safe under concurrency.
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// enqueue offers a payload to the client without blocking. Payloads are
// dropped when the client is shutting down or its queue is full.
func (c *Client) enqueue(payload []byte) bool {
	if c == nil {
		return false
	}

	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.Send <- payload:
		return true
	default:
		metricDropped.Inc()
		return false
	}
}
