package realtime

import "errors"

var (
	// ErrNotSubscribed is returned when a socket names a room it is not
	// subscribed to (including spoofed room ids).
	ErrNotSubscribed = errors.New("not subscribed to room")

	// ErrPersistenceFailed is returned when the message store rejects a send.
	// The message is not broadcast; only the sender learns about it.
	ErrPersistenceFailed = errors.New("message persistence failed")
)
