package realtime

import (
	"errors"
	"fmt"
	"strings"
)

// Frame type constants (wire-stable).
const (
	// FrameJoin acknowledges interest in a room the socket is already
	// subscribed to. Subscriptions are fixed at connection time; join never
	// grows the set.
	FrameJoin = "join"
	// FrameMessage requests persisting and fanning out a chat message.
	FrameMessage = "message"
)

// Frame is the inbound wire format for an active socket.
type Frame struct {
	Type    string `json:"type"`
	Room    string `json:"room"`
	Content string `json:"content"`
	Domain  string `json:"domain"`
}

// Validate performs strict structural validation for an inbound frame.
func (f Frame) Validate() error {
	if strings.TrimSpace(f.Type) == "" {
		return errors.New("missing field: type")
	}

	switch f.Type {
	case FrameJoin, FrameMessage:
	default:
		return fmt.Errorf("unsupported type: %q", f.Type)
	}

	if strings.TrimSpace(f.Room) == "" {
		return errors.New("missing field: room")
	}
	if f.Type == FrameMessage && strings.TrimSpace(f.Content) == "" {
		return errors.New("missing field: content")
	}
	return nil
}

// MessageEnvelope is the outbound fan-out format delivered to every socket
// subscribed to a room, including the sender.
type MessageEnvelope struct {
	Type     string `json:"type"`
	Content  string `json:"content"`
	Domain   string `json:"domain"`
	AuthorID string `json:"authorId"`
	Room     string `json:"room"`
}

// ErrorFrame reports a per-message failure back to one socket.
type ErrorFrame struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func newErrorFrame(msg string) ErrorFrame {
	return ErrorFrame{Status: "error", Message: msg}
}
