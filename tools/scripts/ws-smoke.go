// Package main provides a CI-friendly WebSocket smoke test for the Parley
// realtime gateway.
//
// It validates:
//   - register over HTTP (cookies + access token)
//   - handshake with an otk query parameter
//   - message send -> persist -> fanout to another client
//   - sender receives its own fanout copy
//   - message to a non-member room is refused with an error frame
//
// Run the server in dev mode first:
//
//	PARLEY_DATABASE_URL= \
//	PARLEY_DEV_ROOMS=lobby \
//	PARLEY_WS_ORIGIN_REQUIRED=false \
//	go run ./cmd/parley
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"
)

const maxReadBytes = 1 << 20 // 1MiB

type frame struct {
	Type    string `json:"type"`
	Room    string `json:"room"`
	Content string `json:"content,omitempty"`
	Domain  string `json:"domain,omitempty"`
}

// inboundFrame is the union of the fan-out envelope and the error frame.
type inboundFrame struct {
	Type     string `json:"type"`
	Status   string `json:"status"`
	Message  string `json:"message"`
	Content  string `json:"content"`
	Domain   string `json:"domain"`
	AuthorID string `json:"authorId"`
	Room     string `json:"room"`
}

type smokeClient struct {
	name   string
	userID string
	conn   *websocket.Conn

	inbox chan inboundFrame
	errCh chan error
}

func main() {
	var (
		baseURL = flag.String("base", "http://127.0.0.1:8080", "Server base URL")
		origin  = flag.String("origin", "", "Origin header to send (empty = none)")
		roomID  = flag.String("room", "lobby", "Room ID to message (must be in PARLEY_DEV_ROOMS)")
		text    = flag.String("text", "hello parley 👋", "Message text to send")
		timeout = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateBaseURL(*baseURL); err != nil {
		fatalf("invalid -base: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}

	root := context.Background()

	a := mustConnect(root, "A", *baseURL, *origin, *timeout)
	defer closeWS(a.conn)

	b := mustConnect(root, "B", *baseURL, *origin, *timeout)
	defer closeWS(b.conn)

	if *verbose {
		fmt.Printf("connected: A=%s B=%s origin=%q\n", a.userID, b.userID, *origin)
	}

	mustSend(root, a, frame{Type: "message", Room: *roomID, Content: *text}, *timeout)

	got := b.mustReadFanout(*roomID, *timeout)
	if got.Content != *text {
		fatalf("fanout content mismatch: got=%q want=%q", got.Content, *text)
	}
	if got.AuthorID != a.userID {
		fatalf("fanout author mismatch: got=%q want=%q", got.AuthorID, a.userID)
	}

	// The sender is subscribed too and receives its own copy.
	echo := a.mustReadFanout(*roomID, *timeout)
	if echo.Content != *text {
		fatalf("sender echo content mismatch: got=%q want=%q", echo.Content, *text)
	}

	// A room outside the membership snapshot is refused per-message.
	mustSend(root, a, frame{Type: "message", Room: "not-a-member", Content: *text}, *timeout)
	if ef := a.mustReadError(*timeout); ef.Message == "" {
		fatalf("expected error frame with a message for foreign room")
	}

	fmt.Printf("OK: A=%s B=%s room=%s\n", a.userID, b.userID, *roomID)
}

func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	return nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

// mustRegister creates a throwaway user and returns its id and access token.
func mustRegister(parent context.Context, name, baseURL string, stepTimeout time.Duration) (userID, accessToken string) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	username := fmt.Sprintf("smoke_%s_%d", strings.ToLower(name), time.Now().UnixNano())
	body, _ := json.Marshal(map[string]string{
		"username": username,
		"password": "smoke-test-password-123",
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/auth/register", bytes.NewReader(body))
	if err != nil {
		fatalf("register %s: %v", name, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatalf("register %s: %v", name, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusCreated {
		fatalf("register %s: unexpected status %d", name, resp.StatusCode)
	}

	var out struct {
		User struct {
			ID string `json:"id"`
		} `json:"user"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		fatalf("register %s: decode response: %v", name, err)
	}

	for _, c := range resp.Cookies() {
		if c.Name == "access_token" {
			accessToken = c.Value
		}
	}
	if accessToken == "" {
		fatalf("register %s: no access_token cookie in response", name)
	}
	if strings.TrimSpace(out.User.ID) == "" {
		fatalf("register %s: missing user id", name)
	}

	return out.User.ID, accessToken
}

func mustConnect(parent context.Context, name, baseURL, origin string, stepTimeout time.Duration) *smokeClient {
	userID, otk := mustRegister(parent, name, baseURL, stepTimeout)

	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	wsURL := wsEndpoint(baseURL) + "?otk=" + url.QueryEscape(otk)
	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect %s: %v", name, err)
	}

	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		name:   name,
		userID: userID,
		conn:   conn,
		inbox:  make(chan inboundFrame, 512),
		errCh:  make(chan error, 1),
	}
	c.startReadLoop()

	return c
}

func wsEndpoint(baseURL string) string {
	switch {
	case strings.HasPrefix(baseURL, "https://"):
		return "wss://" + strings.TrimPrefix(baseURL, "https://") + "/ws"
	default:
		return "ws://" + strings.TrimPrefix(baseURL, "http://") + "/ws"
	}
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			mt, data, err := c.conn.Read(context.Background())
			if err != nil {
				select {
				case c.errCh <- err:
				default:
				}
				return
			}

			if mt != websocket.MessageText {
				select {
				case c.errCh <- fmt.Errorf("unsupported message type: %v", mt):
				default:
				}
				return
			}

			var in inboundFrame
			if err := json.Unmarshal(data, &in); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad json: %w", err):
				default:
				}
				return
			}

			c.inbox <- in
		}
	}()
}

func mustSend(parent context.Context, c *smokeClient, f frame, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	data, err := json.Marshal(f)
	if err != nil {
		fatalf("marshal frame (%s): %v", c.name, err)
	}
	if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
		fatalf("write frame (%s): %v", c.name, err)
	}
}

// mustReadFanout waits for the next fan-out envelope for room, skipping
// unrelated frames.
func (c *smokeClient) mustReadFanout(room string, stepTimeout time.Duration) inboundFrame {
	deadline := time.After(stepTimeout)
	for {
		select {
		case in, ok := <-c.inbox:
			if !ok {
				fatalf("read fanout (%s): connection closed: %v", c.name, c.readErr())
			}
			if in.Type == "message" && in.Room == room {
				return in
			}
		case <-deadline:
			fatalf("read fanout (%s): timed out waiting for room %q", c.name, room)
		}
	}
}

func (c *smokeClient) mustReadError(stepTimeout time.Duration) inboundFrame {
	deadline := time.After(stepTimeout)
	for {
		select {
		case in, ok := <-c.inbox:
			if !ok {
				fatalf("read error frame (%s): connection closed: %v", c.name, c.readErr())
			}
			if in.Status == "error" {
				return in
			}
		case <-deadline:
			fatalf("read error frame (%s): timed out", c.name)
		}
	}
}

func (c *smokeClient) readErr() error {
	select {
	case err := <-c.errCh:
		return err
	default:
		return nil
	}
}

func closeWS(conn *websocket.Conn) {
	if conn == nil {
		return
	}
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
