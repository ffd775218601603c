package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
)

const (
	wsDefaultSendQueueSize = 256
	wsMinSendQueueSize     = 32

	wsDefaultWriteTimeout = 5 * time.Second
	wsDefaultReadIdle     = 2 * time.Minute
	wsCloseGrace          = 1 * time.Second

	wsMaxPingFailures = 3

	// Security defaults:
	// - Origin is required by default.
	// - Only localhost is allowed by default (secure-by-default for dev).
	wsDefaultOriginRequired = true
	wsDefaultAllowedOrigins = "http://localhost,http://127.0.0.1"
)

// Principal is the authenticated identity behind a socket.
type Principal struct {
	UserID   string
	Username string
}

// TokenValidator checks the one-time access token carried on the upgrade
// request and resolves it to a principal.
type TokenValidator interface {
	ValidateAccess(token string) (Principal, error)
}

// WSGateway is the WebSocket entrypoint.
//
// It enforces origin policy, authenticates the upgrade via the otk query
// parameter, subscribes the socket to the user's room memberships, registers
// it for direct delivery, and runs the read/write/heartbeat loops.
type WSGateway struct {
	log       *slog.Logger
	hub       *Hub
	registry  *Registry
	members   MembershipStore
	validator TokenValidator

	devInsecure    bool
	originRequired bool
	allowedOrigins []string

	// Derived for websocket.Accept origin checks.
	// Accept() authorizes same-host origins by default, but for cross-origin it requires OriginPatterns.
	originPatterns []string

	writeTimeout    time.Duration
	readIdleTimeout time.Duration
	sendQueueSize   int

	heartbeatEvery   time.Duration
	heartbeatTimeout time.Duration

	rateEvents int
	rateWindow time.Duration

	backlogLimit int
}

// NewWSGateway constructs a gateway with secure defaults.
// When hub/registry/members are nil, it falls back to in-memory implementations for dev.
func NewWSGateway(log *slog.Logger, hub *Hub, registry *Registry, members MembershipStore, validator TokenValidator) *WSGateway {
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	if hub == nil {
		hub = NewHub(log, NewInMemoryMessageStore())
	}
	if registry == nil {
		registry = NewRegistry(log)
	}
	if members == nil {
		members = NewInMemoryMembershipStore()
	}

	g := &WSGateway{
		log:       log,
		hub:       hub,
		registry:  registry,
		members:   members,
		validator: validator,
	}

	// NOTE: InsecureSkipVerify is a dev-only knob (TLS verification). It is not an origin policy.
	g.devInsecure = envBoolWS("PARLEY_WS_DEV_INSECURE", false)

	g.originRequired = envBoolWS("PARLEY_WS_ORIGIN_REQUIRED", wsDefaultOriginRequired)
	g.allowedOrigins = envCSVWS("PARLEY_WS_ALLOWED_ORIGINS", wsDefaultAllowedOrigins)

	// websocket.Accept enforces its own origin policy:
	// - same-host is ok
	// - cross-origin requires OriginPatterns (host patterns)
	// We derive these patterns from allowed origins so the two layers agree.
	g.originPatterns = deriveOriginPatternsFromAllowedOrigins(g.allowedOrigins)

	g.writeTimeout = envDurationWS("PARLEY_WS_WRITE_TIMEOUT", wsDefaultWriteTimeout)
	g.readIdleTimeout = envDurationWS("PARLEY_WS_READ_IDLE_TIMEOUT", wsDefaultReadIdle)

	g.sendQueueSize = envIntWS("PARLEY_WS_SEND_QUEUE", wsDefaultSendQueueSize)
	if g.sendQueueSize < wsMinSendQueueSize {
		g.sendQueueSize = wsMinSendQueueSize
	}

	g.heartbeatEvery = envDurationWS("PARLEY_WS_HEARTBEAT_INTERVAL", heartbeatInterval)
	g.heartbeatTimeout = envDurationWS("PARLEY_WS_HEARTBEAT_TIMEOUT", heartbeatTimeout)

	g.rateEvents = envIntWS("PARLEY_WS_RATE_EVENTS", rateLimitEvents)
	g.rateWindow = envDurationWS("PARLEY_WS_RATE_WINDOW", rateLimitWindow)

	// 0 disables the on-connect history replay.
	g.backlogLimit = envNonNegIntWS("PARLEY_WS_HISTORY_REPLAY", defaultBacklogLimit)

	return g
}

// ServeHTTP adapter so it can be mounted as http.Handler.
func (g *WSGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS upgrades an HTTP request to a WebSocket session and runs the realtime loop.
//
// The session authenticates AFTER the upgrade: the otk query parameter is
// checked against the token validator, and on failure the socket is closed
// with a policy violation before it is ever registered or subscribed.
func (g *WSGateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	otk := strings.TrimSpace(r.URL.Query().Get("otk"))

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Authorize allowed origin hosts (e.g. localhost) for cross-origin requests.
		OriginPatterns: g.originPatterns,

		// Dev-only escape hatch.
		InsecureSkipVerify: g.devInsecure,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	conn.SetReadLimit(maxFrameBytes)

	principal, err := g.authenticate(otk)
	if err != nil {
		metricAuthFailures.Inc()
		g.log.Info("ws.reject.auth", "err", err, "remote", r.RemoteAddr)
		_ = conn.Close(websocket.StatusPolicyViolation, "authentication failed")
		return
	}

	sessionID := NewSessionID()
	client := NewClient(principal.UserID, sessionID, g.sendQueueSize)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Membership snapshot; the subscription set is fixed for the session.
	roomIDs, err := g.members.Rooms(ctx, principal.UserID)
	if err != nil {
		g.log.Error("ws.membership.fail", "err", err, "user_id", principal.UserID)
		_ = conn.Close(websocket.StatusInternalError, "membership lookup failed")
		return
	}

	rooms := make(map[string]*Room, len(roomIDs))
	for _, id := range roomIDs {
		room := g.hub.GetOrCreateRoom(id)
		if err := room.SubscribeWithBacklog(ctx, client, g.backlogLimit); err != nil {
			// The socket is still subscribed; it just starts without history.
			g.log.Info("ws.backlog.fail", "session_id", sessionID, "room", id, "err", err)
		}
		rooms[id] = room
	}

	g.registry.Add(principal.UserID, client)
	g.log.Info("ws.session.active",
		"session_id", sessionID,
		"user_id", principal.UserID,
		"rooms", len(rooms),
	)

	var closeOnce sync.Once

	// shutdown is idempotent. It does NOT close client.Send.
	// Broadcast safety: client.Send remains open and room removal happens before client.Close.
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			for _, room := range rooms {
				room.Unsubscribe(sessionID)
			}
			g.registry.Remove(principal.UserID, client)

			client.Close()
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	rl := NewRateLimiter(g.rateEvents, g.rateWindow)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)

		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case payload := <-client.Send:
				if err := writePayload(ctx, conn, payload, g.writeTimeout); err != nil {
					g.log.Info("ws.write.fail", "session_id", sessionID, "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)

		t := time.NewTicker(g.heartbeatEvery)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, g.heartbeatTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()

				if err != nil {
					failures++
					g.log.Info("ws.ping.fail", "session_id", sessionID, "failures", failures, "err", err)
					if failures >= wsMaxPingFailures {
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

readLoop:
	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.readIdleTimeout)
		frame, err := readFrame(readCtx, conn)
		readCancel()

		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
				break readLoop
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
				break readLoop
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
				break readLoop
			case readErrBadJSON:
				g.trySendError(ctx, client, "malformed frame")
				continue readLoop
			default:
				g.log.Info("ws.read.fail", "session_id", sessionID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
				break readLoop
			}
		}

		now := time.Now().UTC()
		if !rl.Allow(now) {
			g.trySendError(ctx, client, "too many events")
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}

		if err := frame.Validate(); err != nil {
			g.trySendError(ctx, client, err.Error())
			continue readLoop
		}

		switch frame.Type {
		case FrameJoin:
			// Subscriptions are fixed at connect time. A join for a room the
			// session already subscribes to is a no-op; anything else is refused.
			if _, ok := rooms[frame.Room]; !ok {
				g.trySendError(ctx, client, fmt.Sprintf("not a member of room: %s", frame.Room))
			}

		case FrameMessage:
			room, ok := rooms[frame.Room]
			if !ok {
				g.trySendError(ctx, client, fmt.Sprintf("not a member of room: %s", frame.Room))
				continue readLoop
			}
			if len([]rune(frame.Content)) > maxMessageChars {
				g.trySendError(ctx, client, fmt.Sprintf("message too long: max=%d chars", maxMessageChars))
				continue readLoop
			}
			if err := room.Send(ctx, sessionID, principal.UserID, frame.Content, frame.Domain); err != nil {
				// Persistence failure is reported to the sender alone; nothing
				// was broadcast.
				g.log.Info("ws.send.fail", "session_id", sessionID, "room", frame.Room, "err", err)
				g.trySendError(ctx, client, "message not delivered")
				continue readLoop
			}

		default:
			g.trySendError(ctx, client, fmt.Sprintf("unsupported type: %s", frame.Type))
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}
}

func (g *WSGateway) authenticate(otk string) (Principal, error) {
	if g.validator == nil {
		return Principal{}, errors.New("no token validator configured")
	}
	if otk == "" {
		return Principal{}, errors.New("missing otk")
	}
	return g.validator.ValidateAccess(otk)
}

// ---- send helpers ----

func (g *WSGateway) trySendError(ctx context.Context, client *Client, msg string) {
	b, _ := json.Marshal(newErrorFrame(msg))
	select {
	case <-ctx.Done():
	case <-client.Done():
	case client.Send <- b:
	default:
	}
}

// ---- frame IO ----

// errDecodeFrame marks inbound payloads that could not be decoded into a
// Frame. Decode failures are per-frame: the sender gets an error frame and
// the session stays active.
var errDecodeFrame = errors.New("frame decode failed")

func readFrame(ctx context.Context, conn *websocket.Conn) (Frame, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return Frame{}, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return Frame{}, fmt.Errorf("unsupported message type: %v", mt)
	}
	return decodeFrame(data)
}

func decodeFrame(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		// Covers malformed JSON and well-formed JSON with mistyped fields
		// (*json.SyntaxError, *json.UnmarshalTypeError) alike.
		return Frame{}, fmt.Errorf("%w: %v", errDecodeFrame, err)
	}
	return f, nil
}

func writePayload(parent context.Context, conn *websocket.Conn, payload []byte, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, payload)
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
	readErrBadJSON
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}
	if errors.Is(err, errDecodeFrame) {
		return readErrBadJSON
	}
	return readErrUnknown
}

// ---- origin policy ----

func (g *WSGateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.originRequired {
			return errors.New("missing origin")
		}
		return nil
	}

	if len(g.allowedOrigins) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	originHost := originHostOnly(origin)

	for _, a := range g.allowedOrigins {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if a == "*" {
			// Strongly discouraged, but honored if explicitly configured.
			return nil
		}

		// Full origin match (scheme + host + optional port).
		if origin == a {
			return nil
		}

		// Host match fallback (ignores port/scheme).
		if originHost != "" && originHost == originHostOnly(a) {
			return nil
		}
	}

	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	// URL form.
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		h := strings.TrimSpace(u.Host)
		if h == "" {
			return ""
		}
		if host, _, err := net.SplitHostPort(h); err == nil {
			return strings.ToLower(host)
		}
		return strings.ToLower(h)
	}

	// host[:port] form.
	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

func deriveOriginPatternsFromAllowedOrigins(allowed []string) []string {
	// websocket.Accept matches OriginPatterns against the origin host using filepath.Match patterns.
	// We keep this strict: only hosts extracted from allowlist are accepted.
	seen := make(map[string]struct{}, len(allowed))

	for _, a := range allowed {
		h := originHostOnly(a)
		if h == "" || h == "*" {
			continue
		}
		seen[h] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}

	// Stable in-file sort (avoid importing sort just for this).
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j] < out[i] {
				out[i], out[j] = out[j], out[i]
			}
		}
	}

	return out
}

// ---- env helpers ----

func envBoolWS(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envIntWS(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// envNonNegIntWS is like envIntWS but treats an explicit 0 as a valid value.
func envNonNegIntWS(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func envDurationWS(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func envCSVWS(key string, def string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		raw = def
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
