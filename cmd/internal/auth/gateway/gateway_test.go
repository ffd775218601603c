package authgate

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"parley/cmd/internal/auth/token"

	paseto "aidanwoods.dev/go-paseto"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testTokenService(t *testing.T) *token.Service {
	t.Helper()

	cfg := token.DefaultConfig()
	cfg.PasetoV4SecretKeyHex = paseto.NewV4AsymmetricSecretKey().ExportHex()

	signer, err := token.NewSigner(cfg)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	return token.NewService(cfg, testLogger(), signer, token.NewInMemoryStore())
}

func testDevice() token.DeviceContext {
	return token.DeviceContext{UserAgent: "go-test-agent", IP: net.ParseIP("192.0.2.10")}
}

// testHandler records whether it ran and what identity it saw.
type testHandler struct {
	called   bool
	identity token.Identity
}

func (h *testHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.called = true
	h.identity, _ = IdentityFrom(r.Context())
	w.WriteHeader(http.StatusOK)
}

func newTestGateway(t *testing.T) (*Gateway, *token.Service) {
	t.Helper()
	svc := testTokenService(t)
	cfg := DefaultConfig()
	cfg.CookieSecure = false
	return NewGateway(cfg, testLogger(), svc), svc
}

func doRequest(t *testing.T, gw *Gateway, next *testHandler, path string, cookies []*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()

	r := httptest.NewRequest(http.MethodGet, path, nil)
	r.RemoteAddr = "192.0.2.10:40000"
	r.Header.Set("User-Agent", "go-test-agent")
	for _, c := range cookies {
		r.AddCookie(c)
	}

	w := httptest.NewRecorder()
	gw.Middleware(next).ServeHTTP(w, r)
	return w
}

func TestGateway_PublicPathsBypass(t *testing.T) {
	gw, _ := newTestGateway(t)

	for _, path := range []string{"/healthz", "/readyz", "/metrics", "/v1/auth/login", "/ws", "/ws/anything"} {
		next := &testHandler{}
		w := doRequest(t, gw, next, path, nil)
		if !next.called {
			t.Fatalf("%s: expected pass-through", path)
		}
		if w.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, w.Code)
		}
	}

	// Prefix bypass stops at the segment boundary.
	for _, path := range []string{"/wsadmin", "/wsx", "/metricsextra"} {
		next := &testHandler{}
		w := doRequest(t, gw, next, path, nil)
		if next.called {
			t.Fatalf("%s: must not bypass the guard", path)
		}
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", path, w.Code)
		}
	}
}

func TestGateway_ValidAccessCookie(t *testing.T) {
	gw, svc := newTestGateway(t)

	now := time.Now().UTC()
	pair, err := svc.Generate(context.Background(), now, token.Identity{UserID: "u1", Username: "navid"}, testDevice())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	next := &testHandler{}
	w := doRequest(t, gw, next, "/v1/me", []*http.Cookie{
		{Name: "access_token", Value: pair.AccessToken},
	})

	if w.Code != http.StatusOK || !next.called {
		t.Fatalf("expected 200 pass-through, got %d called=%v", w.Code, next.called)
	}
	if next.identity.UserID != "u1" || next.identity.Username != "navid" {
		t.Fatalf("unexpected identity: %+v", next.identity)
	}
	if len(w.Result().Cookies()) != 0 {
		t.Fatalf("valid access path must not rewrite cookies")
	}
}

func TestGateway_MissingCookieRejected(t *testing.T) {
	gw, _ := newTestGateway(t)

	next := &testHandler{}
	w := doRequest(t, gw, next, "/v1/me", nil)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	if next.called {
		t.Fatalf("handler must not run without authentication")
	}
	if len(w.Result().Cookies()) != 0 {
		t.Fatalf("rejection must not mutate cookies")
	}
}

func TestGateway_InvalidAccessCookieRejected(t *testing.T) {
	gw, _ := newTestGateway(t)

	next := &testHandler{}
	w := doRequest(t, gw, next, "/v1/me", []*http.Cookie{
		{Name: "access_token", Value: "garbage"},
	})

	if w.Code != http.StatusUnauthorized || next.called {
		t.Fatalf("expected 401 without handler run, got %d called=%v", w.Code, next.called)
	}
	if len(w.Result().Cookies()) != 0 {
		t.Fatalf("rejection must not mutate cookies")
	}
}

func TestGateway_ExpiredAccessTriggersSilentRotation(t *testing.T) {
	gw, svc := newTestGateway(t)

	// Mint a pair in the past so the access token is expired but the refresh
	// lineage is still live.
	past := time.Now().UTC().Add(-1 * time.Hour)
	pair, err := svc.Generate(context.Background(), past, token.Identity{UserID: "u1", Username: "navid"}, testDevice())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	next := &testHandler{}
	w := doRequest(t, gw, next, "/v1/me", []*http.Cookie{
		{Name: "access_token", Value: pair.AccessToken},
		{Name: "refresh_token", Value: pair.RefreshToken},
	})

	if w.Code != http.StatusOK || !next.called {
		t.Fatalf("expected silent rotation pass-through, got %d called=%v", w.Code, next.called)
	}
	if next.identity.UserID != "u1" {
		t.Fatalf("unexpected identity after rotation: %+v", next.identity)
	}

	cookies := w.Result().Cookies()
	var gotAccess, gotRefresh *http.Cookie
	for _, c := range cookies {
		switch c.Name {
		case "access_token":
			gotAccess = c
		case "refresh_token":
			gotRefresh = c
		}
	}
	if gotAccess == nil || gotRefresh == nil {
		t.Fatalf("rotation must rewrite both cookies, got %d cookies", len(cookies))
	}
	if gotAccess.Value == pair.AccessToken || gotRefresh.Value == pair.RefreshToken {
		t.Fatalf("rotation must mint fresh tokens")
	}
	if !gotAccess.HttpOnly || !gotRefresh.HttpOnly {
		t.Fatalf("token cookies must be HttpOnly")
	}
	if !gotAccess.Expires.After(time.Now()) {
		t.Fatalf("rewritten access cookie must carry a fresh expiration")
	}
}

func TestGateway_ExpiredAccessWithoutRefreshRejected(t *testing.T) {
	gw, svc := newTestGateway(t)

	past := time.Now().UTC().Add(-1 * time.Hour)
	pair, err := svc.Generate(context.Background(), past, token.Identity{UserID: "u1"}, testDevice())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	next := &testHandler{}
	w := doRequest(t, gw, next, "/v1/me", []*http.Cookie{
		{Name: "access_token", Value: pair.AccessToken},
	})

	if w.Code != http.StatusUnauthorized || next.called {
		t.Fatalf("expected 401, got %d called=%v", w.Code, next.called)
	}
	if len(w.Result().Cookies()) != 0 {
		t.Fatalf("rejection must not mutate cookies")
	}
}

func TestGateway_RevokedRefreshRejected(t *testing.T) {
	gw, svc := newTestGateway(t)

	past := time.Now().UTC().Add(-1 * time.Hour)
	pair, err := svc.Generate(context.Background(), past, token.Identity{UserID: "u1"}, testDevice())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	// A completed rotation makes the original refresh token stale.
	if _, err := svc.Renew(context.Background(), time.Now().UTC(), pair.RefreshToken, testDevice()); err != nil {
		t.Fatalf("Renew: %v", err)
	}

	next := &testHandler{}
	w := doRequest(t, gw, next, "/v1/me", []*http.Cookie{
		{Name: "access_token", Value: pair.AccessToken},
		{Name: "refresh_token", Value: pair.RefreshToken},
	})

	if w.Code != http.StatusUnauthorized || next.called {
		t.Fatalf("expected 401 on stale refresh, got %d called=%v", w.Code, next.called)
	}
	if len(w.Result().Cookies()) != 0 {
		t.Fatalf("rejection must not mutate cookies")
	}
}

func TestGateway_RotationHappensAtMostOncePerRequest(t *testing.T) {
	gw, svc := newTestGateway(t)

	// Expired access AND expired refresh: rotation is attempted once, fails,
	// and the request is rejected rather than retried.
	longPast := time.Now().UTC().Add(-60 * 24 * time.Hour)
	pair, err := svc.Generate(context.Background(), longPast, token.Identity{UserID: "u1"}, testDevice())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	next := &testHandler{}
	w := doRequest(t, gw, next, "/v1/me", []*http.Cookie{
		{Name: "access_token", Value: pair.AccessToken},
		{Name: "refresh_token", Value: pair.RefreshToken},
	})

	if w.Code != http.StatusUnauthorized || next.called {
		t.Fatalf("expected 401 on dead lineage, got %d called=%v", w.Code, next.called)
	}
}
