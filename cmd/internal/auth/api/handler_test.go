package authapi

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"testing"
	"time"

	"parley/cmd/identity"
	authgate "parley/cmd/internal/auth/gateway"
	"parley/cmd/internal/auth/token"

	paseto "aidanwoods.dev/go-paseto"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T) (*httptest.Server, *http.Client) {
	t.Helper()

	tokCfg := token.DefaultConfig()
	tokCfg.PasetoV4SecretKeyHex = paseto.NewV4AsymmetricSecretKey().ExportHex()
	signer, err := token.NewSigner(tokCfg)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	tokens := token.NewService(tokCfg, testLogger(), signer, token.NewInMemoryStore())

	gwCfg := authgate.DefaultConfig()
	gwCfg.CookieSecure = false
	gw := authgate.NewGateway(gwCfg, testLogger(), tokens)

	users := identity.NewInMemoryStore()

	apiCfg := LoadConfigFromEnv()
	h := NewHandler(testLogger(), apiCfg, users, tokens, gw)

	mux := http.NewServeMux()
	h.Register(mux)

	srv := httptest.NewServer(gw.Middleware(mux))
	t.Cleanup(srv.Close)

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookiejar: %v", err)
	}
	client := &http.Client{Jar: jar, Timeout: 5 * time.Second}
	return srv, client
}

func postJSON(t *testing.T, client *http.Client, url string, body any) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := client.Post(url, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func TestRegisterLoginMeLogoutFlow(t *testing.T) {
	srv, client := newTestServer(t)

	// Register sets the cookie pair and returns the new user.
	resp := postJSON(t, client, srv.URL+"/v1/auth/register", registerRequest{
		Username: "Navid",
		Password: "a-long-enough-password",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d", resp.StatusCode)
	}
	var reg authResponse
	if err := json.NewDecoder(resp.Body).Decode(&reg); err != nil {
		t.Fatalf("decode register: %v", err)
	}
	_ = resp.Body.Close()
	if reg.User.Username != "Navid" || reg.User.ID == "" {
		t.Fatalf("unexpected register response: %+v", reg)
	}
	var haveAccess, haveRefresh bool
	for _, c := range resp.Cookies() {
		switch c.Name {
		case "access_token":
			haveAccess = c.Value != ""
		case "refresh_token":
			haveRefresh = c.Value != ""
		}
	}
	if !haveAccess || !haveRefresh {
		t.Fatalf("register must set both token cookies")
	}

	// The cookie jar now authenticates /v1/me through the gateway.
	meResp, err := client.Get(srv.URL + "/v1/me")
	if err != nil {
		t.Fatalf("GET /v1/me: %v", err)
	}
	if meResp.StatusCode != http.StatusOK {
		t.Fatalf("me: expected 200, got %d", meResp.StatusCode)
	}
	var me meResponse
	if err := json.NewDecoder(meResp.Body).Decode(&me); err != nil {
		t.Fatalf("decode me: %v", err)
	}
	_ = meResp.Body.Close()
	if me.User.ID != reg.User.ID {
		t.Fatalf("me returned wrong user: %+v", me.User)
	}

	// Logout revokes the device lineage and clears cookies.
	resp = postJSON(t, client, srv.URL+"/v1/auth/logout", struct{}{})
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("logout: expected 204, got %d", resp.StatusCode)
	}
	_ = resp.Body.Close()

	meResp, err = client.Get(srv.URL + "/v1/me")
	if err != nil {
		t.Fatalf("GET /v1/me after logout: %v", err)
	}
	_ = meResp.Body.Close()
	if meResp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("me after logout: expected 401, got %d", meResp.StatusCode)
	}
}

func TestUpdateProfile(t *testing.T) {
	srv, client := newTestServer(t)

	resp := postJSON(t, client, srv.URL+"/v1/auth/register", registerRequest{
		Username: "navid",
		Password: "a-long-enough-password",
	})
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d", resp.StatusCode)
	}

	patch := func(body any) *http.Response {
		t.Helper()
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		req, err := http.NewRequest(http.MethodPatch, srv.URL+"/v1/me", bytes.NewReader(b))
		if err != nil {
			t.Fatalf("NewRequest: %v", err)
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := client.Do(req)
		if err != nil {
			t.Fatalf("PATCH /v1/me: %v", err)
		}
		return resp
	}

	name := "Navid R."
	resp = patch(updateProfileRequest{DisplayName: &name})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("patch: expected 200, got %d", resp.StatusCode)
	}
	var me meResponse
	if err := json.NewDecoder(resp.Body).Decode(&me); err != nil {
		t.Fatalf("decode patch: %v", err)
	}
	_ = resp.Body.Close()
	if me.User.DisplayName == nil || *me.User.DisplayName != "Navid R." {
		t.Fatalf("expected display name set, got %+v", me.User.DisplayName)
	}

	// Null clears the display name again.
	resp = patch(updateProfileRequest{DisplayName: nil})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("patch clear: expected 200, got %d", resp.StatusCode)
	}
	me = meResponse{}
	if err := json.NewDecoder(resp.Body).Decode(&me); err != nil {
		t.Fatalf("decode patch clear: %v", err)
	}
	_ = resp.Body.Close()
	if me.User.DisplayName != nil {
		t.Fatalf("expected display name cleared, got %q", *me.User.DisplayName)
	}
}

func TestUserSearch(t *testing.T) {
	srv, client := newTestServer(t)

	for _, name := range []string{"ada", "adam", "grace"} {
		resp := postJSON(t, client, srv.URL+"/v1/auth/register", registerRequest{
			Username: name,
			Password: "a-long-enough-password",
		})
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("register %q: expected 201, got %d", name, resp.StatusCode)
		}
	}

	resp := postJSON(t, client, srv.URL+"/v1/users/search", userSearchRequest{Query: "ADA", Limit: 10})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("search: expected 200, got %d", resp.StatusCode)
	}
	var got userSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode search: %v", err)
	}
	_ = resp.Body.Close()
	if len(got.Users) != 2 || got.Users[0].Username != "ada" || got.Users[1].Username != "adam" {
		t.Fatalf("unexpected search results: %+v", got.Users)
	}

	resp = postJSON(t, client, srv.URL+"/v1/users/search", userSearchRequest{Query: "   "})
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("blank query: expected 400, got %d", resp.StatusCode)
	}
}

func TestUserSearchRequiresAuth(t *testing.T) {
	srv, _ := newTestServer(t)

	// A client with no cookie jar carries no session.
	anon := &http.Client{Timeout: 5 * time.Second}
	resp := postJSON(t, anon, srv.URL+"/v1/users/search", userSearchRequest{Query: "ada"})
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a session, got %d", resp.StatusCode)
	}
}

func TestLogin(t *testing.T) {
	srv, client := newTestServer(t)

	resp := postJSON(t, client, srv.URL+"/v1/auth/register", registerRequest{
		Username: "navid",
		Password: "a-long-enough-password",
	})
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d", resp.StatusCode)
	}

	cases := []struct {
		name     string
		req      loginRequest
		wantCode int
	}{
		{name: "ok", req: loginRequest{Username: "NAVID", Password: "a-long-enough-password"}, wantCode: http.StatusOK},
		{name: "bad_password", req: loginRequest{Username: "navid", Password: "not-the-right-password"}, wantCode: http.StatusUnauthorized},
		{name: "unknown_user", req: loginRequest{Username: "ghost", Password: "a-long-enough-password"}, wantCode: http.StatusUnauthorized},
		{name: "missing_fields", req: loginRequest{Username: "navid"}, wantCode: http.StatusBadRequest},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := postJSON(t, client, srv.URL+"/v1/auth/login", tc.req)
			defer func() { _ = resp.Body.Close() }()
			if resp.StatusCode != tc.wantCode {
				t.Fatalf("expected %d, got %d", tc.wantCode, resp.StatusCode)
			}
		})
	}
}

func TestRegisterConflict(t *testing.T) {
	srv, client := newTestServer(t)

	resp := postJSON(t, client, srv.URL+"/v1/auth/register", registerRequest{
		Username: "navid",
		Password: "a-long-enough-password",
	})
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d", resp.StatusCode)
	}

	resp = postJSON(t, client, srv.URL+"/v1/auth/register", registerRequest{
		Username: "NAVID",
		Password: "another-long-password",
	})
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate register: expected 409, got %d", resp.StatusCode)
	}
}

func TestLoginRateLimited(t *testing.T) {
	t.Setenv("PARLEY_AUTH_LOGIN_MAX", "3")
	srv, client := newTestServer(t)

	var last int
	for i := 0; i < 5; i++ {
		resp := postJSON(t, client, srv.URL+"/v1/auth/login", loginRequest{
			Username: "ghost",
			Password: "whatever-password-here",
		})
		last = resp.StatusCode
		_ = resp.Body.Close()
	}

	if last != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after repeated failures, got %d", last)
	}
}

func TestLoginLimiter_Window(t *testing.T) {
	l := newLoginLimiter(2, time.Minute)
	now := time.Now()

	if !l.Allow("k", now) || !l.Allow("k", now) {
		t.Fatalf("first attempts within limit must pass")
	}
	if l.Allow("k", now) {
		t.Fatalf("third attempt within window must be blocked")
	}
	if !l.Allow("k", now.Add(2*time.Minute)) {
		t.Fatalf("attempt after window must pass")
	}
	if !l.Allow("other", now) {
		t.Fatalf("independent keys must not interfere")
	}
}
