package app

import (
	"io"
	"log/slog"
	"testing"

	"aidanwoods.dev/go-paseto"
)

func TestRuntimeBaseURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{name: "explicit localhost", in: "127.0.0.1:8080", want: "http://127.0.0.1:8080"},
		{name: "bind all v4", in: "0.0.0.0:8080", want: "http://127.0.0.1:8080"},
		{name: "bind all v6", in: "[::]:9090", want: "http://127.0.0.1:9090"},
		{name: "ipv6 host", in: "[2001:db8::1]:9090", want: "http://[2001:db8::1]:9090"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := runtimeBaseURL(tc.in)
			if got != tc.want {
				t.Fatalf("runtimeBaseURL(%q)=%q want=%q", tc.in, got, tc.want)
			}
		})
	}
}

func TestWSBaseURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{in: "http://127.0.0.1:8080", want: "ws://127.0.0.1:8080"},
		{in: "https://parley.example.com", want: "wss://parley.example.com"},
		{in: "127.0.0.1:8080", want: "ws://127.0.0.1:8080"},
	}

	for _, tc := range cases {
		got := wsBaseURL(tc.in)
		if got != tc.want {
			t.Fatalf("wsBaseURL(%q)=%q want=%q", tc.in, got, tc.want)
		}
	}
}

func TestNewInMemoryApp(t *testing.T) {
	sk := paseto.NewV4AsymmetricSecretKey()
	t.Setenv("PARLEY_PASETO_V4_SECRET_KEY_HEX", sk.ExportHex())
	t.Setenv("PARLEY_DATABASE_URL", "")

	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	a, err := New(LoadConfig(), log)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if a.dbEnabled {
		t.Fatalf("expected in-memory mode without a database URL")
	}
	if a.ws == nil || a.auth == nil || a.gate == nil {
		t.Fatalf("incomplete wiring: ws=%v auth=%v gate=%v", a.ws, a.auth, a.gate)
	}
}

func TestNewRejectsHMACPolicyViolation(t *testing.T) {
	sk := paseto.NewV4AsymmetricSecretKey()
	t.Setenv("PARLEY_PASETO_V4_SECRET_KEY_HEX", sk.ExportHex())
	t.Setenv("PARLEY_REQUIRE_TOKEN_HMAC", "true")
	t.Setenv("PARLEY_TOKEN_HMAC_KEY", "")

	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	if _, err := New(LoadConfig(), log); err == nil {
		t.Fatalf("expected security policy error when HMAC key is missing")
	}
}
