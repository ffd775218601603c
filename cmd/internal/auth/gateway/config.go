package authgate

import (
	"net/http"
	"os"
	"strconv"
	"strings"
)

// Config defines the cookie transport and public surface of the gateway.
type Config struct {
	// AccessCookieName carries the short-lived access token.
	AccessCookieName string

	// RefreshCookieName carries the long-lived refresh token.
	RefreshCookieName string

	CookiePath   string
	CookieDomain string

	// CookieSecure should only be disabled for local plain-HTTP development.
	CookieSecure bool

	// CookieSameSite defaults to None so browser clients on another origin
	// (with CORS credentials) can carry the cookies.
	CookieSameSite http.SameSite

	// PublicPaths bypass the guard entirely (login, register, health,
	// metrics). Matched by exact path.
	PublicPaths []string

	// PublicPrefixes bypass the guard by path prefix (e.g. /ws, which
	// authenticates itself via the otk query parameter).
	PublicPrefixes []string
}

// DefaultConfig returns the gateway defaults.
func DefaultConfig() Config {
	return Config{
		AccessCookieName:  "access_token",
		RefreshCookieName: "refresh_token",
		CookiePath:        "/",
		CookieSecure:      true,
		CookieSameSite:    http.SameSiteNoneMode,
		PublicPaths: []string{
			"/healthz",
			"/readyz",
			"/metrics",
			"/v1/auth/login",
			"/v1/auth/register",
		},
		PublicPrefixes: []string{
			"/ws",
		},
	}
}

// LoadConfigFromEnv loads gateway configuration from environment variables.
//
// Optional:
//   - PARLEY_GATEWAY_ACCESS_COOKIE
//   - PARLEY_GATEWAY_REFRESH_COOKIE
//   - PARLEY_GATEWAY_COOKIE_PATH
//   - PARLEY_GATEWAY_COOKIE_DOMAIN
//   - PARLEY_GATEWAY_COOKIE_SECURE (bool)
//   - PARLEY_GATEWAY_PUBLIC_PATHS (comma-separated, replaces defaults)
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := strings.TrimSpace(os.Getenv("PARLEY_GATEWAY_ACCESS_COOKIE")); v != "" {
		cfg.AccessCookieName = v
	}
	if v := strings.TrimSpace(os.Getenv("PARLEY_GATEWAY_REFRESH_COOKIE")); v != "" {
		cfg.RefreshCookieName = v
	}
	if cfg.AccessCookieName == cfg.RefreshCookieName {
		return Config{}, ErrConfig
	}

	if v := strings.TrimSpace(os.Getenv("PARLEY_GATEWAY_COOKIE_PATH")); v != "" {
		cfg.CookiePath = v
	}
	if v := strings.TrimSpace(os.Getenv("PARLEY_GATEWAY_COOKIE_DOMAIN")); v != "" {
		cfg.CookieDomain = v
	}

	if v := strings.TrimSpace(os.Getenv("PARLEY_GATEWAY_COOKIE_SECURE")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, ErrConfig
		}
		cfg.CookieSecure = b
	}

	if v := strings.TrimSpace(os.Getenv("PARLEY_GATEWAY_PUBLIC_PATHS")); v != "" {
		parts := strings.Split(v, ",")
		paths := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			if !strings.HasPrefix(p, "/") {
				return Config{}, ErrConfig
			}
			paths = append(paths, p)
		}
		cfg.PublicPaths = paths
	}

	return cfg, nil
}

func (c Config) isPublic(path string) bool {
	for _, p := range c.PublicPaths {
		if path == p {
			return true
		}
	}
	for _, p := range c.PublicPrefixes {
		// Segment boundary: /ws matches /ws and /ws/..., never /wsadmin.
		if path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}
