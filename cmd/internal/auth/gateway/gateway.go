package authgate

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"parley/cmd/internal/auth/token"
)

// TokenRotator is the slice of the token service the gateway depends on.
type TokenRotator interface {
	Validate(tok string, kind token.Kind, now time.Time) (token.Claims, error)
	Renew(ctx context.Context, now time.Time, refreshToken string, dev token.DeviceContext) (token.Pair, error)
}

// Gateway is the HTTP middleware enforcing cookie authentication.
type Gateway struct {
	cfg    Config
	log    *slog.Logger
	tokens TokenRotator
}

// NewGateway constructs a gateway around a token rotator.
func NewGateway(cfg Config, log *slog.Logger, tokens TokenRotator) *Gateway {
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return &Gateway{cfg: cfg, log: log, tokens: tokens}
}

// Middleware wraps next with the cookie guard.
//
// Outcomes per request:
//   - public path: pass through untouched
//   - valid access cookie: identity in context, pass through
//   - expired access cookie + valid refresh cookie: one silent rotation,
//     both cookies rewritten, identity in context, pass through
//   - anything else: 401, no cookie mutation
func (g *Gateway) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.cfg.isPublic(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		now := time.Now().UTC()

		access, ok := g.cookieValue(r, g.cfg.AccessCookieName)
		if !ok {
			g.reject(w, r, "missing_access_cookie")
			return
		}

		claims, err := g.tokens.Validate(access, token.KindAccess, now)
		if err == nil {
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), claims.Identity())))
			return
		}

		if !errors.Is(err, token.ErrTokenExpired) {
			g.reject(w, r, "invalid_access_token")
			return
		}

		// Expired access token: attempt exactly one silent rotation.
		refresh, ok := g.cookieValue(r, g.cfg.RefreshCookieName)
		if !ok {
			g.reject(w, r, "missing_refresh_cookie")
			return
		}

		pair, err := g.tokens.Renew(r.Context(), now, refresh, token.DeviceFromRequest(r))
		if err != nil {
			reason := "renew_failed"
			if errors.Is(err, token.ErrRefreshReuseDetected) {
				reason = "refresh_reuse"
			}
			g.log.Info("gateway.renew.fail", "reason", reason, "path", r.URL.Path, "err", err)
			g.reject(w, r, reason)
			return
		}

		newClaims, err := g.tokens.Validate(pair.AccessToken, token.KindAccess, now)
		if err != nil {
			g.reject(w, r, "minted_token_invalid")
			return
		}

		g.SetSessionCookies(w, pair)
		g.log.Info("gateway.renew.ok", "user_id", newClaims.UserID, "path", r.URL.Path)

		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), newClaims.Identity())))
	})
}

// SetSessionCookies writes both token cookies with fresh expirations.
// It is also used by the auth API after login/register.
func (g *Gateway) SetSessionCookies(w http.ResponseWriter, pair token.Pair) {
	g.setCookie(w, g.cfg.AccessCookieName, pair.AccessToken, pair.AccessExpiresAt)
	g.setCookie(w, g.cfg.RefreshCookieName, pair.RefreshToken, pair.RefreshExpiresAt)
}

// ClearSessionCookies expires both token cookies (logout).
func (g *Gateway) ClearSessionCookies(w http.ResponseWriter) {
	g.expireCookie(w, g.cfg.AccessCookieName)
	g.expireCookie(w, g.cfg.RefreshCookieName)
}

func (g *Gateway) cookieValue(r *http.Request, name string) (string, bool) {
	c, err := r.Cookie(name)
	if err != nil {
		return "", false
	}
	v := strings.TrimSpace(c.Value)
	if v == "" {
		return "", false
	}
	return v, true
}

func (g *Gateway) setCookie(w http.ResponseWriter, name, value string, exp time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     g.cfg.CookiePath,
		Domain:   g.cfg.CookieDomain,
		Expires:  exp,
		HttpOnly: true,
		Secure:   g.cfg.CookieSecure,
		SameSite: g.cfg.CookieSameSite,
	})
}

func (g *Gateway) expireCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     g.cfg.CookiePath,
		Domain:   g.cfg.CookieDomain,
		Expires:  time.Unix(0, 0).UTC(),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   g.cfg.CookieSecure,
		SameSite: g.cfg.CookieSameSite,
	})
}

func (g *Gateway) reject(w http.ResponseWriter, r *http.Request, reason string) {
	g.log.Info("gateway.reject", "reason", reason, "path", r.URL.Path)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"status":"error","message":"unauthorized"}`))
}
