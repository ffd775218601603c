package authapi

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"parley/cmd/identity"
	authgate "parley/cmd/internal/auth/gateway"
	"parley/cmd/internal/auth/token"
	"parley/cmd/security/password"
)

// Handler wires HTTP auth endpoints to the identity store and token service.
type Handler struct {
	log *slog.Logger
	cfg Config

	users   identity.Store
	tokens  *token.Service
	cookies *authgate.Gateway

	limiter *loginLimiter

	// Dummy hash for timing-resistant login checks.
	dummyHash string
	pwCfg     password.Config
}

// NewHandler constructs an auth Handler.
func NewHandler(log *slog.Logger, cfg Config, users identity.Store, tokens *token.Service, cookies *authgate.Gateway) *Handler {
	if log == nil {
		log = slog.Default()
	}

	h := &Handler{
		log:     log,
		cfg:     cfg,
		users:   users,
		tokens:  tokens,
		cookies: cookies,
		limiter: newLoginLimiter(cfg.LoginMax, cfg.LoginWindow),
		pwCfg:   password.DefaultConfig(),
	}

	if hash, err := identity.HashPassword("dummy-password-for-timing-only", h.pwCfg); err == nil {
		h.dummyHash = hash
	}

	return h
}

// Register wires auth routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("/v1/auth/register", h.handleRegister)
	mux.HandleFunc("/v1/auth/login", h.handleLogin)
	mux.HandleFunc("/v1/auth/logout", h.handleLogout)
	mux.HandleFunc("/v1/me", h.handleMe)
	mux.HandleFunc("/v1/users/search", h.handleUserSearch)
}

// ---- handlers ----

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req registerRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	username := strings.TrimSpace(req.Username)
	if username == "" || strings.TrimSpace(req.Password) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "username and password are required")
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()

	u, err := h.users.CreateUser(ctx, identity.CreateUserInput{
		Username:    username,
		DisplayName: trimPtr(req.DisplayName),
		Password:    req.Password,
		Now:         now,
	})
	if err != nil {
		switch {
		case identity.IsConflict(err):
			writeError(w, http.StatusConflict, "conflict", "username already exists")
		case identity.IsInvalidInput(err):
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid input")
		default:
			h.log.Error("auth.register.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		}
		return
	}

	pair, err := h.tokens.Generate(ctx, now, tokenIdentity(u), token.DeviceFromRequest(r))
	if err != nil {
		h.log.Error("auth.register.token.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.cookies.SetSessionCookies(w, pair)
	h.log.Info("auth.register.ok", "user_id", u.ID)

	writeJSON(w, http.StatusCreated, authResponse{
		User:            toUserResponse(u),
		AccessExpiresAt: pair.AccessExpiresAt,
	})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	username := strings.TrimSpace(req.Username)
	plain := strings.TrimSpace(req.Password)
	if username == "" || plain == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "username and password are required")
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()
	ip := clientIP(r, h.cfg.TrustProxy)
	identifier := identity.NormalizeUsername(username)

	// Throttle before any store lookup.
	ipKey := ""
	if ip != nil {
		ipKey = "ip:" + ip.String()
	}
	if !h.limiter.Allow(ipKey, now) || !h.limiter.Allow("id:"+identifier, now) {
		h.log.Info("auth.login.rate_limited", "identifier", identifier)
		w.Header().Set("Retry-After", retryAfterHeader(h.cfg.LoginWindow))
		writeError(w, http.StatusTooManyRequests, "rate_limited", "too many attempts")
		return
	}

	ua, err := h.users.GetUserAuthByUsername(ctx, username)
	if err != nil {
		// Timing resistance: perform a dummy verify when the user is missing.
		if h.dummyHash != "" {
			_, _ = identity.VerifyPassword(plain, h.dummyHash, h.pwCfg)
		}
		h.log.Info("auth.login.fail", "reason", "not_found", "identifier", identifier)
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
		return
	}

	okPw, err := identity.VerifyPassword(plain, ua.PasswordHash, h.pwCfg)
	if err != nil || !okPw {
		h.log.Info("auth.login.fail", "reason", "bad_password", "user_id", ua.User.ID)
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
		return
	}

	pair, err := h.tokens.Generate(ctx, now, tokenIdentity(ua.User), token.DeviceFromRequest(r))
	if err != nil {
		h.log.Error("auth.login.token.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.cookies.SetSessionCookies(w, pair)
	h.log.Info("auth.login.ok", "user_id", ua.User.ID)

	writeJSON(w, http.StatusOK, authResponse{
		User:            toUserResponse(ua.User),
		AccessExpiresAt: pair.AccessExpiresAt,
	})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	id, err := authgate.IdentityFrom(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}

	now := time.Now().UTC()
	if err := h.tokens.RevokeDevice(r.Context(), now, id.UserID, token.DeviceFromRequest(r)); err != nil {
		h.log.Error("auth.logout.fail", "err", err, "user_id", id.UserID)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.cookies.ClearSessionCookies(w)
	h.log.Info("auth.logout.ok", "user_id", id.UserID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.handleMeGet(w, r)
	case http.MethodPatch:
		h.handleMeUpdate(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleMeGet(w http.ResponseWriter, r *http.Request) {
	id, err := authgate.IdentityFrom(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}

	u, err := h.users.GetUserByID(r.Context(), id.UserID)
	if err != nil {
		if identity.IsNotFound(err) {
			writeError(w, http.StatusUnauthorized, "not_found", "user not found")
			return
		}
		h.log.Error("auth.me.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	writeJSON(w, http.StatusOK, meResponse{User: toUserResponse(u)})
}

// handleMeUpdate patches the caller's profile. A non-blank display_name sets
// it; null or blank clears it.
func (h *Handler) handleMeUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := authgate.IdentityFrom(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}

	var req updateProfileRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	u, err := h.users.UpdateDisplayName(r.Context(), id.UserID, trimPtr(req.DisplayName), time.Now().UTC())
	if err != nil {
		switch {
		case identity.IsNotFound(err):
			writeError(w, http.StatusUnauthorized, "not_found", "user not found")
		case identity.IsInvalidInput(err):
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid input")
		default:
			h.log.Error("auth.me.update.fail", "err", err, "user_id", id.UserID)
			writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		}
		return
	}

	h.log.Info("auth.me.update.ok", "user_id", u.ID)
	writeJSON(w, http.StatusOK, meResponse{User: toUserResponse(u)})
}

func (h *Handler) handleUserSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	if _, err := authgate.IdentityFrom(r.Context()); err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}

	var req userSearchRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "query is required")
		return
	}

	users, err := h.users.SearchUsers(r.Context(), req.Query, req.Limit)
	if err != nil {
		if identity.IsInvalidInput(err) {
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid input")
			return
		}
		h.log.Error("auth.users.search.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	out := userSearchResponse{Users: make([]userResponse, 0, len(users))}
	for _, u := range users {
		out.Users = append(out.Users, toUserResponse(u))
	}
	writeJSON(w, http.StatusOK, out)
}

// ---- helpers ----

func tokenIdentity(u identity.User) token.Identity {
	return token.Identity{
		UserID:   u.ID,
		Username: u.Username,
		Role:     u.Role,
	}
}

func trimPtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

func clientIP(r *http.Request, trustProxy bool) net.IP {
	if trustProxy {
		if ip := parseForwardedIP(r.Header.Get("X-Forwarded-For")); ip != nil {
			return ip
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip
		}
	}
	return nil
}

func parseForwardedIP(raw string) net.IP {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	for _, p := range parts {
		if ip := net.ParseIP(strings.TrimSpace(p)); ip != nil {
			return ip
		}
	}
	return nil
}

// ---- JSON plumbing ----

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error apiError `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	// Auth responses carry cookies and identity; never let a cache keep them.
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: apiError{Code: code, Message: msg}})
}

// decodeJSON reads exactly one JSON value from the body, bounded by maxBytes,
// rejecting unknown fields and trailing data.
func decodeJSON(w http.ResponseWriter, r *http.Request, maxBytes int64, dst any) error {
	if r.Body == nil {
		return errors.New("empty body")
	}
	defer func() { _ = r.Body.Close() }()

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("trailing data after JSON value")
	}
	return nil
}
