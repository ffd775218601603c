// Package app wires the Parley server runtime: config, logging, HTTP routes,
// and the realtime gateway.
//
// It is intentionally small and deterministic to keep CI gates strict and
// behavior predictable.
package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"parley/cmd/identity"
	authapi "parley/cmd/internal/auth/api"
	authgate "parley/cmd/internal/auth/gateway"
	"parley/cmd/internal/auth/token"
	"parley/cmd/internal/realtime"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is a small app-level lifecycle abstraction.
// It exists to allow DB-backed resources to be closed gracefully.
type Store interface {
	Close(ctx context.Context) error
}

// nopStore is used for in-memory store mode.
type nopStore struct{}

func (nopStore) Close(_ context.Context) error { return nil }

// App is the Parley server runtime: it owns HTTP server wiring and the
// realtime gateway dependencies.
type App struct {
	cfg Config
	log Logger

	store Store

	dbPool    *pgxpool.Pool
	dbEnabled bool

	gate *authgate.Gateway
	ws   *realtime.WSGateway
	auth *authapi.Handler
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	if err := ValidateSecurityConfig(cfg); err != nil {
		return nil, err
	}

	st, dbPool, dbEnabled, msgStore, err := newStore(context.Background(), cfg, log)
	if err != nil {
		return nil, err
	}

	closeOnErr := func() {
		_ = st.Close(context.Background())
	}

	tokCfg, err := token.LoadConfigFromEnv()
	if err != nil {
		closeOnErr()
		return nil, err
	}
	signer, err := token.NewSigner(tokCfg)
	if err != nil {
		closeOnErr()
		return nil, err
	}

	var (
		tokStore token.Store
		users    identity.Store
		members  realtime.MembershipStore
	)
	if dbEnabled {
		tokStore, err = token.NewPostgresStore(dbPool)
		if err != nil {
			closeOnErr()
			return nil, err
		}
		users, err = identity.NewPostgresStore(dbPool)
		if err != nil {
			closeOnErr()
			return nil, err
		}
		members = realtime.NewPostgresMembershipStore(dbPool)
	} else {
		tokStore = token.NewInMemoryStore()
		users = identity.NewInMemoryStore()
		// Without a database there is no membership table; seeded dev rooms
		// keep the realtime path usable for local smoke testing.
		if rooms := EnvCSV("PARLEY_DEV_ROOMS", nil); len(rooms) > 0 {
			members = realtime.NewStaticMembershipStore(rooms)
		} else {
			members = realtime.NewInMemoryMembershipStore()
		}
	}

	tokens := token.NewService(tokCfg, log, signer, tokStore)

	gateCfg, err := authgate.LoadConfigFromEnv()
	if err != nil {
		closeOnErr()
		return nil, err
	}
	gate := authgate.NewGateway(gateCfg, log, tokens)

	auth := authapi.NewHandler(log, authapi.LoadConfigFromEnv(), users, tokens, gate)

	hub := realtime.NewHub(log, msgStore)
	registry := realtime.NewRegistry(log)
	ws := realtime.NewWSGateway(log, hub, registry, members, accessValidator{tokens: tokens})

	return &App{
		cfg:       cfg,
		log:       log,
		store:     st,
		dbPool:    dbPool,
		dbEnabled: dbEnabled,
		gate:      gate,
		ws:        ws,
		auth:      auth,
	}, nil
}

// accessValidator adapts the token service to the realtime gateway's
// narrower view: it only ever sees access tokens and only ever needs the
// principal behind them.
type accessValidator struct {
	tokens *token.Service
}

func (v accessValidator) ValidateAccess(tok string) (realtime.Principal, error) {
	claims, err := v.tokens.Validate(tok, token.KindAccess, time.Now())
	if err != nil {
		return realtime.Principal{}, err
	}
	return realtime.Principal{
		UserID:   claims.UserID,
		Username: claims.Username,
	}, nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal
// server error.
func (a *App) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.dbPool, a.dbEnabled, a.ws, a.auth)

	// Gateway guards the mux; CORS and security headers sit outside so even
	// rejected requests carry them. Logging is outermost.
	handler := a.gate.Middleware(mux)
	handler = WithSecurityHeaders(handler)
	handler = WithCORS(handler, a.cfg, a.log)
	handler = WithRequestLogging(handler, a.log)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	base := runtimeBaseURL(a.cfg.HTTPAddr)
	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"url", base,
		"ws_url", wsBaseURL(base)+"/ws",
		"db_enabled", a.dbEnabled,
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	// Close store resources (pool etc).
	if err := a.store.Close(shutdownCtx); err != nil {
		a.log.Error("store.close.fail", "err", err)
	}

	a.log.Info("server.stopped")
	return nil
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// runtimeBaseURL turns a listen address into a URL a local client can dial.
// Wildcard binds are rewritten to loopback.
func runtimeBaseURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

// wsBaseURL maps an HTTP base URL onto the matching WebSocket scheme.
func wsBaseURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return "ws://" + base
	}
}

// newStore decides between Postgres-backed persistence and in-memory dev
// store.
func newStore(ctx context.Context, cfg Config, log Logger) (Store, *pgxpool.Pool, bool, realtime.MessageStore, error) {
	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.inmemory_store")
		return nopStore{}, nil, false, realtime.NewInMemoryMessageStore(), nil
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return nil, nil, false, nil, err
	}

	log.Info("db.enabled.postgres_store")

	// Ownership model:
	// - app owns pool lifecycle
	// - PostgresMessageStore.Close() is a no-op
	msgStore := realtime.NewPostgresMessageStore(pool)

	return dbStore{pool: pool, msgStore: msgStore}, pool, true, msgStore, nil
}

type dbStore struct {
	pool     *pgxpool.Pool
	msgStore realtime.MessageStore
}

func (s dbStore) Close(_ context.Context) error {
	if s.msgStore != nil {
		_ = s.msgStore.Close()
	}
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}
