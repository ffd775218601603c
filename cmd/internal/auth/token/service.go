package token

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// Service implements the high-level token operations for Parley.
//
// It mints access/refresh pairs, validates tokens without side effects, and
// performs refresh rotation with reuse detection. One Service instance is
// shared by the HTTP auth gateway and the realtime WebSocket gateway.
type Service struct {
	cfg    Config
	log    *slog.Logger
	signer *Signer
	store  Store
}

// Pair is the result of generating or renewing tokens.
type Pair struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// NewService constructs a Service with the provided configuration, signer,
// and refresh-record store.
func NewService(cfg Config, log *slog.Logger, signer *Signer, store Store) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{cfg: cfg, log: log, signer: signer, store: store}
}

// Generate mints a fresh access/refresh pair for a user on a device and
// persists the refresh record.
func (s *Service) Generate(ctx context.Context, now time.Time, id Identity, dev DeviceContext) (Pair, error) {
	return s.mint(ctx, now, id, dev.DeviceID())
}

// Validate verifies a signed token of the requested kind and returns its
// claims. It never mutates state and fails with ErrTokenExpired or
// ErrTokenInvalid.
func (s *Service) Validate(tok string, kind Kind, now time.Time) (Claims, error) {
	return s.signer.Verify(tok, kind, now)
}

// Renew performs refresh rotation with reuse detection.
//
// Security model:
//   - Verify signature and expiry of the presented refresh token.
//   - Look up the persisted record by token hash + device fingerprint.
//   - A record that is already revoked means the client presented a stale
//     token after a completed rotation, or the token was stolen. Fail hard,
//     revoke the whole device lineage, and report a security event.
//   - Otherwise revoke the found record and insert the successor atomically.
//     Concurrent renewals of the same token resolve to exactly one winner;
//     every loser observes ErrRefreshRevoked.
func (s *Service) Renew(ctx context.Context, now time.Time, refreshToken string, dev DeviceContext) (Pair, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	// Basic sanity bounds to avoid pathological inputs.
	if refreshToken == "" || len(refreshToken) > 4096 {
		return Pair{}, ErrRefreshNotFound
	}

	claims, err := s.signer.Verify(refreshToken, KindRefresh, now)
	if err != nil {
		if errors.Is(err, ErrTokenExpired) {
			metricRenewFailures.WithLabelValues("expired").Inc()
			return Pair{}, ErrRefreshExpired
		}
		metricRenewFailures.WithLabelValues("invalid").Inc()
		return Pair{}, err
	}

	deviceID := dev.DeviceID()
	rec, err := s.store.Find(ctx, HashTokenHex(refreshToken), deviceID)
	if err != nil {
		if errors.Is(err, ErrRefreshNotFound) {
			metricRenewFailures.WithLabelValues("not_found").Inc()
		}
		return Pair{}, err
	}

	if rec.Revoked {
		// Reuse of a stale token. Kill the lineage; a thief holding the
		// successor must not keep a live session.
		if err := s.store.RevokeDevice(ctx, now, rec.UserID, rec.DeviceID); err != nil {
			return Pair{}, err
		}
		metricReuse.Inc()
		s.log.Warn("auth.refresh.reuse_detected",
			"user_id", rec.UserID,
			"device_id", rec.DeviceID,
			"record_id", rec.ID,
		)
		return Pair{}, ErrRefreshReuseDetected
	}

	if !rec.ExpiresAt.After(now) {
		metricRenewFailures.WithLabelValues("expired").Inc()
		return Pair{}, ErrRefreshExpired
	}

	pair, next, err := s.mintPair(now, Identity{
		UserID:   claims.UserID,
		Username: claims.Username,
		Role:     claims.Role,
	}, deviceID)
	if err != nil {
		return Pair{}, err
	}

	if err := s.store.Rotate(ctx, now, rec.ID, next); err != nil {
		if errors.Is(err, ErrRefreshRevoked) {
			metricRenewFailures.WithLabelValues("lost_race").Inc()
		}
		return Pair{}, err
	}

	metricRotations.Inc()
	return pair, nil
}

// RevokeDevice revokes the refresh lineage of one device (e.g. logout).
func (s *Service) RevokeDevice(ctx context.Context, now time.Time, userID string, dev DeviceContext) error {
	return s.store.RevokeDevice(ctx, now, userID, dev.DeviceID())
}

// AccessTTL exposes the configured access-token lifetime for cookie expiry.
func (s *Service) AccessTTL() time.Duration { return s.cfg.AccessTTL }

// RefreshTTL exposes the configured refresh-token lifetime for cookie expiry.
func (s *Service) RefreshTTL() time.Duration { return s.cfg.RefreshTTL }

// mint creates and persists a fresh pair for a device.
func (s *Service) mint(ctx context.Context, now time.Time, id Identity, deviceID string) (Pair, error) {
	pair, rec, err := s.mintPair(now, id, deviceID)
	if err != nil {
		return Pair{}, err
	}
	if err := s.store.Insert(ctx, rec); err != nil {
		return Pair{}, err
	}
	return pair, nil
}

// mintPair signs both tokens and prepares the refresh record, without
// touching the store.
func (s *Service) mintPair(now time.Time, id Identity, deviceID string) (Pair, Record, error) {
	accessExp := now.Add(s.cfg.AccessTTL)
	refreshExp := now.Add(s.cfg.RefreshTTL)

	access, err := s.signer.Issue(Claims{
		UserID:    id.UserID,
		Username:  id.Username,
		Role:      id.Role,
		DeviceID:  deviceID,
		Kind:      KindAccess,
		IssuedAt:  now,
		ExpiresAt: accessExp,
	})
	if err != nil {
		return Pair{}, Record{}, err
	}

	refresh, err := s.signer.Issue(Claims{
		UserID:    id.UserID,
		Username:  id.Username,
		Role:      id.Role,
		DeviceID:  deviceID,
		Kind:      KindRefresh,
		IssuedAt:  now,
		ExpiresAt: refreshExp,
	})
	if err != nil {
		return Pair{}, Record{}, err
	}

	rec := Record{
		ID:        ulid.Make().String(),
		UserID:    id.UserID,
		TokenHash: HashTokenHex(refresh),
		DeviceID:  deviceID,
		ExpiresAt: refreshExp,
		CreatedAt: now,
		UpdatedAt: now,
	}

	return Pair{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refresh,
		RefreshExpiresAt: refreshExp,
	}, rec, nil
}
