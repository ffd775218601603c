package token

import (
	"time"

	paseto "aidanwoods.dev/go-paseto"
)

// Kind discriminates the purpose baked into a signed token.
type Kind string

const (
	// KindAccess marks a short-lived access token.
	KindAccess Kind = "access"
	// KindRefresh marks a long-lived refresh token.
	KindRefresh Kind = "refresh"
)

// Identity is the minimal user identity embedded into token claims.
type Identity struct {
	UserID   string
	Username string
	Role     string
}

// Claims is the identity envelope carried by every signed token.
type Claims struct {
	UserID   string
	Username string
	Role     string
	DeviceID string
	Kind     Kind

	IssuedAt  time.Time
	ExpiresAt time.Time
	Issuer    string
}

// Identity projects the user identity out of verified claims.
func (c Claims) Identity() Identity {
	return Identity{
		UserID:   c.UserID,
		Username: c.Username,
		Role:     c.Role,
	}
}

// Signer issues and verifies PASETO v4.public tokens for all token kinds.
//
// It uses an Ed25519 asymmetric keypair and enforces issuer, kind, and
// expiration rules. Clock skew is tolerated on the expiry check only; a token
// is never considered valid before its issue time.
type Signer struct {
	issuer    string
	clockSkew time.Duration

	secret paseto.V4AsymmetricSecretKey
	public paseto.V4AsymmetricPublicKey
}

// NewSigner builds a Signer from configuration.
func NewSigner(cfg Config) (*Signer, error) {
	secret, err := paseto.NewV4AsymmetricSecretKeyFromHex(cfg.PasetoV4SecretKeyHex)
	if err != nil {
		return nil, ErrConfig
	}

	return &Signer{
		issuer:    cfg.Issuer,
		clockSkew: cfg.ClockSkew,
		secret:    secret,
		public:    secret.Public(),
	}, nil
}

// PublicKeyHex exports the verification key for out-of-process validators.
func (s *Signer) PublicKeyHex() string {
	return s.public.ExportHex()
}

// Issue signs a token carrying the provided claims. IssuedAt and ExpiresAt
// must be populated by the caller.
func (s *Signer) Issue(c Claims) (string, error) {
	tok := paseto.NewToken()
	tok.SetIssuer(s.issuer)
	tok.SetIssuedAt(c.IssuedAt)
	tok.SetNotBefore(c.IssuedAt)
	tok.SetExpiration(c.ExpiresAt)

	// Minimal, explicit claims.
	_ = tok.Set("uid", c.UserID)
	_ = tok.Set("unm", c.Username)
	_ = tok.Set("rol", c.Role)
	_ = tok.Set("dev", c.DeviceID)
	_ = tok.Set("knd", string(c.Kind))

	return tok.V4Sign(s.secret, nil), nil
}

// Verify parses and validates a signed token of the requested kind.
//
// It fails with ErrTokenExpired when the token is structurally valid but past
// its expiry, and ErrTokenInvalid for every other failure (bad signature,
// wrong issuer, wrong kind, missing claims). Verify never mutates state.
func (s *Signer) Verify(token string, kind Kind, now time.Time) (Claims, error) {
	// Expiry is checked manually below so that expired-but-authentic tokens
	// are distinguishable from forgeries. Signature verification still runs
	// first; an expired forgery is ErrTokenInvalid, not ErrTokenExpired.
	p := paseto.NewParserWithoutExpiryCheck()
	p.AddRule(paseto.IssuedBy(s.issuer))

	parsed, err := p.ParseV4Public(s.public, token, nil)
	if err != nil {
		return Claims{}, ErrTokenInvalid
	}

	knd, err := parsed.GetString("knd")
	if err != nil || Kind(knd) != kind {
		return Claims{}, ErrTokenInvalid
	}

	uid, err := parsed.GetString("uid")
	if err != nil || uid == "" {
		return Claims{}, ErrTokenInvalid
	}
	unm, _ := parsed.GetString("unm")
	rol, _ := parsed.GetString("rol")
	dev, err := parsed.GetString("dev")
	if err != nil || dev == "" {
		return Claims{}, ErrTokenInvalid
	}

	iss, _ := parsed.GetIssuer()
	iat, _ := parsed.GetIssuedAt()
	exp, err := parsed.GetExpiration()
	if err != nil {
		return Claims{}, ErrTokenInvalid
	}

	claims := Claims{
		UserID:    uid,
		Username:  unm,
		Role:      rol,
		DeviceID:  dev,
		Kind:      kind,
		IssuedAt:  iat,
		ExpiresAt: exp,
		Issuer:    iss,
	}

	if !exp.After(now.Add(-s.clockSkew)) {
		return Claims{}, ErrTokenExpired
	}

	return claims, nil
}
