package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"parley/cmd/security/password"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements identity persistence over PostgreSQL.
//
// The pgx pool is owned by the caller; this store must NOT close it.
// Schema/table identifiers are safely quoted to avoid SQL injection via
// identifiers. Errors are mapped to identity sentinel kinds.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
	pwCfg  password.Config
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the Postgres schema used by the identity store (default "parley").
// The schema name is validated to be a legal PostgreSQL identifier.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return fmt.Errorf("identity: empty schema")
		}
		if !pgIdentRe.MatchString(schema) {
			return fmt.Errorf("identity: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// WithPasswordConfig overrides the Argon2id parameters and policy.
func WithPasswordConfig(cfg password.Config) PostgresOption {
	return func(s *PostgresStore) error {
		s.pwCfg = cfg
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore with secure defaults.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "parley",
		pwCfg:  password.DefaultConfig(),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, fmt.Errorf("identity: nil pool")
	}
	return st, nil
}

func (s *PostgresStore) users() string {
	return `"` + s.schema + `"."users"`
}

// CreateUser creates a new user with a hashed password.
func (s *PostgresStore) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
	const op = "identity.CreateUser"

	if s == nil || s.pool == nil {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil store"}
	}
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	username := strings.TrimSpace(in.Username)
	if username == "" {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "username is required"}
	}
	if strings.TrimSpace(in.Password) == "" {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "password is required"}
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	pwHash, err := HashPassword(in.Password, s.pwCfg)
	if err != nil {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: err.Error()}
	}

	id, err := NewULID(now)
	if err != nil {
		return User{}, err
	}

	u := User{
		ID:           id,
		Username:     username,
		UsernameNorm: NormalizeUsername(username),
		DisplayName:  in.DisplayName,
		Role:         defaultRole,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO `+s.users()+` (
		     id, username, username_norm, display_name, role, password_hash, created_at, updated_at
		   ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		u.ID, u.Username, u.UsernameNorm, u.DisplayName, u.Role, pwHash, u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return User{}, ConflictError{Op: op, Field: "username"}
		}
		return User{}, fmt.Errorf("%s: %w", op, err)
	}

	return u, nil
}

// GetUserByID fetches a user by primary key.
func (s *PostgresStore) GetUserByID(ctx context.Context, id string) (User, error) {
	const op = "identity.GetUserByID"

	row := s.pool.QueryRow(ctx,
		`SELECT id, username, username_norm, display_name, role, created_at, updated_at
		   FROM `+s.users()+`
		  WHERE id = $1`,
		strings.TrimSpace(id),
	)

	var u User
	err := row.Scan(&u.ID, &u.Username, &u.UsernameNorm, &u.DisplayName, &u.Role, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, OpError{Op: op, Kind: ErrNotFound}
	}
	if err != nil {
		return User{}, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

// GetUserAuthByUsername fetches a user plus password hash by case-insensitive
// username.
func (s *PostgresStore) GetUserAuthByUsername(ctx context.Context, username string) (UserAuth, error) {
	const op = "identity.GetUserAuthByUsername"

	row := s.pool.QueryRow(ctx,
		`SELECT id, username, username_norm, display_name, role, password_hash, created_at, updated_at
		   FROM `+s.users()+`
		  WHERE username_norm = $1`,
		NormalizeUsername(username),
	)

	var ua UserAuth
	err := row.Scan(
		&ua.User.ID, &ua.User.Username, &ua.User.UsernameNorm, &ua.User.DisplayName,
		&ua.User.Role, &ua.PasswordHash, &ua.User.CreatedAt, &ua.User.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return UserAuth{}, OpError{Op: op, Kind: ErrNotFound}
	}
	if err != nil {
		return UserAuth{}, fmt.Errorf("%s: %w", op, err)
	}
	return ua, nil
}

// SearchUsers matches the normalized username by substring, ordered by
// normalized username.
func (s *PostgresStore) SearchUsers(ctx context.Context, query string, limit int) ([]User, error) {
	const op = "identity.SearchUsers"

	needle := NormalizeUsername(query)
	if needle == "" {
		return nil, OpError{Op: op, Kind: ErrInvalidInput, Msg: "query is required"}
	}
	limit = clampSearchLimit(limit)

	rows, err := s.pool.Query(ctx,
		`SELECT id, username, username_norm, display_name, role, created_at, updated_at
		   FROM `+s.users()+`
		  WHERE username_norm LIKE '%' || $1 || '%'
		  ORDER BY username_norm
		  LIMIT $2`,
		escapeLike(needle), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Username, &u.UsernameNorm, &u.DisplayName, &u.Role, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

// UpdateDisplayName sets or clears a user's display name.
func (s *PostgresStore) UpdateDisplayName(ctx context.Context, id string, displayName *string, now time.Time) (User, error) {
	const op = "identity.UpdateDisplayName"

	if now.IsZero() {
		now = time.Now().UTC()
	}
	if displayName != nil {
		v := strings.TrimSpace(*displayName)
		if v == "" {
			return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "display name must not be blank"}
		}
		displayName = &v
	}

	row := s.pool.QueryRow(ctx,
		`UPDATE `+s.users()+`
		    SET display_name = $2, updated_at = $3
		  WHERE id = $1
		  RETURNING id, username, username_norm, display_name, role, created_at, updated_at`,
		strings.TrimSpace(id), displayName, now,
	)

	var u User
	err := row.Scan(&u.ID, &u.Username, &u.UsernameNorm, &u.DisplayName, &u.Role, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, OpError{Op: op, Kind: ErrNotFound}
	}
	if err != nil {
		return User{}, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

// escapeLike neutralizes LIKE metacharacters in user-supplied search input.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

var _ Store = (*PostgresStore)(nil)
