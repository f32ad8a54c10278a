package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rankwatch/authcore"
)

// Store is a CredentialStore backed by a pgx connection pool. It also
// implements ActivityRecorder so the same database keeps the per-account
// activity history.
type Store struct {
	pool *pgxpool.Pool
}

var (
	_ authcore.CredentialStore  = (*Store)(nil)
	_ authcore.ActivityRecorder = (*Store)(nil)
)

// New wraps an existing pool. The pool's lifecycle stays with the caller.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Connect builds a pool from a DSN and verifies connectivity before
// returning it.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return pool, nil
}

// EnsureSchema applies the idempotent DDL in Schema.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("postgres: ensure schema: %w", err)
	}
	return nil
}

const identityColumns = `id, tenant_id, email, password_hash, status, email_verified,
	two_factor_enabled, failed_attempts, locked_until, created_at, last_login_at`

func (s *Store) FindByEmail(ctx context.Context, tenantID, email string) (*authcore.IdentityRecord, error) {
	query := `SELECT ` + identityColumns + `
		FROM authcore_identities
		WHERE tenant_id = $1 AND email = $2`

	return s.scanIdentity(s.pool.QueryRow(ctx, query, tenantID, email))
}

func (s *Store) FindByID(ctx context.Context, identityID string) (*authcore.IdentityRecord, error) {
	query := `SELECT ` + identityColumns + `
		FROM authcore_identities
		WHERE id = $1`

	return s.scanIdentity(s.pool.QueryRow(ctx, query, identityID))
}

func (s *Store) scanIdentity(row pgx.Row) (*authcore.IdentityRecord, error) {
	var (
		rec         authcore.IdentityRecord
		status      int16
		lockedUntil *time.Time
		lastLogin   *time.Time
	)

	err := row.Scan(
		&rec.ID, &rec.TenantID, &rec.Email, &rec.PasswordHash, &status,
		&rec.EmailVerified, &rec.TwoFactorEnabled, &rec.FailedAttempts,
		&lockedUntil, &rec.CreatedAt, &lastLogin,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, authcore.ErrIdentityNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: scan identity: %w", err)
	}

	rec.Status = authcore.AccountStatus(status)
	if lockedUntil != nil {
		rec.LockedUntil = *lockedUntil
	}
	if lastLogin != nil {
		rec.LastLoginAt = *lastLogin
	}
	return &rec, nil
}

func (s *Store) CreateIdentity(ctx context.Context, identity *authcore.IdentityRecord) error {
	query := `INSERT INTO authcore_identities (
			id, tenant_id, email, password_hash, status, email_verified,
			two_factor_enabled, failed_attempts, locked_until, created_at, last_login_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := s.pool.Exec(ctx, query,
		identity.ID, identity.TenantID, identity.Email, identity.PasswordHash,
		int16(identity.Status), identity.EmailVerified, identity.TwoFactorEnabled,
		identity.FailedAttempts, nullableTime(identity.LockedUntil),
		identity.CreatedAt, nullableTime(identity.LastLoginAt),
	)
	if isUniqueViolation(err) {
		return authcore.ErrDuplicateEmail
	}
	if err != nil {
		return fmt.Errorf("postgres: create identity: %w", err)
	}
	return nil
}

func (s *Store) UpdatePasswordHash(ctx context.Context, identityID, passwordHash string) error {
	query := `UPDATE authcore_identities SET password_hash = $2 WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query, identityID, passwordHash)
	if err != nil {
		return fmt.Errorf("postgres: update password hash: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return authcore.ErrIdentityNotFound
	}
	return nil
}

func (s *Store) UpdateLockoutState(ctx context.Context, identityID string, failedAttempts int, lockedUntil time.Time) error {
	query := `UPDATE authcore_identities SET failed_attempts = $2, locked_until = $3 WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query, identityID, failedAttempts, nullableTime(lockedUntil))
	if err != nil {
		return fmt.Errorf("postgres: update lockout state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return authcore.ErrIdentityNotFound
	}
	return nil
}

func (s *Store) UpdateLastLogin(ctx context.Context, identityID string, at time.Time) error {
	query := `UPDATE authcore_identities SET last_login_at = $2 WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query, identityID, at)
	if err != nil {
		return fmt.Errorf("postgres: update last login: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return authcore.ErrIdentityNotFound
	}
	return nil
}

func (s *Store) MarkEmailVerified(ctx context.Context, identityID string) error {
	// Verification activates pending accounts in the same write so there is
	// no window where the email is verified but the account still pending.
	query := `UPDATE authcore_identities
		SET email_verified = TRUE,
		    status = CASE WHEN status = $2 THEN $3 ELSE status END
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query, identityID,
		int16(authcore.StatusPendingVerification), int16(authcore.StatusActive))
	if err != nil {
		return fmt.Errorf("postgres: mark email verified: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return authcore.ErrIdentityNotFound
	}
	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}
