package authcore

import (
	"context"
	"time"
)

// AccountStatus is the lifecycle state of an identity.
type AccountStatus uint8

const (
	StatusActive AccountStatus = iota
	StatusPendingVerification
	StatusDisabled
)

func (s AccountStatus) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusPendingVerification:
		return "pending_verification"
	case StatusDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}

// IdentityRecord is the account row the engine reads and writes through a
// CredentialStore. FailedAttempts and LockedUntil are the durable lockout
// columns; they survive cache loss so locks cannot be shaken off by
// flushing Redis.
type IdentityRecord struct {
	ID               string
	TenantID         string
	Email            string
	PasswordHash     string
	Status           AccountStatus
	EmailVerified    bool
	TwoFactorEnabled bool
	FailedAttempts   int
	LockedUntil      time.Time
	CreatedAt        time.Time
	LastLoginAt      time.Time
}

// TwoFactorRecord is an identity's TOTP enrollment state. Secret is the
// base32 shared secret. Enabled means a secret has been provisioned;
// Confirmed means the user has proven possession with a valid code, which
// is when the login gate starts applying.
type TwoFactorRecord struct {
	Secret    string
	Enabled   bool
	Confirmed bool
}

// CredentialStore is the persistence interface integrators implement to
// connect the engine to their identity database. Implementations must map
// their own not-found and uniqueness conditions onto the package sentinels:
// FindByEmail and FindByID return ErrIdentityNotFound for unknown rows, and
// CreateIdentity returns ErrDuplicateEmail when the (tenant, email) pair
// already exists. Any other failure is treated as store unavailability and
// fails closed.
//
// MarkEmailVerified sets EmailVerified and moves a StatusPendingVerification
// identity to StatusActive in the same write.
//
// GetTwoFactor returns ErrTwoFactorNotEnrolled when the identity has no
// enrollment record. EnableTwoFactor stores a pending secret plus backup
// code hashes, replacing any unconfirmed enrollment. ConfirmTwoFactor marks
// the enrollment confirmed and sets the identity's TwoFactorEnabled flag in
// the same write; DisableTwoFactor clears the record, the backup codes and
// the flag.
//
// ConsumeBackupCode must be atomic: when two requests race on the same
// code, exactly one sees true. The providers/postgres implementation does
// this with a conditional DELETE.
type CredentialStore interface {
	FindByEmail(ctx context.Context, tenantID, email string) (*IdentityRecord, error)
	FindByID(ctx context.Context, identityID string) (*IdentityRecord, error)
	CreateIdentity(ctx context.Context, identity *IdentityRecord) error
	UpdatePasswordHash(ctx context.Context, identityID, passwordHash string) error
	UpdateLockoutState(ctx context.Context, identityID string, failedAttempts int, lockedUntil time.Time) error
	UpdateLastLogin(ctx context.Context, identityID string, at time.Time) error
	MarkEmailVerified(ctx context.Context, identityID string) error

	GetTwoFactor(ctx context.Context, identityID string) (*TwoFactorRecord, error)
	EnableTwoFactor(ctx context.Context, identityID, secret string, backupCodeHashes [][32]byte) error
	ConfirmTwoFactor(ctx context.Context, identityID string) error
	DisableTwoFactor(ctx context.Context, identityID string) error
	ReplaceBackupCodes(ctx context.Context, identityID string, backupCodeHashes [][32]byte) error
	ConsumeBackupCode(ctx context.Context, identityID string, codeHash [32]byte) (bool, error)
}

// LoginResult is returned by Login and CompleteTwoFactorLogin. When the
// identity has two-factor enabled, Login sets TwoFactorRequired and
// ChallengeID instead of tokens; no session exists until the challenge is
// completed.
type LoginResult struct {
	AccessToken  string
	RefreshToken string

	TwoFactorRequired bool
	ChallengeID       string

	IdentityID string
}

// TokenPair is the rotated access+refresh pair returned by Refresh.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// AuthContext is the outcome of a successful Authenticate call: the
// verified caller plus the risk score computed from how much the request's
// environment drifted from the one captured at login (0 = identical).
type AuthContext struct {
	IdentityID string
	TenantID   string
	SessionID  string
	RiskScore  int
}

// RegisterResult is returned by Register. VerificationToken is set when
// email verification is enabled; the caller delivers it out of band.
// AccessToken/RefreshToken are set only when auto-login applies.
type RegisterResult struct {
	IdentityID        string
	VerificationToken string
	AccessToken       string
	RefreshToken      string
}

// TwoFactorEnrollment is returned by BeginTwoFactorEnrollment. BackupCodes
// are the only plaintext copy that will ever exist; the store keeps hashes.
type TwoFactorEnrollment struct {
	Secret          string
	ProvisioningURI string
	BackupCodes     []string
}

// SessionInfo is the read-only session view returned by ListSessions.
// Refresh hashes and fingerprints are deliberately absent.
type SessionInfo struct {
	SessionID  string
	IP         string
	UserAgent  string
	CreatedAt  time.Time
	LastSeenAt time.Time
	ExpiresAt  time.Time
}

// HealthStatus reports the engine's view of its backing stores.
// CounterFallbacks counts rate-limit decisions served by the in-memory
// fallback since start; AuditDropped counts audit events discarded because
// the dispatcher queue was full.
type HealthStatus struct {
	RedisAvailable   bool
	RedisLatency     time.Duration
	CounterFallbacks uint64
	AuditDropped     uint64
}
