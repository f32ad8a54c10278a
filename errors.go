package authcore

import (
	"errors"
	"fmt"
	"time"

	"github.com/rankwatch/authcore/ratelimit"
)

// Sentinel errors returned by the engine. Callers are expected to branch
// with errors.Is / errors.As; the string form is not part of the contract.
// ReasonCode maps any of these to a stable machine-readable code.
var (
	// ErrTokenMalformed covers every structurally bad access or refresh
	// token: wrong segment count, bad signature, unknown signing key,
	// undecodable payload.
	ErrTokenMalformed = errors.New("token malformed")
	// ErrTokenExpired is returned for an otherwise valid access token whose
	// lifetime has passed. Expiry is deliberately distinct from malformed so
	// clients know a refresh is worth attempting.
	ErrTokenExpired = errors.New("token expired")

	// ErrSessionRevoked means the token was valid but its backing session is
	// gone: revoked, evicted, expired server-side, or destroyed after a
	// replay. The client must re-authenticate.
	ErrSessionRevoked = errors.New("session revoked")
	// ErrSessionNotFound is returned by introspection calls for an unknown
	// session ID.
	ErrSessionNotFound = errors.New("session not found")
	// ErrFingerprintMismatch means the request's device fingerprint did not
	// match the one captured at login. The session is destroyed before this
	// is returned.
	ErrFingerprintMismatch = errors.New("device fingerprint mismatch")

	// ErrRateLimited is the lineage for every budget rejection. Concrete
	// failures are *RateLimitError values carrying scope and retry hint.
	ErrRateLimited = errors.New("rate limited")
	// ErrLocked is the lineage for account lockout rejections. Concrete
	// failures are *LockoutError values carrying tier and retry hint.
	ErrLocked = errors.New("account locked")

	// ErrStoreUnavailable is returned when a decision that must fail closed
	// (session checks, lockout bookkeeping, credential lookups) cannot reach
	// its backing store.
	ErrStoreUnavailable = errors.New("backing store unavailable")
)

// ErrRefreshReuse signals that an already-rotated refresh token was presented
// again, the canonical token-theft indicator. Every session belonging to the
// identity is destroyed before this is returned. It also matches
// ErrSessionRevoked, since that is what the caller has to act on.
var ErrRefreshReuse = fmt.Errorf("%w: refresh token replay detected", ErrSessionRevoked)

// Credential and account errors.
var (
	// ErrInvalidCredentials covers unknown email and wrong password alike so
	// responses cannot be used to probe for registered addresses.
	ErrInvalidCredentials   = errors.New("invalid credentials")
	ErrIdentityNotFound     = errors.New("identity not found")
	ErrEmailInvalid         = errors.New("email address invalid")
	ErrDuplicateEmail       = errors.New("email already registered")
	ErrAccountDisabled      = errors.New("account disabled")
	ErrEmailUnverified      = errors.New("email not verified")
	ErrEmailAlreadyVerified = errors.New("email already verified")
	ErrRegistrationDisabled = errors.New("registration disabled")
)

// Two-factor errors.
var (
	// ErrTwoFactorRequired is returned by Login when the identity has
	// two-factor enabled; the LoginResult carries the challenge ID to
	// complete instead of tokens.
	ErrTwoFactorRequired        = errors.New("two-factor code required")
	ErrTwoFactorDisabled        = errors.New("two-factor disabled")
	ErrTwoFactorInvalid         = errors.New("two-factor code invalid")
	ErrTwoFactorNotEnrolled     = errors.New("two-factor not enrolled")
	ErrTwoFactorAlreadyEnrolled = errors.New("two-factor already enrolled")
	ErrBackupCodeInvalid        = errors.New("backup code invalid")
)

// Two-factor login challenge errors.
var (
	ErrChallengeInvalid          = errors.New("login challenge invalid")
	ErrChallengeExpired          = errors.New("login challenge expired")
	ErrChallengeAttemptsExceeded = errors.New("login challenge attempts exceeded")
)

// Password lifecycle errors.
var (
	ErrPasswordPolicy        = errors.New("password policy violation")
	ErrPasswordReuse         = errors.New("new password must differ from the current password")
	ErrResetDisabled         = errors.New("password reset disabled")
	ErrResetInvalid          = errors.New("password reset token invalid")
	ErrResetAttemptsExceeded = errors.New("password reset attempts exceeded")
	ErrVerificationDisabled  = errors.New("email verification disabled")
	ErrVerificationInvalid   = errors.New("email verification token invalid")
)

// ErrEngineNotReady is returned by every operation on an engine that was not
// produced by a successful Build.
var ErrEngineNotReady = errors.New("engine not initialized")

// RateLimitError reports which budget rejected the request and how long the
// caller should wait. errors.Is(err, ErrRateLimited) holds for every value.
type RateLimitError struct {
	Scope      ratelimit.Scope
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited on %s, retry after %s", e.Scope, e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// LockoutError reports the lockout tier that rejected an authentication
// attempt and the remaining lock duration. errors.Is(err, ErrLocked) holds
// for every value; Reason is one of the lockout reason codes
// ("account_soft_locked", "account_hard_locked").
type LockoutError struct {
	Reason     string
	RetryAfter time.Duration
}

func (e *LockoutError) Error() string {
	return fmt.Sprintf("account locked (%s), retry after %s", e.Reason, e.RetryAfter)
}

func (e *LockoutError) Unwrap() error { return ErrLocked }

// RetryAfter extracts the wait hint carried by rate-limit and lockout
// errors. The second return is false when err carries no hint.
func RetryAfter(err error) (time.Duration, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl.RetryAfter, true
	}
	var lo *LockoutError
	if errors.As(err, &lo) {
		return lo.RetryAfter, true
	}
	return 0, false
}

// ReasonCode maps an engine error to a stable machine-readable code suitable
// for API payloads, logs and audit records. Unknown errors map to
// "internal"; nil maps to the empty string.
func ReasonCode(err error) string {
	if err == nil {
		return ""
	}
	var lo *LockoutError
	if errors.As(err, &lo) && lo.Reason != "" {
		return lo.Reason
	}
	switch {
	case errors.Is(err, ErrRefreshReuse):
		return "refresh_reuse"
	case errors.Is(err, ErrFingerprintMismatch):
		return "fingerprint_mismatch"
	case errors.Is(err, ErrTokenExpired):
		return "token_expired"
	case errors.Is(err, ErrTokenMalformed):
		return "token_malformed"
	case errors.Is(err, ErrSessionRevoked):
		return "session_revoked"
	case errors.Is(err, ErrSessionNotFound):
		return "session_not_found"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrLocked):
		return "locked"
	case errors.Is(err, ErrStoreUnavailable):
		return "store_unavailable"
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, ErrIdentityNotFound):
		return "identity_not_found"
	case errors.Is(err, ErrEmailInvalid):
		return "email_invalid"
	case errors.Is(err, ErrDuplicateEmail):
		return "duplicate_email"
	case errors.Is(err, ErrAccountDisabled):
		return "account_disabled"
	case errors.Is(err, ErrEmailUnverified):
		return "email_unverified"
	case errors.Is(err, ErrEmailAlreadyVerified):
		return "email_already_verified"
	case errors.Is(err, ErrRegistrationDisabled):
		return "registration_disabled"
	case errors.Is(err, ErrTwoFactorRequired):
		return "two_factor_required"
	case errors.Is(err, ErrTwoFactorDisabled):
		return "two_factor_disabled"
	case errors.Is(err, ErrTwoFactorInvalid):
		return "two_factor_invalid"
	case errors.Is(err, ErrTwoFactorNotEnrolled):
		return "two_factor_not_enrolled"
	case errors.Is(err, ErrTwoFactorAlreadyEnrolled):
		return "two_factor_already_enrolled"
	case errors.Is(err, ErrBackupCodeInvalid):
		return "backup_code_invalid"
	case errors.Is(err, ErrChallengeExpired):
		return "challenge_expired"
	case errors.Is(err, ErrChallengeAttemptsExceeded):
		return "challenge_attempts_exceeded"
	case errors.Is(err, ErrChallengeInvalid):
		return "challenge_invalid"
	case errors.Is(err, ErrPasswordPolicy):
		return "password_policy"
	case errors.Is(err, ErrPasswordReuse):
		return "password_reuse"
	case errors.Is(err, ErrResetDisabled):
		return "reset_disabled"
	case errors.Is(err, ErrResetAttemptsExceeded):
		return "reset_attempts_exceeded"
	case errors.Is(err, ErrResetInvalid):
		return "reset_invalid"
	case errors.Is(err, ErrVerificationDisabled):
		return "verification_disabled"
	case errors.Is(err, ErrVerificationInvalid):
		return "verification_invalid"
	case errors.Is(err, ErrEngineNotReady):
		return "engine_not_ready"
	default:
		return "internal"
	}
}
