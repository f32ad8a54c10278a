package authcore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rankwatch/authcore/lockout"
	"github.com/rankwatch/authcore/ratelimit"
)

// normalizeEmail lowercases and trims the login identifier so limiter keys,
// audit metadata and store lookups agree on one canonical form.
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func loginMeta(identifier, detail string) func() map[string]string {
	return func() map[string]string {
		meta := map[string]string{
			"identifier": identifier,
		}
		if detail != "" {
			meta["detail"] = detail
		}
		return meta
	}
}

// Login authenticates an email/password pair within the caller's tenant.
//
// The pipeline: both login budgets (per-IP and per-email) are consumed before
// any credential work, then account status, lockout state and the password
// are checked in that order. Unknown emails take the same failure path as a
// wrong password. A verified password on a two-factor identity returns a
// pending challenge instead of tokens; otherwise a session is created and the
// token pair returned.
func (e *Engine) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	if e == nil || e.passwords == nil || e.credentials == nil {
		return nil, ErrEngineNotReady
	}

	email = normalizeEmail(email)
	tenantID := tenantIDFromContext(ctx)
	ip := clientIPFromContext(ctx)

	budgets := []struct {
		scope      ratelimit.Scope
		identifier string
	}{
		{ratelimit.ScopeLoginIP, ip},
		{ratelimit.ScopeLoginEmail, email},
	}
	for _, budget := range budgets {
		if err := e.consumeBudget(ctx, budget.scope, tenantID, budget.identifier); err != nil {
			if errors.Is(err, ErrRateLimited) {
				e.metricInc(MetricLoginRateLimited)
				e.emitAudit(ctx, auditEventLoginRateLimited, false, "", tenantID, "", err, loginMeta(email, string(budget.scope)))
			}
			return nil, err
		}
	}

	if email == "" || password == "" {
		return nil, e.failLogin(ctx, tenantID, "", email, "empty_input")
	}

	identity, err := e.credentials.FindByEmail(ctx, tenantID, email)
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			// Unknown email burns the same budgets and returns the same
			// error as a wrong password.
			return nil, e.failLogin(ctx, tenantID, "", email, "identity_not_found")
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if identity.Status == StatusDisabled {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, identity.ID, tenantID, "", ErrAccountDisabled, loginMeta(email, ""))
		return nil, ErrAccountDisabled
	}
	if e.config.EmailVerification.Enabled && e.config.EmailVerification.RequireForLogin && !identity.EmailVerified {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, identity.ID, tenantID, "", ErrEmailUnverified, loginMeta(email, ""))
		return nil, ErrEmailUnverified
	}

	lockStatus, err := e.lockouts.Evaluate(ctx, identity.ID, lockoutStateOf(identity))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if lockStatus.Locked {
		lockErr := &LockoutError{Reason: lockStatus.Reason, RetryAfter: lockStatus.RetryAfter}
		e.metricInc(MetricLoginLocked)
		e.emitAudit(ctx, auditEventLoginFailure, false, identity.ID, tenantID, "", lockErr, loginMeta(email, ""))
		return nil, lockErr
	}

	ok, err := e.passwords.Verify(password, identity.PasswordHash)
	if err != nil || !ok {
		return nil, e.recordLoginFailure(ctx, tenantID, email, identity)
	}

	if e.config.Password.UpgradeOnLogin {
		e.maybeUpgradeHash(ctx, identity, password)
	}
	password = ""

	if _, err := e.lockouts.RecordSuccess(ctx, identity.ID, lockoutStateOf(identity)); err != nil {
		e.logger.Warn("lockout reset failed",
			zap.String("identity_id", identity.ID),
			zap.Error(err),
		)
	}
	e.resetLoginBudgets(ctx, email, ip)

	if e.config.TwoFactor.Enabled && identity.TwoFactorEnabled {
		return e.beginTwoFactorChallenge(ctx, tenantID, email, identity)
	}

	return e.finishLogin(ctx, tenantID, email, identity)
}

// failLogin is the uniform credential-failure path: same metric, same audit
// shape, same error, whether the email was unknown or the password wrong.
func (e *Engine) failLogin(ctx context.Context, tenantID, identityID, email, detail string) error {
	e.metricInc(MetricLoginFailure)
	e.emitAudit(ctx, auditEventLoginFailure, false, identityID, tenantID, "", ErrInvalidCredentials, loginMeta(email, detail))
	return ErrInvalidCredentials
}

// recordLoginFailure advances the lockout ladder for a failed password and
// returns the uniform credential error. Threshold crossings are surfaced as
// their own audit events; the lockout itself only rejects the next attempt.
func (e *Engine) recordLoginFailure(ctx context.Context, tenantID, email string, identity *IdentityRecord) error {
	next, err := e.lockouts.RecordFailure(ctx, identity.ID, lockoutStateOf(identity))
	if err != nil {
		e.logger.Warn("lockout update failed",
			zap.String("identity_id", identity.ID),
			zap.Error(err),
		)
		return e.failLogin(ctx, tenantID, identity.ID, email, "password_mismatch")
	}

	switch next.FailedAttempts {
	case e.config.Lockout.SoftThreshold:
		e.metricInc(MetricLockoutSoft)
		e.emitLockTransition(ctx, tenantID, identity.ID, lockout.ReasonSoftLocked, e.config.Lockout.SoftDuration, next.FailedAttempts)
	case e.config.Lockout.HardThreshold:
		e.metricInc(MetricLockoutHard)
		e.emitLockTransition(ctx, tenantID, identity.ID, lockout.ReasonHardLocked, e.config.Lockout.HardDuration, next.FailedAttempts)
	}

	return e.failLogin(ctx, tenantID, identity.ID, email, "password_mismatch")
}

func (e *Engine) emitLockTransition(ctx context.Context, tenantID, identityID, reason string, duration time.Duration, failedAttempts int) {
	lockErr := &LockoutError{Reason: reason, RetryAfter: duration}
	e.emitAudit(ctx, auditEventAccountLocked, false, identityID, tenantID, "", lockErr, func() map[string]string {
		return map[string]string{
			"failed_attempts": strconv.Itoa(failedAttempts),
			"duration":        duration.String(),
		}
	})
}

// maybeUpgradeHash rehashes the verified password when the stored hash was
// produced with weaker parameters. Best-effort: the login outcome never
// depends on it.
func (e *Engine) maybeUpgradeHash(ctx context.Context, identity *IdentityRecord, password string) {
	needs, err := e.passwords.NeedsUpgrade(identity.PasswordHash)
	if err != nil || !needs {
		return
	}

	upgraded, err := e.passwords.Hash(password)
	if err != nil {
		return
	}

	if err := e.credentials.UpdatePasswordHash(ctx, identity.ID, upgraded); err != nil {
		e.logger.Warn("password rehash persist failed",
			zap.String("identity_id", identity.ID),
			zap.Error(err),
		)
	}
}

// resetLoginBudgets clears both login budgets after a verified password so
// earlier failed attempts stop counting against the caller.
func (e *Engine) resetLoginBudgets(ctx context.Context, email, ip string) {
	if e.limiter == nil {
		return
	}
	if ip != "" {
		if err := e.limiter.Reset(ctx, ratelimit.ScopeLoginIP, ip); err != nil {
			e.logger.Debug("login ip budget reset failed", zap.Error(err))
		}
	}
	if email != "" {
		if err := e.limiter.Reset(ctx, ratelimit.ScopeLoginEmail, email); err != nil {
			e.logger.Debug("login email budget reset failed", zap.Error(err))
		}
	}
}

// beginTwoFactorChallenge parks a password-verified login behind a short
// lived challenge. No session exists yet; CompleteTwoFactorLogin creates it.
func (e *Engine) beginTwoFactorChallenge(ctx context.Context, tenantID, email string, identity *IdentityRecord) (*LoginResult, error) {
	challengeID := uuid.NewString()
	ttl := e.config.TwoFactor.ChallengeTTL

	record := &twoFactorChallenge{
		IdentityID: identity.ID,
		TenantID:   normalizeTenant(tenantID),
		ExpiresAt:  time.Now().Add(ttl).Unix(),
	}
	if err := e.challenges.Save(ctx, challengeID, record, ttl); err != nil {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, identity.ID, tenantID, "", err, loginMeta(email, "challenge_save_failed"))
		return nil, err
	}

	e.metricInc(MetricTwoFactorRequired)
	e.emitAudit(ctx, auditEventTwoFactorRequired, false, identity.ID, tenantID, "", ErrTwoFactorRequired, loginMeta(email, ""))

	return &LoginResult{
		TwoFactorRequired: true,
		ChallengeID:       challengeID,
		IdentityID:        identity.ID,
	}, nil
}

// finishLogin creates the session, issues the token pair and stamps
// last-login.
func (e *Engine) finishLogin(ctx context.Context, tenantID, email string, identity *IdentityRecord) (*LoginResult, error) {
	access, refresh, sessionID, err := e.establishSession(ctx, identity, tenantID)
	if err != nil {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, identity.ID, tenantID, "", err, loginMeta(email, "session_create_failed"))
		return nil, err
	}

	if err := e.credentials.UpdateLastLogin(ctx, identity.ID, time.Now()); err != nil {
		e.logger.Warn("last-login update failed",
			zap.String("identity_id", identity.ID),
			zap.Error(err),
		)
	}

	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, identity.ID, tenantID, sessionID, nil, loginMeta(email, ""))

	return &LoginResult{
		AccessToken:  access,
		RefreshToken: refresh,
		IdentityID:   identity.ID,
	}, nil
}
