package authcore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rankwatch/authcore/ratelimit"
	"github.com/rankwatch/authcore/twofactor"
)

// CompleteTwoFactorLogin finishes a login parked behind a two-factor
// challenge. code may be a TOTP or a backup code; backup codes are consumed
// on use. Wrong codes burn one of the challenge's bounded attempts, and
// exhausting them voids the challenge, sending the caller back to the
// password step. The challenge is deleted before tokens are issued so it can
// never be completed twice.
func (e *Engine) CompleteTwoFactorLogin(ctx context.Context, challengeID, code string) (*LoginResult, error) {
	if e == nil || e.challenges == nil || e.credentials == nil {
		return nil, ErrEngineNotReady
	}
	if challengeID == "" {
		return nil, ErrChallengeInvalid
	}

	record, err := e.challenges.Get(ctx, challengeID)
	if err != nil {
		if errors.Is(err, ErrChallengeInvalid) || errors.Is(err, ErrChallengeExpired) {
			e.metricInc(MetricTwoFactorFailure)
			e.emitAudit(ctx, auditEventTwoFactorFailure, false, "", "", "", err, nil)
		}
		return nil, err
	}

	tenantID := record.TenantID
	if normalizeTenant(tenantIDFromContext(ctx)) != tenantID {
		// A challenge never crosses tenants; treat the mismatch exactly like
		// an unknown challenge.
		e.metricInc(MetricTwoFactorFailure)
		e.emitAudit(ctx, auditEventTwoFactorFailure, false, record.IdentityID, tenantID, "", ErrChallengeInvalid, nil)
		return nil, ErrChallengeInvalid
	}

	identity, err := e.credentials.FindByID(ctx, record.IdentityID)
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			_, _ = e.challenges.Delete(ctx, challengeID)
			return nil, ErrChallengeInvalid
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if identity.Status == StatusDisabled {
		_, _ = e.challenges.Delete(ctx, challengeID)
		e.emitAudit(ctx, auditEventLoginFailure, false, identity.ID, tenantID, "", ErrAccountDisabled, nil)
		return nil, ErrAccountDisabled
	}

	valid, usedBackup, err := e.verifySecondFactor(ctx, identity, code)
	if err != nil {
		return nil, err
	}
	if !valid {
		return nil, e.recordChallengeFailure(ctx, tenantID, challengeID, identity)
	}

	deleted, err := e.challenges.Delete(ctx, challengeID)
	if err != nil {
		return nil, err
	}
	if !deleted {
		// A concurrent completion already spent this challenge. The second
		// winner gets nothing.
		e.metricInc(MetricChallengeReplay)
		e.emitAudit(ctx, auditEventTwoFactorReplay, false, identity.ID, tenantID, "", ErrChallengeInvalid, nil)
		return nil, ErrChallengeInvalid
	}

	if usedBackup {
		e.metricInc(MetricBackupCodeUsed)
		e.emitAudit(ctx, auditEventBackupCodeUsed, true, identity.ID, tenantID, "", nil, nil)
	}
	e.metricInc(MetricTwoFactorSuccess)
	e.emitAudit(ctx, auditEventTwoFactorSuccess, true, identity.ID, tenantID, "", nil, nil)

	return e.finishLogin(ctx, tenantID, identity.Email, identity)
}

// recordChallengeFailure burns one challenge attempt and reports whether the
// cap was reached.
func (e *Engine) recordChallengeFailure(ctx context.Context, tenantID, challengeID string, identity *IdentityRecord) error {
	exceeded, err := e.challenges.RecordFailure(ctx, challengeID, e.config.TwoFactor.ChallengeMaxAttempts)
	if err != nil {
		return err
	}
	if exceeded {
		e.metricInc(MetricTwoFactorFailure)
		e.emitAudit(ctx, auditEventTwoFactorAttemptsExceeded, false, identity.ID, tenantID, "", ErrChallengeAttemptsExceeded, nil)
		return ErrChallengeAttemptsExceeded
	}

	e.metricInc(MetricTwoFactorFailure)
	e.emitAudit(ctx, auditEventTwoFactorFailure, false, identity.ID, tenantID, "", ErrTwoFactorInvalid, nil)
	return ErrTwoFactorInvalid
}

// Challenge2FA verifies a second factor outside the login flow, for step-up
// checks in front of sensitive operations. A wrong code is (false, nil), not
// an error; backup codes are consumed even here.
func (e *Engine) Challenge2FA(ctx context.Context, identityID, code string) (bool, error) {
	if e == nil || e.credentials == nil {
		return false, ErrEngineNotReady
	}
	if !e.config.TwoFactor.Enabled {
		return false, ErrTwoFactorDisabled
	}

	tenantID := tenantIDFromContext(ctx)
	if err := e.consumeBudget(ctx, ratelimit.ScopeTwoFactor, tenantID, identityID); err != nil {
		return false, err
	}

	identity, err := e.credentials.FindByID(ctx, identityID)
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			return false, ErrIdentityNotFound
		}
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	valid, usedBackup, err := e.verifySecondFactor(ctx, identity, code)
	if err != nil {
		return false, err
	}
	if !valid {
		e.metricInc(MetricTwoFactorFailure)
		e.emitAudit(ctx, auditEventTwoFactorFailure, false, identityID, tenantID, "", ErrTwoFactorInvalid, nil)
		return false, nil
	}

	if usedBackup {
		e.metricInc(MetricBackupCodeUsed)
		e.emitAudit(ctx, auditEventBackupCodeUsed, true, identityID, tenantID, "", nil, nil)
	}
	e.metricInc(MetricTwoFactorSuccess)
	e.emitAudit(ctx, auditEventTwoFactorSuccess, true, identityID, tenantID, "", nil, nil)
	return true, nil
}

// verifySecondFactor checks code first as a TOTP, then as a backup code.
// Only confirmed enrollments count; a provisioned-but-unconfirmed secret is
// not a second factor yet.
func (e *Engine) verifySecondFactor(ctx context.Context, identity *IdentityRecord, code string) (valid, usedBackup bool, err error) {
	record, err := e.credentials.GetTwoFactor(ctx, identity.ID)
	if err != nil {
		if errors.Is(err, ErrTwoFactorNotEnrolled) {
			return false, false, ErrTwoFactorNotEnrolled
		}
		return false, false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if record == nil || !record.Enabled || !record.Confirmed || record.Secret == "" {
		return false, false, ErrTwoFactorNotEnrolled
	}

	code = strings.TrimSpace(code)
	if code == "" {
		return false, false, nil
	}

	if twofactor.VerifyTOTP(record.Secret, code, time.Now()) {
		return true, false, nil
	}

	consumed, err := e.credentials.ConsumeBackupCode(ctx, identity.ID, twofactor.HashBackupCode(code))
	if err != nil {
		return false, false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if consumed {
		return true, true, nil
	}

	e.metricInc(MetricBackupCodeFailed)
	return false, false, nil
}
