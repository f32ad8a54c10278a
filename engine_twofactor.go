package authcore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rankwatch/authcore/ratelimit"
	"github.com/rankwatch/authcore/twofactor"
)

// BeginTwoFactorEnrollment provisions a TOTP secret plus backup codes for an
// identity and returns the bundle shown to the user exactly once. Nothing is
// enforced at login until ConfirmTwoFactorEnrollment proves the
// authenticator produces valid codes. Re-running enrollment replaces a
// pending secret; a confirmed enrollment must be disabled first.
func (e *Engine) BeginTwoFactorEnrollment(ctx context.Context, identityID string) (*TwoFactorEnrollment, error) {
	if e == nil || e.credentials == nil {
		return nil, ErrEngineNotReady
	}
	if !e.config.TwoFactor.Enabled {
		return nil, ErrTwoFactorDisabled
	}

	identity, err := e.findIdentityForTwoFactor(ctx, identityID)
	if err != nil {
		return nil, err
	}
	tenantID := twoFactorTenant(ctx, identity)

	record, err := e.credentials.GetTwoFactor(ctx, identityID)
	switch {
	case err == nil && record != nil && record.Confirmed:
		return nil, ErrTwoFactorAlreadyEnrolled
	case err != nil && !errors.Is(err, ErrTwoFactorNotEnrolled):
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	bundle, err := twofactor.Generate(e.config.TwoFactor.Issuer, identity.Email)
	if err != nil {
		return nil, err
	}

	hashes := make([][32]byte, len(bundle.BackupCodes))
	for i, code := range bundle.BackupCodes {
		hashes[i] = twofactor.HashBackupCode(code)
	}

	if err := e.credentials.EnableTwoFactor(ctx, identityID, bundle.Secret, hashes); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.emitAudit(ctx, auditEventTwoFactorSetupRequested, true, identityID, tenantID, "", nil, nil)
	return &TwoFactorEnrollment{
		Secret:          bundle.Secret,
		ProvisioningURI: bundle.ProvisioningURI,
		BackupCodes:     bundle.BackupCodes,
	}, nil
}

// ConfirmTwoFactorEnrollment turns a pending enrollment on after the user
// proves possession with a live TOTP code. From here Login demands a second
// factor, so every session is revoked: anything still signed in predates the
// stronger credential.
func (e *Engine) ConfirmTwoFactorEnrollment(ctx context.Context, identityID, code string) error {
	if e == nil || e.credentials == nil {
		return ErrEngineNotReady
	}
	if !e.config.TwoFactor.Enabled {
		return ErrTwoFactorDisabled
	}

	identity, err := e.findIdentityForTwoFactor(ctx, identityID)
	if err != nil {
		return err
	}
	tenantID := twoFactorTenant(ctx, identity)

	record, err := e.credentials.GetTwoFactor(ctx, identityID)
	if err != nil {
		if errors.Is(err, ErrTwoFactorNotEnrolled) {
			return ErrTwoFactorNotEnrolled
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if record == nil || record.Secret == "" {
		return ErrTwoFactorNotEnrolled
	}
	if record.Confirmed {
		return ErrTwoFactorAlreadyEnrolled
	}

	if !twofactor.VerifyTOTP(record.Secret, code, time.Now()) {
		e.metricInc(MetricTwoFactorFailure)
		e.emitAudit(ctx, auditEventTwoFactorFailure, false, identityID, tenantID, "", ErrTwoFactorInvalid, detailMeta("enrollment_confirm"))
		return ErrTwoFactorInvalid
	}

	if err := e.credentials.ConfirmTwoFactor(ctx, identityID); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if err := e.revokeAllSessions(ctx, tenantID, identityID); err != nil {
		e.emitAudit(ctx, auditEventTwoFactorEnabled, false, identityID, tenantID, "", err, detailMeta("session_revocation_failed"))
		return err
	}

	e.metricInc(MetricTwoFactorEnabled)
	e.emitAudit(ctx, auditEventTwoFactorEnabled, true, identityID, tenantID, "", nil, nil)
	return nil
}

// DisableTwoFactor turns a confirmed enrollment off. The caller must present
// a currently valid second factor (TOTP or a remaining backup code); knowing
// the password alone must not be enough to strip the account back down to
// one factor. All sessions are revoked on success.
func (e *Engine) DisableTwoFactor(ctx context.Context, identityID, code string) error {
	if e == nil || e.credentials == nil {
		return ErrEngineNotReady
	}
	if !e.config.TwoFactor.Enabled {
		return ErrTwoFactorDisabled
	}

	tenantID := tenantIDFromContext(ctx)
	if err := e.consumeBudget(ctx, ratelimit.ScopeTwoFactor, tenantID, identityID); err != nil {
		return err
	}

	identity, err := e.findIdentityForTwoFactor(ctx, identityID)
	if err != nil {
		return err
	}
	tenantID = twoFactorTenant(ctx, identity)

	valid, usedBackup, err := e.verifySecondFactor(ctx, identity, code)
	if err != nil {
		return err
	}
	if !valid {
		e.metricInc(MetricTwoFactorFailure)
		e.emitAudit(ctx, auditEventTwoFactorFailure, false, identityID, tenantID, "", ErrTwoFactorInvalid, detailMeta("disable"))
		return ErrTwoFactorInvalid
	}
	if usedBackup {
		e.metricInc(MetricBackupCodeUsed)
		e.emitAudit(ctx, auditEventBackupCodeUsed, true, identityID, tenantID, "", nil, detailMeta("disable"))
	}

	if err := e.credentials.DisableTwoFactor(ctx, identityID); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if err := e.revokeAllSessions(ctx, tenantID, identityID); err != nil {
		e.emitAudit(ctx, auditEventTwoFactorDisabled, false, identityID, tenantID, "", err, detailMeta("session_revocation_failed"))
		return err
	}

	e.metricInc(MetricTwoFactorDisabled)
	e.emitAudit(ctx, auditEventTwoFactorDisabled, true, identityID, tenantID, "", nil, nil)
	return nil
}

// RegenerateBackupCodes replaces the identity's remaining backup codes with
// a fresh set and returns the plaintext once. A live TOTP code is required;
// a backup code cannot mint more backup codes.
func (e *Engine) RegenerateBackupCodes(ctx context.Context, identityID, totpCode string) ([]string, error) {
	if e == nil || e.credentials == nil {
		return nil, ErrEngineNotReady
	}
	if !e.config.TwoFactor.Enabled {
		return nil, ErrTwoFactorDisabled
	}

	tenantID := tenantIDFromContext(ctx)
	if err := e.consumeBudget(ctx, ratelimit.ScopeTwoFactor, tenantID, identityID); err != nil {
		return nil, err
	}

	identity, err := e.findIdentityForTwoFactor(ctx, identityID)
	if err != nil {
		return nil, err
	}
	tenantID = twoFactorTenant(ctx, identity)

	record, err := e.credentials.GetTwoFactor(ctx, identityID)
	if err != nil {
		if errors.Is(err, ErrTwoFactorNotEnrolled) {
			return nil, ErrTwoFactorNotEnrolled
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if record == nil || !record.Enabled || !record.Confirmed || record.Secret == "" {
		return nil, ErrTwoFactorNotEnrolled
	}

	if !twofactor.VerifyTOTP(record.Secret, totpCode, time.Now()) {
		e.metricInc(MetricTwoFactorFailure)
		e.emitAudit(ctx, auditEventTwoFactorFailure, false, identityID, tenantID, "", ErrTwoFactorInvalid, detailMeta("backup_code_regeneration"))
		return nil, ErrTwoFactorInvalid
	}

	codes, err := twofactor.NewBackupCodes()
	if err != nil {
		return nil, err
	}
	hashes := make([][32]byte, len(codes))
	for i, code := range codes {
		hashes[i] = twofactor.HashBackupCode(code)
	}

	if err := e.credentials.ReplaceBackupCodes(ctx, identityID, hashes); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.metricInc(MetricBackupCodeRegenerated)
	e.emitAudit(ctx, auditEventBackupCodesGenerated, true, identityID, tenantID, "", nil, nil)
	return codes, nil
}

// findIdentityForTwoFactor is the shared head of the enrollment operations:
// resolve the identity, refuse disabled accounts.
func (e *Engine) findIdentityForTwoFactor(ctx context.Context, identityID string) (*IdentityRecord, error) {
	if identityID == "" {
		return nil, ErrIdentityNotFound
	}

	identity, err := e.credentials.FindByID(ctx, identityID)
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			return nil, ErrIdentityNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if identity.Status == StatusDisabled {
		return nil, ErrAccountDisabled
	}
	return identity, nil
}

func twoFactorTenant(ctx context.Context, identity *IdentityRecord) string {
	if identity.TenantID != "" {
		return identity.TenantID
	}
	return tenantIDFromContext(ctx)
}
