package authcore

import (
	"context"
	"errors"
	"fmt"
)

// ChangePassword rotates an identity's password after proving possession of
// the current one. Success revokes every session the identity holds,
// including the caller's own: outstanding refresh tokens die with them and
// access tokens stop passing Authenticate as soon as their session check
// runs. Setting the same password again is rejected so a stolen-credential
// rotation actually rotates.
func (e *Engine) ChangePassword(ctx context.Context, identityID, oldPassword, newPassword string) error {
	if e == nil || e.credentials == nil || e.passwords == nil {
		return ErrEngineNotReady
	}

	tenantID := tenantIDFromContext(ctx)

	if identityID == "" || oldPassword == "" || newPassword == "" {
		e.metricInc(MetricPasswordChangeFailure)
		e.emitAudit(ctx, auditEventPasswordChangeFailure, false, identityID, tenantID, "", ErrPasswordPolicy, detailMeta("empty_input"))
		return ErrPasswordPolicy
	}

	identity, err := e.credentials.FindByID(ctx, identityID)
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			e.metricInc(MetricPasswordChangeFailure)
			e.emitAudit(ctx, auditEventPasswordChangeFailure, false, identityID, tenantID, "", ErrIdentityNotFound, detailMeta("identity_not_found"))
			return ErrIdentityNotFound
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if identity.TenantID != "" {
		tenantID = identity.TenantID
	}

	if identity.Status == StatusDisabled {
		e.metricInc(MetricPasswordChangeFailure)
		e.emitAudit(ctx, auditEventPasswordChangeFailure, false, identityID, tenantID, "", ErrAccountDisabled, detailMeta("account_disabled"))
		return ErrAccountDisabled
	}

	ok, err := e.passwords.Verify(oldPassword, identity.PasswordHash)
	if err != nil || !ok {
		e.metricInc(MetricPasswordChangeFailure)
		e.emitAudit(ctx, auditEventPasswordChangeFailure, false, identityID, tenantID, "", ErrInvalidCredentials, detailMeta("old_password_mismatch"))
		return ErrInvalidCredentials
	}

	same, err := e.passwords.Verify(newPassword, identity.PasswordHash)
	if err == nil && same {
		e.metricInc(MetricPasswordChangeReuse)
		e.emitAudit(ctx, auditEventPasswordChangeReuse, false, identityID, tenantID, "", ErrPasswordReuse, nil)
		return ErrPasswordReuse
	}

	newHash, err := e.passwords.Hash(newPassword)
	if err != nil {
		e.metricInc(MetricPasswordChangeFailure)
		e.emitAudit(ctx, auditEventPasswordChangeFailure, false, identityID, tenantID, "", ErrPasswordPolicy, detailMeta("password_policy"))
		return ErrPasswordPolicy
	}
	oldPassword = ""
	newPassword = ""

	if err := e.credentials.UpdatePasswordHash(ctx, identityID, newHash); err != nil {
		e.metricInc(MetricPasswordChangeFailure)
		e.emitAudit(ctx, auditEventPasswordChangeFailure, false, identityID, tenantID, "", err, detailMeta("update_hash_failed"))
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if err := e.revokeAllSessions(ctx, tenantID, identityID); err != nil {
		// The password is already rotated; report the failed revocation
		// rather than pretending the change did not happen.
		e.emitAudit(ctx, auditEventPasswordChangeFailure, false, identityID, tenantID, "", err, detailMeta("session_revocation_failed"))
		return err
	}

	e.resetLoginBudgets(ctx, identity.Email, clientIPFromContext(ctx))

	e.metricInc(MetricPasswordChangeSuccess)
	e.emitAudit(ctx, auditEventPasswordChangeSuccess, true, identityID, tenantID, "", nil, nil)
	return nil
}
