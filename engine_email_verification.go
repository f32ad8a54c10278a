package authcore

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/rankwatch/authcore/internal"
	"github.com/rankwatch/authcore/ratelimit"
)

// RequestEmailVerification mints a fresh verification token for an
// unverified identity, replacing the one issued at registration if it
// expired unused. Unknown and disabled addresses receive a decoy token after
// the enumeration delay; an address that is already verified is told so
// outright, since the caller held that address to begin with.
func (e *Engine) RequestEmailVerification(ctx context.Context, email string) (string, error) {
	if e == nil || e.credentials == nil || e.verifications == nil {
		return "", ErrEngineNotReady
	}
	if !e.config.EmailVerification.Enabled {
		return "", ErrVerificationDisabled
	}

	email = normalizeEmail(email)
	tenantID := tenantIDFromContext(ctx)

	if err := e.consumeBudget(ctx, ratelimit.ScopeEmailVerify, tenantID, email); err != nil {
		if errors.Is(err, ErrRateLimited) {
			e.emitAudit(ctx, auditEventEmailVerificationRequest, false, "", tenantID, "", err, loginMeta(email, ""))
		}
		return "", err
	}

	if email == "" {
		e.metricInc(MetricEmailVerifyFailure)
		e.emitAudit(ctx, auditEventEmailVerificationRequest, false, "", tenantID, "", ErrVerificationInvalid, detailMeta("empty_email"))
		return "", ErrVerificationInvalid
	}

	identity, err := e.credentials.FindByEmail(ctx, tenantID, email)
	if err != nil || identity.Status == StatusDisabled {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", err
		}
		return e.decoyVerificationToken(ctx, tenantID, email)
	}

	if identity.EmailVerified {
		e.emitAudit(ctx, auditEventEmailVerificationRequest, false, identity.ID, tenantID, "", ErrEmailAlreadyVerified, loginMeta(email, ""))
		return "", ErrEmailAlreadyVerified
	}

	effectiveTenant := tenantID
	if identity.TenantID != "" {
		effectiveTenant = identity.TenantID
	}

	token, err := e.issueVerificationToken(ctx, effectiveTenant, identity.ID)
	if err != nil {
		e.metricInc(MetricEmailVerifyFailure)
		e.emitAudit(ctx, auditEventEmailVerificationRequest, false, identity.ID, effectiveTenant, "", err, loginMeta(email, "store_save_failed"))
		return "", err
	}

	e.metricInc(MetricEmailVerifyRequest)
	e.emitAudit(ctx, auditEventEmailVerificationRequest, true, identity.ID, effectiveTenant, "", nil, loginMeta(email, ""))
	return token, nil
}

// decoyVerificationToken mirrors decoyResetToken for the verification flow.
func (e *Engine) decoyVerificationToken(ctx context.Context, tenantID, email string) (string, error) {
	if err := sleepEnumerationDelay(ctx); err != nil {
		return "", err
	}

	secret, err := internal.NewChallengeSecret()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.metricInc(MetricEmailVerifyRequest)
	e.emitAudit(ctx, auditEventEmailVerificationRequest, true, "", tenantID, "", nil, func() map[string]string {
		return map[string]string{
			"identifier":       email,
			"enumeration_safe": "true",
		}
	})
	return internal.EncodeChallengeToken(uuid.New(), secret), nil
}

// ConfirmEmailVerification redeems a verification token and marks the
// identity's address verified, activating a pending identity. Confirming
// with a stale token after the address is already verified succeeds; the
// caller's goal state holds either way. Every token-shaped failure maps to
// ErrVerificationInvalid so the response does not separate expired, wrong
// and never-issued tokens.
func (e *Engine) ConfirmEmailVerification(ctx context.Context, token string) error {
	if e == nil || e.credentials == nil || e.verifications == nil {
		return ErrEngineNotReady
	}
	if !e.config.EmailVerification.Enabled {
		return ErrVerificationDisabled
	}

	tenantID := tenantIDFromContext(ctx)

	if err := e.consumeBudget(ctx, ratelimit.ScopeEmailVerify, tenantID, clientIPFromContext(ctx)); err != nil {
		return err
	}

	if token == "" {
		e.metricInc(MetricEmailVerifyFailure)
		e.emitAudit(ctx, auditEventEmailVerificationFailure, false, "", tenantID, "", ErrVerificationInvalid, detailMeta("empty_token"))
		return ErrVerificationInvalid
	}

	challengeID, secret, err := internal.DecodeChallengeToken(token)
	if err != nil {
		e.metricInc(MetricEmailVerifyFailure)
		e.emitAudit(ctx, auditEventEmailVerificationFailure, false, "", tenantID, "", ErrVerificationInvalid, detailMeta("decode_failed"))
		return ErrVerificationInvalid
	}

	record, err := e.verifications.Consume(ctx, tenantID, challengeID.String(), internal.HashChallengeSecret(secret), e.config.EmailVerification.MaxAttempts)
	if err != nil {
		mapped := mapRecoveryErr(err, ErrVerificationInvalid, ErrVerificationInvalid)
		e.metricInc(MetricEmailVerifyFailure)
		e.emitAudit(ctx, auditEventEmailVerificationFailure, false, "", tenantID, "", mapped, func() map[string]string {
			return map[string]string{"challenge_id": challengeID.String()}
		})
		return mapped
	}

	identity, err := e.credentials.FindByID(ctx, record.IdentityID)
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			e.metricInc(MetricEmailVerifyFailure)
			e.emitAudit(ctx, auditEventEmailVerificationFailure, false, record.IdentityID, tenantID, "", ErrVerificationInvalid, detailMeta("identity_missing"))
			return ErrVerificationInvalid
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if identity.TenantID != "" {
		tenantID = identity.TenantID
	}

	if identity.Status == StatusDisabled {
		e.metricInc(MetricEmailVerifyFailure)
		e.emitAudit(ctx, auditEventEmailVerificationFailure, false, identity.ID, tenantID, "", ErrAccountDisabled, detailMeta("account_disabled"))
		return ErrAccountDisabled
	}

	if identity.EmailVerified {
		e.metricInc(MetricEmailVerifySuccess)
		e.emitAudit(ctx, auditEventEmailVerificationSuccess, true, identity.ID, tenantID, "", nil, detailMeta("already_verified"))
		return nil
	}

	if err := e.credentials.MarkEmailVerified(ctx, identity.ID); err != nil {
		e.metricInc(MetricEmailVerifyFailure)
		e.emitAudit(ctx, auditEventEmailVerificationFailure, false, identity.ID, tenantID, "", err, detailMeta("mark_verified_failed"))
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.metricInc(MetricEmailVerifySuccess)
	e.emitAudit(ctx, auditEventEmailVerificationSuccess, true, identity.ID, tenantID, "", nil, nil)
	return nil
}
