package authcore

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"

	"github.com/rankwatch/authcore/internal"
	"github.com/rankwatch/authcore/ratelimit"
)

// RequestPasswordReset mints a one-time reset token for the identity behind
// email and returns it; delivering it is the caller's job, the engine never
// sends mail. Unknown and disabled addresses produce a decoy token backed by
// nothing, after a small random delay, so neither the response shape nor its
// timing says whether the address is registered. Both reset budgets burn
// before the lookup.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	if e == nil || e.credentials == nil || e.resets == nil {
		return "", ErrEngineNotReady
	}
	if !e.config.PasswordReset.Enabled {
		return "", ErrResetDisabled
	}

	email = normalizeEmail(email)
	tenantID := tenantIDFromContext(ctx)
	ip := clientIPFromContext(ctx)

	budgets := []struct {
		scope      ratelimit.Scope
		identifier string
	}{
		{ratelimit.ScopeResetIP, ip},
		{ratelimit.ScopeResetEmail, email},
	}
	for _, budget := range budgets {
		if err := e.consumeBudget(ctx, budget.scope, tenantID, budget.identifier); err != nil {
			if errors.Is(err, ErrRateLimited) {
				e.emitAudit(ctx, auditEventPasswordResetRequest, false, "", tenantID, "", err, loginMeta(email, ""))
			}
			return "", err
		}
	}

	if email == "" {
		e.metricInc(MetricPasswordResetFailure)
		e.emitAudit(ctx, auditEventPasswordResetRequest, false, "", tenantID, "", ErrResetInvalid, detailMeta("empty_email"))
		return "", ErrResetInvalid
	}

	identity, err := e.credentials.FindByEmail(ctx, tenantID, email)
	if err != nil || identity.Status == StatusDisabled {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", err
		}
		// Store trouble also lands here: a caller probing addresses must not
		// learn anything from the backend's health either.
		return e.decoyResetToken(ctx, tenantID, email)
	}

	effectiveTenant := tenantID
	if identity.TenantID != "" {
		effectiveTenant = identity.TenantID
	}

	challengeID := uuid.New()
	secret, err := internal.NewChallengeSecret()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	ttl := e.config.PasswordReset.TokenTTL
	record := &recoveryChallenge{
		IdentityID: identity.ID,
		SecretHash: internal.HashChallengeSecret(secret),
		ExpiresAt:  time.Now().Add(ttl).Unix(),
	}
	if err := e.resets.Save(ctx, effectiveTenant, challengeID.String(), record, ttl); err != nil {
		e.emitAudit(ctx, auditEventPasswordResetRequest, false, identity.ID, effectiveTenant, "", err, loginMeta(email, "store_save_failed"))
		return "", err
	}

	e.metricInc(MetricPasswordResetRequest)
	e.emitAudit(ctx, auditEventPasswordResetRequest, true, identity.ID, effectiveTenant, "", nil, loginMeta(email, ""))
	return internal.EncodeChallengeToken(challengeID, secret), nil
}

// decoyResetToken burns roughly the same time and returns the same shape as
// real token issuance without storing anything. The token can never be
// completed; the audit record is the only place the difference shows.
func (e *Engine) decoyResetToken(ctx context.Context, tenantID, email string) (string, error) {
	if err := sleepEnumerationDelay(ctx); err != nil {
		return "", err
	}

	secret, err := internal.NewChallengeSecret()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.metricInc(MetricPasswordResetRequest)
	e.emitAudit(ctx, auditEventPasswordResetRequest, true, "", tenantID, "", nil, func() map[string]string {
		return map[string]string{
			"identifier":       email,
			"enumeration_safe": "true",
		}
	})
	return internal.EncodeChallengeToken(uuid.New(), secret), nil
}

// CompletePasswordReset redeems a reset token and installs the new password.
// The challenge is consumed atomically: wrong secrets burn one of its
// attempts, and the attempt cap destroys it. Success revokes every session
// the identity holds. The lockout ladder is left alone; a reset proves
// mailbox control, not that the guessing stopped.
func (e *Engine) CompletePasswordReset(ctx context.Context, token, newPassword string) error {
	if e == nil || e.credentials == nil || e.resets == nil || e.passwords == nil {
		return ErrEngineNotReady
	}
	if !e.config.PasswordReset.Enabled {
		return ErrResetDisabled
	}

	tenantID := tenantIDFromContext(ctx)

	if err := e.consumeBudget(ctx, ratelimit.ScopeResetIP, tenantID, clientIPFromContext(ctx)); err != nil {
		return err
	}

	if token == "" || newPassword == "" {
		e.metricInc(MetricPasswordResetFailure)
		e.emitAudit(ctx, auditEventPasswordResetFailure, false, "", tenantID, "", ErrResetInvalid, detailMeta("empty_input"))
		return ErrResetInvalid
	}

	challengeID, secret, err := internal.DecodeChallengeToken(token)
	if err != nil {
		e.metricInc(MetricPasswordResetFailure)
		e.emitAudit(ctx, auditEventPasswordResetFailure, false, "", tenantID, "", ErrResetInvalid, detailMeta("decode_failed"))
		return ErrResetInvalid
	}

	record, err := e.resets.Consume(ctx, tenantID, challengeID.String(), internal.HashChallengeSecret(secret), e.config.PasswordReset.MaxAttempts)
	if err != nil {
		mapped := mapRecoveryErr(err, ErrResetInvalid, ErrResetAttemptsExceeded)
		e.metricInc(MetricPasswordResetFailure)
		e.emitAudit(ctx, auditEventPasswordResetFailure, false, "", tenantID, "", mapped, func() map[string]string {
			return map[string]string{"challenge_id": challengeID.String()}
		})
		return mapped
	}

	identity, err := e.credentials.FindByID(ctx, record.IdentityID)
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			e.metricInc(MetricPasswordResetFailure)
			e.emitAudit(ctx, auditEventPasswordResetFailure, false, record.IdentityID, tenantID, "", ErrResetInvalid, detailMeta("identity_missing"))
			return ErrResetInvalid
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if identity.TenantID != "" {
		tenantID = identity.TenantID
	}

	if identity.Status == StatusDisabled {
		e.metricInc(MetricPasswordResetFailure)
		e.emitAudit(ctx, auditEventPasswordResetFailure, false, identity.ID, tenantID, "", ErrAccountDisabled, detailMeta("account_disabled"))
		return ErrAccountDisabled
	}

	newHash, err := e.passwords.Hash(newPassword)
	if err != nil {
		e.metricInc(MetricPasswordResetFailure)
		e.emitAudit(ctx, auditEventPasswordResetFailure, false, identity.ID, tenantID, "", ErrPasswordPolicy, detailMeta("password_policy"))
		return ErrPasswordPolicy
	}
	newPassword = ""

	if err := e.credentials.UpdatePasswordHash(ctx, identity.ID, newHash); err != nil {
		e.metricInc(MetricPasswordResetFailure)
		e.emitAudit(ctx, auditEventPasswordResetFailure, false, identity.ID, tenantID, "", err, detailMeta("update_hash_failed"))
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if err := e.revokeAllSessions(ctx, tenantID, identity.ID); err != nil {
		e.emitAudit(ctx, auditEventPasswordResetFailure, false, identity.ID, tenantID, "", err, detailMeta("session_revocation_failed"))
		return err
	}

	e.metricInc(MetricPasswordResetSuccess)
	e.emitAudit(ctx, auditEventPasswordResetSuccess, true, identity.ID, tenantID, "", nil, nil)
	return nil
}

// mapRecoveryErr folds the recovery store's internal errors onto a flow's
// public sentinels. Store unavailability passes through already wrapped.
func mapRecoveryErr(err error, invalid, exceeded error) error {
	switch {
	case errors.Is(err, errRecoveryNotFound), errors.Is(err, errRecoverySecretMismatch):
		return invalid
	case errors.Is(err, errRecoveryAttemptsExceeded):
		return exceeded
	default:
		return err
	}
}

// sleepEnumerationDelay blocks for a short random interval so the decoy
// path's cost stays in the same band as real challenge issuance.
func sleepEnumerationDelay(ctx context.Context) error {
	const minMs, maxMs = 20, 40

	n, err := rand.Int(rand.Reader, big.NewInt(maxMs-minMs+1))
	if err != nil {
		return err
	}

	timer := time.NewTimer(time.Duration(minMs+n.Int64()) * time.Millisecond)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
