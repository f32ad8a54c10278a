package authcore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/rankwatch/authcore/internal"
	"github.com/rankwatch/authcore/ratelimit"
)

// emailValidator screens addresses before they reach the credential store.
// A single shared instance; Validate caches parsed tags and is safe for
// concurrent use.
var emailValidator = validator.New()

// Register creates an identity from an email/password pair.
//
// With email verification enabled the identity starts in
// StatusPendingVerification and the result carries a one-time verification
// token the caller must deliver out of band; the engine never sends mail.
// Auto-login applies only to identities that start active. Duplicate
// registration returns ErrDuplicateEmail; the per-IP budget is what keeps
// that from becoming a cheap enumeration oracle.
func (e *Engine) Register(ctx context.Context, email, password string) (*RegisterResult, error) {
	if e == nil || e.credentials == nil || e.passwords == nil {
		return nil, ErrEngineNotReady
	}
	if !e.config.Registration.Enabled {
		return nil, ErrRegistrationDisabled
	}

	tenantID := tenantIDFromContext(ctx)

	if err := e.consumeBudget(ctx, ratelimit.ScopeRegisterIP, tenantID, clientIPFromContext(ctx)); err != nil {
		if errors.Is(err, ErrRateLimited) {
			e.metricInc(MetricRegisterRateLimited)
			e.emitAudit(ctx, auditEventRegisterRateLimited, false, "", tenantID, "", err, nil)
		}
		return nil, err
	}

	email = normalizeEmail(email)
	if err := emailValidator.Var(email, "required,email"); err != nil {
		e.metricInc(MetricRegisterFailure)
		e.emitAudit(ctx, auditEventRegisterFailure, false, "", tenantID, "", ErrEmailInvalid, loginMeta(email, "email_invalid"))
		return nil, ErrEmailInvalid
	}

	passwordHash, err := e.passwords.Hash(password)
	if err != nil {
		e.metricInc(MetricRegisterFailure)
		e.emitAudit(ctx, auditEventRegisterFailure, false, "", tenantID, "", ErrPasswordPolicy, loginMeta(email, "password_policy"))
		return nil, ErrPasswordPolicy
	}
	password = ""

	status := StatusActive
	if e.config.EmailVerification.Enabled {
		status = StatusPendingVerification
	}

	identity := &IdentityRecord{
		ID:           uuid.NewString(),
		TenantID:     normalizeTenant(tenantID),
		Email:        email,
		PasswordHash: passwordHash,
		Status:       status,
		CreatedAt:    time.Now().UTC(),
	}

	if err := e.credentials.CreateIdentity(ctx, identity); err != nil {
		if errors.Is(err, ErrDuplicateEmail) {
			e.metricInc(MetricRegisterDuplicate)
			e.emitAudit(ctx, auditEventRegisterDuplicate, false, "", tenantID, "", ErrDuplicateEmail, loginMeta(email, ""))
			return nil, ErrDuplicateEmail
		}
		e.metricInc(MetricRegisterFailure)
		e.emitAudit(ctx, auditEventRegisterFailure, false, "", tenantID, "", err, loginMeta(email, "store_create_failed"))
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	result := &RegisterResult{IdentityID: identity.ID}

	if e.config.EmailVerification.Enabled {
		token, err := e.issueVerificationToken(ctx, tenantID, identity.ID)
		if err != nil {
			// The identity exists but no verification token reached the
			// caller. Surface the error alongside the partial result; a
			// later RequestEmailVerification can mint a fresh token.
			e.emitAudit(ctx, auditEventRegisterSuccess, false, identity.ID, tenantID, "", err, loginMeta(email, "verification_token_failed"))
			return result, err
		}
		result.VerificationToken = token
	}

	if e.config.Registration.AutoLogin && identity.Status == StatusActive {
		access, refresh, _, err := e.establishSession(ctx, identity, tenantID)
		if err != nil {
			e.emitAudit(ctx, auditEventRegisterSuccess, false, identity.ID, tenantID, "", err, loginMeta(email, "auto_login_failed"))
			return result, err
		}
		result.AccessToken = access
		result.RefreshToken = refresh
	}

	e.metricInc(MetricRegisterSuccess)
	e.emitAudit(ctx, auditEventRegisterSuccess, true, identity.ID, tenantID, "", nil, loginMeta(email, ""))
	return result, nil
}

// issueVerificationToken mints an email-verification challenge and returns
// its opaque token. Redis keeps only the secret's hash.
func (e *Engine) issueVerificationToken(ctx context.Context, tenantID, identityID string) (string, error) {
	challengeID := uuid.New()
	secret, err := internal.NewChallengeSecret()
	if err != nil {
		return "", err
	}

	ttl := e.config.EmailVerification.TokenTTL
	record := &recoveryChallenge{
		IdentityID: identityID,
		SecretHash: internal.HashChallengeSecret(secret),
		ExpiresAt:  time.Now().Add(ttl).Unix(),
	}
	if err := e.verifications.Save(ctx, tenantID, challengeID.String(), record, ttl); err != nil {
		return "", err
	}
	return internal.EncodeChallengeToken(challengeID, secret), nil
}
