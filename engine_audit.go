package authcore

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/rankwatch/authcore/ratelimit"
)

// Audit event types emitted by the engine. Stable strings: downstream SIEM
// pipelines filter on them.
const (
	auditEventLoginSuccess     = "login_success"
	auditEventLoginFailure     = "login_failure"
	auditEventLoginRateLimited = "login_rate_limited"

	auditEventTwoFactorRequired         = "two_factor_required"
	auditEventTwoFactorSuccess          = "two_factor_success"
	auditEventTwoFactorFailure          = "two_factor_failure"
	auditEventTwoFactorAttemptsExceeded = "two_factor_attempts_exceeded"
	auditEventTwoFactorReplay           = "two_factor_replay"
	auditEventTwoFactorSetupRequested   = "two_factor_setup_requested"
	auditEventTwoFactorEnabled          = "two_factor_enabled"
	auditEventTwoFactorDisabled         = "two_factor_disabled"
	auditEventBackupCodesGenerated      = "backup_codes_generated"
	auditEventBackupCodeUsed            = "backup_code_used"
	auditEventBackupCodeFailed          = "backup_code_failed"

	auditEventRefreshSuccess       = "refresh_success"
	auditEventRefreshInvalid       = "refresh_invalid"
	auditEventRefreshReuseDetected = "refresh_reuse_detected"

	auditEventFingerprintMismatch = "fingerprint_mismatch"
	auditEventRiskAlert           = "risk_alert"

	auditEventLogout         = "logout"
	auditEventLogoutAll      = "logout_all"
	auditEventSessionRevoked = "session_revoked"
	auditEventSessionEvicted = "session_evicted"

	auditEventAccountLocked      = "account_locked"
	auditEventRateLimitTriggered = "rate_limit_triggered"

	auditEventRegisterSuccess     = "register_success"
	auditEventRegisterFailure     = "register_failure"
	auditEventRegisterDuplicate   = "register_duplicate"
	auditEventRegisterRateLimited = "register_rate_limited"

	auditEventPasswordChangeSuccess = "password_change_success"
	auditEventPasswordChangeFailure = "password_change_failure"
	auditEventPasswordChangeReuse   = "password_change_reuse_attempt"

	auditEventPasswordResetRequest = "password_reset_request"
	auditEventPasswordResetSuccess = "password_reset_success"
	auditEventPasswordResetFailure = "password_reset_failure"

	auditEventEmailVerificationRequest = "email_verification_request"
	auditEventEmailVerificationSuccess = "email_verification_success"
	auditEventEmailVerificationFailure = "email_verification_failure"
)

// detailMeta builds single-entry metadata for failure events that only need
// to say which step rejected the request.
func detailMeta(detail string) func() map[string]string {
	return func() map[string]string {
		return map[string]string{"detail": detail}
	}
}

// emitAudit builds and dispatches one audit event. The metadata builder runs
// only when a dispatcher is installed, so hot paths pay nothing for disabled
// auditing. Failure reasons are mapped through ReasonCode so the audit trail
// and API error responses speak the same vocabulary.
func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	identityID string,
	tenantID string,
	sessionID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}
	if tenantID == "" {
		tenantID = tenantIDFromContext(ctx)
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	e.audit.Emit(ctx, AuditEvent{
		ID:         ulid.Make().String(),
		At:         time.Now().UTC(),
		Type:       eventType,
		IdentityID: identityID,
		TenantID:   tenantID,
		SessionID:  sessionID,
		IP:         clientIPFromContext(ctx),
		UserAgent:  userAgentFromContext(ctx),
		Success:    success,
		Reason:     ReasonCode(err),
		Metadata:   metadata,
	})
}

// emitRateLimit records a tripped budget: one shared metric plus a
// rate_limit_triggered event tagged with the scope and throttled identifier.
func (e *Engine) emitRateLimit(
	ctx context.Context,
	scope ratelimit.Scope,
	tenantID string,
	identifier string,
) {
	e.metricInc(MetricRateLimitHit)
	e.emitAudit(ctx, auditEventRateLimitTriggered, false, "", tenantID, "", ErrRateLimited, func() map[string]string {
		return map[string]string{
			"scope":      string(scope),
			"identifier": identifier,
		}
	})
}
