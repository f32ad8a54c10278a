package internaldefs

import "github.com/rankwatch/authcore"

// CounterDef binds an engine counter to an exported metric name.
type CounterDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

// HistogramDef binds an engine histogram to an exported metric name.
type HistogramDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

// CounterDefs lists every engine counter in export order. Exporters that
// iterate this slice stay complete when new counters are added here.
var CounterDefs = []CounterDef{
	{ID: authcore.MetricLoginSuccess, Name: "authcore_login_success_total", Help: "Successful password logins."},
	{ID: authcore.MetricLoginFailure, Name: "authcore_login_failure_total", Help: "Failed login attempts."},
	{ID: authcore.MetricLoginRateLimited, Name: "authcore_login_rate_limited_total", Help: "Logins denied by an IP or email budget."},
	{ID: authcore.MetricLoginLocked, Name: "authcore_login_locked_total", Help: "Logins denied by an armed lockout."},
	{ID: authcore.MetricTwoFactorRequired, Name: "authcore_two_factor_required_total", Help: "Logins parked behind a second-factor challenge."},
	{ID: authcore.MetricTwoFactorSuccess, Name: "authcore_two_factor_success_total", Help: "Completed second-factor challenges."},
	{ID: authcore.MetricTwoFactorFailure, Name: "authcore_two_factor_failure_total", Help: "Rejected second-factor codes."},
	{ID: authcore.MetricChallengeReplay, Name: "authcore_challenge_replay_total", Help: "Login challenges presented after consumption or expiry."},
	{ID: authcore.MetricBackupCodeUsed, Name: "authcore_backup_code_used_total", Help: "Backup codes consumed."},
	{ID: authcore.MetricBackupCodeFailed, Name: "authcore_backup_code_failed_total", Help: "Rejected backup codes."},
	{ID: authcore.MetricBackupCodeRegenerated, Name: "authcore_backup_code_regenerated_total", Help: "Backup code set regenerations."},
	{ID: authcore.MetricRefreshSuccess, Name: "authcore_refresh_success_total", Help: "Successful refresh rotations."},
	{ID: authcore.MetricRefreshFailure, Name: "authcore_refresh_failure_total", Help: "Failed refresh attempts."},
	{ID: authcore.MetricRefreshReuseDetected, Name: "authcore_refresh_reuse_detected_total", Help: "Refresh token replays that revoked the identity's sessions."},
	{ID: authcore.MetricAuthenticateSuccess, Name: "authcore_authenticate_success_total", Help: "Successful access token validations."},
	{ID: authcore.MetricAuthenticateFailure, Name: "authcore_authenticate_failure_total", Help: "Failed access token validations."},
	{ID: authcore.MetricFingerprintMismatch, Name: "authcore_fingerprint_mismatch_total", Help: "Sessions invalidated by a device fingerprint mismatch."},
	{ID: authcore.MetricRiskAlert, Name: "authcore_risk_alert_total", Help: "Validations scoring at or above the risk alert threshold."},
	{ID: authcore.MetricSessionCreated, Name: "authcore_session_created_total", Help: "Sessions created."},
	{ID: authcore.MetricSessionEvicted, Name: "authcore_session_evicted_total", Help: "Sessions evicted by the per-identity cap."},
	{ID: authcore.MetricSessionInvalidated, Name: "authcore_session_invalidated_total", Help: "Sessions invalidated server-side."},
	{ID: authcore.MetricLogout, Name: "authcore_logout_total", Help: "Single-session logouts."},
	{ID: authcore.MetricLogoutAll, Name: "authcore_logout_all_total", Help: "Logout-all operations."},
	{ID: authcore.MetricRateLimitHit, Name: "authcore_rate_limit_hit_total", Help: "Requests denied by any rate-limit scope."},
	{ID: authcore.MetricLockoutSoft, Name: "authcore_lockout_soft_total", Help: "Soft lockouts armed."},
	{ID: authcore.MetricLockoutHard, Name: "authcore_lockout_hard_total", Help: "Hard lockouts armed."},
	{ID: authcore.MetricRegisterSuccess, Name: "authcore_register_success_total", Help: "Successful registrations."},
	{ID: authcore.MetricRegisterFailure, Name: "authcore_register_failure_total", Help: "Failed registrations."},
	{ID: authcore.MetricRegisterDuplicate, Name: "authcore_register_duplicate_total", Help: "Registrations rejected for an already-registered email."},
	{ID: authcore.MetricRegisterRateLimited, Name: "authcore_register_rate_limited_total", Help: "Registrations denied by the per-IP budget."},
	{ID: authcore.MetricPasswordChangeSuccess, Name: "authcore_password_change_success_total", Help: "Successful password changes."},
	{ID: authcore.MetricPasswordChangeFailure, Name: "authcore_password_change_failure_total", Help: "Failed password changes."},
	{ID: authcore.MetricPasswordChangeReuse, Name: "authcore_password_change_reuse_total", Help: "Password changes rejected for reusing the current password."},
	{ID: authcore.MetricPasswordResetRequest, Name: "authcore_password_reset_request_total", Help: "Password reset challenges issued."},
	{ID: authcore.MetricPasswordResetSuccess, Name: "authcore_password_reset_success_total", Help: "Completed password resets."},
	{ID: authcore.MetricPasswordResetFailure, Name: "authcore_password_reset_failure_total", Help: "Failed password reset completions."},
	{ID: authcore.MetricEmailVerifyRequest, Name: "authcore_email_verify_request_total", Help: "Email verification challenges issued."},
	{ID: authcore.MetricEmailVerifySuccess, Name: "authcore_email_verify_success_total", Help: "Completed email verifications."},
	{ID: authcore.MetricEmailVerifyFailure, Name: "authcore_email_verify_failure_total", Help: "Failed email verification attempts."},
	{ID: authcore.MetricTwoFactorEnabled, Name: "authcore_two_factor_enabled_total", Help: "Two-factor enrollments confirmed."},
	{ID: authcore.MetricTwoFactorDisabled, Name: "authcore_two_factor_disabled_total", Help: "Two-factor enrollments disabled."},
}

// HistogramDefs lists every engine histogram in export order.
var HistogramDefs = []HistogramDef{
	{ID: authcore.MetricAuthenticateLatency, Name: "authcore_authenticate_latency_seconds", Help: "Access token validation latency."},
}

// AuditDroppedName is the exported counter for audit events dropped by a
// full queue.
const AuditDroppedName = "authcore_audit_dropped_total"

// AuditDroppedHelp describes AuditDroppedName.
const AuditDroppedHelp = "Audit events dropped because the dispatch queue was full."

// CounterFallbackName is the exported counter for rate-limit operations
// served by the in-memory fallback store.
const CounterFallbackName = "authcore_counter_fallback_total"

// CounterFallbackHelp describes CounterFallbackName.
const CounterFallbackHelp = "Rate-limit operations served by the in-memory fallback after a Redis error."

// HistogramBounds are the upper bucket bounds, in seconds, matching the
// engine's fixed histogram layout.
var HistogramBounds = []string{"0.005", "0.01", "0.025", "0.05", "0.1", "0.25", "0.5", "+Inf"}

// HistogramBoundSuffix gives a metric-name-safe suffix per bucket for
// backends that cannot carry an le label.
var HistogramBoundSuffix = []string{"0_005", "0_01", "0_025", "0_05", "0_1", "0_25", "0_5", "inf"}

// NormalizeBuckets pads or truncates a snapshot bucket slice to the fixed
// eight-bucket layout.
func NormalizeBuckets(in []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(in); i++ {
		out[i] = in[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts into the running totals the
// Prometheus exposition format requires.
func CumulativeBuckets(in [8]uint64) [8]uint64 {
	var out [8]uint64
	var sum uint64
	for i, v := range in {
		sum += v
		out[i] = sum
	}
	return out
}
