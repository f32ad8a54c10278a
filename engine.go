package authcore

import (
	"context"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rankwatch/authcore/counter"
	"github.com/rankwatch/authcore/internal"
	"github.com/rankwatch/authcore/jwt"
	"github.com/rankwatch/authcore/lockout"
	"github.com/rankwatch/authcore/password"
	"github.com/rankwatch/authcore/ratelimit"
	"github.com/rankwatch/authcore/risk"
	"github.com/rankwatch/authcore/session"
)

// Engine is the authentication facade. Every public operation runs the same
// pipeline: rate limits first, then lockout state, then credential or session
// work, then audit. Construct it through a Builder; a zero Engine is not
// usable. All methods are safe for concurrent use.
type Engine struct {
	config Config
	logger *zap.Logger

	credentials CredentialStore
	sessions    *session.Store
	jwtManager  *jwt.Manager
	passwords   *password.Argon2
	limiter     *ratelimit.Limiter
	lockouts    *lockout.Machine
	counters    counter.Store
	failover    *counter.Failover

	challenges    *challengeStore
	resets        *recoveryStore
	verifications *recoveryStore

	audit   *auditDispatcher
	metrics *Metrics
}

// Close flushes and stops the audit dispatcher. The engine must not be used
// after Close.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped returns how many audit events were discarded because the
// dispatcher buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a point-in-time copy of all metric counters and
// histograms.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// CounterFallbacks returns how many times the rate-limit counter store fell
// back from Redis to process-local memory. Zero when a custom counter store
// is installed.
func (e *Engine) CounterFallbacks() uint64 {
	if e == nil || e.failover == nil {
		return 0
	}
	return e.failover.FallbackCount()
}

// RateLimiter exposes the engine's limiter so HTTP middleware can throttle
// outer surfaces (the API scope) against the same counters the auth flows
// use.
func (e *Engine) RateLimiter() *ratelimit.Limiter {
	if e == nil {
		return nil
	}
	return e.limiter
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

// Authenticate verifies an access token and its backing session and returns
// the caller's identity context.
//
// The checks run in order: JWT signature and claims, session existence in
// Redis (fail closed when Redis is down), device fingerprint binding
// (mismatch invalidates the session), optional identity recheck, idle-window
// renewal, risk scoring. The returned AuthContext carries the risk score;
// scores at or above Config.Risk.AlertThreshold emit an audit event but never
// reject on their own.
func (e *Engine) Authenticate(ctx context.Context, accessToken string) (*AuthContext, error) {
	if e == nil || e.jwtManager == nil || e.sessions == nil {
		return nil, ErrEngineNotReady
	}
	if e.metrics != nil && e.metrics.LatencyEnabled() {
		start := time.Now()
		defer func() {
			e.metrics.Observe(MetricAuthenticateLatency, time.Since(start))
		}()
	}

	claims, err := e.jwtManager.ParseAccess(accessToken)
	if err != nil {
		e.metricInc(MetricAuthenticateFailure)
		if jwt.IsExpired(err) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenMalformed
	}

	tenantID := normalizeTenant(claims.TID)
	sess, err := e.sessions.Get(ctx, tenantID, claims.SID, e.sessionLifetime())
	if err != nil {
		e.metricInc(MetricAuthenticateFailure)
		switch {
		case errors.Is(err, session.ErrRedisUnavailable):
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		case errors.Is(err, redis.Nil):
			return nil, ErrSessionRevoked
		default:
			// Corrupt blobs are unusable; force a fresh login.
			return nil, ErrSessionRevoked
		}
	}

	if err := e.checkFingerprint(ctx, sess); err != nil {
		e.metricInc(MetricAuthenticateFailure)
		return nil, err
	}

	if e.config.Security.RecheckIdentityOnAuthenticate {
		if err := e.recheckIdentity(ctx, tenantID, sess); err != nil {
			e.metricInc(MetricAuthenticateFailure)
			return nil, err
		}
	}

	if e.config.Session.SlidingRenewal {
		// Best-effort: a failed renewal only shortens the session, and the
		// next request fails closed anyway.
		if err := e.sessions.Touch(ctx, tenantID, sess.SessionID, e.config.Session.IdleTimeout); err != nil {
			e.logger.Debug("session touch failed",
				zap.String("session_id", sess.SessionID),
				zap.Error(err),
			)
		}
	}

	score := e.scoreRequest(ctx, claims)
	if threshold := e.config.Risk.AlertThreshold; threshold > 0 && score >= threshold {
		e.metricInc(MetricRiskAlert)
		e.emitAudit(ctx, auditEventRiskAlert, true, sess.IdentityID, tenantID, sess.SessionID, nil, func() map[string]string {
			return map[string]string{
				"score": strconv.Itoa(score),
			}
		})
	}

	e.metricInc(MetricAuthenticateSuccess)

	return &AuthContext{
		IdentityID: sess.IdentityID,
		TenantID:   sess.TenantID,
		SessionID:  sess.SessionID,
		RiskScore:  score,
	}, nil
}

// checkFingerprint enforces the hard device binding: a session created with a
// fingerprint only accepts requests presenting the same fingerprint. Requests
// without any deriving metadata count as a mismatch.
func (e *Engine) checkFingerprint(ctx context.Context, sess *session.Session) error {
	var zero [32]byte
	if sess.Fingerprint == zero {
		return nil
	}

	live, ok := fingerprintFromContext(ctx)
	if ok && subtle.ConstantTimeCompare(sess.Fingerprint[:], live[:]) == 1 {
		return nil
	}

	_ = e.sessions.Delete(ctx, sess.TenantID, sess.SessionID)
	e.metricInc(MetricFingerprintMismatch)
	e.metricInc(MetricSessionInvalidated)
	e.emitAudit(ctx, auditEventFingerprintMismatch, false, sess.IdentityID, sess.TenantID, sess.SessionID, ErrFingerprintMismatch, func() map[string]string {
		return map[string]string{
			"fingerprint_present": strconv.FormatBool(ok),
		}
	})
	return ErrFingerprintMismatch
}

// recheckIdentity revalidates account status and lockout state against the
// credential store on every request. Off by default; high-security mode
// trades one store read per request for instant disable/lock propagation.
func (e *Engine) recheckIdentity(ctx context.Context, tenantID string, sess *session.Session) error {
	identity, err := e.credentials.FindByID(ctx, sess.IdentityID)
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			_ = e.sessions.Delete(ctx, tenantID, sess.SessionID)
			e.metricInc(MetricSessionInvalidated)
			return ErrSessionRevoked
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if identity.Status == StatusDisabled {
		_ = e.sessions.Delete(ctx, tenantID, sess.SessionID)
		e.metricInc(MetricSessionInvalidated)
		return ErrAccountDisabled
	}

	status, err := e.lockouts.Evaluate(ctx, identity.ID, lockoutStateOf(identity))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if status.Locked {
		return &LockoutError{Reason: status.Reason, RetryAfter: status.RetryAfter}
	}

	return nil
}

// scoreRequest compares the binding hashes captured at token issuance with
// their live counterparts.
func (e *Engine) scoreRequest(ctx context.Context, claims *jwt.AccessClaims) int {
	issued := risk.Signals{
		Fingerprint: decodeBindingHash(claims.FPHash),
		IP:          decodeBindingHash(claims.IPHash),
	}

	live := risk.Signals{
		UserAgent: userAgentFromContext(ctx),
	}
	if fp, ok := fingerprintFromContext(ctx); ok {
		live.Fingerprint = fp
	}
	if ip := clientIPFromContext(ctx); ip != "" {
		live.IP = internal.HashBindingValue(ip)
	}

	return risk.Score(issued, live)
}

// Health reports reachability and backlog indicators for the engine's
// dependencies. It never fails: an unreachable Redis shows up as
// RedisAvailable=false.
func (e *Engine) Health(ctx context.Context) HealthStatus {
	var status HealthStatus
	if e == nil {
		return status
	}

	if e.sessions != nil {
		if latency, err := e.sessions.Ping(ctx); err == nil {
			status.RedisAvailable = true
			status.RedisLatency = latency
		}
	}

	status.CounterFallbacks = e.CounterFallbacks()
	status.AuditDropped = e.AuditDropped()
	return status
}

// sessionLifetime is the absolute session lifetime: the configured absolute
// lifetime, capped by the refresh TTL since a session that can no longer be
// refreshed is dead weight.
func (e *Engine) sessionLifetime() time.Duration {
	lifetime := e.config.Session.AbsoluteLifetime
	if ttl := e.config.JWT.RefreshTTL; ttl > 0 && ttl < lifetime {
		return ttl
	}
	return lifetime
}

// sessionTTL is the Redis key TTL for a new session: the idle window when
// sliding renewal is on (each authenticated request extends it), otherwise
// the full absolute lifetime.
func (e *Engine) sessionTTL() time.Duration {
	lifetime := e.sessionLifetime()
	if e.config.Session.SlidingRenewal {
		if idle := e.config.Session.IdleTimeout; idle > 0 && idle < lifetime {
			return idle
		}
	}
	return lifetime
}

// establishSession creates the server-side session and issues the token pair
// backing it. Shared by password login, two-factor completion and
// registration auto-login. Evictions forced by the per-identity cap are
// audited here.
func (e *Engine) establishSession(ctx context.Context, identity *IdentityRecord, tenantID string) (access, refresh, sessionID string, err error) {
	sid, err := internal.NewSessionID()
	if err != nil {
		return "", "", "", err
	}
	sessionID = sid.String()

	refreshSecret, err := internal.NewRefreshSecret()
	if err != nil {
		return "", "", "", err
	}

	var fingerprint [32]byte
	if live, ok := fingerprintFromContext(ctx); ok {
		fingerprint = live
	}

	now := time.Now()
	sess := &session.Session{
		SessionID:   sessionID,
		IdentityID:  identity.ID,
		TenantID:    normalizeTenant(tenantID),
		IP:          clientIPFromContext(ctx),
		UserAgent:   userAgentFromContext(ctx),
		RefreshHash: internal.HashRefreshSecret(refreshSecret),
		Fingerprint: fingerprint,
		CreatedAt:   now.Unix(),
		LastSeenAt:  now.Unix(),
		ExpiresAt:   now.Add(e.sessionLifetime()).Unix(),
	}

	evicted, err := e.sessions.Create(ctx, sess, e.sessionTTL(), e.config.Session.MaxSessionsPerIdentity)
	if err != nil {
		return "", "", "", mapSessionErr(err)
	}
	for _, evictedID := range evicted {
		e.metricInc(MetricSessionEvicted)
		e.metricInc(MetricSessionInvalidated)
		e.emitAudit(ctx, auditEventSessionEvicted, true, identity.ID, sess.TenantID, evictedID, nil, func() map[string]string {
			return map[string]string{
				"replaced_by": sessionID,
			}
		})
	}

	access, err = e.issueAccessToken(sess)
	if err != nil {
		return "", "", "", err
	}

	refresh, err = internal.EncodeRefreshToken(sessionID, refreshSecret)
	if err != nil {
		return "", "", "", err
	}

	e.metricInc(MetricSessionCreated)
	return access, refresh, sessionID, nil
}

func (e *Engine) issueAccessToken(sess *session.Session) (string, error) {
	var ipHash [32]byte
	if sess.IP != "" {
		ipHash = internal.HashBindingValue(sess.IP)
	}

	return e.jwtManager.CreateAccess(
		sess.IdentityID,
		tenantClaim(sess.TenantID),
		sess.SessionID,
		encodeBindingHash(sess.Fingerprint),
		encodeBindingHash(ipHash),
	)
}

// tenantClaim omits the default tenant from tokens so single-tenant
// deployments carry no tid claim at all.
func tenantClaim(tenantID string) string {
	if normalizeTenant(tenantID) == "0" {
		return ""
	}
	return tenantID
}

func encodeBindingHash(h [32]byte) string {
	var zero [32]byte
	if h == zero {
		return ""
	}
	return hex.EncodeToString(h[:])
}

func decodeBindingHash(s string) [32]byte {
	var out [32]byte
	if s == "" {
		return out
	}
	decoded, err := hex.DecodeString(s)
	if err != nil || len(decoded) != len(out) {
		return out
	}
	copy(out[:], decoded)
	return out
}

func lockoutStateOf(identity *IdentityRecord) lockout.State {
	return lockout.State{
		FailedAttempts: identity.FailedAttempts,
		LockedUntil:    identity.LockedUntil,
	}
}

// consumeBudget burns one point from a rate-limit scope. A denied budget
// returns a RateLimitError carrying the retry hint; an empty identifier is
// skipped (no IP behind some proxies, for example). Counter-store failures
// fail closed.
func (e *Engine) consumeBudget(ctx context.Context, scope ratelimit.Scope, tenantID, identifier string) error {
	if e.limiter == nil || identifier == "" {
		return nil
	}

	decision, err := e.limiter.Consume(ctx, scope, identifier)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if decision.Allowed {
		return nil
	}

	e.emitRateLimit(ctx, scope, tenantID, identifier)
	return &RateLimitError{Scope: scope, RetryAfter: decision.RetryAfter}
}

func mapSessionErr(err error) error {
	if errors.Is(err, session.ErrRedisUnavailable) {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return err
}
