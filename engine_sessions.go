package authcore

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Logout revokes a single session. Revoking a session that is already gone
// succeeds; the caller's goal state is "not logged in" either way.
func (e *Engine) Logout(ctx context.Context, sessionID string) error {
	if e == nil || e.sessions == nil {
		return ErrEngineNotReady
	}

	tenantID := tenantIDFromContext(ctx)
	err := mapSessionErr(e.sessions.Delete(ctx, tenantID, sessionID))
	if err == nil {
		e.metricInc(MetricLogout)
		e.metricInc(MetricSessionInvalidated)
	}
	e.emitAudit(ctx, auditEventLogout, err == nil, "", tenantID, sessionID, err, nil)
	return err
}

// LogoutAll revokes every session an identity holds in the caller's tenant.
func (e *Engine) LogoutAll(ctx context.Context, identityID string) error {
	if e == nil || e.sessions == nil {
		return ErrEngineNotReady
	}
	return e.revokeAllSessions(ctx, tenantIDFromContext(ctx), identityID)
}

// revokeAllSessions is LogoutAll with an explicit tenant, shared with the
// password-change and reset-completion paths where the identity's stored
// tenant takes precedence over the request context.
func (e *Engine) revokeAllSessions(ctx context.Context, tenantID, identityID string) error {
	err := mapSessionErr(e.sessions.DeleteAllForIdentity(ctx, tenantID, identityID))
	if err == nil {
		e.metricInc(MetricLogoutAll)
		e.metricInc(MetricSessionInvalidated)
	}
	e.emitAudit(ctx, auditEventLogoutAll, err == nil, identityID, tenantID, "", err, nil)
	return err
}

// RevokeAllForIdentity revokes every session an identity holds. Alias for
// LogoutAll kept for administrative call sites.
func (e *Engine) RevokeAllForIdentity(ctx context.Context, identityID string) error {
	return e.LogoutAll(ctx, identityID)
}

// RevokeSession revokes one named session of an identity, backing "sign out
// that device" actions. A session belonging to a different identity is
// reported as not found. Revoking an already-gone session succeeds.
func (e *Engine) RevokeSession(ctx context.Context, identityID, sessionID string) error {
	if e == nil || e.sessions == nil {
		return ErrEngineNotReady
	}

	tenantID := tenantIDFromContext(ctx)

	sess, err := e.sessions.GetReadOnly(ctx, tenantID, sessionID)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return mapSessionErr(err)
	}
	if sess.IdentityID != identityID {
		return ErrSessionNotFound
	}

	err = mapSessionErr(e.sessions.Delete(ctx, tenantID, sessionID))
	if err == nil {
		e.metricInc(MetricSessionInvalidated)
	}
	e.emitAudit(ctx, auditEventSessionRevoked, err == nil, identityID, tenantID, sessionID, err, nil)
	return err
}

// ListSessions returns the identity's active sessions, oldest first, with
// the request metadata captured at each login so the owner can recognize
// their devices. Reads only; TTLs are not renewed.
func (e *Engine) ListSessions(ctx context.Context, identityID string) ([]SessionInfo, error) {
	if e == nil || e.sessions == nil {
		return nil, ErrEngineNotReady
	}

	tenantID := tenantIDFromContext(ctx)

	ids, err := e.sessions.ActiveSessionIDs(ctx, tenantID, identityID)
	if err != nil {
		return nil, mapSessionErr(err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	sessions, err := e.sessions.GetManyReadOnly(ctx, tenantID, ids)
	if err != nil {
		return nil, mapSessionErr(err)
	}

	infos := make([]SessionInfo, 0, len(sessions))
	for _, sess := range sessions {
		if sess == nil || sess.IdentityID != identityID {
			continue
		}
		infos = append(infos, SessionInfo{
			SessionID:  sess.SessionID,
			IP:         sess.IP,
			UserAgent:  sess.UserAgent,
			CreatedAt:  time.Unix(sess.CreatedAt, 0),
			LastSeenAt: time.Unix(sess.LastSeenAt, 0),
			ExpiresAt:  time.Unix(sess.ExpiresAt, 0),
		})
	}
	return infos, nil
}
