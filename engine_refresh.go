package authcore

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rankwatch/authcore/internal"
	"github.com/rankwatch/authcore/session"
)

// Refresh exchanges a refresh token for a fresh token pair, rotating the
// refresh secret in one atomic compare-and-swap.
//
// Presenting an already-rotated secret is treated as theft evidence: the
// session and every other session of the same identity are revoked, and the
// caller gets ErrRefreshReuse. Both the old and new refresh tokens are dead
// from that point.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if e == nil || e.sessions == nil || e.jwtManager == nil {
		return nil, ErrEngineNotReady
	}

	tenantID := tenantIDFromContext(ctx)

	sessionID, providedSecret, err := internal.DecodeRefreshToken(refreshToken)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, "", tenantID, "", ErrTokenMalformed, func() map[string]string {
			return map[string]string{
				"detail": "decode_failed",
			}
		})
		return nil, ErrTokenMalformed
	}

	nextSecret, err := internal.NewRefreshSecret()
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		return nil, err
	}

	sess, err := e.sessions.RotateRefreshHash(
		ctx,
		tenantID,
		sessionID,
		internal.HashRefreshSecret(providedSecret),
		internal.HashRefreshSecret(nextSecret),
	)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrRefreshHashMismatch):
			return nil, e.handleRefreshReuse(ctx, tenantID, sessionID, sess)
		case errors.Is(err, redis.Nil):
			e.metricInc(MetricRefreshFailure)
			e.emitAudit(ctx, auditEventRefreshInvalid, false, "", tenantID, sessionID, ErrSessionRevoked, func() map[string]string {
				return map[string]string{
					"detail": "session_gone",
				}
			})
			return nil, ErrSessionRevoked
		default:
			e.metricInc(MetricRefreshFailure)
			e.emitAudit(ctx, auditEventRefreshInvalid, false, "", tenantID, sessionID, err, nil)
			return nil, mapSessionErr(err)
		}
	}

	access, err := e.issueAccessToken(sess)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, sess.IdentityID, sess.TenantID, sess.SessionID, err, func() map[string]string {
			return map[string]string{
				"detail": "issue_access_failed",
			}
		})
		return nil, err
	}

	refresh, err := internal.EncodeRefreshToken(sess.SessionID, nextSecret)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		return nil, err
	}

	if e.config.Session.SlidingRenewal {
		// Rotation preserved the key's TTL; a refresh still counts as
		// activity for the idle window. Best-effort.
		if err := e.sessions.Touch(ctx, tenantID, sess.SessionID, e.config.Session.IdleTimeout); err != nil {
			e.logger.Debug("session touch failed",
				zap.String("session_id", sess.SessionID),
				zap.Error(err),
			)
		}
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditEventRefreshSuccess, true, sess.IdentityID, sess.TenantID, sess.SessionID, nil, nil)

	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
	}, nil
}

// handleRefreshReuse escalates a rotation mismatch. The store already
// destroyed the presented session; when the stale record was decodable the
// blast radius widens to every session of that identity.
func (e *Engine) handleRefreshReuse(ctx context.Context, tenantID, sessionID string, stale *session.Session) error {
	e.metricInc(MetricRefreshReuseDetected)
	e.metricInc(MetricRefreshFailure)
	e.metricInc(MetricSessionInvalidated)

	if err := e.sessions.TrackReplayAnomaly(ctx, sessionID, e.sessionLifetime()); err != nil {
		e.logger.Warn("replay anomaly tracking failed",
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
	}

	identityID := ""
	if stale != nil {
		identityID = stale.IdentityID
		if err := e.sessions.DeleteAllForIdentity(ctx, stale.TenantID, stale.IdentityID); err != nil {
			e.logger.Error("identity-wide revocation after refresh reuse failed",
				zap.String("identity_id", stale.IdentityID),
				zap.Error(err),
			)
		}
	}

	e.emitAudit(ctx, auditEventRefreshReuseDetected, false, identityID, tenantID, sessionID, ErrRefreshReuse, nil)
	return ErrRefreshReuse
}
