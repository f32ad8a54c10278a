//go:build integration
// +build integration

package test

import (
	"time"

	"github.com/rankwatch/authcore/session"
)

// makeSession builds a one-hour session fixture with fixed request metadata;
// tests vary only the identifiers and refresh hash.
func makeSession(tenantID, identityID, sessionID string, refreshHash [32]byte) *session.Session {
	now := time.Now()
	return &session.Session{
		SessionID:   sessionID,
		IdentityID:  identityID,
		TenantID:    tenantID,
		IP:          "203.0.113.7",
		UserAgent:   "integration/1.0",
		RefreshHash: refreshHash,
		CreatedAt:   now.Unix(),
		LastSeenAt:  now.Unix(),
		ExpiresAt:   now.Add(time.Hour).Unix(),
	}
}

// hashByte fills a refresh hash with one repeated byte so tests can name
// hashes by number.
func hashByte(b byte) [32]byte {
	var out [32]byte
	for i := range out {
		out[i] = b
	}
	return out
}
