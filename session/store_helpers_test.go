package session

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// newSessionStoreTest starts a throwaway miniredis and returns a store with
// sliding renewal on and jitter off, so TTL math in tests stays exact.
func newSessionStoreTest(t *testing.T) (*Store, *redis.Client, *miniredis.Miniredis, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewStore(rdb, "as", true, false, 0)
	return store, rdb, mr, func() {
		rdb.Close()
		mr.Close()
	}
}

// testSession returns a one-hour session for tenant t-1 / identity u-1.
// Tests mutate the identifiers they care about.
func testSession() *Session {
	now := time.Now()
	return &Session{
		SessionID:   "sid-1",
		IdentityID:  "u-1",
		TenantID:    "t-1",
		IP:          "203.0.113.10",
		UserAgent:   "Mozilla/5.0 (X11; Linux x86_64)",
		RefreshHash: [32]byte{1},
		Fingerprint: [32]byte{2},
		CreatedAt:   now.Unix(),
		LastSeenAt:  now.Unix(),
		ExpiresAt:   now.Add(time.Hour).Unix(),
	}
}
