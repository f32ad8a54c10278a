package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// TestTenantCounterSurvivesConcurrentChurn hammers one tenant with
// overlapping deletes, failed rotations, and identity-wide revocations.
// Whatever interleaving happens, the tenant counter must stay at or above
// zero and the identity index must empty out with the sessions.
func TestTenantCounterSurvivesConcurrentChurn(t *testing.T) {
	store, _, _, done := newSessionStoreTest(t)
	defer done()
	ctx := context.Background()

	const (
		tenantID   = "t-churn"
		identityID = "u-churn"
		sessions   = 24
		workers    = 16
		rounds     = 100
	)

	seed := func() {
		for i := 0; i < sessions; i++ {
			sess := testSession()
			sess.TenantID = tenantID
			sess.IdentityID = identityID
			sess.SessionID = fmt.Sprintf("sid-%d", i)
			sess.RefreshHash = [32]byte{byte(i + 1)}
			if err := store.Save(ctx, sess, time.Hour); err != nil {
				t.Fatalf("seed session %d: %v", i, err)
			}
		}
	}
	seed()

	churn := func(workerID, round int) error {
		sid := fmt.Sprintf("sid-%d", (workerID*7+round)%sessions)
		switch workerID % 3 {
		case 0:
			return store.Delete(ctx, tenantID, sid)
		case 1:
			wrong := [32]byte{0xFF}
			next := [32]byte{byte(round%254 + 1)}
			_, err := store.RotateRefreshHash(ctx, tenantID, sid, wrong, next)
			if errors.Is(err, ErrRefreshHashMismatch) || errors.Is(err, redis.Nil) {
				return nil
			}
			return err
		default:
			return store.DeleteAllForIdentity(ctx, tenantID, identityID)
		}
	}

	start := make(chan struct{})
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			<-start
			for r := 0; r < rounds; r++ {
				if err := churn(workerID, r); err != nil {
					t.Errorf("worker %d round %d: %v", workerID, r, err)
					return
				}
			}
		}(w)
	}
	close(start)
	wg.Wait()

	count, err := store.TenantSessionCount(ctx, tenantID)
	if err != nil {
		t.Fatalf("TenantSessionCount: %v", err)
	}
	if count < 0 {
		t.Fatalf("counter went negative: %d", count)
	}

	// After the dust settles, one full revocation must leave nothing behind.
	if err := store.DeleteAllForIdentity(ctx, tenantID, identityID); err != nil {
		t.Fatalf("final DeleteAllForIdentity: %v", err)
	}
	live, err := store.ActiveSessionCount(ctx, tenantID, identityID)
	if err != nil {
		t.Fatalf("ActiveSessionCount: %v", err)
	}
	if live != 0 {
		t.Fatalf("expected empty identity index, got %d live sessions", live)
	}
	count, err = store.TenantSessionCount(ctx, tenantID)
	if err != nil {
		t.Fatalf("TenantSessionCount: %v", err)
	}
	if count < 0 {
		t.Fatalf("counter went negative after final revocation: %d", count)
	}
}
