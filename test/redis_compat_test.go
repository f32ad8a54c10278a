//go:build integration
// +build integration

package test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/rankwatch/authcore/session"
)

// redisMode describes one Redis backend the contract suite can run against.
type redisMode struct {
	name  string
	setup func(t *testing.T) (redis.UniversalClient, func())
}

// redisModes returns the backends to test. miniredis is always available. A
// real standalone Redis joins when REDIS_ADDR is set, cluster mode when
// REDIS_CLUSTER_ADDRS is set (comma-separated), and sentinel mode when
// REDIS_SENTINEL_ADDRS is set (REDIS_SENTINEL_MASTER defaults to "mymaster").
func redisModes(t *testing.T) []redisMode {
	t.Helper()
	modes := []redisMode{
		{
			name: "miniredis",
			setup: func(t *testing.T) (redis.UniversalClient, func()) {
				t.Helper()
				mr, err := miniredis.Run()
				if err != nil {
					t.Fatalf("miniredis: %v", err)
				}
				rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
				return rdb, func() { _ = rdb.Close(); mr.Close() }
			},
		},
	}

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		modes = append(modes, redisMode{
			name: "standalone:" + addr,
			setup: func(t *testing.T) (redis.UniversalClient, func()) {
				t.Helper()
				rdb := redis.NewClient(&redis.Options{Addr: addr})
				pingOrSkip(t, rdb, addr)
				// Flush the test DB so state never leaks between runs.
				rdb.FlushDB(context.Background())
				return rdb, func() { rdb.FlushDB(context.Background()); _ = rdb.Close() }
			},
		})
	}

	if addrs := os.Getenv("REDIS_CLUSTER_ADDRS"); addrs != "" {
		modes = append(modes, redisMode{
			name: "cluster",
			setup: func(t *testing.T) (redis.UniversalClient, func()) {
				t.Helper()
				rdb := redis.NewClusterClient(&redis.ClusterOptions{Addrs: splitAddrs(addrs)})
				pingOrSkip(t, rdb, addrs)
				return rdb, func() { _ = rdb.Close() }
			},
		})
	}

	if addrs := os.Getenv("REDIS_SENTINEL_ADDRS"); addrs != "" {
		master := os.Getenv("REDIS_SENTINEL_MASTER")
		if master == "" {
			master = "mymaster"
		}
		modes = append(modes, redisMode{
			name: "sentinel",
			setup: func(t *testing.T) (redis.UniversalClient, func()) {
				t.Helper()
				rdb := redis.NewFailoverClient(&redis.FailoverOptions{
					MasterName:    master,
					SentinelAddrs: splitAddrs(addrs),
				})
				pingOrSkip(t, rdb, addrs)
				rdb.FlushDB(context.Background())
				return rdb, func() { rdb.FlushDB(context.Background()); _ = rdb.Close() }
			},
		})
	}

	return modes
}

func pingOrSkip(t *testing.T, rdb redis.UniversalClient, target string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skipf("cannot reach Redis at %s: %v", target, err)
	}
}

func splitAddrs(s string) []string {
	var addrs []string
	for _, a := range strings.Split(s, ",") {
		if a = strings.TrimSpace(a); a != "" {
			addrs = append(addrs, a)
		}
	}
	return addrs
}

// TestRedisBackendContract runs every session-store consistency check
// against every reachable Redis flavor. Each check owns a tenant namespace
// so they can share one database.
func TestRedisBackendContract(t *testing.T) {
	checks := []struct {
		name string
		run  func(t *testing.T, ctx context.Context, store *session.Store)
	}{
		{"rotate-then-replay", checkRotateThenReplay},
		{"rotate-race-single-winner", checkRotateRaceSingleWinner},
		{"mismatch-destroys-session", checkMismatchDestroysSession},
		{"counter-floor-after-mismatch", checkCounterFloorAfterMismatch},
		{"delete-idempotent", checkDeleteIdempotent},
		{"read-round-trip", checkReadRoundTrip},
		{"tenant-counter-tracks-lifecycle", checkTenantCounterTracksLifecycle},
	}

	for _, mode := range redisModes(t) {
		t.Run(mode.name, func(t *testing.T) {
			rdb, cleanup := mode.setup(t)
			defer cleanup()
			store := session.NewStore(rdb, "as", true, false, 0)

			for _, check := range checks {
				t.Run(check.name, func(t *testing.T) {
					check.run(t, context.Background(), store)
				})
			}
		})
	}
}

func checkRotateThenReplay(t *testing.T, ctx context.Context, store *session.Store) {
	oldHash, newHash := hashByte(0x01), hashByte(0x02)
	if err := store.Save(ctx, makeSession("t-rot", "u1", "sid-rot", oldHash), time.Hour); err != nil {
		t.Fatalf("save: %v", err)
	}

	rotated, err := store.RotateRefreshHash(ctx, "t-rot", "sid-rot", oldHash, newHash)
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if rotated.RefreshHash != newHash {
		t.Error("rotated session should carry the new refresh hash")
	}

	// Replaying the pre-rotation hash must be treated as reuse.
	if _, err := store.RotateRefreshHash(ctx, "t-rot", "sid-rot", oldHash, hashByte(0x03)); !errors.Is(err, session.ErrRefreshHashMismatch) {
		t.Errorf("expected ErrRefreshHashMismatch on replay, got %v", err)
	}
}

func checkRotateRaceSingleWinner(t *testing.T, ctx context.Context, store *session.Store) {
	current := hashByte(0x40)
	if err := store.Save(ctx, makeSession("t-race", "u1", "sid-race", current), time.Hour); err != nil {
		t.Fatalf("save: %v", err)
	}

	const workers = 16
	start := make(chan struct{})
	results := make(chan error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(next [32]byte) {
			defer wg.Done()
			<-start
			_, err := store.RotateRefreshHash(ctx, "t-race", "sid-race", current, next)
			results <- err
		}(hashByte(byte(0x41 + i)))
	}
	close(start)
	wg.Wait()
	close(results)

	winners := 0
	for err := range results {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, session.ErrRefreshHashMismatch), errors.Is(err, redis.Nil):
		default:
			t.Fatalf("unexpected rotate error: %v", err)
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one rotation winner, got %d", winners)
	}
}

func checkMismatchDestroysSession(t *testing.T, ctx context.Context, store *session.Store) {
	if err := store.Save(ctx, makeSession("t-dstr", "u1", "sid-dstr", hashByte(0x10)), time.Hour); err != nil {
		t.Fatalf("save: %v", err)
	}

	if _, err := store.RotateRefreshHash(ctx, "t-dstr", "sid-dstr", hashByte(0x20), hashByte(0x30)); !errors.Is(err, session.ErrRefreshHashMismatch) {
		t.Fatalf("expected ErrRefreshHashMismatch, got %v", err)
	}
	if _, err := store.Get(ctx, "t-dstr", "sid-dstr", time.Hour); !errors.Is(err, redis.Nil) {
		t.Errorf("expected session gone after mismatch, got err=%v", err)
	}
}

func checkCounterFloorAfterMismatch(t *testing.T, ctx context.Context, store *session.Store) {
	if err := store.Save(ctx, makeSession("t-flr", "u1", "sid-flr", hashByte(0x50)), time.Hour); err != nil {
		t.Fatalf("save: %v", err)
	}

	// First wrong hash destroys the session; the second must report
	// not-found without touching the counter again.
	if _, err := store.RotateRefreshHash(ctx, "t-flr", "sid-flr", hashByte(0x51), hashByte(0x52)); !errors.Is(err, session.ErrRefreshHashMismatch) {
		t.Fatalf("expected ErrRefreshHashMismatch, got %v", err)
	}
	if _, err := store.RotateRefreshHash(ctx, "t-flr", "sid-flr", hashByte(0x51), hashByte(0x52)); !errors.Is(err, redis.Nil) {
		t.Fatalf("expected redis.Nil after destroy, got %v", err)
	}

	count, err := store.TenantSessionCount(ctx, "t-flr")
	if err != nil {
		t.Fatalf("TenantSessionCount: %v", err)
	}
	if count < 0 {
		t.Fatalf("tenant counter went negative: %d", count)
	}
}

func checkDeleteIdempotent(t *testing.T, ctx context.Context, store *session.Store) {
	if err := store.Save(ctx, makeSession("t-del", "u1", "sid-del", hashByte(0xAA)), time.Hour); err != nil {
		t.Fatalf("save: %v", err)
	}

	if err := store.Delete(ctx, "t-del", "sid-del"); err != nil {
		t.Fatalf("first delete: %v", err)
	}
	if err := store.Delete(ctx, "t-del", "sid-del"); err != nil {
		t.Fatalf("second delete should be idempotent: %v", err)
	}

	count, err := store.TenantSessionCount(ctx, "t-del")
	if err != nil {
		t.Fatalf("TenantSessionCount: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected tenant counter 0, got %d", count)
	}
}

func checkReadRoundTrip(t *testing.T, ctx context.Context, store *session.Store) {
	want := makeSession("t-read", "u-read", "sid-read", hashByte(0xBB))
	if err := store.Save(ctx, want, time.Hour); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := store.Get(ctx, "t-read", "sid-read", time.Hour)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.SessionID != want.SessionID || got.IdentityID != want.IdentityID || got.TenantID != want.TenantID {
		t.Errorf("identifier mismatch: got %s/%s/%s", got.TenantID, got.IdentityID, got.SessionID)
	}
	if got.IP != want.IP || got.UserAgent != want.UserAgent {
		t.Errorf("request metadata mismatch: got %s / %s", got.IP, got.UserAgent)
	}
	if got.RefreshHash != want.RefreshHash {
		t.Error("refresh hash did not survive the round trip")
	}
}

func checkTenantCounterTracksLifecycle(t *testing.T, ctx context.Context, store *session.Store) {
	for i := 0; i < 3; i++ {
		sid := fmt.Sprintf("sid-cnt-%d", i)
		if err := store.Save(ctx, makeSession("t-cnt", "u-cnt", sid, hashByte(byte(i+1))), time.Hour); err != nil {
			t.Fatalf("save %s: %v", sid, err)
		}
	}

	count, err := store.TenantSessionCount(ctx, "t-cnt")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 3 {
		t.Errorf("expected counter 3 after saves, got %d", count)
	}

	if err := store.Delete(ctx, "t-cnt", "sid-cnt-0"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	count, err = store.TenantSessionCount(ctx, "t-cnt")
	if err != nil {
		t.Fatalf("count after delete: %v", err)
	}
	if count != 2 {
		t.Errorf("expected counter 2 after delete, got %d", count)
	}
}
