package counter

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestMemoryStoreIncrementAndExpiry(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now()
	store.now = func() time.Time { return now }
	ctx := context.Background()

	value, ttl, err := store.IncrementWithExpiry(ctx, "k", 1, time.Minute)
	if err != nil {
		t.Fatalf("increment failed: %v", err)
	}
	if value != 1 || ttl != time.Minute {
		t.Fatalf("expected 1 / 1m, got %d / %v", value, ttl)
	}

	now = now.Add(30 * time.Second)
	value, ttl, err = store.IncrementWithExpiry(ctx, "k", 1, time.Minute)
	if err != nil {
		t.Fatalf("increment failed: %v", err)
	}
	if value != 2 {
		t.Fatalf("expected 2 within window, got %d", value)
	}
	if ttl != 30*time.Second {
		t.Fatalf("expected remaining 30s, got %v", ttl)
	}

	// Past the window: the counter restarts, it does not carry over.
	now = now.Add(31 * time.Second)
	value, _, err = store.IncrementWithExpiry(ctx, "k", 1, time.Minute)
	if err != nil {
		t.Fatalf("increment failed: %v", err)
	}
	if value != 1 {
		t.Fatalf("expected fresh window value 1, got %d", value)
	}
}

func TestMemoryStoreGetLazyExpiry(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now()
	store.now = func() time.Time { return now }
	ctx := context.Background()

	if _, _, err := store.IncrementWithExpiry(ctx, "k", 3, time.Minute); err != nil {
		t.Fatalf("increment failed: %v", err)
	}

	value, ttl, err := store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if value != 3 || ttl != time.Minute {
		t.Fatalf("expected 3 / 1m, got %d / %v", value, ttl)
	}

	now = now.Add(2 * time.Minute)
	value, ttl, err = store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if value != 0 || ttl != 0 {
		t.Fatalf("expected expired key to read zero, got %d / %v", value, ttl)
	}
}

func TestMemoryStoreDelete(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if _, _, err := store.IncrementWithExpiry(ctx, "k", 1, time.Minute); err != nil {
		t.Fatalf("increment failed: %v", err)
	}
	if err := store.Delete(ctx, "k"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	value, _, err := store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if value != 0 {
		t.Fatalf("expected zero after delete, got %d", value)
	}
}

func TestMemoryStoreConcurrentIncrements(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	const workers = 64
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			if _, _, err := store.IncrementWithExpiry(ctx, "k", 1, time.Minute); err != nil {
				t.Errorf("increment failed: %v", err)
			}
		}()
	}
	wg.Wait()

	value, _, err := store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if value != workers {
		t.Fatalf("expected %d after concurrent increments, got %d", workers, value)
	}
}

func TestMemoryStoreSweepBoundsMap(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now()
	store.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < memorySweepThreshold; i++ {
		key := fmt.Sprintf("k%d", i)
		if _, _, err := store.IncrementWithExpiry(ctx, key, 1, time.Second); err != nil {
			t.Fatalf("increment failed: %v", err)
		}
	}

	// All previous windows expire; the write that crosses the threshold
	// sweeps them out.
	now = now.Add(2 * time.Second)
	if _, _, err := store.IncrementWithExpiry(ctx, "fresh", 1, time.Minute); err != nil {
		t.Fatalf("increment failed: %v", err)
	}

	store.mu.Lock()
	size := len(store.entries)
	store.mu.Unlock()
	if size != 1 {
		t.Fatalf("expected sweep to leave 1 live entry, got %d", size)
	}
}
