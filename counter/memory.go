package counter

import (
	"context"
	"sync"
	"time"
)

// Entries beyond this count trigger an inline sweep of expired keys on the
// next write. Keeps the map bounded without a background goroutine.
const memorySweepThreshold = 4096

type memoryEntry struct {
	value     int64
	expiresAt time.Time
}

// MemoryStore implements Store with a process-local map. It trades
// cluster-wide enforcement for availability: counters are per instance and
// vanish on restart. Expiry is lazy — checked on access and swept inline when
// the map grows past a threshold.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (s *MemoryStore) IncrementWithExpiry(ctx context.Context, key string, amount int64, window time.Duration) (int64, time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	entry, ok := s.entries[key]
	if !ok || !now.Before(entry.expiresAt) {
		entry = memoryEntry{value: amount, expiresAt: now.Add(window)}
	} else {
		entry.value += amount
	}
	s.entries[key] = entry

	if len(s.entries) > memorySweepThreshold {
		s.sweepLocked(now)
	}

	return entry.value, entry.expiresAt.Sub(now), nil
}

func (s *MemoryStore) Get(ctx context.Context, key string) (int64, time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	entry, ok := s.entries[key]
	if !ok {
		return 0, 0, nil
	}
	if !now.Before(entry.expiresAt) {
		delete(s.entries, key)
		return 0, 0, nil
	}

	return entry.value, entry.expiresAt.Sub(now), nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key)
	return nil
}

func (s *MemoryStore) sweepLocked(now time.Time) {
	for key, entry := range s.entries {
		if !now.Before(entry.expiresAt) {
			delete(s.entries, key)
		}
	}
}
