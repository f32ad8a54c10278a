package counter

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable wraps backend failures so callers can branch on availability
// without inspecting driver errors.
var ErrUnavailable = errors.New("counter store unavailable")

// Store is the atomic counter primitive shared by all rate-limit scopes.
//
// IncrementWithExpiry must be a single atomic step: the returned value is the
// counter after this call's addition, and when the call opens a fresh window
// it also arms the key's TTL. Two concurrent increments racing on the same key
// must observe distinct values. The returned ttl is the remaining window so
// callers can compute the reset time; Get reports zero value and zero ttl for
// absent keys.
type Store interface {
	IncrementWithExpiry(ctx context.Context, key string, amount int64, window time.Duration) (value int64, ttl time.Duration, err error)
	Get(ctx context.Context, key string) (value int64, ttl time.Duration, err error)
	Delete(ctx context.Context, key string) error
}
