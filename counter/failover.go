package counter

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// How often the degraded-mode warning may repeat while the primary stays down.
const failoverLogCooldown = 30 * time.Second

// Failover serves every call from the primary store and degrades to the
// fallback when the primary errors. Context cancellation is not an outage:
// an abandoned request is returned as-is, never retried against the fallback.
//
// The degradation is deliberate policy, not best-effort: limits keep being
// enforced per process instead of failing open (no limits) or closed
// (rejecting all traffic while Redis is down).
type Failover struct {
	primary  Store
	fallback Store
	log      *zap.Logger

	// OnFallback, when set, is invoked once per degraded call. The exporters
	// already publish the running total via FallbackCount; the hook is for
	// callers that want to alert on individual degradations.
	OnFallback func()

	fallbacks  atomic.Uint64
	lastLogged atomic.Int64
}

func NewFailover(primary, fallback Store, logger *zap.Logger) *Failover {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Failover{
		primary:  primary,
		fallback: fallback,
		log:      logger,
	}
}

// FallbackCount reports how many calls have been served by the fallback since
// construction.
func (f *Failover) FallbackCount() uint64 {
	return f.fallbacks.Load()
}

func (f *Failover) IncrementWithExpiry(ctx context.Context, key string, amount int64, window time.Duration) (int64, time.Duration, error) {
	value, ttl, err := f.primary.IncrementWithExpiry(ctx, key, amount, window)
	if err == nil || !f.shouldDegrade(ctx, err) {
		return value, ttl, err
	}

	f.noteDegraded("increment", err)
	return f.fallback.IncrementWithExpiry(ctx, key, amount, window)
}

func (f *Failover) Get(ctx context.Context, key string) (int64, time.Duration, error) {
	value, ttl, err := f.primary.Get(ctx, key)
	if err == nil || !f.shouldDegrade(ctx, err) {
		return value, ttl, err
	}

	f.noteDegraded("get", err)
	return f.fallback.Get(ctx, key)
}

func (f *Failover) Delete(ctx context.Context, key string) error {
	err := f.primary.Delete(ctx, key)
	if err == nil || !f.shouldDegrade(ctx, err) {
		return err
	}

	f.noteDegraded("delete", err)
	return f.fallback.Delete(ctx, key)
}

func (f *Failover) shouldDegrade(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

func (f *Failover) noteDegraded(op string, err error) {
	f.fallbacks.Add(1)
	if f.OnFallback != nil {
		f.OnFallback()
	}

	now := time.Now().UnixNano()
	last := f.lastLogged.Load()
	if now-last < int64(failoverLogCooldown) {
		return
	}
	if f.lastLogged.CompareAndSwap(last, now) {
		f.log.Warn("counter store degraded to process-local fallback",
			zap.String("op", op),
			zap.Error(err),
		)
	}
}
