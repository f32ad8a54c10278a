package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rankwatch/authcore/counter"
)

// ErrUnknownScope is returned when a scope has no configured budget. This is
// a wiring bug, not a runtime condition.
var ErrUnknownScope = errors.New("rate limit scope not configured")

// Scope names an independent budget family. Identifiers within a scope share
// nothing with other scopes.
type Scope string

const (
	ScopeAPI         Scope = "api"
	ScopeLoginIP     Scope = "login_ip"
	ScopeLoginEmail  Scope = "login_email"
	ScopeResetIP     Scope = "reset_ip"
	ScopeResetEmail  Scope = "reset_email"
	ScopeRegisterIP  Scope = "register_ip"
	ScopeTwoFactor   Scope = "twofactor"
	ScopeBackupCode  Scope = "backup"
	ScopeEmailVerify Scope = "verify_email"
)

// Budget tunes one scope. Block is how long the scope stays denied after the
// budget trips; it is independent of Window and may exceed it. Zero means no
// block: denial ends when the window resets.
type Budget struct {
	Points int
	Window time.Duration
	Block  time.Duration
}

// Decision is the outcome of one consume call. RetryAfter is zero when
// Allowed; ResetAt is when the caller regains budget.
type Decision struct {
	Allowed    bool
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// Limiter runs all configured scope budgets against one counter store. It is
// built once at engine start and is safe for concurrent use.
type Limiter struct {
	counters counter.Store
	budgets  map[Scope]Budget
}

func New(counters counter.Store, budgets map[Scope]Budget) *Limiter {
	owned := make(map[Scope]Budget, len(budgets))
	for scope, budget := range budgets {
		owned[scope] = budget
	}
	return &Limiter{counters: counters, budgets: owned}
}

// Budget reports the configured budget for a scope.
func (l *Limiter) Budget(scope Scope) (Budget, bool) {
	b, ok := l.budgets[scope]
	return b, ok
}

// Consume burns one point of the scope's budget for the identifier. The
// decision of whether the point existed is made inside the counter store in a
// single atomic step, so two racing requests cannot both take the last point.
func (l *Limiter) Consume(ctx context.Context, scope Scope, identifier string) (Decision, error) {
	budget, ok := l.budgets[scope]
	if !ok {
		return Decision{}, fmt.Errorf("%w: %q", ErrUnknownScope, scope)
	}

	now := time.Now()

	if budget.Block > 0 {
		blocked, ttl, err := l.counters.Get(ctx, blockKey(scope, identifier))
		if err != nil {
			return Decision{}, err
		}
		if blocked > 0 {
			return denied(now, ttl), nil
		}
	}

	value, ttl, err := l.counters.IncrementWithExpiry(ctx, counterKey(scope, identifier), 1, budget.Window)
	if err != nil {
		return Decision{}, err
	}

	if value <= int64(budget.Points) {
		return Decision{
			Allowed:   true,
			Remaining: budget.Points - int(value),
			ResetAt:   now.Add(ttl),
		}, nil
	}

	retryAfter := ttl
	if budget.Block > 0 {
		// Arm the block. Only the first tripping call starts its TTL; later
		// ones inherit the remaining duration.
		_, blockTTL, err := l.counters.IncrementWithExpiry(ctx, blockKey(scope, identifier), 1, budget.Block)
		if err != nil {
			return Decision{}, err
		}
		retryAfter = blockTTL
	}

	return denied(now, retryAfter), nil
}

// Reset clears the identifier's window counter, restoring the full budget.
// An armed block is left in place: a block outlives counter resets.
func (l *Limiter) Reset(ctx context.Context, scope Scope, identifier string) error {
	if _, ok := l.budgets[scope]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownScope, scope)
	}
	return l.counters.Delete(ctx, counterKey(scope, identifier))
}

// Unblock lifts an armed block and clears the counter. Operator escape hatch.
func (l *Limiter) Unblock(ctx context.Context, scope Scope, identifier string) error {
	if _, ok := l.budgets[scope]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownScope, scope)
	}
	if err := l.counters.Delete(ctx, blockKey(scope, identifier)); err != nil {
		return err
	}
	return l.counters.Delete(ctx, counterKey(scope, identifier))
}

func denied(now time.Time, retryAfter time.Duration) Decision {
	if retryAfter < time.Second {
		// Sub-second remainders round up so Retry-After headers never say 0.
		retryAfter = time.Second
	}
	return Decision{
		Allowed:    false,
		Remaining:  0,
		ResetAt:    now.Add(retryAfter),
		RetryAfter: retryAfter,
	}
}

func counterKey(scope Scope, identifier string) string {
	return "rl:c:" + string(scope) + ":" + identifier
}

func blockKey(scope Scope, identifier string) string {
	return "rl:b:" + string(scope) + ":" + identifier
}
