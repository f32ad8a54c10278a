package lockout

import (
	"context"
	"time"
)

// Defaults applied by New for zero Config fields.
const (
	DefaultSoftThreshold = 5
	DefaultHardThreshold = 10
	DefaultSoftDuration  = 30 * time.Minute
	DefaultHardDuration  = 24 * time.Hour
)

// Machine-readable reasons carried on lockout rejections.
const (
	ReasonSoftLocked = "account_soft_locked"
	ReasonHardLocked = "account_hard_locked"
)

// Store persists lockout state onto the identity record. A zero lockedUntil
// means unlocked.
type Store interface {
	UpdateLockoutState(ctx context.Context, identityID string, failedAttempts int, lockedUntil time.Time) error
}

// Config tunes the escalation ladder.
type Config struct {
	SoftThreshold int
	SoftDuration  time.Duration
	HardThreshold int
	HardDuration  time.Duration
}

// State mirrors the lockout columns of one identity as last loaded.
type State struct {
	FailedAttempts int
	LockedUntil    time.Time
}

// Status is the outcome of evaluating a state: locked or not, and if locked,
// why and for how long.
type Status struct {
	Locked     bool
	Reason     string
	RetryAfter time.Duration
}

// Machine applies failure/success transitions and writes the resulting state
// through the store port.
type Machine struct {
	store Store
	cfg   Config
	now   func() time.Time
}

func New(store Store, cfg Config) *Machine {
	if cfg.SoftThreshold <= 0 {
		cfg.SoftThreshold = DefaultSoftThreshold
	}
	if cfg.HardThreshold <= 0 {
		cfg.HardThreshold = DefaultHardThreshold
	}
	if cfg.SoftDuration <= 0 {
		cfg.SoftDuration = DefaultSoftDuration
	}
	if cfg.HardDuration <= 0 {
		cfg.HardDuration = DefaultHardDuration
	}

	return &Machine{
		store: store,
		cfg:   cfg,
		now:   time.Now,
	}
}

// RecordFailure increments the failure count and arms locks at the threshold
// crossings. The soft lock is armed exactly once, when the count reaches the
// soft threshold; repeat failures below the hard threshold leave its duration
// untouched. At and beyond the hard threshold each failure pushes the lock out
// to the full hard duration. A lock is never shortened.
func (m *Machine) RecordFailure(ctx context.Context, identityID string, cur State) (State, error) {
	now := m.now()
	next := cur
	next.FailedAttempts++

	switch {
	case next.FailedAttempts >= m.cfg.HardThreshold:
		next.LockedUntil = laterOf(next.LockedUntil, now.Add(m.cfg.HardDuration))
	case next.FailedAttempts == m.cfg.SoftThreshold:
		next.LockedUntil = laterOf(next.LockedUntil, now.Add(m.cfg.SoftDuration))
	}

	if err := m.store.UpdateLockoutState(ctx, identityID, next.FailedAttempts, next.LockedUntil); err != nil {
		return cur, err
	}
	return next, nil
}

// RecordSuccess zeroes the failure count. An expired lock is cleared along
// with it; an unexpired lock stays armed — a successful credential match
// during an active lock must still be rejected upstream.
func (m *Machine) RecordSuccess(ctx context.Context, identityID string, cur State) (State, error) {
	next := cur
	next.FailedAttempts = 0
	if !next.LockedUntil.IsZero() && !m.now().Before(next.LockedUntil) {
		next.LockedUntil = time.Time{}
	}

	if err := m.store.UpdateLockoutState(ctx, identityID, next.FailedAttempts, next.LockedUntil); err != nil {
		return cur, err
	}
	return next, nil
}

// Evaluate reports whether the identity is locked right now. Expired locks
// self-heal here: the expiry is cleared and persisted, the failure count is
// kept so escalation survives the unlock.
func (m *Machine) Evaluate(ctx context.Context, identityID string, cur State) (Status, error) {
	if cur.LockedUntil.IsZero() {
		return Status{}, nil
	}

	now := m.now()
	if now.Before(cur.LockedUntil) {
		return Status{
			Locked:     true,
			Reason:     m.reasonFor(cur.FailedAttempts),
			RetryAfter: cur.LockedUntil.Sub(now),
		}, nil
	}

	if err := m.store.UpdateLockoutState(ctx, identityID, cur.FailedAttempts, time.Time{}); err != nil {
		return Status{}, err
	}
	return Status{}, nil
}

func (m *Machine) reasonFor(failedAttempts int) string {
	if failedAttempts >= m.cfg.HardThreshold {
		return ReasonHardLocked
	}
	return ReasonSoftLocked
}

func laterOf(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
