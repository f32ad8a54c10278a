// Package lockout implements the progressive account lockout state machine.
//
// # States
//
// Unlocked → SoftLocked (failure count crosses the soft threshold) →
// HardLocked (count crosses the hard threshold, superseding any shorter
// lock) → auto-unlock at expiry. Expired locks are cleared lazily when the
// state is next evaluated; there is no background sweeper. The failure count
// is reset to zero only by a successful authentication and survives lock
// expiry, so escalation continues across an expired soft lock.
//
// # Persistence
//
// State lives on the identity record (failed-attempt count + lockout expiry)
// and is written through the narrow [Store] port. The machine itself holds no
// per-identity state and is safe for concurrent use.
package lockout
