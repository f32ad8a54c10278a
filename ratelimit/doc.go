// Package ratelimit enforces point-budget quotas per scope and identifier on
// top of a counter.Store.
//
// # Model
//
// Every scope (login per IP, login per email, password reset, registration,
// general API traffic, ...) runs an independent fixed-window budget. Consuming
// returns a typed [Decision] — allowed with the remaining points and window
// reset time, or denied with a retry-after hint. Denial is an expected,
// frequent outcome, so it is never modeled as an error.
//
// # Blocking
//
// A scope whose budget trips can enter a block whose duration is configured
// independently of the counting window, so repeat offenders stay out longer
// than one window. With no block configured, denial simply lasts until the
// window resets.
package ratelimit
