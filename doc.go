// Package authcore implements the authentication, session and abuse-control
// engine for a multi-tenant SaaS backend: credential login with progressive
// lockout, JWT access tokens over Redis-backed sessions with rotating opaque
// refresh tokens, TOTP second factors with single-use backup codes, and
// enumeration-resistant password-reset and email-verification flows.
//
// The package is built for concurrent server workloads: Engine methods are
// safe to call from multiple goroutines once [Builder.Build] returns.
//
// # Architecture boundaries
//
// authcore is the public surface. It exposes [Engine], [Builder], [Config]
// and value types (AuthContext, SessionInfo, MetricsSnapshot, AuditEvent).
// Token encoding, fingerprinting and hashing primitives live under
// internal/; the session, ratelimit, lockout, twofactor, password, jwt and
// counter packages are importable on their own but the Engine is the only
// component that coordinates them.
//
// # What this package must NOT do
//
//   - Store or log plaintext passwords, refresh secrets, TOTP secrets or
//     backup codes beyond the single response that delivers them.
//   - Leak account existence: reset and verification requests answer
//     identically for known and unknown addresses.
//   - Trust a tenant ID from the request context over the one stored on the
//     identity record.
//
// # Performance contract
//
// Authenticate is the hot path: one JWT verification plus one Redis
// round-trip, and a second round-trip only when the idle window is renewed.
// Login, Refresh and the account operations are allowed a handful of Redis
// round-trips plus one credential-store query each. Rate-limit checks fail
// over to process-local counters when Redis is down rather than blocking.
package authcore
