// Package middleware adapts the authcore engine to net/http stacks.
//
// Three middlewares compose in order:
//
//   - [RequestMetadata] — outermost; captures client IP, User-Agent, Accept
//     and Accept-Language into the request context for the engine's rate
//     limiting, fingerprinting, risk scoring and audit trail.
//   - [RateLimit] — consumes a scope budget per request and decorates
//     responses with X-RateLimit-Limit, X-RateLimit-Remaining,
//     X-RateLimit-Reset and, on 429, Retry-After.
//   - [Guard] — verifies the bearer token via Engine.Authenticate and
//     injects the resulting [authcore.AuthContext], retrievable with
//     [AuthFromContext].
//
// The package translates HTTP semantics into engine calls and nothing else:
// it never parses tokens, touches Redis, or makes auth decisions of its own.
package middleware
