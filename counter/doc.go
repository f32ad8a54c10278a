// Package counter provides the shared atomic counter primitive behind rate
// limiting: increment-with-expiry, read, and delete on TTL-scoped keys.
//
// # Backends
//
// Two implementations of [Store] exist and are chosen once at engine build
// time: [RedisStore] for cluster-wide enforcement and [MemoryStore] for
// per-process enforcement. [Failover] layers the two so a Redis outage
// degrades to per-process limits instead of failing open or closed; every
// degraded call is observable through the logger and the fallback count.
//
// # Window semantics
//
// Fixed windows: the increment that creates a key also starts its TTL, and the
// TTL is returned with every call so callers can derive the window reset time
// without a second round trip. A counter key always carries a TTL.
package counter
