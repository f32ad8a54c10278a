// Package session provides Redis-backed session persistence and compact binary
// session encoding for authentication hot paths.
//
// # Binary encoding
//
// Sessions are stored in Redis as a compact binary blob with a fixed header
// (schema version, refresh hash, device fingerprint, timestamps) followed by a
// variable tail. The fixed header lets the Lua scripts rotate refresh hashes
// and stamp lastSeenAt at stable byte offsets without a full decode. The
// encoder is append-only: new schema versions add tail fields but never
// reinterpret old ones, and v1 blobs are migrated forward on read.
//
// # Concurrency cap
//
// Each identity is indexed in a sorted set scored by creation time. Creation
// runs as a single Lua script that prunes dead index entries, evicts the
// oldest sessions beyond the configured cap, and writes the new record, so
// two racing logins can never leave an identity above the cap.
//
// # Architecture boundaries
//
// This package owns the [Store] (Redis operations) and the [Session] model.
// It does NOT mint or verify tokens, score request risk, or enforce
// authentication policy. Those responsibilities belong to the Engine.
package session
