package session

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRefreshHashMismatch is returned when a rotation is attempted with a
// refresh hash that does not match the stored one. The session is destroyed
// as a side effect; callers treat this as evidence of token reuse.
var ErrRefreshHashMismatch = errors.New("refresh hash mismatch")

// ErrRedisUnavailable wraps transport-level Redis failures.
var ErrRedisUnavailable = errors.New("redis unavailable")

// ErrRefreshSessionNotFound is returned when the refresh target session does not exist.
var ErrRefreshSessionNotFound = errors.New("refresh session not found")

// ErrRefreshSessionExpired is returned when the refresh target session is expired.
var ErrRefreshSessionExpired = errors.New("refresh session expired")

// ErrRefreshSessionCorrupt is returned when the refresh target session blob is invalid.
var ErrRefreshSessionCorrupt = errors.New("refresh session corrupt")

// ErrSessionCorrupt is returned when a stored session blob fails structural checks.
var ErrSessionCorrupt = errors.New("session blob corrupt")

const minSlidingTTL = time.Second

const (
	rotateStatusNotFound    int64 = 0
	rotateStatusExpired     int64 = 1
	rotateStatusMismatch    int64 = 2
	rotateStatusRotated     int64 = 3
	rotateStatusInvalidBlob int64 = 4
)

const (
	touchStatusNotFound int64 = 0
	touchStatusTouched  int64 = 1
	touchStatusExpired  int64 = 2
	touchStatusCorrupt  int64 = -1
)

// Shared Lua fragments. The binary blob layout is fixed for all schema
// versions: version byte at 1, refresh hash at 2..33, fingerprint at
// 34..65, createdAt/lastSeenAt/expiresAt as big-endian 64-bit at 66, 74,
// and 82, identity length byte at 90 followed by the identity itself.
const luaHelpers = `
local function read_be64(s, i)
  local b1 = string.byte(s, i)
  local b2 = string.byte(s, i + 1)
  local b3 = string.byte(s, i + 2)
  local b4 = string.byte(s, i + 3)
  local b5 = string.byte(s, i + 4)
  local b6 = string.byte(s, i + 5)
  local b7 = string.byte(s, i + 6)
  local b8 = string.byte(s, i + 7)
  if not b8 then
    return nil
  end
  return ((((((((b1 * 256) + b2) * 256 + b3) * 256 + b4) * 256 + b5) * 256 + b6) * 256 + b7) * 256 + b8)
end

local function write_be64(n)
  local bytes = {}
  for i = 8, 1, -1 do
    bytes[i] = n % 256
    n = math.floor(n / 256)
  end
  return string.char(bytes[1], bytes[2], bytes[3], bytes[4], bytes[5], bytes[6], bytes[7], bytes[8])
end

local function decrement_count(count_key)
  local count = tonumber(redis.call("GET", count_key) or "0")
  if count > 1 then
    redis.call("DECR", count_key)
  elseif count == 1 then
    redis.call("DEL", count_key)
  end
end

local function parse_identity(data)
  if #data < 90 then
    return nil
  end
  local version = string.byte(data, 1)
  if version < 1 or version > 2 then
    return nil
  end
  local id_len = string.byte(data, 90)
  if not id_len or id_len == 0 or #data < 90 + id_len then
    return nil
  end
  return string.sub(data, 91, 90 + id_len)
end
`

const createSessionScript = luaHelpers + `
local index_key = KEYS[1]
local count_key = KEYS[2]
local session_id = ARGV[1]
local blob = ARGV[2]
local px = tonumber(ARGV[3])
local max_sessions = tonumber(ARGV[4])
local score = tonumber(ARGV[5])
local key_prefix = ARGV[6]

local tracked = redis.call("ZRANGE", index_key, 0, -1)
for _, sid in ipairs(tracked) do
  if redis.call("EXISTS", key_prefix .. sid) == 0 then
    redis.call("ZREM", index_key, sid)
    decrement_count(count_key)
  end
end

local evicted = {}
if max_sessions > 0 then
  local active = redis.call("ZCARD", index_key)
  if active >= max_sessions then
    local excess = active - max_sessions + 1
    local oldest = redis.call("ZRANGE", index_key, 0, excess - 1)
    for _, sid in ipairs(oldest) do
      if redis.call("DEL", key_prefix .. sid) == 1 then
        decrement_count(count_key)
      end
      redis.call("ZREM", index_key, sid)
      table.insert(evicted, sid)
    end
  end
end

redis.call("SET", key_prefix .. session_id, blob, "PX", px)
redis.call("ZADD", index_key, score, session_id)
redis.call("INCR", count_key)
return evicted
`

var createSessionLua = redis.NewScript(createSessionScript)

const deleteSessionScript = `
local existed = redis.call("EXISTS", KEYS[1])
redis.call("ZREM", KEYS[2], ARGV[1])
if existed == 1 then
  redis.call("DEL", KEYS[1])
  local count = tonumber(redis.call("GET", KEYS[3]) or "0")
  if count > 1 then
    redis.call("DECR", KEYS[3])
  elseif count == 1 then
    redis.call("DEL", KEYS[3])
  end
end
return existed
`

var deleteSessionLua = redis.NewScript(deleteSessionScript)

const touchSessionScript = luaHelpers + `
local session_key = KEYS[1]
local count_key = KEYS[2]
local session_id = ARGV[1]
local identity_prefix = ARGV[2]
local now_unix = tonumber(ARGV[3])
local sliding_px = tonumber(ARGV[4])

local data = redis.call("GET", session_key)
if not data then
  return 0
end

local identity = parse_identity(data)
if not identity then
  return -1
end
local index_key = identity_prefix .. identity

local expires_at = read_be64(data, 82)
local remaining_ms = (expires_at - now_unix) * 1000
if remaining_ms <= 0 then
  if redis.call("DEL", session_key) == 1 then
    decrement_count(count_key)
  end
  redis.call("ZREM", index_key, session_id)
  return 2
end

local px = sliding_px
if px <= 0 or px > remaining_ms then
  px = remaining_ms
end

local updated = string.sub(data, 1, 73) .. write_be64(now_unix) .. string.sub(data, 82)
redis.call("SET", session_key, updated, "PX", px)
return 1
`

var touchSessionLua = redis.NewScript(touchSessionScript)

const rotateRefreshScript = luaHelpers + `
local session_key = KEYS[1]
local count_key = KEYS[2]
local session_id = ARGV[1]
local identity_prefix = ARGV[2]
local provided_hash = ARGV[3]
local next_hash = ARGV[4]
local now_unix = tonumber(ARGV[5])

local data = redis.call("GET", session_key)
if not data then
  return {0}
end

local identity = parse_identity(data)
if not identity then
  return {4}
end
local index_key = identity_prefix .. identity

local function destroy()
  if redis.call("DEL", session_key) == 1 then
    decrement_count(count_key)
  end
  redis.call("ZREM", index_key, session_id)
end

local expires_at = read_be64(data, 82)
if expires_at <= now_unix then
  destroy()
  return {1}
end

local current_hash = string.sub(data, 2, 33)
if current_hash ~= provided_hash then
  destroy()
  return {2, data}
end

local ttl = redis.call("PTTL", session_key)
if ttl <= 0 then
  destroy()
  return {1}
end

local updated = string.sub(data, 1, 1) .. next_hash .. string.sub(data, 34)
redis.call("SET", session_key, updated, "PX", ttl)
redis.call("ZADD", index_key, "NX", read_be64(data, 66) * 1000000, session_id)
return {3, updated}
`

var rotateRefreshLua = redis.NewScript(rotateRefreshScript)

// Store is a Redis-backed session store that handles persistence, the
// per-identity concurrency cap, sliding-window renewal, and atomic
// refresh-token rotation.
type Store struct {
	redis         redis.UniversalClient
	prefix        string
	sliding       bool
	jitterEnabled bool
	jitterRange   time.Duration
}

// NewStore creates a session [Store] backed by the given Redis client.
// prefix sets the Redis key namespace; sliding, jitterEnabled, and
// jitterRange control expiration behavior.
func NewStore(
	redis redis.UniversalClient,
	prefix string,
	sliding bool,
	jitterEnabled bool,
	jitterRange time.Duration,
) *Store {
	return &Store{
		redis:         redis,
		prefix:        prefix,
		sliding:       sliding,
		jitterEnabled: jitterEnabled,
		jitterRange:   jitterRange,
	}
}

func (s *Store) key(tenantID, sessionID string) string {
	return s.keyPrefix(tenantID) + sessionID
}

func (s *Store) keyPrefix(tenantID string) string {
	return s.prefix + ":" + normalizeTenantID(tenantID) + ":"
}

func (s *Store) identityKey(tenantID, identityID string) string {
	return s.identityKeyPrefix(tenantID) + identityID
}

func (s *Store) identityKeyPrefix(tenantID string) string {
	return "au:" + normalizeTenantID(tenantID) + ":"
}

func (s *Store) tenantCountKey(tenantID string) string {
	return "ast:" + normalizeTenantID(tenantID) + ":count"
}

func (s *Store) replayKey(sessionID string) string {
	return "arp:" + sessionID
}

func (s *Store) deviceAnomalyKey(sessionID, kind string) string {
	return "ada:" + sessionID + ":" + kind
}

func normalizeTenantID(tenantID string) string {
	if tenantID == "" {
		return "0"
	}
	return tenantID
}

// Save persists a [Session] to Redis with the given TTL without enforcing
// the per-identity cap. Most callers should use [Store.Create] instead.
//
//	Performance: 3 Redis commands in one MULTI.
func (s *Store) Save(ctx context.Context, sess *Session, ttl time.Duration) error {
	data, err := Encode(sess)
	if err != nil {
		return err
	}

	sessionKey := s.key(sess.TenantID, sess.SessionID)
	identityKey := s.identityKey(sess.TenantID, sess.IdentityID)
	countKey := s.tenantCountKey(sess.TenantID)

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, sessionKey, data, ttl)
		pipe.ZAdd(ctx, identityKey, redis.Z{Score: indexScoreFromCreatedAt(sess.CreatedAt), Member: sess.SessionID})
		pipe.Incr(ctx, countKey)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return nil
}

// indexScore is the per-identity ZSET score stamped at creation:
// microseconds since epoch from the store's clock, so a burst of logins
// inside the same wall-clock second still orders strictly and eviction
// always picks the true oldest. The blob keeps CreatedAt in seconds;
// indexScoreFromCreatedAt converts it for index entries rebuilt from a blob.
func indexScore() float64 {
	return float64(time.Now().UnixMicro())
}

func indexScoreFromCreatedAt(createdAt int64) float64 {
	return float64(createdAt) * 1e6
}

// Create persists a new [Session] and atomically enforces maxSessions per
// identity, evicting the oldest sessions when the cap would be exceeded.
// Index entries whose blobs already expired are pruned first so natural
// expiry never counts against the cap. Returns the evicted session IDs.
//
//	Performance: 1 Lua EVALSHA; O(cap) commands inside the script.
func (s *Store) Create(ctx context.Context, sess *Session, ttl time.Duration, maxSessions int) ([]string, error) {
	data, err := Encode(sess)
	if err != nil {
		return nil, err
	}

	result, err := createSessionLua.Run(
		ctx,
		s.redis,
		[]string{s.identityKey(sess.TenantID, sess.IdentityID), s.tenantCountKey(sess.TenantID)},
		sess.SessionID,
		data,
		ttl.Milliseconds(),
		maxSessions,
		indexScore(),
		s.keyPrefix(sess.TenantID),
	).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	parts, ok := result.([]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: invalid create script response", ErrRedisUnavailable)
	}

	evicted := make([]string, 0, len(parts))
	for _, part := range parts {
		switch v := part.(type) {
		case string:
			evicted = append(evicted, v)
		case []byte:
			evicted = append(evicted, string(v))
		}
	}
	return evicted, nil
}

// Get retrieves a session by tenant and session ID and, when sliding
// expiration is enabled, renews its TTL up to the remaining absolute
// lifetime. Returns redis.Nil when the session does not exist or has
// passed its absolute expiry.
//
//	Performance: 1 Redis GET plus 1 EXPIRE when sliding.
func (s *Store) Get(ctx context.Context, tenantID, sessionID string, absoluteTTL time.Duration) (*Session, error) {
	key := s.key(tenantID, sessionID)

	data, err := s.redis.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	sess, err := Decode(data)
	if err != nil {
		return nil, err
	}
	sess.SessionID = sessionID

	now := time.Now()
	remainingAbsolute := s.remainingAbsoluteTTL(sess, absoluteTTL, now)
	if remainingAbsolute <= 0 {
		if err := s.deleteSessionAndIndex(ctx, sess.TenantID, sess.IdentityID, sessionID); err != nil {
			return nil, err
		}
		return nil, redis.Nil
	}

	if err := s.maybeMigrateSessionSchema(ctx, key, sess); err != nil {
		return nil, err
	}

	if s.sliding {
		nextTTL, err := s.nextSlidingTTL(remainingAbsolute)
		if err != nil {
			return nil, err
		}

		if err := s.redis.Expire(ctx, key, nextTTL).Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	return sess, nil
}

// Touch atomically stamps lastSeenAt and extends the session TTL by the
// sliding window, clamped to the remaining absolute lifetime. Returns
// redis.Nil when the session is gone or already past absolute expiry.
//
//	Performance: 1 Lua EVALSHA.
func (s *Store) Touch(ctx context.Context, tenantID, sessionID string, sliding time.Duration) error {
	result, err := touchSessionLua.Run(
		ctx,
		s.redis,
		[]string{s.key(tenantID, sessionID), s.tenantCountKey(tenantID)},
		sessionID,
		s.identityKeyPrefix(tenantID),
		time.Now().Unix(),
		sliding.Milliseconds(),
	).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	switch result {
	case touchStatusTouched:
		return nil
	case touchStatusNotFound, touchStatusExpired:
		return redis.Nil
	case touchStatusCorrupt:
		return ErrSessionCorrupt
	default:
		return fmt.Errorf("%w: unknown touch script status", ErrRedisUnavailable)
	}
}

// Delete removes a session from Redis and decrements the session counter.
// Deleting a missing session is a no-op.
//
//	Performance: 1 GET plus 1 Lua EVALSHA.
func (s *Store) Delete(ctx context.Context, tenantID, sessionID string) error {
	key := s.key(tenantID, sessionID)

	data, err := s.redis.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	sess, err := Decode(data)
	if err != nil {
		return err
	}

	return s.deleteSessionAndIndex(ctx, sess.TenantID, sess.IdentityID, sessionID)
}

// DeleteAllForIdentity removes every session an identity holds within a
// tenant.
//
// ATOMICITY NOTE: This operation is NOT fully atomic. It reads the
// identity's session index, checks which sessions still exist (pipeline
// EXISTS), then deletes them (TxPipelined DEL). A session created between
// the read and delete phases will not be captured by this call. In
// practice this race is extremely narrow and only affects logout-all
// semantics; the stray session will expire naturally or be caught by the
// next DeleteAllForIdentity call. Callers requiring stronger guarantees
// can follow up with a counter reconciliation or a second invocation.
func (s *Store) DeleteAllForIdentity(ctx context.Context, tenantID, identityID string) error {
	identityKey := s.identityKey(tenantID, identityID)
	countKey := s.tenantCountKey(tenantID)

	sessionIDs, err := s.redis.ZRange(ctx, identityKey, 0, -1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	sessionKeys := make([]string, 0, len(sessionIDs))
	for _, sessionID := range sessionIDs {
		sessionKeys = append(sessionKeys, s.key(tenantID, sessionID))
	}

	currentCount, err := s.TenantSessionCount(ctx, tenantID)
	if err != nil {
		return err
	}

	var existing int
	if len(sessionKeys) > 0 {
		pipe := s.redis.Pipeline()
		existsCmds := make([]*redis.IntCmd, len(sessionKeys))
		for i, sessionKey := range sessionKeys {
			existsCmds[i] = pipe.Exists(ctx, sessionKey)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		for _, cmd := range existsCmds {
			v, cmdErr := cmd.Result()
			if cmdErr != nil {
				return fmt.Errorf("%w: %v", ErrRedisUnavailable, cmdErr)
			}
			existing += int(v)
		}
	}

	decrement := existing
	if decrement > currentCount {
		decrement = currentCount
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(sessionKeys) > 0 {
			pipe.Del(ctx, sessionKeys...)
		}
		pipe.Del(ctx, identityKey)
		if decrement > 0 {
			pipe.DecrBy(ctx, countKey, int64(decrement))
		}
		if decrement == currentCount && currentCount > 0 {
			pipe.Del(ctx, countKey)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return nil
}

// TenantSessionCount returns the tracked tenant-wide session counter.
func (s *Store) TenantSessionCount(ctx context.Context, tenantID string) (int, error) {
	count, err := s.redis.Get(ctx, s.tenantCountKey(tenantID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count < 0 {
		return 0, nil
	}
	return int(count), nil
}

// SetTenantSessionCount sets (or clears) the tracked tenant session counter.
func (s *Store) SetTenantSessionCount(ctx context.Context, tenantID string, count int) error {
	key := s.tenantCountKey(tenantID)
	if count <= 0 {
		if err := s.redis.Del(ctx, key).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		return nil
	}

	if err := s.redis.Set(ctx, key, count, 0).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// ActiveSessionCount returns the number of tracked session IDs for an identity in a tenant.
func (s *Store) ActiveSessionCount(ctx context.Context, tenantID, identityID string) (int, error) {
	count, err := s.redis.ZCard(ctx, s.identityKey(tenantID, identityID)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return int(count), nil
}

// ActiveSessionIDs returns tracked session IDs for an identity in a tenant,
// ordered oldest first.
func (s *Store) ActiveSessionIDs(ctx context.Context, tenantID, identityID string) ([]string, error) {
	ids, err := s.redis.ZRange(ctx, s.identityKey(tenantID, identityID), 0, -1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return ids, nil
}

// GetReadOnly fetches a session without mutating TTL, index, or any Redis
// state beyond a lazy schema migration.
func (s *Store) GetReadOnly(ctx context.Context, tenantID, sessionID string) (*Session, error) {
	data, err := s.redis.Get(ctx, s.key(tenantID, sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	sess, err := Decode(data)
	if err != nil {
		return nil, err
	}
	sess.SessionID = sessionID
	if time.Now().Unix() > sess.ExpiresAt {
		return nil, redis.Nil
	}
	if err := s.maybeMigrateSessionSchema(ctx, s.key(tenantID, sessionID), sess); err != nil {
		return nil, err
	}

	return sess, nil
}

// GetManyReadOnly fetches multiple sessions without mutating TTLs. Missing
// and expired entries are skipped.
func (s *Store) GetManyReadOnly(ctx context.Context, tenantID string, sessionIDs []string) ([]*Session, error) {
	if len(sessionIDs) == 0 {
		return []*Session{}, nil
	}

	pipe := s.redis.Pipeline()
	cmds := make([]*redis.StringCmd, len(sessionIDs))
	for i, sid := range sessionIDs {
		cmds[i] = pipe.Get(ctx, s.key(tenantID, sid))
	}

	_, err := pipe.Exec(ctx)
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	sessions := make([]*Session, 0, len(sessionIDs))
	nowUnix := time.Now().Unix()
	for i, cmd := range cmds {
		data, cmdErr := cmd.Bytes()
		if cmdErr != nil {
			if errors.Is(cmdErr, redis.Nil) {
				continue
			}
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, cmdErr)
		}

		sess, decErr := Decode(data)
		if decErr != nil {
			return nil, decErr
		}
		sess.SessionID = sessionIDs[i]
		if nowUnix > sess.ExpiresAt {
			continue
		}
		if err := s.maybeMigrateSessionSchema(ctx, s.key(tenantID, sessionIDs[i]), sess); err != nil {
			return nil, err
		}

		sessions = append(sessions, sess)
	}

	return sessions, nil
}

// EstimateActiveSessions scans tenant session keys and counts matches.
// This is an admin-only O(n) operation and must not be used in request hot paths.
func (s *Store) EstimateActiveSessions(ctx context.Context, tenantID string) (int, error) {
	pattern := s.keyPrefix(tenantID) + "*"
	var (
		cursor uint64
		total  int
	)

	for {
		keys, next, err := s.redis.Scan(ctx, cursor, pattern, 1000).Result()
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		total += len(keys)
		cursor = next
		if cursor == 0 {
			break
		}
	}

	return total, nil
}

// Ping returns a point-in-time Redis availability check and latency.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return time.Since(start), nil
}

// TrackReplayAnomaly increments the refresh-reuse counter for a session ID.
// The counter outlives the session itself so repeated replay attempts
// remain visible after revocation.
func (s *Store) TrackReplayAnomaly(ctx context.Context, sessionID string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	key := s.replayKey(sessionID)
	count, err := s.redis.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count == 1 {
		if err := s.redis.Expire(ctx, key, ttl).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}
	return nil
}

// ShouldEmitDeviceAnomaly returns true only for the first anomaly in the window per session/kind.
func (s *Store) ShouldEmitDeviceAnomaly(ctx context.Context, sessionID, kind string, window time.Duration) (bool, error) {
	if window <= 0 {
		window = time.Minute
	}
	key := s.deviceAnomalyKey(sessionID, kind)

	count, err := s.redis.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count == 1 {
		if err := s.redis.Expire(ctx, key, window).Err(); err != nil {
			return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		return true, nil
	}

	return false, nil
}

func (s *Store) remainingAbsoluteTTL(sess *Session, absoluteLifetime time.Duration, now time.Time) time.Duration {
	storedExpiry := time.Unix(sess.ExpiresAt, 0)
	if absoluteLifetime <= 0 {
		return storedExpiry.Sub(now)
	}

	configCap := time.Unix(sess.CreatedAt, 0).Add(absoluteLifetime)
	if configCap.Before(storedExpiry) {
		return configCap.Sub(now)
	}

	return storedExpiry.Sub(now)
}

func (s *Store) nextSlidingTTL(remainingAbsolute time.Duration) (time.Duration, error) {
	nextTTL := remainingAbsolute

	if s.jitterEnabled && s.jitterRange > 0 {
		jitter, err := randomJitter(s.jitterRange)
		if err != nil {
			return 0, err
		}
		nextTTL += jitter
	}

	if nextTTL > remainingAbsolute {
		nextTTL = remainingAbsolute
	}

	minTTL := minSlidingTTL
	if remainingAbsolute < minTTL {
		minTTL = remainingAbsolute
	}
	if nextTTL < minTTL {
		nextTTL = minTTL
	}

	return nextTTL, nil
}

func (s *Store) maybeMigrateSessionSchema(ctx context.Context, key string, sess *Session) error {
	if sess == nil || sess.SchemaVersion == CurrentSchemaVersion {
		return nil
	}

	pttl, err := s.redis.PTTL(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if pttl <= 0 {
		return nil
	}

	sess.SchemaVersion = CurrentSchemaVersion
	encoded, err := Encode(sess)
	if err != nil {
		return err
	}

	if err := s.redis.Set(ctx, key, encoded, pttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func randomJitter(jitterRange time.Duration) (time.Duration, error) {
	if jitterRange <= 0 {
		return 0, nil
	}

	max := jitterRange.Nanoseconds()
	if max > (math.MaxInt64-1)/2 {
		return 0, errors.New("jitter range too large")
	}
	span := max*2 + 1

	n, err := rand.Int(rand.Reader, big.NewInt(span))
	if err != nil {
		return 0, err
	}

	return time.Duration(n.Int64() - max), nil
}

// RotateRefreshHash atomically replaces the refresh-token hash in the
// session using a Lua CAS script. This is the core of the rotation
// protocol that enables reuse detection.
//
// On hash mismatch the stale session is destroyed and, when the blob was
// decodable, the decoded record is returned alongside
// [ErrRefreshHashMismatch] so callers can escalate to identity-wide
// revocation.
//
//	Performance: 1 Lua EVALSHA (atomic compare-and-swap).
func (s *Store) RotateRefreshHash(
	ctx context.Context,
	tenantID, sessionID string,
	providedHash [32]byte,
	nextHash [32]byte,
) (*Session, error) {
	key := s.key(tenantID, sessionID)
	result, err := rotateRefreshLua.Run(
		ctx,
		s.redis,
		[]string{key, s.tenantCountKey(tenantID)},
		sessionID,
		s.identityKeyPrefix(tenantID),
		providedHash[:],
		nextHash[:],
		time.Now().Unix(),
	).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	parts, ok := result.([]interface{})
	if !ok || len(parts) == 0 {
		return nil, fmt.Errorf("%w: invalid refresh script response", ErrRedisUnavailable)
	}

	code, ok := parts[0].(int64)
	if !ok {
		return nil, fmt.Errorf("%w: invalid refresh script status", ErrRedisUnavailable)
	}

	switch code {
	case rotateStatusNotFound:
		return nil, errors.Join(redis.Nil, ErrRefreshSessionNotFound)
	case rotateStatusExpired:
		return nil, errors.Join(redis.Nil, ErrRefreshSessionExpired)
	case rotateStatusMismatch:
		if len(parts) >= 2 {
			if blob := scriptPayload(parts[1]); blob != nil {
				if sess, decErr := Decode(blob); decErr == nil {
					sess.SessionID = sessionID
					return sess, ErrRefreshHashMismatch
				}
			}
		}
		return nil, ErrRefreshHashMismatch
	case rotateStatusRotated:
		if len(parts) < 2 {
			return nil, fmt.Errorf("%w: missing updated session payload", ErrRedisUnavailable)
		}

		blob := scriptPayload(parts[1])
		if blob == nil {
			return nil, fmt.Errorf("%w: invalid updated session payload", ErrRedisUnavailable)
		}

		sess, decErr := Decode(blob)
		if decErr != nil {
			return nil, decErr
		}
		sess.SessionID = sessionID
		if err := s.maybeMigrateSessionSchema(ctx, key, sess); err != nil {
			return nil, err
		}
		return sess, nil
	case rotateStatusInvalidBlob:
		return nil, errors.Join(ErrRedisUnavailable, ErrRefreshSessionCorrupt)
	default:
		return nil, fmt.Errorf("%w: unknown refresh script status", ErrRedisUnavailable)
	}
}

func scriptPayload(part interface{}) []byte {
	switch v := part.(type) {
	case string:
		return []byte(v)
	case []byte:
		return v
	default:
		return nil
	}
}

func (s *Store) deleteSessionAndIndex(ctx context.Context, tenantID, identityID, sessionID string) error {
	key := s.key(tenantID, sessionID)
	identityKey := s.identityKey(tenantID, identityID)
	countKey := s.tenantCountKey(tenantID)

	_, err := deleteSessionLua.Run(ctx, s.redis, []string{key, identityKey, countKey}, sessionID).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return nil
}
