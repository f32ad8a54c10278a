package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SigningMethod selects the algorithm used to sign and verify access tokens.
type SigningMethod string

const (
	// MethodEd25519 signs tokens with EdDSA over Curve25519.
	MethodEd25519 SigningMethod = "ed25519"
	// MethodHS256 signs tokens with HMAC-SHA256 using a shared secret.
	MethodHS256 SigningMethod = "hs256"
)

const (
	maxLeeway           = 2 * time.Minute
	defaultMaxFuture    = 10 * time.Minute
	maxFutureIATCeiling = 24 * time.Hour
)

// Config holds the signing and validation settings for a Manager.
//
// Keys may be provided raw (ed25519 seed/public sizes) or PEM encoded.
// VerifyKeys enables key rotation: tokens carry a kid header and are
// verified against the matching entry.
type Config struct {
	AccessTTL     time.Duration
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	RequireIAT    bool
	MaxFutureIAT  time.Duration
	KeyID         string
	VerifyKeys    map[string][]byte
}

// Manager issues and verifies access tokens. Key material is decoded once at
// construction, so the hot paths never touch PEM or re-validate config. It is
// safe for concurrent use.
type Manager struct {
	ttl          time.Duration
	issuer       string
	audience     string
	maxFutureIAT time.Duration
	keyID        string
	method       jwt.SigningMethod
	parser       *jwt.Parser
	signKey      any
	verifyKey    any
	verifyKeys   map[string]any
}

// AccessClaims is the claim set carried by every access token.
//
// FPHash and IPHash record the device fingerprint and client IP hashes
// observed at issuance so later requests can be compared against them
// without storing raw request metadata in the token.
type AccessClaims struct {
	UID    string `json:"uid"`
	TID    string `json:"tid,omitempty"`
	SID    string `json:"sid"`
	FPHash string `json:"fph,omitempty"`
	IPHash string `json:"iph,omitempty"`
	jwt.RegisteredClaims
}

// NewManager validates cfg and returns a token manager.
//
// MaxFutureIAT defaults to 10 minutes when zero; Leeway is capped at
// two minutes so clock-skew tolerance cannot quietly grow into an
// expiry extension.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.AccessTTL <= 0 {
		return nil, errors.New("access TTL must be positive")
	}
	if cfg.Leeway < 0 || cfg.Leeway > maxLeeway {
		return nil, fmt.Errorf("leeway must be between 0 and %s", maxLeeway)
	}
	if cfg.MaxFutureIAT == 0 {
		cfg.MaxFutureIAT = defaultMaxFuture
	}
	if cfg.MaxFutureIAT < 0 || cfg.MaxFutureIAT > maxFutureIATCeiling {
		return nil, fmt.Errorf("MaxFutureIAT must be between 0 and %s", maxFutureIATCeiling)
	}

	m := &Manager{
		ttl:          cfg.AccessTTL,
		issuer:       cfg.Issuer,
		audience:     cfg.Audience,
		maxFutureIAT: cfg.MaxFutureIAT,
		keyID:        strings.TrimSpace(cfg.KeyID),
	}

	// resolveVerify turns raw verify-key bytes into usable key material for
	// the chosen method.
	var resolveVerify func(raw []byte) (any, error)

	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) == 0 {
			return nil, errors.New("hs256 requires a shared secret")
		}
		m.method = jwt.SigningMethodHS256
		m.signKey = cfg.PrivateKey
		m.verifyKey = cfg.PrivateKey
		resolveVerify = func(raw []byte) (any, error) { return raw, nil }

	case MethodEd25519:
		m.method = jwt.SigningMethodEdDSA
		if len(cfg.PrivateKey) > 0 {
			key, err := decodeEdPrivate(cfg.PrivateKey)
			if err != nil {
				return nil, err
			}
			m.signKey = key
		}
		if len(cfg.PublicKey) > 0 {
			key, err := decodeEdPublic(cfg.PublicKey)
			if err != nil {
				return nil, err
			}
			m.verifyKey = key
		}
		if m.verifyKey == nil && len(cfg.VerifyKeys) == 0 {
			return nil, errors.New("ed25519 requires a public key or verify key set")
		}
		resolveVerify = func(raw []byte) (any, error) { return decodeEdPublic(raw) }

	default:
		return nil, fmt.Errorf("unsupported signing method %q", cfg.SigningMethod)
	}

	if len(cfg.VerifyKeys) > 0 {
		m.verifyKeys = make(map[string]any, len(cfg.VerifyKeys))
		for kid, raw := range cfg.VerifyKeys {
			if strings.TrimSpace(kid) == "" {
				return nil, errors.New("verify key map contains an empty kid")
			}
			key, err := resolveVerify(raw)
			if err != nil {
				return nil, fmt.Errorf("verify key %q: %w", kid, err)
			}
			m.verifyKeys[kid] = key
		}
		if m.keyID != "" {
			if _, ok := m.verifyKeys[m.keyID]; !ok {
				return nil, errors.New("KeyID is not present in VerifyKeys")
			}
		}
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{m.method.Alg()}),
	}
	if cfg.Leeway > 0 {
		opts = append(opts, jwt.WithLeeway(cfg.Leeway))
	}
	if cfg.RequireIAT {
		opts = append(opts, jwt.WithIssuedAt())
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	m.parser = jwt.NewParser(opts...)

	return m, nil
}

// CreateAccess signs a new access token for the given identity and session.
// fpHash and ipHash are the encoded request-binding hashes captured at
// issuance; either may be empty when binding is disabled.
func (j *Manager) CreateAccess(uid, tid, sid, fpHash, ipHash string) (string, error) {
	if j.signKey == nil {
		return "", errors.New("manager has no signing key")
	}

	now := time.Now()
	claims := AccessClaims{
		UID:    uid,
		TID:    tid,
		SID:    sid,
		FPHash: fpHash,
		IPHash: ipHash,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(now.Add(j.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    j.issuer,
		},
	}
	if j.audience != "" {
		claims.Audience = jwt.ClaimStrings{j.audience}
	}

	token := jwt.NewWithClaims(j.method, claims)
	if j.keyID != "" {
		token.Header["kid"] = j.keyID
	}

	return token.SignedString(j.signKey)
}

// ParseAccess verifies the signature and registered claims of tokenStr and
// returns its claim set. Expired and malformed tokens surface the
// underlying jwt/v5 sentinel errors so callers can distinguish them.
func (j *Manager) ParseAccess(tokenStr string) (*AccessClaims, error) {
	token, err := j.parser.ParseWithClaims(tokenStr, &AccessClaims{}, j.selectKey)
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*AccessClaims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	if claims.IssuedAt != nil && claims.IssuedAt.After(time.Now().Add(j.maxFutureIAT)) {
		return nil, errors.New("token iat too far in the future")
	}

	return claims, nil
}

// selectKey picks the verification key for a parsed token header. With a
// rotation map the kid header is mandatory and must resolve to an entry;
// with a single pinned KeyID the kid must match it exactly.
func (j *Manager) selectKey(t *jwt.Token) (any, error) {
	if t.Method.Alg() != j.method.Alg() {
		return nil, fmt.Errorf("unexpected signing algorithm %q", t.Method.Alg())
	}

	kid, _ := t.Header["kid"].(string)
	if j.verifyKeys != nil {
		key, ok := j.verifyKeys[kid]
		if kid == "" || !ok {
			return nil, errors.New("token kid is missing or not in the verify key set")
		}
		return key, nil
	}
	if j.keyID != "" && kid != j.keyID {
		return nil, errors.New("token kid does not match the configured key")
	}
	if j.verifyKey == nil {
		return nil, errors.New("manager has no verification key")
	}
	return j.verifyKey, nil
}

// IsExpired reports whether an error returned by ParseAccess means the token
// was well formed and correctly signed but past its expiry.
func IsExpired(err error) bool {
	return errors.Is(err, jwt.ErrTokenExpired)
}

func decodeEdPrivate(raw []byte) (ed25519.PrivateKey, error) {
	if len(raw) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(raw), nil
	}
	if parsed, err := jwt.ParseEdPrivateKeyFromPEM(raw); err == nil {
		if key, ok := parsed.(ed25519.PrivateKey); ok {
			return key, nil
		}
	}
	return nil, errors.New("ed25519 private key must be raw seed+public bytes or PEM")
}

func decodeEdPublic(raw []byte) (ed25519.PublicKey, error) {
	if len(raw) == ed25519.PublicKeySize {
		return ed25519.PublicKey(raw), nil
	}
	if parsed, err := jwt.ParseEdPublicKeyFromPEM(raw); err == nil {
		if key, ok := parsed.(ed25519.PublicKey); ok {
			return key, nil
		}
	}
	return nil, errors.New("ed25519 public key must be raw bytes or PEM")
}
