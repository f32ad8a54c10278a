package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	minMemoryKB    uint32 = 8 * 1024
	minTimeCost    uint32 = 1
	minParallelism uint8  = 1
	minSaltLength  uint32 = 16
	minKeyLength   uint32 = 16
	minPassBytes          = 8
	algorithmID           = "argon2id"
)

// DefaultMaxPasswordBytes caps password length when Config.MaxPasswordBytes
// is zero. Argon2 cost scales with input length, so unbounded passwords are a
// CPU amplification vector.
const DefaultMaxPasswordBytes = 1024

var (
	errHashFormat  = errors.New("malformed argon2id hash")
	errHashVersion = errors.New("unsupported argon2 version")
	errHashFloors  = errors.New("hash parameters below security floor")
)

// Config holds Argon2id cost parameters and the accepted password length
// range in bytes.
type Config struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
	MinLength   int

	// MaxPasswordBytes rejects passwords longer than this before hashing.
	// Zero means DefaultMaxPasswordBytes.
	MaxPasswordBytes int
}

func (cfg Config) check() error {
	switch {
	case cfg.Memory < minMemoryKB:
		return fmt.Errorf("argon2 memory %d KiB below floor %d", cfg.Memory, minMemoryKB)
	case cfg.Time < minTimeCost:
		return fmt.Errorf("argon2 time cost %d below floor %d", cfg.Time, minTimeCost)
	case cfg.Parallelism < minParallelism:
		return fmt.Errorf("argon2 parallelism %d below floor %d", cfg.Parallelism, minParallelism)
	case cfg.SaltLength < minSaltLength:
		return fmt.Errorf("salt length %d below floor %d", cfg.SaltLength, minSaltLength)
	case cfg.KeyLength < minKeyLength:
		return fmt.Errorf("key length %d below floor %d", cfg.KeyLength, minKeyLength)
	case cfg.MinLength < minPassBytes:
		return fmt.Errorf("minimum password length %d below floor %d", cfg.MinLength, minPassBytes)
	case cfg.MaxPasswordBytes < cfg.MinLength:
		return fmt.Errorf("maximum password length %d below minimum %d", cfg.MaxPasswordBytes, cfg.MinLength)
	}
	return nil
}

// Argon2 hashes and verifies passwords using Argon2id. Instances are
// immutable after construction and safe for concurrent use.
type Argon2 struct {
	config Config
}

// NewArgon2 validates cfg against hard security floors and returns a hasher.
func NewArgon2(cfg Config) (*Argon2, error) {
	if cfg.MaxPasswordBytes == 0 {
		cfg.MaxPasswordBytes = DefaultMaxPasswordBytes
	}
	if err := cfg.check(); err != nil {
		return nil, err
	}

	return &Argon2{config: cfg}, nil
}

func (a *Argon2) checkLength(password string) error {
	if len(password) < a.config.MinLength {
		return fmt.Errorf("password must be at least %d bytes", a.config.MinLength)
	}
	if len(password) > a.config.MaxPasswordBytes {
		return fmt.Errorf("password must be at most %d bytes", a.config.MaxPasswordBytes)
	}
	return nil
}

// Hash derives an Argon2id hash of password with a fresh random salt and
// returns it in PHC string format. Passwords are treated as raw bytes with no
// Unicode normalization.
func (a *Argon2) Hash(password string) (string, error) {
	if err := a.checkLength(password); err != nil {
		return "", err
	}

	salt := make([]byte, a.config.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}
	key := argon2.IDKey([]byte(password), salt,
		a.config.Time, a.config.Memory, a.config.Parallelism, a.config.KeyLength)

	return fmt.Sprintf("$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algorithmID, argon2.Version,
		a.config.Memory, a.config.Time, a.config.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify reports whether password matches encodedHash. The comparison is
// constant-time over the derived key. An error means the stored hash could
// not be parsed, not that the password was wrong.
func (a *Argon2) Verify(password string, encodedHash string) (bool, error) {
	if len(password) > a.config.MaxPasswordBytes {
		return false, fmt.Errorf("password must be at most %d bytes", a.config.MaxPasswordBytes)
	}

	params, salt, key, err := decodeHash(encodedHash)
	if err != nil {
		return false, err
	}

	computed := argon2.IDKey([]byte(password), salt,
		params.time, params.memory, params.parallelism, uint32(len(key)))

	return subtle.ConstantTimeCompare(computed, key) == 1, nil
}

// NeedsUpgrade reports whether encodedHash was produced with weaker
// parameters than the current configuration.
func (a *Argon2) NeedsUpgrade(encodedHash string) (bool, error) {
	params, _, key, err := decodeHash(encodedHash)
	if err != nil {
		return false, err
	}

	weaker := params.memory < a.config.Memory ||
		params.time < a.config.Time ||
		params.parallelism < a.config.Parallelism ||
		uint32(len(key)) != a.config.KeyLength
	return weaker, nil
}

type hashParams struct {
	memory      uint32
	time        uint32
	parallelism uint8
}

// decodeHash splits a PHC argon2id string into parameters, salt, and derived
// key. The PHC spec fixes the m,t,p parameter order, so a strict Sscanf is
// enough; base64 segments are unpadded per the spec.
func decodeHash(encoded string) (hashParams, []byte, []byte, error) {
	var params hashParams

	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != algorithmID {
		return params, nil, nil, errHashFormat
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return params, nil, nil, errHashFormat
	}
	if version != argon2.Version {
		return params, nil, nil, errHashVersion
	}

	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d",
		&params.memory, &params.time, &params.parallelism); err != nil {
		return params, nil, nil, errHashFormat
	}
	if params.memory < minMemoryKB || params.time < minTimeCost || params.parallelism < minParallelism {
		return params, nil, nil, errHashFloors
	}

	salt, err := base64.RawStdEncoding.Strict().DecodeString(parts[4])
	if err != nil || uint32(len(salt)) < minSaltLength {
		return params, nil, nil, errHashFormat
	}
	key, err := base64.RawStdEncoding.Strict().DecodeString(parts[5])
	if err != nil || uint32(len(key)) < minKeyLength {
		return params, nil, nil, errHashFormat
	}

	return params, salt, key, nil
}
