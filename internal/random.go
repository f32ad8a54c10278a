package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"

	"github.com/google/uuid"
)

// tokenCodec is base64url without padding. Every opaque credential the
// engine mints goes through it.
var tokenCodec = base64.RawURLEncoding

// SessionID is 32 bytes of CSPRNG output. The size is a hard floor: session
// identifiers are bearer material and must stay unguessable without any
// server-side salting.
type SessionID [32]byte

const (
	sessionIDSize       = 32
	refreshSecretSize   = 32
	challengeSecretSize = 32
	challengeIDSize     = 16
)

var (
	errSessionIDSize      = errors.New("invalid session id size")
	errRefreshTokenSize   = errors.New("invalid refresh token size")
	errChallengeTokenSize = errors.New("invalid challenge token size")
)

// random32 is the single CSPRNG read path for 32-byte secret material.
func random32() ([32]byte, error) {
	var out [32]byte
	_, err := rand.Read(out[:])
	return out, err
}

func NewSessionID() (SessionID, error) {
	raw, err := random32()
	return SessionID(raw), err
}

func (s SessionID) String() string { return tokenCodec.EncodeToString(s[:]) }

func ParseSessionID(sessionID string) (SessionID, error) {
	raw, err := tokenCodec.DecodeString(sessionID)
	if err != nil {
		return SessionID{}, err
	}
	if len(raw) != sessionIDSize {
		return SessionID{}, errSessionIDSize
	}
	return SessionID(raw), nil
}

func NewRefreshSecret() ([refreshSecretSize]byte, error) { return random32() }

func HashRefreshSecret(secret [refreshSecretSize]byte) [32]byte {
	return sha256.Sum256(secret[:])
}

// EncodeRefreshToken packs sessionID||secret into one opaque bearer string.
// The session half lets the store look the record up; only a hash of the
// secret half is ever persisted.
func EncodeRefreshToken(sessionID string, secret [refreshSecretSize]byte) (string, error) {
	sid, err := ParseSessionID(sessionID)
	if err != nil {
		return "", err
	}
	return tokenCodec.EncodeToString(append(sid[:], secret[:]...)), nil
}

func DecodeRefreshToken(token string) (string, [refreshSecretSize]byte, error) {
	raw, err := tokenCodec.DecodeString(token)
	if err != nil {
		return "", [refreshSecretSize]byte{}, err
	}
	if len(raw) != sessionIDSize+refreshSecretSize {
		return "", [refreshSecretSize]byte{}, errRefreshTokenSize
	}
	sid := SessionID(raw[:sessionIDSize])
	return sid.String(), [refreshSecretSize]byte(raw[sessionIDSize:]), nil
}

func NewChallengeSecret() ([challengeSecretSize]byte, error) { return random32() }

func HashChallengeSecret(secret [challengeSecretSize]byte) [32]byte {
	return sha256.Sum256(secret[:])
}

// EncodeChallengeToken packs a challenge UUID and its secret into one opaque
// string handed to the caller (password reset, email verification). The store
// is keyed by the UUID and holds only the secret's hash.
func EncodeChallengeToken(challengeID uuid.UUID, secret [challengeSecretSize]byte) string {
	return tokenCodec.EncodeToString(append(challengeID[:], secret[:]...))
}

func DecodeChallengeToken(token string) (uuid.UUID, [challengeSecretSize]byte, error) {
	raw, err := tokenCodec.DecodeString(token)
	if err != nil {
		return uuid.UUID{}, [challengeSecretSize]byte{}, err
	}
	if len(raw) != challengeIDSize+challengeSecretSize {
		return uuid.UUID{}, [challengeSecretSize]byte{}, errChallengeTokenSize
	}
	return uuid.UUID(raw[:challengeIDSize]), [challengeSecretSize]byte(raw[challengeIDSize:]), nil
}
