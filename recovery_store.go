package authcore

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	resetKeyPrefix        = "apr"
	verificationKeyPrefix = "aev"
	recoveryRecordVersion = 1
)

var (
	errRecoveryNotFound         = errors.New("recovery challenge not found")
	errRecoverySecretMismatch   = errors.New("recovery challenge secret mismatch")
	errRecoveryAttemptsExceeded = errors.New("recovery challenge attempts exceeded")
)

// recoveryChallenge backs both password-reset and email-verification
// tokens: a uuid-keyed record holding the SHA-256 of the token secret.
// Neither the plaintext secret nor the email address ever reaches Redis.
type recoveryChallenge struct {
	IdentityID string
	SecretHash [32]byte
	ExpiresAt  int64
	Attempts   uint16
}

// recoveryStore serves both flows; the key prefix keeps the namespaces
// disjoint so a verification token can never be replayed as a reset token.
type recoveryStore struct {
	redis  redis.UniversalClient
	prefix string
}

func newPasswordResetStore(rdb redis.UniversalClient) *recoveryStore {
	return &recoveryStore{redis: rdb, prefix: resetKeyPrefix}
}

func newEmailVerificationStore(rdb redis.UniversalClient) *recoveryStore {
	return &recoveryStore{redis: rdb, prefix: verificationKeyPrefix}
}

func (s *recoveryStore) key(tenantID, challengeID string) string {
	return s.prefix + ":" + normalizeTenant(tenantID) + ":" + challengeID
}

func (s *recoveryStore) Save(
	ctx context.Context,
	tenantID, challengeID string,
	record *recoveryChallenge,
	ttl time.Duration,
) error {
	encoded, err := encodeRecoveryChallenge(record)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(tenantID, challengeID), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Consume verifies the secret hash and deletes the record in one WATCH
// transaction. A wrong secret burns an attempt and re-persists the record
// with its remaining TTL; the attempt cap deletes it outright. Expired
// records report not-found, indistinguishable from never-issued ones.
func (s *recoveryStore) Consume(
	ctx context.Context,
	tenantID, challengeID string,
	providedHash [32]byte,
	maxAttempts int,
) (*recoveryChallenge, error) {
	const maxRetries = 4
	key := s.key(tenantID, challengeID)

	for i := 0; i < maxRetries; i++ {
		var matched *recoveryChallenge

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			record, err := decodeRecoveryChallenge(data)
			if err != nil {
				return err
			}

			if time.Now().Unix() > record.ExpiresAt {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				if err != nil {
					return err
				}
				return errRecoveryNotFound
			}

			if subtle.ConstantTimeCompare(record.SecretHash[:], providedHash[:]) != 1 {
				record.Attempts++
				if int(record.Attempts) >= maxAttempts {
					_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
						pipe.Del(ctx, key)
						return nil
					})
					if err != nil {
						return err
					}
					return errRecoveryAttemptsExceeded
				}

				ttl := time.Until(time.Unix(record.ExpiresAt, 0))
				if ttl <= 0 {
					_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
						pipe.Del(ctx, key)
						return nil
					})
					if err != nil {
						return err
					}
					return errRecoveryNotFound
				}

				updated, err := encodeRecoveryChallenge(record)
				if err != nil {
					return err
				}
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Set(ctx, key, updated, ttl)
					return nil
				})
				if err != nil {
					return err
				}
				return errRecoverySecretMismatch
			}

			matched = record
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				return nil
			})
			return err
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return nil, errRecoveryNotFound
			}
			if errors.Is(err, errRecoveryNotFound) ||
				errors.Is(err, errRecoverySecretMismatch) ||
				errors.Is(err, errRecoveryAttemptsExceeded) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		return matched, nil
	}

	return nil, errRecoveryNotFound
}

func encodeRecoveryChallenge(record *recoveryChallenge) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(recoveryRecordVersion)

	if err := binary.Write(&buf, binary.BigEndian, record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}

	if len(record.IdentityID) > 65535 {
		return nil, errors.New("recovery identity id length exceeded")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(record.IdentityID))); err != nil {
		return nil, err
	}
	buf.WriteString(record.IdentityID)
	buf.Write(record.SecretHash[:])

	return buf.Bytes(), nil
}

func decodeRecoveryChallenge(data []byte) (*recoveryChallenge, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != recoveryRecordVersion {
		return nil, errors.New("invalid recovery record version")
	}

	record := &recoveryChallenge{}
	if err := binary.Read(reader, binary.BigEndian, &record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}

	var identityLen uint16
	if err := binary.Read(reader, binary.BigEndian, &identityLen); err != nil {
		return nil, err
	}
	identity := make([]byte, identityLen)
	if _, err := io.ReadFull(reader, identity); err != nil {
		return nil, err
	}
	record.IdentityID = string(identity)

	if _, err := io.ReadFull(reader, record.SecretHash[:]); err != nil {
		return nil, err
	}

	return record, nil
}
