package test

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	authcore "github.com/rankwatch/authcore"
)

// ExampleNew demonstrates engine construction with production-style dependencies.
func ExampleNew() {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:6379"})
	store := &exampleCredentialStore{}

	cfg := authcore.ProductionConfig()
	cfg.JWT.SigningMethod = "hs256"
	cfg.JWT.PrivateKey = []byte("replace-with-a-32-byte-secret!!!")

	engine, _ := authcore.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithCredentialStore(store).
		Build()
	_ = engine
}

// ExampleEngine_Login shows a typical login call and structured error handling.
func ExampleEngine_Login() {
	var engine *authcore.Engine
	result, err := engine.Login(context.Background(), "alice@example.com", "password")
	if err != nil {
		_ = err
		return
	}
	if result.TwoFactorRequired {
		// Prompt for the second factor, then CompleteTwoFactorLogin.
		_ = result.ChallengeID
	}
}

// ExampleEngine_MetricsSnapshot shows how to read in-process metrics counters.
func ExampleEngine_MetricsSnapshot() {
	var engine *authcore.Engine
	snapshot := engine.MetricsSnapshot()
	_ = snapshot
}

type exampleCredentialStore struct{}

func (s *exampleCredentialStore) FindByEmail(ctx context.Context, tenantID, email string) (*authcore.IdentityRecord, error) {
	return nil, authcore.ErrIdentityNotFound
}
func (s *exampleCredentialStore) FindByID(ctx context.Context, identityID string) (*authcore.IdentityRecord, error) {
	return nil, authcore.ErrIdentityNotFound
}
func (s *exampleCredentialStore) CreateIdentity(ctx context.Context, identity *authcore.IdentityRecord) error {
	return nil
}
func (s *exampleCredentialStore) UpdatePasswordHash(ctx context.Context, identityID, passwordHash string) error {
	return nil
}
func (s *exampleCredentialStore) UpdateLockoutState(ctx context.Context, identityID string, failedAttempts int, lockedUntil time.Time) error {
	return nil
}
func (s *exampleCredentialStore) UpdateLastLogin(ctx context.Context, identityID string, at time.Time) error {
	return nil
}
func (s *exampleCredentialStore) MarkEmailVerified(ctx context.Context, identityID string) error {
	return nil
}
func (s *exampleCredentialStore) GetTwoFactor(ctx context.Context, identityID string) (*authcore.TwoFactorRecord, error) {
	return nil, authcore.ErrTwoFactorNotEnrolled
}
func (s *exampleCredentialStore) EnableTwoFactor(ctx context.Context, identityID, secret string, backupCodeHashes [][32]byte) error {
	return nil
}
func (s *exampleCredentialStore) ConfirmTwoFactor(ctx context.Context, identityID string) error {
	return nil
}
func (s *exampleCredentialStore) DisableTwoFactor(ctx context.Context, identityID string) error {
	return nil
}
func (s *exampleCredentialStore) ReplaceBackupCodes(ctx context.Context, identityID string, backupCodeHashes [][32]byte) error {
	return nil
}
func (s *exampleCredentialStore) ConsumeBackupCode(ctx context.Context, identityID string, codeHash [32]byte) (bool, error) {
	return false, nil
}
