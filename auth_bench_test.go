package authcore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/rankwatch/authcore/password"
)

func BenchmarkLogin(b *testing.B) {
	engine := newBenchmarkEngine(b)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		// The per-identity session cap evicts the oldest session on every
		// iteration, so Redis stays bounded without an explicit logout.
		if _, err := engine.Login(context.Background(), "alice@example.com", "correct-horse-battery"); err != nil {
			b.Fatalf("login failed: %v", err)
		}
	}
}

func BenchmarkAuthenticate(b *testing.B) {
	engine := newBenchmarkEngine(b)

	result, err := engine.Login(context.Background(), "alice@example.com", "correct-horse-battery")
	if err != nil {
		b.Fatalf("login failed: %v", err)
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := engine.Authenticate(context.Background(), result.AccessToken); err != nil {
			b.Fatalf("authenticate failed: %v", err)
		}
	}
}

func BenchmarkRefresh(b *testing.B) {
	engine := newBenchmarkEngine(b)

	result, err := engine.Login(context.Background(), "alice@example.com", "correct-horse-battery")
	if err != nil {
		b.Fatalf("login failed: %v", err)
	}
	refresh := result.RefreshToken

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		pair, err := engine.Refresh(context.Background(), refresh)
		if err != nil {
			b.Fatalf("refresh failed: %v", err)
		}
		refresh = pair.RefreshToken
	}
}

func newBenchmarkEngine(b *testing.B) *Engine {
	b.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		b.Fatalf("miniredis.Run failed: %v", err)
	}
	b.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	b.Cleanup(func() { _ = rdb.Close() })

	cfg := testConfig()
	cfg.Metrics.Enabled = false
	cfg.Audit.Enabled = false

	// Budgets large enough that b.N iterations never trip the limiter.
	unbounded := BudgetConfig{Points: 1 << 30, Window: time.Hour}
	cfg.RateLimit.API = unbounded
	cfg.RateLimit.LoginIP = unbounded
	cfg.RateLimit.LoginEmail = unbounded
	cfg.RateLimit.ResetIP = unbounded
	cfg.RateLimit.ResetEmail = unbounded
	cfg.RateLimit.RegisterIP = unbounded
	cfg.RateLimit.TwoFactor = unbounded
	cfg.RateLimit.BackupCode = unbounded
	cfg.RateLimit.EmailVerify = unbounded

	hasher, err := password.NewArgon2(password.Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
		MinLength:   8,
	})
	if err != nil {
		b.Fatalf("NewArgon2 failed: %v", err)
	}
	hash, err := hasher.Hash("correct-horse-battery")
	if err != nil {
		b.Fatalf("Hash failed: %v", err)
	}

	store := newMockCredentialStore()
	store.add(&IdentityRecord{
		ID:            "u1",
		Email:         "alice@example.com",
		PasswordHash:  hash,
		Status:        StatusActive,
		EmailVerified: true,
		CreatedAt:     time.Now().UTC(),
	})

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithCredentialStore(store).
		Build()
	if err != nil {
		b.Fatalf("Build failed: %v", err)
	}
	b.Cleanup(engine.Close)

	return engine
}
