package authcore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rankwatch/authcore/internal"
)

func TestEmailVerificationActivatesPendingIdentity(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	store := newMockCredentialStore()
	engine := newTestEngine(t, rdb, store)

	ctx := context.Background()
	result, err := engine.Register(ctx, "alice@example.com", "correct horse battery")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if err := engine.ConfirmEmailVerification(ctx, result.VerificationToken); err != nil {
		t.Fatalf("ConfirmEmailVerification failed: %v", err)
	}

	rec := store.get(t, result.IdentityID)
	if rec.Status != StatusActive || !rec.EmailVerified {
		t.Fatalf("Status=%v EmailVerified=%v, want active and verified", rec.Status, rec.EmailVerified)
	}
	if got := engine.metrics.Value(MetricEmailVerifySuccess); got != 1 {
		t.Fatalf("MetricEmailVerifySuccess = %d, want 1", got)
	}
}

// Without RequireForLogin a pending identity may log in; verification is a
// nudge, not a gate.
func TestEmailVerificationNotRequiredByDefault(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	engine := newTestEngine(t, rdb, newMockCredentialStore())

	ctx := context.Background()
	if _, err := engine.Register(ctx, "alice@example.com", "correct horse battery"); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if _, err := engine.Login(ctx, "alice@example.com", "correct horse battery"); err != nil {
		t.Fatalf("pending identity should log in when verification is optional: %v", err)
	}
}

func TestEmailVerificationGateOpensAfterConfirm(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	store := newMockCredentialStore()
	cfg := testConfig()
	cfg.EmailVerification.RequireForLogin = true
	engine := newTestEngineWithConfig(t, rdb, store, cfg)

	ctx := context.Background()
	result, err := engine.Register(ctx, "alice@example.com", "correct horse battery")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if _, err := engine.Login(ctx, "alice@example.com", "correct horse battery"); !errors.Is(err, ErrEmailUnverified) {
		t.Fatalf("expected ErrEmailUnverified before confirmation, got %v", err)
	}

	if err := engine.ConfirmEmailVerification(ctx, result.VerificationToken); err != nil {
		t.Fatalf("ConfirmEmailVerification failed: %v", err)
	}

	if _, err := engine.Login(ctx, "alice@example.com", "correct horse battery"); err != nil {
		t.Fatalf("Login after confirmation failed: %v", err)
	}
}

func TestEmailVerificationReissuedToken(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	store := newMockCredentialStore()
	engine := newTestEngine(t, rdb, store)

	ctx := context.Background()
	result, err := engine.Register(ctx, "alice@example.com", "correct horse battery")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	reissued, err := engine.RequestEmailVerification(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("RequestEmailVerification failed: %v", err)
	}
	if reissued == result.VerificationToken {
		t.Fatal("reissued token must differ from the registration token")
	}

	if err := engine.ConfirmEmailVerification(ctx, reissued); err != nil {
		t.Fatalf("ConfirmEmailVerification with reissued token failed: %v", err)
	}
	if rec := store.get(t, result.IdentityID); !rec.EmailVerified {
		t.Fatal("identity not verified")
	}
}

func TestEmailVerificationUnknownEmailDecoy(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	engine := newTestEngine(t, rdb, newMockCredentialStore())

	ctx := context.Background()
	token, err := engine.RequestEmailVerification(ctx, "nobody@example.com")
	if err != nil {
		t.Fatalf("RequestEmailVerification failed: %v", err)
	}
	if _, _, err := internal.DecodeChallengeToken(token); err != nil {
		t.Fatalf("decoy token is malformed: %v", err)
	}
	if err := engine.ConfirmEmailVerification(ctx, token); !errors.Is(err, ErrVerificationInvalid) {
		t.Fatalf("expected ErrVerificationInvalid, got %v", err)
	}
}

// The caller presents the address they claim to own; telling them it is
// already verified reveals nothing they did not know.
func TestEmailVerificationRequestOnVerifiedAddress(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	store := newMockCredentialStore()
	seedIdentity(t, store, "u1", "alice@example.com", "correct horse battery")
	engine := newTestEngine(t, rdb, store)

	_, err := engine.RequestEmailVerification(context.Background(), "alice@example.com")
	if !errors.Is(err, ErrEmailAlreadyVerified) {
		t.Fatalf("expected ErrEmailAlreadyVerified, got %v", err)
	}
}

func TestEmailVerificationConfirmIdempotent(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	store := newMockCredentialStore()
	engine := newTestEngine(t, rdb, store)

	ctx := context.Background()
	result, err := engine.Register(ctx, "alice@example.com", "correct horse battery")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	spare, err := engine.RequestEmailVerification(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("RequestEmailVerification failed: %v", err)
	}

	if err := engine.ConfirmEmailVerification(ctx, result.VerificationToken); err != nil {
		t.Fatalf("first confirmation failed: %v", err)
	}

	// The spare token is genuine and the address is already verified:
	// confirming again succeeds rather than alarming the user.
	if err := engine.ConfirmEmailVerification(ctx, spare); err != nil {
		t.Fatalf("stale-token confirmation should succeed: %v", err)
	}
}

func TestEmailVerificationAttemptBookkeeping(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	store := newMockCredentialStore()
	engine := newTestEngine(t, rdb, store) // MaxAttempts: 3

	ctx := context.Background()
	result, err := engine.Register(ctx, "alice@example.com", "correct horse battery")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	challengeID, secret, err := internal.DecodeChallengeToken(result.VerificationToken)
	if err != nil {
		t.Fatalf("DecodeChallengeToken failed: %v", err)
	}
	secret[0] ^= 0xFF
	forged := internal.EncodeChallengeToken(challengeID, secret)

	// Two bad guesses leave the challenge alive; the real token still lands.
	for i := 0; i < 2; i++ {
		if err := engine.ConfirmEmailVerification(ctx, forged); !errors.Is(err, ErrVerificationInvalid) {
			t.Fatalf("attempt %d: expected ErrVerificationInvalid, got %v", i, err)
		}
	}
	if err := engine.ConfirmEmailVerification(ctx, result.VerificationToken); err != nil {
		t.Fatalf("genuine token after two bad guesses failed: %v", err)
	}
}

func TestEmailVerificationAttemptCapDestroysChallenge(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	store := newMockCredentialStore()
	engine := newTestEngine(t, rdb, store) // MaxAttempts: 3

	ctx := context.Background()
	result, err := engine.Register(ctx, "alice@example.com", "correct horse battery")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	challengeID, secret, err := internal.DecodeChallengeToken(result.VerificationToken)
	if err != nil {
		t.Fatalf("DecodeChallengeToken failed: %v", err)
	}
	secret[0] ^= 0xFF
	forged := internal.EncodeChallengeToken(challengeID, secret)

	for i := 0; i < 3; i++ {
		if err := engine.ConfirmEmailVerification(ctx, forged); !errors.Is(err, ErrVerificationInvalid) {
			t.Fatalf("attempt %d: expected ErrVerificationInvalid, got %v", i, err)
		}
	}
	if err := engine.ConfirmEmailVerification(ctx, result.VerificationToken); !errors.Is(err, ErrVerificationInvalid) {
		t.Fatalf("expected ErrVerificationInvalid after the cap, got %v", err)
	}
}

func TestEmailVerificationTokenExpires(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	store := newMockCredentialStore()
	engine := newTestEngine(t, rdb, store)

	result, err := engine.Register(context.Background(), "alice@example.com", "correct horse battery")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	mr.FastForward(16 * time.Minute)

	if err := engine.ConfirmEmailVerification(context.Background(), result.VerificationToken); !errors.Is(err, ErrVerificationInvalid) {
		t.Fatalf("expected ErrVerificationInvalid for expired token, got %v", err)
	}
}

func TestEmailVerificationFeatureDisabled(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	cfg := testConfig()
	cfg.EmailVerification.Enabled = false
	engine := newTestEngineWithConfig(t, rdb, newMockCredentialStore(), cfg)

	if _, err := engine.RequestEmailVerification(context.Background(), "alice@example.com"); !errors.Is(err, ErrVerificationDisabled) {
		t.Fatalf("expected ErrVerificationDisabled, got %v", err)
	}
	if err := engine.ConfirmEmailVerification(context.Background(), "token"); !errors.Is(err, ErrVerificationDisabled) {
		t.Fatalf("expected ErrVerificationDisabled, got %v", err)
	}
}

func TestEmailVerificationConfirmMalformedToken(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	engine := newTestEngine(t, rdb, newMockCredentialStore())

	for _, token := range []string{"", "garbage", "AAAA"} {
		if err := engine.ConfirmEmailVerification(context.Background(), token); !errors.Is(err, ErrVerificationInvalid) {
			t.Fatalf("token %q: expected ErrVerificationInvalid, got %v", token, err)
		}
	}
}
