package middleware_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/rankwatch/authcore"
	"github.com/rankwatch/authcore/counter"
	"github.com/rankwatch/authcore/middleware"
	"github.com/rankwatch/authcore/password"
	"github.com/rankwatch/authcore/ratelimit"
)

var errStubNotImplemented = errors.New("stub: not implemented")

// stubStore serves exactly one identity. Everything Login strictly needs
// works; best-effort writes succeed silently; the rest errors out loudly.
type stubStore struct {
	identity authcore.IdentityRecord
}

func (s *stubStore) FindByEmail(_ context.Context, tenantID, email string) (*authcore.IdentityRecord, error) {
	if email != s.identity.Email {
		return nil, authcore.ErrIdentityNotFound
	}
	cp := s.identity
	return &cp, nil
}

func (s *stubStore) FindByID(_ context.Context, identityID string) (*authcore.IdentityRecord, error) {
	if identityID != s.identity.ID {
		return nil, authcore.ErrIdentityNotFound
	}
	cp := s.identity
	return &cp, nil
}

func (s *stubStore) CreateIdentity(context.Context, *authcore.IdentityRecord) error {
	return errStubNotImplemented
}

func (s *stubStore) UpdatePasswordHash(context.Context, string, string) error {
	return errStubNotImplemented
}

func (s *stubStore) UpdateLockoutState(context.Context, string, int, time.Time) error {
	return nil
}

func (s *stubStore) UpdateLastLogin(context.Context, string, time.Time) error {
	return nil
}

func (s *stubStore) MarkEmailVerified(context.Context, string) error {
	return errStubNotImplemented
}

func (s *stubStore) GetTwoFactor(context.Context, string) (*authcore.TwoFactorRecord, error) {
	return nil, authcore.ErrTwoFactorNotEnrolled
}

func (s *stubStore) EnableTwoFactor(context.Context, string, string, [][32]byte) error {
	return errStubNotImplemented
}

func (s *stubStore) ConfirmTwoFactor(context.Context, string) error {
	return errStubNotImplemented
}

func (s *stubStore) DisableTwoFactor(context.Context, string) error {
	return errStubNotImplemented
}

func (s *stubStore) ReplaceBackupCodes(context.Context, string, [][32]byte) error {
	return errStubNotImplemented
}

func (s *stubStore) ConsumeBackupCode(context.Context, string, [32]byte) (bool, error) {
	return false, errStubNotImplemented
}

func newMiddlewareEngine(t *testing.T) *authcore.Engine {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	hasher, err := password.NewArgon2(password.Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
		MinLength:   8,
	})
	if err != nil {
		t.Fatalf("NewArgon2 failed: %v", err)
	}
	hash, err := hasher.Hash("correct horse battery")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}

	cfg := authcore.DefaultConfig()
	cfg.JWT.SigningMethod = "hs256"
	cfg.JWT.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.Session.JitterEnabled = false
	cfg.Session.JitterRange = 0
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Password.MinLength = 8

	store := &stubStore{identity: authcore.IdentityRecord{
		ID:            "u1",
		Email:         "alice@example.com",
		PasswordHash:  hash,
		Status:        authcore.StatusActive,
		EmailVerified: true,
		CreatedAt:     time.Now(),
	}}

	engine, err := authcore.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithCredentialStore(store).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	return engine
}

func TestRequestMetadataFeedsEngine(t *testing.T) {
	engine := newMiddlewareEngine(t)

	loginHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := engine.Login(r.Context(), "alice@example.com", "correct horse battery"); err != nil {
			t.Errorf("Login failed: %v", err)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	handler := middleware.RequestMetadata(middleware.MetadataConfig{TrustProxyHeaders: true})(loginHandler)

	req := httptest.NewRequest(http.MethodPost, "/login", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.50, 10.0.0.1")
	req.Header.Set("User-Agent", "Mozilla/5.0")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}

	sessions, err := engine.ListSessions(context.Background(), "u1")
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("got %d sessions, want 1", len(sessions))
	}
	if sessions[0].IP != "203.0.113.50" {
		t.Fatalf("session IP = %q, want forwarded client address", sessions[0].IP)
	}
	if sessions[0].UserAgent != "Mozilla/5.0" {
		t.Fatalf("session user agent = %q", sessions[0].UserAgent)
	}
}

func TestRequestMetadataIgnoresUntrustedProxyHeaders(t *testing.T) {
	engine := newMiddlewareEngine(t)

	loginHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := engine.Login(r.Context(), "alice@example.com", "correct horse battery"); err != nil {
			t.Errorf("Login failed: %v", err)
		}
	})

	handler := middleware.RequestMetadata(middleware.MetadataConfig{})(loginHandler)

	req := httptest.NewRequest(http.MethodPost, "/login", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.50")
	req.RemoteAddr = "198.51.100.7:44123"
	handler.ServeHTTP(httptest.NewRecorder(), req)

	sessions, err := engine.ListSessions(context.Background(), "u1")
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("got %d sessions, want 1", len(sessions))
	}
	if sessions[0].IP != "198.51.100.7" {
		t.Fatalf("session IP = %q, want the socket address", sessions[0].IP)
	}
}

func TestGuardInjectsAuthContext(t *testing.T) {
	engine := newMiddlewareEngine(t)

	login, err := engine.Login(context.Background(), "alice@example.com", "correct horse battery")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	var seen *authcore.AuthContext
	handler := middleware.Guard(engine)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth, ok := middleware.AuthFromContext(r.Context())
		if !ok {
			t.Error("AuthContext missing from guarded request")
			return
		}
		seen = auth
	}))

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+login.AccessToken)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if seen == nil || seen.IdentityID != "u1" {
		t.Fatalf("auth context = %+v, want identity u1", seen)
	}
	if seen.SessionID == "" {
		t.Fatal("auth context missing session id")
	}
}

func TestGuardRejectsBadTokens(t *testing.T) {
	engine := newMiddlewareEngine(t)

	called := false
	handler := middleware.Guard(engine)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		called = true
	}))

	cases := []struct {
		name   string
		header string
	}{
		{name: "missing header", header: ""},
		{name: "wrong scheme", header: "Basic abc"},
		{name: "empty token", header: "Bearer "},
		{name: "garbage token", header: "Bearer not-a-jwt"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401", rec.Code)
			}
		})
	}
	if called {
		t.Fatal("handler ran behind a rejected request")
	}
}

func TestGuardNilEngine(t *testing.T) {
	handler := middleware.Guard(nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Error("handler ran without an engine")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func newTestLimiter(t *testing.T, budget ratelimit.Budget) (*miniredis.Miniredis, *ratelimit.Limiter) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	limiter := ratelimit.New(counter.NewRedisStore(rdb), map[ratelimit.Scope]ratelimit.Budget{
		ratelimit.ScopeAPI: budget,
	})
	return mr, limiter
}

func TestRateLimitDecoratesResponses(t *testing.T) {
	_, limiter := newTestLimiter(t, ratelimit.Budget{
		Points: 2,
		Window: time.Minute,
		Block:  time.Minute,
	})

	handler := middleware.RateLimit(limiter, ratelimit.ScopeAPI, func(*http.Request) string {
		return "client-1"
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	do := func() *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api", nil))
		return rec
	}

	first := do()
	if first.Code != http.StatusOK {
		t.Fatalf("first status = %d, want 200", first.Code)
	}
	if got := first.Header().Get("X-RateLimit-Limit"); got != "2" {
		t.Fatalf("X-RateLimit-Limit = %q, want 2", got)
	}
	if got := first.Header().Get("X-RateLimit-Remaining"); got != "1" {
		t.Fatalf("X-RateLimit-Remaining = %q, want 1", got)
	}
	reset, err := strconv.ParseInt(first.Header().Get("X-RateLimit-Reset"), 10, 64)
	if err != nil {
		t.Fatalf("X-RateLimit-Reset not numeric: %v", err)
	}
	if reset < time.Now().Unix() {
		t.Fatalf("X-RateLimit-Reset %d is in the past", reset)
	}

	second := do()
	if got := second.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Fatalf("second X-RateLimit-Remaining = %q, want 0", got)
	}

	third := do()
	if third.Code != http.StatusTooManyRequests {
		t.Fatalf("third status = %d, want 429", third.Code)
	}
	retryAfter, err := strconv.Atoi(third.Header().Get("Retry-After"))
	if err != nil {
		t.Fatalf("Retry-After not numeric: %v", err)
	}
	if retryAfter < 1 || retryAfter > 60 {
		t.Fatalf("Retry-After = %d, want within the one-minute block", retryAfter)
	}
}

func TestRateLimitKeysAreIndependent(t *testing.T) {
	_, limiter := newTestLimiter(t, ratelimit.Budget{
		Points: 1,
		Window: time.Minute,
	})

	handler := middleware.RateLimit(limiter, ratelimit.ScopeAPI, func(r *http.Request) string {
		return r.Header.Get("X-Client")
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	do := func(client string) int {
		req := httptest.NewRequest(http.MethodGet, "/api", nil)
		req.Header.Set("X-Client", client)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := do("a"); code != http.StatusOK {
		t.Fatalf("first a = %d", code)
	}
	if code := do("a"); code != http.StatusTooManyRequests {
		t.Fatalf("second a = %d, want 429", code)
	}
	if code := do("b"); code != http.StatusOK {
		t.Fatalf("first b = %d, want 200 despite a being throttled", code)
	}
}

func TestRateLimitEmptyKeyExempts(t *testing.T) {
	_, limiter := newTestLimiter(t, ratelimit.Budget{
		Points: 1,
		Window: time.Minute,
	})

	handler := middleware.RateLimit(limiter, ratelimit.ScopeAPI, func(*http.Request) string {
		return ""
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d status = %d, want 200", i+1, rec.Code)
		}
		if rec.Header().Get("X-RateLimit-Limit") != "" {
			t.Fatal("exempt request still carries limit headers")
		}
	}
}

func TestRateLimitFailsClosed(t *testing.T) {
	mr, limiter := newTestLimiter(t, ratelimit.Budget{
		Points: 10,
		Window: time.Minute,
	})
	mr.Close()

	handler := middleware.RateLimit(limiter, ratelimit.ScopeAPI, func(*http.Request) string {
		return "client-1"
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler ran while the counter store was down")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}
