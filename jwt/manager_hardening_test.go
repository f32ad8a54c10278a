package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"
)

func newEdKeys(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate ed25519 key: %v", err)
	}
	return pub, priv
}

// forge signs an EdDSA token outside the manager so tests can vary the claim
// set and kid header freely.
func forge(t *testing.T, priv ed25519.PrivateKey, kid string, mutate func(*AccessClaims)) string {
	t.Helper()
	claims := AccessClaims{
		SID: "s1",
		RegisteredClaims: gjwt.RegisteredClaims{
			Issuer:    "authcore",
			Audience:  gjwt.ClaimStrings{"api"},
			ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Minute)),
			IssuedAt:  gjwt.NewNumericDate(time.Now()),
		},
	}
	if mutate != nil {
		mutate(&claims)
	}

	tok := gjwt.NewWithClaims(gjwt.SigningMethodEdDSA, claims)
	if kid != "" {
		tok.Header["kid"] = kid
	}
	signed, err := tok.SignedString(priv)
	if err != nil {
		t.Fatalf("sign forged token: %v", err)
	}
	return signed
}

func TestCreateAccessRoundTrip(t *testing.T) {
	pub, priv := newEdKeys(t)
	m, err := NewManager(Config{
		AccessTTL:     time.Minute,
		SigningMethod: MethodEd25519,
		PrivateKey:    priv,
		PublicKey:     pub,
		Issuer:        "authcore",
		Audience:      "api",
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	access, err := m.CreateAccess("u1", "t1", "s1", "fp-hash", "ip-hash")
	if err != nil {
		t.Fatalf("create access: %v", err)
	}
	claims, err := m.ParseAccess(access)
	if err != nil {
		t.Fatalf("parse access: %v", err)
	}
	if claims.UID != "u1" || claims.TID != "t1" || claims.SID != "s1" {
		t.Fatalf("unexpected identity claims: %+v", claims)
	}
	if claims.FPHash != "fp-hash" || claims.IPHash != "ip-hash" {
		t.Fatalf("unexpected binding claims: %+v", claims)
	}
	if claims.ID == "" {
		t.Fatal("expected a jti to be set")
	}
	if claims.ExpiresAt == nil || claims.IssuedAt == nil {
		t.Fatal("expected exp and iat to be set")
	}
}

func TestParseAccessRejectsWrongAlgorithm(t *testing.T) {
	pub, _ := newEdKeys(t)
	m, err := NewManager(Config{AccessTTL: time.Minute, SigningMethod: MethodEd25519, PublicKey: pub})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	claims := AccessClaims{SID: "s1", RegisteredClaims: gjwt.RegisteredClaims{
		ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Minute)),
	}}
	hs := gjwt.NewWithClaims(gjwt.SigningMethodHS256, claims)
	token, err := hs.SignedString([]byte("secret-secret-secret-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	if _, err := m.ParseAccess(token); err == nil {
		t.Fatal("expected wrong algorithm to be rejected")
	}
}

func TestParseAccessRegisteredClaimChecks(t *testing.T) {
	_, priv := newEdKeys(t)
	m, err := NewManager(Config{
		AccessTTL:     time.Minute,
		SigningMethod: MethodEd25519,
		PrivateKey:    priv,
		PublicKey:     priv.Public().(ed25519.PublicKey),
		Issuer:        "authcore",
		Audience:      "api",
		Leeway:        30 * time.Second,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	if issued, err := m.CreateAccess("u", "t", "s1", "", ""); err != nil {
		t.Fatalf("create access: %v", err)
	} else if _, err := m.ParseAccess(issued); err != nil {
		t.Fatalf("expected own token to parse: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*AccessClaims)
		wantOK bool
	}{
		{"wrong-issuer", func(c *AccessClaims) { c.Issuer = "other" }, false},
		{"wrong-audience", func(c *AccessClaims) { c.Audience = gjwt.ClaimStrings{"other-api"} }, false},
		{"expired-within-leeway", func(c *AccessClaims) {
			c.ExpiresAt = gjwt.NewNumericDate(time.Now().Add(-15 * time.Second))
			c.IssuedAt = gjwt.NewNumericDate(time.Now().Add(-time.Minute))
		}, true},
		{"expired-past-leeway", func(c *AccessClaims) {
			c.ExpiresAt = gjwt.NewNumericDate(time.Now().Add(-2 * time.Minute))
			c.IssuedAt = gjwt.NewNumericDate(time.Now().Add(-3 * time.Minute))
		}, false},
		{"iat-far-future", func(c *AccessClaims) {
			c.IssuedAt = gjwt.NewNumericDate(time.Now().Add(time.Hour))
		}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := m.ParseAccess(forge(t, priv, "", tc.mutate))
			if tc.wantOK && err != nil {
				t.Fatalf("expected token to pass: %v", err)
			}
			if !tc.wantOK && err == nil {
				t.Fatal("expected token to be rejected")
			}
		})
	}

	expired := forge(t, priv, "", cases[3].mutate)
	if _, err := m.ParseAccess(expired); !IsExpired(err) {
		t.Fatalf("IsExpired = false for expired token error %v", err)
	}
}

func TestParseAccessKidEnforcement(t *testing.T) {
	pub1, priv1 := newEdKeys(t)
	pub2, _ := newEdKeys(t)
	m, err := NewManager(Config{
		AccessTTL:     time.Minute,
		SigningMethod: MethodEd25519,
		PrivateKey:    priv1,
		PublicKey:     pub1,
		KeyID:         "k1",
		VerifyKeys:    map[string][]byte{"k1": pub1},
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	anonymize := func(c *AccessClaims) { c.Issuer = ""; c.Audience = nil }
	if _, err := m.ParseAccess(forge(t, priv1, "k2", anonymize)); err == nil {
		t.Fatal("expected unknown kid failure")
	}
	if _, err := m.ParseAccess(forge(t, priv1, "", anonymize)); err == nil {
		t.Fatal("expected missing kid failure")
	}

	good := forge(t, priv1, "k1", anonymize)
	if _, err := m.ParseAccess(good); err != nil {
		t.Fatalf("expected known kid token to pass: %v", err)
	}

	other, err := NewManager(Config{
		AccessTTL:     time.Minute,
		SigningMethod: MethodEd25519,
		PublicKey:     pub2,
		VerifyKeys:    map[string][]byte{"k2": pub2},
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if _, err := other.ParseAccess(good); err == nil {
		t.Fatal("expected parse failure with mismatched key set")
	}
}

func TestNewManagerRejectsBadConfig(t *testing.T) {
	pub, priv := newEdKeys(t)

	cases := []struct {
		name string
		cfg  Config
	}{
		{"zero-ttl", Config{SigningMethod: MethodEd25519, PublicKey: pub}},
		{"oversized-leeway", Config{AccessTTL: time.Minute, SigningMethod: MethodEd25519, PublicKey: pub, Leeway: 5 * time.Minute}},
		{"hs256-no-secret", Config{AccessTTL: time.Minute, SigningMethod: MethodHS256}},
		{"ed25519-no-keys", Config{AccessTTL: time.Minute, SigningMethod: MethodEd25519}},
		{"unknown-method", Config{AccessTTL: time.Minute, SigningMethod: "rs512", PrivateKey: priv}},
		{"garbage-public-key", Config{AccessTTL: time.Minute, SigningMethod: MethodEd25519, PublicKey: []byte("short")}},
		{"empty-kid-entry", Config{AccessTTL: time.Minute, SigningMethod: MethodEd25519, PublicKey: pub, VerifyKeys: map[string][]byte{" ": pub}}},
		{"keyid-not-in-set", Config{AccessTTL: time.Minute, SigningMethod: MethodEd25519, PublicKey: pub, KeyID: "k9", VerifyKeys: map[string][]byte{"k1": pub}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewManager(tc.cfg); err == nil {
				t.Fatal("expected config to be rejected")
			}
		})
	}
}
