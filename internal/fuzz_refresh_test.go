package internal

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

func mustRefreshToken(f *testing.F) string {
	f.Helper()
	sid, err := NewSessionID()
	if err != nil {
		f.Fatalf("session id: %v", err)
	}
	secret, err := NewRefreshSecret()
	if err != nil {
		f.Fatalf("refresh secret: %v", err)
	}
	token, err := EncodeRefreshToken(sid.String(), secret)
	if err != nil {
		f.Fatalf("encode: %v", err)
	}
	return token
}

// FuzzDecodeRefreshToken asserts the refresh codec never panics and that
// anything it accepts survives an encode/decode round trip unchanged.
func FuzzDecodeRefreshToken(f *testing.F) {
	valid := mustRefreshToken(f)
	for _, seed := range []string{
		"",
		"abc",
		"!!!not-base64!!!",
		"aGVsbG8=",
		valid,
		valid[:len(valid)-1],    // one character short
		valid + "A",             // one character past
		strings.Repeat("A", 86), // right length, all-zero payload
	} {
		f.Add(seed)
	}

	f.Fuzz(func(t *testing.T, input string) {
		sessionID, secret, err := DecodeRefreshToken(input)
		if err != nil {
			return // rejected input; only a panic is a failure
		}

		// The decoded session ID is the codec's own rendering, so re-encoding
		// an accepted token can never fail.
		token, err := EncodeRefreshToken(sessionID, secret)
		if err != nil {
			t.Fatalf("re-encode of accepted token failed: %v", err)
		}
		gotSID, gotSecret, err := DecodeRefreshToken(token)
		if err != nil {
			t.Fatalf("round trip decode failed: %v", err)
		}
		if gotSID != sessionID || gotSecret != secret {
			t.Errorf("round trip changed the token: %q -> %q", sessionID, gotSID)
		}
	})
}

// FuzzDecodeChallengeToken covers the reset/verification codec the same way.
func FuzzDecodeChallengeToken(f *testing.F) {
	secret, err := NewChallengeSecret()
	if err != nil {
		f.Fatalf("challenge secret: %v", err)
	}
	valid := EncodeChallengeToken(uuid.New(), secret)
	for _, seed := range []string{
		"",
		"c2hvcnQ",
		valid,
		valid + "zz",
		strings.Repeat("_", 64), // right length, all-ones payload
	} {
		f.Add(seed)
	}

	f.Fuzz(func(t *testing.T, input string) {
		id, secret, err := DecodeChallengeToken(input)
		if err != nil {
			return
		}

		gotID, gotSecret, err := DecodeChallengeToken(EncodeChallengeToken(id, secret))
		if err != nil {
			t.Fatalf("round trip decode failed: %v", err)
		}
		if gotID != id || gotSecret != secret {
			t.Errorf("round trip changed the token: %v -> %v", id, gotID)
		}
	})
}
