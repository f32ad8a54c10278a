package twofactor

import (
	"strings"
	"testing"
)

func TestNewBackupCodesShape(t *testing.T) {
	codes, err := NewBackupCodes()
	if err != nil {
		t.Fatalf("generation failed: %v", err)
	}
	if len(codes) != BackupCodeCount {
		t.Fatalf("expected %d codes, got %d", BackupCodeCount, len(codes))
	}

	seen := make(map[string]struct{}, len(codes))
	for _, code := range codes {
		if len(code) != backupCodeLength+1 {
			t.Fatalf("unexpected code length for %q", code)
		}
		if code[backupCodeLength/2] != '-' {
			t.Fatalf("expected separator in %q", code)
		}
		for _, r := range strings.ReplaceAll(code, "-", "") {
			if !strings.ContainsRune(backupCodeAlphabet, r) {
				t.Fatalf("character %q outside alphabet in %q", r, code)
			}
		}
		if _, dup := seen[code]; dup {
			t.Fatalf("duplicate code %q", code)
		}
		seen[code] = struct{}{}
	}
}

func TestNormalizeBackupCode(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"AB2K3-X9M4P", "AB2K3X9M4P"},
		{"ab2k3-x9m4p", "AB2K3X9M4P"},
		{" ab2k3 x9m4p ", "AB2K3X9M4P"},
		{"AB2K3X9M4P", "AB2K3X9M4P"},
	}
	for _, tt := range tests {
		if got := NormalizeBackupCode(tt.in); got != tt.want {
			t.Errorf("NormalizeBackupCode(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestHashBackupCodeCaseInsensitive(t *testing.T) {
	upper := HashBackupCode("AB2K3-X9M4P")
	lower := HashBackupCode("ab2k3-x9m4p")
	bare := HashBackupCode("ab2k3x9m4p")

	if upper != lower || upper != bare {
		t.Fatal("hash must be identical across casing and formatting")
	}

	other := HashBackupCode("ZZ2K3-X9M4P")
	if other == upper {
		t.Fatal("distinct codes must not collide")
	}
}
