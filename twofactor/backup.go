package twofactor

import (
	"crypto/rand"
	"crypto/sha256"
	"math/big"
	"strings"
)

// Codes issued per enrollment.
const BackupCodeCount = 10

// Crockford-style alphabet: no I, L, O, 0, 1, so transcription mistakes
// cannot produce a different valid code.
const backupCodeAlphabet = "ABCDEFGHJKMNPQRSTVWXYZ23456789"

const backupCodeLength = 10

// NewBackupCodes returns BackupCodeCount fresh codes formatted as
// XXXXX-XXXXX. Callers hash them with HashBackupCode before storage.
func NewBackupCodes() ([]string, error) {
	codes := make([]string, 0, BackupCodeCount)
	seen := make(map[string]struct{}, BackupCodeCount)

	for len(codes) < BackupCodeCount {
		code, err := newBackupCode()
		if err != nil {
			return nil, err
		}
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		codes = append(codes, code)
	}

	return codes, nil
}

func newBackupCode() (string, error) {
	var b strings.Builder
	b.Grow(backupCodeLength + 1)

	alphabetSize := big.NewInt(int64(len(backupCodeAlphabet)))
	for i := 0; i < backupCodeLength; i++ {
		if i == backupCodeLength/2 {
			b.WriteByte('-')
		}
		n, err := rand.Int(rand.Reader, alphabetSize)
		if err != nil {
			return "", err
		}
		b.WriteByte(backupCodeAlphabet[n.Int64()])
	}

	return b.String(), nil
}

// NormalizeBackupCode uppercases and strips separators so user input matches
// regardless of casing or formatting.
func NormalizeBackupCode(code string) string {
	var b strings.Builder
	b.Grow(len(code))
	for _, r := range strings.ToUpper(code) {
		if r == '-' || r == ' ' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// HashBackupCode is the storage form of a backup code: SHA-256 of its
// normalized text.
func HashBackupCode(code string) [32]byte {
	return sha256.Sum256([]byte(NormalizeBackupCode(code)))
}
