package twofactor

import (
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	// 20 random bytes = 160 bits of secret, the RFC 4226 recommended minimum.
	secretSize = 20

	period = 30
	// Accepted drift in 30-second steps on either side of now.
	skew = 2
)

// Bundle is the enrollment material handed to the user exactly once. The
// plaintext backup codes are never reconstructible afterwards.
type Bundle struct {
	Secret          string
	ProvisioningURI string
	BackupCodes     []string
}

// Generate creates a fresh TOTP secret, its provisioning URI, and a set of
// backup codes for the given account.
func Generate(issuer, accountName string) (*Bundle, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: accountName,
		SecretSize:  secretSize,
		Period:      period,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, err
	}

	codes, err := NewBackupCodes()
	if err != nil {
		return nil, err
	}

	return &Bundle{
		Secret:          key.Secret(),
		ProvisioningURI: key.URL(),
		BackupCodes:     codes,
	}, nil
}

// VerifyTOTP reports whether the code is valid for the secret at the given
// instant, accepting ±2 time steps of drift. Malformed codes and undecodable
// secrets are simply invalid.
func VerifyTOTP(secret, code string, at time.Time) bool {
	ok, err := totp.ValidateCustom(code, secret, at, totp.ValidateOpts{
		Period:    period,
		Skew:      skew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}
