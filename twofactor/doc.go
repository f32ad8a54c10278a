// Package twofactor generates and verifies the second authentication factor:
// RFC 6238 TOTP codes and single-use backup codes.
//
// Secrets are 160-bit base32 values with otpauth:// provisioning URIs for
// authenticator apps. Verification tolerates ±2 time steps of clock drift.
// Backup codes are shown to the user exactly once; only SHA-256 hashes of
// their normalized form are stored, and matching is case-insensitive.
package twofactor
