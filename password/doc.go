// Package password implements password hashing and verification with Argon2id.
//
// Hashes are encoded in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// Verification reads the parameters embedded in the stored hash, so cost
// changes never invalidate existing credentials. [Argon2.NeedsUpgrade]
// reports whether a stored hash was produced with weaker parameters than the
// current configuration; callers can re-hash on the next successful login.
//
// This package owns hashing and verification only. Password policy beyond the
// byte-length floor (reuse checks, breach lists) belongs to the caller, and
// plaintext passwords are never stored or logged here.
package password
