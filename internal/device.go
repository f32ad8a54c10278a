package internal

import "crypto/sha256"

// Fingerprint derives the device fingerprint recorded at session creation and
// recomputed on every validation. It covers the request "shape" available
// without client cooperation: user agent, accept headers, and source IP.
// Components are length-framed by a separator so adjacent fields cannot
// collide into the same digest.
func Fingerprint(userAgent, accept, acceptLanguage, ip string) [32]byte {
	h := sha256.New()
	h.Write([]byte(userAgent))
	h.Write([]byte{'\n'})
	h.Write([]byte(accept))
	h.Write([]byte{'\n'})
	h.Write([]byte(acceptLanguage))
	h.Write([]byte{'\n'})
	h.Write([]byte(ip))

	var out [32]byte
	h.Sum(out[:0])
	return out
}

// HashBindingValue hashes a single binding component (IP, user agent) for
// storage in session records and token claims.
func HashBindingValue(v string) [32]byte {
	return sha256.Sum256([]byte(v))
}
