// Package internal holds helpers that are private to authcore: secure random
// identifier generation, the opaque refresh/challenge token codecs, and device
// fingerprint hashing. Nothing here may leak into the public API surface.
package internal
