// Package jwt issues and verifies the short-lived access tokens minted for
// authenticated sessions, using configured signing keys and strict validation
// semantics suitable for low-latency request paths.
package jwt
