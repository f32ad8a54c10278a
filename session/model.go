package session

// Session is the server-side record backing one authenticated device.
//
// SessionID is carried in the Redis key, not the encoded blob; the store
// fills it in on reads. IP and UserAgent are kept verbatim so identity
// owners can recognize their devices when listing sessions, while
// Fingerprint and RefreshHash only ever hold digests.
type Session struct {
	SessionID     string
	SchemaVersion uint8

	IdentityID string
	TenantID   string

	IP        string
	UserAgent string

	RefreshHash [32]byte
	Fingerprint [32]byte

	CreatedAt  int64
	LastSeenAt int64
	ExpiresAt  int64
}
