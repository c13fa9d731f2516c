// Package session manages the lifecycle of authenticated client contexts:
// issuance, blind-index resolution, idle timeouts, enumeration, and
// revocation. Sessions are terminated logically (timestamps set) rather than
// deleted, preserving audit history.
package session

import "time"

// Client captures the request context a session was created from.
type Client struct {
	Fingerprint string
	DeviceInfo  string
	OSInfo      string
	Timezone    string
	IP          string
}

// Session is one authenticated client context. The bearer token itself is
// never persisted in plaintext; only its ciphertext and blind-index digest
// are stored.
type Session struct {
	ID         string
	IdentityID string

	TokenCiphertext []byte
	TokenDigest     string

	// PayloadCiphertext holds the encrypted identity snapshot current as
	// of issuance (remote-authority variant); nil for local sessions,
	// which reference the identity row instead.
	PayloadCiphertext []byte

	Client    Client
	Latitude  *float64
	Longitude *float64

	ExpiresAt   time.Time
	LastSeenAt  *time.Time
	SignedOutAt *time.Time
	CreatedAt   time.Time
}

// Active reports whether the session is usable at the given instant:
// not signed out and not past its absolute expiration.
func (s *Session) Active(now time.Time) bool {
	return s.SignedOutAt == nil && s.ExpiresAt.After(now)
}
