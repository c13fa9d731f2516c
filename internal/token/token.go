// Package token mints client-facing session tokens. Two interchangeable
// strategies exist: opaque high-entropy bearer secrets whose validity is a
// pure server-side lookup, and signed compact tokens whose payload names the
// session they belong to.
package token

import (
	"errors"
	"time"
)

var (
	// ErrMalformed indicates the token does not have the expected shape.
	ErrMalformed = errors.New("token: malformed token")
	// ErrInvalidSignature indicates the signature does not match the payload.
	ErrInvalidSignature = errors.New("token: invalid signature")
)

// Ref is the verified payload of a signed compact token. The signature proves
// authenticity of the payload only; the referenced session must still be
// loaded and re-checked for expiration and ownership.
type Ref struct {
	IdentityID string
	SessionID  string
	IssuedAt   time.Time
}
