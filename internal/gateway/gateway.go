// Package gateway produces verified identity assertions from submitted
// credentials. Two interchangeable strategies exist: delegating verification
// to a remote authority over an encrypted channel, or checking a locally
// stored password hash. Both collapse every failure into one uniform
// rejection so callers cannot enumerate accounts.
package gateway

import (
	"context"
	"errors"

	"idgate.org/internal/identity"
)

// ErrAuthFailed is the single caller-visible authentication failure. Wrong
// email, wrong password, and authority transport problems are all
// indistinguishable at this boundary; transport problems are additionally
// logged for operators.
var ErrAuthFailed = errors.New("gateway: authentication failed")

// Credentials is a submitted email/password pair.
type Credentials struct {
	Email    string
	Password string
}

// Gateway verifies credentials and returns the authenticated principal.
type Gateway interface {
	Authenticate(ctx context.Context, creds Credentials) (identity.Identity, error)
}
