package gateway

import (
	"context"
	"errors"
	"strings"

	"idgate.org/internal/identity"
	"idgate.org/internal/obs"
)

// Local authenticates against the service's own user table with bcrypt.
// Wrong email and wrong password are indistinguishable to the caller.
type Local struct {
	users identity.UserStore
}

// NewLocal builds the local-credential gateway.
func NewLocal(users identity.UserStore) *Local {
	return &Local{users: users}
}

// Authenticate looks up the user by email and verifies the password hash.
func (l *Local) Authenticate(ctx context.Context, creds Credentials) (identity.Identity, error) {
	email := strings.ToLower(strings.TrimSpace(creds.Email))
	if email == "" || creds.Password == "" {
		obs.AuthAttempts.WithLabelValues("local", "rejected").Inc()
		return nil, ErrAuthFailed
	}

	user, err := l.users.FindByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, identity.ErrNotFound) {
			obs.LogSecurityEvent("gateway.user_lookup_failed", map[string]any{
				"error": err.Error(),
			})
		}
		obs.AuthAttempts.WithLabelValues("local", "rejected").Inc()
		return nil, ErrAuthFailed
	}
	if err := identity.VerifyPassword(user.PasswordHash, creds.Password); err != nil {
		obs.AuthAttempts.WithLabelValues("local", "rejected").Inc()
		return nil, ErrAuthFailed
	}

	obs.AuthAttempts.WithLabelValues("local", "ok").Inc()
	return user, nil
}
