package session

import "errors"

var (
	// ErrNotFound covers absent, expired, and signed-out sessions alike.
	// Callers surface it uniformly as "please re-authenticate".
	ErrNotFound = errors.New("session: not found")
	// ErrIdleExpired indicates the session breached its idle limit and was
	// signed out during evaluation.
	ErrIdleExpired = errors.New("session: idle expired")
)
