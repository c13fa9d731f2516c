package crypt

import "errors"

// ErrIntegrity indicates that a ciphertext failed authentication: either it
// was tampered with or the wrong key was used. Callers must not collapse this
// into "not found" — it is a security event and is surfaced distinctly.
var ErrIntegrity = errors.New("crypt: ciphertext integrity check failed")
