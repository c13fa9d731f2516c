package token

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// opaqueEntropyBytes is 384 bits, comfortably above the 256-bit floor for
// bearer secrets.
const opaqueEntropyBytes = 48

// NewOpaque returns a cryptographically random, URL-safe bearer token. The
// token is the sole secret; the server keeps no derivable structure.
func NewOpaque() (string, error) {
	buf := make([]byte, opaqueEntropyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("token: read entropy: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
