package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Signer issues and verifies signed compact tokens of the form
// base64(json payload) + "." + hex(hmac_sha256(encoded payload, key)).
type Signer struct {
	key []byte
	now func() time.Time
}

type signedPayload struct {
	IdentityID string `json:"identity_id"`
	SessionID  string `json:"session_id"`
	IssuedAt   int64  `json:"issued_at"`
}

// SignerOption configures a Signer.
type SignerOption func(*Signer)

// WithSignerClock overrides the time source (useful for tests).
func WithSignerClock(fn func() time.Time) SignerOption {
	return func(s *Signer) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewSigner builds a Signer from a server-side signing key.
func NewSigner(key []byte, opts ...SignerOption) (*Signer, error) {
	if len(key) == 0 {
		return nil, fmt.Errorf("token: signing key is empty")
	}
	k := make([]byte, len(key))
	copy(k, key)
	s := &Signer{key: k, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Issue creates a signed compact token binding identityID to sessionID.
func (s *Signer) Issue(identityID, sessionID string) (string, error) {
	if identityID == "" || sessionID == "" {
		return "", fmt.Errorf("token: identity and session ids are required")
	}
	raw, err := json.Marshal(signedPayload{
		IdentityID: identityID,
		SessionID:  sessionID,
		IssuedAt:   s.now().Unix(),
	})
	if err != nil {
		return "", fmt.Errorf("token: marshal payload: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(raw)
	return encoded + "." + s.sign(encoded), nil
}

// Verify checks the signature and decodes the payload. It does not consult
// session state; callers re-check the referenced session server-side.
func (s *Signer) Verify(tok string) (Ref, error) {
	parts := strings.Split(tok, ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Ref{}, ErrMalformed
	}
	expected := s.sign(parts[0])
	sig, err := hex.DecodeString(parts[1])
	if err != nil {
		return Ref{}, ErrMalformed
	}
	want, _ := hex.DecodeString(expected)
	if !hmac.Equal(sig, want) {
		return Ref{}, ErrInvalidSignature
	}

	raw, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return Ref{}, ErrMalformed
	}
	var payload signedPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return Ref{}, ErrMalformed
	}
	if payload.IdentityID == "" || payload.SessionID == "" {
		return Ref{}, ErrMalformed
	}
	return Ref{
		IdentityID: payload.IdentityID,
		SessionID:  payload.SessionID,
		IssuedAt:   time.Unix(payload.IssuedAt, 0).UTC(),
	}, nil
}

func (s *Signer) sign(encodedPayload string) string {
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(encodedPayload))
	return hex.EncodeToString(mac.Sum(nil))
}
