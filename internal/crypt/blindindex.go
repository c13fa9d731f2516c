package crypt

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

// BlindIndex derives deterministic keyed digests from plaintext so that
// encrypted columns stay equality-searchable: identical inputs always map to
// the same digest, and the digest reveals nothing beyond equality.
type BlindIndex struct {
	key []byte
}

// NewBlindIndex builds a BlindIndex from a 32-byte key. The index key must be
// distinct from the encryption master key.
func NewBlindIndex(key []byte) (*BlindIndex, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("crypt: invalid index key size: got %d, want %d", len(key), KeySize)
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &BlindIndex{key: k}, nil
}

// Digest returns the hex-encoded HMAC-SHA256 of plaintext.
func (b *BlindIndex) Digest(plaintext string) string {
	mac := hmac.New(sha256.New, b.key)
	mac.Write([]byte(plaintext))
	return hex.EncodeToString(mac.Sum(nil))
}

// Matches reports whether candidate hashes to digest, in constant time.
func (b *BlindIndex) Matches(candidate, digest string) bool {
	computed := b.Digest(candidate)
	if len(computed) != len(digest) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(computed), []byte(digest)) == 1
}
