package crypt

// EncryptedField pairs an Encryptor with a BlindIndex so every confidential,
// equality-searched column (session tokens, emails) goes through one audited
// implementation instead of ad hoc per-field logic.
type EncryptedField struct {
	enc *Encryptor
	idx *BlindIndex
}

// NewEncryptedField wires an encryptor and a blind index together.
func NewEncryptedField(enc *Encryptor, idx *BlindIndex) *EncryptedField {
	return &EncryptedField{enc: enc, idx: idx}
}

// Store produces the two persisted representations of plaintext: the
// authenticated ciphertext and the deterministic lookup digest.
func (f *EncryptedField) Store(plaintext string) (ciphertext []byte, digest string, err error) {
	ciphertext, err = f.enc.Encrypt([]byte(plaintext))
	if err != nil {
		return nil, "", err
	}
	return ciphertext, f.idx.Digest(plaintext), nil
}

// Open decrypts a stored ciphertext back to its plaintext.
func (f *EncryptedField) Open(ciphertext []byte) (string, error) {
	plaintext, err := f.enc.Decrypt(ciphertext)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// Digest returns the lookup digest for a candidate value.
func (f *EncryptedField) Digest(candidate string) string {
	return f.idx.Digest(candidate)
}

// Matches reports whether candidate corresponds to a stored digest.
func (f *EncryptedField) Matches(candidate, digest string) bool {
	return f.idx.Matches(candidate, digest)
}
