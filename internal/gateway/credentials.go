package gateway

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// sealCredentials encrypts the credential pair exactly the way the authority
// expects it: AES-256-CBC under a key derived from the shared secret
// (SHA-256 of the secret), with an IV taken from the secret's first 16 bytes
// padded with '0'. The result is standard base64.
func sealCredentials(creds Credentials, secret string) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("gateway: shared secret is empty")
	}
	payload, err := json.Marshal(map[string]string{
		"email":    creds.Email,
		"password": creds.Password,
	})
	if err != nil {
		return "", fmt.Errorf("gateway: marshal credentials: %w", err)
	}

	keyDigest := sha256.Sum256([]byte(secret))
	block, err := aes.NewCipher(keyDigest[:])
	if err != nil {
		return "", fmt.Errorf("gateway: create cipher: %w", err)
	}

	iv := deriveIV(secret)
	padded := pkcs7Pad(payload, aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)

	return base64.StdEncoding.EncodeToString(out), nil
}

func deriveIV(secret string) []byte {
	iv := []byte(secret)
	if len(iv) > aes.BlockSize {
		iv = iv[:aes.BlockSize]
	}
	for len(iv) < aes.BlockSize {
		iv = append(iv, '0')
	}
	return iv
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	pad := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(pad)}, pad)...)
}
