// Package secretbox encrypts small secrets for storage at rest.
//
// Ciphertexts are AES-256-GCM with a random 12-byte nonce prepended, encoded
// as "v1:<base64url>". The AES key is derived from the configured secret
// with HKDF-SHA256 so any length of secret material can be supplied.
package secretbox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const (
	prefix   = "v1:"
	keyInfo  = "canvas api-key encryption"
	keyBytes = 32
)

var ErrDecrypt = errors.New("secretbox: decrypt failed")

type Box struct {
	aead cipher.AEAD
}

func New(secret []byte) (*Box, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("secretbox: empty secret")
	}
	key := make([]byte, keyBytes)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(keyInfo)), key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}
	return &Box{aead: aead}, nil
}

func (b *Box) Seal(plaintext string) (string, error) {
	nonce := make([]byte, b.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("read nonce: %w", err)
	}
	sealed := b.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return prefix + base64.RawURLEncoding.EncodeToString(sealed), nil
}

func (b *Box) Open(ciphertext string) (string, error) {
	if !strings.HasPrefix(ciphertext, prefix) {
		return "", ErrDecrypt
	}
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(ciphertext, prefix))
	if err != nil {
		return "", ErrDecrypt
	}
	size := b.aead.NonceSize()
	if len(raw) < size+b.aead.Overhead() {
		return "", ErrDecrypt
	}
	plaintext, err := b.aead.Open(nil, raw[:size], raw[size:], nil)
	if err != nil {
		return "", ErrDecrypt
	}
	return string(plaintext), nil
}
