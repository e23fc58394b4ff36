// Package secrets seals and opens IdP credentials at rest. Blobs are
// encrypted with AES-256-GCM under a key derived from the operator
// passphrase via Argon2id; the per-blob salt and nonce travel with the
// ciphertext.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	argonMemory  = 64 * 1024
	argonTime    = 3
	argonThreads = 4
	argonKeyLen  = 32

	saltLen  = 16
	nonceLen = 12
)

var ErrInvalidBlob = errors.New("secrets: invalid sealed blob")

// Codec seals and opens secret blobs with a passphrase-derived key.
type Codec struct {
	passphrase []byte
}

func NewCodec(passphrase string) (*Codec, error) {
	if strings.TrimSpace(passphrase) == "" {
		return nil, errors.New("secrets passphrase is required")
	}
	return &Codec{passphrase: []byte(passphrase)}, nil
}

func (c *Codec) deriveKey(salt []byte) []byte {
	return argon2.IDKey(c.passphrase, salt, argonTime, argonMemory, argonThreads, argonKeyLen)
}

// Seal encrypts plaintext and returns a base64 blob safe to persist.
func (c *Codec) Seal(plaintext []byte) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}
	nonce := make([]byte, nonceLen)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}

	aead, err := newAEAD(c.deriveKey(salt))
	if err != nil {
		return "", err
	}

	sealed := aead.Seal(nil, nonce, plaintext, nil)
	blob := make([]byte, 0, saltLen+nonceLen+len(sealed))
	blob = append(blob, salt...)
	blob = append(blob, nonce...)
	blob = append(blob, sealed...)
	return base64.StdEncoding.EncodeToString(blob), nil
}

// Open decrypts a blob produced by Seal.
func (c *Codec) Open(encoded string) ([]byte, error) {
	blob, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBlob, err)
	}
	if len(blob) < saltLen+nonceLen+1 {
		return nil, ErrInvalidBlob
	}

	salt := blob[:saltLen]
	nonce := blob[saltLen : saltLen+nonceLen]
	sealed := blob[saltLen+nonceLen:]

	aead, err := newAEAD(c.deriveKey(salt))
	if err != nil {
		return nil, err
	}

	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: decryption failed", ErrInvalidBlob)
	}
	return plaintext, nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
