// Package crypto seals and opens credential secrets with AES-256-GCM.
//
// Connection passwords, private keys, and proxy credentials are stored in the
// secrets collection as hex ciphertext produced by Encrypt; the connection
// resolver calls Decrypt at the single point where a secret is consumed.
// The key comes from the PORTSIDE_ENCRYPTION_KEY environment variable
// (32-byte hex string); a deterministic dev-only key applies when unset.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

const (
	// EnvKey is the environment variable holding the 256-bit key (hex-encoded).
	EnvKey = "PORTSIDE_ENCRYPTION_KEY"

	// devKey is used ONLY when PORTSIDE_ENCRYPTION_KEY is unset.
	// Not suitable for production.
	devKey = "6d6f6f72696e676c696e65733f6d6f6f72696e676c696e6573216465636b3030"
)

var (
	keyOnce  sync.Once
	keyBytes []byte
	keyErr   error

	ErrCiphertextTooShort = errors.New("crypto: ciphertext too short")
)

// key returns the 32-byte AES key, resolved once on first call. A failed
// resolution sticks, so every caller sees the same error.
func key() ([]byte, error) {
	keyOnce.Do(func() {
		hexKey := os.Getenv(EnvKey)
		if hexKey == "" {
			hexKey = devKey
		}
		keyBytes, keyErr = hex.DecodeString(hexKey)
		if keyErr != nil {
			keyErr = fmt.Errorf("crypto: invalid hex key in %s: %w", EnvKey, keyErr)
			return
		}
		if len(keyBytes) != 32 {
			keyErr = fmt.Errorf("crypto: key must be 32 bytes (64 hex chars), got %d bytes", len(keyBytes))
		}
	})
	return keyBytes, keyErr
}

// Encrypt seals plaintext and returns hex(nonce || ciphertext || tag).
func Encrypt(plaintext string) (string, error) {
	gcm, err := newGCM()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("crypto: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return hex.EncodeToString(sealed), nil
}

// Decrypt opens hex-encoded ciphertext produced by Encrypt.
func Decrypt(ciphertextHex string) (string, error) {
	gcm, err := newGCM()
	if err != nil {
		return "", err
	}

	data, err := hex.DecodeString(ciphertextHex)
	if err != nil {
		return "", fmt.Errorf("crypto: invalid hex ciphertext: %w", err)
	}
	if len(data) < gcm.NonceSize() {
		return "", ErrCiphertextTooShort
	}

	nonce, ciphertext := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("crypto: decryption failed: %w", err)
	}
	return string(plaintext), nil
}

func newGCM() (cipher.AEAD, error) {
	k, err := key()
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(k)
	if err != nil {
		return nil, fmt.Errorf("crypto: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: %w", err)
	}
	return gcm, nil
}

// ResetKey is for testing only — resets the cached key so it can be re-resolved.
func ResetKey() {
	keyOnce = sync.Once{}
	keyBytes = nil
	keyErr = nil
}
