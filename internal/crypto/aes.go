// Package crypto provides AES-256-GCM encryption for provider session refs
// and other credential-adjacent strings persisted by the stores.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"
)

const prefix = "aes-gcm:"

// Keeper seals and opens short strings with a fixed AES-256 key.
// A Keeper with an empty key passes values through unchanged, so standalone
// deployments without a configured key keep working.
type Keeper struct {
	key []byte // nil → passthrough
}

// NewKeeper derives the AES key from the configured secret.
// Accepts: hex-encoded (64 chars), base64-encoded (44 chars), or raw 32 bytes.
// An empty secret yields a passthrough Keeper.
func NewKeeper(secret string) (*Keeper, error) {
	if secret == "" {
		return &Keeper{}, nil
	}
	key, err := deriveKey(secret)
	if err != nil {
		return nil, err
	}
	return &Keeper{key: key}, nil
}

// Seal encrypts plaintext, returning "aes-gcm:" + base64(nonce + ciphertext + tag).
func (k *Keeper) Seal(plaintext string) (string, error) {
	if k.key == nil || plaintext == "" {
		return plaintext, nil
	}

	gcm, err := k.gcm()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return prefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a value produced by Seal. Values without the "aes-gcm:"
// prefix are returned as-is (plain text written before a key was configured).
func (k *Keeper) Open(value string) (string, error) {
	if k.key == nil || value == "" || !strings.HasPrefix(value, prefix) {
		return value, nil
	}

	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, prefix))
	if err != nil {
		return value, nil // not valid base64 → treat as plain text
	}

	gcm, err := k.gcm()
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return value, nil
	}

	plaintext, err := gcm.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", errors.New("decrypt failed: invalid key or corrupted data")
	}
	return string(plaintext), nil
}

func (k *Keeper) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(k.key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func deriveKey(input string) ([]byte, error) {
	// Hex-encoded: 64 hex chars = 32 bytes
	if len(input) == 64 {
		if b, err := hex.DecodeString(input); err == nil {
			return b, nil
		}
	}

	// Base64-encoded: 44 chars = 32 bytes
	if len(input) == 44 && strings.HasSuffix(input, "=") {
		if b, err := base64.StdEncoding.DecodeString(input); err == nil && len(b) == 32 {
			return b, nil
		}
	}

	if len(input) == 32 {
		return []byte(input), nil
	}

	return nil, errors.New("encryption key must be 32 bytes (hex-encoded 64 chars, base64 44 chars, or raw 32 bytes)")
}
