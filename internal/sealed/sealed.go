// Package sealed encrypts transcript text at rest with XChaCha20-Poly1305.
package sealed

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

// KeySize is the length of a raw key in bytes.
const KeySize = chacha20poly1305.KeySize

// prefix marks sealed values so plaintext rows written before a key was
// configured stay readable.
const prefix = "sealed:v1:"

var (
	ErrBadKey     = errors.New("sealed: invalid key")
	ErrNoKey      = errors.New("sealed: value is sealed but no key is configured")
	ErrCiphertext = errors.New("sealed: malformed ciphertext")
)

// Sealer seals and opens strings.
type Sealer interface {
	Seal(plaintext string) (string, error)
	Open(value string) (string, error)
}

// Cipher is a Sealer backed by one symmetric key.
type Cipher struct {
	key []byte
}

// New returns a Cipher for key, which must be KeySize bytes.
func New(key []byte) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrBadKey, len(key), KeySize)
	}
	k := make([]byte, KeySize)
	copy(k, key)
	return &Cipher{key: k}, nil
}

// GenerateKey returns a fresh random key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return key, nil
}

// SaveKey writes key to path as base64 with 0600 permissions.
func SaveKey(path string, key []byte) error {
	if len(key) != KeySize {
		return ErrBadKey
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create key dir: %w", err)
	}
	enc := base64.StdEncoding.EncodeToString(key) + "\n"
	if err := os.WriteFile(path, []byte(enc), 0o600); err != nil {
		return fmt.Errorf("write key: %w", err)
	}
	return nil
}

// LoadKey reads a base64 key written by SaveKey.
func LoadKey(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key: %w", err)
	}
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadKey, err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrBadKey, len(key), KeySize)
	}
	return key, nil
}

// Seal encrypts plaintext with a random nonce and returns
// prefix || base64(nonce || ciphertext).
func (c *Cipher) Seal(plaintext string) (string, error) {
	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	ct := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return prefix + base64.StdEncoding.EncodeToString(ct), nil
}

// Open reverses Seal. Values without the sealed prefix are returned as is.
func (c *Cipher) Open(value string) (string, error) {
	if !IsSealed(value) {
		return value, nil
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, prefix))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCiphertext, err)
	}
	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}
	if len(raw) < aead.NonceSize() {
		return "", ErrCiphertext
	}
	nonce, msg := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	pt, err := aead.Open(nil, nonce, msg, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(pt), nil
}

// IsSealed reports whether value was produced by Seal.
func IsSealed(value string) bool {
	return strings.HasPrefix(value, prefix)
}

// Plain is the Sealer used when no key is configured. It stores text
// unchanged and refuses to open sealed values.
type Plain struct{}

func (Plain) Seal(plaintext string) (string, error) { return plaintext, nil }

func (Plain) Open(value string) (string, error) {
	if IsSealed(value) {
		return "", ErrNoKey
	}
	return value, nil
}
