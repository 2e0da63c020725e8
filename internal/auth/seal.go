package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/scrypt"
)

// SealedPrefix marks a sealed credential value.
const SealedPrefix = "sealed:"

const (
	saltSize  = 16
	nonceSize = 24
	keySize   = 32

	// scrypt cost parameters (interactive login strength).
	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1
)

// Sealer encrypts credential fields of stored configs with a passphrase.
// A Sealer with an empty passphrase leaves values untouched.
type Sealer struct {
	passphrase []byte
	rand       io.Reader
}

// NewSealer returns a sealer for passphrase.
func NewSealer(passphrase string) *Sealer {
	return &Sealer{passphrase: []byte(passphrase), rand: rand.Reader}
}

// Enabled reports whether a passphrase is set.
func (s *Sealer) Enabled() bool {
	return s != nil && len(s.passphrase) > 0
}

// Seal encrypts plaintext. Already sealed values are returned unchanged.
func (s *Sealer) Seal(plaintext string) (string, error) {
	if !s.Enabled() || plaintext == "" || strings.HasPrefix(plaintext, SealedPrefix) {
		return plaintext, nil
	}

	buf := make([]byte, saltSize+nonceSize)
	if _, err := io.ReadFull(s.rand, buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	salt := buf[:saltSize]
	var nonce [nonceSize]byte
	copy(nonce[:], buf[saltSize:])

	key, err := s.deriveKey(salt)
	if err != nil {
		return "", err
	}
	out := secretbox.Seal(buf, []byte(plaintext), &nonce, key)
	return SealedPrefix + base64.RawStdEncoding.EncodeToString(out), nil
}

// Open decrypts a value produced by Seal. Plain values are returned
// unchanged.
func (s *Sealer) Open(value string) (string, error) {
	encoded, ok := strings.CutPrefix(value, SealedPrefix)
	if !ok {
		return value, nil
	}
	if !s.Enabled() {
		return "", ErrPassphraseRequired
	}

	raw, err := base64.RawStdEncoding.DecodeString(encoded)
	if err != nil || len(raw) < saltSize+nonceSize+secretbox.Overhead {
		return "", fmt.Errorf("%w: malformed value", ErrUnseal)
	}
	salt := raw[:saltSize]
	var nonce [nonceSize]byte
	copy(nonce[:], raw[saltSize:saltSize+nonceSize])

	key, err := s.deriveKey(salt)
	if err != nil {
		return "", err
	}
	plain, ok := secretbox.Open(nil, raw[saltSize+nonceSize:], &nonce, key)
	if !ok {
		return "", fmt.Errorf("%w: wrong passphrase or corrupted value", ErrUnseal)
	}
	return string(plain), nil
}

func (s *Sealer) deriveKey(salt []byte) (*[keySize]byte, error) {
	derived, err := scrypt.Key(s.passphrase, salt, scryptN, scryptR, scryptP, keySize)
	if err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	var key [keySize]byte
	copy(key[:], derived)
	return &key, nil
}

// SealConfig seals every credential field of cfg in place.
func (s *Sealer) SealConfig(cfg Config) error {
	if !s.Enabled() {
		return nil
	}
	return cfg.transformSecrets(s.Seal)
}

// OpenConfig opens every sealed credential field of cfg in place.
func (s *Sealer) OpenConfig(cfg Config) error {
	return cfg.transformSecrets(s.Open)
}
