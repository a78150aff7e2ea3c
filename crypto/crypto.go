// Package crypto recovers the browser's cookie encryption key and decrypts the
// individual cookie values stored by Chromium-family browsers. Values are sealed
// with AES-256-GCM under a per-installation master key, and the master key itself
// is wrapped by an OS per-user protection service (DPAPI on Windows).
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

// KeySize is the length of the unwrapped master key (AES-256).
const KeySize = 32

const (
	versionSize = 3
	nonceSize   = 12
	tagSize     = 16
)

var (
	// ErrKeyUnavailable means no master key could be produced. Nothing downstream
	// can authenticate without it.
	ErrKeyUnavailable = errors.New("master key unavailable")

	// ErrDecryptFailed marks a single cookie value that could not be recovered.
	// Callers skip the record; it is never reported as an empty value.
	ErrDecryptFailed = errors.New("cookie decrypt failed")
)

// MasterKey holds the unwrapped 32-byte cookie encryption key. It is never persisted.
type MasterKey struct {
	b [KeySize]byte
}

// NewMasterKey copies raw into a MasterKey. raw must be exactly 32 bytes.
func NewMasterKey(raw []byte) (MasterKey, error) {
	var k MasterKey
	if len(raw) != KeySize {
		return k, fmt.Errorf("%w: must be %d bytes, got %d bytes", ErrKeyUnavailable, KeySize, len(raw))
	}
	copy(k.b[:], raw)
	return k, nil
}

// MasterKeyFromBase64 decodes an operator-supplied key, bypassing the local
// state file. Useful when the key was exported on another machine:
//
//	COOKIE_MASTER_KEY=$(openssl rand -base64 32)
func MasterKeyFromBase64(s string) (MasterKey, error) {
	if s == "" {
		return MasterKey{}, fmt.Errorf("%w: key is empty", ErrKeyUnavailable)
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return MasterKey{}, fmt.Errorf("%w: base64 decode failed: %v", ErrKeyUnavailable, err)
	}
	return NewMasterKey(raw)
}

// Bytes returns a copy of the key material.
func (k MasterKey) Bytes() []byte {
	out := make([]byte, KeySize)
	copy(out, k.b[:])
	return out
}

// Zero wipes the key material in place.
func (k *MasterKey) Zero() {
	for i := range k.b {
		k.b[i] = 0
	}
}

// CookieCipher decrypts (and, for fixtures, encrypts) cookie values in the
// versioned layout used by the browser:
//
//	[0:3)        version tag, "v10" or "v11"
//	[3:15)       12-byte nonce
//	[15:len-16)  ciphertext
//	[len-16:len) 16-byte GCM authentication tag
type CookieCipher struct {
	aead cipher.AEAD
}

// NewCookieCipher builds an AES-256-GCM cipher from the master key.
func NewCookieCipher(key MasterKey) (*CookieCipher, error) {
	block, err := aes.NewCipher(key.b[:])
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithTagSize(block, tagSize)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return &CookieCipher{aead: gcm}, nil
}

// Decrypt verifies and decrypts one encrypted cookie value.
// Every failure wraps ErrDecryptFailed:
//   - blob shorter than the version tag, or an unknown tag
//   - blob too short to hold nonce and authentication tag
//   - authentication failure (wrong key or tampering)
func (c *CookieCipher) Decrypt(blob []byte) ([]byte, error) {
	if len(blob) < versionSize {
		return nil, fmt.Errorf("%w: blob too short for version tag (%d bytes)", ErrDecryptFailed, len(blob))
	}
	version := string(blob[:versionSize])
	if !knownVersion(version) {
		return nil, fmt.Errorf("%w: unsupported version tag %q", ErrDecryptFailed, version)
	}
	if len(blob) < versionSize+nonceSize+tagSize {
		return nil, fmt.Errorf("%w: blob too short: expected at least %d bytes, got %d", ErrDecryptFailed, versionSize+nonceSize+tagSize, len(blob))
	}

	nonce := blob[versionSize : versionSize+nonceSize]
	sealed := blob[versionSize+nonceSize:]

	plaintext, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		// Don't expose internal error details
		return nil, fmt.Errorf("%w: authentication or integrity check failed", ErrDecryptFailed)
	}
	if plaintext == nil {
		plaintext = []byte{}
	}
	return plaintext, nil
}

// Encrypt seals plaintext with a random nonce in the browser layout.
func (c *CookieCipher) Encrypt(version string, plaintext []byte) ([]byte, error) {
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return c.EncryptWithNonce(version, nonce, plaintext)
}

// EncryptWithNonce seals plaintext with the given nonce. Deterministic, so it is
// meant for fixtures only.
func (c *CookieCipher) EncryptWithNonce(version string, nonce, plaintext []byte) ([]byte, error) {
	if !knownVersion(version) {
		return nil, fmt.Errorf("unsupported version tag %q", version)
	}
	if len(nonce) != nonceSize {
		return nil, fmt.Errorf("nonce must be %d bytes, got %d", nonceSize, len(nonce))
	}
	out := make([]byte, 0, versionSize+nonceSize+len(plaintext)+tagSize)
	out = append(out, version...)
	out = append(out, nonce...)
	return c.aead.Seal(out, nonce, plaintext, nil), nil
}

func knownVersion(v string) bool {
	return v == "v10" || v == "v11"
}
