// Package vault provides envelope encryption for tenant secrets using a
// single process-wide master key. Blobs are opaque and tamper-evident; a
// plaintext password never persists anywhere once it has passed through here.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"

	"strata/internal/sentinel"
)

const (
	// KeySize is the required master key length (AES-256).
	KeySize = 32
	ivSize  = 12
	tagSize = 16
)

// Vault encrypts and decrypts secrets with AES-256-GCM.
//
// Blob layout: base64(IV(12) ‖ AuthTag(16) ‖ Ciphertext). The IV is freshly
// random for every Encrypt call, so encrypting the same plaintext twice
// yields different blobs.
type Vault struct {
	aead      cipher.AEAD
	ephemeral bool
}

// New constructs a Vault from a raw 256-bit master key.
func New(key []byte) (*Vault, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("master key is %d bytes: %w", len(key), sentinel.ErrInvalidKeyLength)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}
	return &Vault{aead: aead}, nil
}

// NewFromConfig constructs a Vault from a base64-encoded master key. When the
// key is absent the vault falls back to a random ephemeral key: it stays
// self-consistent for the process lifetime but cannot decrypt blobs written
// before startup or after a restart. That degraded mode is loudly logged, not
// silently accepted.
func NewFromConfig(masterKeyB64 string, log *slog.Logger) (*Vault, error) {
	if masterKeyB64 == "" {
		key := make([]byte, KeySize)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generate ephemeral key: %w", err)
		}
		log.Warn("vault master key not configured; using ephemeral key",
			"consequence", "encrypted credentials will not survive a restart")
		v, err := New(key)
		if err != nil {
			return nil, err
		}
		v.ephemeral = true
		return v, nil
	}

	key, err := base64.StdEncoding.DecodeString(masterKeyB64)
	if err != nil {
		return nil, fmt.Errorf("decode master key: %w", err)
	}
	return New(key)
}

// Ephemeral reports whether the vault runs on a generated in-process key.
func (v *Vault) Ephemeral() bool {
	return v.ephemeral
}

// Encrypt seals a plaintext secret into an opaque blob. The empty string is
// valid input.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	iv := make([]byte, ivSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("generate iv: %w", err)
	}

	// Seal appends the auth tag after the ciphertext; the blob layout wants
	// it between IV and ciphertext, so split and reorder.
	sealed := v.aead.Seal(nil, iv, []byte(plaintext), nil)
	ct, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]

	blob := make([]byte, 0, ivSize+tagSize+len(ct))
	blob = append(blob, iv...)
	blob = append(blob, tag...)
	blob = append(blob, ct...)
	return base64.StdEncoding.EncodeToString(blob), nil
}

// Decrypt opens a blob produced by Encrypt. A corrupted blob, a truncated
// blob, or a key mismatch all fail closed with ErrAuthenticationFailed;
// callers must not swallow that error, it signals data corruption or a key
// rotation gone wrong.
func (v *Vault) Decrypt(blob string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return "", fmt.Errorf("decode blob: %w", sentinel.ErrAuthenticationFailed)
	}
	if len(raw) < ivSize+tagSize {
		return "", fmt.Errorf("blob too short: %w", sentinel.ErrAuthenticationFailed)
	}

	iv := raw[:ivSize]
	tag := raw[ivSize : ivSize+tagSize]
	ct := raw[ivSize+tagSize:]

	sealed := make([]byte, 0, len(ct)+tagSize)
	sealed = append(sealed, ct...)
	sealed = append(sealed, tag...)

	plaintext, err := v.aead.Open(nil, iv, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("open blob: %w", sentinel.ErrAuthenticationFailed)
	}
	return string(plaintext), nil
}
