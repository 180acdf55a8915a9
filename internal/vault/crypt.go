// Widgetsync - Third-Party Data Synchronization Engine for Signage Widgets
// Copyright 2026 SignageHub
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/signagehub/widgetsync

// Package vault stores third-party credentials encrypted at rest.
//
// Credential payloads are sealed with AES-256-GCM. The data key for each
// credential is derived from the process master key with HKDF-SHA256, using
// the credential's scope reference (organization or widget instance) as the
// derivation context. A ciphertext written for one scope can never be opened
// with a key derived for another.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

var (
	// ErrInvalidKey indicates the master key is missing or too short.
	ErrInvalidKey = errors.New("vault: master key must be at least 32 bytes")

	// ErrInvalidCiphertext indicates the ciphertext is malformed.
	ErrInvalidCiphertext = errors.New("vault: invalid ciphertext")

	// ErrDecryptionFailed indicates authentication or decryption failure.
	// Wrong scope, wrong key and tampered data are indistinguishable here.
	ErrDecryptionFailed = errors.New("vault: decryption failed")
)

// keyContext namespaces HKDF derivations so a key derived for credentials
// can never collide with a future derivation for another purpose.
const keyContext = "widgetsync/credential/v1/"

// Vault seals and opens credential payloads.
type Vault struct {
	masterKey []byte
}

// New creates a Vault from a raw master key. The key must be at least
// 32 bytes; typically it comes from config.MasterKeyBytes().
func New(masterKey []byte) (*Vault, error) {
	if len(masterKey) < 32 {
		return nil, ErrInvalidKey
	}
	key := make([]byte, len(masterKey))
	copy(key, masterKey)
	return &Vault{masterKey: key}, nil
}

// deriveKey derives the AES-256 data key for a scope reference.
func (v *Vault) deriveKey(scopeRef string) ([]byte, error) {
	r := hkdf.New(sha256.New, v.masterKey, nil, []byte(keyContext+scopeRef))
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("vault: key derivation failed: %w", err)
	}
	return key, nil
}

// Seal encrypts plaintext under the key derived for scopeRef. The output is
// base64(nonce || ciphertext || tag).
func (v *Vault) Seal(scopeRef string, plaintext []byte) (string, error) {
	key, err := v.deriveKey(scopeRef)
	if err != nil {
		return "", err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("vault: cipher init failed: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("vault: gcm init failed: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("vault: nonce generation failed: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a ciphertext produced by Seal for the same scopeRef.
func (v *Vault) Open(scopeRef, ciphertext string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, ErrInvalidCiphertext
	}

	key, err := v.deriveKey(scopeRef)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("vault: cipher init failed: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("vault: gcm init failed: %w", err)
	}

	if len(raw) < gcm.NonceSize()+gcm.Overhead() {
		return nil, ErrInvalidCiphertext
	}

	nonce, sealed := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}
