// Copyright 2024 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may not
// use this file except in compliance with the License. You may obtain a copy of
// the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS, WITHOUT
// WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the
// License for the specific language governing permissions and limitations under
// the License.

// Package seal derives record keys from an opaque secret and protects the
// instance record with authenticated encryption.
package seal

import (
	"crypto"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	// Ensure hashes are available.
	_ "crypto/sha256"
	_ "crypto/sha512"

	"github.com/google/go-tpm/legacy/tpm2"
	"golang.org/x/crypto/hkdf"
)

// ErrCrypto is returned for every key derivation, sealing or opening failure.
// Opening does not distinguish a wrong key from a corrupted ciphertext.
var ErrCrypto = errors.New("cryptographic operation failed")

// Provider is the set of cryptographic operations the instance store needs.
type Provider interface {
	// DeriveKey deterministically derives a record key from secret.
	DeriveKey(secret []byte) ([]byte, error)
	// Seal encrypts and authenticates plaintext. Any nonce is carried inside
	// the returned ciphertext.
	Seal(key, plaintext []byte) ([]byte, error)
	// Open authenticates and decrypts a ciphertext produced by Seal.
	Open(key, ciphertext []byte) ([]byte, error)
	// MaxOverhead is the largest difference between ciphertext and plaintext
	// lengths.
	MaxOverhead() int
}

// Defaults used by AESGCM.
const (
	DefaultInfo    = "vm-instance"
	DefaultKDFHash = tpm2.AlgSHA512
	KeySize        = 32
	NonceSize      = 12
	TagSize        = 16
)

// AESGCM derives keys with HKDF and seals with AES-256-GCM using a random
// nonce. The nonce is appended to the sealed output, which is laid out as
// ciphertext || tag || nonce. No associated data is used.
//
// The zero value uses HKDF-SHA512 with an empty salt and DefaultInfo.
type AESGCM struct {
	// KDFHash is the TPM algorithm ID of the HKDF hash. Zero means
	// DefaultKDFHash.
	KDFHash tpm2.Algorithm
	// Info is the HKDF context string. Empty means DefaultInfo.
	Info string
	// Rand is the nonce source. Nil means crypto/rand.
	Rand io.Reader
}

var _ Provider = AESGCM{}

func (a AESGCM) kdfHash() (crypto.Hash, error) {
	alg := a.KDFHash
	if alg == 0 {
		alg = DefaultKDFHash
	}
	h, err := alg.Hash()
	if err != nil {
		return crypto.Hash(0), fmt.Errorf("unsupported KDF hash %v: %v", alg, err)
	}
	if !h.Available() {
		return crypto.Hash(0), fmt.Errorf("KDF hash %v is not linked into the binary", h)
	}
	return h, nil
}

func (a AESGCM) info() []byte {
	if a.Info == "" {
		return []byte(DefaultInfo)
	}
	return []byte(a.Info)
}

func (a AESGCM) rand() io.Reader {
	if a.Rand == nil {
		return rand.Reader
	}
	return a.Rand
}

// DeriveKey returns HKDF(secret, salt = nil, info) truncated to KeySize.
func (a AESGCM) DeriveKey(secret []byte) ([]byte, error) {
	h, err := a.kdfHash()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCrypto, err)
	}
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(hkdf.New(h.New, secret, nil, a.info()), key); err != nil {
		return nil, fmt.Errorf("%w: deriving key: %v", ErrCrypto, err)
	}
	return key, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: got %d byte key, want %d", ErrCrypto, len(key), KeySize)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCrypto, err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCrypto, err)
	}
	return aead, nil
}

// Seal encrypts plaintext under key with a fresh random nonce.
func (a AESGCM) Seal(key, plaintext []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(a.rand(), nonce); err != nil {
		return nil, fmt.Errorf("%w: generating nonce: %v", ErrCrypto, err)
	}
	out := make([]byte, 0, len(plaintext)+a.MaxOverhead())
	out = aead.Seal(out, nonce, plaintext, nil)
	return append(out, nonce...), nil
}

// Open reverses Seal. On failure it returns ErrCrypto and no plaintext.
func (a AESGCM) Open(key, ciphertext []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < a.MaxOverhead() {
		return nil, ErrCrypto
	}
	split := len(ciphertext) - aead.NonceSize()
	plaintext, err := aead.Open(nil, ciphertext[split:], ciphertext[:split], nil)
	if err != nil {
		return nil, ErrCrypto
	}
	return plaintext, nil
}

// MaxOverhead returns NonceSize + TagSize.
func (AESGCM) MaxOverhead() int {
	return NonceSize + TagSize
}
