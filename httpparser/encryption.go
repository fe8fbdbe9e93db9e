// Copyright 2025 The packetd Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package httpparser

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"io"

	"github.com/pkg/errors"
	"golang.org/x/crypto/pbkdf2"
)

// pbkdf2Iterations matches a conservative default for server-side payload
// encryption keys; the key is derived afresh on every Encrypt/Decrypt call.
const pbkdf2Iterations = 100_000

// EncryptionConfig describes the AEAD payload encryption settings of
// ServiceConfig.encryption.
type EncryptionConfig struct {
	Enabled bool
	Pass    string
	Salt    string
}

// deriveKey turns (pass, salt) into a 32-byte AES-256 key via PBKDF2-HMAC-SHA256.
func deriveKey(cfg EncryptionConfig) []byte {
	return pbkdf2.Key([]byte(cfg.Pass), []byte(cfg.Salt), pbkdf2Iterations, 32, sha256.New)
}

// EncryptPayload seals plaintext with AES-256-GCM using a key derived from cfg.
// The nonce is prepended to the ciphertext.
func EncryptPayload(cfg EncryptionConfig, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(deriveKey(cfg))
	if err != nil {
		return nil, errors.Wrap(err, "aes cipher")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Wrap(err, "gcm")
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, errors.Wrap(err, "nonce")
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// DecryptPayload reverses EncryptPayload.
func DecryptPayload(cfg EncryptionConfig, sealed []byte) ([]byte, error) {
	block, err := aes.NewCipher(deriveKey(cfg))
	if err != nil {
		return nil, errors.Wrap(err, "aes cipher")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Wrap(err, "gcm")
	}
	if len(sealed) < gcm.NonceSize() {
		return nil, errors.New("httpparser: ciphertext shorter than nonce")
	}
	nonce, ct := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	return gcm.Open(nil, nonce, ct, nil)
}
