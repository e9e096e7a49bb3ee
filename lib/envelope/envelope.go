/*
 * Stronghold
 * Copyright (C) 2023  Stronghold Security, Inc.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

// Package envelope implements envelope encryption with AES-256-GCM.
//
// The plaintext handed to the AEAD is the base64 form of the
// JSON-encoded payload; the associated data is the base64 form of the
// canonically encoded encryption context. The data key comes from a
// [kms.KeyManager] and is zeroed the moment the AEAD call returns. The
// engine persists nothing and owns no identifiers.
package envelope

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"

	"github.com/gravitational/trace"

	"github.com/stronghold-sec/stronghold/lib/kms"
)

const (
	keySize   = 32
	nonceSize = 12
)

// Context is the encryption context of a record. Field order is the
// canonical encoding order; both sides must produce identical bytes or
// AEAD authentication fails.
type Context struct {
	DomainID string `json:"domain_id"`
	SecretID string `json:"secret_id"`
}

// Encode returns the base64 canonical JSON encoding used as AEAD
// associated data.
func (c Context) Encode() string {
	raw, err := json.Marshal(c)
	if err != nil {
		// Two string fields cannot fail to encode.
		panic(err)
	}
	return base64.StdEncoding.EncodeToString(raw)
}

// Map returns the context as the string mapping handed to the KMS.
func (c Context) Map() map[string]string {
	return map[string]string{
		"domain_id": c.DomainID,
		"secret_id": c.SecretID,
	}
}

// Bundle is the engine's output: the AEAD ciphertext and the nonce it
// was sealed with. Binary values, base64 encoded.
type Bundle struct {
	EncryptData string `json:"encrypt_data"`
	Nonce       string `json:"nonce"`
}

// Encrypt seals data under a fresh KMS data key bound to encCtx.
// It returns the bundle and the KMS-wrapped data key (base64).
func Encrypt(ctx context.Context, keys kms.KeyManager, data map[string]any, encCtx Context) (*Bundle, string, error) {
	plaintext, err := json.Marshal(data)
	if err != nil {
		return nil, "", trace.BadParameter("secret data is not encodable: %v", err)
	}
	plaintextB64 := []byte(base64.StdEncoding.EncodeToString(plaintext))

	key, wrapped, err := keys.GenerateDataKey(ctx, encCtx.Map())
	if err != nil {
		return nil, "", trace.Wrap(err)
	}
	defer kms.ZeroKey(key)

	aead, err := newAEAD(key)
	if err != nil {
		return nil, "", trace.Wrap(err)
	}
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, "", trace.Wrap(err)
	}

	ciphertext := aead.Seal(nil, nonce, plaintextB64, []byte(encCtx.Encode()))

	return &Bundle{
		EncryptData: base64.StdEncoding.EncodeToString(ciphertext),
		Nonce:       base64.StdEncoding.EncodeToString(nonce),
	}, base64.StdEncoding.EncodeToString(wrapped), nil
}

// Decrypt is the inverse of Encrypt. Any mismatch in the context, the
// wrapped key, the nonce or the ciphertext fails authentication.
func Decrypt(ctx context.Context, keys kms.KeyManager, bundle *Bundle, wrappedKey string, encCtx Context) (map[string]any, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(bundle.EncryptData)
	if err != nil {
		return nil, trace.BadParameter("malformed ciphertext: %v", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(bundle.Nonce)
	if err != nil || len(nonce) != nonceSize {
		return nil, trace.BadParameter("malformed nonce")
	}
	wrapped, err := base64.StdEncoding.DecodeString(wrappedKey)
	if err != nil {
		return nil, trace.BadParameter("malformed data key: %v", err)
	}

	key, err := keys.DecryptDataKey(ctx, wrapped, encCtx.Map())
	if err != nil {
		return nil, trace.Wrap(err)
	}
	defer kms.ZeroKey(key)

	aead, err := newAEAD(key)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	plaintextB64, err := aead.Open(nil, nonce, ciphertext, []byte(encCtx.Encode()))
	if err != nil {
		return nil, trace.BadParameter("decryption failed: ciphertext or context mismatch")
	}

	plaintext, err := base64.StdEncoding.DecodeString(string(plaintextB64))
	if err != nil {
		return nil, trace.BadParameter("decryption failed: malformed plaintext encoding")
	}
	var data map[string]any
	if err := json.Unmarshal(plaintext, &data); err != nil {
		return nil, trace.BadParameter("decryption failed: malformed plaintext")
	}
	return data, nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) != keySize {
		return nil, trace.BadParameter("expected a %d-byte data key, got %d bytes", keySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return aead, nil
}
