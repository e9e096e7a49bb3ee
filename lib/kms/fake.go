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

package kms

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"sort"

	"github.com/gravitational/trace"
)

// FakeKeyManager wraps data keys under an in-memory master key. Wrapped
// keys are AES-GCM sealed with the sorted encryption context as
// associated data, so a context mismatch fails to unwrap exactly like a
// real KMS. Test and development use only.
type FakeKeyManager struct {
	master []byte

	// GenerateErr, when set, is returned by GenerateDataKey.
	GenerateErr error
	// DecryptErr, when set, is returned by DecryptDataKey.
	DecryptErr error
}

// NewFake returns a FakeKeyManager with a random master key.
func NewFake() *FakeKeyManager {
	master := make([]byte, 32)
	if _, err := rand.Read(master); err != nil {
		panic(err)
	}
	return &FakeKeyManager{master: master}
}

// GenerateDataKey implements [KeyManager].
func (f *FakeKeyManager) GenerateDataKey(ctx context.Context, encryptionContext map[string]string) ([]byte, []byte, error) {
	if f.GenerateErr != nil {
		return nil, nil, trace.Wrap(f.GenerateErr)
	}
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, nil, trace.Wrap(err)
	}
	wrapped, err := f.seal(key, encryptionContext)
	if err != nil {
		return nil, nil, trace.Wrap(err)
	}
	return key, wrapped, nil
}

// DecryptDataKey implements [KeyManager].
func (f *FakeKeyManager) DecryptDataKey(ctx context.Context, wrapped []byte, encryptionContext map[string]string) ([]byte, error) {
	if f.DecryptErr != nil {
		return nil, trace.Wrap(f.DecryptErr)
	}
	if len(wrapped) < 12 {
		return nil, trace.BadParameter("malformed wrapped key")
	}
	aead, err := f.aead()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	key, err := aead.Open(nil, wrapped[:12], wrapped[12:], contextAAD(encryptionContext))
	if err != nil {
		return nil, trace.BadParameter("KMS refused the ciphertext or encryption context: %v", err)
	}
	return key, nil
}

// Close implements [KeyManager].
func (f *FakeKeyManager) Close() error { return nil }

func (f *FakeKeyManager) seal(key []byte, encryptionContext map[string]string) ([]byte, error) {
	aead, err := f.aead()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	nonce := make([]byte, 12)
	if _, err := rand.Read(nonce); err != nil {
		return nil, trace.Wrap(err)
	}
	return append(nonce, aead.Seal(nil, nonce, key, contextAAD(encryptionContext))...), nil
}

func (f *FakeKeyManager) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(f.master)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return cipher.NewGCM(block)
}

func contextAAD(encryptionContext map[string]string) []byte {
	keys := make([]string, 0, len(encryptionContext))
	for k := range encryptionContext {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	ordered := make([][2]string, 0, len(keys))
	for _, k := range keys {
		ordered = append(ordered, [2]string{k, encryptionContext[k]})
	}
	aad, err := json.Marshal(ordered)
	if err != nil {
		panic(err)
	}
	return aad
}
