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

// Package kms generates and unwraps data keys through a tenant-owned
// key management service. The contract is purely functional so
// additional KMS families can be plugged in by registering a provider.
package kms

import (
	"context"
	"sync"

	"github.com/gravitational/trace"

	"github.com/stronghold-sec/stronghold/lib/config"
)

// KeyManager wraps the two data-key operations of a KMS.
//
// Callers own the returned plaintext keys and must zero them as soon as
// the AEAD call is done; implementations never retain them.
type KeyManager interface {
	// GenerateDataKey returns a fresh 256-bit symmetric key together
	// with its KMS-wrapped form. The encryption context is bound into
	// the wrap operation as authenticated additional data when the KMS
	// supports it.
	GenerateDataKey(ctx context.Context, encryptionContext map[string]string) (plaintext, wrapped []byte, err error)

	// DecryptDataKey unwraps a data key. The encryption context must
	// match the one used at generation time.
	DecryptDataKey(ctx context.Context, wrapped []byte, encryptionContext map[string]string) ([]byte, error)

	// Close releases the client resources.
	Close() error
}

// InitFunc builds a KeyManager from its connector parameters.
type InitFunc func(ctx context.Context, params config.Params) (KeyManager, error)

var (
	providersMu sync.RWMutex
	providers   = make(map[string]InitFunc)
)

// RegisterProvider makes a KMS family available to [New] under the
// given encrypt type name. Called from provider init functions.
func RegisterProvider(encryptType string, fn InitFunc) {
	providersMu.Lock()
	defer providersMu.Unlock()
	if encryptType == "" {
		panic("kms: provider must have a name")
	}
	if _, ok := providers[encryptType]; ok {
		panic("kms: duplicate provider registration: " + encryptType)
	}
	providers[encryptType] = fn
}

// New resolves the configured encrypt type to a KeyManager.
func New(ctx context.Context, encryptType string, params config.Params) (KeyManager, error) {
	providersMu.RLock()
	fn, ok := providers[encryptType]
	providersMu.RUnlock()
	if !ok {
		return nil, trace.BadParameter("unsupported encrypt type %q", encryptType)
	}
	keys, err := fn(ctx, params)
	return keys, trace.Wrap(err)
}

// ZeroKey overwrites key material in place. The envelope engine calls
// this the moment the AEAD operation completes.
func ZeroKey(key []byte) {
	for i := range key {
		key[i] = 0
	}
}
