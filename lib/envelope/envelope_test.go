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

package envelope

import (
	"context"
	"encoding/base64"
	"testing"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"

	"github.com/stronghold-sec/stronghold/lib/kms"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	ctx := context.Background()
	keys := kms.NewFake()
	data := map[string]any{"username": "svc", "password": "hunter2"}
	encCtx := Context{DomainID: "domain-1", SecretID: "secret-abc"}

	bundle, wrappedKey, err := Encrypt(ctx, keys, data, encCtx)
	require.NoError(t, err)
	require.NotEmpty(t, bundle.EncryptData)
	require.NotEmpty(t, bundle.Nonce)
	require.NotEmpty(t, wrappedKey)

	nonce, err := base64.StdEncoding.DecodeString(bundle.Nonce)
	require.NoError(t, err)
	require.Len(t, nonce, 12)

	decrypted, err := Decrypt(ctx, keys, bundle, wrappedKey, encCtx)
	require.NoError(t, err)
	require.Equal(t, data, decrypted)
}

func TestDecryptContextMismatch(t *testing.T) {
	ctx := context.Background()
	keys := kms.NewFake()
	data := map[string]any{"k": "v"}
	encCtx := Context{DomainID: "domain-1", SecretID: "secret-abc"}

	bundle, wrappedKey, err := Encrypt(ctx, keys, data, encCtx)
	require.NoError(t, err)

	tests := []struct {
		name   string
		encCtx Context
	}{
		{name: "different domain", encCtx: Context{DomainID: "domain-2", SecretID: "secret-abc"}},
		{name: "different secret", encCtx: Context{DomainID: "domain-1", SecretID: "secret-xyz"}},
		{name: "empty context", encCtx: Context{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decrypt(ctx, keys, bundle, wrappedKey, tt.encCtx)
			require.Error(t, err)
			require.True(t, trace.IsBadParameter(err), "expected bad parameter, got %v", err)
		})
	}
}

func TestDecryptTamperedCiphertext(t *testing.T) {
	ctx := context.Background()
	keys := kms.NewFake()
	encCtx := Context{DomainID: "d", SecretID: "s"}

	bundle, wrappedKey, err := Encrypt(ctx, keys, map[string]any{"k": "v"}, encCtx)
	require.NoError(t, err)

	ct, err := base64.StdEncoding.DecodeString(bundle.EncryptData)
	require.NoError(t, err)
	ct[0] ^= 0xff
	bundle.EncryptData = base64.StdEncoding.EncodeToString(ct)

	_, err = Decrypt(ctx, keys, bundle, wrappedKey, encCtx)
	require.Error(t, err)
	require.True(t, trace.IsBadParameter(err))
}

func TestContextEncodeDeterministic(t *testing.T) {
	encCtx := Context{DomainID: "d1", SecretID: "s1"}
	first := encCtx.Encode()
	second := encCtx.Encode()
	require.Equal(t, first, second)

	raw, err := base64.StdEncoding.DecodeString(first)
	require.NoError(t, err)
	// Fixed key order: domain_id before secret_id.
	require.JSONEq(t, `{"domain_id":"d1","secret_id":"s1"}`, string(raw))
	require.Equal(t, `{"domain_id":"d1","secret_id":"s1"}`, string(raw))
}

func TestEncryptKMSFailure(t *testing.T) {
	ctx := context.Background()
	keys := kms.NewFake()
	keys.GenerateErr = trace.ConnectionProblem(nil, "kms is down")

	_, _, err := Encrypt(ctx, keys, map[string]any{"k": "v"}, Context{DomainID: "d", SecretID: "s"})
	require.Error(t, err)
	require.True(t, trace.IsConnectionProblem(err))
}
