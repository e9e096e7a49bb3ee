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

package secrets_test

import (
	"context"
	"testing"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"

	"github.com/stronghold-sec/stronghold/lib/authz"
	"github.com/stronghold-sec/stronghold/lib/envelope"
	"github.com/stronghold-sec/stronghold/lib/secrets"
)

func user(domain, userID string) *authz.Context {
	return &authz.Context{
		DomainID: domain,
		UserID:   userID,
		Roles:    []authz.Role{authz.RoleUser},
	}
}

func TestUserSecretRoundTrip(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, true)
	caller := user("d1", "u1")

	created, err := env.users.Create(ctx, caller, secrets.CreateUserSecretRequest{
		Name: "token",
		Data: map[string]any{"api_key": "k"},
	})
	require.NoError(t, err)
	require.Equal(t, "u1", created.UserID)
	require.True(t, created.Encrypted)

	data, err := env.users.GetData(ctx, caller, created.UserSecretID)
	require.NoError(t, err)
	decrypted, err := envelope.Decrypt(ctx, env.keys,
		&envelope.Bundle{EncryptData: data.EncryptedData, Nonce: data.EncryptOptions.Nonce},
		data.EncryptOptions.EncryptDataKey,
		envelope.Context{DomainID: "d1", SecretID: created.UserSecretID})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"api_key": "k"}, decrypted)
}

func TestUserSecretIsolation(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, false)

	created, err := env.users.Create(ctx, user("d1", "u1"), secrets.CreateUserSecretRequest{
		Name: "token",
		Data: map[string]any{"api_key": "k"},
	})
	require.NoError(t, err)

	// Another user cannot see, read or delete it.
	other := user("d1", "u2")
	_, err = env.users.Get(ctx, other, created.UserSecretID)
	require.True(t, trace.IsNotFound(err))
	_, err = env.users.GetData(ctx, other, created.UserSecretID)
	require.True(t, trace.IsNotFound(err))
	err = env.users.Delete(ctx, other, created.UserSecretID)
	require.True(t, trace.IsNotFound(err))

	_, total, err := env.users.List(ctx, other, secrets.ListUserSecretsRequest{})
	require.NoError(t, err)
	require.Zero(t, total)

	_, total, err = env.users.List(ctx, user("d1", "u1"), secrets.ListUserSecretsRequest{})
	require.NoError(t, err)
	require.EqualValues(t, 1, total)
}

func TestUserSecretCreateRequiresUser(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, false)

	caller := &authz.Context{DomainID: "d1", Roles: []authz.Role{authz.RoleUser}}
	_, err := env.users.Create(ctx, caller, secrets.CreateUserSecretRequest{
		Name: "token",
		Data: map[string]any{"api_key": "k"},
	})
	require.Error(t, err)
	require.True(t, trace.IsBadParameter(err))
}

func TestUserSecretUpdateAndData(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, false)
	caller := user("d1", "u1")

	created, err := env.users.Create(ctx, caller, secrets.CreateUserSecretRequest{
		Name: "token",
		Data: map[string]any{"v": "1"},
	})
	require.NoError(t, err)

	name := "rotated-token"
	updated, err := env.users.Update(ctx, caller, secrets.UpdateUserSecretRequest{
		UserSecretID: created.UserSecretID,
		Name:         &name,
	})
	require.NoError(t, err)
	require.Equal(t, "rotated-token", updated.Name)

	require.NoError(t, env.users.UpdateData(ctx, caller, secrets.UpdateUserSecretDataRequest{
		UserSecretID: created.UserSecretID,
		Data:         map[string]any{"v": "2"},
	}))
	data, err := env.users.GetData(ctx, caller, created.UserSecretID)
	require.NoError(t, err)
	require.Equal(t, map[string]any{"v": "2"}, data.Data)

	require.NoError(t, env.users.Delete(ctx, caller, created.UserSecretID))
	require.Zero(t, env.payload.Len())
}
