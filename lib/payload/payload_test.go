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

package payload_test

import (
	"context"
	"testing"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"

	"github.com/stronghold-sec/stronghold/lib/payload"
	"github.com/stronghold-sec/stronghold/lib/payload/memory"
)

func TestNewUnknownBackend(t *testing.T) {
	ctx := context.Background()

	_, err := payload.New(ctx, "", payload.Config{})
	require.Error(t, err)
	require.True(t, trace.IsBadParameter(err))

	_, err = payload.New(ctx, "no-such-backend", payload.Config{})
	require.Error(t, err)
	require.True(t, trace.IsBadParameter(err))
}

func TestNewResolvesRegisteredBackend(t *testing.T) {
	ctx := context.Background()
	store, err := payload.New(ctx, memory.BackendName, payload.Config{})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, store.Close()) })

	require.NoError(t, store.Put(ctx, "secret-1", []byte(`{"k":"v"}`)))

	data, err := store.Get(ctx, "secret-1")
	require.NoError(t, err)
	require.JSONEq(t, `{"k":"v"}`, string(data))
}
