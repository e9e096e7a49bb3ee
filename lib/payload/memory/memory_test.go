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

package memory

import (
	"context"
	"testing"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"
)

func TestStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	store := New()

	require.NoError(t, store.Put(ctx, "secret-1", []byte("one")))

	// Put is create-or-fail.
	err := store.Put(ctx, "secret-1", []byte("two"))
	require.Error(t, err)
	require.True(t, trace.IsAlreadyExists(err))

	data, err := store.Get(ctx, "secret-1")
	require.NoError(t, err)
	require.Equal(t, []byte("one"), data)

	require.NoError(t, store.Update(ctx, "secret-1", []byte("two")))
	data, err = store.Get(ctx, "secret-1")
	require.NoError(t, err)
	require.Equal(t, []byte("two"), data)

	require.NoError(t, store.Delete(ctx, "secret-1"))
	_, err = store.Get(ctx, "secret-1")
	require.Error(t, err)
	require.True(t, trace.IsNotFound(err))

	// Delete is idempotent.
	require.NoError(t, store.Delete(ctx, "secret-1"))
}

func TestStoreUpdateMissing(t *testing.T) {
	ctx := context.Background()
	store := New()

	err := store.Update(ctx, "secret-9", []byte("x"))
	require.Error(t, err)
	require.True(t, trace.IsNotFound(err))
}

func TestStoreFailureInjection(t *testing.T) {
	ctx := context.Background()
	store := New()
	store.FailPut = trace.ConnectionProblem(nil, "store is down")

	err := store.Put(ctx, "secret-1", []byte("x"))
	require.Error(t, err)
	require.True(t, trace.IsConnectionProblem(err))
	require.Zero(t, store.Len())

	store.FailPut = nil
	require.NoError(t, store.Put(ctx, "secret-1", []byte("x")))

	store.FailGet = trace.ConnectionProblem(nil, "store is down")
	_, err = store.Get(ctx, "secret-1")
	require.True(t, trace.IsConnectionProblem(err))
}

func TestStoreCopiesData(t *testing.T) {
	ctx := context.Background()
	store := New()

	buf := []byte("abc")
	require.NoError(t, store.Put(ctx, "secret-1", buf))
	buf[0] = 'x'

	data, err := store.Get(ctx, "secret-1")
	require.NoError(t, err)
	require.Equal(t, []byte("abc"), data)
}
