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

package identity

import (
	"context"
	"testing"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"
)

func TestTokenContext(t *testing.T) {
	ctx := context.Background()

	_, ok := TokenFromContext(ctx)
	require.False(t, ok)

	token, ok := TokenFromContext(WithToken(ctx, "caller-token"))
	require.True(t, ok)
	require.Equal(t, "caller-token", token)

	// An empty token is not carried.
	_, ok = TokenFromContext(WithToken(ctx, ""))
	require.False(t, ok)
}

func TestFakeLookups(t *testing.T) {
	ctx := context.Background()
	fake := NewFake()
	fake.AddProject("d1", Project{ProjectID: "p-1", WorkspaceID: "ws-1"})
	fake.AddWorkspace("ws-1", "d1")

	project, err := fake.GetProject(ctx, "p-1", "d1")
	require.NoError(t, err)
	require.Equal(t, "ws-1", project.WorkspaceID)

	// Lookups are domain scoped.
	_, err = fake.GetProject(ctx, "p-1", "d2")
	require.True(t, trace.IsNotFound(err))
	require.Error(t, fake.CheckWorkspace(ctx, "ws-1", "d2"))
	require.NoError(t, fake.CheckWorkspace(ctx, "ws-1", "d1"))

	fake.Err = trace.ConnectionProblem(nil, "identity is down")
	_, err = fake.GetProject(ctx, "p-1", "d1")
	require.True(t, trace.IsConnectionProblem(err))
}
