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
	"time"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"

	"github.com/stronghold-sec/stronghold/api/types"
	"github.com/stronghold-sec/stronghold/lib/metadata"
)

func newSecret(id, name, domain, workspace, project string) *types.Secret {
	return &types.Secret{
		SecretID:      id,
		Name:          name,
		Provider:      "aws",
		ResourceGroup: types.ResourceGroupProject,
		ProjectID:     project,
		WorkspaceID:   workspace,
		DomainID:      domain,
		CreatedAt:     time.Now().UTC(),
	}
}

func TestCreateNameConflict(t *testing.T) {
	ctx := context.Background()
	stores := New()

	_, err := stores.Secrets.Create(ctx, newSecret("secret-1", "db-password", "d1", "ws-1", "p-1"))
	require.NoError(t, err)

	// Same name in the same domain conflicts.
	_, err = stores.Secrets.Create(ctx, newSecret("secret-2", "db-password", "d1", "ws-2", "p-2"))
	require.Error(t, err)
	require.True(t, trace.IsAlreadyExists(err))

	// Same name in a different domain is fine.
	_, err = stores.Secrets.Create(ctx, newSecret("secret-3", "db-password", "d2", "ws-1", "p-1"))
	require.NoError(t, err)
}

func TestGetScoped(t *testing.T) {
	ctx := context.Background()
	stores := New()

	_, err := stores.Secrets.Create(ctx, newSecret("secret-1", "a", "d1", "ws-1", "p-1"))
	require.NoError(t, err)

	_, err = stores.Secrets.Get(ctx, "secret-1", metadata.Filter{"domain_id": "d1"})
	require.NoError(t, err)

	// Out of scope is indistinguishable from missing.
	_, err = stores.Secrets.Get(ctx, "secret-1", metadata.Filter{"domain_id": "d2"})
	require.Error(t, err)
	require.True(t, trace.IsNotFound(err))
}

func TestQueryWildcardWidening(t *testing.T) {
	ctx := context.Background()
	stores := New()

	domainWide := newSecret("secret-1", "domain-wide", "d1", types.Wildcard, types.Wildcard)
	domainWide.ResourceGroup = types.ResourceGroupDomain
	_, err := stores.Secrets.Create(ctx, domainWide)
	require.NoError(t, err)

	_, err = stores.Secrets.Create(ctx, newSecret("secret-2", "project-bound", "d1", "ws-1", "p-1"))
	require.NoError(t, err)

	// A caller in project p-1 sees both the project record and the
	// domain-wide one.
	records, total, err := stores.Secrets.Query(ctx, metadata.Query{Filter: metadata.Filter{
		"domain_id":  "d1",
		"project_id": []string{"p-1", types.Wildcard},
	}})
	require.NoError(t, err)
	require.EqualValues(t, 2, total)
	require.Len(t, records, 2)

	// A caller in project p-2 sees only the domain-wide record.
	_, total, err = stores.Secrets.Query(ctx, metadata.Query{Filter: metadata.Filter{
		"domain_id":  "d1",
		"project_id": []string{"p-2", types.Wildcard},
	}})
	require.NoError(t, err)
	require.EqualValues(t, 1, total)
}

func TestQueryKeywordAndPaging(t *testing.T) {
	ctx := context.Background()
	stores := New()

	names := []string{"alpha-db", "beta-db", "alpha-api"}
	for i, name := range names {
		s := newSecret(types.GenerateID(types.SecretIDPrefix), name, "d1", "ws-1", "p-1")
		s.CreatedAt = time.Now().UTC().Add(time.Duration(i) * time.Second)
		_, err := stores.Secrets.Create(ctx, s)
		require.NoError(t, err)
	}

	_, total, err := stores.Secrets.Query(ctx, metadata.Query{
		Filter:  metadata.Filter{"domain_id": "d1"},
		Keyword: "ALPHA",
	})
	require.NoError(t, err)
	require.EqualValues(t, 2, total)

	records, total, err := stores.Secrets.Query(ctx, metadata.Query{
		Filter: metadata.Filter{"domain_id": "d1"},
		Page:   metadata.Page{Start: 0, Limit: 2},
	})
	require.NoError(t, err)
	require.EqualValues(t, 3, total)
	require.Len(t, records, 2)
	// Default sort is newest first.
	require.Equal(t, "alpha-api", records[0].Name)
}

func TestUpdatePatch(t *testing.T) {
	ctx := context.Background()
	stores := New()

	_, err := stores.Secrets.Create(ctx, newSecret("secret-1", "a", "d1", "ws-1", "p-1"))
	require.NoError(t, err)

	name := "b"
	wildcard := types.Wildcard
	updated, err := stores.Secrets.Update(ctx, "secret-1",
		metadata.Filter{"domain_id": "d1"},
		metadata.Patch{Name: &name, ProjectID: &wildcard, Tags: map[string]string{"team": "core"}})
	require.NoError(t, err)
	require.Equal(t, "b", updated.Name)
	require.Equal(t, types.Wildcard, updated.ProjectID)
	require.Equal(t, "core", updated.Tags["team"])

	// Untouched fields survive.
	require.Equal(t, "ws-1", updated.WorkspaceID)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	stores := New()

	_, err := stores.Secrets.Create(ctx, newSecret("secret-1", "a", "d1", "ws-1", "p-1"))
	require.NoError(t, err)

	require.NoError(t, stores.Secrets.Delete(ctx, "secret-1", metadata.Filter{"domain_id": "d1"}))

	err = stores.Secrets.Delete(ctx, "secret-1", metadata.Filter{"domain_id": "d1"})
	require.Error(t, err)
	require.True(t, trace.IsNotFound(err))
}

func TestStat(t *testing.T) {
	ctx := context.Background()
	stores := New()

	providers := []string{"aws", "aws", "azure"}
	for i, provider := range providers {
		s := newSecret(types.GenerateID(types.SecretIDPrefix), "s"+string(rune('a'+i)), "d1", "ws-1", "p-1")
		s.Provider = provider
		_, err := stores.Secrets.Create(ctx, s)
		require.NoError(t, err)
	}

	count, err := stores.Secrets.Stat(ctx, metadata.StatQuery{Filter: metadata.Filter{"domain_id": "d1"}})
	require.NoError(t, err)
	require.EqualValues(t, 3, count.TotalCount)

	distinct, err := stores.Secrets.Stat(ctx, metadata.StatQuery{
		Filter:   metadata.Filter{"domain_id": "d1"},
		Distinct: "provider",
	})
	require.NoError(t, err)
	require.EqualValues(t, 2, distinct.TotalCount)
	require.ElementsMatch(t, []any{"aws", "azure"}, distinct.Values)
}
