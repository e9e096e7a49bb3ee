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
	"log/slog"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/stronghold-sec/stronghold/api/types"
	"github.com/stronghold-sec/stronghold/lib/authz"
	"github.com/stronghold-sec/stronghold/lib/envelope"
	"github.com/stronghold-sec/stronghold/lib/identity"
	"github.com/stronghold-sec/stronghold/lib/kms"
	"github.com/stronghold-sec/stronghold/lib/metadata"
	metamemory "github.com/stronghold-sec/stronghold/lib/metadata/memory"
	paymemory "github.com/stronghold-sec/stronghold/lib/payload/memory"
	"github.com/stronghold-sec/stronghold/lib/secrets"
)

type testEnv struct {
	cfg      secrets.Config
	payload  *paymemory.Store
	keys     *kms.FakeKeyManager
	identity *identity.Fake

	secrets *secrets.SecretService
	trusted *secrets.TrustedSecretService
	users   *secrets.UserSecretService
}

func newTestEnv(t *testing.T, encrypt bool) *testEnv {
	t.Helper()
	env := &testEnv{
		payload:  paymemory.New(),
		keys:     kms.NewFake(),
		identity: identity.NewFake(),
	}
	env.cfg = secrets.Config{
		Stores:   metamemory.New(),
		Payload:  env.payload,
		Identity: env.identity,
		Keys:     env.keys,
		Encrypt:  encrypt,
		Clock:    clockwork.NewFakeClock(),
		Logger:   slog.New(slog.DiscardHandler),
	}
	var err error
	env.secrets, err = secrets.NewSecretService(env.cfg)
	require.NoError(t, err)
	env.trusted, err = secrets.NewTrustedSecretService(env.cfg)
	require.NoError(t, err)
	env.users, err = secrets.NewUserSecretService(env.cfg)
	require.NoError(t, err)
	return env
}

func admin(domain string) *authz.Context {
	return &authz.Context{
		DomainID: domain,
		UserID:   "user-admin",
		Roles:    []authz.Role{authz.RoleDomainAdmin},
		Token:    "caller-token",
	}
}

func workspaceOwner(domain, workspace string) *authz.Context {
	return &authz.Context{
		DomainID:    domain,
		WorkspaceID: workspace,
		UserID:      "user-owner",
		Roles:       []authz.Role{authz.RoleWorkspaceOwner},
	}
}

func TestPlaintextRoundTrip(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, false)
	caller := admin("d1")

	created, err := env.secrets.Create(ctx, caller, secrets.CreateSecretRequest{
		Name:          "a",
		Data:          map[string]any{"k": "v"},
		ResourceGroup: types.ResourceGroupDomain,
	})
	require.NoError(t, err)
	require.False(t, created.Encrypted)
	require.Equal(t, types.Wildcard, created.WorkspaceID)
	require.Equal(t, types.Wildcard, created.ProjectID)

	data, err := env.secrets.GetData(ctx, caller, created.SecretID)
	require.NoError(t, err)
	require.False(t, data.Encrypted)
	require.Equal(t, map[string]any{"k": "v"}, data.Data)
	require.Empty(t, data.EncryptedData)
}

func TestEncryptedRoundTrip(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, true)
	caller := admin("d1")

	created, err := env.secrets.Create(ctx, caller, secrets.CreateSecretRequest{
		Name:          "b",
		Data:          map[string]any{"s": "x"},
		ResourceGroup: types.ResourceGroupDomain,
	})
	require.NoError(t, err)
	require.True(t, created.Encrypted)
	require.NotNil(t, created.EncryptOptions)
	require.Equal(t, types.EncryptAlgorithmAES256GCM, created.EncryptOptions.EncryptAlgorithm)
	require.NotEmpty(t, created.EncryptOptions.Nonce)
	require.NotEmpty(t, created.EncryptOptions.EncryptDataKey)

	data, err := env.secrets.GetData(ctx, caller, created.SecretID)
	require.NoError(t, err)
	require.True(t, data.Encrypted)
	require.NotEmpty(t, data.EncryptedData)
	require.Nil(t, data.Data)

	// The caller decrypts the bundle with its KMS under the canonical
	// context.
	decrypted, err := envelope.Decrypt(ctx, env.keys,
		&envelope.Bundle{EncryptData: data.EncryptedData, Nonce: data.EncryptOptions.Nonce},
		data.EncryptOptions.EncryptDataKey,
		envelope.Context{DomainID: "d1", SecretID: created.SecretID})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"s": "x"}, decrypted)

	// A wrong context fails authentication.
	_, err = envelope.Decrypt(ctx, env.keys,
		&envelope.Bundle{EncryptData: data.EncryptedData, Nonce: data.EncryptOptions.Nonce},
		data.EncryptOptions.EncryptDataKey,
		envelope.Context{DomainID: "d2", SecretID: created.SecretID})
	require.Error(t, err)
}

func TestCreateMissingDataHasNoSideEffects(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, false)
	caller := admin("d1")

	_, err := env.secrets.Create(ctx, caller, secrets.CreateSecretRequest{
		Name:          "a",
		ResourceGroup: types.ResourceGroupDomain,
	})
	require.Error(t, err)
	require.True(t, trace.IsBadParameter(err))

	_, total, err := env.secrets.List(ctx, caller, secrets.ListSecretsRequest{})
	require.NoError(t, err)
	require.Zero(t, total)
	require.Zero(t, env.payload.Len())
}

func TestCreateRollbackOnBackendFailure(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, false)
	caller := admin("d1")
	env.payload.FailPut = trace.ConnectionProblem(nil, "store is down")

	_, err := env.secrets.Create(ctx, caller, secrets.CreateSecretRequest{
		Name:          "doomed",
		Data:          map[string]any{"k": "v"},
		ResourceGroup: types.ResourceGroupDomain,
	})
	require.Error(t, err)
	require.True(t, trace.IsConnectionProblem(err))

	// The metadata record was rolled back.
	_, total, err := env.secrets.List(ctx, caller, secrets.ListSecretsRequest{Name: "doomed"})
	require.NoError(t, err)
	require.Zero(t, total)
}

func TestCreateRollbackOnKMSFailure(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, true)
	caller := admin("d1")
	env.keys.GenerateErr = trace.ConnectionProblem(nil, "kms is down")

	_, err := env.secrets.Create(ctx, caller, secrets.CreateSecretRequest{
		Name:          "doomed",
		Data:          map[string]any{"k": "v"},
		ResourceGroup: types.ResourceGroupDomain,
	})
	require.Error(t, err)

	_, total, err := env.secrets.List(ctx, caller, secrets.ListSecretsRequest{})
	require.NoError(t, err)
	require.Zero(t, total)
	require.Zero(t, env.payload.Len())
}

func TestServiceAccountDerivation(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, false)
	caller := admin("d1")
	env.identity.AddServiceAccount(identity.ServiceAccount{
		ServiceAccountID: "sa-1",
		Provider:         "aws",
		ProjectID:        "p-9",
		WorkspaceID:      "ws-9",
		DomainID:         "d1",
	})

	created, err := env.secrets.Create(ctx, caller, secrets.CreateSecretRequest{
		Name:             "bound",
		Data:             map[string]any{"k": "v"},
		ResourceGroup:    types.ResourceGroupProject,
		ServiceAccountID: "sa-1",
		// Conflicting caller-supplied scope is overridden.
		ProjectID:   "p-1",
		WorkspaceID: "ws-1",
		Provider:    "azure",
	})
	require.NoError(t, err)
	require.Equal(t, "aws", created.Provider)
	require.Equal(t, "p-9", created.ProjectID)
	require.Equal(t, "ws-9", created.WorkspaceID)
}

func TestCreateProjectValidation(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, false)
	caller := admin("d1")

	// Unknown project is rejected before anything persists.
	_, err := env.secrets.Create(ctx, caller, secrets.CreateSecretRequest{
		Name:          "a",
		Data:          map[string]any{"k": "v"},
		ResourceGroup: types.ResourceGroupProject,
		ProjectID:     "p-1",
	})
	require.Error(t, err)
	require.True(t, trace.IsNotFound(err))

	env.identity.AddProject("d1", identity.Project{ProjectID: "p-1", WorkspaceID: "ws-1"})
	created, err := env.secrets.Create(ctx, caller, secrets.CreateSecretRequest{
		Name:          "a",
		Data:          map[string]any{"k": "v"},
		ResourceGroup: types.ResourceGroupProject,
		ProjectID:     "p-1",
	})
	require.NoError(t, err)
	require.Equal(t, "ws-1", created.WorkspaceID)
}

func TestScopeEnforcementOnList(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, false)
	env.identity.AddProject("d1", identity.Project{ProjectID: "p-1", WorkspaceID: "ws-1"})

	_, err := env.secrets.Create(ctx, admin("d1"), secrets.CreateSecretRequest{
		Name:          "project-bound",
		Data:          map[string]any{"k": "v"},
		ResourceGroup: types.ResourceGroupProject,
		ProjectID:     "p-1",
	})
	require.NoError(t, err)

	member := func(projects ...string) *authz.Context {
		return &authz.Context{
			DomainID:     "d1",
			WorkspaceID:  "ws-1",
			UserID:       "user-member",
			Roles:        []authz.Role{authz.RoleWorkspaceMember},
			UserProjects: projects,
		}
	}

	_, total, err := env.secrets.List(ctx, member("p-2"), secrets.ListSecretsRequest{})
	require.NoError(t, err)
	require.Zero(t, total)

	_, total, err = env.secrets.List(ctx, member("p-1"), secrets.ListSecretsRequest{})
	require.NoError(t, err)
	require.EqualValues(t, 1, total)

	// A member may not create.
	_, err = env.secrets.Create(ctx, member("p-1"), secrets.CreateSecretRequest{
		Name:          "nope",
		Data:          map[string]any{"k": "v"},
		ResourceGroup: types.ResourceGroupProject,
		ProjectID:     "p-1",
	})
	require.Error(t, err)
	require.True(t, trace.IsAccessDenied(err))
}

func TestDomainSecretVisibleToProjectCaller(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, false)

	_, err := env.secrets.Create(ctx, admin("d1"), secrets.CreateSecretRequest{
		Name:          "domain-wide",
		Data:          map[string]any{"k": "v"},
		ResourceGroup: types.ResourceGroupDomain,
	})
	require.NoError(t, err)

	projectCaller := &authz.Context{
		DomainID:     "d1",
		WorkspaceID:  "ws-1",
		UserID:       "user-member",
		Roles:        []authz.Role{authz.RoleWorkspaceMember},
		UserProjects: []string{"p-1"},
	}
	_, total, err := env.secrets.List(ctx, projectCaller, secrets.ListSecretsRequest{})
	require.NoError(t, err)
	require.EqualValues(t, 1, total)

	// Not across domains.
	otherDomain := &authz.Context{
		DomainID: "d2",
		UserID:   "user-x",
		Roles:    []authz.Role{authz.RoleDomainAdmin},
	}
	_, total, err = env.secrets.List(ctx, otherDomain, secrets.ListSecretsRequest{})
	require.NoError(t, err)
	require.Zero(t, total)
}

func TestWorkspaceOwnerCannotMutateDomainSecret(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, false)

	created, err := env.secrets.Create(ctx, admin("d1"), secrets.CreateSecretRequest{
		Name:          "domain-wide",
		Data:          map[string]any{"k": "v"},
		ResourceGroup: types.ResourceGroupDomain,
	})
	require.NoError(t, err)

	// A workspace owner can read the domain-wide record but not mutate
	// it: mutation scope never widens to the wildcard.
	owner := workspaceOwner("d1", "ws-1")
	got, err := env.secrets.Get(ctx, owner, created.SecretID)
	require.NoError(t, err)
	require.Equal(t, "domain-wide", got.Name)

	name := "hijacked"
	_, err = env.secrets.Update(ctx, owner, secrets.UpdateSecretRequest{
		SecretID: created.SecretID,
		Name:     &name,
	})
	require.True(t, trace.IsNotFound(err))

	err = env.secrets.UpdateData(ctx, owner, secrets.UpdateSecretDataRequest{
		SecretID: created.SecretID,
		Data:     map[string]any{"k": "x"},
	})
	require.True(t, trace.IsNotFound(err))

	err = env.secrets.Delete(ctx, owner, created.SecretID)
	require.True(t, trace.IsNotFound(err))

	// The record and its payload survived untouched.
	after, err := env.secrets.Get(ctx, admin("d1"), created.SecretID)
	require.NoError(t, err)
	require.Equal(t, "domain-wide", after.Name)
	require.Equal(t, 1, env.payload.Len())
	data, err := env.secrets.GetData(ctx, admin("d1"), created.SecretID)
	require.NoError(t, err)
	require.Equal(t, map[string]any{"k": "v"}, data.Data)
}

func TestUpdateAndReleaseProject(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, false)
	caller := admin("d1")
	env.identity.AddProject("d1", identity.Project{ProjectID: "p-1", WorkspaceID: "ws-1"})

	created, err := env.secrets.Create(ctx, caller, secrets.CreateSecretRequest{
		Name:          "a",
		Data:          map[string]any{"k": "v"},
		ResourceGroup: types.ResourceGroupProject,
		ProjectID:     "p-1",
	})
	require.NoError(t, err)

	name := "renamed"
	updated, err := env.secrets.Update(ctx, caller, secrets.UpdateSecretRequest{
		SecretID: created.SecretID,
		Name:     &name,
		Tags:     map[string]string{"team": "core"},
	})
	require.NoError(t, err)
	require.Equal(t, "renamed", updated.Name)
	require.Equal(t, "core", updated.Tags["team"])

	released, err := env.secrets.Update(ctx, caller, secrets.UpdateSecretRequest{
		SecretID:       created.SecretID,
		ReleaseProject: true,
	})
	require.NoError(t, err)
	require.Equal(t, types.Wildcard, released.ProjectID)
	// Name survives the second update.
	require.Equal(t, "renamed", released.Name)
}

func TestUpdateData(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, true)
	caller := admin("d1")

	created, err := env.secrets.Create(ctx, caller, secrets.CreateSecretRequest{
		Name:          "a",
		Data:          map[string]any{"v": "1"},
		ResourceGroup: types.ResourceGroupDomain,
	})
	require.NoError(t, err)
	firstKey := created.EncryptOptions.EncryptDataKey

	require.NoError(t, env.secrets.UpdateData(ctx, caller, secrets.UpdateSecretDataRequest{
		SecretID: created.SecretID,
		Data:     map[string]any{"v": "2"},
	}))

	data, err := env.secrets.GetData(ctx, caller, created.SecretID)
	require.NoError(t, err)
	// A fresh data key wraps the new payload.
	require.NotEqual(t, firstKey, data.EncryptOptions.EncryptDataKey)

	decrypted, err := envelope.Decrypt(ctx, env.keys,
		&envelope.Bundle{EncryptData: data.EncryptedData, Nonce: data.EncryptOptions.Nonce},
		data.EncryptOptions.EncryptDataKey,
		envelope.Context{DomainID: "d1", SecretID: created.SecretID})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"v": "2"}, decrypted)
}

func TestUpdateDataRollbackOnBackendFailure(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, true)
	caller := admin("d1")

	created, err := env.secrets.Create(ctx, caller, secrets.CreateSecretRequest{
		Name:          "a",
		Data:          map[string]any{"v": "1"},
		ResourceGroup: types.ResourceGroupDomain,
	})
	require.NoError(t, err)
	before, err := env.secrets.Get(ctx, caller, created.SecretID)
	require.NoError(t, err)

	env.payload.FailUpdate = trace.ConnectionProblem(nil, "store is down")
	err = env.secrets.UpdateData(ctx, caller, secrets.UpdateSecretDataRequest{
		SecretID: created.SecretID,
		Data:     map[string]any{"v": "2"},
	})
	require.Error(t, err)

	// The previous metadata was restored, so the old payload still
	// decrypts with the recorded options.
	after, err := env.secrets.Get(ctx, caller, created.SecretID)
	require.NoError(t, err)
	require.Empty(t, cmp.Diff(before, after))

	env.payload.FailUpdate = nil
	data, err := env.secrets.GetData(ctx, caller, created.SecretID)
	require.NoError(t, err)
	decrypted, err := envelope.Decrypt(ctx, env.keys,
		&envelope.Bundle{EncryptData: data.EncryptedData, Nonce: data.EncryptOptions.Nonce},
		data.EncryptOptions.EncryptDataKey,
		envelope.Context{DomainID: "d1", SecretID: created.SecretID})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"v": "1"}, decrypted)
}

func TestDeleteRemovesBoth(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, false)
	caller := admin("d1")

	created, err := env.secrets.Create(ctx, caller, secrets.CreateSecretRequest{
		Name:          "a",
		Data:          map[string]any{"k": "v"},
		ResourceGroup: types.ResourceGroupDomain,
	})
	require.NoError(t, err)

	require.NoError(t, env.secrets.Delete(ctx, caller, created.SecretID))
	require.Zero(t, env.payload.Len())

	_, err = env.secrets.Get(ctx, caller, created.SecretID)
	require.True(t, trace.IsNotFound(err))
	_, err = env.secrets.GetData(ctx, caller, created.SecretID)
	require.True(t, trace.IsNotFound(err))

	// Second delete reports not found, state stays intact.
	err = env.secrets.Delete(ctx, caller, created.SecretID)
	require.True(t, trace.IsNotFound(err))
}

// racingDeleteSecrets removes the record underneath the first Update so
// the encrypt-options write observes a concurrent delete.
type racingDeleteSecrets struct {
	metadata.Secrets
}

func (s *racingDeleteSecrets) Update(ctx context.Context, secretID string, scope metadata.Filter, patch metadata.Patch) (*types.Secret, error) {
	if err := s.Secrets.Delete(ctx, secretID, scope); err != nil && !trace.IsNotFound(err) {
		return nil, trace.Wrap(err)
	}
	return s.Secrets.Update(ctx, secretID, scope, patch)
}

func TestCreateConcurrentDeleteLeavesNoPayload(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, true)
	cfg := env.cfg
	cfg.Stores.Secrets = &racingDeleteSecrets{Secrets: cfg.Stores.Secrets}
	racing, err := secrets.NewSecretService(cfg)
	require.NoError(t, err)

	_, err = racing.Create(ctx, admin("d1"), secrets.CreateSecretRequest{
		Name:          "racy",
		Data:          map[string]any{"k": "v"},
		ResourceGroup: types.ResourceGroupDomain,
	})
	require.Error(t, err)
	require.True(t, trace.IsNotFound(err))

	// Neither half survived: no metadata record and no payload written
	// under the deleted id.
	require.Zero(t, env.payload.Len())
	_, total, err := env.secrets.List(ctx, admin("d1"), secrets.ListSecretsRequest{})
	require.NoError(t, err)
	require.Zero(t, total)
}

func TestNameConflict(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, false)
	caller := admin("d1")

	req := secrets.CreateSecretRequest{
		Name:          "same",
		Data:          map[string]any{"k": "v"},
		ResourceGroup: types.ResourceGroupDomain,
	}
	_, err := env.secrets.Create(ctx, caller, req)
	require.NoError(t, err)

	_, err = env.secrets.Create(ctx, caller, req)
	require.Error(t, err)
	require.True(t, trace.IsAlreadyExists(err))

	// The loser left no payload behind.
	require.Equal(t, 1, env.payload.Len())
}

func TestStat(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, false)
	caller := admin("d1")

	for _, name := range []string{"a", "b"} {
		_, err := env.secrets.Create(ctx, caller, secrets.CreateSecretRequest{
			Name:          name,
			Data:          map[string]any{"k": "v"},
			Provider:      "aws",
			ResourceGroup: types.ResourceGroupDomain,
		})
		require.NoError(t, err)
	}

	result, err := env.secrets.Stat(ctx, caller, metadata.StatQuery{Distinct: "provider"})
	require.NoError(t, err)
	require.EqualValues(t, 1, result.TotalCount)
	require.ElementsMatch(t, []any{"aws"}, result.Values)
}
