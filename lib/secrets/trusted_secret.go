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

package secrets

import (
	"context"
	"log/slog"

	"github.com/gravitational/trace"

	"github.com/stronghold-sec/stronghold/api/types"
	"github.com/stronghold-sec/stronghold/lib/authz"
	"github.com/stronghold-sec/stronghold/lib/envelope"
	"github.com/stronghold-sec/stronghold/lib/identity"
	"github.com/stronghold-sec/stronghold/lib/metadata"
)

// TrustedSecretService implements the TrustedSecret operation surface.
// Trusted secrets act as parents of regular secrets; their payload is
// never served directly, only the wrapped key is merged into child
// secret reads.
type TrustedSecretService struct {
	cfg    Config
	logger *slog.Logger
}

// NewTrustedSecretService builds the service from its dependencies.
func NewTrustedSecretService(cfg Config) (*TrustedSecretService, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &TrustedSecretService{cfg: cfg, logger: cfg.Logger}, nil
}

// CreateTrustedSecretRequest is the create operation input.
type CreateTrustedSecretRequest struct {
	Name             string
	Data             map[string]any
	SchemaID         string
	Provider         string
	Tags             map[string]string
	TrustedAccountID string
	ResourceGroup    types.ResourceGroup
	WorkspaceID      string
}

// Create persists a new trusted secret, metadata before payload.
func (s *TrustedSecretService) Create(ctx context.Context, caller *authz.Context, req CreateTrustedSecretRequest) (*types.TrustedSecret, error) {
	if err := caller.Check(); err != nil {
		return nil, trace.Wrap(err)
	}
	if err := caller.CheckAccess(authz.ManageRoles...); err != nil {
		return nil, trace.Wrap(err)
	}
	if len(req.Data) == 0 {
		return nil, trace.BadParameter("missing parameter data")
	}
	if err := caller.CheckResourceGroup(req.ResourceGroup); err != nil {
		return nil, trace.Wrap(err)
	}

	secret := &types.TrustedSecret{
		TrustedSecretID:  types.GenerateID(types.TrustedSecretIDPrefix),
		Name:             req.Name,
		SchemaID:         req.SchemaID,
		Provider:         req.Provider,
		Tags:             req.Tags,
		TrustedAccountID: req.TrustedAccountID,
		ResourceGroup:    req.ResourceGroup,
		WorkspaceID:      req.WorkspaceID,
		DomainID:         caller.DomainID,
		CreatedAt:        s.cfg.Clock.Now().UTC(),
	}
	if secret.WorkspaceID == "" {
		secret.WorkspaceID = caller.WorkspaceID
	}

	ctx = identity.WithToken(ctx, caller.Token)
	if secret.TrustedAccountID != "" {
		// The trusted account is authoritative for the provider.
		account, err := s.cfg.Identity.GetTrustedAccount(ctx, secret.TrustedAccountID, secret.DomainID)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		secret.Provider = account.Provider
	}
	if secret.ResourceGroup == types.ResourceGroupWorkspace {
		if secret.WorkspaceID == "" || secret.WorkspaceID == types.Wildcard {
			return nil, trace.BadParameter("missing parameter workspace_id")
		}
		if err := s.cfg.Identity.CheckWorkspace(ctx, secret.WorkspaceID, secret.DomainID); err != nil {
			return nil, trace.Wrap(err)
		}
	}
	if err := secret.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}

	rollbacks := NewRollbackStack(s.logger)
	defer rollbacks.Run()

	created, err := s.cfg.Stores.TrustedSecrets.Create(ctx, secret)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	rollbacks.Add("delete trusted secret metadata", func(rctx context.Context) error {
		return s.cfg.Stores.TrustedSecrets.Delete(rctx, secret.TrustedSecretID,
			metadata.Filter{"domain_id": secret.DomainID})
	})

	raw, opts, err := s.cfg.seal(ctx, req.Data,
		envelope.Context{DomainID: secret.DomainID, SecretID: secret.TrustedSecretID})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if opts != nil {
		encrypted := true
		updated, err := s.cfg.Stores.TrustedSecrets.Update(ctx, secret.TrustedSecretID,
			metadata.Filter{"domain_id": secret.DomainID},
			metadata.Patch{Encrypted: &encrypted, EncryptOptions: opts})
		if err != nil {
			// A concurrent delete wins the race; the payload must not be
			// written under the orphaned id.
			if trace.IsNotFound(err) {
				rollbacks.Commit()
				return nil, trace.NotFound("trusted secret %q was deleted concurrently", secret.TrustedSecretID)
			}
			return nil, trace.Wrap(err)
		}
		created = updated
	}

	if err := s.cfg.Payload.Put(ctx, secret.TrustedSecretID, raw); err != nil {
		return nil, trace.Wrap(err)
	}
	rollbacks.Commit()
	s.logger.InfoContext(ctx, "Created trusted secret.",
		"trusted_secret_id", secret.TrustedSecretID, "domain_id", secret.DomainID)
	return created, nil
}

// UpdateTrustedSecretRequest is the update operation input.
type UpdateTrustedSecretRequest struct {
	TrustedSecretID string
	Name            *string
	Tags            map[string]string
	SchemaID        *string
}

// Update mutates the updatable metadata subset.
func (s *TrustedSecretService) Update(ctx context.Context, caller *authz.Context, req UpdateTrustedSecretRequest) (*types.TrustedSecret, error) {
	if err := caller.Check(); err != nil {
		return nil, trace.Wrap(err)
	}
	if err := caller.CheckAccess(authz.ManageRoles...); err != nil {
		return nil, trace.Wrap(err)
	}
	if req.TrustedSecretID == "" {
		return nil, trace.BadParameter("missing parameter trusted_secret_id")
	}
	secret, err := s.cfg.Stores.TrustedSecrets.Update(ctx, req.TrustedSecretID, caller.WriteScope(),
		metadata.Patch{Name: req.Name, Tags: req.Tags, SchemaID: req.SchemaID})
	return secret, trace.Wrap(err)
}

// UpdateTrustedSecretDataRequest is the update_data operation input.
type UpdateTrustedSecretDataRequest struct {
	TrustedSecretID string
	Data            map[string]any
}

// UpdateData replaces the backend payload under a fresh data key.
// Child secrets keep decrypting with their own keys; only reads after
// this call see the parent's new wrapped key.
func (s *TrustedSecretService) UpdateData(ctx context.Context, caller *authz.Context, req UpdateTrustedSecretDataRequest) error {
	if err := caller.Check(); err != nil {
		return trace.Wrap(err)
	}
	if err := caller.CheckAccess(authz.ManageRoles...); err != nil {
		return trace.Wrap(err)
	}
	if req.TrustedSecretID == "" {
		return trace.BadParameter("missing parameter trusted_secret_id")
	}
	if len(req.Data) == 0 {
		return trace.BadParameter("missing parameter data")
	}
	scope := caller.WriteScope()
	secret, err := s.cfg.Stores.TrustedSecrets.Get(ctx, req.TrustedSecretID, scope)
	if err != nil {
		return trace.Wrap(err)
	}
	raw, opts, err := s.cfg.seal(ctx, req.Data,
		envelope.Context{DomainID: secret.DomainID, SecretID: secret.TrustedSecretID})
	if err != nil {
		return trace.Wrap(err)
	}

	rollbacks := NewRollbackStack(s.logger)
	defer rollbacks.Run()

	encrypted := opts != nil
	if encrypted || secret.Encrypted {
		patch := metadata.Patch{Encrypted: &encrypted, EncryptOptions: opts}
		if opts == nil {
			patch.EncryptOptions = &types.EncryptOptions{}
		}
		if _, err := s.cfg.Stores.TrustedSecrets.Update(ctx, secret.TrustedSecretID, scope, patch); err != nil {
			return trace.Wrap(err)
		}
		rollbacks.Add("restore trusted secret metadata", func(rctx context.Context) error {
			restore := metadata.Patch{Encrypted: &secret.Encrypted, EncryptOptions: secret.EncryptOptions}
			if restore.EncryptOptions == nil {
				restore.EncryptOptions = &types.EncryptOptions{}
			}
			_, err := s.cfg.Stores.TrustedSecrets.Update(rctx, secret.TrustedSecretID,
				metadata.Filter{"domain_id": secret.DomainID}, restore)
			return trace.Wrap(err)
		})
	}

	if err := s.cfg.Payload.Update(ctx, secret.TrustedSecretID, raw); err != nil {
		return trace.Wrap(err)
	}
	rollbacks.Commit()
	return nil
}

// Delete refuses to remove a trusted secret while any secret still
// references it. Payload goes first, metadata second.
func (s *TrustedSecretService) Delete(ctx context.Context, caller *authz.Context, trustedSecretID string) error {
	if err := caller.Check(); err != nil {
		return trace.Wrap(err)
	}
	if err := caller.CheckAccess(authz.ManageRoles...); err != nil {
		return trace.Wrap(err)
	}
	if trustedSecretID == "" {
		return trace.BadParameter("missing parameter trusted_secret_id")
	}
	scope := caller.WriteScope()
	if _, err := s.cfg.Stores.TrustedSecrets.Get(ctx, trustedSecretID, scope); err != nil {
		return trace.Wrap(err)
	}
	_, related, err := s.cfg.Stores.Secrets.Query(ctx, metadata.Query{
		Filter: metadata.Filter{
			"domain_id":         caller.DomainID,
			"trusted_secret_id": trustedSecretID,
		},
		Page: metadata.Page{Limit: 1},
	})
	if err != nil {
		return trace.Wrap(err)
	}
	if related > 0 {
		return trace.CompareFailed("trusted secret %q is still referenced by %d secrets", trustedSecretID, related)
	}
	if err := s.cfg.Payload.Delete(ctx, trustedSecretID); err != nil && !trace.IsNotFound(err) {
		return trace.Wrap(err)
	}
	if err := s.cfg.Stores.TrustedSecrets.Delete(ctx, trustedSecretID, scope); err != nil {
		return trace.Wrap(err)
	}
	s.logger.InfoContext(ctx, "Deleted trusted secret.",
		"trusted_secret_id", trustedSecretID, "domain_id", caller.DomainID)
	return nil
}

// Get returns the metadata record visible to the caller.
func (s *TrustedSecretService) Get(ctx context.Context, caller *authz.Context, trustedSecretID string) (*types.TrustedSecret, error) {
	if err := caller.Check(); err != nil {
		return nil, trace.Wrap(err)
	}
	if err := caller.CheckAccess(authz.ReadRoles...); err != nil {
		return nil, trace.Wrap(err)
	}
	if trustedSecretID == "" {
		return nil, trace.BadParameter("missing parameter trusted_secret_id")
	}
	scope := metadata.Filter{"domain_id": caller.DomainID}
	if caller.WorkspaceID != "" {
		scope["workspace_id"] = []string{caller.WorkspaceID, types.Wildcard}
	}
	secret, err := s.cfg.Stores.TrustedSecrets.Get(ctx, trustedSecretID, scope)
	return secret, trace.Wrap(err)
}

// ListTrustedSecretsRequest is the list operation input.
type ListTrustedSecretsRequest struct {
	TrustedSecretID  string
	Name             string
	SchemaID         string
	Provider         string
	TrustedAccountID string
	ResourceGroup    types.ResourceGroup
	WorkspaceID      string
	Keyword          string
	Sort             []metadata.Sort
	Page             metadata.Page
}

// List returns the trusted secrets visible to the caller.
func (s *TrustedSecretService) List(ctx context.Context, caller *authz.Context, req ListTrustedSecretsRequest) ([]*types.TrustedSecret, int64, error) {
	if err := caller.Check(); err != nil {
		return nil, 0, trace.Wrap(err)
	}
	if err := caller.CheckAccess(authz.ReadRoles...); err != nil {
		return nil, 0, trace.Wrap(err)
	}
	filter := metadata.Filter{"domain_id": caller.DomainID}
	if caller.WorkspaceID != "" {
		filter["workspace_id"] = []string{caller.WorkspaceID, types.Wildcard}
	}
	for key, value := range map[string]string{
		"trusted_secret_id":  req.TrustedSecretID,
		"name":               req.Name,
		"schema_id":          req.SchemaID,
		"provider":           req.Provider,
		"trusted_account_id": req.TrustedAccountID,
		"resource_group":     string(req.ResourceGroup),
	} {
		if value != "" {
			filter[key] = value
		}
	}
	if req.WorkspaceID != "" {
		filter["workspace_id"] = []string{req.WorkspaceID, types.Wildcard}
	}
	records, total, err := s.cfg.Stores.TrustedSecrets.Query(ctx, metadata.Query{
		Filter:  filter,
		Keyword: req.Keyword,
		Sort:    req.Sort,
		Page:    req.Page,
	})
	return records, total, trace.Wrap(err)
}

// Stat aggregates over the trusted secrets visible to the caller.
func (s *TrustedSecretService) Stat(ctx context.Context, caller *authz.Context, q metadata.StatQuery) (*metadata.StatResult, error) {
	if err := caller.Check(); err != nil {
		return nil, trace.Wrap(err)
	}
	if err := caller.CheckAccess(authz.ReadRoles...); err != nil {
		return nil, trace.Wrap(err)
	}
	filter := metadata.Filter{"domain_id": caller.DomainID}
	if caller.WorkspaceID != "" {
		filter["workspace_id"] = []string{caller.WorkspaceID, types.Wildcard}
	}
	for key, value := range q.Filter {
		filter[key] = value
	}
	result, err := s.cfg.Stores.TrustedSecrets.Stat(ctx, metadata.StatQuery{
		Filter:   filter,
		Distinct: q.Distinct,
	})
	return result, trace.Wrap(err)
}
