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

// SecretService implements the Secret operation surface.
type SecretService struct {
	cfg    Config
	logger *slog.Logger
}

// NewSecretService builds the service from its dependencies.
func NewSecretService(cfg Config) (*SecretService, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &SecretService{cfg: cfg, logger: cfg.Logger}, nil
}

// CreateSecretRequest is the create operation input.
type CreateSecretRequest struct {
	Name             string
	Data             map[string]any
	SchemaID         string
	Provider         string
	Tags             map[string]string
	TrustedSecretID  string
	ServiceAccountID string
	ResourceGroup    types.ResourceGroup
	WorkspaceID      string
	ProjectID        string
}

// Create persists a new secret: metadata first, then the payload in
// the backend store. If any later step fails, the registered rollbacks
// undo the earlier ones in reverse order.
func (s *SecretService) Create(ctx context.Context, caller *authz.Context, req CreateSecretRequest) (*types.Secret, error) {
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

	secret := &types.Secret{
		SecretID:         types.GenerateID(types.SecretIDPrefix),
		Name:             req.Name,
		SchemaID:         req.SchemaID,
		Provider:         req.Provider,
		Tags:             req.Tags,
		TrustedSecretID:  req.TrustedSecretID,
		ServiceAccountID: req.ServiceAccountID,
		ResourceGroup:    req.ResourceGroup,
		WorkspaceID:      req.WorkspaceID,
		ProjectID:        req.ProjectID,
		DomainID:         caller.DomainID,
		CreatedAt:        s.cfg.Clock.Now().UTC(),
	}
	if secret.WorkspaceID == "" {
		secret.WorkspaceID = caller.WorkspaceID
	}

	ctx = identity.WithToken(ctx, caller.Token)
	if err := s.resolveScope(ctx, secret); err != nil {
		return nil, trace.Wrap(err)
	}
	if secret.TrustedSecretID != "" {
		if err := s.checkTrustedLinkage(ctx, secret, s.cfg.Encrypt); err != nil {
			return nil, trace.Wrap(err)
		}
	}
	if err := secret.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}

	rollbacks := NewRollbackStack(s.logger)
	defer rollbacks.Run()

	created, err := s.cfg.Stores.Secrets.Create(ctx, secret)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	rollbacks.Add("delete secret metadata", func(rctx context.Context) error {
		return s.cfg.Stores.Secrets.Delete(rctx, secret.SecretID,
			metadata.Filter{"domain_id": secret.DomainID})
	})

	raw, opts, err := s.cfg.seal(ctx, req.Data,
		envelope.Context{DomainID: secret.DomainID, SecretID: secret.SecretID})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if opts != nil {
		encrypted := true
		updated, err := s.cfg.Stores.Secrets.Update(ctx, secret.SecretID,
			metadata.Filter{"domain_id": secret.DomainID},
			metadata.Patch{Encrypted: &encrypted, EncryptOptions: opts})
		if err != nil {
			// A concurrent delete wins the race. The metadata is gone, so
			// writing the payload now would orphan it; report the secret
			// as deleted instead.
			if trace.IsNotFound(err) {
				rollbacks.Commit()
				return nil, trace.NotFound("secret %q was deleted concurrently", secret.SecretID)
			}
			return nil, trace.Wrap(err)
		}
		created = updated
	}

	if err := s.cfg.Payload.Put(ctx, secret.SecretID, raw); err != nil {
		return nil, trace.Wrap(err)
	}
	rollbacks.Commit()
	s.logger.InfoContext(ctx, "Created secret.",
		"secret_id", secret.SecretID, "domain_id", secret.DomainID,
		"resource_group", secret.ResourceGroup, "encrypted", opts != nil)
	return created, nil
}

// resolveScope validates the tenant hierarchy references and fills the
// scope fields the request left implicit. A service account is
// authoritative for provider, project and workspace; caller-supplied
// values are overridden.
func (s *SecretService) resolveScope(ctx context.Context, secret *types.Secret) error {
	switch secret.ResourceGroup {
	case types.ResourceGroupProject:
		if secret.ServiceAccountID != "" {
			sa, err := s.cfg.Identity.GetServiceAccount(ctx, secret.ServiceAccountID, secret.DomainID)
			if err != nil {
				return trace.Wrap(err)
			}
			secret.Provider = sa.Provider
			secret.ProjectID = sa.ProjectID
			secret.WorkspaceID = sa.WorkspaceID
			return nil
		}
		if secret.ProjectID == "" || secret.ProjectID == types.Wildcard {
			return trace.BadParameter("missing parameter project_id")
		}
		project, err := s.cfg.Identity.GetProject(ctx, secret.ProjectID, secret.DomainID)
		if err != nil {
			return trace.Wrap(err)
		}
		secret.WorkspaceID = project.WorkspaceID
	case types.ResourceGroupWorkspace:
		if secret.WorkspaceID == "" || secret.WorkspaceID == types.Wildcard {
			return trace.BadParameter("missing parameter workspace_id")
		}
		if err := s.cfg.Identity.CheckWorkspace(ctx, secret.WorkspaceID, secret.DomainID); err != nil {
			return trace.Wrap(err)
		}
	}
	return nil
}

// checkTrustedLinkage resolves the trusted parent within the secret's
// domain and workspace (or a domain-wide parent) and enforces the
// encryption parity rules.
func (s *SecretService) checkTrustedLinkage(ctx context.Context, secret *types.Secret, encrypted bool) error {
	scope := metadata.Filter{"domain_id": secret.DomainID}
	if secret.WorkspaceID != "" && secret.WorkspaceID != types.Wildcard {
		scope["workspace_id"] = []string{secret.WorkspaceID, types.Wildcard}
	}
	parent, err := s.cfg.Stores.TrustedSecrets.Get(ctx, secret.TrustedSecretID, scope)
	if err != nil {
		return trace.Wrap(err)
	}
	if parent.Encrypted != encrypted {
		return trace.CompareFailed("the secret and trusted secret %q must both be encrypted or both be plaintext", parent.TrustedSecretID)
	}
	if encrypted && (parent.EncryptOptions == nil ||
		parent.EncryptOptions.EncryptAlgorithm != sealAlgorithm) {
		return trace.CompareFailed("the secret and trusted secret %q use different encrypt algorithms", parent.TrustedSecretID)
	}
	return nil
}

// UpdateSecretRequest is the update operation input. Nil fields are
// left untouched.
type UpdateSecretRequest struct {
	SecretID string
	Name     *string
	Tags     map[string]string
	SchemaID *string
	// ProjectID moves the secret to another project in the domain.
	ProjectID *string
	// ReleaseProject resets a project-scoped secret back to workspace
	// visibility.
	ReleaseProject bool
}

// Update mutates the updatable metadata subset.
func (s *SecretService) Update(ctx context.Context, caller *authz.Context, req UpdateSecretRequest) (*types.Secret, error) {
	if err := caller.Check(); err != nil {
		return nil, trace.Wrap(err)
	}
	if err := caller.CheckAccess(authz.ManageRoles...); err != nil {
		return nil, trace.Wrap(err)
	}
	if req.SecretID == "" {
		return nil, trace.BadParameter("missing parameter secret_id")
	}
	patch := metadata.Patch{Name: req.Name, Tags: req.Tags, SchemaID: req.SchemaID}
	switch {
	case req.ReleaseProject:
		wildcard := types.Wildcard
		patch.ProjectID = &wildcard
	case req.ProjectID != nil:
		ctx = identity.WithToken(ctx, caller.Token)
		if _, err := s.cfg.Identity.GetProject(ctx, *req.ProjectID, caller.DomainID); err != nil {
			return nil, trace.Wrap(err)
		}
		patch.ProjectID = req.ProjectID
	}
	secret, err := s.cfg.Stores.Secrets.Update(ctx, req.SecretID, caller.WriteScope(), patch)
	return secret, trace.Wrap(err)
}

// UpdateSecretDataRequest is the update_data operation input.
type UpdateSecretDataRequest struct {
	SecretID string
	Data     map[string]any
}

// UpdateData replaces the backend payload, re-encrypting under a fresh
// data key when encryption is enabled. If the backend write fails the
// previous metadata is restored and the payload is left as it was.
func (s *SecretService) UpdateData(ctx context.Context, caller *authz.Context, req UpdateSecretDataRequest) error {
	if err := caller.Check(); err != nil {
		return trace.Wrap(err)
	}
	if err := caller.CheckAccess(authz.ManageRoles...); err != nil {
		return trace.Wrap(err)
	}
	if req.SecretID == "" {
		return trace.BadParameter("missing parameter secret_id")
	}
	if len(req.Data) == 0 {
		return trace.BadParameter("missing parameter data")
	}
	scope := caller.WriteScope()
	secret, err := s.cfg.Stores.Secrets.Get(ctx, req.SecretID, scope)
	if err != nil {
		return trace.Wrap(err)
	}
	raw, opts, err := s.cfg.seal(ctx, req.Data,
		envelope.Context{DomainID: secret.DomainID, SecretID: secret.SecretID})
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
		if _, err := s.cfg.Stores.Secrets.Update(ctx, secret.SecretID, scope, patch); err != nil {
			return trace.Wrap(err)
		}
		rollbacks.Add("restore secret metadata", func(rctx context.Context) error {
			restore := metadata.Patch{Encrypted: &secret.Encrypted, EncryptOptions: secret.EncryptOptions}
			if restore.EncryptOptions == nil {
				restore.EncryptOptions = &types.EncryptOptions{}
			}
			_, err := s.cfg.Stores.Secrets.Update(rctx, secret.SecretID,
				metadata.Filter{"domain_id": secret.DomainID}, restore)
			return trace.Wrap(err)
		})
	}

	if err := s.cfg.Payload.Update(ctx, secret.SecretID, raw); err != nil {
		return trace.Wrap(err)
	}
	rollbacks.Commit()
	return nil
}

// Delete removes the backend payload first and the metadata record
// second. A missing payload is treated as already deleted.
func (s *SecretService) Delete(ctx context.Context, caller *authz.Context, secretID string) error {
	if err := caller.Check(); err != nil {
		return trace.Wrap(err)
	}
	if err := caller.CheckAccess(authz.ManageRoles...); err != nil {
		return trace.Wrap(err)
	}
	if secretID == "" {
		return trace.BadParameter("missing parameter secret_id")
	}
	scope := caller.WriteScope()
	if _, err := s.cfg.Stores.Secrets.Get(ctx, secretID, scope); err != nil {
		return trace.Wrap(err)
	}
	if err := s.cfg.Payload.Delete(ctx, secretID); err != nil && !trace.IsNotFound(err) {
		return trace.Wrap(err)
	}
	if err := s.cfg.Stores.Secrets.Delete(ctx, secretID, scope); err != nil {
		return trace.Wrap(err)
	}
	s.logger.InfoContext(ctx, "Deleted secret.",
		"secret_id", secretID, "domain_id", caller.DomainID)
	return nil
}

// Get returns the metadata record visible to the caller.
func (s *SecretService) Get(ctx context.Context, caller *authz.Context, secretID string) (*types.Secret, error) {
	if err := caller.Check(); err != nil {
		return nil, trace.Wrap(err)
	}
	if err := caller.CheckAccess(authz.ReadRoles...); err != nil {
		return nil, trace.Wrap(err)
	}
	if secretID == "" {
		return nil, trace.BadParameter("missing parameter secret_id")
	}
	secret, err := s.cfg.Stores.Secrets.Get(ctx, secretID, caller.ReadScope())
	return secret, trace.Wrap(err)
}

// GetData returns the payload: the plaintext data map, or the envelope
// bundle the caller decrypts with its KMS. A secret with a trusted
// parent carries the parent's wrapped key alongside its own.
func (s *SecretService) GetData(ctx context.Context, caller *authz.Context, secretID string) (*types.SecretData, error) {
	if err := caller.Check(); err != nil {
		return nil, trace.Wrap(err)
	}
	if err := caller.CheckAccess(authz.ReadRoles...); err != nil {
		return nil, trace.Wrap(err)
	}
	if secretID == "" {
		return nil, trace.BadParameter("missing parameter secret_id")
	}
	secret, err := s.cfg.Stores.Secrets.Get(ctx, secretID, caller.ReadScope())
	if err != nil {
		return nil, trace.Wrap(err)
	}
	raw, err := s.cfg.Payload.Get(ctx, secretID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	data, err := open(raw, secret.Encrypted, secret.EncryptOptions)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if secret.Encrypted && secret.TrustedSecretID != "" {
		parent, err := s.cfg.Stores.TrustedSecrets.Get(ctx, secret.TrustedSecretID,
			metadata.Filter{"domain_id": secret.DomainID})
		if err != nil {
			return nil, trace.Wrap(err)
		}
		if parent.EncryptOptions != nil {
			data.EncryptOptions.TrustedEncryptDataKey = parent.EncryptOptions.EncryptDataKey
		}
	}
	return data, nil
}

// ListSecretsRequest is the list operation input. Empty fields are not
// filtered on.
type ListSecretsRequest struct {
	SecretID         string
	Name             string
	SchemaID         string
	Provider         string
	TrustedSecretID  string
	ServiceAccountID string
	ResourceGroup    types.ResourceGroup
	WorkspaceID      string
	ProjectID        string
	Keyword          string
	Sort             []metadata.Sort
	Page             metadata.Page
}

// List returns the secrets visible to the caller, with the total match
// count before pagination.
func (s *SecretService) List(ctx context.Context, caller *authz.Context, req ListSecretsRequest) ([]*types.Secret, int64, error) {
	if err := caller.Check(); err != nil {
		return nil, 0, trace.Wrap(err)
	}
	if err := caller.CheckAccess(authz.ReadRoles...); err != nil {
		return nil, 0, trace.Wrap(err)
	}
	filter := caller.ReadScope()
	for key, value := range map[string]string{
		"secret_id":          req.SecretID,
		"name":               req.Name,
		"schema_id":          req.SchemaID,
		"provider":           req.Provider,
		"trusted_secret_id":  req.TrustedSecretID,
		"service_account_id": req.ServiceAccountID,
		"resource_group":     string(req.ResourceGroup),
	} {
		if value != "" {
			filter[key] = value
		}
	}
	if req.WorkspaceID != "" {
		filter["workspace_id"] = []string{req.WorkspaceID, types.Wildcard}
	}
	if req.ProjectID != "" {
		filter["project_id"] = []string{req.ProjectID, types.Wildcard}
	}
	records, total, err := s.cfg.Stores.Secrets.Query(ctx, metadata.Query{
		Filter:  filter,
		Keyword: req.Keyword,
		Sort:    req.Sort,
		Page:    req.Page,
	})
	return records, total, trace.Wrap(err)
}

// Stat aggregates over the secrets visible to the caller.
func (s *SecretService) Stat(ctx context.Context, caller *authz.Context, q metadata.StatQuery) (*metadata.StatResult, error) {
	if err := caller.Check(); err != nil {
		return nil, trace.Wrap(err)
	}
	if err := caller.CheckAccess(authz.ReadRoles...); err != nil {
		return nil, trace.Wrap(err)
	}
	filter := caller.ReadScope()
	for key, value := range q.Filter {
		filter[key] = value
	}
	result, err := s.cfg.Stores.Secrets.Stat(ctx, metadata.StatQuery{
		Filter:   filter,
		Distinct: q.Distinct,
	})
	return result, trace.Wrap(err)
}
