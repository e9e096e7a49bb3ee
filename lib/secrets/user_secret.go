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
	"github.com/stronghold-sec/stronghold/lib/metadata"
)

// UserSecretService implements the UserSecret operation surface. User
// secrets are bound to the authenticated caller and never cross users;
// the tenant hierarchy does not apply beyond the domain.
type UserSecretService struct {
	cfg    Config
	logger *slog.Logger
}

// NewUserSecretService builds the service from its dependencies.
func NewUserSecretService(cfg Config) (*UserSecretService, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &UserSecretService{cfg: cfg, logger: cfg.Logger}, nil
}

// CreateUserSecretRequest is the create operation input.
type CreateUserSecretRequest struct {
	Name     string
	Data     map[string]any
	SchemaID string
	Provider string
	Tags     map[string]string
}

// Create persists a new user secret owned by the caller, metadata
// before payload.
func (s *UserSecretService) Create(ctx context.Context, caller *authz.Context, req CreateUserSecretRequest) (*types.UserSecret, error) {
	if err := caller.Check(); err != nil {
		return nil, trace.Wrap(err)
	}
	if err := caller.CheckAccess(authz.UserRoles...); err != nil {
		return nil, trace.Wrap(err)
	}
	if caller.UserID == "" {
		return nil, trace.BadParameter("missing parameter user_id")
	}
	if len(req.Data) == 0 {
		return nil, trace.BadParameter("missing parameter data")
	}

	secret := &types.UserSecret{
		UserSecretID: types.GenerateID(types.UserSecretIDPrefix),
		Name:         req.Name,
		SchemaID:     req.SchemaID,
		Provider:     req.Provider,
		Tags:         req.Tags,
		UserID:       caller.UserID,
		DomainID:     caller.DomainID,
		CreatedAt:    s.cfg.Clock.Now().UTC(),
	}
	if err := secret.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}

	rollbacks := NewRollbackStack(s.logger)
	defer rollbacks.Run()

	created, err := s.cfg.Stores.UserSecrets.Create(ctx, secret)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	rollbacks.Add("delete user secret metadata", func(rctx context.Context) error {
		return s.cfg.Stores.UserSecrets.Delete(rctx, secret.UserSecretID,
			metadata.Filter{"domain_id": secret.DomainID})
	})

	raw, opts, err := s.cfg.seal(ctx, req.Data,
		envelope.Context{DomainID: secret.DomainID, SecretID: secret.UserSecretID})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if opts != nil {
		encrypted := true
		updated, err := s.cfg.Stores.UserSecrets.Update(ctx, secret.UserSecretID,
			metadata.Filter{"domain_id": secret.DomainID},
			metadata.Patch{Encrypted: &encrypted, EncryptOptions: opts})
		if err != nil {
			// A concurrent delete wins the race; the payload must not be
			// written under the orphaned id.
			if trace.IsNotFound(err) {
				rollbacks.Commit()
				return nil, trace.NotFound("user secret %q was deleted concurrently", secret.UserSecretID)
			}
			return nil, trace.Wrap(err)
		}
		created = updated
	}

	if err := s.cfg.Payload.Put(ctx, secret.UserSecretID, raw); err != nil {
		return nil, trace.Wrap(err)
	}
	rollbacks.Commit()
	s.logger.InfoContext(ctx, "Created user secret.",
		"user_secret_id", secret.UserSecretID, "domain_id", secret.DomainID)
	return created, nil
}

// UpdateUserSecretRequest is the update operation input.
type UpdateUserSecretRequest struct {
	UserSecretID string
	Name         *string
	Tags         map[string]string
	SchemaID     *string
}

// Update mutates the updatable metadata subset.
func (s *UserSecretService) Update(ctx context.Context, caller *authz.Context, req UpdateUserSecretRequest) (*types.UserSecret, error) {
	if err := caller.Check(); err != nil {
		return nil, trace.Wrap(err)
	}
	if err := caller.CheckAccess(authz.UserRoles...); err != nil {
		return nil, trace.Wrap(err)
	}
	if req.UserSecretID == "" {
		return nil, trace.BadParameter("missing parameter user_secret_id")
	}
	secret, err := s.cfg.Stores.UserSecrets.Update(ctx, req.UserSecretID, caller.UserScope(),
		metadata.Patch{Name: req.Name, Tags: req.Tags, SchemaID: req.SchemaID})
	return secret, trace.Wrap(err)
}

// UpdateUserSecretDataRequest is the update_data operation input.
type UpdateUserSecretDataRequest struct {
	UserSecretID string
	Data         map[string]any
}

// UpdateData replaces the backend payload under a fresh data key.
func (s *UserSecretService) UpdateData(ctx context.Context, caller *authz.Context, req UpdateUserSecretDataRequest) error {
	if err := caller.Check(); err != nil {
		return trace.Wrap(err)
	}
	if err := caller.CheckAccess(authz.UserRoles...); err != nil {
		return trace.Wrap(err)
	}
	if req.UserSecretID == "" {
		return trace.BadParameter("missing parameter user_secret_id")
	}
	if len(req.Data) == 0 {
		return trace.BadParameter("missing parameter data")
	}
	scope := caller.UserScope()
	secret, err := s.cfg.Stores.UserSecrets.Get(ctx, req.UserSecretID, scope)
	if err != nil {
		return trace.Wrap(err)
	}
	raw, opts, err := s.cfg.seal(ctx, req.Data,
		envelope.Context{DomainID: secret.DomainID, SecretID: secret.UserSecretID})
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
		if _, err := s.cfg.Stores.UserSecrets.Update(ctx, secret.UserSecretID, scope, patch); err != nil {
			return trace.Wrap(err)
		}
		rollbacks.Add("restore user secret metadata", func(rctx context.Context) error {
			restore := metadata.Patch{Encrypted: &secret.Encrypted, EncryptOptions: secret.EncryptOptions}
			if restore.EncryptOptions == nil {
				restore.EncryptOptions = &types.EncryptOptions{}
			}
			_, err := s.cfg.Stores.UserSecrets.Update(rctx, secret.UserSecretID,
				metadata.Filter{"domain_id": secret.DomainID}, restore)
			return trace.Wrap(err)
		})
	}

	if err := s.cfg.Payload.Update(ctx, secret.UserSecretID, raw); err != nil {
		return trace.Wrap(err)
	}
	rollbacks.Commit()
	return nil
}

// Delete removes the backend payload first and the metadata second.
func (s *UserSecretService) Delete(ctx context.Context, caller *authz.Context, userSecretID string) error {
	if err := caller.Check(); err != nil {
		return trace.Wrap(err)
	}
	if err := caller.CheckAccess(authz.UserRoles...); err != nil {
		return trace.Wrap(err)
	}
	if userSecretID == "" {
		return trace.BadParameter("missing parameter user_secret_id")
	}
	scope := caller.UserScope()
	if _, err := s.cfg.Stores.UserSecrets.Get(ctx, userSecretID, scope); err != nil {
		return trace.Wrap(err)
	}
	if err := s.cfg.Payload.Delete(ctx, userSecretID); err != nil && !trace.IsNotFound(err) {
		return trace.Wrap(err)
	}
	if err := s.cfg.Stores.UserSecrets.Delete(ctx, userSecretID, scope); err != nil {
		return trace.Wrap(err)
	}
	s.logger.InfoContext(ctx, "Deleted user secret.",
		"user_secret_id", userSecretID, "domain_id", caller.DomainID)
	return nil
}

// Get returns the metadata record owned by the caller.
func (s *UserSecretService) Get(ctx context.Context, caller *authz.Context, userSecretID string) (*types.UserSecret, error) {
	if err := caller.Check(); err != nil {
		return nil, trace.Wrap(err)
	}
	if err := caller.CheckAccess(authz.UserRoles...); err != nil {
		return nil, trace.Wrap(err)
	}
	if userSecretID == "" {
		return nil, trace.BadParameter("missing parameter user_secret_id")
	}
	secret, err := s.cfg.Stores.UserSecrets.Get(ctx, userSecretID, caller.UserScope())
	return secret, trace.Wrap(err)
}

// GetData returns the payload: the plaintext data map, or the envelope
// bundle the caller decrypts with its KMS.
func (s *UserSecretService) GetData(ctx context.Context, caller *authz.Context, userSecretID string) (*types.SecretData, error) {
	if err := caller.Check(); err != nil {
		return nil, trace.Wrap(err)
	}
	if err := caller.CheckAccess(authz.UserRoles...); err != nil {
		return nil, trace.Wrap(err)
	}
	if userSecretID == "" {
		return nil, trace.BadParameter("missing parameter user_secret_id")
	}
	secret, err := s.cfg.Stores.UserSecrets.Get(ctx, userSecretID, caller.UserScope())
	if err != nil {
		return nil, trace.Wrap(err)
	}
	raw, err := s.cfg.Payload.Get(ctx, userSecretID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	data, err := open(raw, secret.Encrypted, secret.EncryptOptions)
	return data, trace.Wrap(err)
}

// ListUserSecretsRequest is the list operation input.
type ListUserSecretsRequest struct {
	UserSecretID string
	Name         string
	SchemaID     string
	Provider     string
	Keyword      string
	Sort         []metadata.Sort
	Page         metadata.Page
}

// List returns the user secrets owned by the caller.
func (s *UserSecretService) List(ctx context.Context, caller *authz.Context, req ListUserSecretsRequest) ([]*types.UserSecret, int64, error) {
	if err := caller.Check(); err != nil {
		return nil, 0, trace.Wrap(err)
	}
	if err := caller.CheckAccess(authz.UserRoles...); err != nil {
		return nil, 0, trace.Wrap(err)
	}
	filter := caller.UserScope()
	for key, value := range map[string]string{
		"user_secret_id": req.UserSecretID,
		"name":           req.Name,
		"schema_id":      req.SchemaID,
		"provider":       req.Provider,
	} {
		if value != "" {
			filter[key] = value
		}
	}
	records, total, err := s.cfg.Stores.UserSecrets.Query(ctx, metadata.Query{
		Filter:  filter,
		Keyword: req.Keyword,
		Sort:    req.Sort,
		Page:    req.Page,
	})
	return records, total, trace.Wrap(err)
}

// Stat aggregates over the user secrets owned by the caller.
func (s *UserSecretService) Stat(ctx context.Context, caller *authz.Context, q metadata.StatQuery) (*metadata.StatResult, error) {
	if err := caller.Check(); err != nil {
		return nil, trace.Wrap(err)
	}
	if err := caller.CheckAccess(authz.UserRoles...); err != nil {
		return nil, trace.Wrap(err)
	}
	filter := caller.UserScope()
	for key, value := range q.Filter {
		filter[key] = value
	}
	result, err := s.cfg.Stores.UserSecrets.Stat(ctx, metadata.StatQuery{
		Filter:   filter,
		Distinct: q.Distinct,
	})
	return result, trace.Wrap(err)
}
