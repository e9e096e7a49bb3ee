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

package types

import (
	"maps"
	"time"

	"github.com/gravitational/trace"
)

// Secret is a workspace/project/domain scoped metadata record. The
// sensitive payload itself never lives on the record, it is kept in the
// configured backend store under SecretID.
type Secret struct {
	// SecretID is the globally unique, immutable identifier of the
	// record and the key of the backend payload.
	SecretID string `json:"secret_id" bson:"secret_id"`
	// Name is unique within the domain.
	Name string `json:"name" bson:"name"`
	// SchemaID optionally names the schema the payload conforms to.
	SchemaID string `json:"schema_id,omitempty" bson:"schema_id,omitempty"`
	// Provider optionally names the cloud provider the credential is
	// for, derived from the service account when one is attached.
	Provider string `json:"provider,omitempty" bson:"provider,omitempty"`
	// Tags is a free-form string mapping.
	Tags map[string]string `json:"tags,omitempty" bson:"tags,omitempty"`
	// Encrypted reports whether the backend payload is an envelope
	// ciphertext rather than plaintext.
	Encrypted bool `json:"encrypted" bson:"encrypted"`
	// EncryptOptions is set when Encrypted is true.
	EncryptOptions *EncryptOptions `json:"encrypt_options,omitempty" bson:"encrypt_options,omitempty"`
	// TrustedSecretID optionally references the trusted parent secret.
	TrustedSecretID string `json:"trusted_secret_id,omitempty" bson:"trusted_secret_id,omitempty"`
	// ServiceAccountID optionally binds the secret to a service account.
	ServiceAccountID string `json:"service_account_id,omitempty" bson:"service_account_id,omitempty"`
	// ResourceGroup is DOMAIN, WORKSPACE or PROJECT.
	ResourceGroup ResourceGroup `json:"resource_group" bson:"resource_group"`
	// ProjectID is the owning project, or the wildcard for records
	// scoped above project level.
	ProjectID string `json:"project_id" bson:"project_id"`
	// WorkspaceID is the owning workspace, or the wildcard for
	// domain-wide records.
	WorkspaceID string `json:"workspace_id" bson:"workspace_id"`
	// DomainID is the owning domain. Immutable.
	DomainID string `json:"domain_id" bson:"domain_id"`
	// CreatedAt is the creation timestamp.
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
}

// CheckAndSetDefaults validates the record and normalizes the scope
// fields according to the resource group.
func (s *Secret) CheckAndSetDefaults() error {
	if s.Name == "" {
		return trace.BadParameter("missing parameter name")
	}
	if s.DomainID == "" {
		return trace.BadParameter("missing parameter domain_id")
	}
	if err := s.ResourceGroup.Check(ResourceGroupDomain, ResourceGroupWorkspace, ResourceGroupProject); err != nil {
		return trace.Wrap(err)
	}
	switch s.ResourceGroup {
	case ResourceGroupDomain:
		s.WorkspaceID = Wildcard
		s.ProjectID = Wildcard
	case ResourceGroupWorkspace:
		if s.WorkspaceID == "" || s.WorkspaceID == Wildcard {
			return trace.BadParameter("missing parameter workspace_id")
		}
		s.ProjectID = Wildcard
	case ResourceGroupProject:
		if s.WorkspaceID == "" || s.WorkspaceID == Wildcard {
			return trace.BadParameter("missing parameter workspace_id")
		}
		if s.ProjectID == "" || s.ProjectID == Wildcard {
			return trace.BadParameter("missing parameter project_id")
		}
	}
	if s.Encrypted {
		if err := s.EncryptOptions.CheckAndSetDefaults(); err != nil {
			return trace.Wrap(err)
		}
	}
	return nil
}

// Clone returns a deep copy of the record.
func (s *Secret) Clone() *Secret {
	clone := *s
	clone.Tags = maps.Clone(s.Tags)
	clone.EncryptOptions = s.EncryptOptions.Clone()
	return &clone
}
