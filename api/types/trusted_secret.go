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

// TrustedSecret is a domain- or workspace-scoped secret that may act as
// the cryptographic or semantic parent of Secrets. It cannot be deleted
// while any Secret references it.
type TrustedSecret struct {
	// TrustedSecretID is the globally unique, immutable identifier.
	TrustedSecretID string `json:"trusted_secret_id" bson:"trusted_secret_id"`
	// Name is unique within the domain.
	Name string `json:"name" bson:"name"`
	// SchemaID optionally names the schema the payload conforms to.
	SchemaID string `json:"schema_id,omitempty" bson:"schema_id,omitempty"`
	// Provider optionally names the cloud provider, derived from the
	// trusted account when one is attached.
	Provider string `json:"provider,omitempty" bson:"provider,omitempty"`
	// Tags is a free-form string mapping.
	Tags map[string]string `json:"tags,omitempty" bson:"tags,omitempty"`
	// Encrypted reports whether the backend payload is an envelope
	// ciphertext rather than plaintext.
	Encrypted bool `json:"encrypted" bson:"encrypted"`
	// EncryptOptions is set when Encrypted is true.
	EncryptOptions *EncryptOptions `json:"encrypt_options,omitempty" bson:"encrypt_options,omitempty"`
	// TrustedAccountID optionally binds the record to a trusted account.
	TrustedAccountID string `json:"trusted_account_id,omitempty" bson:"trusted_account_id,omitempty"`
	// ResourceGroup is DOMAIN or WORKSPACE.
	ResourceGroup ResourceGroup `json:"resource_group" bson:"resource_group"`
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
func (t *TrustedSecret) CheckAndSetDefaults() error {
	if t.Name == "" {
		return trace.BadParameter("missing parameter name")
	}
	if t.DomainID == "" {
		return trace.BadParameter("missing parameter domain_id")
	}
	if err := t.ResourceGroup.Check(ResourceGroupDomain, ResourceGroupWorkspace); err != nil {
		return trace.Wrap(err)
	}
	switch t.ResourceGroup {
	case ResourceGroupDomain:
		t.WorkspaceID = Wildcard
	case ResourceGroupWorkspace:
		if t.WorkspaceID == "" || t.WorkspaceID == Wildcard {
			return trace.BadParameter("missing parameter workspace_id")
		}
	}
	if t.Encrypted {
		if err := t.EncryptOptions.CheckAndSetDefaults(); err != nil {
			return trace.Wrap(err)
		}
	}
	return nil
}

// Clone returns a deep copy of the record.
func (t *TrustedSecret) Clone() *TrustedSecret {
	clone := *t
	clone.Tags = maps.Clone(t.Tags)
	clone.EncryptOptions = t.EncryptOptions.Clone()
	return &clone
}
