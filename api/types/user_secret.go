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

// UserSecret is a user-scoped secret, independent of the
// workspace/project hierarchy.
type UserSecret struct {
	// UserSecretID is the globally unique, immutable identifier.
	UserSecretID string `json:"user_secret_id" bson:"user_secret_id"`
	// Name is unique within the domain.
	Name string `json:"name" bson:"name"`
	// SchemaID optionally names the schema the payload conforms to.
	SchemaID string `json:"schema_id,omitempty" bson:"schema_id,omitempty"`
	// Provider optionally names the cloud provider.
	Provider string `json:"provider,omitempty" bson:"provider,omitempty"`
	// Tags is a free-form string mapping.
	Tags map[string]string `json:"tags,omitempty" bson:"tags,omitempty"`
	// Encrypted reports whether the backend payload is an envelope
	// ciphertext rather than plaintext.
	Encrypted bool `json:"encrypted" bson:"encrypted"`
	// EncryptOptions is set when Encrypted is true.
	EncryptOptions *EncryptOptions `json:"encrypt_options,omitempty" bson:"encrypt_options,omitempty"`
	// UserID is the owning user. Immutable.
	UserID string `json:"user_id" bson:"user_id"`
	// DomainID is the owning domain. Immutable.
	DomainID string `json:"domain_id" bson:"domain_id"`
	// CreatedAt is the creation timestamp.
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
}

// CheckAndSetDefaults validates the record.
func (u *UserSecret) CheckAndSetDefaults() error {
	if u.Name == "" {
		return trace.BadParameter("missing parameter name")
	}
	if u.UserID == "" {
		return trace.BadParameter("missing parameter user_id")
	}
	if u.DomainID == "" {
		return trace.BadParameter("missing parameter domain_id")
	}
	if u.Encrypted {
		if err := u.EncryptOptions.CheckAndSetDefaults(); err != nil {
			return trace.Wrap(err)
		}
	}
	return nil
}

// Clone returns a deep copy of the record.
func (u *UserSecret) Clone() *UserSecret {
	clone := *u
	clone.Tags = maps.Clone(u.Tags)
	clone.EncryptOptions = u.EncryptOptions.Clone()
	return &clone
}
