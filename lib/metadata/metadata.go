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

// Package metadata defines the typed record stores holding secret
// metadata, and the filter, query and aggregation shapes shared by all
// implementations. Payload bytes never pass through this layer.
package metadata

import (
	"context"

	"github.com/stronghold-sec/stronghold/api/types"
)

// Filter is a conjunction of field conditions keyed by the wire field
// name. A string value requires equality; a []string value matches any
// of its elements. Scope filters widen reads by listing the concrete
// scope id together with [types.Wildcard].
type Filter map[string]any

// Clone returns a shallow copy safe to extend.
func (f Filter) Clone() Filter {
	out := make(Filter, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Sort orders query results by a single field.
type Sort struct {
	Key  string
	Desc bool
}

// Page bounds query results. A zero Limit falls back to the
// implementation's default.
type Page struct {
	Start int
	Limit int
}

// Query is the full list-request shape: conjunctive filter, free-text
// keyword, sort and pagination.
type Query struct {
	Filter Filter
	// Keyword is matched case-insensitively as a substring against the
	// record id, name, schema and provider fields.
	Keyword string
	Sort    []Sort
	Page    Page
}

// StatQuery is the aggregation shape: count records matching Filter,
// optionally collecting the distinct values of one field.
type StatQuery struct {
	Filter   Filter
	Distinct string
}

// StatResult carries the aggregation outcome.
type StatResult struct {
	TotalCount int64 `json:"total_count"`
	Values     []any `json:"values,omitempty"`
}

// Patch is the declared updatable subset of a record. Nil fields are
// left untouched. ProjectID applies to Secret records only.
type Patch struct {
	Name           *string
	Tags           map[string]string
	SchemaID       *string
	Encrypted      *bool
	EncryptOptions *types.EncryptOptions
	ProjectID      *string
}

// Secrets is the Secret record store.
type Secrets interface {
	// Create persists a new record and fails with an already exists
	// error when the (domain_id, name) pair is taken.
	Create(ctx context.Context, secret *types.Secret) (*types.Secret, error)
	// Get returns the record with the given id matching scope, or a not
	// found error.
	Get(ctx context.Context, secretID string, scope Filter) (*types.Secret, error)
	// Update applies the patch to the record matching id and scope and
	// returns the updated record.
	Update(ctx context.Context, secretID string, scope Filter, patch Patch) (*types.Secret, error)
	// Delete removes the record matching id and scope, or returns a not
	// found error.
	Delete(ctx context.Context, secretID string, scope Filter) error
	// Query lists records and reports the total match count before
	// pagination.
	Query(ctx context.Context, q Query) ([]*types.Secret, int64, error)
	// Stat runs the aggregation described by q.
	Stat(ctx context.Context, q StatQuery) (*StatResult, error)
}

// TrustedSecrets is the TrustedSecret record store.
type TrustedSecrets interface {
	Create(ctx context.Context, secret *types.TrustedSecret) (*types.TrustedSecret, error)
	Get(ctx context.Context, trustedSecretID string, scope Filter) (*types.TrustedSecret, error)
	Update(ctx context.Context, trustedSecretID string, scope Filter, patch Patch) (*types.TrustedSecret, error)
	Delete(ctx context.Context, trustedSecretID string, scope Filter) error
	Query(ctx context.Context, q Query) ([]*types.TrustedSecret, int64, error)
	Stat(ctx context.Context, q StatQuery) (*StatResult, error)
}

// UserSecrets is the UserSecret record store.
type UserSecrets interface {
	Create(ctx context.Context, secret *types.UserSecret) (*types.UserSecret, error)
	Get(ctx context.Context, userSecretID string, scope Filter) (*types.UserSecret, error)
	Update(ctx context.Context, userSecretID string, scope Filter, patch Patch) (*types.UserSecret, error)
	Delete(ctx context.Context, userSecretID string, scope Filter) error
	Query(ctx context.Context, q Query) ([]*types.UserSecret, int64, error)
	Stat(ctx context.Context, q StatQuery) (*StatResult, error)
}

// Stores bundles the three record stores behind one handle.
type Stores struct {
	Secrets        Secrets
	TrustedSecrets TrustedSecrets
	UserSecrets    UserSecrets
}
