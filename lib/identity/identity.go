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

// Package identity is the read-only client of the external identity
// service, resolving service accounts, projects, workspaces and trusted
// accounts for scope validation.
package identity

import (
	"context"
)

// ServiceAccount is the subset of the identity record the service
// consumes.
type ServiceAccount struct {
	ServiceAccountID string
	Provider         string
	ProjectID        string
	WorkspaceID      string
	DomainID         string
}

// Project is the subset of the identity record the service consumes.
type Project struct {
	ProjectID   string
	WorkspaceID string
	DomainID    string
}

// TrustedAccount is the subset of the identity record the service
// consumes.
type TrustedAccount struct {
	TrustedAccountID string
	Provider         string
	ResourceGroup    string
	WorkspaceID      string
}

// Client is the identity service contract. Implementations must be
// safe for concurrent use. Lookups for records the caller cannot see
// return not found errors; transport failures return connection
// problems.
type Client interface {
	// GetServiceAccount resolves a service account within the domain.
	GetServiceAccount(ctx context.Context, serviceAccountID, domainID string) (*ServiceAccount, error)
	// GetProject resolves a project within the domain.
	GetProject(ctx context.Context, projectID, domainID string) (*Project, error)
	// CheckWorkspace verifies the workspace exists in the domain. Runs
	// under the system token.
	CheckWorkspace(ctx context.Context, workspaceID, domainID string) error
	// GetTrustedAccount resolves a trusted account within the domain.
	// Runs under the system token.
	GetTrustedAccount(ctx context.Context, trustedAccountID, domainID string) (*TrustedAccount, error)
	// Close releases the client resources.
	Close() error
}

type tokenKey struct{}

// WithToken returns a context carrying the caller's token, attached to
// outbound identity calls that act on the caller's behalf.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey{}, token)
}

// TokenFromContext returns the caller token attached by [WithToken].
func TokenFromContext(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(tokenKey{}).(string)
	return token, ok && token != ""
}
