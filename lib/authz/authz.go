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

// Package authz models the authenticated caller and enforces role and
// scope rules on every operation. Scope parameters missing from a
// request are resolved from the caller context; reads are widened with
// the wildcard so records scoped above the caller remain visible.
package authz

import (
	"github.com/gravitational/trace"

	"github.com/stronghold-sec/stronghold/api/types"
	"github.com/stronghold-sec/stronghold/lib/metadata"
)

// Role is the caller's role within its scope.
type Role string

const (
	RoleDomainAdmin     Role = "DOMAIN_ADMIN"
	RoleWorkspaceOwner  Role = "WORKSPACE_OWNER"
	RoleWorkspaceMember Role = "WORKSPACE_MEMBER"
	RoleUser            Role = "USER"
)

// Role sets per operation class. Writes require ownership of the
// scope; reads extend to members.
var (
	// ManageRoles may create, mutate and delete records.
	ManageRoles = []Role{RoleDomainAdmin, RoleWorkspaceOwner}
	// ReadRoles may get, list and aggregate records.
	ReadRoles = []Role{RoleDomainAdmin, RoleWorkspaceOwner, RoleWorkspaceMember}
	// UserRoles may act on their own user-scoped records.
	UserRoles = []Role{RoleDomainAdmin, RoleWorkspaceOwner, RoleWorkspaceMember, RoleUser}
)

// Context is the authenticated caller identity, decoded from the
// request token by the RPC front end. It is per-request and read-only.
type Context struct {
	// DomainID is the caller's domain. Always set.
	DomainID string
	// WorkspaceID is set for workspace-scoped callers.
	WorkspaceID string
	// UserID identifies the caller.
	UserID string
	// Roles are the caller's granted roles.
	Roles []Role
	// UserProjects are the projects the caller belongs to. Only
	// consulted for project-scoped visibility.
	UserProjects []string
	// Token is the caller's raw token, forwarded on identity lookups
	// made on the caller's behalf.
	Token string
}

// Check validates the caller context.
func (c *Context) Check() error {
	if c.DomainID == "" {
		return trace.BadParameter("missing parameter domain_id")
	}
	return nil
}

// CheckAccess returns an access denied error unless the caller holds
// one of the required roles.
func (c *Context) CheckAccess(required ...Role) error {
	for _, have := range c.Roles {
		// Domain admins pass every role check.
		if have == RoleDomainAdmin {
			return nil
		}
		for _, want := range required {
			if have == want {
				return nil
			}
		}
	}
	return trace.AccessDenied("this operation requires one of roles %v", required)
}

// ReadScope builds the mandatory read filter: the caller's domain,
// widened per scope level with the wildcard. A domain-scoped record is
// visible to workspace and project scoped callers of the same domain;
// a project-scoped record only to callers whose projects include it.
func (c *Context) ReadScope() metadata.Filter {
	scope := metadata.Filter{"domain_id": c.DomainID}
	if c.WorkspaceID != "" {
		scope["workspace_id"] = []string{c.WorkspaceID, types.Wildcard}
	}
	if len(c.UserProjects) > 0 {
		scope["project_id"] = append(append([]string{}, c.UserProjects...), types.Wildcard)
	}
	return scope
}

// WriteScope builds the exact-match filter for mutations: no widening.
// A workspace caller mutates only records pinned to its own workspace;
// domain-wide records stay writable by domain-scoped callers alone.
func (c *Context) WriteScope() metadata.Filter {
	scope := metadata.Filter{"domain_id": c.DomainID}
	if c.WorkspaceID != "" {
		scope["workspace_id"] = c.WorkspaceID
	}
	return scope
}

// UserScope builds the filter for user-scoped records: the caller's
// domain and user, no widening.
func (c *Context) UserScope() metadata.Filter {
	return metadata.Filter{
		"domain_id": c.DomainID,
		"user_id":   c.UserID,
	}
}

// CheckResourceGroup verifies the caller may place a record at the
// requested scope level: workspace callers cannot write domain-wide
// records.
func (c *Context) CheckResourceGroup(rg types.ResourceGroup) error {
	if rg == types.ResourceGroupDomain && c.WorkspaceID != "" && !c.hasRole(RoleDomainAdmin) {
		return trace.AccessDenied("domain scoped records require the %v role", RoleDomainAdmin)
	}
	return nil
}

func (c *Context) hasRole(role Role) bool {
	for _, have := range c.Roles {
		if have == role {
			return true
		}
	}
	return false
}
