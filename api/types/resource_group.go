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

import "github.com/gravitational/trace"

// Wildcard is stored in scope fields of records that live above the
// scope the field names. A DOMAIN secret carries a wildcard workspace
// and project so that scoped reads in the same domain still match it.
const Wildcard = "*"

// ResourceGroup is the scope a record lives at. It decides which scope
// fields are mandatory and which role may touch the record.
type ResourceGroup string

const (
	// ResourceGroupDomain scopes a record to a whole domain.
	ResourceGroupDomain ResourceGroup = "DOMAIN"
	// ResourceGroupWorkspace scopes a record to a single workspace.
	ResourceGroupWorkspace ResourceGroup = "WORKSPACE"
	// ResourceGroupProject scopes a record to a single project.
	ResourceGroupProject ResourceGroup = "PROJECT"
	// ResourceGroupUser scopes a record to a single user, outside the
	// workspace/project hierarchy.
	ResourceGroupUser ResourceGroup = "USER"
)

// Check validates the resource group against the set of groups allowed
// for the record kind at hand.
func (r ResourceGroup) Check(allowed ...ResourceGroup) error {
	for _, a := range allowed {
		if r == a {
			return nil
		}
	}
	return trace.BadParameter("invalid resource_group %q, expected one of %v", r, allowed)
}
