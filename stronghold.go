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

// Package stronghold contains identifiers shared across the whole
// program, mostly component names used to tag log lines and metrics.
package stronghold

const (
	// ComponentKey is the slog attribute key holding the component name.
	ComponentKey = "component"

	// ComponentDaemon is the main process wiring everything together.
	ComponentDaemon = "strongholdd"

	// ComponentSecrets is the secret lifecycle service layer.
	ComponentSecrets = "secrets"

	// ComponentKMS is the key management service adapter.
	ComponentKMS = "kms"

	// ComponentPayload is the backend payload store layer.
	ComponentPayload = "payload"

	// ComponentMetadata is the metadata record store.
	ComponentMetadata = "metadata"

	// ComponentIdentity is the identity service client.
	ComponentIdentity = "identity"

	// ComponentRollback tags compensating actions run after a failed
	// multi-step workflow.
	ComponentRollback = "rollback"
)

// Version is the semantic version of the build, overridden by the
// release pipeline with -ldflags.
var Version = "0.0.0-dev"
