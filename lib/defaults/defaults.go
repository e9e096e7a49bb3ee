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

// Package defaults holds process-wide default values.
package defaults

import "time"

const (
	// BackendType is the payload store used when the configuration does
	// not name one.
	BackendType = "aws-secretsmanager"

	// EncryptType is the KMS family used when the configuration does
	// not name one.
	EncryptType = "AWS_KMS"

	// ConfigFilePath is where the daemon looks for its YAML
	// configuration unless told otherwise.
	ConfigFilePath = "/etc/stronghold/stronghold.yaml"

	// DiagAddr serves health and metrics endpoints.
	DiagAddr = "127.0.0.1:3100"

	// DatabaseName is the metadata database used when the connection
	// string does not carry one.
	DatabaseName = "stronghold"

	// DialTimeout bounds the initial connection to any upstream
	// (database, payload store, KMS, identity).
	DialTimeout = 10 * time.Second

	// RollbackTimeout is the detached budget compensating actions run
	// under after the request context is gone.
	RollbackTimeout = 10 * time.Second

	// ListLimit caps a single query page.
	ListLimit = 1000
)

// MaskedFields are always redacted from log output in addition to any
// fields listed in the configuration.
var MaskedFields = []string{"data", "encrypt_data_key", "trusted_encrypted_data_key"}
