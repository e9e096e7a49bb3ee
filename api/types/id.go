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
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

// ID prefixes of the record kinds. The prefixed form is what backend
// stores key payloads by, so the prefixes are part of the persisted
// layout and must not change.
const (
	SecretIDPrefix        = "secret"
	TrustedSecretIDPrefix = "trusted-secret"
	UserSecretIDPrefix    = "user-secret"
)

// GenerateID returns a fresh record identifier of the form
// "<prefix>-<12 hex chars>".
func GenerateID(prefix string) string {
	u := uuid.New()
	return prefix + "-" + hex.EncodeToString(u[:6])
}

// HasIDPrefix reports whether id carries the given prefix.
func HasIDPrefix(id, prefix string) bool {
	return strings.HasPrefix(id, prefix+"-")
}
