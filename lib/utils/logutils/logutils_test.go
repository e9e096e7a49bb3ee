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

package logutils

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMaskingHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(Config{
		Level:        "debug",
		MaskedFields: []string{"data", "encrypt_data_key"},
		Output:       &buf,
	})

	logger.Info("Stored payload.",
		"secret_id", "secret-1",
		"data", `{"password":"hunter2"}`,
		"encrypt_data_key", "AQIDBA==")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	require.Equal(t, "secret-1", record["secret_id"])
	require.Equal(t, Masked, record["data"])
	require.Equal(t, Masked, record["encrypt_data_key"])
	require.NotContains(t, buf.String(), "hunter2")
}

func TestMaskingHandlerGroups(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(Config{
		Level:        "debug",
		MaskedFields: []string{"data"},
		Output:       &buf,
	})

	logger.With("request", "req-1").WithGroup("payload").Info("Wrote secret.", "data", "s3cret", "size", 7)

	require.NotContains(t, buf.String(), "s3cret")
	require.Contains(t, buf.String(), Masked)
	require.Contains(t, buf.String(), "req-1")
}

func TestLoggerLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(Config{Level: "warn", Output: &buf})

	logger.Info("hidden")
	require.Empty(t, buf.String())

	logger.Warn("visible")
	require.Contains(t, buf.String(), "visible")
}
