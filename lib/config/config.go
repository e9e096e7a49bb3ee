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

// Package config loads the daemon YAML configuration. The configuration
// is read once at startup, validated, and passed into components as an
// immutable value; nothing mutates it afterwards.
package config

import (
	"bytes"
	"io"
	"os"

	"github.com/gravitational/trace"
	"gopkg.in/yaml.v3"

	"github.com/stronghold-sec/stronghold/lib/defaults"
)

// Params is a free-form property bag handed to connector constructors.
// Each adapter documents the keys it understands.
type Params map[string]any

// GetString returns the string stored under key, or empty.
func (p Params) GetString(key string) string {
	s, _ := p[key].(string)
	return s
}

// GetBool returns the bool stored under key, or false.
func (p Params) GetBool(key string) bool {
	b, _ := p[key].(bool)
	return b
}

// GetInt returns the int stored under key, or def.
func (p Params) GetInt(key string, def int) int {
	switch v := p[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

// GetStringSlice returns the string list stored under key, or nil.
func (p Params) GetStringSlice(key string) []string {
	raw, ok := p[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// DatabaseConfig is one entry of the databases section.
type DatabaseConfig struct {
	// URI is the connection string of the metadata database.
	URI string `yaml:"uri"`
	// Database overrides the database name from the URI.
	Database string `yaml:"database,omitempty"`
}

// MaskingConfig lists the field names redacted from log output.
type MaskingConfig struct {
	Rules []string `yaml:"rules,omitempty"`
}

// LogFilters holds log post-processing filters.
type LogFilters struct {
	Masking MaskingConfig `yaml:"masking,omitempty"`
}

// LogConfig is the log section.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level,omitempty"`
	// Filters configures output filters, currently only masking.
	Filters LogFilters `yaml:"filters,omitempty"`
}

// IdentityConfig points at the upstream identity service.
type IdentityConfig struct {
	// Endpoint is the gRPC target of the identity service.
	Endpoint string `yaml:"endpoint"`
}

// FileConfig is the full YAML configuration file.
type FileConfig struct {
	// Backend names the payload store adapter.
	Backend string `yaml:"backend,omitempty"`
	// Encrypt toggles envelope encryption globally.
	Encrypt bool `yaml:"encrypt,omitempty"`
	// EncryptType selects the KMS adapter.
	EncryptType string `yaml:"encrypt_type,omitempty"`
	// Token is the system token used for privileged identity calls.
	Token string `yaml:"token,omitempty"`
	// Connectors holds per-adapter settings, keyed by adapter name.
	Connectors map[string]Params `yaml:"connectors,omitempty"`
	// Databases holds metadata store connections; "default" is used.
	Databases map[string]DatabaseConfig `yaml:"databases,omitempty"`
	// Identity points at the identity service.
	Identity IdentityConfig `yaml:"identity,omitempty"`
	// Log configures logging.
	Log LogConfig `yaml:"log,omitempty"`
	// DiagAddr serves health and metrics.
	DiagAddr string `yaml:"diag_addr,omitempty"`
}

// ReadFromFile loads and validates the configuration at path.
func ReadFromFile(path string) (*FileConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, trace.ConvertSystemError(err)
	}
	defer f.Close()
	fc, err := ReadConfig(f)
	return fc, trace.Wrap(err)
}

// ReadConfig parses and validates YAML configuration from r.
func ReadConfig(r io.Reader) (*FileConfig, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, trace.Wrap(err, "reading configuration")
	}
	var fc FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil && err != io.EOF {
		return nil, trace.BadParameter("failed to parse configuration: %v", err)
	}
	if err := fc.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &fc, nil
}

// CheckAndSetDefaults validates the configuration and fills defaults.
func (fc *FileConfig) CheckAndSetDefaults() error {
	if fc.Backend == "" {
		fc.Backend = defaults.BackendType
	}
	if fc.EncryptType == "" {
		fc.EncryptType = defaults.EncryptType
	}
	if fc.DiagAddr == "" {
		fc.DiagAddr = defaults.DiagAddr
	}
	if fc.Log.Level == "" {
		fc.Log.Level = "info"
	}
	switch fc.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return trace.BadParameter("unsupported log level %q", fc.Log.Level)
	}
	return nil
}

// Connector returns the parameter bag of the named connector, which may
// be empty but never nil.
func (fc *FileConfig) Connector(name string) Params {
	if p, ok := fc.Connectors[name]; ok {
		return p
	}
	return Params{}
}

// Database returns the named database connection settings.
func (fc *FileConfig) Database(name string) (DatabaseConfig, error) {
	db, ok := fc.Databases[name]
	if !ok {
		return DatabaseConfig{}, trace.BadParameter("database %q is not configured", name)
	}
	if db.URI == "" {
		return DatabaseConfig{}, trace.BadParameter("database %q is missing uri", name)
	}
	if db.Database == "" {
		db.Database = defaults.DatabaseName
	}
	return db, nil
}

// MaskedFields returns the union of the built-in masked fields and the
// configured masking rules.
func (fc *FileConfig) MaskedFields() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, f := range append(append([]string{}, defaults.MaskedFields...), fc.Log.Filters.Masking.Rules...) {
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}
