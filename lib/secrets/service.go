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

// Package secrets implements the secret lifecycle services: Secret,
// TrustedSecret and UserSecret. Each write crosses two systems of
// record, the metadata store and the backend payload store, and uses a
// write-ahead-rollback discipline to keep them consistent under partial
// failure. Creates persist metadata before payload; deletes remove
// payload before metadata, so a metadata record without a payload is
// always the detectable orphan.
package secrets

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/stronghold-sec/stronghold"
	"github.com/stronghold-sec/stronghold/api/types"
	"github.com/stronghold-sec/stronghold/lib/defaults"
	"github.com/stronghold-sec/stronghold/lib/envelope"
	"github.com/stronghold-sec/stronghold/lib/identity"
	"github.com/stronghold-sec/stronghold/lib/kms"
	"github.com/stronghold-sec/stronghold/lib/metadata"
	"github.com/stronghold-sec/stronghold/lib/payload"
)

// Config holds the dependencies shared by the lifecycle services.
type Config struct {
	// Stores are the metadata record stores.
	Stores metadata.Stores
	// Payload is the configured backend payload store.
	Payload payload.Store
	// Identity resolves service accounts, projects and workspaces.
	Identity identity.Client
	// Keys wraps and unwraps data keys. Required when Encrypt is set.
	Keys kms.KeyManager
	// Encrypt enables envelope encryption for newly written payloads.
	Encrypt bool
	// EncryptType names the KMS provider recorded in encrypt options.
	EncryptType string
	// Clock supplies creation timestamps.
	Clock clockwork.Clock
	// Logger emits workflow and rollback logs.
	Logger *slog.Logger
}

// CheckAndSetDefaults validates the configuration.
func (c *Config) CheckAndSetDefaults() error {
	if c.Stores.Secrets == nil || c.Stores.TrustedSecrets == nil || c.Stores.UserSecrets == nil {
		return trace.BadParameter("missing metadata stores")
	}
	if c.Payload == nil {
		return trace.BadParameter("missing payload store")
	}
	if c.Identity == nil {
		return trace.BadParameter("missing identity client")
	}
	if c.Encrypt && c.Keys == nil {
		return trace.BadParameter("encryption is enabled but no key manager is configured")
	}
	if c.EncryptType == "" {
		c.EncryptType = defaults.EncryptType
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Logger == nil {
		c.Logger = slog.Default().With(stronghold.ComponentKey, stronghold.ComponentSecrets)
	}
	return nil
}

// sealAlgorithm is the AEAD algorithm seal records on encrypted
// payloads. Trusted linkage parity compares parents against it, so the
// check tracks whatever new children actually record.
const sealAlgorithm = types.EncryptAlgorithmAES256GCM

// payloadDocument is the backend-store shape of an encrypted payload.
// Plaintext payloads are stored as the JSON encoding of the data map
// itself.
type payloadDocument struct {
	EncryptedData string `json:"encrypted_data"`
}

// seal produces the backend payload bytes and, when encryption is on,
// the encrypt options to persist on the metadata record.
func (c *Config) seal(ctx context.Context, data map[string]any, encCtx envelope.Context) ([]byte, *types.EncryptOptions, error) {
	if !c.Encrypt {
		raw, err := json.Marshal(data)
		return raw, nil, trace.Wrap(err)
	}
	bundle, wrappedKey, err := envelope.Encrypt(ctx, c.Keys, data, encCtx)
	if err != nil {
		return nil, nil, trace.Wrap(err)
	}
	raw, err := json.Marshal(payloadDocument{EncryptedData: bundle.EncryptData})
	if err != nil {
		return nil, nil, trace.Wrap(err)
	}
	opts := &types.EncryptOptions{
		EncryptType:      c.EncryptType,
		EncryptAlgorithm: sealAlgorithm,
		Nonce:            bundle.Nonce,
		EncryptContext:   encCtx.Encode(),
		EncryptDataKey:   wrappedKey,
	}
	return raw, opts, nil
}

// open turns backend payload bytes back into the wire response shape.
func open(raw []byte, encrypted bool, opts *types.EncryptOptions) (*types.SecretData, error) {
	if !encrypted {
		var data map[string]any
		if err := json.Unmarshal(raw, &data); err != nil {
			return nil, trace.BadParameter("malformed payload: %v", err)
		}
		return &types.SecretData{Data: data}, nil
	}
	var doc payloadDocument
	if err := json.Unmarshal(raw, &doc); err != nil || doc.EncryptedData == "" {
		return nil, trace.BadParameter("malformed encrypted payload")
	}
	return &types.SecretData{
		Encrypted:      true,
		EncryptOptions: opts.Clone(),
		EncryptedData:  doc.EncryptedData,
	}, nil
}
