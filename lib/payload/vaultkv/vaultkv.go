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

// Package vaultkv stores payloads in a HashiCorp Vault KV v2 mount,
// addressed by path. Intended for development environments.
package vaultkv

import (
	"context"
	"errors"
	"net/http"

	"github.com/gravitational/trace"
	vaultapi "github.com/hashicorp/vault/api"

	"github.com/stronghold-sec/stronghold/lib/payload"
)

// BackendName is what the configuration selects this store by.
const BackendName = "vault"

const (
	paramURL   = "url"
	paramToken = "token"
	paramMount = "mount"

	defaultMount = "secret"
)

func init() {
	payload.Register(BackendName, New)
}

// Store implements [payload.Store] over Vault KV v2.
type Store struct {
	client *vaultapi.Client
	mount  string
}

// New builds the store from its connector parameters.
func New(ctx context.Context, cfg payload.Config) (payload.Store, error) {
	url := cfg.Params.GetString(paramURL)
	token := cfg.Params.GetString(paramToken)
	if url == "" || token == "" {
		return nil, trace.BadParameter("vault connector requires %q and %q", paramURL, paramToken)
	}
	mount := cfg.Params.GetString(paramMount)
	if mount == "" {
		mount = defaultMount
	}
	vcfg := vaultapi.DefaultConfig()
	vcfg.Address = url
	client, err := vaultapi.NewClient(vcfg)
	if err != nil {
		return nil, trace.ConnectionProblem(err, "connecting to vault")
	}
	client.SetToken(token)
	return &Store{client: client, mount: mount}, nil
}

// Put implements [payload.Store]. KV v2 versions entries, so an
// existing path gains a new version rather than failing.
func (s *Store) Put(ctx context.Context, id string, data []byte) error {
	_, err := s.client.KVv2(s.mount).Put(ctx, id, map[string]any{
		"value": string(data),
	})
	if err != nil {
		return trace.ConnectionProblem(err, "vault is unavailable")
	}
	return nil
}

// Get implements [payload.Store].
func (s *Store) Get(ctx context.Context, id string) ([]byte, error) {
	secret, err := s.client.KVv2(s.mount).Get(ctx, id)
	if err != nil {
		if isVaultNotFound(err) {
			return nil, trace.NotFound("payload %q not found", id)
		}
		return nil, trace.ConnectionProblem(err, "vault is unavailable")
	}
	if secret == nil || secret.Data == nil {
		return nil, trace.NotFound("payload %q not found", id)
	}
	value, ok := secret.Data["value"].(string)
	if !ok {
		return nil, trace.BadParameter("payload %q has an unexpected shape", id)
	}
	return []byte(value), nil
}

// Update implements [payload.Store].
func (s *Store) Update(ctx context.Context, id string, data []byte) error {
	if _, err := s.Get(ctx, id); err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(s.Put(ctx, id, data))
}

// Delete implements [payload.Store]. All versions and the metadata of
// the path are destroyed.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.client.KVv2(s.mount).DeleteMetadata(ctx, id); err != nil {
		if isVaultNotFound(err) {
			return nil
		}
		return trace.ConnectionProblem(err, "vault is unavailable")
	}
	return nil
}

// Close implements [payload.Store].
func (s *Store) Close() error { return nil }

func isVaultNotFound(err error) bool {
	if errors.Is(err, vaultapi.ErrSecretNotFound) {
		return true
	}
	var respErr *vaultapi.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound
}
