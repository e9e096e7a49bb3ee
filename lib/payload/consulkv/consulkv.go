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

// Package consulkv stores payloads in the Consul KV store.
//
// For compatibility with entries written by earlier deployments, the
// stored document wraps the payload in a {"Name", "SecretString"}
// envelope. The envelope is strictly local to this adapter and never
// leaks past it.
package consulkv

import (
	"context"
	"encoding/json"

	"github.com/gravitational/trace"
	"github.com/hashicorp/consul/api"

	"github.com/stronghold-sec/stronghold/lib/payload"
)

// BackendName is what the configuration selects this store by.
const BackendName = "consul"

const (
	paramAddress    = "address"
	paramScheme     = "scheme"
	paramToken      = "token"
	paramDatacenter = "datacenter"
	paramPrefix     = "prefix"

	defaultPrefix = "stronghold/secrets/"
)

func init() {
	payload.Register(BackendName, New)
}

// document is the legacy on-store envelope.
type document struct {
	Name         string `json:"Name"`
	SecretString string `json:"SecretString"`
}

// Store implements [payload.Store] over Consul KV.
type Store struct {
	kv     *api.KV
	prefix string
}

// New builds the store from its connector parameters.
func New(ctx context.Context, cfg payload.Config) (payload.Store, error) {
	address := cfg.Params.GetString(paramAddress)
	if address == "" {
		return nil, trace.BadParameter("consul connector requires %q", paramAddress)
	}
	prefix := cfg.Params.GetString(paramPrefix)
	if prefix == "" {
		prefix = defaultPrefix
	}
	client, err := api.NewClient(&api.Config{
		Address:    address,
		Scheme:     cfg.Params.GetString(paramScheme),
		Token:      cfg.Params.GetString(paramToken),
		Datacenter: cfg.Params.GetString(paramDatacenter),
	})
	if err != nil {
		return nil, trace.ConnectionProblem(err, "connecting to consul")
	}
	return &Store{kv: client.KV(), prefix: prefix}, nil
}

// Put implements [payload.Store]. Existing entries are overwritten.
func (s *Store) Put(ctx context.Context, id string, data []byte) error {
	doc, err := encodeDocument(id, data)
	if err != nil {
		return trace.Wrap(err)
	}
	_, err = s.kv.Put(&api.KVPair{Key: s.key(id), Value: doc}, (&api.WriteOptions{}).WithContext(ctx))
	if err != nil {
		return trace.ConnectionProblem(err, "consul is unavailable")
	}
	return nil
}

// Get implements [payload.Store].
func (s *Store) Get(ctx context.Context, id string) ([]byte, error) {
	pair, _, err := s.kv.Get(s.key(id), (&api.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return nil, trace.ConnectionProblem(err, "consul is unavailable")
	}
	if pair == nil {
		return nil, trace.NotFound("payload %q not found", id)
	}
	data, err := decodeDocument(pair.Value)
	return data, trace.Wrap(err)
}

// Update implements [payload.Store]. Matching the semantics of the
// original deployments, the entry is removed and rewritten.
func (s *Store) Update(ctx context.Context, id string, data []byte) error {
	if _, err := s.Get(ctx, id); err != nil {
		return trace.Wrap(err)
	}
	if err := s.Delete(ctx, id); err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(s.Put(ctx, id, data))
}

// Delete implements [payload.Store]. Deleting a missing key is not an
// error.
func (s *Store) Delete(ctx context.Context, id string) error {
	_, err := s.kv.Delete(s.key(id), (&api.WriteOptions{}).WithContext(ctx))
	if err != nil {
		return trace.ConnectionProblem(err, "consul is unavailable")
	}
	return nil
}

// Close implements [payload.Store].
func (s *Store) Close() error { return nil }

func (s *Store) key(id string) string {
	return s.prefix + id
}

func encodeDocument(id string, data []byte) ([]byte, error) {
	doc, err := json.Marshal(document{Name: id, SecretString: string(data)})
	return doc, trace.Wrap(err)
}

func decodeDocument(raw []byte) ([]byte, error) {
	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, trace.BadParameter("malformed payload document: %v", err)
	}
	if doc.SecretString == "" {
		return nil, trace.BadParameter("payload document is missing its value")
	}
	return []byte(doc.SecretString), nil
}
