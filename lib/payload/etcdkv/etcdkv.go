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

// Package etcdkv stores payloads in etcd. Put is an upsert; keys live
// under a configurable prefix.
package etcdkv

import (
	"context"

	"github.com/gravitational/trace"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/stronghold-sec/stronghold/lib/defaults"
	"github.com/stronghold-sec/stronghold/lib/payload"
)

// BackendName is what the configuration selects this store by.
const BackendName = "etcd"

const (
	paramEndpoints = "endpoints"
	paramUsername  = "username"
	paramPassword  = "password"
	paramPrefix    = "prefix"

	defaultPrefix = "/stronghold/secrets/"
)

func init() {
	payload.Register(BackendName, New)
}

// Store implements [payload.Store] over etcd v3.
type Store struct {
	client *clientv3.Client
	prefix string
}

// New builds the store from its connector parameters.
func New(ctx context.Context, cfg payload.Config) (payload.Store, error) {
	endpoints := cfg.Params.GetStringSlice(paramEndpoints)
	if len(endpoints) == 0 {
		return nil, trace.BadParameter("etcd connector requires at least one endpoint")
	}
	prefix := cfg.Params.GetString(paramPrefix)
	if prefix == "" {
		prefix = defaultPrefix
	}
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		Username:    cfg.Params.GetString(paramUsername),
		Password:    cfg.Params.GetString(paramPassword),
		DialTimeout: defaults.DialTimeout,
	})
	if err != nil {
		return nil, trace.ConnectionProblem(err, "connecting to etcd")
	}
	return &Store{client: client, prefix: prefix}, nil
}

// Put implements [payload.Store]. Existing entries are overwritten.
func (s *Store) Put(ctx context.Context, id string, data []byte) error {
	_, err := s.client.Put(ctx, s.key(id), string(data))
	return convertError(err)
}

// Get implements [payload.Store].
func (s *Store) Get(ctx context.Context, id string) ([]byte, error) {
	resp, err := s.client.Get(ctx, s.key(id))
	if err != nil {
		return nil, convertError(err)
	}
	if len(resp.Kvs) == 0 {
		return nil, trace.NotFound("payload %q not found", id)
	}
	return resp.Kvs[0].Value, nil
}

// Update implements [payload.Store]. The replace happens in a single
// transaction conditioned on the key existing.
func (s *Store) Update(ctx context.Context, id string, data []byte) error {
	resp, err := s.client.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(s.key(id)), ">", 0)).
		Then(clientv3.OpPut(s.key(id), string(data))).
		Commit()
	if err != nil {
		return convertError(err)
	}
	if !resp.Succeeded {
		return trace.NotFound("payload %q not found", id)
	}
	return nil
}

// Delete implements [payload.Store]. Deleting a missing key is not an
// error.
func (s *Store) Delete(ctx context.Context, id string) error {
	_, err := s.client.Delete(ctx, s.key(id))
	return convertError(err)
}

// Close implements [payload.Store].
func (s *Store) Close() error {
	return trace.Wrap(s.client.Close())
}

func (s *Store) key(id string) string {
	return s.prefix + id
}

func convertError(err error) error {
	if err == nil {
		return nil
	}
	if err == context.DeadlineExceeded || err == context.Canceled {
		return trace.Wrap(err)
	}
	return trace.ConnectionProblem(err, "etcd is unavailable")
}
