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

// Package payload provides the backend store abstraction holding the
// opaque secret payloads. The metadata record and the payload entry
// share the record identifier as their key.
//
// Implementations register themselves under a backend name; the single
// configured backend is resolved once at startup and used for the
// lifetime of the process. Consistency guarantees are those of the
// underlying store and are passed through, not unified.
package payload

import (
	"context"
	"sync"
	"time"

	"github.com/gravitational/trace"

	"github.com/stronghold-sec/stronghold/lib/config"
	"github.com/stronghold-sec/stronghold/lib/observability/metrics"
)

// Store is the uniform backend-store contract. The payload is opaque
// JSON-serialized bytes from the store's perspective.
type Store interface {
	// Put writes a new payload under id. Whether an existing entry is
	// overwritten or the call fails is defined per adapter.
	Put(ctx context.Context, id string, data []byte) error

	// Get returns the payload stored under id, or a not found error.
	Get(ctx context.Context, id string) ([]byte, error)

	// Update replaces an existing payload and fails with not found if
	// there is none.
	Update(ctx context.Context, id string, data []byte) error

	// Delete removes the payload. Adapters make this idempotent where
	// the underlying store allows it.
	Delete(ctx context.Context, id string) error

	// Close releases the client resources.
	Close() error
}

// Config carries what a store constructor needs.
type Config struct {
	// Params is the connector section of the selected backend.
	Params config.Params
	// DatabaseURI and DatabaseName point at the metadata database, used
	// only by the in-database store.
	DatabaseURI  string
	DatabaseName string
}

// InitFunc builds a Store from its configuration.
type InitFunc func(ctx context.Context, cfg Config) (Store, error)

var (
	backendsMu sync.RWMutex
	backends   = make(map[string]InitFunc)
)

// Register makes a store implementation available to [New] under the
// given backend name. Called from adapter init functions.
func Register(name string, fn InitFunc) {
	backendsMu.Lock()
	defer backendsMu.Unlock()
	if name == "" {
		panic("payload: backend must have a name")
	}
	if _, ok := backends[name]; ok {
		panic("payload: duplicate backend registration: " + name)
	}
	backends[name] = fn
}

// New resolves the configured backend name to a Store. The returned
// store records request metrics under the backend name.
func New(ctx context.Context, name string, cfg Config) (Store, error) {
	if name == "" {
		return nil, trace.BadParameter("backend is not defined")
	}
	backendsMu.RLock()
	fn, ok := backends[name]
	backendsMu.RUnlock()
	if !ok {
		return nil, trace.BadParameter("backend %q is not defined", name)
	}
	store, err := fn(ctx, cfg)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &metricsStore{name: name, inner: store}, nil
}

// metricsStore wraps a Store with per-operation prometheus metrics.
type metricsStore struct {
	name  string
	inner Store
}

func (m *metricsStore) Put(ctx context.Context, id string, data []byte) error {
	start := time.Now()
	err := m.inner.Put(ctx, id, data)
	metrics.ObservePayload(m.name, "put", start, err)
	return trace.Wrap(err)
}

func (m *metricsStore) Get(ctx context.Context, id string) ([]byte, error) {
	start := time.Now()
	data, err := m.inner.Get(ctx, id)
	metrics.ObservePayload(m.name, "get", start, err)
	return data, trace.Wrap(err)
}

func (m *metricsStore) Update(ctx context.Context, id string, data []byte) error {
	start := time.Now()
	err := m.inner.Update(ctx, id, data)
	metrics.ObservePayload(m.name, "update", start, err)
	return trace.Wrap(err)
}

func (m *metricsStore) Delete(ctx context.Context, id string) error {
	start := time.Now()
	err := m.inner.Delete(ctx, id)
	metrics.ObservePayload(m.name, "delete", start, err)
	return trace.Wrap(err)
}

func (m *metricsStore) Close() error {
	return trace.Wrap(m.inner.Close())
}
