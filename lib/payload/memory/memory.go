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

// Package memory is an in-process payload store used in tests and local
// development. It also supports injecting failures per operation to
// exercise rollback paths.
package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/gravitational/trace"

	"github.com/stronghold-sec/stronghold/lib/payload"
)

// BackendName is what the configuration selects this store by.
const BackendName = "memory"

func init() {
	payload.Register(BackendName, func(ctx context.Context, cfg payload.Config) (payload.Store, error) {
		return New(), nil
	})
}

// Store implements [payload.Store] with a mutex-guarded map.
type Store struct {
	mu      sync.Mutex
	entries map[string][]byte

	// FailPut, FailGet, FailUpdate and FailDelete, when set, are
	// returned by the matching operation before it touches the map.
	FailPut    error
	FailGet    error
	FailUpdate error
	FailDelete error
}

// New returns an empty store.
func New() *Store {
	return &Store{entries: make(map[string][]byte)}
}

// Put implements [payload.Store]. It fails with an already exists error
// when the id is taken.
func (s *Store) Put(ctx context.Context, id string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailPut != nil {
		return trace.Wrap(s.FailPut)
	}
	if _, ok := s.entries[id]; ok {
		return trace.AlreadyExists("payload %q already exists", id)
	}
	s.entries[id] = slices.Clone(data)
	return nil
}

// Get implements [payload.Store].
func (s *Store) Get(ctx context.Context, id string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailGet != nil {
		return nil, trace.Wrap(s.FailGet)
	}
	data, ok := s.entries[id]
	if !ok {
		return nil, trace.NotFound("payload %q not found", id)
	}
	return slices.Clone(data), nil
}

// Update implements [payload.Store].
func (s *Store) Update(ctx context.Context, id string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailUpdate != nil {
		return trace.Wrap(s.FailUpdate)
	}
	if _, ok := s.entries[id]; !ok {
		return trace.NotFound("payload %q not found", id)
	}
	s.entries[id] = slices.Clone(data)
	return nil
}

// Delete implements [payload.Store]. Deleting a missing entry is not an
// error.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailDelete != nil {
		return trace.Wrap(s.FailDelete)
	}
	delete(s.entries, id)
	return nil
}

// Close implements [payload.Store].
func (s *Store) Close() error { return nil }

// Len reports the number of stored payloads. Test helper.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
