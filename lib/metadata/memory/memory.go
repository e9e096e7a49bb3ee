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

// Package memory implements the metadata record stores in process
// memory, for tests and local development. Name uniqueness per domain
// matches the database implementation.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gravitational/trace"

	"github.com/stronghold-sec/stronghold/api/types"
	"github.com/stronghold-sec/stronghold/lib/defaults"
	"github.com/stronghold-sec/stronghold/lib/metadata"
)

// New returns fresh, empty record stores.
func New() metadata.Stores {
	return metadata.Stores{
		Secrets: &Store[types.Secret]{
			records: make(map[string]*types.Secret),
			id:      func(s *types.Secret) string { return s.SecretID },
			created: func(s *types.Secret) time.Time { return s.CreatedAt },
			clone:   (*types.Secret).Clone,
			field:   secretField,
			apply:   applySecretPatch,
			keywordFields: []string{
				"secret_id", "name", "schema_id", "provider",
			},
		},
		TrustedSecrets: &Store[types.TrustedSecret]{
			records: make(map[string]*types.TrustedSecret),
			id:      func(t *types.TrustedSecret) string { return t.TrustedSecretID },
			created: func(t *types.TrustedSecret) time.Time { return t.CreatedAt },
			clone:   (*types.TrustedSecret).Clone,
			field:   trustedSecretField,
			apply:   applyTrustedSecretPatch,
			keywordFields: []string{
				"trusted_secret_id", "name", "schema_id", "provider",
			},
		},
		UserSecrets: &Store[types.UserSecret]{
			records: make(map[string]*types.UserSecret),
			id:      func(u *types.UserSecret) string { return u.UserSecretID },
			created: func(u *types.UserSecret) time.Time { return u.CreatedAt },
			clone:   (*types.UserSecret).Clone,
			field:   userSecretField,
			apply:   applyUserSecretPatch,
			keywordFields: []string{
				"user_secret_id", "name", "schema_id", "provider",
			},
		},
	}
}

// Store is the generic in-memory record store for one record kind.
type Store[T any] struct {
	mu      sync.Mutex
	records map[string]*T

	id            func(*T) string
	created       func(*T) time.Time
	clone         func(*T) *T
	field         func(*T, string) (string, bool)
	apply         func(*T, metadata.Patch)
	keywordFields []string
}

// Create persists a new record and fails with an already exists error
// when the (domain_id, name) pair is taken.
func (s *Store[T]) Create(ctx context.Context, record *T) (*T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.id(record)
	if _, ok := s.records[id]; ok {
		return nil, trace.AlreadyExists("record %q already exists", id)
	}
	name, _ := s.field(record, "name")
	domain, _ := s.field(record, "domain_id")
	for _, existing := range s.records {
		n, _ := s.field(existing, "name")
		d, _ := s.field(existing, "domain_id")
		if n == name && d == domain {
			return nil, trace.AlreadyExists("a record with the same name already exists in the domain")
		}
	}
	s.records[id] = s.clone(record)
	return record, nil
}

// Get returns the record with the given id matching scope.
func (s *Store[T]) Get(ctx context.Context, id string, scope metadata.Filter) (*T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[id]
	if !ok || !s.matches(record, scope, "") {
		return nil, trace.NotFound("record %q not found", id)
	}
	return s.clone(record), nil
}

// Update applies the patch to the record matching id and scope.
func (s *Store[T]) Update(ctx context.Context, id string, scope metadata.Filter, patch metadata.Patch) (*T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[id]
	if !ok || !s.matches(record, scope, "") {
		return nil, trace.NotFound("record %q not found", id)
	}
	s.apply(record, patch)
	return s.clone(record), nil
}

// Delete removes the record matching id and scope.
func (s *Store[T]) Delete(ctx context.Context, id string, scope metadata.Filter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[id]
	if !ok || !s.matches(record, scope, "") {
		return trace.NotFound("record %q not found", id)
	}
	delete(s.records, id)
	return nil
}

// Query lists matching records with the total count before pagination.
func (s *Store[T]) Query(ctx context.Context, q metadata.Query) ([]*T, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []*T
	for _, record := range s.records {
		if s.matches(record, q.Filter, q.Keyword) {
			matched = append(matched, record)
		}
	}
	s.sortRecords(matched, q.Sort)
	total := int64(len(matched))

	start := q.Page.Start
	if start > len(matched) {
		start = len(matched)
	}
	limit := q.Page.Limit
	if limit <= 0 {
		limit = defaults.ListLimit
	}
	end := start + limit
	if end > len(matched) {
		end = len(matched)
	}
	out := make([]*T, 0, end-start)
	for _, record := range matched[start:end] {
		out = append(out, s.clone(record))
	}
	return out, total, nil
}

// Stat counts matching records, optionally collecting distinct values.
func (s *Store[T]) Stat(ctx context.Context, q metadata.StatQuery) (*metadata.StatResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if q.Distinct != "" {
		seen := make(map[string]bool)
		var values []any
		for _, record := range s.records {
			if !s.matches(record, q.Filter, "") {
				continue
			}
			value, ok := s.field(record, q.Distinct)
			if !ok || seen[value] {
				continue
			}
			seen[value] = true
			values = append(values, value)
		}
		return &metadata.StatResult{TotalCount: int64(len(values)), Values: values}, nil
	}
	var total int64
	for _, record := range s.records {
		if s.matches(record, q.Filter, "") {
			total++
		}
	}
	return &metadata.StatResult{TotalCount: total}, nil
}

func (s *Store[T]) matches(record *T, filter metadata.Filter, keyword string) bool {
	for key, want := range filter {
		got, ok := s.field(record, key)
		if !ok {
			return false
		}
		switch w := want.(type) {
		case []string:
			found := false
			for _, candidate := range w {
				if got == candidate {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		case string:
			if got != w {
				return false
			}
		default:
			return false
		}
	}
	if keyword != "" {
		needle := strings.ToLower(keyword)
		found := false
		for _, field := range s.keywordFields {
			if value, ok := s.field(record, field); ok &&
				strings.Contains(strings.ToLower(value), needle) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (s *Store[T]) sortRecords(records []*T, sorts []metadata.Sort) {
	if len(sorts) == 0 {
		sort.SliceStable(records, func(i, j int) bool {
			return s.created(records[i]).After(s.created(records[j]))
		})
		return
	}
	spec := sorts[0]
	sort.SliceStable(records, func(i, j int) bool {
		a, _ := s.field(records[i], spec.Key)
		b, _ := s.field(records[j], spec.Key)
		if spec.Desc {
			return a > b
		}
		return a < b
	})
}

func secretField(s *types.Secret, key string) (string, bool) {
	switch key {
	case "secret_id":
		return s.SecretID, true
	case "name":
		return s.Name, true
	case "schema_id":
		return s.SchemaID, true
	case "provider":
		return s.Provider, true
	case "trusted_secret_id":
		return s.TrustedSecretID, true
	case "service_account_id":
		return s.ServiceAccountID, true
	case "resource_group":
		return string(s.ResourceGroup), true
	case "project_id":
		return s.ProjectID, true
	case "workspace_id":
		return s.WorkspaceID, true
	case "domain_id":
		return s.DomainID, true
	}
	return "", false
}

func trustedSecretField(t *types.TrustedSecret, key string) (string, bool) {
	switch key {
	case "trusted_secret_id":
		return t.TrustedSecretID, true
	case "name":
		return t.Name, true
	case "schema_id":
		return t.SchemaID, true
	case "provider":
		return t.Provider, true
	case "trusted_account_id":
		return t.TrustedAccountID, true
	case "resource_group":
		return string(t.ResourceGroup), true
	case "workspace_id":
		return t.WorkspaceID, true
	case "domain_id":
		return t.DomainID, true
	}
	return "", false
}

func userSecretField(u *types.UserSecret, key string) (string, bool) {
	switch key {
	case "user_secret_id":
		return u.UserSecretID, true
	case "name":
		return u.Name, true
	case "schema_id":
		return u.SchemaID, true
	case "provider":
		return u.Provider, true
	case "user_id":
		return u.UserID, true
	case "domain_id":
		return u.DomainID, true
	}
	return "", false
}

func applySecretPatch(s *types.Secret, patch metadata.Patch) {
	if patch.Name != nil {
		s.Name = *patch.Name
	}
	if patch.Tags != nil {
		s.Tags = patch.Tags
	}
	if patch.SchemaID != nil {
		s.SchemaID = *patch.SchemaID
	}
	if patch.Encrypted != nil {
		s.Encrypted = *patch.Encrypted
	}
	if patch.EncryptOptions != nil {
		s.EncryptOptions = patch.EncryptOptions.Clone()
	}
	if patch.ProjectID != nil {
		s.ProjectID = *patch.ProjectID
	}
}

func applyTrustedSecretPatch(t *types.TrustedSecret, patch metadata.Patch) {
	if patch.Name != nil {
		t.Name = *patch.Name
	}
	if patch.Tags != nil {
		t.Tags = patch.Tags
	}
	if patch.SchemaID != nil {
		t.SchemaID = *patch.SchemaID
	}
	if patch.Encrypted != nil {
		t.Encrypted = *patch.Encrypted
	}
	if patch.EncryptOptions != nil {
		t.EncryptOptions = patch.EncryptOptions.Clone()
	}
}

func applyUserSecretPatch(u *types.UserSecret, patch metadata.Patch) {
	if patch.Name != nil {
		u.Name = *patch.Name
	}
	if patch.Tags != nil {
		u.Tags = patch.Tags
	}
	if patch.SchemaID != nil {
		u.SchemaID = *patch.SchemaID
	}
	if patch.Encrypted != nil {
		u.Encrypted = *patch.Encrypted
	}
	if patch.EncryptOptions != nil {
		u.EncryptOptions = patch.EncryptOptions.Clone()
	}
}
