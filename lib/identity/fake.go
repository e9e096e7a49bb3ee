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

package identity

import (
	"context"
	"sync"

	"github.com/gravitational/trace"
)

// Fake is an in-memory [Client] for tests.
type Fake struct {
	mu              sync.Mutex
	serviceAccounts map[string]*ServiceAccount
	projects        map[string]*Project
	workspaces      map[string]bool
	trustedAccounts map[string]*TrustedAccount

	// Err, when set, is returned by every lookup.
	Err error
}

// NewFake returns an empty fake.
func NewFake() *Fake {
	return &Fake{
		serviceAccounts: make(map[string]*ServiceAccount),
		projects:        make(map[string]*Project),
		workspaces:      make(map[string]bool),
		trustedAccounts: make(map[string]*TrustedAccount),
	}
}

// AddServiceAccount registers a service account and its project and
// workspace.
func (f *Fake) AddServiceAccount(sa ServiceAccount) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.serviceAccounts[sa.DomainID+"/"+sa.ServiceAccountID] = &sa
}

// AddProject registers a project.
func (f *Fake) AddProject(domainID string, p Project) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.projects[domainID+"/"+p.ProjectID] = &p
}

// AddWorkspace registers a workspace in a domain.
func (f *Fake) AddWorkspace(workspaceID, domainID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.workspaces[domainID+"/"+workspaceID] = true
}

// AddTrustedAccount registers a trusted account.
func (f *Fake) AddTrustedAccount(domainID string, ta TrustedAccount) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trustedAccounts[domainID+"/"+ta.TrustedAccountID] = &ta
}

// GetServiceAccount implements [Client].
func (f *Fake) GetServiceAccount(ctx context.Context, serviceAccountID, domainID string) (*ServiceAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, trace.Wrap(f.Err)
	}
	sa, ok := f.serviceAccounts[domainID+"/"+serviceAccountID]
	if !ok {
		return nil, trace.NotFound("service account %q not found", serviceAccountID)
	}
	out := *sa
	return &out, nil
}

// GetProject implements [Client].
func (f *Fake) GetProject(ctx context.Context, projectID, domainID string) (*Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, trace.Wrap(f.Err)
	}
	p, ok := f.projects[domainID+"/"+projectID]
	if !ok {
		return nil, trace.NotFound("project %q not found", projectID)
	}
	out := *p
	return &out, nil
}

// CheckWorkspace implements [Client].
func (f *Fake) CheckWorkspace(ctx context.Context, workspaceID, domainID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return trace.Wrap(f.Err)
	}
	if !f.workspaces[domainID+"/"+workspaceID] {
		return trace.NotFound("workspace %q not found", workspaceID)
	}
	return nil
}

// GetTrustedAccount implements [Client].
func (f *Fake) GetTrustedAccount(ctx context.Context, trustedAccountID, domainID string) (*TrustedAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, trace.Wrap(f.Err)
	}
	ta, ok := f.trustedAccounts[domainID+"/"+trustedAccountID]
	if !ok {
		return nil, trace.NotFound("trusted account %q not found", trustedAccountID)
	}
	out := *ta
	return &out, nil
}

// Close implements [Client].
func (f *Fake) Close() error { return nil }
