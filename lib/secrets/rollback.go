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

package secrets

import (
	"context"
	"log/slog"

	"github.com/stronghold-sec/stronghold/lib/defaults"
	"github.com/stronghold-sec/stronghold/lib/observability/metrics"
)

// RollbackStack collects compensating actions during a multi-step
// write. On failure the registered actions run in reverse order; a
// successful workflow commits and discards them. The stack is
// per-request and not safe for concurrent use.
type RollbackStack struct {
	logger  *slog.Logger
	actions []rollbackAction
}

type rollbackAction struct {
	name string
	fn   func(context.Context) error
}

// NewRollbackStack returns an empty stack logging failures to logger.
func NewRollbackStack(logger *slog.Logger) *RollbackStack {
	return &RollbackStack{logger: logger}
}

// Add registers a compensating action under a short description used
// in failure logs.
func (s *RollbackStack) Add(name string, fn func(context.Context) error) {
	s.actions = append(s.actions, rollbackAction{name: name, fn: fn})
}

// Commit discards the registered actions. Call on workflow success.
func (s *RollbackStack) Commit() {
	s.actions = nil
}

// Run executes the remaining actions in reverse registration order.
// It runs under its own detached timeout so cancellation of the failed
// request does not stop invariants from being restored. Failures are
// logged and swallowed; the caller's original error is what surfaces.
func (s *RollbackStack) Run() {
	if len(s.actions) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), defaults.RollbackTimeout)
	defer cancel()
	for i := len(s.actions) - 1; i >= 0; i-- {
		action := s.actions[i]
		if err := action.fn(ctx); err != nil {
			metrics.Rollbacks.WithLabelValues("failure").Inc()
			s.logger.WarnContext(ctx, "Rollback action failed.",
				"action", action.name, "error", err)
			continue
		}
		metrics.Rollbacks.WithLabelValues("success").Inc()
	}
	s.actions = nil
}
