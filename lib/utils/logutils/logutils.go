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

// Package logutils configures slog for the process. Every logger in the
// program is derived from the one built here, so field masking applies
// to all output uniformly.
package logutils

import (
	"context"
	"io"
	"log/slog"
	"os"
	"slices"
)

// Config are the parameters for [NewLogger].
type Config struct {
	// Level is one of debug, info, warn, error.
	Level string
	// MaskedFields are attribute keys whose values are replaced before
	// the record is emitted.
	MaskedFields []string
	// Output defaults to stderr.
	Output io.Writer
}

// Masked is what a redacted attribute value is replaced with.
const Masked = "[MASKED]"

// NewLogger builds the process root logger.
func NewLogger(cfg Config) *slog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	handler := slog.Handler(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level}))
	if len(cfg.MaskedFields) != 0 {
		handler = NewMaskingHandler(handler, cfg.MaskedFields)
	}
	return slog.New(handler)
}

// MaskingHandler replaces the values of configured attribute keys with
// [Masked] before delegating to the wrapped handler. Masking applies to
// attributes at any group depth.
type MaskingHandler struct {
	inner  slog.Handler
	fields []string
}

// NewMaskingHandler wraps inner with field masking.
func NewMaskingHandler(inner slog.Handler, fields []string) *MaskingHandler {
	return &MaskingHandler{inner: inner, fields: slices.Clone(fields)}
}

// Enabled implements slog.Handler.
func (h *MaskingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle implements slog.Handler.
func (h *MaskingHandler) Handle(ctx context.Context, record slog.Record) error {
	masked := slog.NewRecord(record.Time, record.Level, record.Message, record.PC)
	record.Attrs(func(a slog.Attr) bool {
		masked.AddAttrs(h.maskAttr(a))
		return true
	})
	return h.inner.Handle(ctx, masked)
}

// WithAttrs implements slog.Handler.
func (h *MaskingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make([]slog.Attr, 0, len(attrs))
	for _, a := range attrs {
		out = append(out, h.maskAttr(a))
	}
	return &MaskingHandler{inner: h.inner.WithAttrs(out), fields: h.fields}
}

// WithGroup implements slog.Handler.
func (h *MaskingHandler) WithGroup(name string) slog.Handler {
	return &MaskingHandler{inner: h.inner.WithGroup(name), fields: h.fields}
}

func (h *MaskingHandler) maskAttr(a slog.Attr) slog.Attr {
	if a.Value.Kind() == slog.KindGroup {
		group := a.Value.Group()
		out := make([]slog.Attr, 0, len(group))
		for _, g := range group {
			out = append(out, h.maskAttr(g))
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(out...)}
	}
	if slices.Contains(h.fields, a.Key) {
		return slog.String(a.Key, Masked)
	}
	return a
}
