// Copyright (C) 2025 MolBioHive (opensource@molbiohive.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package logging provides the structured logger shared by every Hive
// Browser component.
//
// Output goes to stderr by default, following CLI conventions. When a
// log directory is configured, entries are additionally written to
// "{service}_{YYYY-MM-DD}.log" in JSON, regardless of the stderr
// format, since the file is meant for machine processing.
//
// # Basic Usage
//
//	lg, err := logging.New(logging.Config{Level: "info", Service: "hive"})
//	if err != nil { ... }
//	defer lg.Close()
//	lg.Info("scan finished", "indexed", 12)
//
// This package does not redact anything. Callers must keep tokens and
// other secrets out of log attributes.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config controls logger construction. The zero value logs Info and
// above to stderr as text.
type Config struct {
	// Level is the minimum severity: debug, info, warn, or error.
	// Unknown values fall back to info.
	Level string

	// Dir enables file logging when non-empty. The directory is
	// created if needed; "~" expands to the home directory.
	Dir string

	// Service is stamped on every entry and names the log file.
	Service string

	// JSON switches stderr output to JSON. File output is always JSON.
	JSON bool

	// Quiet drops stderr output entirely; useful for daemons whose
	// stderr nobody watches. File logging is unaffected.
	Quiet bool
}

// Logger is a slog.Logger that may own an open log file.
type Logger struct {
	*slog.Logger
	file *os.File
}

// New builds the logger. The returned error is non-nil only when file
// logging was requested and the file could not be opened.
func New(cfg Config) (*Logger, error) {
	level := parseLevel(cfg.Level)
	opts := &slog.HandlerOptions{Level: level}

	var handlers []slog.Handler
	if !cfg.Quiet {
		if cfg.JSON {
			handlers = append(handlers, slog.NewJSONHandler(os.Stderr, opts))
		} else {
			handlers = append(handlers, slog.NewTextHandler(os.Stderr, opts))
		}
	}

	var file *os.File
	if cfg.Dir != "" {
		dir := expandHome(cfg.Dir)
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("creating log directory: %w", err)
		}
		service := cfg.Service
		if service == "" {
			service = "hive"
		}
		name := fmt.Sprintf("%s_%s.log", service, time.Now().Format("2006-01-02"))
		f, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
		if err != nil {
			return nil, fmt.Errorf("opening log file: %w", err)
		}
		file = f
		handlers = append(handlers, slog.NewJSONHandler(f, opts))
	}

	var handler slog.Handler
	switch len(handlers) {
	case 0:
		handler = slog.NewTextHandler(io.Discard, opts)
	case 1:
		handler = handlers[0]
	default:
		handler = fanout(handlers)
	}

	lg := slog.New(handler)
	if cfg.Service != "" {
		lg = lg.With("service", cfg.Service)
	}
	return &Logger{Logger: lg, file: file}, nil
}

// Close flushes and closes the log file, if any.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}

// fanout duplicates records to every handler. Errors from individual
// handlers are joined so one failing sink never silences the others.
type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, rec slog.Record) error {
	var firstErr error
	for _, h := range f {
		if !h.Enabled(ctx, rec.Level) {
			continue
		}
		if err := h.Handle(ctx, rec.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanout) WithGroup(name string) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}
