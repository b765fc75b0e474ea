// Copyright (C) 2025 MolBioHive (opensource@molbiohive.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package watcher drives ingestion: an initial scan over the watched
// root, then a live fsnotify change stream.
package watcher

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/molbiohive/hive-browser/internal/ingest"
	"github.com/molbiohive/hive-browser/internal/rules"
)

// batchSize is how many files the scan processes between progress logs
// and cancellation checks.
const batchSize = 100

// RebuildFunc is invoked after any batch of (re)indexed files to refresh
// the similarity databases.
type RebuildFunc func(ctx context.Context)

// Watcher owns the scan and live-watch phases.
//
// # Thread Safety
//
// Start and Stop are safe to call from any goroutine. Events are
// processed on a single goroutine, so ingestion of watched files is
// serialized.
type Watcher struct {
	root     string
	engine   *rules.Engine
	pipeline *ingest.Pipeline
	rebuild  RebuildFunc
	log      *slog.Logger
	debounce time.Duration

	fsw      *fsnotify.Watcher
	done     chan struct{}
	stopOnce sync.Once
}

// New builds a watcher over root. rebuild may be nil.
func New(root string, engine *rules.Engine, pipeline *ingest.Pipeline, rebuild RebuildFunc, log *slog.Logger) *Watcher {
	return &Watcher{
		root:     root,
		engine:   engine,
		pipeline: pipeline,
		rebuild:  rebuild,
		log:      log,
		debounce: 250 * time.Millisecond,
		done:     make(chan struct{}),
	}
}

// ScanStats summarizes one scan pass.
type ScanStats struct {
	Scanned   int
	Indexed   int
	Unchanged int
	Errors    int
	Ignored   int
}

// Scan walks the root once, ingesting every file the rule engine says to
// parse. Progress is logged per batch. Cancellation is honoured between
// files; work already committed stays committed.
func (w *Watcher) Scan(ctx context.Context) (*ScanStats, error) {
	stats := &ScanStats{}

	var paths []string
	err := filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if d.Name() != "." && len(d.Name()) > 0 && d.Name()[0] == '.' {
				return filepath.SkipDir
			}
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return stats, err
	}

	for i, path := range paths {
		select {
		case <-ctx.Done():
			w.log.Info("scan cancelled", "scanned", stats.Scanned)
			w.afterIndexing(stats)
			return stats, ctx.Err()
		default:
		}

		w.handleFile(ctx, path, stats)
		stats.Scanned++

		if (i+1)%batchSize == 0 {
			w.log.Info("scan progress", "scanned", stats.Scanned, "total", len(paths),
				"indexed", stats.Indexed, "errors", stats.Errors)
		}
	}

	w.log.Info("scan complete", "scanned", stats.Scanned, "indexed", stats.Indexed,
		"unchanged", stats.Unchanged, "errors", stats.Errors, "ignored", stats.Ignored)
	w.afterIndexing(stats)
	return stats, nil
}

func (w *Watcher) afterIndexing(stats *ScanStats) {
	if stats.Indexed > 0 && w.rebuild != nil {
		w.rebuild(context.Background())
	}
}

func (w *Watcher) handleFile(ctx context.Context, path string, stats *ScanStats) {
	match := w.engine.Match(path)
	switch match.Action {
	case rules.ActionIgnore:
		stats.Ignored++
	case rules.ActionLog:
		msg := match.Message
		if msg == "" {
			msg = "unhandled file"
		}
		w.log.Info(msg, "file", filepath.Base(path))
		stats.Ignored++
	case rules.ActionParse:
		res, err := w.pipeline.Ingest(ctx, path, match, w.root)
		if err != nil {
			w.log.Error("ingest failed", "file", filepath.Base(path), "error", err)
			stats.Errors++
			return
		}
		switch res.Outcome {
		case ingest.OutcomeIndexed:
			stats.Indexed++
		case ingest.OutcomeUnchanged:
			stats.Unchanged++
		case ingest.OutcomeError:
			stats.Errors++
		}
	}
}

// Start subscribes to the live change stream. Events are debounced and
// deduplicated per path, then handled on one goroutine until the context
// is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.fsw = fsw

	if err := w.addRecursive(w.root); err != nil {
		fsw.Close()
		return err
	}

	go w.loop(ctx)
	w.log.Info("watching", "root", w.root)
	return nil
}

// Stop cancels the event subscription.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		if w.fsw != nil {
			w.fsw.Close()
		}
	})
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if name := d.Name(); name != "." && name[0] == '.' {
			return filepath.SkipDir
		}
		return w.fsw.Add(path)
	})
}

func (w *Watcher) loop(ctx context.Context) {
	pending := make(map[string]fsnotify.Op)
	var timer *time.Timer
	var timerC <-chan time.Time

	flush := func() {
		for path, op := range pending {
			w.handleEvent(ctx, path, op)
		}
		clear(pending)
		if timer != nil {
			timer.Stop()
			timer, timerC = nil, nil
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			// New directories join the watch set.
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					w.fsw.Add(event.Name)
					continue
				}
			}
			pending[event.Name] |= event.Op
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}
		case <-timerC:
			flush()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Error("watch error", "error", err)
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, path string, op fsnotify.Op) {
	if op.Has(fsnotify.Remove) || op.Has(fsnotify.Rename) {
		if err := w.pipeline.Remove(ctx, path); err != nil {
			w.log.Error("remove failed", "file", filepath.Base(path), "error", err)
		}
		return
	}
	if !op.Has(fsnotify.Create) && !op.Has(fsnotify.Write) {
		return
	}

	match := w.engine.Match(path)
	if match.Action != rules.ActionParse {
		if match.Action == rules.ActionLog {
			w.log.Info("unhandled file", "file", filepath.Base(path))
		}
		return
	}
	res, err := w.pipeline.Ingest(ctx, path, match, w.root)
	if err != nil {
		w.log.Error("ingest failed", "file", filepath.Base(path), "error", err)
		return
	}
	if res.Outcome == ingest.OutcomeIndexed && w.rebuild != nil {
		w.rebuild(ctx)
	}
}
