// Copyright (C) 2025 MolBioHive (opensource@molbiohive.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package watcher

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/molbiohive/hive-browser/internal/config"
	"github.com/molbiohive/hive-browser/internal/ingest"
	"github.com/molbiohive/hive-browser/internal/rules"
	"github.com/molbiohive/hive-browser/internal/store"
)

const gbFixture = `LOCUS       pScan        40 bp    DNA     circular SYN 01-JAN-2025
DEFINITION  scan fixture.
FEATURES             Location/Qualifiers
     CDS             1..30
                     /label="orf1"
ORIGIN
        1 atgcatgcat gcatgcatgc atgcatgcat gcatgcatgc
//
`

func newWatcher(t *testing.T, root string, rebuilds *atomic.Int32) (*Watcher, *store.Store) {
	t.Helper()
	st, err := store.Open("file:" + filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	log := slog.New(slog.DiscardHandler)
	pipeline := ingest.New(st, log)
	engine := rules.New(config.Default().Watcher.Rules)
	var rebuild RebuildFunc
	if rebuilds != nil {
		rebuild = func(context.Context) { rebuilds.Add(1) }
	}
	return New(root, engine, pipeline, rebuild, log), st
}

func writeFile(t *testing.T, root, name, content string) string {
	t.Helper()
	path := filepath.Join(root, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestScanIndexesAndTriggersRebuild(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "plasmids/pScan.gb", gbFixture)
	writeFile(t, root, "notes.txt", "not a sequence")

	var rebuilds atomic.Int32
	w, st := newWatcher(t, root, &rebuilds)

	stats, err := w.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if stats.Indexed != 1 || stats.Ignored != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if rebuilds.Load() != 1 {
		t.Errorf("rebuild calls = %d, want 1", rebuilds.Load())
	}

	if _, err := st.Resolve(context.Background(), store.ResolveOpts{Name: "pScan"}); err != nil {
		t.Errorf("sequence not indexed: %v", err)
	}
}

func TestScanSecondPassIsUnchanged(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "pScan.gb", gbFixture)

	var rebuilds atomic.Int32
	w, _ := newWatcher(t, root, &rebuilds)
	ctx := context.Background()

	if _, err := w.Scan(ctx); err != nil {
		t.Fatal(err)
	}
	stats, err := w.Scan(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Unchanged != 1 || stats.Indexed != 0 {
		t.Errorf("second pass stats = %+v", stats)
	}
	// No rebuild when nothing changed.
	if rebuilds.Load() != 1 {
		t.Errorf("rebuild calls = %d, want 1", rebuilds.Load())
	}
}

func TestScanHonoursCancellation(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "pScan.gb", gbFixture)

	w, _ := newWatcher(t, root, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := w.Scan(ctx)
	if err != context.Canceled {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestScanRecordsParseErrors(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "broken.gb", "garbage")

	w, st := newWatcher(t, root, nil)
	stats, err := w.Scan(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Errors != 1 {
		t.Errorf("stats = %+v", stats)
	}
	row, err := st.GetFileByPath(context.Background(), filepath.Join(root, "broken.gb"))
	if err != nil {
		t.Fatal(err)
	}
	if row.Status != store.FileError {
		t.Errorf("status = %q", row.Status)
	}
}

func TestLiveWatchIngestsNewFile(t *testing.T) {
	root := t.TempDir()
	var rebuilds atomic.Int32
	w, st := newWatcher(t, root, &rebuilds)
	w.debounce = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	writeFile(t, root, "pScan.gb", gbFixture)

	deadline := time.After(5 * time.Second)
	for {
		if _, err := st.Resolve(context.Background(), store.ResolveOpts{Name: "pScan"}); err == nil {
			break
		}
		select {
		case <-deadline:
			t.Fatal("file was not ingested from live watch")
		case <-time.After(50 * time.Millisecond):
		}
	}
	if rebuilds.Load() == 0 {
		t.Error("rebuild not triggered after live ingest")
	}
}

func TestLiveWatchRemovesDeletedFile(t *testing.T) {
	root := t.TempDir()
	path := writeFile(t, root, "pScan.gb", gbFixture)

	w, st := newWatcher(t, root, nil)
	w.debounce = 20 * time.Millisecond
	if _, err := w.Scan(context.Background()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(5 * time.Second)
	for {
		row, err := st.GetFileByPath(context.Background(), path)
		if err == nil && row.Status == store.FileDeleted {
			break
		}
		select {
		case <-deadline:
			t.Fatal("deletion was not propagated")
		case <-time.After(50 * time.Millisecond):
		}
	}
}
