// Copyright (C) 2025 MolBioHive (opensource@molbiohive.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ingest

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/molbiohive/hive-browser/internal/rules"
	"github.com/molbiohive/hive-browser/internal/store"
)

const gbFixture = `LOCUS       pMini        40 bp    DNA     circular SYN 01-JAN-2025
DEFINITION  minimal test plasmid.
FEATURES             Location/Qualifiers
     CDS             1..30
                     /label="orf1"
ORIGIN
        1 atgcatgcat gcatgcatgc atgcatgcat gcatgcatgc
//
`

func newPipeline(t *testing.T) (*Pipeline, *store.Store) {
	t.Helper()
	st, err := store.Open("file:" + filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	return New(st, slog.New(slog.DiscardHandler)), st
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

var parseGB = rules.MatchResult{Action: rules.ActionParse, Parser: "biopython"}

func TestIngestIndexesNewFile(t *testing.T) {
	p, st := newPipeline(t)
	root := t.TempDir()
	path := writeFile(t, root, "plasmids/pMini.gb", gbFixture)

	res, err := p.Ingest(context.Background(), path, parseGB, root)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.Outcome != OutcomeIndexed {
		t.Fatalf("outcome = %q", res.Outcome)
	}

	seq, err := st.Resolve(context.Background(), store.ResolveOpts{Name: "pMini", LoadFeatures: true})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if seq.SizeBP != 40 || seq.Topology != "circular" {
		t.Errorf("sequence = %+v", seq)
	}
	if len(seq.Features) != 1 || seq.Features[0].Name != "orf1" {
		t.Errorf("features = %+v", seq.Features)
	}
	if len(seq.Meta.Tags) != 1 || seq.Meta.Tags[0] != "plasmids" {
		t.Errorf("tags = %+v", seq.Meta.Tags)
	}
}

func TestIngestUnchangedHashIsNoOp(t *testing.T) {
	p, _ := newPipeline(t)
	root := t.TempDir()
	path := writeFile(t, root, "pMini.gb", gbFixture)
	ctx := context.Background()

	if _, err := p.Ingest(ctx, path, parseGB, root); err != nil {
		t.Fatal(err)
	}
	res, err := p.Ingest(ctx, path, parseGB, root)
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != OutcomeUnchanged {
		t.Errorf("outcome = %q, want unchanged", res.Outcome)
	}
}

func TestIngestReindexesOnContentChange(t *testing.T) {
	p, st := newPipeline(t)
	root := t.TempDir()
	path := writeFile(t, root, "pMini.gb", gbFixture)
	ctx := context.Background()

	if _, err := p.Ingest(ctx, path, parseGB, root); err != nil {
		t.Fatal(err)
	}
	changed := strings.Replace(gbFixture, "atgcatgcat", "ttgcatgcat", 1)
	writeFile(t, root, "pMini.gb", changed)

	res, err := p.Ingest(ctx, path, parseGB, root)
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != OutcomeIndexed {
		t.Errorf("outcome = %q, want indexed", res.Outcome)
	}
	// Old generation replaced, not duplicated.
	results, err := st.SearchSequences(ctx, "pMini", store.SearchFilters{}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Errorf("results = %+v, want single generation", results)
	}
}

func TestIngestPersistsParseError(t *testing.T) {
	p, st := newPipeline(t)
	root := t.TempDir()
	path := writeFile(t, root, "broken.gb", "this is not genbank")
	ctx := context.Background()

	res, err := p.Ingest(ctx, path, parseGB, root)
	if err != nil {
		t.Fatalf("parse failure must not be fatal: %v", err)
	}
	if res.Outcome != OutcomeError {
		t.Fatalf("outcome = %q, want error", res.Outcome)
	}

	row, err := st.GetFileByPath(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	if row.Status != store.FileError || row.ErrorMsg == "" {
		t.Errorf("error row = %+v", row)
	}
}

func TestIngestUnknownParserPersistsError(t *testing.T) {
	p, st := newPipeline(t)
	root := t.TempDir()
	path := writeFile(t, root, "data.xyz", "whatever")

	res, err := p.Ingest(context.Background(), path,
		rules.MatchResult{Action: rules.ActionParse, Parser: "biopython"}, root)
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != OutcomeError {
		t.Errorf("outcome = %q", res.Outcome)
	}
	row, err := st.GetFileByPath(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	if row.Status != store.FileError {
		t.Errorf("row = %+v", row)
	}
}

func TestRemove(t *testing.T) {
	p, st := newPipeline(t)
	root := t.TempDir()
	path := writeFile(t, root, "pMini.gb", gbFixture)
	ctx := context.Background()

	if _, err := p.Ingest(ctx, path, parseGB, root); err != nil {
		t.Fatal(err)
	}
	if err := p.Remove(ctx, path); err != nil {
		t.Fatal(err)
	}
	row, err := st.GetFileByPath(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	if row.Status != store.FileDeleted {
		t.Errorf("status = %q", row.Status)
	}
}

func TestDeriveTags(t *testing.T) {
	cases := []struct {
		path, root string
		want       []string
	}{
		{"/w/plasmids/archive/p1.gb", "/w", []string{"plasmids", "archive"}},
		{"/w/p1.gb", "/w", nil},
		{"/elsewhere/p1.gb", "/w", nil},
	}
	for _, tc := range cases {
		got := deriveTags(tc.path, tc.root)
		if len(got) != len(tc.want) {
			t.Errorf("deriveTags(%s, %s) = %v, want %v", tc.path, tc.root, got, tc.want)
			continue
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Errorf("deriveTags(%s, %s) = %v, want %v", tc.path, tc.root, got, tc.want)
			}
		}
	}
}
