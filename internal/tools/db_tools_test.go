// Copyright (C) 2025 MolBioHive (opensource@molbiohive.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package tools

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/molbiohive/hive-browser/internal/config"
	"github.com/molbiohive/hive-browser/internal/store"
)

func testBlastConfig() config.BlastConfig {
	return config.BlastConfig{DefaultEvalue: 10, DefaultMaxHits: 25}
}

// first 60 nt of eGFP, convenient because every offset is distinct
const plasmidSeq = "ATGAGCAAGGGCGAGGAGCTGTTCACCGGGGTGGTGCCCATCCTGGTCGAGCTGGACGGC"

func newToolStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open("file:" + filepath.Join(t.TempDir(), "tools.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func seedPlasmid(t *testing.T, st *store.Store) {
	t.Helper()
	ctx := context.Background()
	tm := 62.4
	start, end, fwd := 5, 21, 1
	f := &store.IndexedFile{
		FilePath:  "/watch/cloning/pGFP-test.gb",
		FileHash:  "h1",
		Format:    "gb",
		FileMtime: time.Now().UTC(),
	}
	if err := st.UpsertFile(ctx, f); err != nil {
		t.Fatalf("UpsertFile: %v", err)
	}
	seqs := []store.Sequence{{
		Name:        "pGFP-test",
		SizeBP:      len(plasmidSeq),
		Topology:    "circular",
		Sequence:    plasmidSeq,
		Description: "GFP expression test construct",
		Meta:        store.SequenceMeta{Tags: []string{"cloning"}, MoleculeType: "DNA"},
		Features: []store.Feature{
			{Name: "GFP", Type: "CDS", Start: 0, End: 30, Strand: 1},
			{Name: "term", Type: "terminator", Start: 50, End: 58, Strand: -1},
		},
		Primers: []store.Primer{
			{Name: "seq-fwd", Sequence: "AGCAAGGGCGAGGAGC", Tm: &tm, Start: &start, End: &end, Strand: &fwd},
		},
	}}
	if err := st.ReplaceSequenceData(ctx, f.ID, seqs); err != nil {
		t.Fatalf("ReplaceSequenceData: %v", err)
	}
}

func TestProfileTool(t *testing.T) {
	st := newToolStore(t)
	seedPlasmid(t, st)

	res, err := NewProfileTool(st).Execute(context.Background(), map[string]any{
		"name": "pGFP-test",
	}, ModeNatural)
	if err != nil {
		t.Fatal(err)
	}
	if res["name"] != "pGFP-test" || res["topology"] != "circular" {
		t.Errorf("profile = %v", res)
	}
	features := res["features"].([]map[string]any)
	if len(features) != 2 {
		t.Fatalf("features = %v", features)
	}
	primers := res["primers"].([]map[string]any)
	if len(primers) != 1 || primers[0]["name"] != "seq-fwd" {
		t.Errorf("primers = %v", primers)
	}
	file := res["file"].(map[string]any)
	if file["format"] != "gb" {
		t.Errorf("file = %v", file)
	}
}

func TestProfileToolNotFound(t *testing.T) {
	st := newToolStore(t)
	res, err := NewProfileTool(st).Execute(context.Background(), map[string]any{
		"name": "pMissing",
	}, ModeNatural)
	if err != nil {
		t.Fatal(err)
	}
	if res["error"] != "Sequence not found: pMissing" {
		t.Errorf("error = %v", res["error"])
	}
}

func TestFeaturesToolTypeFilter(t *testing.T) {
	st := newToolStore(t)
	seedPlasmid(t, st)

	res, err := NewFeaturesTool(st).Execute(context.Background(), map[string]any{
		"name": "pGFP-test",
		"type": "CDS",
	}, ModeNatural)
	if err != nil {
		t.Fatal(err)
	}
	features := res["features"].([]map[string]any)
	if len(features) != 1 || features[0]["name"] != "GFP" {
		t.Errorf("features = %v", features)
	}
}

func TestExtractByFeature(t *testing.T) {
	st := newToolStore(t)
	seedPlasmid(t, st)

	res, err := NewExtractTool(st).Execute(context.Background(), map[string]any{
		"sequence_name": "pGFP-test",
		"feature_name":  "gfp",
	}, ModeNatural)
	if err != nil {
		t.Fatal(err)
	}
	if res["sequence"] != plasmidSeq[0:30] {
		t.Errorf("sequence = %v", res["sequence"])
	}
	if res["length"] != 30 || res["strand"] != 1 {
		t.Errorf("extract = %v", res)
	}
}

func TestExtractMinusStrandIsReverseComplemented(t *testing.T) {
	st := newToolStore(t)
	seedPlasmid(t, st)

	res, err := NewExtractTool(st).Execute(context.Background(), map[string]any{
		"sequence_name": "pGFP-test",
		"feature_name":  "term",
	}, ModeNatural)
	if err != nil {
		t.Fatal(err)
	}
	want := reverseComplement(plasmidSeq[50:58])
	if res["sequence"] != want {
		t.Errorf("sequence = %v, want %v", res["sequence"], want)
	}
	if res["strand"] != -1 {
		t.Errorf("strand = %v", res["strand"])
	}
}

func TestExtractPrimerTakesPrecedence(t *testing.T) {
	st := newToolStore(t)
	seedPlasmid(t, st)

	res, err := NewExtractTool(st).Execute(context.Background(), map[string]any{
		"sequence_name": "pGFP-test",
		"primer_name":   "seq-fwd",
		"feature_name":  "GFP", // ignored, primer wins
	}, ModeNatural)
	if err != nil {
		t.Fatal(err)
	}
	if res["sequence"] != "AGCAAGGGCGAGGAGC" {
		t.Errorf("sequence = %v", res["sequence"])
	}
	if res["name"] != "seq-fwd" {
		t.Errorf("name = %v", res["name"])
	}
}

func TestExtractByRegion(t *testing.T) {
	st := newToolStore(t)
	seedPlasmid(t, st)

	res, err := NewExtractTool(st).Execute(context.Background(), map[string]any{
		"sequence_name": "pGFP-test",
		"region":        "1:10",
	}, ModeNatural)
	if err != nil {
		t.Fatal(err)
	}
	// 1-based inclusive: positions 1..10 are the first ten bases
	if res["sequence"] != plasmidSeq[0:10] {
		t.Errorf("sequence = %v", res["sequence"])
	}
	if res["length"] != 10 {
		t.Errorf("length = %v", res["length"])
	}
}

func TestExtractBadRegion(t *testing.T) {
	st := newToolStore(t)
	seedPlasmid(t, st)

	res, err := NewExtractTool(st).Execute(context.Background(), map[string]any{
		"sequence_name": "pGFP-test",
		"region":        "ten-to-twenty",
	}, ModeNatural)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := res["error"]; !ok {
		t.Errorf("expected error, got %v", res)
	}
}

func TestExtractRegionPastEndWrapsOnCircular(t *testing.T) {
	st := newToolStore(t)
	seedPlasmid(t, st)

	// start beyond the 60 nt plasmid clamps to the origin instead of
	// panicking, so the slice is just the wrapped head
	res, err := NewExtractTool(st).Execute(context.Background(), map[string]any{
		"sequence_name": "pGFP-test",
		"region":        "70:5",
	}, ModeNatural)
	if err != nil {
		t.Fatal(err)
	}
	if res["sequence"] != plasmidSeq[0:5] {
		t.Errorf("sequence = %v, want %q", res["sequence"], plasmidSeq[0:5])
	}
	if res["length"] != 5 {
		t.Errorf("length = %v", res["length"])
	}
}

func TestExtractWholeSequence(t *testing.T) {
	st := newToolStore(t)
	seedPlasmid(t, st)

	res, err := NewExtractTool(st).Execute(context.Background(), map[string]any{
		"sequence_name": "pGFP",
	}, ModeNatural)
	if err != nil {
		t.Fatal(err)
	}
	if res["sequence"] != plasmidSeq {
		t.Errorf("whole-sequence extract mismatch")
	}
	if res["length"] != len(plasmidSeq) {
		t.Errorf("length = %v", res["length"])
	}
}

func TestExtractSummaryOmitsSequence(t *testing.T) {
	tool := NewExtractTool(nil)
	summary := tool.SummaryForLLM(Result{
		"name": "GFP", "source": "pGFP-test", "length": 30, "sequence": plasmidSeq,
	})
	if summary != "Extracted GFP from pGFP-test: 30 bp." {
		t.Errorf("summary = %q", summary)
	}
}

func TestSearchToolFindsSeededPlasmid(t *testing.T) {
	st := newToolStore(t)
	seedPlasmid(t, st)

	res, err := NewSearchTool(st).Execute(context.Background(), map[string]any{
		"query": "pGFP",
	}, ModeNatural)
	if err != nil {
		t.Fatal(err)
	}
	if res["total"] != 1 {
		t.Fatalf("total = %v, results %v", res["total"], res["results"])
	}
	results := res["results"].([]map[string]any)
	if results[0]["name"] != "pGFP-test" {
		t.Errorf("result = %v", results[0])
	}
}

func TestBlastToolRejectsUnknownProgram(t *testing.T) {
	st := newToolStore(t)
	tool := NewBlastTool(st, nil, nil, testBlastConfig())

	res, err := tool.Execute(context.Background(), map[string]any{
		"sequence": "ATGCATGCATGC",
		"program":  "tblastx",
	}, ModeNatural)
	if err != nil {
		t.Fatal(err)
	}
	if res["error"] != "Unknown program: tblastx" {
		t.Errorf("error = %v", res["error"])
	}
}

func TestBlastToolSchemaExposesGapPenalties(t *testing.T) {
	tool := NewBlastTool(nil, nil, nil, testBlastConfig())
	props := tool.InputSchema()["properties"].(map[string]any)
	for _, key := range []string{"gap_open", "gap_extend"} {
		if _, ok := props[key]; !ok {
			t.Errorf("schema missing %s", key)
		}
	}
}

func TestBlastToolResolvesSequenceName(t *testing.T) {
	st := newToolStore(t)
	seedPlasmid(t, st)
	tool := NewBlastTool(st, nil, nil, testBlastConfig())

	query, err := tool.resolveQuery(context.Background(), "pGFP-test")
	if err != nil {
		t.Fatal(err)
	}
	if query != plasmidSeq {
		t.Errorf("resolved query = %q", query)
	}

	if _, err := tool.resolveQuery(context.Background(), "99999"); err == nil {
		t.Error("expected error for missing SID")
	}

	raw, err := tool.resolveQuery(context.Background(), "atgcatgc")
	if err != nil {
		t.Fatal(err)
	}
	if raw != "ATGCATGC" {
		t.Errorf("raw residues = %q", raw)
	}
}
