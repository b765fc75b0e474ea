// Copyright (C) 2025 MolBioHive (opensource@molbiohive.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("file:" + filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedSequence(t *testing.T, s *Store, path, name string, sizeBP int, topology string, features []Feature, tags []string) int64 {
	t.Helper()
	ctx := context.Background()
	f := &IndexedFile{
		FilePath:  path,
		FileHash:  "hash-" + name,
		Format:    "genbank",
		FileMtime: time.Now().UTC(),
	}
	if err := s.UpsertFile(ctx, f); err != nil {
		t.Fatalf("UpsertFile: %v", err)
	}
	seqs := []Sequence{{
		Name:     name,
		SizeBP:   sizeBP,
		Topology: topology,
		Sequence: "ATGC",
		Features: features,
		Meta:     SequenceMeta{Tags: tags, MoleculeType: "DNA"},
	}}
	if err := s.ReplaceSequenceData(ctx, f.ID, seqs); err != nil {
		t.Fatalf("ReplaceSequenceData: %v", err)
	}
	return f.ID
}

func TestUpsertFileIsIdempotentPerPath(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	f1 := &IndexedFile{FilePath: "/w/a.gb", FileHash: "h1", Format: "genbank"}
	if err := s.UpsertFile(ctx, f1); err != nil {
		t.Fatal(err)
	}
	f2 := &IndexedFile{FilePath: "/w/a.gb", FileHash: "h2", Format: "genbank"}
	if err := s.UpsertFile(ctx, f2); err != nil {
		t.Fatal(err)
	}
	if f1.ID != f2.ID {
		t.Errorf("upsert created a second row: %d vs %d", f1.ID, f2.ID)
	}
	got, err := s.GetFileByPath(ctx, "/w/a.gb")
	if err != nil {
		t.Fatal(err)
	}
	if got.FileHash != "h2" {
		t.Errorf("hash = %q, want h2", got.FileHash)
	}
}

func TestRemoveFileCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	fileID := seedSequence(t, s, "/w/puc19.gb", "pUC19", 2686, "circular",
		[]Feature{{Name: "lacZ", Type: "CDS", Start: 100, End: 400, Strand: 1}}, nil)

	if err := s.RemoveFile(ctx, "/w/puc19.gb"); err != nil {
		t.Fatalf("RemoveFile: %v", err)
	}

	f, err := s.GetFileByPath(ctx, "/w/puc19.gb")
	if err != nil {
		t.Fatal(err)
	}
	if f.Status != FileDeleted {
		t.Errorf("status = %q, want deleted", f.Status)
	}
	if _, err := s.Resolve(ctx, ResolveOpts{Name: "pUC19"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after removal, got %v", err)
	}
	_ = fileID
}

func TestReplaceSequenceDataSwapsGenerations(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	fileID := seedSequence(t, s, "/w/x.gb", "old", 100, "linear", nil, nil)
	if err := s.ReplaceSequenceData(ctx, fileID, []Sequence{
		{Name: "new", SizeBP: 200, Topology: "linear", Sequence: "ATGC"},
	}); err != nil {
		t.Fatal(err)
	}

	if _, err := s.Resolve(ctx, ResolveOpts{Name: "old"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("old generation still resolvable: %v", err)
	}
	seq, err := s.Resolve(ctx, ResolveOpts{Name: "new"})
	if err != nil {
		t.Fatal(err)
	}
	if seq.SizeBP != 200 {
		t.Errorf("size = %d, want 200", seq.SizeBP)
	}
}

func TestResolvePrecedenceAndEagerLoads(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedSequence(t, s, "/w/pgfp.gb", "pGFP", 3000, "circular",
		[]Feature{{Name: "GFP", Type: "CDS", Start: 0, End: 720, Strand: 1}}, []string{"plasmids"})

	seq, err := s.Resolve(ctx, ResolveOpts{Name: "pgfp", LoadFeatures: true, LoadFile: true})
	if err != nil {
		t.Fatalf("Resolve by case-insensitive name: %v", err)
	}
	if len(seq.Features) != 1 || seq.Features[0].Name != "GFP" {
		t.Errorf("features = %+v", seq.Features)
	}
	if seq.File == nil || seq.File.FilePath != "/w/pgfp.gb" {
		t.Errorf("file = %+v", seq.File)
	}

	bySID, err := s.Resolve(ctx, ResolveOpts{SID: seq.ID})
	if err != nil {
		t.Fatalf("Resolve by SID: %v", err)
	}
	if bySID.Name != "pGFP" {
		t.Errorf("name = %q", bySID.Name)
	}
}

func TestSearchBasic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedSequence(t, s, "/w/puc19.gb", "pUC19", 2686, "circular", nil, nil)
	seedSequence(t, s, "/w/pet28a.gb", "pET28a", 5369, "circular", nil, nil)

	results, err := s.SearchSequences(ctx, "pUC", SearchFilters{}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Fatalf("results = %+v, want exactly pUC19", results)
	}
	if results[0].Name != "pUC19" {
		t.Errorf("name = %q", results[0].Name)
	}
	if results[0].Score < 0.4 {
		t.Errorf("score = %f, want >= 0.4", results[0].Score)
	}
}

func TestSearchBooleanAndTopologyLiteral(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedSequence(t, s, "/w/puc19.gb", "pUC19", 2686, "circular", nil, nil)
	seedSequence(t, s, "/w/pet28a.gb", "pET28a", 5369, "circular", nil, nil)
	seedSequence(t, s, "/w/pkan.gb", "pKanLinear", 4000, "linear", nil, nil)

	results, err := s.SearchSequences(ctx, "pKan && linear", SearchFilters{}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Name != "pKanLinear" {
		t.Fatalf("results = %+v, want exactly pKanLinear", results)
	}

	// AND keeps only records where every term clears the floor.
	for _, r := range results {
		for _, term := range []string{"pKan", "linear"} {
			if score := termScore(searchCandidate{result: r}, term); score < SimilarityFloor {
				t.Errorf("term %q score %f below floor for %s", term, score, r.Name)
			}
		}
	}
}

func TestSearchOrCombinesWithMax(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedSequence(t, s, "/w/puc19.gb", "pUC19", 2686, "circular", nil, nil)
	seedSequence(t, s, "/w/pkan.gb", "pKanLinear", 4000, "linear", nil, nil)

	results, err := s.SearchSequences(ctx, "pUC || pKan", SearchFilters{}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %+v, want both sequences", results)
	}
}

func TestSearchMatchesFeatureNamesAndTags(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedSequence(t, s, "/w/pgfp.gb", "pXYZ123", 3000, "circular",
		[]Feature{{Name: "GFP", Type: "CDS", Start: 0, End: 720, Strand: 1}},
		[]string{"reporters"})

	byFeature, err := s.SearchSequences(ctx, "GFP", SearchFilters{}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(byFeature) != 1 {
		t.Fatalf("feature-name search results = %+v", byFeature)
	}

	byTag, err := s.SearchSequences(ctx, "reporters", SearchFilters{}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(byTag) != 1 {
		t.Fatalf("tag search results = %+v", byTag)
	}
}

func TestSearchFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedSequence(t, s, "/w/a.gb", "pA", 1000, "circular",
		[]Feature{{Name: "ori", Type: "rep_origin", Start: 0, End: 100}}, nil)
	seedSequence(t, s, "/w/b.gb", "pB", 9000, "linear", nil, nil)

	results, err := s.SearchSequences(ctx, "p", SearchFilters{Topology: "circular"}, 0)
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range results {
		if r.Topology != "circular" {
			t.Errorf("topology filter leaked %+v", r)
		}
	}

	results, err = s.SearchSequences(ctx, "pB", SearchFilters{SizeMin: 5000}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Name != "pB" {
		t.Errorf("size filter results = %+v", results)
	}

	results, err = s.SearchSequences(ctx, "pA", SearchFilters{FeatureType: "rep_origin"}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Name != "pA" {
		t.Errorf("feature_type filter results = %+v", results)
	}
}

func TestSearchTagContext(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedSequence(t, s, "/w/proj1/pA.gb", "pA", 1000, "circular", nil, []string{"crispr-screens"})
	seedSequence(t, s, "/w/proj2/pA2.gb", "pA2", 1000, "circular", nil, []string{"cloning"})

	results, err := s.SearchSequences(ctx, "pA", SearchFilters{TagQuery: "crispr"}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Name != "pA" {
		t.Errorf("tag context results = %+v", results)
	}
}

func TestSearchExcludesDeletedFiles(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedSequence(t, s, "/w/gone.gb", "pGone", 1000, "circular", nil, nil)
	if err := s.RemoveFile(ctx, "/w/gone.gb"); err != nil {
		t.Fatal(err)
	}
	results, err := s.SearchSequences(ctx, "pGone", SearchFilters{}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("deleted file surfaced in search: %+v", results)
	}
}

func TestTrigramSimilarity(t *testing.T) {
	if s := similarity("pUC19", "pUC19"); s != 1.0 {
		t.Errorf("identical strings score %f, want 1.0", s)
	}
	if s := similarity("pUC", "pUC19"); s < 0.4 {
		t.Errorf("similarity(pUC, pUC19) = %f, want >= 0.4", s)
	}
	if s := similarity("zzz", "pUC19"); s != 0 {
		t.Errorf("disjoint strings score %f, want 0", s)
	}
	if s := similarity("", "pUC19"); s != 0 {
		t.Errorf("empty query scores %f, want 0", s)
	}
}

func TestQuarantineResetsReview(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.QuarantineTool(ctx, "foo.go", "h1", "foo"); err != nil {
		t.Fatal(err)
	}
	if err := s.ReviewTool(ctx, "foo.go", ApprovalApproved); err != nil {
		t.Fatal(err)
	}
	a, err := s.GetApproval(ctx, "foo.go")
	if err != nil {
		t.Fatal(err)
	}
	if a.Status != ApprovalApproved || a.ReviewedAt == nil {
		t.Fatalf("after approve: %+v", a)
	}

	// Content change: re-quarantine voids the prior review.
	if err := s.QuarantineTool(ctx, "foo.go", "h2", "foo"); err != nil {
		t.Fatal(err)
	}
	a, err = s.GetApproval(ctx, "foo.go")
	if err != nil {
		t.Fatal(err)
	}
	if a.Status != ApprovalQuarantined {
		t.Errorf("status = %q, want quarantined", a.Status)
	}
	if a.FileHash != "h2" {
		t.Errorf("hash = %q, want h2", a.FileHash)
	}
	if a.ReviewedAt != nil {
		t.Errorf("reviewed_at = %v, want nil", a.ReviewedAt)
	}
}

func TestReviewUnknownToolReturnsNotFound(t *testing.T) {
	s := newTestStore(t)
	if err := s.ReviewTool(context.Background(), "missing.go", ApprovalApproved); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestUserSlug(t *testing.T) {
	cases := map[string]string{
		"Jane Doe":   "janedoe",
		"lab-tech_1": "labtech1",
		"ALICE":      "alice",
	}
	for in, want := range cases {
		if got := UserSlug(in); got != want {
			t.Errorf("UserSlug(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestUserLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u, err := s.CreateUser(ctx, "Jane Doe")
	if err != nil {
		t.Fatal(err)
	}
	if u.Slug != "janedoe" || u.Token == "" {
		t.Fatalf("created user %+v", u)
	}

	byToken, err := s.GetUserByToken(ctx, u.Token)
	if err != nil {
		t.Fatal(err)
	}
	if byToken.ID != u.ID {
		t.Errorf("token lookup returned %+v", byToken)
	}

	if err := s.SetUserPreference(ctx, u.ID, "model", "ollama/qwen2.5:7b"); err != nil {
		t.Fatal(err)
	}
	again, err := s.GetUserBySlug(ctx, "janedoe")
	if err != nil {
		t.Fatal(err)
	}
	if again.Preferences["model"] != "ollama/qwen2.5:7b" {
		t.Errorf("preferences = %+v", again.Preferences)
	}
}

func TestStatusCounts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedSequence(t, s, "/w/a.gb", "pA", 1000, "circular",
		[]Feature{{Name: "ori", Type: "rep_origin", Start: 0, End: 100}}, nil)
	seedSequence(t, s, "/w/b.gb", "pB", 2000, "linear", nil, nil)
	if err := s.UpsertFile(ctx, &IndexedFile{
		FilePath: "/w/bad.gb", FileHash: "h", Format: "genbank",
		Status: FileError, ErrorMsg: "parse failed",
	}); err != nil {
		t.Fatal(err)
	}

	st, err := s.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.ActiveFiles != 2 || st.ErrorFiles != 1 || st.Sequences != 2 || st.Features != 1 {
		t.Errorf("status = %+v", st)
	}
}

func TestFeedback(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u, err := s.CreateUser(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	fb := &Feedback{UserID: u.ID, ChatID: "abc12345", Rating: "good", Comment: "search worked"}
	if err := s.AddFeedback(ctx, fb); err != nil {
		t.Fatal(err)
	}
	if fb.Priority != 3 {
		t.Errorf("default priority = %d, want 3", fb.Priority)
	}

	if err := s.AddFeedback(ctx, &Feedback{UserID: u.ID, Rating: "meh"}); err == nil {
		t.Error("expected rating validation error")
	}

	list, err := s.ListFeedback(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].ChatID != "abc12345" {
		t.Errorf("feedback list = %+v", list)
	}
}

func TestErrorFilePersistsMessage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	f := &IndexedFile{
		FilePath: "/w/corrupt.dna", FileHash: "h", Format: "snapgene",
		Status: FileError, ErrorMsg: "bad magic byte",
	}
	if err := s.UpsertFile(ctx, f); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetFileByPath(ctx, "/w/corrupt.dna")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != FileError || got.ErrorMsg != "bad magic byte" {
		t.Errorf("error row = %+v", got)
	}
}
