// Copyright (C) 2025 MolBioHive (opensource@molbiohive.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package sdk is the surface handed to external tool scripts. It gives
// them read-only index access and the types they must produce; scripts
// may import this package and nothing else of the server.
package sdk

import (
	"context"
	"errors"
	"math"
	"sort"

	"github.com/molbiohive/hive-browser/internal/store"
)

// ToolSpec is what an external script's Tool() function returns. Run is
// called with the read-only DB handle and the decoded parameters.
type ToolSpec struct {
	Name        string
	Description string
	Widget      string
	Guidelines  string
	Schema      map[string]any
	Run         func(ctx context.Context, db *DB, params map[string]any) (map[string]any, error)
}

// DB is the read-only index facade. All methods return plain maps and
// slices so scripts never touch store types.
type DB struct {
	store *store.Store
}

// NewDB wraps a store for external tool consumption.
func NewDB(st *store.Store) *DB {
	return &DB{store: st}
}

// SequenceQuery filters FindSequences. Zero values skip the filter.
type SequenceQuery struct {
	Query    string
	Topology string
	SizeMin  int
	SizeMax  int
	Limit    int
}

// FindSequences searches sequences by fuzzy name and optional filters.
// An empty query lists sequences alphabetically with score 1.0.
func (d *DB) FindSequences(ctx context.Context, q SequenceQuery) ([]map[string]any, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}

	seqs, err := d.store.ActiveSequences(ctx)
	if err != nil {
		return nil, err
	}

	type scored struct {
		seq   store.Sequence
		score float64
	}
	var candidates []scored
	for _, seq := range seqs {
		if q.Topology != "" && seq.Topology != q.Topology {
			continue
		}
		if q.SizeMin > 0 && seq.SizeBP < q.SizeMin {
			continue
		}
		if q.SizeMax > 0 && seq.SizeBP > q.SizeMax {
			continue
		}
		score := 1.0
		if q.Query != "" {
			score = store.Similarity(seq.Name, q.Query)
			if score <= 0.1 {
				continue
			}
		}
		candidates = append(candidates, scored{seq, score})
	}

	if q.Query != "" {
		sort.Slice(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	} else {
		sort.Slice(candidates, func(i, j int) bool { return candidates[i].seq.Name < candidates[j].seq.Name })
	}
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	out := make([]map[string]any, 0, len(candidates))
	for _, c := range candidates {
		item := map[string]any{
			"id":          c.seq.ID,
			"name":        c.seq.Name,
			"size_bp":     c.seq.SizeBP,
			"topology":    c.seq.Topology,
			"description": c.seq.Description,
			"score":       math.Round(c.score*1000) / 1000,
		}
		if file, err := d.store.GetFile(ctx, c.seq.FileID); err == nil {
			item["file_path"] = file.FilePath
		}
		out = append(out, item)
	}
	return out, nil
}

// GetSequence fetches one sequence with features, primers, and file.
// Lookup is by id when nonzero, else by fuzzy name. Returns nil when
// nothing matches.
func (d *DB) GetSequence(ctx context.Context, id int64, name string) (map[string]any, error) {
	var (
		seq *store.Sequence
		err error
	)
	if id != 0 {
		seq, err = d.store.Resolve(ctx, store.ResolveOpts{
			SID: id, LoadFeatures: true, LoadPrimers: true, LoadFile: true,
		})
	} else if name != "" {
		seq, err = d.store.ResolveFuzzy(ctx, name)
		if err == nil {
			if seq.Features, err = d.store.FeaturesForSequence(ctx, seq.ID, ""); err != nil {
				return nil, err
			}
			if seq.Primers, err = d.store.PrimersForSequence(ctx, seq.ID, ""); err != nil {
				return nil, err
			}
			if seq.File, err = d.store.GetFile(ctx, seq.FileID); err != nil {
				return nil, err
			}
		}
	} else {
		return nil, nil
	}
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	features := make([]map[string]any, 0, len(seq.Features))
	for _, ft := range seq.Features {
		features = append(features, map[string]any{
			"id": ft.ID, "name": ft.Name, "type": ft.Type,
			"start": ft.Start, "end": ft.End, "strand": ft.Strand,
			"qualifiers": ft.Qualifiers,
		})
	}
	primers := make([]map[string]any, 0, len(seq.Primers))
	for _, p := range seq.Primers {
		primers = append(primers, map[string]any{
			"id": p.ID, "name": p.Name, "sequence": p.Sequence,
			"tm": p.Tm, "start": p.Start, "end": p.End, "strand": p.Strand,
		})
	}

	out := map[string]any{
		"id":          seq.ID,
		"name":        seq.Name,
		"size_bp":     seq.SizeBP,
		"topology":    seq.Topology,
		"description": seq.Description,
		"sequence":    seq.Sequence,
		"meta":        seq.Meta,
		"features":    features,
		"primers":     primers,
	}
	if seq.File != nil {
		out["file"] = map[string]any{
			"path":       seq.File.FilePath,
			"format":     seq.File.Format,
			"size":       seq.File.FileSize,
			"indexed_at": seq.File.IndexedAt,
		}
	}
	return out, nil
}

// FindFeatures queries features across active sequences.
func (d *DB) FindFeatures(ctx context.Context, seqID int64, name, featureType string, limit int) ([]map[string]any, error) {
	if limit <= 0 {
		limit = 100
	}
	hits, err := d.store.QueryFeatures(ctx, seqID, name, featureType, limit)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(hits))
	for _, h := range hits {
		out = append(out, map[string]any{
			"id": h.ID, "name": h.Name, "type": h.Type,
			"start": h.Start, "end": h.End, "strand": h.Strand,
			"qualifiers": h.Qualifiers, "seq_name": h.SeqName,
		})
	}
	return out, nil
}

// FindPrimers queries primers across active sequences.
func (d *DB) FindPrimers(ctx context.Context, seqID int64, name string, limit int) ([]map[string]any, error) {
	if limit <= 0 {
		limit = 100
	}
	hits, err := d.store.QueryPrimers(ctx, seqID, name, limit)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(hits))
	for _, h := range hits {
		out = append(out, map[string]any{
			"id": h.ID, "name": h.Name, "sequence": h.Sequence,
			"tm": h.Tm, "start": h.Start, "end": h.End,
			"strand": h.Strand, "seq_name": h.SeqName,
		})
	}
	return out, nil
}

// FindFiles lists active indexed files, optionally by format.
func (d *DB) FindFiles(ctx context.Context, format string, limit int) ([]map[string]any, error) {
	if limit <= 0 {
		limit = 100
	}
	files, err := d.store.ListFiles(ctx, store.FileFilter{
		Status: store.FileActive, Format: format, Limit: limit,
	})
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(files))
	for _, f := range files {
		out = append(out, map[string]any{
			"id": f.ID, "file_path": f.FilePath, "format": f.Format,
			"file_size": f.FileSize, "indexed_at": f.IndexedAt,
		})
	}
	return out, nil
}

// Count counts rows in "sequences", "features", "primers", or "files".
func (d *DB) Count(ctx context.Context, table string) (int64, error) {
	return d.store.CountRows(ctx, table)
}
