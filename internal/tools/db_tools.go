// Copyright (C) 2025 MolBioHive (opensource@molbiohive.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/molbiohive/hive-browser/internal/config"
	"github.com/molbiohive/hive-browser/internal/store"
)

// resolveParam finds a sequence from a tool's sid/name parameters.
func resolveParam(ctx context.Context, st *store.Store, params map[string]any, opts store.ResolveOpts) (*store.Sequence, error) {
	opts.SID = int64(paramInt(params, "sid", 0))
	opts.Name = paramString(params, "name")
	if opts.SID == 0 && opts.Name == "" {
		return nil, errors.New("sid or name required")
	}
	return st.Resolve(ctx, opts)
}

// ProfileTool returns a full sequence record.
type ProfileTool struct {
	base
	store *store.Store
}

// NewProfileTool constructs the profile tool.
func NewProfileTool(st *store.Store) *ProfileTool {
	return &ProfileTool{
		base: base{
			name:        "profile",
			description: "Show the full profile of a sequence: features, primers, and source file.",
			widget:      "profile",
			tags:        []string{TagLLM, "search"},
			guidelines:  "Full record of one sequence: metadata, features, primers, file.",
			schema: objectSchema(map[string]any{
				"sid":  map[string]any{"type": "integer", "description": "Sequence ID"},
				"name": map[string]any{"type": "string", "description": "Sequence name (exact, case-insensitive)"},
			}),
		},
		store: st,
	}
}

func (t *ProfileTool) Execute(ctx context.Context, params map[string]any, _ string) (Result, error) {
	seq, err := resolveParam(ctx, t.store, params, store.ResolveOpts{
		LoadFeatures: true, LoadPrimers: true, LoadFile: true,
	})
	if errors.Is(err, store.ErrNotFound) {
		return Result{"error": fmt.Sprintf("Sequence not found: %v", params["name"])}, nil
	}
	if err != nil {
		return nil, err
	}

	features := make([]map[string]any, 0, len(seq.Features))
	for _, ft := range seq.Features {
		features = append(features, featurePayload(ft))
	}
	primers := make([]map[string]any, 0, len(seq.Primers))
	for _, p := range seq.Primers {
		primers = append(primers, primerPayload(p))
	}

	result := Result{
		"sid":         seq.ID,
		"name":        seq.Name,
		"size_bp":     seq.SizeBP,
		"topology":    seq.Topology,
		"description": seq.Description,
		"tags":        seq.Meta.Tags,
		"sequence":    seq.Sequence,
		"features":    features,
		"primers":     primers,
	}
	if seq.File != nil {
		result["file"] = map[string]any{
			"path":       config.DisplayFilePath(seq.File.FilePath),
			"format":     seq.File.Format,
			"indexed_at": seq.File.IndexedAt,
		}
	}
	return result, nil
}

func (t *ProfileTool) FormatResult(r Result) string {
	if msg := formatError(r); msg != "" {
		return msg
	}
	features, _ := r["features"].([]map[string]any)
	primers, _ := r["primers"].([]map[string]any)
	return fmt.Sprintf("%v: %v bp %v, %d feature(s), %d primer(s)",
		r["name"], r["size_bp"], r["topology"], len(features), len(primers))
}

// FeaturesTool lists annotated features of a sequence.
type FeaturesTool struct {
	base
	store *store.Store
}

// NewFeaturesTool constructs the features tool.
func NewFeaturesTool(st *store.Store) *FeaturesTool {
	return &FeaturesTool{
		base: base{
			name:        "features",
			description: "List annotated features of a sequence, optionally filtered by type.",
			widget:      "table",
			tags:        []string{TagLLM, "search"},
			guidelines:  "List features of one sequence. Optional type filter (CDS, promoter, ...).",
			schema: objectSchema(map[string]any{
				"sid":  map[string]any{"type": "integer", "description": "Sequence ID"},
				"name": map[string]any{"type": "string", "description": "Sequence name"},
				"type": map[string]any{"type": "string", "description": "Feature type filter"},
			}),
		},
		store: st,
	}
}

func (t *FeaturesTool) Execute(ctx context.Context, params map[string]any, _ string) (Result, error) {
	seq, err := resolveParam(ctx, t.store, params, store.ResolveOpts{})
	if errors.Is(err, store.ErrNotFound) {
		return Result{"error": fmt.Sprintf("Sequence not found: %v", params["name"])}, nil
	}
	if err != nil {
		return nil, err
	}
	features, err := t.store.FeaturesForSequence(ctx, seq.ID, paramString(params, "type"))
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(features))
	for _, ft := range features {
		items = append(items, featurePayload(ft))
	}
	return Result{"sequence": seq.Name, "sid": seq.ID, "features": items, "total": len(items)}, nil
}

func (t *FeaturesTool) FormatResult(r Result) string {
	if msg := formatError(r); msg != "" {
		return msg
	}
	return fmt.Sprintf("%v feature(s) on %v", r["total"], r["sequence"])
}

// PrimersTool lists primers of a sequence.
type PrimersTool struct {
	base
	store *store.Store
}

// NewPrimersTool constructs the primers tool.
func NewPrimersTool(st *store.Store) *PrimersTool {
	return &PrimersTool{
		base: base{
			name:        "primers",
			description: "List primers annotated on a sequence, optionally filtered by name.",
			widget:      "table",
			tags:        []string{TagLLM, "search"},
			guidelines:  "List primers of one sequence. Optional primer-name filter.",
			schema: objectSchema(map[string]any{
				"sid":         map[string]any{"type": "integer", "description": "Sequence ID"},
				"name":        map[string]any{"type": "string", "description": "Sequence name"},
				"primer_name": map[string]any{"type": "string", "description": "Primer name filter"},
			}),
		},
		store: st,
	}
}

func (t *PrimersTool) Execute(ctx context.Context, params map[string]any, _ string) (Result, error) {
	seq, err := resolveParam(ctx, t.store, params, store.ResolveOpts{})
	if errors.Is(err, store.ErrNotFound) {
		return Result{"error": fmt.Sprintf("Sequence not found: %v", params["name"])}, nil
	}
	if err != nil {
		return nil, err
	}
	primers, err := t.store.PrimersForSequence(ctx, seq.ID, paramString(params, "primer_name"))
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(primers))
	for _, p := range primers {
		items = append(items, primerPayload(p))
	}
	return Result{"sequence": seq.Name, "sid": seq.ID, "primers": items, "total": len(items)}, nil
}

func (t *PrimersTool) FormatResult(r Result) string {
	if msg := formatError(r); msg != "" {
		return msg
	}
	return fmt.Sprintf("%v primer(s) on %v", r["total"], r["sequence"])
}

// ExtractTool slices a subsequence by feature, primer, or region.
type ExtractTool struct {
	base
	store *store.Store
}

// NewExtractTool constructs the extract tool.
func NewExtractTool(st *store.Store) *ExtractTool {
	return &ExtractTool{
		base: base{
			name:        "extract",
			description: "Extract a subsequence by feature name, primer name, or region from a sequence.",
			widget:      "text",
			tags:        []string{TagLLM, "analysis"},
			guidelines:  "Extract subsequence by feature, primer, or region from a sequence.",
			schema: objectSchema(map[string]any{
				"sequence_name": map[string]any{"type": "string", "description": "Name of the sequence/plasmid"},
				"feature_name":  map[string]any{"type": "string", "description": "Feature name to extract"},
				"primer_name":   map[string]any{"type": "string", "description": "Primer name to extract"},
				"region":        map[string]any{"type": "string", "description": "Region as start:end (1-based, inclusive)"},
			}, "sequence_name"),
		},
		store: st,
	}
}

func (t *ExtractTool) Execute(ctx context.Context, params map[string]any, _ string) (Result, error) {
	seqName := paramString(params, "sequence_name")
	seq, err := t.store.ResolveFuzzy(ctx, seqName)
	if errors.Is(err, store.ErrNotFound) {
		return Result{"error": fmt.Sprintf("Sequence not found: %s", seqName)}, nil
	}
	if err != nil {
		return nil, err
	}

	if primerName := paramString(params, "primer_name"); primerName != "" {
		primer, err := t.store.FindPrimerFuzzy(ctx, seq.ID, primerName)
		if errors.Is(err, store.ErrNotFound) {
			return Result{"error": fmt.Sprintf("Primer not found: %s on %s", primerName, seq.Name)}, nil
		}
		if err != nil {
			return nil, err
		}
		return Result{
			"sequence": primer.Sequence,
			"name":     primer.Name,
			"source":   seq.Name,
			"start":    derefInt(primer.Start),
			"end":      derefInt(primer.End),
			"strand":   derefInt(primer.Strand),
			"length":   len(primer.Sequence),
		}, nil
	}

	if featureName := paramString(params, "feature_name"); featureName != "" {
		ft, err := t.store.FindFeatureFuzzy(ctx, seq.ID, featureName)
		if errors.Is(err, store.ErrNotFound) {
			return Result{"error": fmt.Sprintf("Feature not found: %s on %s", featureName, seq.Name)}, nil
		}
		if err != nil {
			return nil, err
		}
		sub := sliceSequence(seq.Sequence, ft.Start, ft.End, seq.Topology)
		if ft.Strand == -1 {
			sub = reverseComplement(sub)
		}
		return Result{
			"sequence": sub,
			"name":     ft.Name,
			"source":   seq.Name,
			"start":    ft.Start,
			"end":      ft.End,
			"strand":   ft.Strand,
			"length":   len(sub),
		}, nil
	}

	if region := paramString(params, "region"); region != "" {
		var start, end int
		if _, err := fmt.Sscanf(region, "%d:%d", &start, &end); err != nil {
			return Result{"error": fmt.Sprintf("Invalid region format: %s. Use start:end (1-based)", region)}, nil
		}
		sub := sliceSequence(seq.Sequence, start-1, end, seq.Topology)
		return Result{
			"sequence": sub,
			"name":     region,
			"source":   seq.Name,
			"start":    start,
			"end":      end,
			"strand":   1,
			"length":   len(sub),
		}, nil
	}

	// No selector: the whole sequence.
	return Result{
		"sequence": seq.Sequence,
		"name":     seq.Name,
		"source":   seq.Name,
		"start":    1,
		"end":      len(seq.Sequence),
		"strand":   1,
		"length":   len(seq.Sequence),
	}, nil
}

func (t *ExtractTool) FormatResult(r Result) string {
	if msg := formatError(r); msg != "" {
		return msg
	}
	return fmt.Sprintf("Extracted %v from %v: %v bp", r["name"], r["source"], r["length"])
}

// SummaryForLLM keeps the raw sequence out of the LLM context; the
// router pipes it to downstream tools out of band.
func (t *ExtractTool) SummaryForLLM(r Result) string {
	if msg := formatError(r); msg != "" {
		return msg
	}
	return fmt.Sprintf("Extracted %v from %v: %v bp.", r["name"], r["source"], r["length"])
}

func featurePayload(ft store.Feature) map[string]any {
	return map[string]any{
		"name":   ft.Name,
		"type":   ft.Type,
		"start":  ft.Start,
		"end":    ft.End,
		"strand": ft.Strand,
	}
}

func primerPayload(p store.Primer) map[string]any {
	out := map[string]any{
		"name":     p.Name,
		"sequence": p.Sequence,
		"length":   len(p.Sequence),
	}
	if p.Tm != nil {
		out["tm"] = *p.Tm
	}
	if p.Start != nil {
		out["start"] = *p.Start
	}
	if p.End != nil {
		out["end"] = *p.End
	}
	if p.Strand != nil {
		out["strand"] = *p.Strand
	}
	return out
}

func derefInt(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}
