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
	"strconv"
	"strings"

	"github.com/molbiohive/hive-browser/internal/blast"
	"github.com/molbiohive/hive-browser/internal/config"
	"github.com/molbiohive/hive-browser/internal/store"
)

// BlastTool searches the local similarity databases.
type BlastTool struct {
	base
	store   *store.Store
	runner  *blast.Runner
	builder *blast.Builder
	cfg     config.BlastConfig
}

// NewBlastTool constructs the blast tool.
func NewBlastTool(st *store.Store, runner *blast.Runner, builder *blast.Builder, cfg config.BlastConfig) *BlastTool {
	return &BlastTool{
		base: base{
			name:        "blast",
			description: "BLAST a sequence against the indexed library.",
			widget:      "table",
			tags:        []string{TagLLM, "analysis"},
			guidelines: "Similarity search against the local library. 'sequence' accepts a numeric " +
				"sequence ID, a sequence name, or raw residues. Program is auto-detected.",
			schema: objectSchema(map[string]any{
				"sequence": map[string]any{"type": "string",
					"description": "Numeric SID, database name, or raw residue string"},
				"program":    map[string]any{"type": "string", "description": "blastn, blastp, or auto", "default": "auto"},
				"evalue":     map[string]any{"type": "number", "description": "E-value cutoff"},
				"max_hits":   map[string]any{"type": "integer", "description": "Maximum hits to return"},
				"word_size":  map[string]any{"type": "integer", "description": "Word size"},
				"matrix":     map[string]any{"type": "string", "description": "Scoring matrix (blastp)"},
				"task":       map[string]any{"type": "string", "description": "Program task variant"},
				"gap_open":   map[string]any{"type": "integer", "description": "Gap open penalty"},
				"gap_extend": map[string]any{"type": "integer", "description": "Gap extension penalty"},
				"extra":      map[string]any{"type": "object", "description": "Additional pass-through flags"},
			}, "sequence"),
		},
		store:   st,
		runner:  runner,
		builder: builder,
		cfg:     cfg,
	}
}

func (t *BlastTool) Execute(ctx context.Context, params map[string]any, _ string) (Result, error) {
	raw := strings.TrimSpace(paramString(params, "sequence"))
	if raw == "" {
		return Result{"error": "Empty sequence"}, nil
	}

	query, err := t.resolveQuery(ctx, raw)
	if err != nil {
		return Result{"error": err.Error()}, nil
	}

	program := strings.ToLower(paramString(params, "program"))
	switch program {
	case "", "auto":
		program = blast.DetectProgram(query)
	case "blastn", "blastp":
	default:
		return Result{"error": fmt.Sprintf("Unknown program: %s", program)}, nil
	}

	req := blast.Request{
		Program: program,
		Query:   query,
		Evalue:  paramFloat(params, "evalue", t.cfg.DefaultEvalue),
		MaxHits: paramInt(params, "max_hits", t.cfg.DefaultMaxHits),
		Extra:   map[string]string{},
	}
	if program == "blastn" {
		req.DB = t.builder.NuclDB()
	} else {
		req.DB = t.builder.ProtDB()
	}
	// param names map to the blastn/blastp flag spellings
	for param, flag := range map[string]string{
		"word_size":  "word_size",
		"matrix":     "matrix",
		"task":       "task",
		"gap_open":   "gapopen",
		"gap_extend": "gapextend",
	} {
		if v := paramString(params, param); v != "" {
			req.Extra[flag] = v
		}
	}
	if extra := paramMap(params, "extra"); extra != nil {
		for key := range extra {
			if v := paramString(extra, key); v != "" {
				req.Extra[key] = v
			}
		}
	}
	_, explicitEvalue := params["evalue"]
	blast.ShortQueryParams(&req, !explicitEvalue)

	hits, err := t.runner.Run(ctx, req)
	if err != nil {
		return Result{"error": err.Error()}, nil
	}

	payload := make([]map[string]any, 0, len(hits))
	for _, h := range hits {
		item := map[string]any{
			"subject":  h.Subject,
			"identity": h.Identity,
			"length":   h.Length,
			"mismatch": h.Mismatch,
			"q_start":  h.QStart,
			"q_end":    h.QEnd,
			"s_start":  h.SStart,
			"s_end":    h.SEnd,
			"evalue":   h.Evalue,
			"bitscore": h.Bitscore,
		}
		if path := t.subjectFilePath(ctx, h.Subject); path != "" {
			item["file_path"] = config.DisplayFilePath(path)
		}
		payload = append(payload, item)
	}
	return Result{
		"hits":         payload,
		"total":        len(payload),
		"query_length": len(query),
		"program":      program,
	}, nil
}

// resolveQuery turns the sequence parameter into raw residues: numeric
// strings are SIDs, short alphabetic strings may be database names, and
// anything else is taken verbatim.
func (t *BlastTool) resolveQuery(ctx context.Context, raw string) (string, error) {
	if sid, err := strconv.ParseInt(raw, 10, 64); err == nil {
		seq, err := t.store.Resolve(ctx, store.ResolveOpts{SID: sid})
		if errors.Is(err, store.ErrNotFound) {
			return "", fmt.Errorf("Sequence not found: %s", raw)
		}
		if err != nil {
			return "", err
		}
		return seq.Sequence, nil
	}
	if seq, err := t.store.Resolve(ctx, store.ResolveOpts{Name: raw}); err == nil {
		return seq.Sequence, nil
	}
	cleaned := cleanSequence(raw)
	if cleaned == "" {
		return "", errors.New("Empty sequence")
	}
	return cleaned, nil
}

// subjectFilePath maps a BLAST subject id back to the library file it
// came from. Names were underscore-collapsed when the database was
// built.
func (t *BlastTool) subjectFilePath(ctx context.Context, subject string) string {
	for _, name := range []string{subject, strings.ReplaceAll(subject, "_", " ")} {
		seq, err := t.store.Resolve(ctx, store.ResolveOpts{Name: name, LoadFile: true})
		if err == nil && seq.File != nil {
			return seq.File.FilePath
		}
	}
	return ""
}

func (t *BlastTool) FormatResult(r Result) string {
	if msg := formatError(r); msg != "" {
		return msg
	}
	return fmt.Sprintf("%v hit(s) (%v, query %v bp)", r["total"], r["program"], r["query_length"])
}
