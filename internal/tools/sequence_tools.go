// Copyright (C) 2025 MolBioHive (opensource@molbiohive.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package tools

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
)

// The stateless analysis tools: gc, revcomp, transcribe, translate and
// digest operate on raw residue strings handed to them, usually piped
// from extract.

// GCTool reports nucleotide composition.
type GCTool struct{ base }

// NewGCTool constructs the gc tool.
func NewGCTool() *GCTool {
	return &GCTool{base{
		name:        "gc",
		description: "Calculate GC content and nucleotide composition of a DNA sequence.",
		widget:      "text",
		tags:        []string{TagLLM, "analysis"},
		guidelines:  "GC content and nucleotide composition.",
		schema: objectSchema(map[string]any{
			"sequence": map[string]any{"type": "string", "description": "Nucleotide sequence (ATGC)"},
		}, "sequence"),
	}}
}

func (t *GCTool) Execute(_ context.Context, params map[string]any, _ string) (Result, error) {
	seq := cleanSequence(paramString(params, "sequence"))
	if seq == "" {
		return Result{"error": "Empty sequence"}, nil
	}
	var a, c, g, tc, n int
	for i := 0; i < len(seq); i++ {
		switch seq[i] {
		case 'A':
			a++
		case 'C':
			c++
		case 'G':
			g++
		case 'T':
			tc++
		case 'N':
			n++
		}
	}
	length := len(seq)
	gcPercent := float64(g+c) / float64(length) * 100
	return Result{
		"gc_percent": round2(gcPercent),
		"at_percent": round2(100 - gcPercent),
		"length":     length,
		"g":          g,
		"c":          c,
		"a":          a,
		"t":          tc,
		"n":          n,
	}, nil
}

func (t *GCTool) FormatResult(r Result) string {
	if msg := formatError(r); msg != "" {
		return msg
	}
	return fmt.Sprintf("GC content: %.1f%% (%v bp)", r["gc_percent"], r["length"])
}

// RevcompTool returns the IUPAC reverse complement.
type RevcompTool struct{ base }

// NewRevcompTool constructs the revcomp tool.
func NewRevcompTool() *RevcompTool {
	return &RevcompTool{base{
		name:        "revcomp",
		description: "Reverse complement a DNA sequence (IUPAC alphabet).",
		widget:      "text",
		tags:        []string{TagLLM, "analysis"},
		guidelines:  "Reverse complement of a DNA sequence.",
		schema: objectSchema(map[string]any{
			"sequence": map[string]any{"type": "string", "description": "Nucleotide sequence"},
		}, "sequence"),
	}}
}

func (t *RevcompTool) Execute(_ context.Context, params map[string]any, _ string) (Result, error) {
	seq := cleanSequence(paramString(params, "sequence"))
	if seq == "" {
		return Result{"error": "Empty sequence"}, nil
	}
	rc := reverseComplement(seq)
	return Result{"sequence": rc, "length": len(rc)}, nil
}

func (t *RevcompTool) FormatResult(r Result) string {
	if msg := formatError(r); msg != "" {
		return msg
	}
	return fmt.Sprintf("Reverse complement: %v bp", r["length"])
}

// TranscribeTool converts DNA to RNA.
type TranscribeTool struct{ base }

// NewTranscribeTool constructs the transcribe tool.
func NewTranscribeTool() *TranscribeTool {
	return &TranscribeTool{base{
		name:        "transcribe",
		description: "Transcribe a DNA sequence to RNA (T to U).",
		widget:      "text",
		tags:        []string{TagLLM, "analysis"},
		guidelines:  "DNA to RNA transcription.",
		schema: objectSchema(map[string]any{
			"sequence": map[string]any{"type": "string", "description": "DNA sequence"},
		}, "sequence"),
	}}
}

func (t *TranscribeTool) Execute(_ context.Context, params map[string]any, _ string) (Result, error) {
	seq := cleanSequence(paramString(params, "sequence"))
	if seq == "" {
		return Result{"error": "Empty sequence"}, nil
	}
	rna := strings.ReplaceAll(seq, "T", "U")
	return Result{"rna": rna, "length": len(rna)}, nil
}

func (t *TranscribeTool) FormatResult(r Result) string {
	if msg := formatError(r); msg != "" {
		return msg
	}
	return fmt.Sprintf("Transcribed: %v nt", r["length"])
}

// TranslateTool translates DNA or RNA to protein.
type TranslateTool struct{ base }

// NewTranslateTool constructs the translate tool.
func NewTranslateTool() *TranslateTool {
	return &TranslateTool{base{
		name:        "translate",
		description: "Translate a DNA or RNA sequence to protein.",
		widget:      "text",
		tags:        []string{TagLLM, "analysis"},
		guidelines:  "Translate DNA/RNA to protein. table=1 standard, table=11 bacterial.",
		schema: objectSchema(map[string]any{
			"sequence": map[string]any{"type": "string", "description": "Nucleotide sequence (ATGC or AUGC) to translate"},
			"table":    map[string]any{"type": "integer", "description": "Codon table number (1=Standard, 11=Bacterial)", "default": 1},
		}, "sequence"),
	}}
}

func (t *TranslateTool) Execute(_ context.Context, params map[string]any, _ string) (Result, error) {
	seq := cleanSequence(paramString(params, "sequence"))
	seq = strings.ReplaceAll(seq, "U", "T")
	if len(seq) < 3 {
		return Result{"error": "Sequence too short to translate (need at least 3 nucleotides)"}, nil
	}
	table := paramInt(params, "table", 1)
	protein, err := translateDNA(seq, table)
	if err != nil {
		return Result{"error": fmt.Sprintf("Translation failed: %v", err)}, nil
	}
	return Result{
		"protein":           protein,
		"nucleotide_length": len(seq),
		"protein_length":    len(protein),
		"stop_codons":       strings.Count(protein, "*"),
		"complete":          strings.HasPrefix(protein, "M") && strings.HasSuffix(protein, "*"),
		"codon_table":       table,
	}, nil
}

func (t *TranslateTool) FormatResult(r Result) string {
	if msg := formatError(r); msg != "" {
		return msg
	}
	tag := ""
	if complete, _ := r["complete"].(bool); complete {
		tag = " (complete ORF)"
	}
	return fmt.Sprintf("Translated to %v amino acids%s", r["protein_length"], tag)
}

// DigestTool simulates restriction digestion.
type DigestTool struct{ base }

// NewDigestTool constructs the digest tool.
func NewDigestTool() *DigestTool {
	return &DigestTool{base{
		name:        "digest",
		description: "Find restriction enzyme cut sites and calculate fragment sizes.",
		widget:      "text",
		tags:        []string{TagLLM, "analysis"},
		guidelines:  "Restriction digest. Provide enzymes list and sequence.",
		schema: objectSchema(map[string]any{
			"sequence": map[string]any{"type": "string", "description": "Nucleotide sequence to digest"},
			"enzymes":  map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": `Enzyme names, e.g. ["EcoRI", "BamHI"]`},
			"circular": map[string]any{"type": "boolean", "description": "True for circular (plasmid), False for linear", "default": true},
		}, "sequence", "enzymes"),
	}}
}

func (t *DigestTool) Execute(_ context.Context, params map[string]any, _ string) (Result, error) {
	seq := cleanSequence(paramString(params, "sequence"))
	if seq == "" {
		return Result{"error": "Empty sequence"}, nil
	}
	names := paramStringSlice(params, "enzymes")
	if len(names) == 0 {
		return Result{"error": "No enzymes given"}, nil
	}
	circular := paramBool(params, "circular", true)

	type enzymeHit struct {
		canonical string
		sites     []int
	}
	var hits []enzymeHit
	for _, name := range names {
		canonical, enzyme, ok := lookupEnzyme(name)
		if !ok {
			return Result{"error": fmt.Sprintf("Invalid enzyme name: %s", name)}, nil
		}
		hits = append(hits, enzymeHit{canonical, cutSites(seq, enzyme.Site, enzyme.CutOffset, circular)})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].canonical < hits[j].canonical })

	var enzymeResults []map[string]any
	cutSet := make(map[int]struct{})
	for _, h := range hits {
		sites := h.sites
		if sites == nil {
			sites = []int{}
		}
		enzymeResults = append(enzymeResults, map[string]any{
			"name":     h.canonical,
			"sites":    sites,
			"num_cuts": len(sites),
		})
		for _, s := range sites {
			cutSet[s] = struct{}{}
		}
	}
	allCuts := make([]int, 0, len(cutSet))
	for s := range cutSet {
		allCuts = append(allCuts, s)
	}
	sort.Ints(allCuts)

	return Result{
		"enzymes":         enzymeResults,
		"fragments":       fragmentSizes(allCuts, len(seq), circular),
		"total_cuts":      len(allCuts),
		"sequence_length": len(seq),
		"circular":        circular,
	}, nil
}

func (t *DigestTool) FormatResult(r Result) string {
	if msg := formatError(r); msg != "" {
		return msg
	}
	return fmt.Sprintf("%v cut(s), fragments: %v", r["total_cuts"], r["fragments"])
}

// SummaryForLLM gives digest a denser summary than the generic digest of
// nested lists.
func (t *DigestTool) SummaryForLLM(r Result) string {
	if msg := formatError(r); msg != "" {
		return msg
	}
	var parts []string
	if enzymes, ok := r["enzymes"].([]map[string]any); ok {
		for _, e := range enzymes {
			parts = append(parts, fmt.Sprintf("%v: %v cut(s) at %v", e["name"], e["num_cuts"], e["sites"]))
		}
	}
	return strings.Join(parts, "; ") + fmt.Sprintf(". Fragments: %v", r["fragments"])
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
