// Copyright (C) 2025 MolBioHive (opensource@molbiohive.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package blast

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// ForbiddenFlags are parameter keys callers may never set: they would
// redirect I/O or send the query to an external service.
var ForbiddenFlags = map[string]struct{}{
	"outfmt":                 {},
	"out":                    {},
	"query":                  {},
	"db":                     {},
	"remote":                 {},
	"html":                   {},
	"import_search_strategy": {},
	"export_search_strategy": {},
	"gilist":                 {},
	"negative_gilist":        {},
	"seqidlist":              {},
	"negative_seqidlist":     {},
	"entrez_query":           {},
	"blastdb_version":        {},
}

// outFmtFields is the fixed tabular column order requested from BLAST.
const outFmtFields = "6 sseqid pident length mismatch gapopen qstart qend sstart send evalue bitscore"

// Hit is one parsed alignment.
type Hit struct {
	Subject   string  `json:"subject"`
	Identity  float64 `json:"identity"`
	Length    int     `json:"length"`
	Mismatch  int     `json:"mismatch"`
	GapOpen   int     `json:"gap_open"`
	QStart    int     `json:"q_start"`
	QEnd      int     `json:"q_end"`
	SStart    int     `json:"s_start"`
	SEnd      int     `json:"s_end"`
	Evalue    float64 `json:"evalue"`
	Bitscore  float64 `json:"bitscore"`
	FilePath  string  `json:"file_path,omitempty"`
}

// Request is one search against a built database.
type Request struct {
	Program string // blastn | blastp
	DB      string // database prefix
	Query   string // raw residues
	Evalue  float64
	MaxHits int
	// Extra holds pass-through flags (word_size, matrix, task, ...).
	// Forbidden keys are rejected before the process starts.
	Extra map[string]string
}

// Runner invokes BLAST+ search binaries.
type Runner struct {
	binDir string
}

// NewRunner resolves binaries from binDir, or PATH when empty.
func NewRunner(binDir string) *Runner {
	return &Runner{binDir: binDir}
}

// Run executes the search and parses the tabular output.
func (r *Runner) Run(ctx context.Context, req Request) ([]Hit, error) {
	if req.Program != "blastn" && req.Program != "blastp" {
		return nil, fmt.Errorf("unknown blast program %q", req.Program)
	}
	for key := range req.Extra {
		if _, bad := ForbiddenFlags[strings.TrimLeft(key, "-")]; bad {
			return nil, fmt.Errorf("blast parameter %q is not allowed", key)
		}
	}

	bin := req.Program
	if r.binDir != "" {
		bin = filepath.Join(r.binDir, bin)
	}
	args := []string{
		"-db", req.DB,
		"-outfmt", outFmtFields,
		"-evalue", strconv.FormatFloat(req.Evalue, 'g', -1, 64),
		"-max_target_seqs", strconv.Itoa(req.MaxHits),
	}
	for key, value := range req.Extra {
		args = append(args, "-"+strings.TrimLeft(key, "-"))
		if value != "" {
			args = append(args, value)
		}
	}

	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stdin = strings.NewReader(">query\n" + req.Query + "\n")
	output, err := cmd.Output()
	if err != nil {
		var stderr string
		if ee, ok := err.(*exec.ExitError); ok {
			stderr = strings.TrimSpace(string(ee.Stderr))
		}
		return nil, fmt.Errorf("%s failed: %w: %s", req.Program, err, stderr)
	}
	return ParseTabular(string(output))
}

// ParseTabular parses outfmt-6 lines in the column order of
// outFmtFields. Blank lines are skipped; a malformed line is an error.
func ParseTabular(output string) ([]Hit, error) {
	var hits []Hit
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) != 11 {
			return nil, fmt.Errorf("malformed blast line (%d fields): %q", len(fields), line)
		}
		var (
			h    Hit
			errs []error
		)
		h.Subject = fields[0]
		h.Identity, errs = parseF(fields[1], errs)
		h.Length, errs = parseI(fields[2], errs)
		h.Mismatch, errs = parseI(fields[3], errs)
		h.GapOpen, errs = parseI(fields[4], errs)
		h.QStart, errs = parseI(fields[5], errs)
		h.QEnd, errs = parseI(fields[6], errs)
		h.SStart, errs = parseI(fields[7], errs)
		h.SEnd, errs = parseI(fields[8], errs)
		h.Evalue, errs = parseF(fields[9], errs)
		h.Bitscore, errs = parseF(fields[10], errs)
		if len(errs) > 0 {
			return nil, fmt.Errorf("malformed blast line %q: %v", line, errs[0])
		}
		hits = append(hits, h)
	}
	return hits, nil
}

func parseF(s string, errs []error) (float64, []error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		errs = append(errs, err)
	}
	return v, errs
}

func parseI(s string, errs []error) (int, []error) {
	v, err := strconv.Atoi(s)
	if err != nil {
		errs = append(errs, err)
	}
	return v, errs
}

// DetectProgram classifies a residue string as nucleotide or protein by
// alphabet and returns the matching program name.
func DetectProgram(sequence string) string {
	seq := strings.ToUpper(strings.TrimSpace(sequence))
	if seq == "" {
		return "blastn"
	}
	nucl := 0
	for _, r := range seq {
		switch r {
		case 'A', 'C', 'G', 'T', 'U', 'N':
			nucl++
		}
	}
	if float64(nucl)/float64(len(seq)) >= 0.9 {
		return "blastn"
	}
	return "blastp"
}

// ShortQueryParams applies the short-query heuristics for blastn and
// mutates the request. Queries under 30 bp switch to the short task with
// word size 7 and dust off, unless the caller chose a task. The e-value
// is raised too (1000 under 20 bp, 10 under 50 bp), but only when
// adjustEvalue is set; callers pass false when the user supplied an
// explicit cutoff.
func ShortQueryParams(req *Request, adjustEvalue bool) {
	if req.Program != "blastn" {
		return
	}
	qlen := len(req.Query)
	if adjustEvalue {
		switch {
		case qlen < 20:
			req.Evalue = 1000
		case qlen < 50:
			req.Evalue = 10
		}
	}
	if qlen >= 30 {
		return
	}
	if req.Extra == nil {
		req.Extra = map[string]string{}
	}
	if _, set := req.Extra["task"]; set {
		return
	}
	req.Extra["task"] = "blastn-short"
	if _, set := req.Extra["word_size"]; !set {
		req.Extra["word_size"] = "7"
	}
	if _, set := req.Extra["dust"]; !set {
		req.Extra["dust"] = "no"
	}
}
