// Copyright (C) 2025 MolBioHive (opensource@molbiohive.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package parsers

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// ParseFASTA reads a single-record FASTA file. Multi-record files are
// rejected; the watcher treats one file as one sequence. FASTA carries
// no annotations, so the result has no features or primers and the
// topology defaults to linear.
func ParseFASTA(path string) (*ParseResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening fasta: %w", err)
	}
	defer f.Close()

	var (
		id, description string
		seq             strings.Builder
		sawHeader       bool
	)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, ">") {
			if sawHeader {
				return nil, fmt.Errorf("fasta %s: multiple records, expected one", path)
			}
			sawHeader = true
			header := strings.TrimSpace(line[1:])
			id, description, _ = strings.Cut(header, " ")
			description = strings.TrimSpace(description)
			continue
		}
		if !sawHeader {
			return nil, fmt.Errorf("fasta %s: sequence data before header", path)
		}
		seq.WriteString(line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading fasta %s: %w", path, err)
	}
	if !sawHeader {
		return nil, fmt.Errorf("fasta %s: no record found", path)
	}
	sequence := strings.ToUpper(seq.String())
	if sequence == "" {
		return nil, fmt.Errorf("fasta %s: record %q has no sequence", path, id)
	}
	return &ParseResult{
		Name:        id,
		Sequence:    sequence,
		SizeBP:      len(sequence),
		Topology:    "linear",
		Description: description,
		Meta:        map[string]string{},
	}, nil
}
