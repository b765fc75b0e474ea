// Copyright (C) 2025 MolBioHive (opensource@molbiohive.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package parsers turns sequence files into ParseResult records.
//
// Parsers are pure functions of the file path. The registry maps the
// parser name from a watcher rule to an implementation; the "biopython"
// name is a family selected further by file extension.
package parsers

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Feature is an annotated region in a parsed file. Coordinates are
// 0-based, end-exclusive.
type Feature struct {
	Name       string
	Type       string
	Start      int
	End        int
	Strand     int
	Qualifiers map[string]string
}

// Primer is an annotated oligo in a parsed file. Position fields are nil
// when the source format does not carry them.
type Primer struct {
	Name     string
	Sequence string
	Tm       *float64
	Start    *int
	End      *int
	Strand   *int
}

// ParseResult is the normalized output of any parser.
type ParseResult struct {
	Name        string
	Sequence    string
	SizeBP      int
	Topology    string // circular | linear
	Description string
	Features    []Feature
	Primers     []Primer
	Meta        map[string]string
}

// Func is a parser implementation.
type Func func(path string) (*ParseResult, error)

// genericParsers handles parser names that resolve to one implementation
// regardless of extension.
var genericParsers = map[string]Func{
	"snapgene": ParseSnapGene,
}

// extensionParsers selects within the "biopython" family by extension.
var extensionParsers = map[string]Func{
	".gb":    ParseGenBank,
	".gbk":   ParseGenBank,
	".fasta": ParseFASTA,
	".fa":    ParseFASTA,
}

// ForFile resolves the parser for a rule's parser name and a concrete
// file path.
func ForFile(parserName, path string) (Func, error) {
	if fn, ok := genericParsers[parserName]; ok {
		return fn, nil
	}
	if parserName == "biopython" || parserName == "" {
		ext := strings.ToLower(filepath.Ext(path))
		if fn, ok := extensionParsers[ext]; ok {
			return fn, nil
		}
		return nil, fmt.Errorf("no parser for extension %q", ext)
	}
	return nil, fmt.Errorf("unknown parser %q", parserName)
}
