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
	"strconv"
	"strings"
)

// ParseGenBank reads a flat-file GenBank record. Coordinates in the
// feature table are 1-based inclusive and come out 0-based exclusive.
// primer_bind features become primers rather than plain features.
func ParseGenBank(path string) (*ParseResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening genbank: %w", err)
	}
	defer f.Close()

	result := &ParseResult{Topology: "linear", Meta: map[string]string{}}
	var (
		seq        strings.Builder
		section    string
		current    *gbFeature
		features   []gbFeature
		defParts   []string
		inLocation bool
	)

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "LOCUS"):
			parseLocusLine(line, result)
			section = ""
		case strings.HasPrefix(line, "DEFINITION"):
			defParts = append(defParts, strings.TrimSpace(strings.TrimPrefix(line, "DEFINITION")))
			section = "DEFINITION"
		case strings.HasPrefix(line, "FEATURES"):
			section = "FEATURES"
		case strings.HasPrefix(line, "ORIGIN"):
			section = "ORIGIN"
		case strings.HasPrefix(line, "//"):
			section = ""
		case section == "DEFINITION" && strings.HasPrefix(line, "            "):
			defParts = append(defParts, strings.TrimSpace(line))
		case section == "FEATURES":
			trimmed := strings.TrimSpace(line)
			if trimmed == "" {
				continue
			}
			indent := len(line) - len(strings.TrimLeft(line, " "))
			if indent == 5 {
				// New feature header: type at column 5, location at 21.
				fields := strings.Fields(trimmed)
				if len(fields) < 2 {
					continue
				}
				features = append(features, gbFeature{featType: fields[0], location: fields[1]})
				current = &features[len(features)-1]
				inLocation = !strings.HasSuffix(fields[1], ")") && strings.ContainsAny(fields[1], "(,")
			} else if current != nil {
				if strings.HasPrefix(trimmed, "/") {
					inLocation = false
					key, value, _ := strings.Cut(trimmed[1:], "=")
					current.qualifiers = append(current.qualifiers, [2]string{key, strings.Trim(value, `"`)})
				} else if inLocation {
					current.location += trimmed
					inLocation = !strings.HasSuffix(trimmed, ")") && strings.ContainsAny(current.location, "(")
				} else if len(current.qualifiers) > 0 {
					// Continuation of a multi-line qualifier value.
					last := &current.qualifiers[len(current.qualifiers)-1]
					last[1] = strings.TrimSuffix(last[1], `"`) + " " + strings.Trim(trimmed, `"`)
				}
			}
		case section == "ORIGIN":
			for _, field := range strings.Fields(line) {
				if _, err := strconv.Atoi(field); err != nil {
					seq.WriteString(strings.ToUpper(field))
				}
			}
		default:
			if !strings.HasPrefix(line, " ") {
				section = ""
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading genbank %s: %w", path, err)
	}

	result.Sequence = seq.String()
	if result.SizeBP == 0 {
		result.SizeBP = len(result.Sequence)
	}
	if result.Name == "" {
		return nil, fmt.Errorf("genbank %s: missing LOCUS line", path)
	}
	result.Description = strings.TrimSuffix(strings.Join(defParts, " "), ".")

	for _, gf := range features {
		if gf.featType == "source" {
			continue
		}
		start, end, strand, err := parseLocation(gf.location)
		if err != nil {
			continue
		}
		quals := make(map[string]string, len(gf.qualifiers))
		for _, kv := range gf.qualifiers {
			if _, exists := quals[kv[0]]; !exists {
				quals[kv[0]] = kv[1]
			}
		}
		name := firstNonEmpty(quals["label"], quals["gene"], quals["product"], quals["note"], gf.featType)

		if gf.featType == "primer_bind" {
			primer := Primer{Name: name}
			if result.Sequence != "" && start >= 0 && end <= len(result.Sequence) {
				primer.Sequence = result.Sequence[start:end]
				if strand == -1 {
					primer.Sequence = reverseComplement(primer.Sequence)
				}
			}
			s, e, st := start, end, strand
			primer.Start, primer.End, primer.Strand = &s, &e, &st
			result.Primers = append(result.Primers, primer)
			continue
		}
		result.Features = append(result.Features, Feature{
			Name:       name,
			Type:       gf.featType,
			Start:      start,
			End:        end,
			Strand:     strand,
			Qualifiers: quals,
		})
	}
	return result, nil
}

type gbFeature struct {
	featType   string
	location   string
	qualifiers [][2]string
}

// parseLocusLine extracts name, size, molecule type and topology.
// Example: "LOCUS       pUC19        2686 bp    DNA     circular SYN 27-APR-2023"
func parseLocusLine(line string, result *ParseResult) {
	fields := strings.Fields(line)
	for i, field := range fields {
		switch {
		case i == 1:
			result.Name = field
		case field == "bp" && i > 0:
			if n, err := strconv.Atoi(fields[i-1]); err == nil {
				result.SizeBP = n
			}
		case field == "circular":
			result.Topology = "circular"
		case field == "linear":
			result.Topology = "linear"
		case field == "DNA" || field == "RNA" || strings.Contains(field, "DNA") || strings.Contains(field, "RNA"):
			result.Meta["molecule_type"] = field
		}
	}
}

// parseLocation handles "a..b", "a", "complement(...)" and "join(...)".
// Joins collapse to the outer span. Returns 0-based end-exclusive
// coordinates.
func parseLocation(loc string) (start, end, strand int, err error) {
	strand = 1
	loc = strings.TrimSpace(loc)
	if strings.HasPrefix(loc, "complement(") && strings.HasSuffix(loc, ")") {
		strand = -1
		loc = loc[len("complement(") : len(loc)-1]
	}
	if strings.HasPrefix(loc, "join(") && strings.HasSuffix(loc, ")") {
		loc = loc[len("join(") : len(loc)-1]
	}
	loc = strings.ReplaceAll(loc, "<", "")
	loc = strings.ReplaceAll(loc, ">", "")

	lo, hi := 0, 0
	for i, span := range strings.Split(loc, ",") {
		span = strings.TrimSpace(span)
		a, b, found := strings.Cut(span, "..")
		if !found {
			b = a
		}
		s, err1 := strconv.Atoi(strings.TrimSpace(a))
		e, err2 := strconv.Atoi(strings.TrimSpace(b))
		if err1 != nil || err2 != nil {
			return 0, 0, 0, fmt.Errorf("bad location span %q", span)
		}
		if i == 0 || s < lo {
			lo = s
		}
		if e > hi {
			hi = e
		}
	}
	if lo < 1 || hi < lo {
		return 0, 0, 0, fmt.Errorf("bad location %q", loc)
	}
	return lo - 1, hi, strand, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

var complementTable = func() [256]byte {
	var t [256]byte
	for i := range t {
		t[i] = byte(i)
	}
	pairs := map[byte]byte{
		'A': 'T', 'T': 'A', 'G': 'C', 'C': 'G', 'U': 'A',
		'R': 'Y', 'Y': 'R', 'S': 'S', 'W': 'W', 'K': 'M', 'M': 'K',
		'B': 'V', 'V': 'B', 'D': 'H', 'H': 'D', 'N': 'N',
	}
	for a, b := range pairs {
		t[a] = b
		t[a+'a'-'A'] = b + 'a' - 'A'
	}
	return t
}()

func reverseComplement(s string) string {
	out := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		out[len(s)-1-i] = complementTable[s[i]]
	}
	return string(out)
}
