// Copyright (C) 2025 MolBioHive (opensource@molbiohive.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package tools

import (
	"fmt"
	"sort"
	"strings"
)

// cleanSequence uppercases and strips whitespace from a residue string.
func cleanSequence(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\r':
			return -1
		}
		if r >= 'a' && r <= 'z' {
			return r - ('a' - 'A')
		}
		return r
	}, s)
}

var iupacComplement = func() [256]byte {
	var t [256]byte
	for i := range t {
		t[i] = byte(i)
	}
	for a, b := range map[byte]byte{
		'A': 'T', 'T': 'A', 'G': 'C', 'C': 'G', 'U': 'A',
		'R': 'Y', 'Y': 'R', 'S': 'S', 'W': 'W', 'K': 'M', 'M': 'K',
		'B': 'V', 'V': 'B', 'D': 'H', 'H': 'D', 'N': 'N',
	} {
		t[a] = b
		t[a+32] = b + 32
	}
	return t
}()

// reverseComplement returns the IUPAC reverse complement.
func reverseComplement(seq string) string {
	out := make([]byte, len(seq))
	for i := 0; i < len(seq); i++ {
		out[len(seq)-1-i] = iupacComplement[seq[i]]
	}
	return string(out)
}

// Codon tables. 1 is the standard code; 11 (bacterial) shares the same
// codon assignments and differs only in start-codon treatment, which
// translation of a fixed frame does not use.
var standardCodons = map[string]byte{
	"TTT": 'F', "TTC": 'F', "TTA": 'L', "TTG": 'L',
	"CTT": 'L', "CTC": 'L', "CTA": 'L', "CTG": 'L',
	"ATT": 'I', "ATC": 'I', "ATA": 'I', "ATG": 'M',
	"GTT": 'V', "GTC": 'V', "GTA": 'V', "GTG": 'V',
	"TCT": 'S', "TCC": 'S', "TCA": 'S', "TCG": 'S',
	"CCT": 'P', "CCC": 'P', "CCA": 'P', "CCG": 'P',
	"ACT": 'T', "ACC": 'T', "ACA": 'T', "ACG": 'T',
	"GCT": 'A', "GCC": 'A', "GCA": 'A', "GCG": 'A',
	"TAT": 'Y', "TAC": 'Y', "TAA": '*', "TAG": '*',
	"CAT": 'H', "CAC": 'H', "CAA": 'Q', "CAG": 'Q',
	"AAT": 'N', "AAC": 'N', "AAA": 'K', "AAG": 'K',
	"GAT": 'D', "GAC": 'D', "GAA": 'E', "GAG": 'E',
	"TGT": 'C', "TGC": 'C', "TGA": '*', "TGG": 'W',
	"CGT": 'R', "CGC": 'R', "CGA": 'R', "CGG": 'R',
	"AGT": 'S', "AGC": 'S', "AGA": 'R', "AGG": 'R',
	"GGT": 'G', "GGC": 'G', "GGA": 'G', "GGG": 'G',
}

// translateDNA translates a DNA string in frame 0, trimming any trailing
// partial codon. Ambiguous codons become X.
func translateDNA(seq string, table int) (string, error) {
	if table != 1 && table != 11 {
		return "", fmt.Errorf("unsupported codon table %d", table)
	}
	n := len(seq) - len(seq)%3
	protein := make([]byte, 0, n/3)
	for i := 0; i+3 <= n; i += 3 {
		aa, ok := standardCodons[seq[i:i+3]]
		if !ok {
			aa = 'X'
		}
		protein = append(protein, aa)
	}
	return string(protein), nil
}

// restrictionEnzymes maps enzyme name to recognition site and the cut
// offset within the site (top strand). Sites listed here are
// unambiguous; that covers the workhorse enzymes of a cloning lab.
var restrictionEnzymes = map[string]struct {
	Site      string
	CutOffset int
}{
	"EcoRI":   {"GAATTC", 1},
	"EcoRV":   {"GATATC", 3},
	"BamHI":   {"GGATCC", 1},
	"BglII":   {"AGATCT", 1},
	"HindIII": {"AAGCTT", 1},
	"XhoI":    {"CTCGAG", 1},
	"SalI":    {"GTCGAC", 1},
	"XbaI":    {"TCTAGA", 1},
	"SpeI":    {"ACTAGT", 1},
	"NheI":    {"GCTAGC", 1},
	"NotI":    {"GCGGCCGC", 2},
	"PstI":    {"CTGCAG", 5},
	"SmaI":    {"CCCGGG", 3},
	"KpnI":    {"GGTACC", 5},
	"SacI":    {"GAGCTC", 5},
	"NcoI":    {"CCATGG", 1},
	"NdeI":    {"CATATG", 2},
	"SphI":    {"GCATGC", 5},
	"ApaI":    {"GGGCCC", 5},
	"ClaI":    {"ATCGAT", 2},
	"MluI":    {"ACGCGT", 1},
	"PvuII":   {"CAGCTG", 3},
	"ScaI":    {"AGTACT", 3},
	"AvrII":   {"CCTAGG", 1},
	"AflII":   {"CTTAAG", 1},
	"AgeI":    {"ACCGGT", 1},
	"ApaLI":   {"GTGCAC", 1},
	"BsrGI":   {"TGTACA", 1},
	"DraI":    {"TTTAAA", 3},
	"HpaI":    {"GTTAAC", 3},
	"NruI":    {"TCGCGA", 3},
	"PciI":    {"ACATGT", 1},
	"SnaBI":   {"TACGTA", 3},
	"StuI":    {"AGGCCT", 3},
	"SspI":    {"AATATT", 3},
}

// lookupEnzyme resolves an enzyme name case-insensitively, returning the
// canonical name.
func lookupEnzyme(name string) (string, struct {
	Site      string
	CutOffset int
}, bool) {
	for canonical, enzyme := range restrictionEnzymes {
		if strings.EqualFold(canonical, name) {
			return canonical, enzyme, true
		}
	}
	return "", struct {
		Site      string
		CutOffset int
	}{}, false
}

// cutSites returns 1-based cut positions of an enzyme on the sequence.
// Circular sequences are scanned across the origin.
func cutSites(seq, site string, cutOffset int, circular bool) []int {
	var sites []int
	search := seq
	if circular && len(seq) >= len(site) {
		// extend past the origin to catch sites spanning it
		search = seq + seq[:len(site)-1]
	}
	for i := 0; i+len(site) <= len(search); i++ {
		if search[i:i+len(site)] == site {
			pos := (i+cutOffset)%len(seq) + 1
			sites = append(sites, pos)
		}
	}
	return sites
}

// fragmentSizes computes ordered fragment lengths from sorted unique cut
// positions (1-based). Circular digests wrap the final fragment to the
// first cut; linear digests include both ends.
func fragmentSizes(cuts []int, seqLen int, circular bool) []int {
	if len(cuts) == 0 {
		return []int{seqLen}
	}
	var frags []int
	if circular {
		for i := range cuts {
			if i+1 < len(cuts) {
				frags = append(frags, cuts[i+1]-cuts[i])
			} else {
				frags = append(frags, seqLen-cuts[i]+cuts[0])
			}
		}
	} else {
		frags = append(frags, cuts[0])
		for i := 1; i < len(cuts); i++ {
			frags = append(frags, cuts[i]-cuts[i-1])
		}
		frags = append(frags, seqLen-cuts[len(cuts)-1])
	}
	// largest first, gel order
	sort.Sort(sort.Reverse(sort.IntSlice(frags)))
	return frags
}

// sliceSequence slices with 0-based end-exclusive coordinates, wrapping
// around the origin when start > end on a circular sequence.
func sliceSequence(seq string, start, end int, topology string) string {
	if start < 0 {
		start = 0
	}
	if start > len(seq) {
		start = len(seq)
	}
	if end < 0 {
		end = 0
	}
	if end > len(seq) {
		end = len(seq)
	}
	if start <= end {
		return seq[start:end]
	}
	if topology == "circular" {
		return seq[start:] + seq[:end]
	}
	return ""
}
