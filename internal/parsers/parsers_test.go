// Copyright (C) 2025 MolBioHive (opensource@molbiohive.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package parsers

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

func writeFixture(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestParseFASTA(t *testing.T) {
	path := writeFixture(t, "insert.fa", `>insert1 synthetic GFP insert
atgagtaaaggagaagaacttttcact
ggagttgtcccaattcttgttgaattag
`)
	r, err := ParseFASTA(path)
	if err != nil {
		t.Fatalf("ParseFASTA: %v", err)
	}
	if r.Name != "insert1" {
		t.Errorf("name = %q", r.Name)
	}
	if r.Description != "synthetic GFP insert" {
		t.Errorf("description = %q", r.Description)
	}
	if r.Topology != "linear" {
		t.Errorf("topology = %q", r.Topology)
	}
	if r.SizeBP != len(r.Sequence) || r.SizeBP != 55 {
		t.Errorf("size = %d, sequence len = %d", r.SizeBP, len(r.Sequence))
	}
	if r.Sequence[:6] != "ATGAGT" {
		t.Errorf("sequence not uppercased: %q", r.Sequence[:6])
	}
}

func TestParseFASTARejectsMultiRecord(t *testing.T) {
	path := writeFixture(t, "multi.fa", ">a\nACGT\n>b\nTTTT\n")
	if _, err := ParseFASTA(path); err == nil {
		t.Fatal("expected error for multi-record fasta")
	}
}

func TestParseFASTARejectsEmpty(t *testing.T) {
	path := writeFixture(t, "empty.fa", "\n\n")
	if _, err := ParseFASTA(path); err == nil {
		t.Fatal("expected error for empty fasta")
	}
}

const gbFixture = `LOCUS       pTest        120 bp    ds-DNA     circular SYN 01-JAN-2025
DEFINITION  test plasmid with one CDS
            and a primer site.
FEATURES             Location/Qualifiers
     source          1..120
                     /organism="synthetic DNA construct"
     CDS             complement(10..69)
                     /label="repA"
                     /note="replication protein"
     primer_bind     2..21
                     /label="fwd-check"
ORIGIN
        1 atgcatgcat gcatgcatgc atgcatgcat gcatgcatgc atgcatgcat gcatgcatgc
       61 atgcatgcat gcatgcatgc atgcatgcat gcatgcatgc atgcatgcat gcatgcatgc
//
`

func TestParseGenBank(t *testing.T) {
	path := writeFixture(t, "ptest.gb", gbFixture)
	r, err := ParseGenBank(path)
	if err != nil {
		t.Fatalf("ParseGenBank: %v", err)
	}
	if r.Name != "pTest" {
		t.Errorf("name = %q", r.Name)
	}
	if r.Topology != "circular" {
		t.Errorf("topology = %q", r.Topology)
	}
	if r.SizeBP != 120 || len(r.Sequence) != 120 {
		t.Errorf("size = %d, sequence len = %d", r.SizeBP, len(r.Sequence))
	}
	if r.Description != "test plasmid with one CDS and a primer site" {
		t.Errorf("description = %q", r.Description)
	}

	// source dropped, primer_bind converted, one real feature left
	if len(r.Features) != 1 {
		t.Fatalf("features = %+v", r.Features)
	}
	cds := r.Features[0]
	if cds.Name != "repA" || cds.Type != "CDS" {
		t.Errorf("feature = %+v", cds)
	}
	if cds.Start != 9 || cds.End != 69 {
		t.Errorf("coords = %d..%d, want 9..69 (0-based exclusive)", cds.Start, cds.End)
	}
	if cds.Strand != -1 {
		t.Errorf("strand = %d, want -1", cds.Strand)
	}
	if cds.Qualifiers["note"] != "replication protein" {
		t.Errorf("qualifiers = %+v", cds.Qualifiers)
	}

	if len(r.Primers) != 1 {
		t.Fatalf("primers = %+v", r.Primers)
	}
	p := r.Primers[0]
	if p.Name != "fwd-check" || *p.Start != 1 || *p.End != 21 || *p.Strand != 1 {
		t.Errorf("primer = %+v", p)
	}
	if len(p.Sequence) != 20 {
		t.Errorf("primer sequence = %q", p.Sequence)
	}
}

func TestParseLocation(t *testing.T) {
	cases := []struct {
		loc              string
		start, end, strand int
	}{
		{"10..69", 9, 69, 1},
		{"complement(10..69)", 9, 69, -1},
		{"42", 41, 42, 1},
		{"join(1..10,21..30)", 0, 30, 1},
		{"complement(join(5..10,15..20))", 4, 20, -1},
		{"<1..>99", 0, 99, 1},
	}
	for _, tc := range cases {
		s, e, st, err := parseLocation(tc.loc)
		if err != nil {
			t.Errorf("parseLocation(%q): %v", tc.loc, err)
			continue
		}
		if s != tc.start || e != tc.end || st != tc.strand {
			t.Errorf("parseLocation(%q) = %d,%d,%d want %d,%d,%d",
				tc.loc, s, e, st, tc.start, tc.end, tc.strand)
		}
	}
	if _, _, _, err := parseLocation("banana"); err == nil {
		t.Error("expected error for garbage location")
	}
}

func sgBlock(blockType byte, payload []byte) []byte {
	out := make([]byte, 5+len(payload))
	out[0] = blockType
	binary.BigEndian.PutUint32(out[1:5], uint32(len(payload)))
	copy(out[5:], payload)
	return out
}

func writeSnapGene(t *testing.T, name string, blocks ...[]byte) string {
	t.Helper()
	var data []byte
	for _, b := range blocks {
		data = append(data, b...)
	}
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestParseSnapGene(t *testing.T) {
	cookie := sgBlock(sgBlockCookie, append([]byte("SnapGene"), 0, 1, 0, 15, 0, 1))
	seq := sgBlock(sgBlockSequence, append([]byte{0x01}, "atgcatgcatgcatgcatgc"...))
	features := sgBlock(sgBlockFeatures, []byte(`<Features nextValidID="1">
		<Feature recentID="0" name="GFP" directionality="1" type="CDS">
			<Segment range="1-12" color="#00ff00" type="standard"/>
			<Q name="label"><V text="GFP"/></Q>
		</Feature>
		<Feature recentID="1" name="term" directionality="2" type="terminator">
			<Segment range="13-20"/>
		</Feature>
	</Features>`))
	primers := sgBlock(sgBlockPrimers, []byte(`<Primers nextValidID="1">
		<Primer recentID="0" name="seq-fwd" sequence="ATGCATGCAT">
			<BindingSite location="1-10" boundStrand="0" meltingTemperature="58.5"/>
		</Primer>
	</Primers>`))
	notes := sgBlock(sgBlockNotes, []byte(`<Notes><Description>demo construct</Description><Organism>E. coli</Organism></Notes>`))

	path := writeSnapGene(t, "demo.dna", cookie, seq, features, primers, notes)
	r, err := ParseSnapGene(path)
	if err != nil {
		t.Fatalf("ParseSnapGene: %v", err)
	}
	if r.Name != "demo" {
		t.Errorf("name = %q, want basename", r.Name)
	}
	if r.Topology != "circular" {
		t.Errorf("topology = %q", r.Topology)
	}
	if r.Sequence != "ATGCATGCATGCATGCATGC" {
		t.Errorf("sequence = %q", r.Sequence)
	}
	if r.Description != "demo construct" {
		t.Errorf("description = %q", r.Description)
	}
	if r.Meta["organism"] != "E. coli" {
		t.Errorf("meta = %+v", r.Meta)
	}

	if len(r.Features) != 2 {
		t.Fatalf("features = %+v", r.Features)
	}
	gfp := r.Features[0]
	if gfp.Name != "GFP" || gfp.Start != 0 || gfp.End != 12 || gfp.Strand != 1 {
		t.Errorf("GFP feature = %+v", gfp)
	}
	if r.Features[1].Strand != -1 {
		t.Errorf("terminator strand = %d, want -1", r.Features[1].Strand)
	}

	if len(r.Primers) != 1 {
		t.Fatalf("primers = %+v", r.Primers)
	}
	p := r.Primers[0]
	if p.Name != "seq-fwd" || p.Sequence != "ATGCATGCAT" {
		t.Errorf("primer = %+v", p)
	}
	if p.Start == nil || *p.Start != 0 || p.End == nil || *p.End != 10 {
		t.Errorf("primer coords = %+v", p)
	}
	if p.Tm == nil || *p.Tm != 58.5 {
		t.Errorf("primer tm = %+v", p.Tm)
	}
}

func TestParseSnapGeneRejectsBadMagic(t *testing.T) {
	bad := sgBlock(sgBlockCookie, []byte("NotSnapGene"))
	seq := sgBlock(sgBlockSequence, append([]byte{0x00}, "ATGC"...))
	path := writeSnapGene(t, "bad.dna", bad, seq)
	if _, err := ParseSnapGene(path); err == nil {
		t.Fatal("expected bad magic error")
	}
}

func TestParseSnapGeneRejectsTruncated(t *testing.T) {
	cookie := sgBlock(sgBlockCookie, []byte("SnapGene"))
	truncated := append(cookie, 0x00, 0xFF, 0xFF, 0xFF, 0xFF)
	path := writeSnapGene(t, "trunc.dna", truncated)
	if _, err := ParseSnapGene(path); err == nil {
		t.Fatal("expected truncation error")
	}
}

func TestForFile(t *testing.T) {
	if _, err := ForFile("snapgene", "x.dna"); err != nil {
		t.Errorf("snapgene: %v", err)
	}
	if _, err := ForFile("biopython", "x.gb"); err != nil {
		t.Errorf("biopython .gb: %v", err)
	}
	if _, err := ForFile("biopython", "x.fasta"); err != nil {
		t.Errorf("biopython .fasta: %v", err)
	}
	if _, err := ForFile("biopython", "x.xyz"); err == nil {
		t.Error("expected error for unknown extension")
	}
	if _, err := ForFile("perl", "x.gb"); err == nil {
		t.Error("expected error for unknown parser")
	}
}
