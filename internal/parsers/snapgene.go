// Copyright (C) 2025 MolBioHive (opensource@molbiohive.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package parsers

import (
	"encoding/binary"
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// SnapGene .dna files are a sequence of typed blocks: one type byte, a
// big-endian uint32 payload length, then the payload.
const (
	sgBlockSequence = 0x00
	sgBlockPrimers  = 0x05
	sgBlockNotes    = 0x06
	sgBlockFeatures = 0x0A
	sgBlockCookie   = 0x09
)

// ParseSnapGene reads a SnapGene .dna file. The sequence name falls back
// to the file basename since the format does not store one; the Notes
// block supplies the description when present.
func ParseSnapGene(path string) (*ParseResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("opening snapgene: %w", err)
	}

	result := &ParseResult{
		Name:     strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		Topology: "linear",
		Meta:     map[string]string{"molecule_type": "DNA"},
	}

	sawCookie := false
	offset := 0
	for offset < len(data) {
		if offset+5 > len(data) {
			return nil, fmt.Errorf("snapgene %s: truncated block header at %d", path, offset)
		}
		blockType := data[offset]
		length := int(binary.BigEndian.Uint32(data[offset+1 : offset+5]))
		offset += 5
		if offset+length > len(data) {
			return nil, fmt.Errorf("snapgene %s: truncated block payload at %d", path, offset)
		}
		payload := data[offset : offset+length]
		offset += length

		switch blockType {
		case sgBlockCookie:
			if !strings.HasPrefix(string(payload), "SnapGene") {
				return nil, fmt.Errorf("snapgene %s: bad magic", path)
			}
			sawCookie = true
		case sgBlockSequence:
			if len(payload) < 1 {
				return nil, fmt.Errorf("snapgene %s: empty sequence block", path)
			}
			if payload[0]&0x01 != 0 {
				result.Topology = "circular"
			}
			result.Sequence = strings.ToUpper(string(payload[1:]))
			result.SizeBP = len(result.Sequence)
		case sgBlockFeatures:
			feats, err := parseSnapGeneFeatures(payload)
			if err != nil {
				return nil, fmt.Errorf("snapgene %s: features block: %w", path, err)
			}
			result.Features = feats
		case sgBlockPrimers:
			primers, err := parseSnapGenePrimers(payload)
			if err != nil {
				return nil, fmt.Errorf("snapgene %s: primers block: %w", path, err)
			}
			result.Primers = primers
		case sgBlockNotes:
			parseSnapGeneNotes(payload, result)
		}
	}
	if !sawCookie {
		return nil, fmt.Errorf("snapgene %s: missing cookie block", path)
	}
	if result.Sequence == "" {
		return nil, fmt.Errorf("snapgene %s: no sequence block", path)
	}
	return result, nil
}

type sgFeatureXML struct {
	Name           string `xml:"name,attr"`
	Type           string `xml:"type,attr"`
	Directionality int    `xml:"directionality,attr"`
	Segments       []struct {
		Range string `xml:"range,attr"`
	} `xml:"Segment"`
	Qualifiers []struct {
		Name  string `xml:"name,attr"`
		Value struct {
			Text string `xml:"text,attr"`
			Int  string `xml:"int,attr"`
		} `xml:"V"`
	} `xml:"Q"`
}

func parseSnapGeneFeatures(payload []byte) ([]Feature, error) {
	var doc struct {
		Features []sgFeatureXML `xml:"Feature"`
	}
	if err := xml.Unmarshal(payload, &doc); err != nil {
		return nil, err
	}
	var out []Feature
	for _, ft := range doc.Features {
		lo, hi := 0, 0
		for i, seg := range ft.Segments {
			s, e, err := parseSGRange(seg.Range)
			if err != nil {
				continue
			}
			if i == 0 || s < lo {
				lo = s
			}
			if e > hi {
				hi = e
			}
		}
		if hi == 0 {
			continue
		}
		strand := 0
		switch ft.Directionality {
		case 1:
			strand = 1
		case 2:
			strand = -1
		}
		quals := make(map[string]string, len(ft.Qualifiers))
		for _, q := range ft.Qualifiers {
			if q.Value.Text != "" {
				quals[q.Name] = q.Value.Text
			} else if q.Value.Int != "" {
				quals[q.Name] = q.Value.Int
			}
		}
		out = append(out, Feature{
			Name:       ft.Name,
			Type:       ft.Type,
			Start:      lo - 1,
			End:        hi,
			Strand:     strand,
			Qualifiers: quals,
		})
	}
	return out, nil
}

func parseSnapGenePrimers(payload []byte) ([]Primer, error) {
	var doc struct {
		Primers []struct {
			Name     string `xml:"name,attr"`
			Sequence string `xml:"sequence,attr"`
			Sites    []struct {
				Location    string `xml:"location,attr"`
				BoundStrand string `xml:"boundStrand,attr"`
				MeltingTemp string `xml:"meltingTemperature,attr"`
			} `xml:"BindingSite"`
		} `xml:"Primer"`
	}
	if err := xml.Unmarshal(payload, &doc); err != nil {
		return nil, err
	}
	var out []Primer
	for _, p := range doc.Primers {
		primer := Primer{Name: p.Name, Sequence: strings.ToUpper(p.Sequence)}
		if len(p.Sites) > 0 {
			site := p.Sites[0]
			if s, e, err := parseSGRange(site.Location); err == nil {
				start, end := s-1, e
				primer.Start, primer.End = &start, &end
			}
			strand := 1
			if site.BoundStrand == "1" {
				strand = -1
			}
			primer.Strand = &strand
			if tm, err := strconv.ParseFloat(site.MeltingTemp, 64); err == nil {
				primer.Tm = &tm
			}
		}
		out = append(out, primer)
	}
	return out, nil
}

func parseSnapGeneNotes(payload []byte, result *ParseResult) {
	var doc struct {
		Description  string `xml:"Description"`
		Comments     string `xml:"Comments"`
		Organism     string `xml:"Organism"`
		LastModified string `xml:"LastModified"`
	}
	if err := xml.Unmarshal(payload, &doc); err != nil {
		return
	}
	result.Description = strings.TrimSpace(doc.Description)
	if v := strings.TrimSpace(doc.Comments); v != "" {
		result.Meta["notes"] = v
	}
	if v := strings.TrimSpace(doc.Organism); v != "" {
		result.Meta["organism"] = v
	}
}

// parseSGRange parses "a-b" (1-based inclusive on both ends).
func parseSGRange(r string) (int, int, error) {
	a, b, found := strings.Cut(r, "-")
	if !found {
		b = a
	}
	s, err1 := strconv.Atoi(strings.TrimSpace(a))
	e, err2 := strconv.Atoi(strings.TrimSpace(b))
	if err1 != nil || err2 != nil || s < 1 || e < s {
		return 0, 0, fmt.Errorf("bad range %q", r)
	}
	return s, e, nil
}
