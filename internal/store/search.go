// Copyright (C) 2025 MolBioHive (opensource@molbiohive.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// SimilarityFloor is the minimum per-term similarity for a record to
// count as a match.
const SimilarityFloor = 0.1

// SearchFilters narrow fuzzy search by exact attributes. Filters compose
// by conjunction with the query terms. TagQuery is fuzzy directory or
// project context rather than an exact tag.
type SearchFilters struct {
	Topology    string
	SizeMin     int
	SizeMax     int
	FeatureType string
	TagQuery    string
}

// SearchResult is one scored hit.
type SearchResult struct {
	SID      int64    `json:"sid"`
	Name     string   `json:"name"`
	SizeBP   int      `json:"size_bp"`
	Topology string   `json:"topology"`
	Features []string `json:"features"`
	Tags     []string `json:"tags"`
	FilePath string   `json:"file_path"`
	Score    float64  `json:"score"`
}

// SearchSequences runs a boolean fuzzy query over active sequences.
//
// The query splits on "||" into OR groups and each group on "&&" into
// terms. A term's score is the best similarity against the sequence
// name, description, any feature name, or any tag; a term equal to a
// topology literal scores 1.0 on sequences with that topology. AND
// combines per-term scores with min, OR with max; records survive only
// if the combined score exceeds the similarity floor.
func (s *Store) SearchSequences(ctx context.Context, query string, filters SearchFilters, limit int) ([]SearchResult, error) {
	groups := parseBooleanQuery(query)
	if len(groups) == 0 {
		return nil, nil
	}

	candidates, err := s.searchCandidates(ctx, filters)
	if err != nil {
		return nil, err
	}

	var out []SearchResult
	for _, c := range candidates {
		score := scoreCandidate(c, groups)
		if score <= SimilarityFloor {
			continue
		}
		c.result.Score = score
		out = append(out, c.result)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Name < out[j].Name
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// parseBooleanQuery splits a raw query into OR groups of AND terms.
// Empty terms are dropped.
func parseBooleanQuery(query string) [][]string {
	var groups [][]string
	for _, orPart := range strings.Split(query, "||") {
		var terms []string
		for _, term := range strings.Split(orPart, "&&") {
			if t := strings.TrimSpace(term); t != "" {
				terms = append(terms, t)
			}
		}
		if len(terms) > 0 {
			groups = append(groups, terms)
		}
	}
	return groups
}

type searchCandidate struct {
	result      SearchResult
	description string
}

func scoreCandidate(c searchCandidate, groups [][]string) float64 {
	best := 0.0
	for _, terms := range groups {
		groupScore := 1.0
		for _, term := range terms {
			ts := termScore(c, term)
			if ts < groupScore {
				groupScore = ts
			}
		}
		if groupScore > best {
			best = groupScore
		}
	}
	return best
}

func termScore(c searchCandidate, term string) float64 {
	lower := strings.ToLower(term)
	if lower == "circular" || lower == "linear" {
		if c.result.Topology == lower {
			return 1.0
		}
	}
	score := similarity(term, c.result.Name)
	if s := similarity(term, c.description); s > score {
		score = s
	}
	for _, name := range c.result.Features {
		if s := similarity(term, name); s > score {
			score = s
		}
	}
	for _, tag := range c.result.Tags {
		if s := similarity(term, tag); s > score {
			score = s
		}
	}
	return score
}

// searchCandidates pulls active sequences matching the exact filters,
// with feature names and tags loaded for scoring.
func (s *Store) searchCandidates(ctx context.Context, filters SearchFilters) ([]searchCandidate, error) {
	query := `
		SELECT sq.id, sq.name, sq.size_bp, sq.topology,
		       COALESCE(sq.description, ''), COALESCE(sq.meta, '{}'),
		       f.file_path
		FROM sequences sq
		JOIN indexed_files f ON f.id = sq.file_id
		WHERE f.status = ?`
	args := []any{FileActive}
	if filters.Topology != "" {
		query += ` AND sq.topology = ?`
		args = append(args, strings.ToLower(filters.Topology))
	}
	if filters.SizeMin > 0 {
		query += ` AND sq.size_bp >= ?`
		args = append(args, filters.SizeMin)
	}
	if filters.SizeMax > 0 {
		query += ` AND sq.size_bp <= ?`
		args = append(args, filters.SizeMax)
	}
	if filters.FeatureType != "" {
		query += ` AND EXISTS (SELECT 1 FROM features ft WHERE ft.seq_id = sq.id AND ft.type = ?)`
		args = append(args, filters.FeatureType)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying search candidates: %w", err)
	}
	defer rows.Close()

	var candidates []searchCandidate
	var ids []int64
	byID := make(map[int64]int)
	for rows.Next() {
		var c searchCandidate
		var metaRaw string
		if err := rows.Scan(&c.result.SID, &c.result.Name, &c.result.SizeBP,
			&c.result.Topology, &c.description, &metaRaw, &c.result.FilePath); err != nil {
			return nil, fmt.Errorf("scanning search candidate: %w", err)
		}
		var meta SequenceMeta
		if err := json.Unmarshal([]byte(metaRaw), &meta); err == nil {
			c.result.Tags = meta.Tags
		}
		byID[c.result.SID] = len(candidates)
		ids = append(ids, c.result.SID)
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	// Tag context is fuzzy, scored here rather than in SQL.
	if filters.TagQuery != "" {
		filtered := candidates[:0]
		for _, c := range candidates {
			if tagSimilarity(c.result.Tags, filters.TagQuery) > SimilarityFloor {
				filtered = append(filtered, c)
			}
		}
		candidates = filtered
		ids = ids[:0]
		byID = make(map[int64]int, len(candidates))
		for i, c := range candidates {
			ids = append(ids, c.result.SID)
			byID[c.result.SID] = i
		}
		if len(candidates) == 0 {
			return nil, nil
		}
	}

	featQuery := `SELECT seq_id, name FROM features WHERE seq_id IN (` +
		placeholders(len(ids)) + `) ORDER BY start`
	featArgs := make([]any, len(ids))
	for i, id := range ids {
		featArgs[i] = id
	}
	frows, err := s.db.QueryContext(ctx, featQuery, featArgs...)
	if err != nil {
		return nil, fmt.Errorf("loading feature names: %w", err)
	}
	defer frows.Close()
	for frows.Next() {
		var seqID int64
		var name string
		if err := frows.Scan(&seqID, &name); err != nil {
			return nil, err
		}
		if i, ok := byID[seqID]; ok {
			candidates[i].result.Features = append(candidates[i].result.Features, name)
		}
	}
	return candidates, frows.Err()
}

func tagSimilarity(tags []string, query string) float64 {
	best := 0.0
	for _, tag := range tags {
		if s := similarity(query, tag); s > best {
			best = s
		}
	}
	return best
}

func placeholders(n int) string {
	if n == 0 {
		return ""
	}
	return strings.Repeat("?,", n-1) + "?"
}
