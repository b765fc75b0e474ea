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
	"strings"
)

// FeatureHit is a feature with the name of the sequence carrying it.
type FeatureHit struct {
	Feature
	SeqName string
}

// PrimerHit is a primer with the name of the sequence carrying it.
type PrimerHit struct {
	Primer
	SeqName string
}

// QueryFeatures searches features across all active sequences. Any of
// seqID, name (containment) and featureType may be zero to skip that
// filter.
func (s *Store) QueryFeatures(ctx context.Context, seqID int64, name, featureType string, limit int) ([]FeatureHit, error) {
	query := `
		SELECT ft.id, ft.seq_id, ft.name, ft.type, ft.start, ft.end, ft.strand,
		       COALESCE(ft.qualifiers, '{}'), sq.name
		FROM features ft
		JOIN sequences sq ON sq.id = ft.seq_id
		JOIN indexed_files f ON f.id = sq.file_id
		WHERE f.status = ?`
	args := []any{FileActive}
	if seqID != 0 {
		query += ` AND ft.seq_id = ?`
		args = append(args, seqID)
	}
	if name != "" {
		query += ` AND LOWER(ft.name) LIKE ?`
		args = append(args, "%"+strings.ToLower(name)+"%")
	}
	if featureType != "" {
		query += ` AND ft.type = ?`
		args = append(args, featureType)
	}
	query += ` ORDER BY ft.seq_id, ft.start LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying features: %w", err)
	}
	defer rows.Close()

	var out []FeatureHit
	for rows.Next() {
		var h FeatureHit
		var quals string
		if err := rows.Scan(&h.ID, &h.SeqID, &h.Name, &h.Type, &h.Start,
			&h.End, &h.Strand, &quals, &h.SeqName); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(quals), &h.Qualifiers); err != nil {
			h.Qualifiers = nil
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// QueryPrimers searches primers across all active sequences.
func (s *Store) QueryPrimers(ctx context.Context, seqID int64, name string, limit int) ([]PrimerHit, error) {
	query := `
		SELECT p.id, p.seq_id, p.name, p.sequence, p.tm, p.start, p.end, p.strand, sq.name
		FROM primers p
		JOIN sequences sq ON sq.id = p.seq_id
		JOIN indexed_files f ON f.id = sq.file_id
		WHERE f.status = ?`
	args := []any{FileActive}
	if seqID != 0 {
		query += ` AND p.seq_id = ?`
		args = append(args, seqID)
	}
	if name != "" {
		query += ` AND LOWER(p.name) LIKE ?`
		args = append(args, "%"+strings.ToLower(name)+"%")
	}
	query += ` ORDER BY p.seq_id, p.id LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying primers: %w", err)
	}
	defer rows.Close()

	var out []PrimerHit
	for rows.Next() {
		var h PrimerHit
		if err := rows.Scan(&h.ID, &h.SeqID, &h.Name, &h.Sequence, &h.Tm,
			&h.Start, &h.End, &h.Strand, &h.SeqName); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// CountRows counts rows in one of the index tables. Files are counted
// only while active. Unknown table names count as zero.
func (s *Store) CountRows(ctx context.Context, table string) (int64, error) {
	var query string
	args := []any{}
	switch table {
	case "sequences":
		query = `SELECT COUNT(*) FROM sequences`
	case "features":
		query = `SELECT COUNT(*) FROM features`
	case "primers":
		query = `SELECT COUNT(*) FROM primers`
	case "files":
		query = `SELECT COUNT(*) FROM indexed_files WHERE status = ?`
		args = append(args, FileActive)
	default:
		return 0, nil
	}
	var n int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting %s: %w", table, err)
	}
	return n, nil
}
