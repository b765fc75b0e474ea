// Copyright (C) 2025 MolBioHive (opensource@molbiohive.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ResolveOpts controls eager loading on Resolve. Loads are opt-in so
// call sites that only need the sequence row avoid the extra queries.
type ResolveOpts struct {
	SID          int64
	Name         string
	LoadFeatures bool
	LoadPrimers  bool
	LoadFile     bool
}

// Resolve finds one sequence. SID takes precedence; otherwise the name
// is matched case-insensitively and exactly. Only sequences belonging to
// active files are returned. Returns ErrNotFound when nothing matches.
func (s *Store) Resolve(ctx context.Context, opts ResolveOpts) (*Sequence, error) {
	base := `
		SELECT sq.id, sq.file_id, sq.name, sq.size_bp, sq.topology, sq.sequence,
		       COALESCE(sq.description, ''), COALESCE(sq.meta, '{}'),
		       sq.created_at, sq.updated_at
		FROM sequences sq
		JOIN indexed_files f ON f.id = sq.file_id
		WHERE f.status = ?`

	var row *sql.Row
	switch {
	case opts.SID != 0:
		row = s.db.QueryRowContext(ctx, base+` AND sq.id = ?`, FileActive, opts.SID)
	case opts.Name != "":
		row = s.db.QueryRowContext(ctx, base+` AND LOWER(sq.name) = LOWER(?) LIMIT 1`, FileActive, opts.Name)
	default:
		return nil, fmt.Errorf("resolve: sid or name required")
	}

	seq, err := scanSequence(row)
	if err != nil {
		return nil, err
	}

	if opts.LoadFeatures {
		if seq.Features, err = s.FeaturesForSequence(ctx, seq.ID, ""); err != nil {
			return nil, err
		}
	}
	if opts.LoadPrimers {
		if seq.Primers, err = s.PrimersForSequence(ctx, seq.ID, ""); err != nil {
			return nil, err
		}
	}
	if opts.LoadFile {
		if seq.File, err = s.GetFile(ctx, seq.FileID); err != nil {
			return nil, err
		}
	}
	return seq, nil
}

func scanSequence(row rowScanner) (*Sequence, error) {
	var seq Sequence
	var metaRaw string
	err := row.Scan(&seq.ID, &seq.FileID, &seq.Name, &seq.SizeBP, &seq.Topology,
		&seq.Sequence, &seq.Description, &metaRaw, &seq.CreatedAt, &seq.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning sequence row: %w", err)
	}
	if err := json.Unmarshal([]byte(metaRaw), &seq.Meta); err != nil {
		seq.Meta = SequenceMeta{}
	}
	return &seq, nil
}

// ResolveFuzzy finds the first active sequence whose name contains the
// given text, case-insensitively. Used by tools that accept loose names.
func (s *Store) ResolveFuzzy(ctx context.Context, name string) (*Sequence, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT sq.id, sq.file_id, sq.name, sq.size_bp, sq.topology, sq.sequence,
		       COALESCE(sq.description, ''), COALESCE(sq.meta, '{}'),
		       sq.created_at, sq.updated_at
		FROM sequences sq
		JOIN indexed_files f ON f.id = sq.file_id
		WHERE f.status = ? AND LOWER(sq.name) LIKE ?
		ORDER BY CASE WHEN LOWER(sq.name) = LOWER(?) THEN 0 ELSE 1 END, sq.id
		LIMIT 1`,
		FileActive, "%"+strings.ToLower(name)+"%", name)
	return scanSequence(row)
}

// FindFeatureFuzzy finds one feature on a sequence by name containment.
// Exact (case-insensitive) matches win; ties break to the longest span.
func (s *Store) FindFeatureFuzzy(ctx context.Context, seqID int64, name string) (*Feature, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, seq_id, name, type, start, end, strand, COALESCE(qualifiers, '{}')
		FROM features
		WHERE seq_id = ? AND LOWER(name) LIKE ?
		ORDER BY CASE WHEN LOWER(name) = LOWER(?) THEN 0 ELSE 1 END, (end - start) DESC
		LIMIT 1`,
		seqID, "%"+strings.ToLower(name)+"%", name)

	var ft Feature
	var quals string
	err := row.Scan(&ft.ID, &ft.SeqID, &ft.Name, &ft.Type, &ft.Start, &ft.End, &ft.Strand, &quals)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning feature row: %w", err)
	}
	if err := json.Unmarshal([]byte(quals), &ft.Qualifiers); err != nil {
		ft.Qualifiers = nil
	}
	return &ft, nil
}

// FindPrimerFuzzy finds one primer on a sequence by name containment,
// exact matches first.
func (s *Store) FindPrimerFuzzy(ctx context.Context, seqID int64, name string) (*Primer, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, seq_id, name, sequence, tm, start, end, strand
		FROM primers
		WHERE seq_id = ? AND LOWER(name) LIKE ?
		ORDER BY CASE WHEN LOWER(name) = LOWER(?) THEN 0 ELSE 1 END, id
		LIMIT 1`,
		seqID, "%"+strings.ToLower(name)+"%", name)

	var p Primer
	err := row.Scan(&p.ID, &p.SeqID, &p.Name, &p.Sequence, &p.Tm, &p.Start, &p.End, &p.Strand)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning primer row: %w", err)
	}
	return &p, nil
}

// FeaturesForSequence lists features of a sequence ordered by start,
// optionally narrowed to one type.
func (s *Store) FeaturesForSequence(ctx context.Context, seqID int64, featureType string) ([]Feature, error) {
	query := `SELECT id, seq_id, name, type, start, end, strand, COALESCE(qualifiers, '{}')
	          FROM features WHERE seq_id = ?`
	args := []any{seqID}
	if featureType != "" {
		query += ` AND type = ?`
		args = append(args, featureType)
	}
	query += ` ORDER BY start, end`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing features: %w", err)
	}
	defer rows.Close()

	var out []Feature
	for rows.Next() {
		var ft Feature
		var quals string
		if err := rows.Scan(&ft.ID, &ft.SeqID, &ft.Name, &ft.Type, &ft.Start,
			&ft.End, &ft.Strand, &quals); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(quals), &ft.Qualifiers); err != nil {
			ft.Qualifiers = nil
		}
		out = append(out, ft)
	}
	return out, rows.Err()
}

// PrimersForSequence lists primers of a sequence ordered by start,
// optionally narrowed by case-insensitive name containment.
func (s *Store) PrimersForSequence(ctx context.Context, seqID int64, nameContains string) ([]Primer, error) {
	query := `SELECT id, seq_id, name, sequence, tm, start, end, strand
	          FROM primers WHERE seq_id = ?`
	args := []any{seqID}
	if nameContains != "" {
		query += ` AND LOWER(name) LIKE ?`
		args = append(args, "%"+strings.ToLower(nameContains)+"%")
	}
	query += ` ORDER BY COALESCE(start, 0), name`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing primers: %w", err)
	}
	defer rows.Close()

	var out []Primer
	for rows.Next() {
		var p Primer
		if err := rows.Scan(&p.ID, &p.SeqID, &p.Name, &p.Sequence, &p.Tm,
			&p.Start, &p.End, &p.Strand); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ActiveSequences streams every sequence belonging to an active file.
// Used by the BLAST database builder.
func (s *Store) ActiveSequences(ctx context.Context) ([]Sequence, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sq.id, sq.file_id, sq.name, sq.size_bp, sq.topology, sq.sequence,
		       COALESCE(sq.description, ''), COALESCE(sq.meta, '{}'),
		       sq.created_at, sq.updated_at
		FROM sequences sq
		JOIN indexed_files f ON f.id = sq.file_id
		WHERE f.status = ?
		ORDER BY sq.id`, FileActive)
	if err != nil {
		return nil, fmt.Errorf("listing active sequences: %w", err)
	}
	defer rows.Close()

	var out []Sequence
	for rows.Next() {
		seq, err := scanSequence(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *seq)
	}
	return out, rows.Err()
}
