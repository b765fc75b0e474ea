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
	"time"
)

// GetFileByPath returns the indexed file row for path regardless of
// status, or ErrNotFound.
func (s *Store) GetFileByPath(ctx context.Context, path string) (*IndexedFile, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, file_path, file_hash, format, status,
		       COALESCE(error_msg, ''), file_size,
		       COALESCE(file_mtime, indexed_at), indexed_at
		FROM indexed_files WHERE file_path = ?`, path)
	return scanFile(row)
}

// GetFile returns the indexed file row by id, or ErrNotFound.
func (s *Store) GetFile(ctx context.Context, id int64) (*IndexedFile, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, file_path, file_hash, format, status,
		       COALESCE(error_msg, ''), file_size,
		       COALESCE(file_mtime, indexed_at), indexed_at
		FROM indexed_files WHERE id = ?`, id)
	return scanFile(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFile(row rowScanner) (*IndexedFile, error) {
	var f IndexedFile
	err := row.Scan(&f.ID, &f.FilePath, &f.FileHash, &f.Format, &f.Status,
		&f.ErrorMsg, &f.FileSize, &f.FileMtime, &f.IndexedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning file row: %w", err)
	}
	return &f, nil
}

// UpsertFile inserts or updates the row for f.FilePath and fills f.ID.
// Updating clears any previous error message unless f carries one.
func (s *Store) UpsertFile(ctx context.Context, f *IndexedFile) error {
	if f.Status == "" {
		f.Status = FileActive
	}
	now := time.Now().UTC()
	f.IndexedAt = now
	var errMsg any
	if f.ErrorMsg != "" {
		errMsg = f.ErrorMsg
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO indexed_files (file_path, file_hash, format, status, error_msg, file_size, file_mtime, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(file_path) DO UPDATE SET
			file_hash = excluded.file_hash,
			format = excluded.format,
			status = excluded.status,
			error_msg = excluded.error_msg,
			file_size = excluded.file_size,
			file_mtime = excluded.file_mtime,
			indexed_at = excluded.indexed_at`,
		f.FilePath, f.FileHash, f.Format, f.Status, errMsg, f.FileSize, f.FileMtime, f.IndexedAt)
	if err != nil {
		return fmt.Errorf("upserting file %s: %w", f.FilePath, err)
	}
	if f.ID == 0 {
		if id, err := res.LastInsertId(); err == nil && id != 0 {
			f.ID = id
		}
		if f.ID == 0 {
			existing, err := s.GetFileByPath(ctx, f.FilePath)
			if err != nil {
				return err
			}
			f.ID = existing.ID
		}
	}
	return nil
}

// ReplaceSequenceData atomically swaps the sequences (with their features
// and primers) owned by fileID. The old rows cascade-delete first so a
// re-ingest never leaves mixed generations behind.
func (s *Store) ReplaceSequenceData(ctx context.Context, fileID int64, seqs []Sequence) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM sequences WHERE file_id = ?`, fileID); err != nil {
			return fmt.Errorf("clearing sequences for file %d: %w", fileID, err)
		}
		now := time.Now().UTC()
		for i := range seqs {
			seq := &seqs[i]
			meta, err := json.Marshal(seq.Meta)
			if err != nil {
				return fmt.Errorf("encoding meta for %s: %w", seq.Name, err)
			}
			res, err := tx.ExecContext(ctx, `
				INSERT INTO sequences (file_id, name, size_bp, topology, sequence, description, meta, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				fileID, seq.Name, seq.SizeBP, seq.Topology, seq.Sequence,
				seq.Description, string(meta), now, now)
			if err != nil {
				return fmt.Errorf("inserting sequence %s: %w", seq.Name, err)
			}
			seqID, err := res.LastInsertId()
			if err != nil {
				return err
			}
			seq.ID = seqID
			seq.FileID = fileID
			for j := range seq.Features {
				ft := &seq.Features[j]
				quals, err := json.Marshal(ft.Qualifiers)
				if err != nil {
					return fmt.Errorf("encoding qualifiers for feature %s: %w", ft.Name, err)
				}
				if _, err := tx.ExecContext(ctx, `
					INSERT INTO features (seq_id, name, type, start, end, strand, qualifiers)
					VALUES (?, ?, ?, ?, ?, ?, ?)`,
					seqID, ft.Name, ft.Type, ft.Start, ft.End, ft.Strand, string(quals)); err != nil {
					return fmt.Errorf("inserting feature %s: %w", ft.Name, err)
				}
			}
			for j := range seq.Primers {
				p := &seq.Primers[j]
				if _, err := tx.ExecContext(ctx, `
					INSERT INTO primers (seq_id, name, sequence, tm, start, end, strand)
					VALUES (?, ?, ?, ?, ?, ?, ?)`,
					seqID, p.Name, p.Sequence, p.Tm, p.Start, p.End, p.Strand); err != nil {
					return fmt.Errorf("inserting primer %s: %w", p.Name, err)
				}
			}
		}
		return nil
	})
}

// RemoveFile marks the file deleted and drops its sequence data. The file
// row itself survives so a later re-create at the same path reuses it.
func (s *Store) RemoveFile(ctx context.Context, path string) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		var id int64
		err := tx.QueryRowContext(ctx, `SELECT id FROM indexed_files WHERE file_path = ?`, path).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("looking up file %s: %w", path, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM sequences WHERE file_id = ?`, id); err != nil {
			return fmt.Errorf("deleting sequences for %s: %w", path, err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE indexed_files SET status = ?, indexed_at = ? WHERE id = ?`,
			FileDeleted, time.Now().UTC(), id); err != nil {
			return fmt.Errorf("marking %s deleted: %w", path, err)
		}
		return nil
	})
}

// FileFilter narrows ListFiles.
type FileFilter struct {
	Status     string
	PathPrefix string
	Format     string
	Limit      int
}

// ListFiles returns indexed file rows matching the filter, newest first.
func (s *Store) ListFiles(ctx context.Context, filter FileFilter) ([]IndexedFile, error) {
	query := `
		SELECT id, file_path, file_hash, format, status,
		       COALESCE(error_msg, ''), file_size,
		       COALESCE(file_mtime, indexed_at), indexed_at
		FROM indexed_files WHERE 1=1`
	var args []any
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, filter.Status)
	}
	if filter.PathPrefix != "" {
		query += ` AND file_path LIKE ?`
		args = append(args, filter.PathPrefix+"%")
	}
	if filter.Format != "" {
		query += ` AND format = ?`
		args = append(args, filter.Format)
	}
	query += ` ORDER BY indexed_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing files: %w", err)
	}
	defer rows.Close()

	var out []IndexedFile
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *f)
	}
	return out, rows.Err()
}
