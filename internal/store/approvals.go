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
	"errors"
	"fmt"
	"time"
)

// GetApproval returns the approval row for a tool script filename, or
// ErrNotFound.
func (s *Store) GetApproval(ctx context.Context, filename string) (*ToolApproval, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, filename, file_hash, COALESCE(tool_name, ''), status, created_at, reviewed_at
		FROM tool_approvals WHERE filename = ?`, filename)
	return scanApproval(row)
}

// ListApprovals returns all approval rows ordered by filename.
func (s *Store) ListApprovals(ctx context.Context) ([]ToolApproval, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, filename, file_hash, COALESCE(tool_name, ''), status, created_at, reviewed_at
		FROM tool_approvals ORDER BY filename`)
	if err != nil {
		return nil, fmt.Errorf("listing tool approvals: %w", err)
	}
	defer rows.Close()

	var out []ToolApproval
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func scanApproval(row rowScanner) (*ToolApproval, error) {
	var a ToolApproval
	err := row.Scan(&a.ID, &a.Filename, &a.FileHash, &a.ToolName, &a.Status,
		&a.CreatedAt, &a.ReviewedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning approval row: %w", err)
	}
	return &a, nil
}

// QuarantineTool records a tool script as quarantined with its current
// hash. An existing row is reset: the new hash replaces the old and any
// prior review is voided.
func (s *Store) QuarantineTool(ctx context.Context, filename, hash, toolName string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tool_approvals (filename, file_hash, tool_name, status, created_at, reviewed_at)
		VALUES (?, ?, ?, ?, ?, NULL)
		ON CONFLICT(filename) DO UPDATE SET
			file_hash = excluded.file_hash,
			tool_name = excluded.tool_name,
			status = excluded.status,
			reviewed_at = NULL`,
		filename, hash, nullable(toolName), ApprovalQuarantined, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("quarantining tool %s: %w", filename, err)
	}
	return nil
}

// ReviewTool sets the approval status for a filename. Status must be
// approved or rejected; the review timestamp is set to now.
func (s *Store) ReviewTool(ctx context.Context, filename, status string) error {
	if status != ApprovalApproved && status != ApprovalRejected {
		return fmt.Errorf("invalid review status %q", status)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE tool_approvals SET status = ?, reviewed_at = ? WHERE filename = ?`,
		status, time.Now().UTC(), filename)
	if err != nil {
		return fmt.Errorf("reviewing tool %s: %w", filename, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteApproval removes the row for a filename. Used when the script
// disappears from disk.
func (s *Store) DeleteApproval(ctx context.Context, filename string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM tool_approvals WHERE filename = ?`, filename)
	if err != nil {
		return fmt.Errorf("deleting approval for %s: %w", filename, err)
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
