// Copyright (C) 2025 MolBioHive (opensource@molbiohive.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"context"
	"fmt"
)

// IndexStatus is the library-wide count snapshot shown on the status
// line and the /api/status endpoint.
type IndexStatus struct {
	ActiveFiles int64 `json:"active_files"`
	ErrorFiles  int64 `json:"error_files"`
	Sequences   int64 `json:"sequences"`
	Features    int64 `json:"features"`
	Primers     int64 `json:"primers"`
}

// Status counts the indexed corpus.
func (s *Store) Status(ctx context.Context) (*IndexStatus, error) {
	var st IndexStatus
	row := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM indexed_files WHERE status = ?),
			(SELECT COUNT(*) FROM indexed_files WHERE status = ?),
			(SELECT COUNT(*) FROM sequences sq JOIN indexed_files f ON f.id = sq.file_id WHERE f.status = ?),
			(SELECT COUNT(*) FROM features ft JOIN sequences sq ON sq.id = ft.seq_id JOIN indexed_files f ON f.id = sq.file_id WHERE f.status = ?),
			(SELECT COUNT(*) FROM primers p JOIN sequences sq ON sq.id = p.seq_id JOIN indexed_files f ON f.id = sq.file_id WHERE f.status = ?)`,
		FileActive, FileError, FileActive, FileActive, FileActive)
	if err := row.Scan(&st.ActiveFiles, &st.ErrorFiles, &st.Sequences, &st.Features, &st.Primers); err != nil {
		return nil, fmt.Errorf("counting index status: %w", err)
	}
	return &st, nil
}
