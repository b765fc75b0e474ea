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
	"time"
)

// AddFeedback records one feedback entry and fills fb.ID.
func (s *Store) AddFeedback(ctx context.Context, fb *Feedback) error {
	if fb.Rating != "good" && fb.Rating != "bad" {
		return fmt.Errorf("invalid feedback rating %q", fb.Rating)
	}
	if fb.Priority == 0 {
		fb.Priority = 3
	}
	fb.CreatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO feedback (user_id, chat_id, rating, priority, comment, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		fb.UserID, nullable(fb.ChatID), fb.Rating, fb.Priority, fb.Comment, fb.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting feedback: %w", err)
	}
	fb.ID, err = res.LastInsertId()
	return err
}

// ListFeedback returns feedback entries newest first, optionally capped.
func (s *Store) ListFeedback(ctx context.Context, limit int) ([]Feedback, error) {
	query := `
		SELECT id, user_id, COALESCE(chat_id, ''), rating, priority, comment, created_at
		FROM feedback ORDER BY created_at DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing feedback: %w", err)
	}
	defer rows.Close()

	var out []Feedback
	for rows.Next() {
		var fb Feedback
		if err := rows.Scan(&fb.ID, &fb.UserID, &fb.ChatID, &fb.Rating,
			&fb.Priority, &fb.Comment, &fb.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, fb)
	}
	return out, rows.Err()
}
