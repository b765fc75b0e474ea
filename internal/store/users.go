// Copyright (C) 2025 MolBioHive (opensource@molbiohive.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// UserSlug derives the filesystem-safe identifier from a username:
// lowercased with spaces, hyphens and underscores removed.
func UserSlug(username string) string {
	slug := strings.ToLower(username)
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '_':
			return -1
		}
		return r
	}, slug)
}

// CreateUser inserts a user with a fresh random token and returns the
// stored row. The slug must be unique across users.
func (s *Store) CreateUser(ctx context.Context, username string) (*User, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("generating user token: %w", err)
	}
	token := hex.EncodeToString(buf)
	slug := UserSlug(username)
	now := time.Now().UTC()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, slug, token, preferences, created_at)
		VALUES (?, ?, ?, '{}', ?)`,
		username, slug, token, now)
	if err != nil {
		return nil, fmt.Errorf("creating user %s: %w", username, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &User{
		ID:          id,
		Username:    username,
		Slug:        slug,
		Token:       token,
		Preferences: map[string]any{},
		CreatedAt:   now,
	}, nil
}

// GetUserByToken authenticates a bearer token.
func (s *Store) GetUserByToken(ctx context.Context, token string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, username, slug, token, preferences, created_at
		FROM users WHERE token = ?`, token)
	return scanUser(row)
}

// GetUserBySlug looks a user up by slug.
func (s *Store) GetUserBySlug(ctx context.Context, slug string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, username, slug, token, preferences, created_at
		FROM users WHERE slug = ?`, slug)
	return scanUser(row)
}

// ListUsers returns all users ordered by creation time.
func (s *Store) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, slug, token, preferences, created_at
		FROM users ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	return out, rows.Err()
}

// SetUserPreference merges one key into the user's preference map.
func (s *Store) SetUserPreference(ctx context.Context, userID int64, key string, value any) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		var raw string
		err := tx.QueryRowContext(ctx, `SELECT preferences FROM users WHERE id = ?`, userID).Scan(&raw)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		prefs := map[string]any{}
		if err := json.Unmarshal([]byte(raw), &prefs); err != nil {
			prefs = map[string]any{}
		}
		prefs[key] = value
		updated, err := json.Marshal(prefs)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `UPDATE users SET preferences = ? WHERE id = ?`, string(updated), userID)
		return err
	})
}

func scanUser(row rowScanner) (*User, error) {
	var u User
	var prefs string
	err := row.Scan(&u.ID, &u.Username, &u.Slug, &u.Token, &prefs, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning user row: %w", err)
	}
	if err := json.Unmarshal([]byte(prefs), &u.Preferences); err != nil {
		u.Preferences = map[string]any{}
	}
	return &u, nil
}
