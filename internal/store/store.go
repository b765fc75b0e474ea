// Copyright (C) 2025 MolBioHive (opensource@molbiohive.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package store is the relational index over watched sequence files.
//
// It holds typed rows for files, sequences, features, primers, users,
// feedback and tool approvals, and provides the fuzzy search used by the
// search tool. SQLite has no native trigram index, so similarity scoring
// is computed in Go with the same semantics as PostgreSQL's pg_trgm
// (see trigram.go); candidate narrowing stays in SQL.
//
// # Thread Safety
//
// Store is safe for concurrent use. Writes commit before control yields
// back to the caller; readers may observe the previous committed state.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("store: not found")

// Store wraps the SQLite handle.
type Store struct {
	db *sql.DB
}

// Open connects to the SQLite database at the given DSN and applies the
// schema. The DSN is typically "file:<path>?_pragma=foreign_keys(1)".
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// modernc/sqlite serializes writes internally; a single connection
	// avoids SQLITE_BUSY under concurrent writers.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// WithTx runs fn inside a transaction, committing on nil error and
// rolling back otherwise.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}
	return tx.Commit()
}

func (s *Store) migrate(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS indexed_files (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    file_path   TEXT NOT NULL UNIQUE,
    file_hash   TEXT NOT NULL,
    format      TEXT NOT NULL,
    status      TEXT NOT NULL DEFAULT 'active',
    error_msg   TEXT,
    file_size   INTEGER NOT NULL DEFAULT 0,
    file_mtime  TIMESTAMP,
    indexed_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS sequences (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    file_id     INTEGER NOT NULL REFERENCES indexed_files(id) ON DELETE CASCADE,
    name        TEXT NOT NULL,
    size_bp     INTEGER NOT NULL,
    topology    TEXT NOT NULL,
    sequence    TEXT NOT NULL,
    description TEXT,
    meta        TEXT,
    created_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_seq_file ON sequences(file_id);
CREATE INDEX IF NOT EXISTS idx_seq_name ON sequences(name);

CREATE TABLE IF NOT EXISTS features (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    seq_id      INTEGER NOT NULL REFERENCES sequences(id) ON DELETE CASCADE,
    name        TEXT NOT NULL,
    type        TEXT NOT NULL,
    start       INTEGER NOT NULL,
    end         INTEGER NOT NULL,
    strand      INTEGER NOT NULL DEFAULT 0,
    qualifiers  TEXT
);
CREATE INDEX IF NOT EXISTS idx_feat_seq ON features(seq_id);
CREATE INDEX IF NOT EXISTS idx_feat_type ON features(type);

CREATE TABLE IF NOT EXISTS primers (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    seq_id      INTEGER NOT NULL REFERENCES sequences(id) ON DELETE CASCADE,
    name        TEXT NOT NULL,
    sequence    TEXT NOT NULL,
    tm          REAL,
    start       INTEGER,
    end         INTEGER,
    strand      INTEGER
);
CREATE INDEX IF NOT EXISTS idx_primer_seq ON primers(seq_id);

CREATE TABLE IF NOT EXISTS users (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    username    TEXT NOT NULL,
    slug        TEXT NOT NULL UNIQUE,
    token       TEXT NOT NULL UNIQUE,
    preferences TEXT NOT NULL DEFAULT '{}',
    created_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS feedback (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id     INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    chat_id     TEXT,
    rating      TEXT NOT NULL,
    priority    INTEGER NOT NULL DEFAULT 3,
    comment     TEXT NOT NULL DEFAULT '',
    created_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS tool_approvals (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    filename    TEXT NOT NULL UNIQUE,
    file_hash   TEXT NOT NULL,
    tool_name   TEXT,
    status      TEXT NOT NULL DEFAULT 'quarantined',
    created_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    reviewed_at TIMESTAMP
);
`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		return fmt.Errorf("enabling foreign keys: %w", err)
	}
	return nil
}
