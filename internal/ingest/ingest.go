// Copyright (C) 2025 MolBioHive (opensource@molbiohive.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ingest is the hash-gated pipeline from a watched file to
// index rows.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/molbiohive/hive-browser/internal/parsers"
	"github.com/molbiohive/hive-browser/internal/rules"
	"github.com/molbiohive/hive-browser/internal/store"
)

// Outcome of one ingest call.
const (
	OutcomeUnchanged = "unchanged"
	OutcomeIndexed   = "indexed"
	OutcomeError     = "error"
)

// Result reports what happened to one file.
type Result struct {
	Outcome string
	File    *store.IndexedFile
}

// Pipeline parses files and upserts their rows.
type Pipeline struct {
	store *store.Store
	log   *slog.Logger
}

// New builds a pipeline over the index store.
func New(st *store.Store, log *slog.Logger) *Pipeline {
	return &Pipeline{store: st, log: log}
}

// HashFile returns the SHA-256 hex digest of a file's bytes.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Ingest runs the full pipeline for one file:
//
//  1. Hash the bytes; an unchanged hash short-circuits to a no-op.
//  2. Resolve and run the parser named by the rule match.
//  3. On parse failure persist an error row and return a non-fatal
//     error outcome.
//  4. On success replace the file's sequence data atomically and derive
//     tags from the directory segments under watcherRoot.
//
// Parse failures are recorded, not returned as errors; only database
// failures surface to the caller.
func (p *Pipeline) Ingest(ctx context.Context, path string, match rules.MatchResult, watcherRoot string) (*Result, error) {
	hash, err := HashFile(path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	existing, err := p.store.GetFileByPath(ctx, path)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if existing != nil && existing.FileHash == hash {
		p.log.Debug("unchanged", "file", filepath.Base(path))
		return &Result{Outcome: OutcomeUnchanged, File: existing}, nil
	}

	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	row := &store.IndexedFile{
		FilePath:  path,
		FileHash:  hash,
		Format:    format,
		FileSize:  info.Size(),
		FileMtime: info.ModTime().UTC(),
	}

	result, parseErr := p.parse(match, path)
	if parseErr != nil {
		p.log.Error("parse error", "file", filepath.Base(path), "error", parseErr)
		row.Status = store.FileError
		row.ErrorMsg = parseErr.Error()
		if err := p.store.UpsertFile(ctx, row); err != nil {
			return nil, err
		}
		return &Result{Outcome: OutcomeError, File: row}, nil
	}

	row.Status = store.FileActive
	if err := p.store.UpsertFile(ctx, row); err != nil {
		return nil, err
	}

	seq := store.Sequence{
		Name:        result.Name,
		SizeBP:      result.SizeBP,
		Topology:    result.Topology,
		Sequence:    result.Sequence,
		Description: result.Description,
		Meta: store.SequenceMeta{
			Tags:         deriveTags(path, watcherRoot),
			MoleculeType: result.Meta["molecule_type"],
			Notes:        result.Meta["notes"],
		},
	}
	for _, ft := range result.Features {
		seq.Features = append(seq.Features, store.Feature{
			Name:       ft.Name,
			Type:       ft.Type,
			Start:      ft.Start,
			End:        ft.End,
			Strand:     ft.Strand,
			Qualifiers: ft.Qualifiers,
		})
	}
	for _, pr := range result.Primers {
		seq.Primers = append(seq.Primers, store.Primer{
			Name:     pr.Name,
			Sequence: pr.Sequence,
			Tm:       pr.Tm,
			Start:    pr.Start,
			End:      pr.End,
			Strand:   pr.Strand,
		})
	}
	if err := p.store.ReplaceSequenceData(ctx, row.ID, []store.Sequence{seq}); err != nil {
		return nil, err
	}

	p.log.Info("indexed", "name", result.Name, "size_bp", result.SizeBP,
		"features", len(result.Features), "primers", len(result.Primers))
	return &Result{Outcome: OutcomeIndexed, File: row}, nil
}

// Remove marks a file deleted and drops its sequence rows.
func (p *Pipeline) Remove(ctx context.Context, path string) error {
	if err := p.store.RemoveFile(ctx, path); err != nil {
		return err
	}
	p.log.Info("removed", "file", filepath.Base(path))
	return nil
}

func (p *Pipeline) parse(match rules.MatchResult, path string) (*parsers.ParseResult, error) {
	fn, err := parsers.ForFile(match.Parser, path)
	if err != nil {
		return nil, err
	}
	return fn(path)
}

// deriveTags returns the directory segments of path relative to the
// watcher root. Files at the root get no tags.
func deriveTags(path, watcherRoot string) []string {
	if watcherRoot == "" {
		return nil
	}
	rel, err := filepath.Rel(watcherRoot, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return nil
	}
	dir := filepath.Dir(rel)
	if dir == "." || dir == string(filepath.Separator) {
		return nil
	}
	var tags []string
	for _, seg := range strings.Split(dir, string(filepath.Separator)) {
		if seg != "" && seg != "." {
			tags = append(tags, seg)
		}
	}
	return tags
}
