// Copyright (C) 2025 MolBioHive (opensource@molbiohive.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package tools

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/molbiohive/hive-browser/internal/store"
)

// SyncQuarantine hashes every candidate tool script in dir and
// reconciles the approval table. A file with no row is quarantined; an
// approved file whose content changed is re-quarantined and must be
// reviewed again. Rows for files that no longer exist are removed.
// Returns the filenames that are currently approved and safe to load.
func SyncQuarantine(ctx context.Context, st *store.Store, dir string, log *slog.Logger) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading tools dir: %w", err)
	}

	seen := make(map[string]struct{})
	var approved []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".go") || strings.HasPrefix(name, "_") {
			continue
		}
		seen[name] = struct{}{}

		hash, err := hashScript(filepath.Join(dir, name))
		if err != nil {
			log.Warn("skipping unreadable tool script", "file", name, "error", err)
			continue
		}

		row, err := st.GetApproval(ctx, name)
		switch {
		case errors.Is(err, store.ErrNotFound):
			if err := st.QuarantineTool(ctx, name, hash, ""); err != nil {
				return nil, err
			}
			log.Info("new external tool quarantined", "file", name)
		case err != nil:
			return nil, err
		case row.Status == store.ApprovalApproved && row.FileHash == hash:
			approved = append(approved, name)
		case row.Status == store.ApprovalApproved:
			if err := st.QuarantineTool(ctx, name, hash, row.ToolName); err != nil {
				return nil, err
			}
			log.Warn("external tool changed since approval, re-quarantined", "file", name)
		default:
			// quarantined or rejected: leave as-is.
		}
	}

	rows, err := st.ListApprovals(ctx)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		if _, ok := seen[row.Filename]; ok {
			continue
		}
		if err := st.DeleteApproval(ctx, row.Filename); err != nil {
			return nil, err
		}
		log.Info("removed approval row for deleted tool script", "file", row.Filename)
	}
	return approved, nil
}

func hashScript(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
