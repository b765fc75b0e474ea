// Copyright (C) 2025 MolBioHive (opensource@molbiohive.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package blast builds and queries the BLAST+ databases derived from the
// index store.
package blast

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/molbiohive/hive-browser/internal/store"
)

// LockStaleAfter is the age past which a leftover build lock is treated
// as abandoned.
const LockStaleAfter = 10 * time.Minute

const lockFileName = ".build.lock"

// Builder rebuilds the nucleotide and protein databases from active
// sequences. Concurrent rebuild requests within one process collapse via
// singleflight; concurrent processes coordinate through the lockfile.
type Builder struct {
	store  *store.Store
	dir    string
	binDir string
	log    *slog.Logger

	group singleflight.Group
}

// NewBuilder builds databases under dir using BLAST+ binaries from
// binDir (empty means PATH).
func NewBuilder(st *store.Store, dir, binDir string, log *slog.Logger) *Builder {
	return &Builder{store: st, dir: dir, binDir: binDir, log: log}
}

// NuclDB and ProtDB are the database prefixes handed to blastn/blastp.
func (b *Builder) NuclDB() string { return filepath.Join(b.dir, "nucl") }
func (b *Builder) ProtDB() string { return filepath.Join(b.dir, "prot") }

// Rebuild regenerates both databases. Returns without error when
// another worker holds the lock; the other worker's rebuild covers this
// request.
func (b *Builder) Rebuild(ctx context.Context) error {
	_, err, _ := b.group.Do("rebuild", func() (any, error) {
		return nil, b.rebuild(ctx)
	})
	return err
}

func (b *Builder) rebuild(ctx context.Context) error {
	if err := os.MkdirAll(b.dir, 0o755); err != nil {
		return fmt.Errorf("creating blast dir: %w", err)
	}

	acquired, err := b.acquireLock()
	if err != nil {
		return err
	}
	if !acquired {
		b.log.Info("blast rebuild skipped, another worker holds the lock")
		return nil
	}
	defer os.Remove(filepath.Join(b.dir, lockFileName))

	seqs, err := b.store.ActiveSequences(ctx)
	if err != nil {
		return err
	}

	nuclPath := filepath.Join(b.dir, "nucl.fasta")
	protPath := filepath.Join(b.dir, "prot.fasta")
	nuclCount, protCount, err := writeFASTAs(seqs, nuclPath, protPath)
	if err != nil {
		return err
	}
	defer os.Remove(nuclPath)
	defer os.Remove(protPath)

	if nuclCount > 0 {
		if err := b.makeDB(ctx, nuclPath, "nucl", b.NuclDB()); err != nil {
			return err
		}
	}
	if protCount > 0 {
		if err := b.makeDB(ctx, protPath, "prot", b.ProtDB()); err != nil {
			return err
		}
	}
	b.log.Info("blast databases rebuilt", "nucleotide", nuclCount, "protein", protCount)
	return nil
}

// acquireLock creates the lockfile exclusively. A fresh existing lock
// means another worker is building; a stale one is reaped and retried
// once.
func (b *Builder) acquireLock() (bool, error) {
	path := filepath.Join(b.dir, lockFileName)
	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			fmt.Fprintf(f, "%d\n", os.Getpid())
			f.Close()
			return true, nil
		}
		if !os.IsExist(err) {
			return false, fmt.Errorf("creating build lock: %w", err)
		}
		info, statErr := os.Stat(path)
		if statErr != nil {
			continue // lock vanished between attempts
		}
		if time.Since(info.ModTime()) < LockStaleAfter {
			return false, nil
		}
		b.log.Warn("removing stale build lock", "age", time.Since(info.ModTime()))
		os.Remove(path)
	}
	return false, nil
}

// writeFASTAs splits sequences by molecule type. RNA is written as DNA
// (U to T) into the nucleotide file; names have whitespace collapsed to
// underscores so they survive the round trip through BLAST.
func writeFASTAs(seqs []store.Sequence, nuclPath, protPath string) (nucl, prot int, err error) {
	nuclFile, err := os.Create(nuclPath)
	if err != nil {
		return 0, 0, fmt.Errorf("creating %s: %w", nuclPath, err)
	}
	defer nuclFile.Close()
	protFile, err := os.Create(protPath)
	if err != nil {
		return 0, 0, fmt.Errorf("creating %s: %w", protPath, err)
	}
	defer protFile.Close()

	for _, seq := range seqs {
		name := SafeName(seq.Name)
		switch strings.ToLower(seq.Meta.MoleculeType) {
		case "protein":
			fmt.Fprintf(protFile, ">%s\n%s\n", name, seq.Sequence)
			prot++
		case "rna", "ssrna", "mrna":
			dna := strings.Map(func(r rune) rune {
				switch r {
				case 'U':
					return 'T'
				case 'u':
					return 't'
				}
				return r
			}, seq.Sequence)
			fmt.Fprintf(nuclFile, ">%s\n%s\n", name, dna)
			nucl++
		default:
			fmt.Fprintf(nuclFile, ">%s\n%s\n", name, seq.Sequence)
			nucl++
		}
	}
	return nucl, prot, nil
}

// SafeName collapses whitespace runs in a sequence name to single
// underscores.
func SafeName(name string) string {
	return strings.Join(strings.Fields(name), "_")
}

func (b *Builder) makeDB(ctx context.Context, fastaPath, dbtype, out string) error {
	bin := "makeblastdb"
	if b.binDir != "" {
		bin = filepath.Join(b.binDir, bin)
	}
	cmd := exec.CommandContext(ctx, bin,
		"-in", fastaPath,
		"-dbtype", dbtype,
		"-out", out,
		"-blastdb_version", "5",
	)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("makeblastdb %s: %w: %s", dbtype, err, strings.TrimSpace(string(output)))
	}
	return nil
}
