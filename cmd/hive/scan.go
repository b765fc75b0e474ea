// Copyright (C) 2025 MolBioHive (opensource@molbiohive.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/molbiohive/hive-browser/internal/blast"
	"github.com/molbiohive/hive-browser/internal/ingest"
	"github.com/molbiohive/hive-browser/internal/rules"
	"github.com/molbiohive/hive-browser/internal/store"
	"github.com/molbiohive/hive-browser/internal/watcher"
)

var skipBlast bool

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Index the watch directory once and rebuild the BLAST databases",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := store.Open(settings.Database.URL)
		if err != nil {
			return err
		}
		defer st.Close()

		engine := rules.New(settings.Watcher.Rules)
		pipeline := ingest.New(st, logger)
		w := watcher.New(settings.WatcherRoot(), engine, pipeline, nil, logger)

		stats, err := w.Scan(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Scanned %d files: %d indexed, %d unchanged, %d ignored, %d errors\n",
			stats.Scanned, stats.Indexed, stats.Unchanged, stats.Ignored, stats.Errors)

		if skipBlast {
			return nil
		}
		builder := blast.NewBuilder(st, settings.BlastDir(), settings.Blast.BinDir, logger)
		if err := builder.Rebuild(ctx); err != nil {
			return fmt.Errorf("rebuilding BLAST databases: %w", err)
		}
		fmt.Println("BLAST databases rebuilt")
		return nil
	},
}

func init() {
	scanCmd.Flags().BoolVar(&skipBlast, "skip-blast", false, "skip the BLAST database rebuild")
}
