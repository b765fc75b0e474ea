// Copyright (C) 2025 MolBioHive (opensource@molbiohive.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/molbiohive/hive-browser/internal/agent"
	"github.com/molbiohive/hive-browser/internal/blast"
	"github.com/molbiohive/hive-browser/internal/chat"
	"github.com/molbiohive/hive-browser/internal/ingest"
	"github.com/molbiohive/hive-browser/internal/llm"
	"github.com/molbiohive/hive-browser/internal/rules"
	"github.com/molbiohive/hive-browser/internal/server"
	"github.com/molbiohive/hive-browser/internal/store"
	"github.com/molbiohive/hive-browser/internal/tools"
	"github.com/molbiohive/hive-browser/internal/watcher"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Hive Browser server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runServe(ctx)
	},
}

func runServe(ctx context.Context) error {
	st, err := store.Open(settings.Database.URL)
	if err != nil {
		return err
	}
	defer st.Close()

	chats, err := chat.NewStorage(settings.ChatsDir(), logger)
	if err != nil {
		return err
	}

	builder := blast.NewBuilder(st, settings.BlastDir(), settings.Blast.BinDir, logger)
	runner := blast.NewRunner(settings.Blast.BinDir)

	registry := tools.BuildRegistry(ctx, tools.FactoryDeps{
		Store:    st,
		Runner:   runner,
		Builder:  builder,
		Blast:    settings.Blast,
		ToolsDir: settings.ToolsDir(),
		Log:      logger,
	})
	logger.Info("tool registry ready", "tools", len(registry.All()))

	pool := llm.NewPool(settings.LLM, logger)
	if id := pool.DefaultID(); id != "" {
		if pool.Health(ctx) {
			logger.Info("LLM connected", "model", id)
		} else {
			logger.Warn("default LLM not reachable", "model", id)
		}
	}

	router := agent.NewRouter(registry, settings.LLM, logger)
	srv := server.New(settings, st, registry, pool, router, chats, logger)

	// initial scan plus live watch run alongside the server; the rebuild
	// hook refreshes the BLAST databases after any indexing batch
	var w *watcher.Watcher
	if len(settings.Watcher.Rules) > 0 {
		engine := rules.New(settings.Watcher.Rules)
		pipeline := ingest.New(st, logger)
		w = watcher.New(settings.WatcherRoot(), engine, pipeline, func(ctx context.Context) {
			if err := builder.Rebuild(ctx); err != nil {
				logger.Warn("similarity index rebuild failed", "error", err)
			}
		}, logger)

		go func() {
			stats, err := w.Scan(ctx)
			if err != nil && ctx.Err() == nil {
				logger.Warn("initial scan failed", "error", err)
			}
			if stats != nil {
				logger.Info("initial scan done",
					"scanned", stats.Scanned, "indexed", stats.Indexed,
					"unchanged", stats.Unchanged, "errors", stats.Errors)
			}
			if ctx.Err() != nil {
				return
			}
			if err := w.Start(ctx); err != nil {
				logger.Warn("file watcher failed to start", "error", err)
			}
		}()
		defer w.Stop()
	}

	return srv.Run(ctx)
}
