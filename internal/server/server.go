// Copyright (C) 2025 MolBioHive (opensource@molbiohive.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package server is the HTTP surface: REST routes, the WebSocket chat
// endpoint, and static frontend assets.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/molbiohive/hive-browser/internal/agent"
	"github.com/molbiohive/hive-browser/internal/chat"
	"github.com/molbiohive/hive-browser/internal/config"
	"github.com/molbiohive/hive-browser/internal/llm"
	"github.com/molbiohive/hive-browser/internal/store"
	"github.com/molbiohive/hive-browser/internal/tools"
)

// Server wires the index store, tool registry, model pool, and router
// behind one gin engine.
type Server struct {
	cfg      *config.Settings
	store    *store.Store
	registry *tools.Registry
	pool     *llm.Pool
	router   *agent.Router
	chats    *chat.Storage
	log      *slog.Logger
	metrics  *metrics
	engine   *gin.Engine
}

// New assembles the server. The frontend is served from ./static when
// that directory exists.
func New(cfg *config.Settings, st *store.Store, registry *tools.Registry,
	pool *llm.Pool, router *agent.Router, chats *chat.Storage,
	log *slog.Logger) *Server {

	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		cfg:      cfg,
		store:    st,
		registry: registry,
		pool:     pool,
		router:   router,
		chats:    chats,
		log:      log,
		metrics:  newMetrics(),
		engine:   gin.New(),
	}
	s.engine.Use(gin.Recovery())
	s.routes()
	return s
}

// Handler exposes the engine for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	srv := &http.Server{Addr: addr, Handler: s.engine}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// serveStatic mounts the frontend bundle when the directory exists.
func (s *Server) serveStatic(dir string) {
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return
	}
	fileServer := http.FileServer(http.Dir(dir))
	s.engine.NoRoute(func(c *gin.Context) {
		path := c.Request.URL.Path
		if strings.HasPrefix(path, "/api/") || path == "/ws" {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		full := filepath.Join(dir, filepath.Clean(path))
		if info, err := os.Stat(full); err != nil || info.IsDir() {
			c.File(filepath.Join(dir, "index.html"))
			return
		}
		fileServer.ServeHTTP(c.Writer, c.Request)
	})
}
