// Copyright (C) 2025 MolBioHive (opensource@molbiohive.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package server

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/molbiohive/hive-browser/internal/chat"
	"github.com/molbiohive/hive-browser/internal/llm"
	"github.com/molbiohive/hive-browser/internal/store"
)

// tokenCookie is the session cookie carrying the user's bearer token.
const tokenCookie = "hive_token"

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9 _-]{1,50}$`)

func (s *Server) routes() {
	s.engine.GET("/healthz", s.handleHealth)
	s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{})))
	s.engine.GET("/ws", s.handleWebSocket)

	api := s.engine.Group("/api")
	api.GET("/status", s.handleStatus)
	api.GET("/models", s.handleModels)

	api.POST("/users", s.handleCreateUser)
	api.GET("/users", s.handleListUsers)
	api.POST("/users/login", s.handleLogin)
	api.GET("/users/me", s.handleCurrentUser)

	api.GET("/chats", s.handleListChats)
	api.GET("/chats/:id", s.handleGetChat)
	api.DELETE("/chats/:id", s.handleDeleteChat)

	api.POST("/feedback", s.handleSubmitFeedback)
	api.GET("/feedback", s.handleListFeedback)

	s.serveStatic("static")
}

// currentUser resolves the session cookie or bearer header to a user,
// or nil for anonymous requests.
func (s *Server) currentUser(c *gin.Context) *store.User {
	token, _ := c.Cookie(tokenCookie)
	if token == "" {
		token = strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	}
	if token == "" {
		return nil
	}
	user, err := s.store.GetUserByToken(c.Request.Context(), token)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.log.Warn("token lookup failed", "error", err)
		}
		return nil
	}
	return user
}

// statusPayload is the shared status shape for /api/status, the init
// message, and status_update frames. A nil client falls back to the
// pool's default model health.
func (s *Server) statusPayload(ctx context.Context, client llm.Client) map[string]any {
	payload := map[string]any{
		"indexed_files": int64(0),
		"error_files":   int64(0),
		"sequences":     int64(0),
		"features":      int64(0),
		"primers":       int64(0),
		"db_connected":  false,
		"llm_available": false,
	}
	if st, err := s.store.Status(ctx); err != nil {
		s.log.Warn("status query failed", "error", err)
	} else {
		payload["indexed_files"] = st.ActiveFiles
		payload["error_files"] = st.ErrorFiles
		payload["sequences"] = st.Sequences
		payload["features"] = st.Features
		payload["primers"] = st.Primers
		payload["db_connected"] = true
	}
	if client != nil {
		payload["llm_available"] = client.Health(ctx)
	} else {
		payload["llm_available"] = s.pool.Health(ctx)
	}
	return payload
}

func (s *Server) handleHealth(c *gin.Context) {
	_, err := s.store.Status(c.Request.Context())
	dbOK := err == nil
	state := "healthy"
	if !dbOK {
		state = "degraded"
	}
	c.JSON(http.StatusOK, gin.H{"status": state, "checks": gin.H{"database": dbOK}})
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.statusPayload(c.Request.Context(), nil))
}

func (s *Server) handleModels(c *gin.Context) {
	entries := s.pool.Entries()
	models := make([]gin.H, 0, len(entries))
	for _, e := range entries {
		models = append(models, gin.H{"id": e.ID(), "provider": e.Provider, "model": e.Model})
	}
	c.JSON(http.StatusOK, gin.H{"models": models, "default": s.pool.DefaultID()})
}

func (s *Server) handleCreateUser(c *gin.Context) {
	var body struct {
		Username string `json:"username"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	username := strings.TrimSpace(body.Username)
	if !usernamePattern.MatchString(username) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error": "Invalid username: ASCII letters, digits, hyphens, underscores, spaces (1-50 chars)",
		})
		return
	}
	user, err := s.store.CreateUser(c.Request.Context(), username)
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "username already taken"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id": user.ID, "username": user.Username, "slug": user.Slug, "token": user.Token,
	})
}

func (s *Server) handleListUsers(c *gin.Context) {
	users, err := s.store.ListUsers(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "database unavailable"})
		return
	}
	out := make([]gin.H, 0, len(users))
	for _, u := range users {
		out = append(out, gin.H{"id": u.ID, "username": u.Username, "slug": u.Slug})
	}
	c.JSON(http.StatusOK, out)
}

// handleLogin is passwordless by slug. The server is single-tenant and
// local, so possession of the address is the trust boundary.
func (s *Server) handleLogin(c *gin.Context) {
	var body struct {
		Slug string `json:"slug"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || strings.TrimSpace(body.Slug) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	user, err := s.store.GetUserBySlug(c.Request.Context(), strings.TrimSpace(body.Slug))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id": user.ID, "username": user.Username, "slug": user.Slug, "token": user.Token,
	})
}

func (s *Server) handleCurrentUser(c *gin.Context) {
	user := s.currentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":          user.ID,
		"username":    user.Username,
		"slug":        user.Slug,
		"preferences": user.Preferences,
	})
}

func (s *Server) handleListChats(c *gin.Context) {
	slug := ""
	if user := s.currentUser(c); user != nil {
		slug = user.Slug
	}
	list := s.chats.List(slug)
	if list == nil {
		list = []chat.Summary{}
	}
	c.JSON(http.StatusOK, list)
}

func (s *Server) handleGetChat(c *gin.Context) {
	slug := ""
	if user := s.currentUser(c); user != nil {
		slug = user.Slug
	}
	data, err := s.chats.Load(c.Param("id"), slug)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "chat not found"})
		return
	}
	c.JSON(http.StatusOK, data)
}

func (s *Server) handleDeleteChat(c *gin.Context) {
	slug := ""
	if user := s.currentUser(c); user != nil {
		slug = user.Slug
	}
	c.JSON(http.StatusOK, gin.H{"deleted": s.chats.Delete(c.Param("id"), slug)})
}

func (s *Server) handleSubmitFeedback(c *gin.Context) {
	user := s.currentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}
	var body struct {
		Rating   string `json:"rating"`
		Priority int    `json:"priority"`
		Comment  string `json:"comment"`
		ChatID   string `json:"chat_id"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	fb := store.Feedback{
		UserID:   user.ID,
		ChatID:   body.ChatID,
		Rating:   body.Rating,
		Priority: body.Priority,
		Comment:  body.Comment,
	}
	if err := s.store.AddFeedback(c.Request.Context(), &fb); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": fb.ID})
}

func (s *Server) handleListFeedback(c *gin.Context) {
	entries, err := s.store.ListFeedback(c.Request.Context(), 0)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "database unavailable"})
		return
	}
	c.JSON(http.StatusOK, entries)
}
