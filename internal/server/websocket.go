// Copyright (C) 2025 MolBioHive (opensource@molbiohive.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/molbiohive/hive-browser/internal/store"
)

// clientMessage is the union of all client-to-server frame shapes.
type clientMessage struct {
	Type         string         `json:"type"`
	Content      string         `json:"content"`
	ModelID      string         `json:"modelId"`
	ChatID       string         `json:"chatId"`
	Tool         string         `json:"tool"`
	Params       map[string]any `json:"params"`
	MessageIndex *int           `json:"messageIndex"`
	Key          string         `json:"key"`
	Value        any            `json:"value"`
	Rating       string         `json:"rating"`
	Priority     int            `json:"priority"`
	Comment      string         `json:"comment"`
}

var upgrader = websocket.Upgrader{
	// local single-tenant server, the browser frontend is same-host
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  1 << 20,
	WriteBufferSize: 1 << 20,
}

func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sess := newSession(s, conn, s.currentUser(c))
	sess.log = s.log.With("session", uuid.NewString())
	s.metrics.connections.Inc()
	defer s.metrics.connections.Dec()
	sess.log.Info("websocket client connected", "user", sess.userSlug())

	sess.sendInit(c.Request.Context())
	sess.readLoop(c.Request.Context())
	sess.cancelInflight()
	sess.log.Info("websocket client disconnected", "user", sess.userSlug())
}

// sendInit pushes config, tool metadata, models, and the initial status
// snapshot so the frontend can render without further round-trips.
func (sess *session) sendInit(ctx context.Context) {
	srv := sess.srv
	entries := srv.pool.Entries()
	models := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		models = append(models, map[string]any{"id": e.ID(), "provider": e.Provider, "model": e.Model})
	}

	var userPayload map[string]any
	if sess.user != nil {
		userPayload = map[string]any{
			"id":          sess.user.ID,
			"username":    sess.user.Username,
			"slug":        sess.user.Slug,
			"preferences": sess.user.Preferences,
		}
	}

	sess.send(map[string]any{
		"type": "init",
		"config": map[string]any{
			"search_columns":    srv.cfg.Search.Columns,
			"max_history_pairs": srv.cfg.Chat.MaxHistoryPairs,
		},
		"tools":        srv.registry.Metadata(),
		"status":       srv.statusPayload(ctx, sess.client()),
		"models":       models,
		"currentModel": sess.modelID,
		"user":         userPayload,
	})
}

// readLoop dispatches client frames until the socket closes. Content
// frames run as a single cancellable task; control frames are handled
// inline.
func (sess *session) readLoop(ctx context.Context) {
	for {
		var msg clientMessage
		if err := sess.conn.ReadJSON(&msg); err != nil {
			return
		}
		kind := msg.Type
		if kind == "" {
			kind = "content"
		}
		sess.srv.metrics.messagesTotal.WithLabelValues(kind).Inc()

		switch msg.Type {
		case "cancel":
			sess.cancelInflight()

		case "set_model":
			sess.setModel(msg.ModelID)

		case "set_preference":
			sess.setPreference(ctx, msg.Key, msg.Value)

		case "submit_feedback":
			sess.submitFeedback(ctx, msg)

		case "load_chat":
			if msg.ChatID != "" {
				sess.loadChat(msg.ChatID)
			}

		case "rerun_tool":
			sess.rerunTool(ctx, msg.Tool, msg.Params, msg.MessageIndex)

		case "content", "":
			content := strings.TrimSpace(msg.Content)
			if content == "" {
				continue
			}
			// a new message supersedes the in-flight one
			sess.cancelInflight()
			taskCtx, cancel := context.WithCancel(ctx)
			sess.mu.Lock()
			sess.cancel = cancel
			sess.mu.Unlock()
			go func() {
				defer cancel()
				sess.handleContent(taskCtx, content)
			}()

		default:
			sess.log.Warn("unknown websocket message type", "type", msg.Type)
		}
	}
}

func (sess *session) setModel(modelID string) {
	if modelID == "" {
		return
	}
	if _, err := sess.srv.pool.Get(modelID); err != nil {
		sess.log.Warn("model switch rejected", "model", modelID, "error", err)
		return
	}
	sess.mu.Lock()
	sess.modelID = modelID
	sess.chat.model = modelID
	sess.mu.Unlock()
	sess.send(map[string]any{"type": "model_changed", "modelId": modelID})
	sess.log.Info("session switched model", "model", modelID)
}

func (sess *session) setPreference(ctx context.Context, key string, value any) {
	if sess.user == nil || key == "" {
		return
	}
	if err := sess.srv.store.SetUserPreference(ctx, sess.user.ID, key, value); err != nil {
		sess.log.Warn("preference update failed", "key", key, "error", err)
		return
	}
	sess.user.Preferences[key] = value
	sess.send(map[string]any{"type": "preferences_updated", "preferences": sess.user.Preferences})
}

func (sess *session) submitFeedback(ctx context.Context, msg clientMessage) {
	if sess.user == nil {
		sess.send(map[string]any{"type": "message", "content": "Sign in to submit feedback."})
		return
	}
	sess.mu.Lock()
	chatID := sess.chat.id
	sess.mu.Unlock()
	if msg.ChatID != "" {
		chatID = msg.ChatID
	}
	fb := store.Feedback{
		UserID:   sess.user.ID,
		ChatID:   chatID,
		Rating:   msg.Rating,
		Priority: msg.Priority,
		Comment:  msg.Comment,
	}
	if err := sess.srv.store.AddFeedback(ctx, &fb); err != nil {
		sess.log.Warn("feedback insert failed", "error", err)
		sess.send(map[string]any{"type": "message", "content": "Could not save feedback."})
		return
	}
	sess.send(map[string]any{"type": "feedback_saved", "id": fb.ID})
}
