// Copyright (C) 2025 MolBioHive (opensource@molbiohive.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	openai "github.com/sashabaranov/go-openai"

	"github.com/molbiohive/hive-browser/internal/agent"
	"github.com/molbiohive/hive-browser/internal/chat"
	"github.com/molbiohive/hive-browser/internal/llm"
	"github.com/molbiohive/hive-browser/internal/store"
	"github.com/molbiohive/hive-browser/internal/tools"
)

// chatState is the session's mutable current-chat record.
type chatState struct {
	id             string
	messages       []chat.Message
	titleGenerated bool
	model          string
}

// session is the per-connection conductor. It owns the conversation
// history, the current chat, the selected model, and at most one
// in-flight cancellable routing task.
type session struct {
	srv  *Server
	conn *websocket.Conn
	user *store.User
	log  *slog.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	history []openai.ChatCompletionMessage
	modelID string
	chat    chatState
	cancel  context.CancelFunc
}

func newSession(srv *Server, conn *websocket.Conn, user *store.User) *session {
	modelID := srv.pool.DefaultID()
	return &session{
		srv:     srv,
		conn:    conn,
		user:    user,
		log:     srv.log,
		modelID: modelID,
		chat:    chatState{model: modelID},
	}
}

func (sess *session) userSlug() string {
	if sess.user == nil {
		return ""
	}
	return sess.user.Slug
}

// send serializes writes to the socket; gorilla connections allow only
// one concurrent writer.
func (sess *session) send(payload map[string]any) {
	sess.writeMu.Lock()
	defer sess.writeMu.Unlock()
	if err := sess.conn.WriteJSON(payload); err != nil {
		sess.log.Warn("websocket write failed", "error", err)
	}
}

// client resolves the session's current model to a client, or nil.
func (sess *session) client() llm.Client {
	sess.mu.Lock()
	id := sess.modelID
	sess.mu.Unlock()
	if id == "" {
		return nil
	}
	c, err := sess.srv.pool.Get(id)
	if err != nil {
		return nil
	}
	return c
}

// cancelInflight aborts the running routing task, if any.
func (sess *session) cancelInflight() {
	sess.mu.Lock()
	cancel := sess.cancel
	sess.cancel = nil
	sess.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// appendHistory adds one turn and trims the window to the newest
// 2*maxPairs messages. Caller holds mu.
func (sess *session) appendHistory(role, content string) {
	sess.history = append(sess.history, openai.ChatCompletionMessage{Role: role, Content: content})
	if max := 2 * sess.srv.cfg.Chat.MaxHistoryPairs; len(sess.history) > max {
		sess.history = sess.history[len(sess.history)-max:]
	}
}

func (sess *session) userMessageCount() int {
	n := 0
	for _, m := range sess.history {
		if m.Role == openai.ChatMessageRoleUser {
			n++
		}
	}
	return n
}

// handleContent routes one user message. Runs as the session's single
// cancellable task.
func (sess *session) handleContent(ctx context.Context, content string) {
	start := time.Now()
	defer func() {
		sess.srv.metrics.routeDuration.Observe(time.Since(start).Seconds())
	}()

	client := sess.client()

	sess.mu.Lock()
	history := append([]openai.ChatCompletionMessage(nil), sess.history...)
	modelID := sess.modelID
	sess.mu.Unlock()

	resp := sess.srv.router.Route(ctx, content, client, history, func(p agent.Progress) {
		sess.send(map[string]any{
			"type":       "progress",
			"phase":      p.Phase,
			"tool":       p.Tool,
			"tools_used": p.ToolsUsed,
			"tokens":     p.Tokens,
		})
	})

	now := time.Now().UTC()
	widget := sess.buildWidget(resp)

	sess.mu.Lock()
	sess.appendHistory(openai.ChatMessageRoleUser, content)
	if resp.Content != "" {
		sess.appendHistory(openai.ChatMessageRoleAssistant, resp.Content)
	}
	// forms are ephemeral UI, they never enter the persisted chat
	if resp.Type != agent.TypeForm {
		sess.chat.messages = append(sess.chat.messages,
			chat.Message{Role: "user", Content: content, Time: now})
		sess.chat.messages = append(sess.chat.messages, chat.Message{
			Role:    "assistant",
			Content: resp.Content,
			Time:    now,
			Model:   modelID,
			Widget:  widget,
		})
	}
	userMessages := sess.userMessageCount()
	sess.mu.Unlock()

	payload := map[string]any{"type": "message", "content": resp.Content, "model": modelID}
	if widget != nil {
		payload["widget"] = widget
	}
	if resp.Tokens != nil {
		payload["tokens"] = resp.Tokens
	}
	sess.send(payload)

	// counts may have changed underneath a tool run
	if resp.Type == agent.TypeToolResult {
		persistCtx := context.WithoutCancel(ctx)
		sess.send(map[string]any{
			"type":   "status_update",
			"status": sess.srv.statusPayload(persistCtx, client),
		})
	}

	if userMessages >= sess.srv.cfg.Chat.AutoSaveAfter {
		sess.saveChat(context.WithoutCancel(ctx), client)
	}
}

// buildWidget maps a router response to the frontend widget payload.
func (sess *session) buildWidget(resp *agent.Response) *chat.Widget {
	switch resp.Type {
	case agent.TypeToolResult:
		if resp.Data == nil {
			return nil
		}
		w := &chat.Widget{
			Type:   sess.widgetType(resp.Tool),
			Tool:   resp.Tool,
			Params: resp.Params,
			Data:   resp.Data,
		}
		if len(resp.Chain) > 0 {
			w.Chain = resp.Chain
		}
		return w
	case agent.TypeForm:
		return &chat.Widget{
			Type:   "form",
			Tool:   resp.Tool,
			Params: map[string]any{},
			Data:   resp.Data,
		}
	}
	return nil
}

func (sess *session) widgetType(toolName string) string {
	if tool := sess.srv.registry.Get(toolName); tool != nil {
		return tool.Widget()
	}
	return "text"
}

// saveChat persists the current chat, assigning an id on first save and
// generating a title once per chat.
func (sess *session) saveChat(ctx context.Context, client llm.Client) {
	sess.mu.Lock()
	if sess.chat.id == "" {
		sess.chat.id = chat.NewChatID()
	}
	id := sess.chat.id
	model := sess.chat.model
	threshold := sess.srv.cfg.Chat.WidgetDataThreshold
	msgs := make([]chat.Message, len(sess.chat.messages))
	for i, m := range sess.chat.messages {
		msgs[i] = stripLargeWidgetData(m, threshold)
	}
	needTitle := !sess.chat.titleGenerated && client != nil
	if needTitle {
		sess.chat.titleGenerated = true
	}
	titleSource := firstMessages(sess.chat.messages, 4)
	sess.mu.Unlock()

	if err := sess.srv.chats.Save(chat.Chat{ID: id, Model: model, Messages: msgs}, sess.userSlug()); err != nil {
		sess.log.Warn("chat autosave failed", "chat_id", id, "error", err)
		return
	}

	if needTitle {
		title := generateTitle(ctx, client, titleSource, sess.log)
		if title != "" {
			if err := sess.srv.chats.UpdateTitle(id, sess.userSlug(), title); err != nil {
				sess.log.Warn("chat title update failed", "chat_id", id, "error", err)
				return
			}
			sess.send(map[string]any{"type": "chat_saved", "chatId": id, "title": title})
		}
	}
}

// stripLargeWidgetData replaces oversized widget payloads with a stale
// marker; the frontend offers a re-run instead of storing megabytes of
// JSON per chat.
func stripLargeWidgetData(msg chat.Message, threshold int) chat.Message {
	w := msg.Widget
	if w == nil || w.Data == nil || w.Type == "form" {
		return msg
	}
	encoded, err := json.Marshal(w.Data)
	if err != nil || len(encoded) <= threshold {
		return msg
	}
	msg.Widget = &chat.Widget{
		Type:   w.Type,
		Tool:   w.Tool,
		Params: w.Params,
		Stale:  true,
	}
	return msg
}

func firstMessages(msgs []chat.Message, n int) []chat.Message {
	if len(msgs) < n {
		n = len(msgs)
	}
	return append([]chat.Message(nil), msgs[:n]...)
}

// generateTitle asks the model for a short chat title from the opening
// exchange. Failures are logged and yield "".
func generateTitle(ctx context.Context, client llm.Client, msgs []chat.Message, log *slog.Logger) string {
	var lines []string
	for _, m := range msgs {
		content := m.Content
		if len(content) > 200 {
			content = content[:200]
		}
		lines = append(lines, m.Role+": "+content)
	}
	resp, err := client.Chat(ctx, llm.ChatRequest{Messages: []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: llm.TitlePrompt},
		{Role: openai.ChatMessageRoleUser, Content: strings.Join(lines, "\n")},
	}})
	if err != nil {
		log.Warn("chat title generation failed", "error", err)
		return ""
	}
	title := strings.Trim(strings.TrimSpace(resp.Message.Content), `"'`)
	if len(title) > 60 {
		title = title[:60]
	}
	return title
}

// loadChat resumes a saved chat, rebuilding the LLM history and
// restoring the chat's model when it is still available.
func (sess *session) loadChat(chatID string) {
	saved, err := sess.srv.chats.Load(chatID, sess.userSlug())
	if err != nil {
		sess.log.Warn("chat load failed", "chat_id", chatID, "error", err)
		return
	}

	sess.mu.Lock()
	sess.chat = chatState{
		id:             chatID,
		messages:       saved.Messages,
		titleGenerated: saved.Title != "",
	}
	sess.history = sess.history[:0]
	for _, m := range saved.Messages {
		sess.appendHistory(m.Role, m.Content)
	}
	if saved.Model != "" {
		if _, err := sess.srv.pool.Get(saved.Model); err == nil {
			sess.modelID = saved.Model
		} else {
			sess.modelID = sess.srv.pool.DefaultID()
		}
	}
	sess.chat.model = sess.modelID
	model := sess.modelID
	sess.mu.Unlock()

	sess.send(map[string]any{
		"type":     "chat_loaded",
		"chatId":   chatID,
		"messages": saved.Messages,
		"title":    saved.Title,
		"model":    model,
	})
}

// rerunTool re-executes a stale widget's tool and refreshes the stored
// message in place.
func (sess *session) rerunTool(ctx context.Context, name string, params map[string]any, messageIndex *int) {
	tool := sess.srv.registry.Get(name)
	if tool == nil {
		sess.send(map[string]any{
			"type":         "widget_data",
			"messageIndex": messageIndex,
			"data":         map[string]any{"error": "Unknown tool: " + name},
		})
		return
	}
	if params == nil {
		params = map[string]any{}
	}
	result := sess.srv.registry.Execute(ctx, tool, params, tools.ModeRerun)
	sess.send(map[string]any{
		"type":         "widget_data",
		"messageIndex": messageIndex,
		"data":         result,
	})

	if messageIndex == nil {
		return
	}
	sess.mu.Lock()
	if i := *messageIndex; i >= 0 && i < len(sess.chat.messages) {
		if w := sess.chat.messages[i].Widget; w != nil {
			w.Data = result
			w.Stale = false
		}
	}
	sess.mu.Unlock()
}
