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
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/molbiohive/hive-browser/internal/agent"
	"github.com/molbiohive/hive-browser/internal/chat"
	"github.com/molbiohive/hive-browser/internal/config"
	"github.com/molbiohive/hive-browser/internal/llm"
	"github.com/molbiohive/hive-browser/internal/store"
	"github.com/molbiohive/hive-browser/internal/tools"
)

func newTestServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	log := testLogger()

	st, err := store.Open("file:" + filepath.Join(t.TempDir(), "server.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	cfg := config.Default()
	cfg.LLM.Models = nil

	chats, err := chat.NewStorage(t.TempDir(), log)
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}

	reg := tools.NewRegistry(log)
	reg.Register(tools.NewGCTool())
	pool := llm.NewPool(cfg.LLM, log)
	router := agent.NewRouter(reg, cfg.LLM, log)

	return New(cfg, st, reg, pool, router, chats, log), st
}

func doJSON(t *testing.T, s *Server, method, path, body string, headers map[string]string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reqBody *strings.Reader
	if body == "" {
		reqBody = strings.NewReader("")
	} else {
		reqBody = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	var decoded map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &decoded)
	return w, decoded
}

func seedServerData(t *testing.T, st *store.Store) {
	t.Helper()
	ctx := context.Background()
	f := &store.IndexedFile{
		FilePath:  "/watch/pUC19.gb",
		FileHash:  "h1",
		Format:    "gb",
		FileMtime: time.Now().UTC(),
	}
	if err := st.UpsertFile(ctx, f); err != nil {
		t.Fatal(err)
	}
	if err := st.ReplaceSequenceData(ctx, f.ID, []store.Sequence{{
		Name:     "pUC19",
		SizeBP:   12,
		Topology: "circular",
		Sequence: "ATGCATGCATGC",
		Features: []store.Feature{{Name: "lacZ", Type: "CDS", Start: 0, End: 9, Strand: 1}},
	}}); err != nil {
		t.Fatal(err)
	}
}

func TestHealthEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	w, body := doJSON(t, s, http.MethodGet, "/healthz", "", nil)
	if w.Code != http.StatusOK || body["status"] != "healthy" {
		t.Errorf("healthz = %d %v", w.Code, body)
	}
}

func TestStatusEndpoint(t *testing.T) {
	s, st := newTestServer(t)
	seedServerData(t, st)

	w, body := doJSON(t, s, http.MethodGet, "/api/status", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if body["indexed_files"] != 1.0 || body["sequences"] != 1.0 || body["features"] != 1.0 {
		t.Errorf("counts = %v", body)
	}
	if body["db_connected"] != true {
		t.Errorf("db_connected = %v", body["db_connected"])
	}
	// no models configured
	if body["llm_available"] != false {
		t.Errorf("llm_available = %v", body["llm_available"])
	}
}

func TestUserLifecycle(t *testing.T) {
	s, _ := newTestServer(t)

	w, body := doJSON(t, s, http.MethodPost, "/api/users", `{"username":"Jane Doe"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("create = %d %v", w.Code, body)
	}
	if body["slug"] != "janedoe" {
		t.Errorf("slug = %v", body["slug"])
	}
	token, _ := body["token"].(string)
	if token == "" {
		t.Fatal("no token returned")
	}

	// duplicate slug conflicts
	if w, _ := doJSON(t, s, http.MethodPost, "/api/users", `{"username":"janedoe"}`, nil); w.Code != http.StatusConflict {
		t.Errorf("duplicate = %d", w.Code)
	}

	// invalid characters rejected
	if w, _ := doJSON(t, s, http.MethodPost, "/api/users", `{"username":"bad!name"}`, nil); w.Code != http.StatusUnprocessableEntity {
		t.Errorf("invalid = %d", w.Code)
	}

	// passwordless login by slug
	w, body = doJSON(t, s, http.MethodPost, "/api/users/login", `{"slug":"janedoe"}`, nil)
	if w.Code != http.StatusOK || body["token"] != token {
		t.Errorf("login = %d %v", w.Code, body)
	}

	// bearer auth on /users/me
	w, body = doJSON(t, s, http.MethodGet, "/api/users/me", "", map[string]string{
		"Authorization": "Bearer " + token,
	})
	if w.Code != http.StatusOK || body["username"] != "Jane Doe" {
		t.Errorf("me = %d %v", w.Code, body)
	}

	if w, _ := doJSON(t, s, http.MethodGet, "/api/users/me", "", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("anonymous me = %d", w.Code)
	}
}

func TestChatEndpoints(t *testing.T) {
	s, _ := newTestServer(t)

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/chats", nil))
	if w.Code != http.StatusOK || strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("empty list = %d %q", w.Code, w.Body.String())
	}

	if err := s.chats.Save(chat.Chat{
		ID:       "deadbeef",
		Title:    "test chat",
		Messages: []chat.Message{{Role: "user", Content: "hi"}},
	}, ""); err != nil {
		t.Fatal(err)
	}

	w, body := doJSON(t, s, http.MethodGet, "/api/chats/deadbeef", "", nil)
	if w.Code != http.StatusOK || body["title"] != "test chat" {
		t.Errorf("get = %d %v", w.Code, body)
	}

	w, body = doJSON(t, s, http.MethodDelete, "/api/chats/deadbeef", "", nil)
	if w.Code != http.StatusOK || body["deleted"] != true {
		t.Errorf("delete = %d %v", w.Code, body)
	}

	if w, _ := doJSON(t, s, http.MethodGet, "/api/chats/deadbeef", "", nil); w.Code != http.StatusNotFound {
		t.Errorf("get after delete = %d", w.Code)
	}
}

func TestFeedbackRequiresAuth(t *testing.T) {
	s, _ := newTestServer(t)

	if w, _ := doJSON(t, s, http.MethodPost, "/api/feedback", `{"rating":"good"}`, nil); w.Code != http.StatusUnauthorized {
		t.Errorf("anonymous feedback = %d", w.Code)
	}

	_, created := doJSON(t, s, http.MethodPost, "/api/users", `{"username":"jdoe"}`, nil)
	token := created["token"].(string)

	w, body := doJSON(t, s, http.MethodPost, "/api/feedback",
		`{"rating":"good","comment":"search works well"}`,
		map[string]string{"Authorization": "Bearer " + token})
	if w.Code != http.StatusOK || body["id"] == nil {
		t.Errorf("feedback = %d %v", w.Code, body)
	}

	w, _ = doJSON(t, s, http.MethodPost, "/api/feedback",
		`{"rating":"meh"}`, map[string]string{"Authorization": "Bearer " + token})
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("bad rating = %d", w.Code)
	}
}

func TestModelsEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	w, body := doJSON(t, s, http.MethodGet, "/api/models", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("models = %d", w.Code)
	}
	if models, ok := body["models"].([]any); !ok || len(models) != 0 {
		t.Errorf("models = %v", body["models"])
	}
	if body["default"] != "" {
		t.Errorf("default = %v", body["default"])
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("metrics = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "hive_ws_connections") {
		t.Error("metrics output missing hive_ws_connections")
	}
}
