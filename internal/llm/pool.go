// Copyright (C) 2025 MolBioHive (opensource@molbiohive.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/molbiohive/hive-browser/internal/config"
)

// Pool hands out one lazily constructed client per configured model.
// Sessions share clients; construction is idempotent.
type Pool struct {
	mu      sync.Mutex
	entries []config.ModelEntry
	clients map[string]Client
	log     *slog.Logger
}

// NewPool builds a pool over the configured models. When autoDiscover
// is set, Ollama endpoints are asked for their installed models and the
// results are appended.
func NewPool(cfg config.LLMConfig, log *slog.Logger) *Pool {
	p := &Pool{
		entries: append([]config.ModelEntry(nil), cfg.Models...),
		clients: make(map[string]Client),
		log:     log,
	}
	if cfg.AutoDiscover {
		p.discoverOllama()
	}
	return p
}

// IDs lists the available model identifiers in configured order.
func (p *Pool) IDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.entries))
	for _, e := range p.entries {
		out = append(out, e.ID())
	}
	return out
}

// Entries lists the available model entries in configured order.
func (p *Pool) Entries() []config.ModelEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]config.ModelEntry(nil), p.entries...)
}

// DefaultID is the first configured model, or "".
func (p *Pool) DefaultID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.entries) == 0 {
		return ""
	}
	return p.entries[0].ID()
}

// Get returns the client for a model id, constructing it on first use.
func (p *Pool) Get(id string) (Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.clients[id]; ok {
		return c, nil
	}
	for _, entry := range p.entries {
		if entry.ID() == id {
			c := NewOpenAIClient(entry)
			p.clients[id] = c
			return c, nil
		}
	}
	return nil, fmt.Errorf("unknown model %q", id)
}

// Health probes the default model's endpoint.
func (p *Pool) Health(ctx context.Context) bool {
	id := p.DefaultID()
	if id == "" {
		return false
	}
	c, err := p.Get(id)
	if err != nil {
		return false
	}
	return c.Health(ctx)
}

// discoverOllama appends every installed model of each configured
// Ollama endpoint that is not already listed.
func (p *Pool) discoverOllama() {
	seen := make(map[string]struct{}, len(p.entries))
	bases := make(map[string]struct{})
	for _, e := range p.entries {
		seen[e.ID()] = struct{}{}
		if e.Provider == "ollama" && e.BaseURL != "" {
			bases[e.BaseURL] = struct{}{}
		}
	}

	for base := range bases {
		models, err := listOllamaModels(base)
		if err != nil {
			p.log.Warn("ollama model discovery failed", "base_url", base, "error", err)
			continue
		}
		for _, model := range models {
			entry := config.ModelEntry{Provider: "ollama", Model: model, BaseURL: base}
			if _, dup := seen[entry.ID()]; dup {
				continue
			}
			seen[entry.ID()] = struct{}{}
			p.entries = append(p.entries, entry)
			p.log.Info("discovered ollama model", "model", entry.ID())
		}
	}
}

func listOllamaModels(baseURL string) ([]string, error) {
	base := strings.TrimSuffix(strings.TrimRight(baseURL, "/"), "/v1")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/api/tags", nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var payload struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(payload.Models))
	for _, m := range payload.Models {
		out = append(out, m.Name)
	}
	return out, nil
}
