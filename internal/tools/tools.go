// Copyright (C) 2025 MolBioHive (opensource@molbiohive.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package tools is the pluggable tool runtime: the tool contract, the
// registry, built-in tools, and the sandboxed external tool loader.
package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
)

// System tags. Everything else on a tool is a group identifier.
const (
	TagLLM    = "llm"
	TagHidden = "hidden"
)

// Execution modes passed to tools by the router.
const (
	ModeDirect  = "direct"
	ModeGuided  = "guided"
	ModeNatural = "natural"
	ModeRerun   = "rerun"
)

// Result is a tool's free-form output payload.
type Result = map[string]any

// Tool is the contract every tool implements.
//
// Execute returns the result payload or an error; callers go through
// Registry.Execute, which contains failures instead of propagating them.
type Tool interface {
	Name() string
	Description() string
	// Widget names the frontend rendering for results.
	Widget() string
	Tags() []string
	// Guidelines is the LLM-facing description; empty falls back to
	// Description.
	Guidelines() string
	// InputSchema returns the JSON schema of the parameters object.
	InputSchema() map[string]any
	Execute(ctx context.Context, params map[string]any, mode string) (Result, error)
	// FormatResult renders a short human summary for direct mode.
	FormatResult(result Result) string
}

// llmSummarizer lets a tool replace the generic auto-summary.
type llmSummarizer interface {
	SummaryForLLM(result Result) string
}

// Metadata is what the frontend receives on connect.
type Metadata struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Widget      string   `json:"widget"`
	Tags        []string `json:"tags"`
}

// Registry stores tools by name.
//
// # Thread Safety
//
// The registry is populated once at startup and read-only afterwards,
// so concurrent readers need no locking.
type Registry struct {
	tools map[string]Tool
	order []string
	log   *slog.Logger
}

// NewRegistry returns an empty registry.
func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{tools: make(map[string]Tool), log: log}
}

// Register adds a tool. A duplicate name overrides the earlier tool
// with a warning; external tools use this to shadow built-ins.
func (r *Registry) Register(tool Tool) {
	name := tool.Name()
	if _, exists := r.tools[name]; exists {
		r.log.Warn("tool override", "name", name)
	} else {
		r.order = append(r.order, name)
	}
	r.tools[name] = tool
}

// Get returns the tool by name, or nil.
func (r *Registry) Get(name string) Tool {
	return r.tools[name]
}

// All returns every registered tool in registration order.
func (r *Registry) All() []Tool {
	out := make([]Tool, 0, len(r.tools))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// LLMTools returns tools exposed to the model (tagged llm).
func (r *Registry) LLMTools() []Tool {
	var out []Tool
	for _, t := range r.All() {
		if hasTag(t, TagLLM) {
			out = append(out, t)
		}
	}
	return out
}

// VisibleTools returns tools shown in the command palette (not hidden).
func (r *Registry) VisibleTools() []Tool {
	var out []Tool
	for _, t := range r.All() {
		if !hasTag(t, TagHidden) {
			out = append(out, t)
		}
	}
	return out
}

// Metadata lists every tool's frontend metadata.
func (r *Registry) Metadata() []Metadata {
	out := make([]Metadata, 0, len(r.tools))
	for _, t := range r.All() {
		tags := append([]string(nil), t.Tags()...)
		sort.Strings(tags)
		out = append(out, Metadata{
			Name:        t.Name(),
			Description: t.Description(),
			Widget:      t.Widget(),
			Tags:        tags,
		})
	}
	return out
}

// Execute runs a tool with uniform failure containment: any error or
// panic is logged and becomes an error payload, never an exception the
// caller has to handle.
func (r *Registry) Execute(ctx context.Context, tool Tool, params map[string]any, mode string) (result Result) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("tool panicked", "tool", tool.Name(), "panic", rec)
			result = failurePayload(tool)
		}
	}()

	res, err := tool.Execute(ctx, params, mode)
	if err != nil {
		r.log.Error("tool failed", "tool", tool.Name(), "error", err)
		return failurePayload(tool)
	}
	return res
}

// SummaryForLLM digests a result for the model's context, honoring a
// tool-specific summarizer when the tool provides one.
func SummaryForLLM(tool Tool, result Result, tokenLimit int) string {
	if s, ok := tool.(llmSummarizer); ok {
		return s.SummaryForLLM(result)
	}
	return AutoSummarize(result, tokenLimit)
}

// Group returns the tool's primary non-system tag, or "".
func Group(tool Tool) string {
	for _, tag := range tool.Tags() {
		if tag != TagLLM && tag != TagHidden {
			return tag
		}
	}
	return ""
}

func failurePayload(tool Tool) Result {
	return Result{"error": fmt.Sprintf("Tool '%s' failed. Check server logs.", tool.Name())}
}

func hasTag(tool Tool, tag string) bool {
	for _, t := range tool.Tags() {
		if t == tag {
			return true
		}
	}
	return false
}

// base carries the declarative fields shared by the built-in tools.
type base struct {
	name        string
	description string
	widget      string
	tags        []string
	guidelines  string
	schema      map[string]any
}

func (b base) Name() string                 { return b.name }
func (b base) Description() string          { return b.description }
func (b base) Widget() string               { return b.widget }
func (b base) Tags() []string               { return b.tags }
func (b base) Guidelines() string           { return b.guidelines }
func (b base) InputSchema() map[string]any  { return b.schema }
func (b base) FormatResult(r Result) string { return formatError(r) }

func formatError(r Result) string {
	if err, ok := r["error"].(string); ok && err != "" {
		return "Error: " + err
	}
	return ""
}

// objectSchema builds the JSON schema for a parameters object.
func objectSchema(properties map[string]any, required ...string) map[string]any {
	schema := map[string]any{"type": "object", "properties": properties}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// RequiredParams lists the schema's required parameter names.
func RequiredParams(tool Tool) []string {
	schema := tool.InputSchema()
	raw, ok := schema["required"]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		var out []string
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
