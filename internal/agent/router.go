// Copyright (C) 2025 MolBioHive (opensource@molbiohive.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package agent routes user input to tools, either directly by command
// syntax or through the agentic LLM loop.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/molbiohive/hive-browser/internal/config"
	"github.com/molbiohive/hive-browser/internal/llm"
	"github.com/molbiohive/hive-browser/internal/tools"
)

// Response kinds.
const (
	TypeMessage    = "message"
	TypeToolResult = "tool_result"
	TypeForm       = "form"
)

// Tokens accumulates LLM usage over one routed message.
type Tokens struct {
	In  int `json:"in"`
	Out int `json:"out"`
}

// ChainStep records one executed tool for the frontend chain display.
type ChainStep struct {
	Tool    string         `json:"tool"`
	Params  map[string]any `json:"params"`
	Summary string         `json:"summary"`
	Widget  string         `json:"widget"`
}

// Response is the router's answer to one user message.
type Response struct {
	Type    string         `json:"type"`
	Tool    string         `json:"tool,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
	Params  map[string]any `json:"params,omitempty"`
	Content string         `json:"content"`
	Tokens  *Tokens        `json:"tokens,omitempty"`
	Chain   []ChainStep    `json:"chain,omitempty"`
}

// Progress is a fire-and-forget event emitted while the loop works.
type Progress struct {
	Phase     string `json:"phase"` // thinking | tool
	Tool      string `json:"tool,omitempty"`
	ToolsUsed int    `json:"tools_used"`
	Tokens    Tokens `json:"tokens"`
}

// ProgressFunc receives progress events. Dropping events never affects
// the routed result.
type ProgressFunc func(Progress)

var (
	directPattern = regexp.MustCompile(`(?s)^//(\w+)\s*(.*)`)
	guidedPattern = regexp.MustCompile(`(?s)^/(\w+)\s*(.*)`)
)

// Router dispatches user input. //name is direct execution, /name is
// LLM-guided, everything else enters the agentic loop.
type Router struct {
	registry          *tools.Registry
	maxTurns          int
	pipeMinLength     int
	summaryTokenLimit int
	log               *slog.Logger
}

// NewRouter builds a router over the registry with the loop knobs from
// config.
func NewRouter(registry *tools.Registry, cfg config.LLMConfig, log *slog.Logger) *Router {
	return &Router{
		registry:          registry,
		maxTurns:          cfg.AgentMaxTurns,
		pipeMinLength:     cfg.PipeMinLength,
		summaryTokenLimit: cfg.SummaryTokenLimit,
		log:               log,
	}
}

// Route processes one user message. client may be nil (no LLM
// configured); history carries prior conversation turns for the loop.
// Errors are returned as message responses, never as Go errors.
func (r *Router) Route(ctx context.Context, input string, client llm.Client,
	history []openai.ChatCompletionMessage, onProgress ProgressFunc) *Response {

	if strings.TrimLeft(strings.TrimSpace(input), "/") == "help" {
		return r.helpResponse()
	}

	if m := directPattern.FindStringSubmatch(input); m != nil {
		return r.runDirect(ctx, m[1], strings.TrimSpace(m[2]), tools.ModeDirect)
	}

	if m := guidedPattern.FindStringSubmatch(input); m != nil {
		name, text := m[1], strings.TrimSpace(m[2])
		tool := r.registry.Get(name)
		if tool == nil {
			return errorResponse(fmt.Sprintf("Unknown tool: %s", name))
		}
		if client == nil || !hasLLMTag(tool) {
			return r.runDirect(ctx, name, text, tools.ModeGuided)
		}
		prompt := "Use the " + name + " tool"
		if text != "" {
			prompt += ": " + text
		}
		return r.runLoop(ctx, prompt, client, history, onProgress)
	}

	if client == nil {
		return errorResponse("LLM not available. Use /command or //command syntax.")
	}
	return r.runLoop(ctx, input, client, history, onProgress)
}

// runDirect executes one tool without LLM involvement. Empty args on a
// tool with required parameters yield a form response.
func (r *Router) runDirect(ctx context.Context, name, args, mode string) *Response {
	tool := r.registry.Get(name)
	if tool == nil {
		return errorResponse(fmt.Sprintf("Unknown tool: %s", name))
	}
	if args == "" && len(tools.RequiredParams(tool)) > 0 {
		return formResponse(tool)
	}
	params := parseArgs(args)
	result := r.registry.Execute(ctx, tool, params, mode)
	return toolResponse(name, result, params, tool.FormatResult(result))
}

// parseArgs tries JSON first, then falls back to a query parameter.
func parseArgs(text string) map[string]any {
	if text == "" {
		return map[string]any{}
	}
	var params map[string]any
	if err := json.Unmarshal([]byte(text), &params); err == nil {
		return params
	}
	return map[string]any{"query": text}
}

func toolResponse(name string, result tools.Result, params map[string]any, content string) *Response {
	return &Response{
		Type:    TypeToolResult,
		Tool:    name,
		Data:    result,
		Params:  params,
		Content: content,
	}
}

func formResponse(tool tools.Tool) *Response {
	return &Response{
		Type: TypeForm,
		Tool: tool.Name(),
		Data: map[string]any{
			"schema":      tool.InputSchema(),
			"tool_name":   tool.Name(),
			"description": tool.Description(),
		},
		Content: fmt.Sprintf("Fill in the required parameters for **%s**:", tool.Name()),
	}
}

func (r *Router) helpResponse() *Response {
	lines := []string{"**Available commands:**", ""}
	for _, tool := range r.registry.VisibleTools() {
		tag := ""
		if !hasLLMTag(tool) {
			tag = " *(direct only)*"
		}
		lines = append(lines, fmt.Sprintf("- **/%s**%s: %s", tool.Name(), tag, tool.Description()))
	}
	lines = append(lines, "",
		"Prefix with `//` for direct execution (no LLM), e.g. `//search ampicillin`.")
	return &Response{Type: TypeMessage, Content: strings.Join(lines, "\n")}
}

func errorResponse(msg string) *Response {
	return &Response{Type: TypeMessage, Content: msg}
}

func hasLLMTag(tool tools.Tool) bool {
	for _, tag := range tool.Tags() {
		if tag == tools.TagLLM {
			return true
		}
	}
	return false
}
