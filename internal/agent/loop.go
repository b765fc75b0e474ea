// Copyright (C) 2025 MolBioHive (opensource@molbiohive.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package agent

import (
	"context"
	"encoding/json"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/molbiohive/hive-browser/internal/llm"
	"github.com/molbiohive/hive-browser/internal/tools"
)

// nextTools narrows the schema set offered on the turn after a tool
// runs. An empty set forces a text turn. The table is deliberately
// static: search fans out, extract feeds analysis, analysis terminates.
var nextTools = map[string]map[string]struct{}{
	"search":     toolSet("extract", "profile", "features", "primers", "blast"),
	"profile":    toolSet("extract", "features", "primers", "blast"),
	"features":   toolSet("extract", "blast"),
	"primers":    toolSet("extract", "blast"),
	"extract":    toolSet("blast", "translate", "transcribe", "revcomp", "digest", "gc"),
	"blast":      {},
	"translate":  {},
	"transcribe": {},
	"digest":     {},
	"gc":         {},
	"revcomp":    {},
}

func toolSet(names ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set
}

// cancelledResponse is the single message surfaced when the in-flight
// task is cancelled.
func cancelledResponse() *Response {
	return &Response{Type: TypeMessage, Content: "Cancelled."}
}

// runLoop is the unified agentic loop: the LLM converses and chains
// tools until it produces text or the turn budget runs out. Large
// string outputs are cached locally and injected into matching
// parameters of later tools instead of travelling through the model
// context.
func (r *Router) runLoop(ctx context.Context, input string, client llm.Client,
	history []openai.ChatCompletionMessage, onProgress ProgressFunc) *Response {

	allTools := r.registry.LLMTools()
	allSchemas := llm.BuildToolSchemas(allTools)

	messages := make([]openai.ChatCompletionMessage, 0, len(history)+2)
	messages = append(messages, openai.ChatCompletionMessage{
		Role: openai.ChatMessageRoleSystem, Content: llm.SystemPrompt(),
	})
	messages = append(messages, history...)
	messages = append(messages, openai.ChatCompletionMessage{
		Role: openai.ChatMessageRoleUser, Content: input,
	})

	var (
		chain      []ChainStep
		cache      = map[string]string{} // parameter name -> large string
		tokens     Tokens
		schemas    = allSchemas
		forceText  bool
		exceeded   bool
		lastResult tools.Result
		lastTool   string
		lastParams map[string]any
	)

	emit := func(phase, tool string) {
		if onProgress != nil {
			onProgress(Progress{Phase: phase, Tool: tool, ToolsUsed: len(chain), Tokens: tokens})
		}
	}
	emit("thinking", "")

	for turn := 0; turn < r.maxTurns; turn++ {
		req := llm.ChatRequest{Messages: messages, Tools: schemas}
		if forceText {
			req.Tools = llm.NoopTool
			req.ToolChoice = "none"
		}

		resp, err := client.Chat(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return cancelledResponse()
			}
			r.log.Error("agent loop LLM call failed", "turn", turn, "error", err)
			exceeded = true
			break
		}
		tokens.In += resp.Usage.PromptTokens
		tokens.Out += resp.Usage.CompletionTokens

		if resp.FinishReason == "refusal" {
			content := resp.Message.Content
			if content == "" {
				content = "Request declined by the model."
			}
			return &Response{Type: TypeMessage, Content: content, Tokens: &tokens}
		}

		// text turn ends the loop; under forceText any phantom tool
		// calls are ignored
		if len(resp.Message.ToolCalls) == 0 || forceText {
			content := resp.Message.Content
			if lastResult != nil && lastTool != "" {
				out := toolResponse(lastTool, lastResult, lastParams, content)
				out.Tokens = &tokens
				out.Chain = chain
				return out
			}
			return &Response{Type: TypeMessage, Content: content, Tokens: &tokens}
		}

		messages = append(messages, resp.Message)

		for _, tc := range resp.Message.ToolCalls {
			if ctx.Err() != nil {
				return cancelledResponse()
			}
			name := tc.Function.Name
			tool := r.registry.Get(name)
			if tool == nil || !hasLLMTag(tool) {
				messages = append(messages, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					ToolCallID: tc.ID,
					Content:    fmt.Sprintf("Error: unknown tool '%s'", name),
				})
				continue
			}

			params := parseToolArguments(tc.Function.Arguments)
			r.injectCache(tool, params, cache)

			emit("tool", name)
			result := r.registry.Execute(ctx, tool, params, tools.ModeNatural)
			if ctx.Err() != nil {
				return cancelledResponse()
			}

			// stash large strings for auto-pipe into later tools
			for key, val := range result {
				if s, ok := val.(string); ok && len(s) >= r.pipeMinLength {
					cache[key] = s
				}
			}

			messages = append(messages, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				ToolCallID: tc.ID,
				Content:    tools.SummaryForLLM(tool, result, r.summaryTokenLimit),
			})
			chain = append(chain, ChainStep{
				Tool:    name,
				Params:  params,
				Summary: tool.FormatResult(result),
				Widget:  tool.Widget(),
			})
			lastResult, lastTool, lastParams = result, name, params
			emit("thinking", "")
		}

		if allowed, known := nextTools[lastTool]; known && lastTool != "" {
			if len(allowed) == 0 {
				forceText = true
			} else {
				var narrowed []tools.Tool
				for _, t := range allTools {
					if _, ok := allowed[t.Name()]; ok {
						narrowed = append(narrowed, t)
					}
				}
				if len(narrowed) == 0 {
					forceText = true
				} else {
					schemas = llm.BuildToolSchemas(narrowed)
				}
			}
		}
	}

	if ctx.Err() != nil {
		return cancelledResponse()
	}
	if len(chain) == 0 {
		if exceeded {
			return errorResponse("The language model is unavailable. Try again, or use //command syntax.")
		}
		return errorResponse("No tools were called during reasoning.")
	}

	// budget exhausted: fall back to the last tool's own summary
	fallback := chain[len(chain)-1].Summary
	fallback += " (reached maximum reasoning steps)"

	out := toolResponse(lastTool, lastResult, lastParams, fallback)
	out.Tokens = &tokens
	out.Chain = chain
	return out
}

// parseToolArguments decodes a tool call's JSON arguments, dropping
// null values so auto-pipe and tool defaults can fill them.
func parseToolArguments(raw string) map[string]any {
	var params map[string]any
	if err := json.Unmarshal([]byte(raw), &params); err != nil || params == nil {
		return map[string]any{}
	}
	for k, v := range params {
		if v == nil {
			delete(params, k)
		}
	}
	return params
}

// injectCache replaces missing, empty, or suspiciously short string
// parameters with cached large values from earlier tools in the chain.
// The model sometimes emits placeholder text instead of replaying a
// long sequence; the cache is authoritative.
func (r *Router) injectCache(tool tools.Tool, params map[string]any, cache map[string]string) {
	props, ok := tool.InputSchema()["properties"].(map[string]any)
	if !ok {
		return
	}
	for key := range props {
		cached, ok := cache[key]
		if !ok {
			continue
		}
		provided, present := params[key]
		if !present || provided == nil || provided == "" {
			params[key] = cached
			continue
		}
		if s, isStr := provided.(string); isStr && len(s) < r.pipeMinLength {
			params[key] = cached
		}
	}
}
