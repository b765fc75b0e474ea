// Copyright (C) 2025 MolBioHive (opensource@molbiohive.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	openai "github.com/sashabaranov/go-openai"

	"github.com/molbiohive/hive-browser/internal/tools"
)

const systemPrompt = `You are Hive Browser, a lab sequence search assistant for DNA/RNA/protein sequences in a local database.

Do NOT call tools for greetings, general knowledge, capability questions, or follow-ups about previous results. Only call tools for sequence data operations.

## Workflow
- ONE tool per turn. Data pipes automatically between tools.
- If user names a sequence/SID and feature, go directly to extract. Do NOT search or list features first.
- extract before analysis tools (blast, translate, digest, gc, revcomp, transcribe).
- search for keyword lookup. Pass project/folder context in tags parameter.

## Rules
- NEVER fabricate sequences, IDs, or data. Use blast for sequence lookup, not search.
- ALWAYS use sid (integer) for follow-up tools. Never use name when sid is available.
- After tool results, write 1-2 sentences of interpretation. NEVER list or restate individual items -- the user sees a rich widget.
- Respond concisely.`

// SystemPrompt is the agent loop's system message. Tool details travel
// in the tools parameter, not here.
func SystemPrompt() string {
	return systemPrompt
}

// TitlePrompt asks for a short chat title from the opening exchange.
const TitlePrompt = "Write a 3-6 word title for this conversation. Reply with the title only, no quotes or punctuation."

// NoopTool satisfies providers that require a tools array to be present
// whenever tool messages exist in the conversation. Always paired with
// tool_choice="none".
var NoopTool = []openai.Tool{{
	Type: openai.ToolTypeFunction,
	Function: &openai.FunctionDefinition{
		Name:        "_noop",
		Description: "n/a",
		Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
	},
}}

// BuildToolSchemas renders tools as OpenAI function schemas, using
// guidelines over descriptions and slimming each parameter schema.
func BuildToolSchemas(list []tools.Tool) []openai.Tool {
	out := make([]openai.Tool, 0, len(list))
	for _, t := range list {
		desc := t.Guidelines()
		if desc == "" {
			desc = t.Description()
		}
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name(),
				Description: desc,
				Parameters:  SlimSchema(t.InputSchema()),
			},
		})
	}
	return out
}

// SlimSchema strips token bloat from a JSON schema: title keys go,
// anyOf pairs with null flatten to the non-null branch, and null
// defaults are dropped.
func SlimSchema(schema map[string]any) map[string]any {
	out := make(map[string]any, len(schema))
	for k, v := range schema {
		if k == "title" {
			continue
		}
		out[k] = v
	}
	props, ok := out["properties"].(map[string]any)
	if !ok {
		return out
	}
	slim := make(map[string]any, len(props))
	for name, raw := range props {
		prop, ok := raw.(map[string]any)
		if !ok {
			slim[name] = raw
			continue
		}
		slim[name] = slimProperty(prop)
	}
	out["properties"] = slim
	return out
}

func slimProperty(prop map[string]any) map[string]any {
	out := make(map[string]any, len(prop))
	for k, v := range prop {
		if k == "title" {
			continue
		}
		out[k] = v
	}
	if branches, ok := out["anyOf"].([]any); ok {
		var nonNull []map[string]any
		for _, b := range branches {
			m, ok := b.(map[string]any)
			if !ok {
				continue
			}
			if m["type"] != "null" {
				nonNull = append(nonNull, m)
			}
		}
		if len(nonNull) == 1 {
			delete(out, "anyOf")
			for k, v := range nonNull[0] {
				out[k] = v
			}
		}
	}
	if d, present := out["default"]; present && d == nil {
		delete(out, "default")
	}
	return out
}
