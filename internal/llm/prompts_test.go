// Copyright (C) 2025 MolBioHive (opensource@molbiohive.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"reflect"
	"testing"

	"github.com/molbiohive/hive-browser/internal/tools"
)

func TestSlimSchemaFlattensNullableUnion(t *testing.T) {
	schema := map[string]any{
		"type":  "object",
		"title": "SearchParams",
		"properties": map[string]any{
			"tags": map[string]any{
				"title":   "Tags",
				"anyOf":   []any{map[string]any{"type": "string"}, map[string]any{"type": "null"}},
				"default": nil,
			},
			"query": map[string]any{"type": "string", "description": "keyword"},
		},
		"required": []string{"query"},
	}

	slim := SlimSchema(schema)
	if _, kept := slim["title"]; kept {
		t.Error("top-level title survived")
	}
	props := slim["properties"].(map[string]any)
	tags := props["tags"].(map[string]any)
	if tags["type"] != "string" {
		t.Errorf("anyOf not flattened: %v", tags)
	}
	if _, kept := tags["anyOf"]; kept {
		t.Error("anyOf survived flattening")
	}
	if _, kept := tags["default"]; kept {
		t.Error("null default survived")
	}
	if _, kept := tags["title"]; kept {
		t.Error("property title survived")
	}
	// untouched properties pass through
	if !reflect.DeepEqual(props["query"], map[string]any{"type": "string", "description": "keyword"}) {
		t.Errorf("query mangled: %v", props["query"])
	}
	// original schema is not mutated
	orig := schema["properties"].(map[string]any)["tags"].(map[string]any)
	if _, still := orig["anyOf"]; !still {
		t.Error("SlimSchema mutated its input")
	}
}

func TestBuildToolSchemasPrefersGuidelines(t *testing.T) {
	gc := tools.NewGCTool()
	schemas := BuildToolSchemas([]tools.Tool{gc})
	if len(schemas) != 1 {
		t.Fatalf("schemas = %d", len(schemas))
	}
	fn := schemas[0].Function
	if fn.Name != "gc" {
		t.Errorf("name = %q", fn.Name)
	}
	if fn.Description != gc.Guidelines() {
		t.Errorf("description = %q, want guidelines", fn.Description)
	}
}

func TestNoopToolShape(t *testing.T) {
	if len(NoopTool) != 1 || NoopTool[0].Function.Name != "_noop" {
		t.Errorf("NoopTool = %+v", NoopTool)
	}
}
