// Copyright (C) 2025 MolBioHive (opensource@molbiohive.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package tools

import (
	"context"
	"fmt"
	"math"

	"github.com/molbiohive/hive-browser/internal/config"
	"github.com/molbiohive/hive-browser/internal/store"
)

// SearchTool is the fuzzy boolean search over the index.
type SearchTool struct {
	base
	store *store.Store
}

// NewSearchTool constructs the search tool.
func NewSearchTool(st *store.Store) *SearchTool {
	return &SearchTool{
		base: base{
			name:        "search",
			description: "Search sequences by name, features, tags (directory context), and metadata.",
			widget:      "table",
			tags:        []string{TagLLM, "search"},
			guidelines: "Fuzzy keyword search across name, features, description, and directory tags. " +
				"IMPORTANT: When user says 'X and Y' or 'X with Y' or 'X that have Y', " +
				"ALWAYS use && in query: 'X && Y'. Without && terms are single-term fuzzy. " +
				"If the user mentions a project, folder, or directory context, " +
				"put it in the tags parameter.",
			schema: objectSchema(map[string]any{
				"query": map[string]any{"type": "string",
					"description": "Keyword (name, feature, or description). Use && for AND, || for OR."},
				"tags": map[string]any{"type": "string",
					"description": "Directory or project context (e.g. folder name, project name)"},
				"filters": map[string]any{"type": "object",
					"description": "Optional: topology, size_min, size_max, feature_type"},
			}, "query"),
		},
		store: st,
	}
}

func (t *SearchTool) Execute(ctx context.Context, params map[string]any, _ string) (Result, error) {
	query := paramString(params, "query")
	filters := store.SearchFilters{TagQuery: paramString(params, "tags")}
	if f := paramMap(params, "filters"); f != nil {
		filters.Topology = paramString(f, "topology")
		filters.SizeMin = paramInt(f, "size_min", 0)
		filters.SizeMax = paramInt(f, "size_max", 0)
		if types := paramStringSlice(f, "feature_type"); len(types) > 0 {
			filters.FeatureType = types[0]
		}
	}

	hits, err := t.store.SearchSequences(ctx, query, filters, 0)
	if err != nil {
		return nil, err
	}

	results := make([]map[string]any, 0, len(hits))
	for _, h := range hits {
		tags := h.Tags
		if tags == nil {
			tags = []string{}
		}
		features := h.Features
		if features == nil {
			features = []string{}
		}
		results = append(results, map[string]any{
			"sid":       h.SID,
			"name":      h.Name,
			"size_bp":   h.SizeBP,
			"topology":  h.Topology,
			"features":  features,
			"tags":      tags,
			"file_path": config.DisplayFilePath(h.FilePath),
			"score":     math.Round(h.Score*1000) / 1000,
		})
	}
	return Result{"results": results, "total": len(results), "query": query}, nil
}

func (t *SearchTool) FormatResult(r Result) string {
	if msg := formatError(r); msg != "" {
		return msg
	}
	total, _ := r["total"].(int)
	if total == 0 {
		return fmt.Sprintf("No results for '%v'.", r["query"])
	}
	return fmt.Sprintf("Found %d result(s) for '%v'.", total, r["query"])
}
