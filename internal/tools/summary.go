// Copyright (C) 2025 MolBioHive (opensource@molbiohive.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package tools

import (
	"encoding/json"
	"fmt"
)

// AutoSummarize produces a compact JSON digest of a result payload for
// the LLM context, bounded by a token budget:
//
//   - lists become {key}_count plus {key}_sample of up to max(5, T/50)
//     items, where dict items keep only scalar fields with short strings;
//   - numbers and booleans pass through;
//   - strings under 200 chars pass through, longer ones truncate to 100;
//   - nested dicts keep their shallow scalar fields;
//   - the serialized digest is hard-capped at 4*T characters.
func AutoSummarize(result Result, tokenLimit int) string {
	maxChars := tokenLimit * 4
	maxItems := tokenLimit / 50
	if maxItems < 5 {
		maxItems = 5
	}

	stats := make(map[string]any)
	for key, value := range result {
		switch v := value.(type) {
		case []any:
			stats[key+"_count"] = len(v)
			if sample := sampleList(v, maxItems); sample != nil {
				stats[key+"_sample"] = sample
			}
		case map[string]any:
			if shallow := shallowScalars(v); len(shallow) > 0 {
				stats[key] = shallow
			}
		case string:
			stats[key] = clampString(v)
		case nil:
			// dropped
		default:
			if isScalar(v) {
				stats[key] = v
			} else if list := toAnyList(v); list != nil {
				stats[key+"_count"] = len(list)
				if sample := sampleList(list, maxItems); sample != nil {
					stats[key+"_sample"] = sample
				}
			}
		}
	}

	text, err := json.Marshal(stats)
	if err != nil {
		return fmt.Sprintf("%v", stats)
	}
	if len(text) > maxChars {
		return string(text[:maxChars]) + "..."
	}
	return string(text)
}

func sampleList(list []any, maxItems int) []any {
	if len(list) == 0 {
		return nil
	}
	n := len(list)
	if n > maxItems {
		n = maxItems
	}
	if _, isDict := list[0].(map[string]any); !isDict {
		return list[:n]
	}
	sample := make([]any, 0, n)
	for _, item := range list[:n] {
		if m, ok := item.(map[string]any); ok {
			sample = append(sample, shallowScalars(m))
		}
	}
	return sample
}

// shallowScalars keeps scalar fields, dropping long strings.
func shallowScalars(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if s, ok := v.(string); ok {
			if len(s) < 200 {
				out[k] = s
			}
			continue
		}
		if v == nil || isScalar(v) {
			out[k] = v
		}
	}
	return out
}

func clampString(s string) string {
	if len(s) < 200 {
		return s
	}
	return s[:100] + "..."
}

func isScalar(v any) bool {
	switch v.(type) {
	case bool, int, int32, int64, float32, float64, json.Number:
		return true
	}
	return false
}

// toAnyList converts typed slices coming straight from tool code (not
// through a JSON round trip) into []any.
func toAnyList(v any) []any {
	switch list := v.(type) {
	case []string:
		out := make([]any, len(list))
		for i, item := range list {
			out[i] = item
		}
		return out
	case []int:
		out := make([]any, len(list))
		for i, item := range list {
			out[i] = item
		}
		return out
	case []float64:
		out := make([]any, len(list))
		for i, item := range list {
			out[i] = item
		}
		return out
	case []map[string]any:
		out := make([]any, len(list))
		for i, item := range list {
			out[i] = item
		}
		return out
	}
	return nil
}
