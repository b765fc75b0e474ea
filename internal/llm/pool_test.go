// Copyright (C) 2025 MolBioHive (opensource@molbiohive.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"io"
	"log/slog"
	"reflect"
	"testing"

	"github.com/molbiohive/hive-browser/internal/config"
)

func testPool() *Pool {
	return NewPool(config.LLMConfig{
		Models: []config.ModelEntry{
			{Provider: "ollama", Model: "qwen2.5:7b", BaseURL: "http://localhost:11434/v1"},
			{Provider: "openai", Model: "gpt-4o-mini", APIKey: "sk-test"},
		},
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestPoolIDs(t *testing.T) {
	p := testPool()
	want := []string{"ollama/qwen2.5:7b", "openai/gpt-4o-mini"}
	if got := p.IDs(); !reflect.DeepEqual(got, want) {
		t.Errorf("IDs = %v", got)
	}
	if p.DefaultID() != "ollama/qwen2.5:7b" {
		t.Errorf("DefaultID = %q", p.DefaultID())
	}
}

func TestPoolGetIsIdempotent(t *testing.T) {
	p := testPool()
	a, err := p.Get("openai/gpt-4o-mini")
	if err != nil {
		t.Fatal(err)
	}
	b, err := p.Get("openai/gpt-4o-mini")
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Error("Get constructed a second client for the same id")
	}
	if a.ModelID() != "openai/gpt-4o-mini" {
		t.Errorf("ModelID = %q", a.ModelID())
	}
}

func TestPoolUnknownModel(t *testing.T) {
	p := testPool()
	if _, err := p.Get("openai/gpt-nope"); err == nil {
		t.Error("expected error for unknown model")
	}
}

func TestEmptyPool(t *testing.T) {
	p := NewPool(config.LLMConfig{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if p.DefaultID() != "" {
		t.Errorf("DefaultID = %q, want empty", p.DefaultID())
	}
	if len(p.IDs()) != 0 {
		t.Errorf("IDs = %v", p.IDs())
	}
}
