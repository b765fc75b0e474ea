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
	"go/parser"
	"go/token"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"github.com/molbiohive/hive-browser/internal/blast"
	"github.com/molbiohive/hive-browser/internal/config"
	"github.com/molbiohive/hive-browser/internal/sdk"
	"github.com/molbiohive/hive-browser/internal/store"
)

// sdkImportPath is the only project import external scripts may use.
const sdkImportPath = "hivesdk"

// forbiddenImportPrefixes are module paths external scripts may never
// reach into.
var forbiddenImportPrefixes = []string{
	"github.com/molbiohive/hive-browser",
}

// FactoryDeps carries everything the built-in tools need.
type FactoryDeps struct {
	Store    *store.Store
	Runner   *blast.Runner
	Builder  *blast.Builder
	Blast    config.BlastConfig
	ToolsDir string
	Log      *slog.Logger
}

// BuildRegistry constructs the full tool registry: built-ins first, then
// approved external scripts, which may shadow built-ins by name. A tool
// that fails to construct or load is logged and skipped; one bad tool
// never takes down startup.
func BuildRegistry(ctx context.Context, deps FactoryDeps) *Registry {
	reg := NewRegistry(deps.Log)

	builtins := []func() Tool{
		func() Tool { return NewSearchTool(deps.Store) },
		func() Tool { return NewProfileTool(deps.Store) },
		func() Tool { return NewFeaturesTool(deps.Store) },
		func() Tool { return NewPrimersTool(deps.Store) },
		func() Tool { return NewExtractTool(deps.Store) },
		func() Tool { return NewBlastTool(deps.Store, deps.Runner, deps.Builder, deps.Blast) },
		func() Tool { return NewGCTool() },
		func() Tool { return NewRevcompTool() },
		func() Tool { return NewTranscribeTool() },
		func() Tool { return NewTranslateTool() },
		func() Tool { return NewDigestTool() },
	}
	for _, construct := range builtins {
		registerSafely(reg, construct, deps.Log)
	}

	loadExternalTools(ctx, reg, deps)
	return reg
}

func registerSafely(reg *Registry, construct func() Tool, log *slog.Logger) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error("tool construction panicked, skipping", "panic", rec)
		}
	}()
	reg.Register(construct())
}

// loadExternalTools runs the quarantine sync and interprets every
// approved script.
func loadExternalTools(ctx context.Context, reg *Registry, deps FactoryDeps) {
	approved, err := SyncQuarantine(ctx, deps.Store, deps.ToolsDir, deps.Log)
	if err != nil {
		deps.Log.Error("quarantine sync failed, skipping external tools", "error", err)
		return
	}
	if len(approved) == 0 {
		return
	}

	db := sdk.NewDB(deps.Store)
	for _, filename := range approved {
		tool, err := loadExternalTool(filepath.Join(deps.ToolsDir, filename), db)
		if err != nil {
			deps.Log.Error("external tool rejected", "file", filename, "error", err)
			continue
		}
		reg.Register(tool)
		deps.Log.Info("external tool loaded", "file", filename, "tool", tool.Name())
	}
}

// loadExternalTool interprets one approved script. The script is a
// package main declaring
//
//	func Tool() hivesdk.ToolSpec
//
// and may import only hivesdk plus the standard library.
func loadExternalTool(path string, db *sdk.DB) (Tool, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading script: %w", err)
	}
	if err := checkImports(filepath.Base(path), src); err != nil {
		return nil, err
	}

	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("loading stdlib symbols: %w", err)
	}
	if err := i.Use(sdkSymbols()); err != nil {
		return nil, fmt.Errorf("loading sdk symbols: %w", err)
	}
	if _, err := i.Eval(string(src)); err != nil {
		return nil, fmt.Errorf("interpreting script: %w", err)
	}

	v, err := i.Eval("main.Tool")
	if err != nil {
		return nil, fmt.Errorf("script does not declare Tool(): %w", err)
	}
	factory, ok := v.Interface().(func() sdk.ToolSpec)
	if !ok {
		return nil, fmt.Errorf("Tool has wrong signature, want func() hivesdk.ToolSpec")
	}

	spec := factory()
	if spec.Name == "" || spec.Run == nil {
		return nil, fmt.Errorf("Tool() returned an incomplete spec")
	}
	return newExternalTool(spec, db), nil
}

// checkImports walks the script's import declarations and rejects any
// path under a forbidden internal prefix. Standard library and hivesdk
// imports pass; anything the interpreter cannot resolve fails later at
// load time.
func checkImports(filename string, src []byte) error {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, filename, src, parser.ImportsOnly)
	if err != nil {
		return fmt.Errorf("parsing script: %w", err)
	}
	for _, imp := range file.Imports {
		path := strings.Trim(imp.Path.Value, `"`)
		if path == sdkImportPath {
			continue
		}
		for _, prefix := range forbiddenImportPrefixes {
			if path == prefix || strings.HasPrefix(path, prefix+"/") {
				return fmt.Errorf("forbidden import %q", path)
			}
		}
	}
	return nil
}

// sdkSymbols exposes the sdk package to interpreted scripts under the
// hivesdk import path.
func sdkSymbols() map[string]map[string]reflect.Value {
	return map[string]map[string]reflect.Value{
		sdkImportPath + "/" + sdkImportPath: {
			"DB":            reflect.ValueOf((*sdk.DB)(nil)),
			"ToolSpec":      reflect.ValueOf((*sdk.ToolSpec)(nil)),
			"SequenceQuery": reflect.ValueOf((*sdk.SequenceQuery)(nil)),
		},
	}
}

// externalTool adapts a script's ToolSpec to the Tool contract.
type externalTool struct {
	base
	spec sdk.ToolSpec
	db   *sdk.DB
}

func newExternalTool(spec sdk.ToolSpec, db *sdk.DB) *externalTool {
	widget := spec.Widget
	if widget == "" {
		widget = "text"
	}
	schema := spec.Schema
	if schema == nil {
		schema = objectSchema(map[string]any{})
	}
	return &externalTool{
		base: base{
			name:        spec.Name,
			description: spec.Description,
			widget:      widget,
			tags:        []string{TagLLM, "external"},
			guidelines:  spec.Guidelines,
			schema:      schema,
		},
		spec: spec,
		db:   db,
	}
}

func (t *externalTool) Execute(ctx context.Context, params map[string]any, _ string) (Result, error) {
	return t.spec.Run(ctx, t.db, params)
}

func (t *externalTool) FormatResult(r Result) string {
	if msg := formatError(r); msg != "" {
		return msg
	}
	return fmt.Sprintf("Tool '%s' completed.", t.name)
}
