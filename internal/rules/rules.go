// Copyright (C) 2025 MolBioHive (opensource@molbiohive.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package rules maps watched filenames to ingestion actions.
package rules

import (
	"path"
	"path/filepath"
	"strings"

	"github.com/molbiohive/hive-browser/internal/config"
)

// Actions a rule can take on a matching file.
const (
	ActionParse  = "parse"
	ActionIgnore = "ignore"
	ActionLog    = "log"
)

// MatchResult is the decision for one file.
type MatchResult struct {
	Action  string
	Parser  string
	Extract []string
	Message string
	Rule    string // the glob that matched, empty for the fallback
}

// Engine evaluates watcher rules in order; the first match wins.
type Engine struct {
	rules []config.WatcherRule
}

// New builds an engine over the configured rule list.
func New(rules []config.WatcherRule) *Engine {
	return &Engine{rules: rules}
}

// Match returns the decision for a file path. Globs match against the
// basename, case-insensitively. Files matching no rule fall back to a
// log-only result so unexpected formats surface in the logs without
// being ingested.
func (e *Engine) Match(filePath string) MatchResult {
	base := strings.ToLower(filepath.Base(filePath))
	for _, rule := range e.rules {
		ok, err := path.Match(strings.ToLower(rule.Match), base)
		if err != nil || !ok {
			continue
		}
		return MatchResult{
			Action:  rule.Action,
			Parser:  rule.Parser,
			Extract: rule.Extract,
			Message: rule.Message,
			Rule:    rule.Match,
		}
	}
	return MatchResult{Action: ActionLog, Message: "no rule matched"}
}
