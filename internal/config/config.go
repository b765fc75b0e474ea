// Copyright (C) 2025 MolBioHive (opensource@molbiohive.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config holds application settings loaded from a YAML file with
// environment variable overrides.
package config

import (
	"os"
	"path/filepath"
	"strings"
)

// ServerConfig is the HTTP listen address.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port" validate:"gte=0,lte=65535"`
}

// DatabaseConfig is the index store connection.
type DatabaseConfig struct {
	// URL is a SQLite DSN, e.g. "file:hive.db?_pragma=foreign_keys(1)".
	URL string `yaml:"url" validate:"required"`
}

// ModelEntry is one configured LLM model.
type ModelEntry struct {
	Provider string `yaml:"provider" validate:"required"` // ollama, openai, anthropic
	Model    string `yaml:"model" validate:"required"`
	BaseURL  string `yaml:"base_url"`
	APIKey   string `yaml:"api_key"`
}

// ID is the stable identifier used by the frontend and the model pool.
func (m ModelEntry) ID() string {
	return m.Provider + "/" + m.Model
}

// LLMConfig tunes the agentic loop and model pool.
type LLMConfig struct {
	Models            []ModelEntry `yaml:"models"`
	AutoDiscover      bool         `yaml:"auto_discover"`
	SummaryTokenLimit int          `yaml:"summary_token_limit" validate:"gt=0"`
	AgentMaxTurns     int          `yaml:"agent_max_turns" validate:"gt=0"`
	PipeMinLength     int          `yaml:"pipe_min_length" validate:"gt=0"`
}

// BlastConfig controls BLAST+ binary resolution and search defaults.
type BlastConfig struct {
	BinDir         string  `yaml:"bin_dir"`
	DefaultEvalue  float64 `yaml:"default_evalue"`
	DefaultMaxHits int     `yaml:"default_max_hits"`
}

// ChatConfig tunes the per-session conductor.
type ChatConfig struct {
	MaxHistoryPairs     int `yaml:"max_history_pairs" validate:"gt=0"`
	AutoSaveAfter       int `yaml:"auto_save_after" validate:"gt=0"`
	WidgetDataThreshold int `yaml:"widget_data_threshold" validate:"gt=0"`
}

// SearchConfig is frontend presentation config echoed on init.
type SearchConfig struct {
	Columns []string `yaml:"columns"`
}

// WatcherRule maps a filename glob to an action.
type WatcherRule struct {
	Match   string   `yaml:"match" validate:"required"`
	Action  string   `yaml:"action" validate:"oneof=parse ignore log"`
	Parser  string   `yaml:"parser"`
	Extract []string `yaml:"extract"`
	Message string   `yaml:"message"`
}

// WatcherConfig is the ingestion source.
type WatcherConfig struct {
	Root          string        `yaml:"root" validate:"required"`
	Recursive     bool          `yaml:"recursive"`
	PollInterval  int           `yaml:"poll_interval"`
	FileURLPrefix string        `yaml:"file_url_prefix"`
	Rules         []WatcherRule `yaml:"rules"`
}

// LogConfig is ambient logging.
type LogConfig struct {
	Level string `yaml:"level"`
	Dir   string `yaml:"dir"`
	JSON  bool   `yaml:"json"`
}

// Settings is the root configuration.
type Settings struct {
	DataRoot string         `yaml:"data_root" validate:"required"`
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	LLM      LLMConfig      `yaml:"llm"`
	Blast    BlastConfig    `yaml:"blast"`
	Chat     ChatConfig     `yaml:"chat"`
	Search   SearchConfig   `yaml:"search"`
	Watcher  WatcherConfig  `yaml:"watcher"`
	Log      LogConfig      `yaml:"log"`
}

// Default returns the built-in configuration, matching what gets written
// on first run.
func Default() *Settings {
	return &Settings{
		DataRoot: "./data",
		Server:   ServerConfig{Host: "0.0.0.0", Port: 8080},
		Database: DatabaseConfig{URL: "file:data/hive.db?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)"},
		LLM: LLMConfig{
			Models: []ModelEntry{{
				Provider: "ollama",
				Model:    "qwen2.5:7b",
				BaseURL:  "http://localhost:11434/v1",
			}},
			SummaryTokenLimit: 1000,
			AgentMaxTurns:     5,
			PipeMinLength:     200,
		},
		Blast: BlastConfig{DefaultEvalue: 10, DefaultMaxHits: 25},
		Chat: ChatConfig{
			MaxHistoryPairs:     20,
			AutoSaveAfter:       2,
			WidgetDataThreshold: 2048,
		},
		Search: SearchConfig{Columns: []string{"name", "size_bp", "topology", "features"}},
		Watcher: WatcherConfig{
			Root:         "~/sequences",
			Recursive:    true,
			PollInterval: 5,
			Rules: []WatcherRule{
				{Match: "*.dna", Action: "parse", Parser: "snapgene"},
				{Match: "*.gb", Action: "parse", Parser: "biopython"},
				{Match: "*.gbk", Action: "parse", Parser: "biopython"},
				{Match: "*.fa", Action: "parse", Parser: "biopython"},
				{Match: "*.fasta", Action: "parse", Parser: "biopython"},
			},
		},
		Log: LogConfig{Level: "info"},
	}
}

// BlastDir is the derived directory holding BLAST index files.
func (s *Settings) BlastDir() string {
	return filepath.Join(expandHome(s.DataRoot), "blast")
}

// ChatsDir is the derived directory holding chat JSON files.
func (s *Settings) ChatsDir() string {
	return filepath.Join(expandHome(s.DataRoot), "chats")
}

// ToolsDir is the derived directory holding external tool scripts.
func (s *Settings) ToolsDir() string {
	return filepath.Join(expandHome(s.DataRoot), "tools")
}

// WatcherRoot is the watch directory with ~ expanded.
func (s *Settings) WatcherRoot() string {
	return expandHome(s.Watcher.Root)
}

// DisplayFilePath translates a container path to the host path for display.
//
// When HIVE_HOST_WATCHER_ROOT is set (Docker deployments), the container
// watcher root prefix is replaced with the original host path. Outside
// Docker this is a no-op.
func DisplayFilePath(path string) string {
	hostRoot := os.Getenv("HIVE_HOST_WATCHER_ROOT")
	if hostRoot == "" || path == "" {
		return path
	}
	containerRoot := os.Getenv("HIVE_WATCHER_ROOT")
	if containerRoot == "" {
		containerRoot = "/watcher"
	}
	containerRoot = strings.TrimRight(containerRoot, "/")
	if strings.HasPrefix(path, containerRoot) {
		return strings.TrimRight(hostRoot, "/") + path[len(containerRoot):]
	}
	return path
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
