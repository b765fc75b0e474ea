// Copyright (C) 2025 MolBioHive (opensource@molbiohive.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is used when neither the --config flag nor HIVE_CONFIG
// is set.
const DefaultConfigPath = "config/config.local.yaml"

var validate = validator.New()

// Load reads settings from the YAML config file, applies environment
// variable overrides, and validates the result.
//
// Resolution order for the path:
//  1. explicit configPath argument
//  2. HIVE_CONFIG environment variable
//  3. config/config.local.yaml
//
// A missing file is not an error; the defaults are used.
func Load(configPath string) (*Settings, error) {
	if configPath == "" {
		configPath = os.Getenv("HIVE_CONFIG")
	}
	if configPath == "" {
		configPath = DefaultConfigPath
	}

	settings := Default()

	data, err := os.ReadFile(configPath)
	switch {
	case os.IsNotExist(err):
		// fall through with defaults
	case err != nil:
		return nil, fmt.Errorf("reading config %s: %w", configPath, err)
	default:
		if err := yaml.Unmarshal(data, settings); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", configPath, err)
		}
	}

	applyEnvOverrides(settings)

	if err := validate.Struct(settings); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return settings, nil
}

// WriteDefault writes the built-in configuration to path, creating parent
// directories. Used on first run.
func WriteDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data, err := yaml.Marshal(Default())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// applyEnvOverrides maps deployment env vars onto the settings. Container
// paths from Docker take precedence over whatever the YAML says.
func applyEnvOverrides(s *Settings) {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		s.Database.URL = v
	}
	if v := os.Getenv("HIVE_DATA_ROOT"); v != "" {
		s.DataRoot = v
	}
	if v := os.Getenv("HIVE_WATCHER_ROOT"); v != "" {
		s.Watcher.Root = v
	}
	if v := os.Getenv("HIVE_SERVER_HOST"); v != "" {
		s.Server.Host = v
	}
	if v := os.Getenv("HIVE_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			s.Server.Port = port
		}
	}
	if v := os.Getenv("HIVE_LOG_LEVEL"); v != "" {
		s.Log.Level = v
	}
	if v := os.Getenv("HIVE_BLAST_BIN_DIR"); v != "" {
		s.Blast.BinDir = v
	}
}
