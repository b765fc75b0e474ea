// Copyright (C) 2025 MolBioHive (opensource@molbiohive.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// hive is the Hive Browser server and admin CLI.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/molbiohive/hive-browser/internal/config"
	"github.com/molbiohive/hive-browser/pkg/logging"
)

var (
	configPath string
	settings   *config.Settings
	logger     *slog.Logger
	logCloser  func() error

	rootCmd = &cobra.Command{
		Use:           "hive",
		Short:         "Local lab assistant for a biology sequence library",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			settings, err = config.Load(configPath)
			if err != nil {
				return err
			}
			lg, err := logging.New(logging.Config{
				Level:   settings.Log.Level,
				Dir:     settings.Log.Dir,
				Service: "hive",
				JSON:    settings.Log.JSON,
			})
			if err != nil {
				return err
			}
			logger = lg.Logger
			logCloser = lg.Close
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logCloser != nil {
				logCloser()
			}
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"config file (default: $HIVE_CONFIG or "+config.DefaultConfigPath+")")
	rootCmd.AddCommand(serveCmd, scanCmd, toolsCmd, userCmd, initCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configPath
		if path == "" {
			path = config.DefaultConfigPath
		}
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}
		if err := config.WriteDefault(path); err != nil {
			return err
		}
		fmt.Println("Wrote", path)
		return nil
	},
}
