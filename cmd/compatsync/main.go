// Compatsync - Cross-Server Synchronization for Browser Compatibility Data
// Copyright 2026 The compatsync authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/browsercompat/compatsync

// Command compatsync copies browser-compatibility records from one API
// server to another, preserving cross-record references and surviving
// interruption.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/browsercompat/compatsync/internal/config"
	"github.com/browsercompat/compatsync/internal/logging"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "compatsync",
	Short: "Synchronize browser-compatibility data between API servers",
	Long: `compatsync copies the full dependency-ordered data set (browsers,
versions, features, supports, maturities, specifications, sections)
from a source server to a destination server. Records are matched by
natural key, so repeated runs converge instead of duplicating data.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return cmd.Help()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the compatsync version",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "compatsync %s\n", version)
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "path to a YAML config file")
	pf.String("log-level", "", "log level (trace, debug, info, warn, error)")
	pf.String("log-format", "", "log format (json, console)")

	rootCmd.AddCommand(versionCmd)
}

// loadConfig builds the layered configuration and initializes logging
// from it. Persistent flags override the file and environment layers.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if path, err := cmd.Flags().GetString("config"); err == nil && path != "" {
		if _, serr := os.Stat(path); serr != nil {
			return nil, fmt.Errorf("config file %s: %w", path, serr)
		}
		if err := os.Setenv(config.ConfigPathEnvVar, path); err != nil {
			return nil, err
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	if level, err := cmd.Flags().GetString("log-level"); err == nil && level != "" {
		cfg.Logging.Level = level
	}
	if format, err := cmd.Flags().GetString("log-format"); err == nil && format != "" {
		cfg.Logging.Format = format
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "compatsync: %v\n", err)
		os.Exit(1)
	}
}
