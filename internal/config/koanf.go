// Compatsync - Cross-Server Synchronization for Browser Compatibility Data
// Copyright 2026 The compatsync authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/browsercompat/compatsync

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in
// order of priority. The first file found wins.
var DefaultConfigPaths = []string{
	"compatsync.yaml",
	"compatsync.yml",
	"/etc/compatsync/config.yaml",
	"/etc/compatsync/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// envPrefix is stripped from environment variable names before mapping
// them to config paths.
const envPrefix = "COMPATSYNC_"

// sections are the top-level config keys an environment variable may
// address; the first matching prefix of the variable name selects the
// section and the remainder becomes the key.
var sections = []string{"source", "destination", "sync", "ledger", "status", "logging"}

// Default returns a Config with all default values. These are applied
// first, then overridden by the config file and environment variables.
func Default() *Config {
	endpoint := EndpointConfig{
		Timeout:        30 * time.Second,
		RateLimit:      0, // unlimited unless configured
		RateBurst:      1,
		MaxAttempts:    5,
		RetryBaseDelay: 1 * time.Second,
		RetryMaxDelay:  30 * time.Second,
		Breaker:        true,
	}
	return &Config{
		Source:      endpoint,
		Destination: endpoint,
		Sync: SyncConfig{
			Workers:  4,
			PageSize: 100,
		},
		Ledger: LedgerConfig{
			Path: "./compatsync-ledger",
		},
		Status: StatusConfig{
			Listen: "", // disabled by default
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file, and
// environment variables (highest priority). It does not run Validate;
// commands validate the parts they use.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	return cfg, nil
}

// findConfigFile searches for a config file in the default paths.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envTransformFunc maps environment variable names to config paths:
//
//	COMPATSYNC_SOURCE_URL        -> source.url
//	COMPATSYNC_SYNC_PAGE_SIZE    -> sync.page_size
//	COMPATSYNC_LEDGER_PATH       -> ledger.path
//
// The variable name's first underscore-delimited token selects the config
// section; the remainder (joined by underscores) is the key within it.
func envTransformFunc(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
	for _, section := range sections {
		if key == section {
			return ""
		}
		if strings.HasPrefix(key, section+"_") {
			return section + "." + strings.TrimPrefix(key, section+"_")
		}
	}
	// Unknown variables are ignored rather than polluting the tree.
	return ""
}
