// Compatsync - Cross-Server Synchronization for Browser Compatibility Data
// Copyright 2026 The compatsync authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/browsercompat/compatsync

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// validConfig returns a Config that passes Validate.
func validConfig() *Config {
	cfg := Default()
	cfg.Source.URL = "https://source.example.com/api/v1"
	cfg.Destination.URL = "https://dest.example.com/api/v1"
	cfg.Destination.Token = "secret"
	return cfg
}

func TestDefaults(t *testing.T) {
	cfg := Default()

	if cfg.Sync.Workers != 4 {
		t.Errorf("Sync.Workers = %d, want 4", cfg.Sync.Workers)
	}
	if cfg.Sync.PageSize != 100 {
		t.Errorf("Sync.PageSize = %d, want 100", cfg.Sync.PageSize)
	}
	if cfg.Source.MaxAttempts != 5 {
		t.Errorf("Source.MaxAttempts = %d, want 5", cfg.Source.MaxAttempts)
	}
	if cfg.Source.Timeout != 30*time.Second {
		t.Errorf("Source.Timeout = %v, want 30s", cfg.Source.Timeout)
	}
	if !cfg.Source.Breaker {
		t.Error("Source.Breaker = false, want true")
	}
	if cfg.Status.Listen != "" {
		t.Errorf("Status.Listen = %q, want disabled", cfg.Status.Listen)
	}
}

func TestEnvTransformFunc(t *testing.T) {
	tests := []struct {
		env  string
		want string
	}{
		{"COMPATSYNC_SOURCE_URL", "source.url"},
		{"COMPATSYNC_DESTINATION_TOKEN", "destination.token"},
		{"COMPATSYNC_SYNC_PAGE_SIZE", "sync.page_size"},
		{"COMPATSYNC_SYNC_DRY_RUN", "sync.dry_run"},
		{"COMPATSYNC_LEDGER_PATH", "ledger.path"},
		{"COMPATSYNC_LOGGING_LEVEL", "logging.level"},
		{"COMPATSYNC_UNRELATED", ""},
	}

	for _, tt := range tests {
		if got := envTransformFunc(tt.env); got != tt.want {
			t.Errorf("envTransformFunc(%q) = %q, want %q", tt.env, got, tt.want)
		}
	}
}

func TestLoadLayering(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "compatsync.yaml")
	yaml := strings.Join([]string{
		"source:",
		"  url: https://file.example.com/api/v1",
		"sync:",
		"  workers: 8",
	}, "\n")
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("COMPATSYNC_SOURCE_URL", "https://env.example.com/api/v1")
	t.Setenv("COMPATSYNC_SYNC_PAGE_SIZE", "25")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	// Env beats file.
	if cfg.Source.URL != "https://env.example.com/api/v1" {
		t.Errorf("Source.URL = %q, want env value", cfg.Source.URL)
	}
	// File beats defaults.
	if cfg.Sync.Workers != 8 {
		t.Errorf("Sync.Workers = %d, want 8 from file", cfg.Sync.Workers)
	}
	// Env-only override.
	if cfg.Sync.PageSize != 25 {
		t.Errorf("Sync.PageSize = %d, want 25 from env", cfg.Sync.PageSize)
	}
	// Defaults survive where unset.
	if cfg.Source.MaxAttempts != 5 {
		t.Errorf("Source.MaxAttempts = %d, want default 5", cfg.Source.MaxAttempts)
	}
}

func TestValidate(t *testing.T) {
	t.Run("accepts a complete config", func(t *testing.T) {
		if err := validConfig().Validate(); err != nil {
			t.Errorf("Validate() error = %v", err)
		}
	})

	t.Run("rejects missing source URL", func(t *testing.T) {
		cfg := validConfig()
		cfg.Source.URL = ""
		if err := cfg.Validate(); err == nil {
			t.Error("Validate() error = nil, want missing source.url error")
		}
	})

	t.Run("rejects identical endpoints", func(t *testing.T) {
		cfg := validConfig()
		cfg.Destination.URL = cfg.Source.URL
		if err := cfg.Validate(); err == nil {
			t.Error("Validate() error = nil, want same-endpoint error")
		}
	})

	t.Run("rejects missing destination credentials", func(t *testing.T) {
		cfg := validConfig()
		cfg.Destination.Token = ""
		if err := cfg.Validate(); err == nil {
			t.Error("Validate() error = nil, want credentials error")
		}
	})

	t.Run("rejects half-specified basic auth", func(t *testing.T) {
		cfg := validConfig()
		cfg.Source.Username = "operator"
		if err := cfg.Validate(); err == nil {
			t.Error("Validate() error = nil, want auth error")
		}
	})

	t.Run("rejects token plus basic auth", func(t *testing.T) {
		cfg := validConfig()
		cfg.Destination.Username = "operator"
		cfg.Destination.Password = "pw"
		if err := cfg.Validate(); err == nil {
			t.Error("Validate() error = nil, want mutually-exclusive auth error")
		}
	})

	t.Run("rejects out-of-range workers", func(t *testing.T) {
		cfg := validConfig()
		cfg.Sync.Workers = 0
		if err := cfg.Validate(); err == nil {
			t.Error("Validate() error = nil, want workers range error")
		}
	})
}
