// Compatsync - Cross-Server Synchronization for Browser Compatibility Data
// Copyright 2026 The compatsync authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/browsercompat/compatsync

package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the root configuration for a compatsync invocation.
type Config struct {
	Source      EndpointConfig `koanf:"source"`
	Destination EndpointConfig `koanf:"destination"`
	Sync        SyncConfig     `koanf:"sync"`
	Ledger      LedgerConfig   `koanf:"ledger"`
	Status      StatusConfig   `koanf:"status"`
	Logging     LoggingConfig  `koanf:"logging"`
}

// EndpointConfig describes one API endpoint (source or destination) and the
// transport policy used when talking to it. Credentials are either a bearer
// token or a username/password pair; both empty means anonymous reads.
type EndpointConfig struct {
	URL      string `koanf:"url" validate:"omitempty,url"`
	Token    string `koanf:"token"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`

	// Timeout bounds each individual API call. A timed-out call is treated
	// as transient and retried.
	Timeout time.Duration `koanf:"timeout" validate:"min=0"`

	// RateLimit caps outgoing requests per second (0 = unlimited).
	RateLimit float64 `koanf:"rate_limit" validate:"min=0"`
	RateBurst int     `koanf:"rate_burst" validate:"min=0"`

	// MaxAttempts bounds retries of transient failures per call.
	MaxAttempts    int           `koanf:"max_attempts" validate:"min=1"`
	RetryBaseDelay time.Duration `koanf:"retry_base_delay" validate:"min=0"`
	RetryMaxDelay  time.Duration `koanf:"retry_max_delay" validate:"min=0"`

	// Breaker enables the circuit breaker wrapped around this endpoint.
	Breaker bool `koanf:"breaker"`
}

// SyncConfig controls the orchestrator.
type SyncConfig struct {
	// Workers is the number of concurrent record processors within one
	// resource type's paging phase. Types themselves run sequentially.
	Workers int `koanf:"workers" validate:"min=1,max=64"`

	// PageSize is the collection page size requested from the source.
	PageSize int `koanf:"page_size" validate:"min=1,max=500"`

	// DryRun walks the full pipeline without issuing writes.
	DryRun bool `koanf:"dry_run"`

	// Resume re-reads the ledger and skips records already done, retries
	// retryable failures, and reports terminal ones.
	Resume bool `koanf:"resume"`
}

// LedgerConfig locates the durable progress ledger.
type LedgerConfig struct {
	Path string `koanf:"path" validate:"required"`
}

// StatusConfig controls the optional in-run status HTTP server.
type StatusConfig struct {
	// Listen is the address to serve /healthz, /progress, and /metrics on
	// while a run is active. Empty disables the server.
	Listen string `koanf:"listen"`
}

// LoggingConfig mirrors logging.Config.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"omitempty,oneof=trace debug info warn warning error fatal disabled"`
	Format string `koanf:"format" validate:"omitempty,oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// Validate checks the full configuration for a sync run.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("configuration invalid: %w", err)
	}

	if c.Source.URL == "" {
		return fmt.Errorf("source.url is required")
	}
	if c.Destination.URL == "" {
		return fmt.Errorf("destination.url is required")
	}
	if c.Source.URL == c.Destination.URL {
		return fmt.Errorf("source.url and destination.url must differ")
	}
	if c.Destination.Token == "" && c.Destination.Username == "" {
		return fmt.Errorf("destination credentials required (token or username/password)")
	}
	if err := c.Source.validateAuth("source"); err != nil {
		return err
	}
	if err := c.Destination.validateAuth("destination"); err != nil {
		return err
	}
	return nil
}

// validateAuth rejects half-specified basic auth.
func (e *EndpointConfig) validateAuth(name string) error {
	if (e.Username == "") != (e.Password == "") {
		return fmt.Errorf("%s: username and password must be set together", name)
	}
	if e.Token != "" && e.Username != "" {
		return fmt.Errorf("%s: token and username/password are mutually exclusive", name)
	}
	return nil
}
