// Compatsync - Cross-Server Synchronization for Browser Compatibility Data
// Copyright 2026 The compatsync authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/browsercompat/compatsync

package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/goccy/go-json"
)

func TestSlogLoggerWritesToZerolog(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "debug", Format: "json", Output: &buf})
	defer Init(DefaultConfig())

	slogger := NewSlogLogger()
	slogger.Info("supervisor restarting service", "service", "status-server", "restarts", int64(2))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not valid JSON: %v (%q)", err, buf.String())
	}
	if entry["message"] != "supervisor restarting service" {
		t.Errorf("message = %v, want supervisor message", entry["message"])
	}
	if entry["level"] != "info" {
		t.Errorf("level = %v, want info", entry["level"])
	}
	if entry["service"] != "status-server" {
		t.Errorf("service attr = %v, want status-server", entry["service"])
	}
	if entry["restarts"] != float64(2) {
		t.Errorf("restarts attr = %v, want 2", entry["restarts"])
	}
}

func TestSlogLoggerHonorsLevel(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "warn", Format: "json", Output: &buf})
	defer Init(DefaultConfig())

	slogger := NewSlogLogger()
	slogger.Debug("too quiet to surface")
	slogger.Warn("service failed", "service", "status-server")

	out := buf.String()
	if strings.Contains(out, "too quiet to surface") {
		t.Errorf("debug event logged at warn level:\n%s", out)
	}
	if !strings.Contains(out, "service failed") {
		t.Errorf("warn event missing:\n%s", out)
	}
}

func TestSlogLoggerGroupsPrefixKeys(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "debug", Format: "json", Output: &buf})
	defer Init(DefaultConfig())

	slogger := NewSlogLogger().WithGroup("suture").With("tree", "compatsync")
	slogger.Info("service started")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not valid JSON: %v (%q)", err, buf.String())
	}
	if entry["suture.tree"] != "compatsync" {
		t.Errorf("grouped attr = %v, want compatsync under suture.tree", entry["suture.tree"])
	}
}
