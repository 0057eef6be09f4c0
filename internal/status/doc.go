// Compatsync - Cross-Server Synchronization for Browser Compatibility Data
// Copyright 2026 The compatsync authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/browsercompat/compatsync

// Package status serves run progress over HTTP while a synchronization
// is active.
//
// The server is optional and off by default; it exposes /healthz for
// liveness probes, /progress for a JSON snapshot of the run counters,
// and /metrics for Prometheus scrapes. It runs under a suture
// supervisor so a handler panic restarts the server instead of killing
// the run.
package status
