// Compatsync - Cross-Server Synchronization for Browser Compatibility Data
// Copyright 2026 The compatsync authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/browsercompat/compatsync

// Package metrics registers Prometheus collectors for sync runs: API
// transport outcomes, retry and circuit breaker activity, per-type record
// outcomes, and ledger writes. The collectors are exposed on the optional
// status server's /metrics endpoint.
package metrics
