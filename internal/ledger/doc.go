// Compatsync - Cross-Server Synchronization for Browser Compatibility Data
// Copyright 2026 The compatsync authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/browsercompat/compatsync

// Package ledger records per-record sync outcomes durably so that
// interrupted or failed runs can resume without re-submitting records
// that already reached the destination.
//
// Entries are keyed by resource type and natural key. A "done" entry
// marks a record as present on the destination (with its destination
// identifier); a "failed" entry records the terminal or retryable
// failure so the next run can skip or retry it.
//
// Two Store implementations exist: BadgerStore persists entries in an
// embedded BadgerDB and is the production store; MemoryStore keeps
// entries in a map and serves tests and dry runs.
package ledger
