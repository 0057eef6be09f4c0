// Compatsync - Cross-Server Synchronization for Browser Compatibility Data
// Copyright 2026 The compatsync authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/browsercompat/compatsync

// Package logging provides centralized zerolog-based logging for compatsync.
//
// All components log through a single global logger configured once at
// startup. Output is JSON by default (machine-readable run logs) with an
// optional console format for interactive use.
//
//	logging.Init(logging.Config{Level: "info", Format: "console"})
//	logging.Info().Str("resource_type", "browsers").Msg("Type complete")
//
// Long-running sync runs tag every log line with a run ID so interleaved
// runs against the same ledger can be told apart:
//
//	ctx = logging.ContextWithRunID(ctx, logging.NewRunID())
//	logging.Ctx(ctx).Info().Msg("Run started")
package logging
