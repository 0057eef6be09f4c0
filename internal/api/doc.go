// Compatsync - Cross-Server Synchronization for Browser Compatibility Data
// Copyright 2026 The compatsync authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/browsercompat/compatsync

// Package api is the authenticated HTTP transport for a compatibility API
// endpoint: paginated collection reads, record creation and updates, and
// natural-key lookups, with typed JSON (de)serialization.
//
// Transport policy per endpoint:
//
//   - Bounded per-call timeout; a timed-out call is a TransientError.
//   - Transient failures (network errors, 5xx, 429) retried with
//     exponential backoff up to a configured attempt count, honoring
//     Retry-After on 429. The backoff sleep is injectable so retry
//     behavior tests run without real timers.
//   - Client-side request rate limiting (golang.org/x/time/rate).
//   - Optional circuit breaker (sony/gobreaker) that opens on sustained
//     transient failure; only transient errors count against it.
//
// Errors are a closed taxonomy the orchestrator dispatches on:
// TransientError (retry), FatalError (unrecoverable request),
// ValidationError (destination rejected field content, terminal),
// ConflictError (uniqueness violation, triggers dedup), and ErrNotFound.
package api
