// Compatsync - Cross-Server Synchronization for Browser Compatibility Data
// Copyright 2026 The compatsync authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/browsercompat/compatsync

/*
Package sync orchestrates a synchronization run from a source server to
a destination server.

The Engine walks resource types in dependency order, pages each
collection from the source, and submits records to the destination
through a bounded worker pool. Per record it consults the progress
ledger (resume), the identity resolver (dedup), and the dependency plan
(foreign-key remapping and deferred patches for cycle-broken edges).

Key behaviors:

  - Resume: records the ledger marks done are skipped without network
    traffic; retryable failures are retried, terminal ones are not.
  - Dedup: before creating, the destination is checked by natural key;
    a conflict response triggers a re-lookup instead of a failure.
  - Two-phase create: foreign keys the dependency plan deferred are
    stripped from the create and applied as patches once their targets
    exist.
  - Failure isolation: a record's failure never blocks unrelated
    records; only fatal and configuration errors abort the run.
*/
package sync
