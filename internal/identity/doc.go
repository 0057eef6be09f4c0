// Compatsync - Cross-Server Synchronization for Browser Compatibility Data
// Copyright 2026 The compatsync authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/browsercompat/compatsync

// Package identity maps natural keys to destination-local identifiers.
//
// Source and destination servers assign their own record identifiers, so
// the only stable way to recognize "the same" record on both sides is
// its natural key. The Resolver caches known mappings, falls back to a
// destination lookup for keys it has not seen, and hands out in-flight
// reservations so two workers submitting the same natural key
// concurrently serialize instead of double-creating.
package identity
