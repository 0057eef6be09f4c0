// Compatsync - Cross-Server Synchronization for Browser Compatibility Data
// Copyright 2026 The compatsync authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/browsercompat/compatsync

// Package schema declares the closed set of resource types handled by a
// sync run and resolves the order in which they must be created.
//
// Resource types and their foreign-key fields are explicit configuration
// data, not runtime introspection: the browser-compatibility API's entity
// kinds (browsers, versions, features, supports, specifications, sections,
// maturities) are declared once in DefaultTypes and everything downstream
// operates on that typed description.
//
// Resolve performs a topological sort over the type dependency graph so
// that referenced types are created before referencing ones. Optional
// fields that close a cycle (features.parent referencing features) are
// excluded from the ordering and reported as deferred: records are created
// with the field unset and patched once every record of the type exists.
// A cycle that survives after all optional fields are excluded is a
// configuration defect and fails fast before any network call.
package schema
