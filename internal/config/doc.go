// Compatsync - Cross-Server Synchronization for Browser Compatibility Data
// Copyright 2026 The compatsync authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/browsercompat/compatsync

// Package config loads and validates compatsync configuration.
//
// Configuration is layered via Koanf v2 (highest priority wins):
//
//  1. Built-in defaults
//  2. Optional YAML config file (CONFIG_PATH or the default search paths)
//  3. Environment variables (COMPATSYNC_SOURCE_URL -> source.url)
//
// Struct-level constraints use go-playground/validator tags plus
// hand-written cross-field checks in Validate.
package config
