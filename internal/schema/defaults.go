// Compatsync - Cross-Server Synchronization for Browser Compatibility Data
// Copyright 2026 The compatsync authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/browsercompat/compatsync

package schema

// DefaultTypes declares the browser-compatibility dataset's resource types
// and their foreign-key relationships.
//
// The resulting dependency order creates maturities and browsers first,
// then specifications and versions, then features (whose optional parent
// reference is self-referential and therefore patched after creation),
// then sections and supports.
func DefaultTypes() []ResourceType {
	return []ResourceType{
		{
			Name:             "browsers",
			NaturalKeyFields: []string{"slug"},
			LookupParams:     map[string]string{"slug": "slug"},
		},
		{
			Name:             "versions",
			NaturalKeyFields: []string{"browser", "version"},
			LookupParams:     map[string]string{"browser": "browser", "version": "version"},
			Fields: []FieldSpec{
				{Name: "browser", Target: "browsers", Required: true},
			},
		},
		{
			Name:             "features",
			NaturalKeyFields: []string{"slug"},
			LookupParams:     map[string]string{"slug": "slug"},
			Fields: []FieldSpec{
				// A feature's parent is another feature; created unset and
				// patched once the whole type has been processed.
				{Name: "parent", Target: "features", Required: false},
			},
		},
		{
			Name:             "supports",
			NaturalKeyFields: []string{"version", "feature"},
			LookupParams:     map[string]string{"version": "version", "feature": "feature"},
			Fields: []FieldSpec{
				{Name: "version", Target: "versions", Required: true},
				{Name: "feature", Target: "features", Required: true},
			},
		},
		{
			Name:             "maturities",
			NaturalKeyFields: []string{"slug"},
			LookupParams:     map[string]string{"slug": "slug"},
		},
		{
			Name:             "specifications",
			NaturalKeyFields: []string{"slug"},
			LookupParams:     map[string]string{"slug": "slug"},
			Fields: []FieldSpec{
				{Name: "maturity", Target: "maturities", Required: true},
			},
		},
		{
			// Sections are not server-side filterable by their natural key
			// fields, so dedup falls back to the ledger and conflict
			// responses.
			Name:             "sections",
			NaturalKeyFields: []string{"specification", "number", "name"},
			Fields: []FieldSpec{
				{Name: "specification", Target: "specifications", Required: true},
			},
		},
	}
}
