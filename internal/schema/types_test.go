// Compatsync - Cross-Server Synchronization for Browser Compatibility Data
// Copyright 2026 The compatsync authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/browsercompat/compatsync

package schema

import (
	"strings"
	"testing"
)

func TestNaturalKeyOf(t *testing.T) {
	browsers := ResourceType{Name: "browsers", NaturalKeyFields: []string{"slug"}}
	versions := ResourceType{Name: "versions", NaturalKeyFields: []string{"browser", "version"}}
	sections := ResourceType{Name: "sections", NaturalKeyFields: []string{"specification", "number", "name"}}

	t.Run("single slug used verbatim", func(t *testing.T) {
		key, err := browsers.NaturalKeyOf(Record{ID: "1", Fields: map[string]any{"slug": "firefox"}})
		if err != nil {
			t.Fatalf("NaturalKeyOf() error = %v", err)
		}
		if key != "firefox" {
			t.Errorf("key = %q, want %q", key, "firefox")
		}
	})

	t.Run("composite slugs joined", func(t *testing.T) {
		key, err := versions.NaturalKeyOf(Record{ID: "7", Fields: map[string]any{
			"browser": "firefox",
			"version": "52.0",
		}})
		if err != nil {
			t.Fatalf("NaturalKeyOf() error = %v", err)
		}
		if key != "firefox/52.0" {
			t.Errorf("key = %q, want %q", key, "firefox/52.0")
		}
	})

	t.Run("structured values collapse to signature", func(t *testing.T) {
		rec := Record{ID: "3", Fields: map[string]any{
			"specification": "css-flexbox-1",
			"number":        "5.2",
			"name":          map[string]any{"en": "Flex Containers"},
		}}
		key, err := sections.NaturalKeyOf(rec)
		if err != nil {
			t.Fatalf("NaturalKeyOf() error = %v", err)
		}
		if len(key) != 64 || strings.ToLower(key) != key {
			t.Errorf("key = %q, want lowercase hex sha256", key)
		}

		// Same content yields the same signature.
		again, err := sections.NaturalKeyOf(rec)
		if err != nil {
			t.Fatalf("NaturalKeyOf() error = %v", err)
		}
		if again != key {
			t.Errorf("signature not stable: %q vs %q", key, again)
		}
	})

	t.Run("missing key field fails", func(t *testing.T) {
		_, err := browsers.NaturalKeyOf(Record{ID: "9", Fields: map[string]any{"name": "Firefox"}})
		if err == nil {
			t.Fatal("NaturalKeyOf() error = nil, want missing-field error")
		}
	})
}

func TestSignatureLengthPrefixing(t *testing.T) {
	if Signature("ab", "c") == Signature("a", "bc") {
		t.Error("Signature() collides on shifted part boundaries")
	}
	if Signature("x") != Signature("x") {
		t.Error("Signature() is not deterministic")
	}
}

func TestFieldRef(t *testing.T) {
	rec := Record{ID: "1", Fields: map[string]any{
		"browser": "firefox",
		"parent":  nil,
		"order":   float64(3),
	}}

	if ref, ok := rec.FieldRef("browser"); !ok || ref != "firefox" {
		t.Errorf("FieldRef(browser) = %q, %v; want firefox, true", ref, ok)
	}
	if _, ok := rec.FieldRef("parent"); ok {
		t.Error("FieldRef(parent) ok = true for null value, want false")
	}
	if _, ok := rec.FieldRef("absent"); ok {
		t.Error("FieldRef(absent) ok = true, want false")
	}
	if ref, ok := rec.FieldRef("order"); !ok || ref != "3" {
		t.Errorf("FieldRef(order) = %q, %v; want 3, true", ref, ok)
	}
}
