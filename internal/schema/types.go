// Compatsync - Cross-Server Synchronization for Browser Compatibility Data
// Copyright 2026 The compatsync authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/browsercompat/compatsync

package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"

	"github.com/goccy/go-json"
)

// FieldSpec declares a foreign-key field on a resource type.
type FieldSpec struct {
	// Name is the field name in the resource's JSON document.
	Name string

	// Target is the name of the referenced resource type.
	Target string

	// Required marks fields that must resolve to a destination identifier
	// before the record can be created. Optional fields may be submitted
	// absent and filled in by a deferred patch.
	Required bool
}

// ResourceType describes one entity kind exposed by the compatibility API.
type ResourceType struct {
	// Name is the collection name used in API paths (e.g. "browsers").
	Name string

	// NaturalKeyFields are the field names whose values identify the same
	// logical record across servers. A single slug-like field is used
	// verbatim; composite keys collapse to a content signature.
	NaturalKeyFields []string

	// LookupParams maps submission field names to the query parameters the
	// API accepts for a server-side natural key lookup. Slug-keyed types
	// map the slug field alone (e.g. {"slug": "slug"}); composite-keyed
	// types list every filter needed to pin down one record, with
	// foreign-key fields matched by destination identifier. Empty means
	// the natural key is not queryable and dedup relies on the ledger and
	// conflict responses alone.
	LookupParams map[string]string

	// Fields lists the type's foreign-key fields. Non-FK fields need no
	// declaration; they are copied through untouched.
	Fields []FieldSpec
}

// Record is one instance of a resource type as exported by the source API.
// Foreign-key fields hold the natural key of the referenced record; the
// orchestrator remaps them to destination identifiers before submission.
type Record struct {
	// ID is the source server's local identifier.
	ID string

	// Fields maps field name to scalar value or foreign-key natural key.
	Fields map[string]any
}

// FieldRef returns the record's value for a foreign-key field as a natural
// key string. Absent or null fields return ok=false.
func (r Record) FieldRef(name string) (string, bool) {
	v, present := r.Fields[name]
	if !present || v == nil {
		return "", false
	}
	s, err := FieldString(v)
	if err != nil || s == "" {
		return "", false
	}
	return s, true
}

// NaturalKeyOf computes the record's natural key. Single slug-like values
// are used directly; composite or non-slug values collapse to a lowercase
// hex SHA-256 content signature so the key stays stable across servers.
func (rt ResourceType) NaturalKeyOf(rec Record) (string, error) {
	if len(rt.NaturalKeyFields) == 0 {
		return "", fmt.Errorf("resource type %q declares no natural key fields", rt.Name)
	}

	parts := make([]string, 0, len(rt.NaturalKeyFields))
	for _, field := range rt.NaturalKeyFields {
		v, present := rec.Fields[field]
		if !present || v == nil {
			return "", fmt.Errorf("record %s/%s missing natural key field %q", rt.Name, rec.ID, field)
		}
		s, err := FieldString(v)
		if err != nil {
			return "", fmt.Errorf("record %s/%s natural key field %q: %w", rt.Name, rec.ID, field, err)
		}
		parts = append(parts, s)
	}

	if len(parts) == 1 && isSlug(parts[0]) {
		return parts[0], nil
	}

	allSlugs := true
	for _, p := range parts {
		if !isSlug(p) {
			allSlugs = false
			break
		}
	}
	if allSlugs {
		joined := parts[0]
		for _, p := range parts[1:] {
			joined += "/" + p
		}
		return joined, nil
	}

	return Signature(parts...), nil
}

// Signature computes a lowercase hex SHA-256 content signature over the
// given parts. Used as a natural key for types without a queryable slug.
func Signature(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		// Length-prefix each part so ("ab","c") and ("a","bc") differ.
		fmt.Fprintf(h, "%d:%s", len(p), p)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// FieldString renders a field value as a deterministic string.
// Scalars render directly; structured values use canonical JSON.
func FieldString(v any) (string, error) {
	switch val := v.(type) {
	case string:
		return val, nil
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(val), nil
	case int64:
		return strconv.FormatInt(val, 10), nil
	case bool:
		return strconv.FormatBool(val), nil
	default:
		data, err := canonicalJSON(v)
		if err != nil {
			return "", fmt.Errorf("unrenderable field value of type %T: %w", v, err)
		}
		return string(data), nil
	}
}

// canonicalJSON marshals v with sorted map keys for deterministic output.
func canonicalJSON(v any) ([]byte, error) {
	if m, ok := v.(map[string]any); ok {
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		out := []byte("{")
		for i, k := range keys {
			if i > 0 {
				out = append(out, ',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			vb, err := canonicalJSON(m[k])
			if err != nil {
				return nil, err
			}
			out = append(out, kb...)
			out = append(out, ':')
			out = append(out, vb...)
		}
		return append(out, '}'), nil
	}
	return json.Marshal(v)
}

// isSlug reports whether s is safe to use verbatim as a natural key
// component: lowercase letters, digits, and a small set of separators.
func isSlug(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		switch {
		case c >= 'a' && c <= 'z':
		case c >= '0' && c <= '9':
		case c == '-' || c == '_' || c == '.':
		default:
			return false
		}
	}
	return true
}
