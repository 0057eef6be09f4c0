// Compatsync - Cross-Server Synchronization for Browser Compatibility Data
// Copyright 2026 The compatsync authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/browsercompat/compatsync

package schema

import (
	"fmt"
	"sort"
)

// ConfigurationError reports a resource type configuration under which no
// valid synchronization order exists. It aborts the whole run: no progress
// is safe without a valid ordering.
type ConfigurationError struct {
	Reason string
	Types  []string
}

func (e *ConfigurationError) Error() string {
	if len(e.Types) == 0 {
		return fmt.Sprintf("invalid resource type configuration: %s", e.Reason)
	}
	return fmt.Sprintf("invalid resource type configuration: %s (types: %v)", e.Reason, e.Types)
}

// Plan is the output of dependency resolution: a total creation order over
// resource types plus the fields excluded from the ordering constraint.
type Plan struct {
	// Order lists resource type names such that for every required foreign
	// key from type A to type B, B precedes A.
	Order []string

	// Deferred maps a type name to the foreign-key fields that must be left
	// unset at creation time and filled in by a follow-up update once all
	// records of the target type exist.
	Deferred map[string][]FieldSpec

	types map[string]ResourceType
}

// Type returns the declaration for a resource type in the plan.
func (p *Plan) Type(name string) (ResourceType, bool) {
	rt, ok := p.types[name]
	return rt, ok
}

// DeferredFields returns the deferred foreign-key fields for a type.
func (p *Plan) DeferredFields(name string) []FieldSpec {
	return p.Deferred[name]
}

// IsDeferred reports whether the named field of the type is excluded from
// the creation-order constraint.
func (p *Plan) IsDeferred(typeName, fieldName string) bool {
	for _, f := range p.Deferred[typeName] {
		if f.Name == fieldName {
			return true
		}
	}
	return false
}

// Resolve orders the given resource types so that referenced types are
// created before referencing ones (Kahn's algorithm over the type
// dependency graph).
//
// Self-referential fields never constrain the order: a record may reference
// a not-yet-created record of its own type, so the field is deferred. If
// such a field is required the cycle is unbreakable and Resolve fails.
// Mutual references between distinct types are broken by deferring optional
// fields that participate in the cycle; if a cycle remains once every
// optional field in it is deferred, Resolve fails with ConfigurationError.
func Resolve(types []ResourceType) (*Plan, error) {
	if len(types) == 0 {
		return nil, &ConfigurationError{Reason: "no resource types declared"}
	}

	byName := make(map[string]ResourceType, len(types))
	for _, rt := range types {
		if _, dup := byName[rt.Name]; dup {
			return nil, &ConfigurationError{Reason: "duplicate resource type", Types: []string{rt.Name}}
		}
		byName[rt.Name] = rt
	}

	deferred := make(map[string][]FieldSpec)

	// edge set: edges[a][b] counts fields on a referencing b (a depends on b).
	type edgeKey struct{ from, to string }
	edges := make(map[edgeKey][]FieldSpec)
	for _, rt := range types {
		for _, f := range rt.Fields {
			if f.Target == "" {
				continue
			}
			if _, known := byName[f.Target]; !known {
				return nil, &ConfigurationError{
					Reason: fmt.Sprintf("field %q references undeclared type %q", f.Name, f.Target),
					Types:  []string{rt.Name},
				}
			}
			if f.Target == rt.Name {
				if f.Required {
					return nil, &ConfigurationError{
						Reason: fmt.Sprintf("required field %q is self-referential", f.Name),
						Types:  []string{rt.Name},
					}
				}
				deferred[rt.Name] = append(deferred[rt.Name], f)
				continue
			}
			edges[edgeKey{rt.Name, f.Target}] = append(edges[edgeKey{rt.Name, f.Target}], f)
		}
	}

	// Kahn's algorithm, deferring optional cycle edges until either the
	// graph sorts completely or only required edges remain in a cycle.
	for {
		order, remainder := kahn(byName, func(from, to string) bool {
			return len(edges[edgeKey{from, to}]) > 0
		})
		if len(remainder) == 0 {
			plan := &Plan{Order: order, Deferred: deferred, types: byName}
			return plan, nil
		}

		// Drop optional edges between remainder nodes; they become
		// deferred patch fields.
		progressed := false
		for _, from := range remainder {
			for _, to := range remainder {
				key := edgeKey{from, to}
				fields := edges[key]
				if len(fields) == 0 {
					continue
				}
				kept := fields[:0]
				for _, f := range fields {
					if f.Required {
						kept = append(kept, f)
						continue
					}
					deferred[from] = append(deferred[from], f)
					progressed = true
				}
				if len(kept) == 0 {
					delete(edges, key)
				} else {
					edges[key] = kept
				}
			}
		}
		if !progressed {
			sort.Strings(remainder)
			return nil, &ConfigurationError{
				Reason: "required foreign keys form a cycle",
				Types:  remainder,
			}
		}
	}
}

// kahn runs a topological sort over the type names using the given edge
// predicate. Returns the sorted order and any nodes left in cycles.
// Ready nodes are taken in name order so the result is deterministic.
func kahn(types map[string]ResourceType, hasEdge func(from, to string) bool) (order, remainder []string) {
	names := make([]string, 0, len(types))
	for name := range types {
		names = append(names, name)
	}
	sort.Strings(names)

	indegree := make(map[string]int, len(names))
	for _, from := range names {
		for _, to := range names {
			if from != to && hasEdge(from, to) {
				indegree[from]++
			}
		}
	}

	var ready []string
	for _, name := range names {
		if indegree[name] == 0 {
			ready = append(ready, name)
		}
	}

	done := make(map[string]bool, len(names))
	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		order = append(order, name)
		done[name] = true

		for _, from := range names {
			if done[from] || from == name || !hasEdge(from, name) {
				continue
			}
			indegree[from]--
			if indegree[from] == 0 {
				ready = append(ready, from)
			}
		}
		sort.Strings(ready)
	}

	for _, name := range names {
		if !done[name] {
			remainder = append(remainder, name)
		}
	}
	return order, remainder
}
