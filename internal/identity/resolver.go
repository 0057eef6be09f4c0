// Compatsync - Cross-Server Synchronization for Browser Compatibility Data
// Copyright 2026 The compatsync authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/browsercompat/compatsync

package identity

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/browsercompat/compatsync/internal/api"
	"github.com/browsercompat/compatsync/internal/logging"
	"github.com/browsercompat/compatsync/internal/schema"
)

// ErrNotFound is returned when a natural key resolves to no destination
// record.
var ErrNotFound = errors.New("identity not found")

// Lookup finds a record on the destination by its natural key. The
// fields map carries the filter values composite lookups need; it may
// be nil. Satisfied by *api.Client.
type Lookup interface {
	FindByNaturalKey(ctx context.Context, rt schema.ResourceType, naturalKey string, fields map[string]any) (string, error)
}

// Resolver maps (resource type, natural key) pairs to destination-local
// identifiers. Safe for concurrent use.
type Resolver struct {
	lookup Lookup

	mu      sync.Mutex
	known   map[string]string        // "<type>:<key>" -> destination ID
	missing map[string]struct{}      // confirmed absent on destination
	pending map[string]chan struct{} // in-flight create reservations
}

// NewResolver creates a resolver backed by the given destination lookup.
// A nil lookup disables the server fallback; unknown keys then resolve
// to ErrNotFound immediately (used in dry runs).
func NewResolver(lookup Lookup) *Resolver {
	return &Resolver{
		lookup:  lookup,
		known:   make(map[string]string),
		missing: make(map[string]struct{}),
		pending: make(map[string]chan struct{}),
	}
}

func identityKey(resourceType, naturalKey string) string {
	return resourceType + ":" + naturalKey
}

// Register records that naturalKey maps to destID on the destination.
func (r *Resolver) Register(rt schema.ResourceType, naturalKey, destID string) {
	key := identityKey(rt.Name, naturalKey)
	r.mu.Lock()
	r.known[key] = destID
	delete(r.missing, key)
	r.mu.Unlock()
}

// Resolve returns the destination identifier for a natural key. Cache
// hits (positive and negative) answer without a network call; misses
// fall through to the destination lookup, and the answer is cached
// either way. The fields map feeds composite server-side lookups and
// may be nil when only the cache (or a slug lookup) can answer.
// Returns ErrNotFound when the destination has no such record.
func (r *Resolver) Resolve(ctx context.Context, rt schema.ResourceType, naturalKey string, fields map[string]any) (string, error) {
	key := identityKey(rt.Name, naturalKey)

	r.mu.Lock()
	if id, ok := r.known[key]; ok {
		r.mu.Unlock()
		return id, nil
	}
	if _, ok := r.missing[key]; ok {
		r.mu.Unlock()
		return "", fmt.Errorf("%s %q: %w", rt.Name, naturalKey, ErrNotFound)
	}
	r.mu.Unlock()

	if r.lookup == nil {
		return "", fmt.Errorf("%s %q: %w", rt.Name, naturalKey, ErrNotFound)
	}

	id, err := r.lookup.FindByNaturalKey(ctx, rt, naturalKey, fields)
	if errors.Is(err, api.ErrNotFound) {
		r.mu.Lock()
		r.missing[key] = struct{}{}
		r.mu.Unlock()
		return "", fmt.Errorf("%s %q: %w", rt.Name, naturalKey, ErrNotFound)
	}
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	r.known[key] = id
	delete(r.missing, key)
	r.mu.Unlock()

	logging.Debug().
		Str("resource_type", rt.Name).
		Str("natural_key", naturalKey).
		Str("dest_id", id).
		Msg("Resolved identity from destination")
	return id, nil
}

// Reserve claims the right to create the record for a natural key. The
// first caller gets claimed=true and must call Fulfill or Release when
// its create settles. Later callers block until the reservation settles,
// then return claimed=false so they can re-check the cache; they also
// return the destination ID directly when the first caller fulfilled.
func (r *Resolver) Reserve(ctx context.Context, rt schema.ResourceType, naturalKey string) (destID string, claimed bool, err error) {
	key := identityKey(rt.Name, naturalKey)

	for {
		r.mu.Lock()
		if id, ok := r.known[key]; ok {
			r.mu.Unlock()
			return id, false, nil
		}
		wait, inflight := r.pending[key]
		if !inflight {
			r.pending[key] = make(chan struct{})
			r.mu.Unlock()
			return "", true, nil
		}
		r.mu.Unlock()

		select {
		case <-ctx.Done():
			return "", false, ctx.Err()
		case <-wait:
			// Reservation settled; loop to re-check the cache. A
			// released (failed) reservation leaves the key unclaimed,
			// so this caller may claim it on the next pass.
		}
	}
}

// Fulfill completes a reservation with the destination identifier the
// create produced, waking any blocked callers.
func (r *Resolver) Fulfill(rt schema.ResourceType, naturalKey, destID string) {
	key := identityKey(rt.Name, naturalKey)

	r.mu.Lock()
	r.known[key] = destID
	delete(r.missing, key)
	if wait, ok := r.pending[key]; ok {
		close(wait)
		delete(r.pending, key)
	}
	r.mu.Unlock()
}

// Release abandons a reservation without an identifier, waking blocked
// callers so one of them can claim the key instead.
func (r *Resolver) Release(rt schema.ResourceType, naturalKey string) {
	key := identityKey(rt.Name, naturalKey)

	r.mu.Lock()
	if wait, ok := r.pending[key]; ok {
		close(wait)
		delete(r.pending, key)
	}
	r.mu.Unlock()
}

// Known returns the number of cached positive mappings.
func (r *Resolver) Known() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.known)
}
