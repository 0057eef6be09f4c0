// Compatsync - Cross-Server Synchronization for Browser Compatibility Data
// Copyright 2026 The compatsync authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/browsercompat/compatsync

package ledger

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore keeps ledger entries in a map. It backs dry runs, where
// sync outcomes must not persist, and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]Entry // "<type>:<natural key>" -> entry
}

// NewMemoryStore creates an empty in-memory ledger.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

func memKey(resourceType, naturalKey string) string {
	return resourceType + ":" + naturalKey
}

// Get returns the entry for a record, or ErrNotFound.
func (s *MemoryStore) Get(resourceType, naturalKey string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[memKey(resourceType, naturalKey)]
	if !ok {
		return nil, ErrNotFound
	}
	return &entry, nil
}

// Put writes an entry, overwriting any previous one for the same record.
func (s *MemoryStore) Put(entry *Entry) error {
	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[memKey(entry.ResourceType, entry.NaturalKey)] = *entry
	return nil
}

// ForEach calls fn for every entry of a resource type in natural-key
// order.
func (s *MemoryStore) ForEach(resourceType string, fn func(*Entry) error) error {
	s.mu.RLock()
	prefix := resourceType + ":"
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	snapshot := make([]Entry, 0, len(keys))
	for _, k := range keys {
		snapshot = append(snapshot, s.entries[k])
	}
	s.mu.RUnlock()

	for i := range snapshot {
		if err := fn(&snapshot[i]); err != nil {
			return err
		}
	}
	return nil
}

// Counts tallies entries per resource type.
func (s *MemoryStore) Counts() (map[string]Counts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]Counts)
	for _, entry := range s.entries {
		tally(counts, &entry)
	}
	return counts, nil
}

// Clear removes all entries.
func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]Entry)
	return nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }
