// Compatsync - Cross-Server Synchronization for Browser Compatibility Data
// Copyright 2026 The compatsync authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/browsercompat/compatsync

package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/browsercompat/compatsync/internal/logging"
	"github.com/browsercompat/compatsync/internal/metrics"
)

const entryKeyPrefix = "ledger:"

// BadgerStore persists ledger entries in an embedded BadgerDB.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadger opens (or creates) a BadgerDB-backed ledger at path.
func OpenBadger(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil // badger's own logger is too chatty for a CLI

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open ledger at %s: %w", path, err)
	}
	logging.Debug().Str("path", path).Msg("Opened ledger")
	return &BadgerStore{db: db}, nil
}

// NewBadgerStore wraps an already-open BadgerDB. The caller retains
// ownership of db when using this constructor; Close is still safe to
// call and closes it.
func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

func entryKey(resourceType, naturalKey string) []byte {
	return []byte(entryKeyPrefix + resourceType + ":" + naturalKey)
}

// Get returns the entry for a record, or ErrNotFound.
func (s *BadgerStore) Get(resourceType, naturalKey string) (*Entry, error) {
	var entry Entry
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(entryKey(resourceType, naturalKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get entry: %w", err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &entry)
		})
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// Put writes an entry, overwriting any previous one for the same record.
func (s *BadgerStore) Put(entry *Entry) error {
	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(entryKey(entry.ResourceType, entry.NaturalKey), data)
	})
	if err != nil {
		metrics.LedgerWrites.WithLabelValues("error").Inc()
		return fmt.Errorf("put entry: %w", err)
	}
	metrics.LedgerWrites.WithLabelValues(string(entry.Status)).Inc()
	return nil
}

// ForEach calls fn for every entry of a resource type.
func (s *BadgerStore) ForEach(resourceType string, fn func(*Entry) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(entryKeyPrefix + resourceType + ":")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var entry Entry
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			})
			if err != nil {
				return fmt.Errorf("decode entry: %w", err)
			}
			if err := fn(&entry); err != nil {
				return err
			}
		}
		return nil
	})
}

// Counts tallies entries per resource type across the whole ledger.
func (s *BadgerStore) Counts() (map[string]Counts, error) {
	counts := make(map[string]Counts)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(entryKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var entry Entry
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			})
			if err != nil {
				return fmt.Errorf("decode entry: %w", err)
			}
			tally(counts, &entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return counts, nil
}

// Clear removes all entries, resetting sync progress.
func (s *BadgerStore) Clear() error {
	return s.db.DropPrefix([]byte(entryKeyPrefix))
}

// Close closes the underlying database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
