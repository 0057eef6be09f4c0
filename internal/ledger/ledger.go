// Compatsync - Cross-Server Synchronization for Browser Compatibility Data
// Copyright 2026 The compatsync authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/browsercompat/compatsync

package ledger

import (
	"errors"
	"time"
)

// Status classifies a ledger entry.
type Status string

const (
	// StatusDone marks a record as present on the destination.
	StatusDone Status = "done"

	// StatusFailed marks a record that could not be synced. The
	// Retryable flag distinguishes transient from terminal failures.
	StatusFailed Status = "failed"
)

// ErrNotFound is returned when no ledger entry exists for a record.
var ErrNotFound = errors.New("ledger entry not found")

// Entry is the durable outcome of syncing one record.
type Entry struct {
	ResourceType string    `json:"resource_type"`
	NaturalKey   string    `json:"natural_key"`
	Status       Status    `json:"status"`
	DestID       string    `json:"dest_id,omitempty"`
	Retryable    bool      `json:"retryable,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Done reports whether the entry marks a completed record.
func (e *Entry) Done() bool { return e.Status == StatusDone }

// Counts aggregates ledger entries per resource type.
type Counts struct {
	Done            int `json:"done"`
	FailedRetryable int `json:"failed_retryable"`
	FailedTerminal  int `json:"failed_terminal"`
}

// Store persists sync outcomes keyed by resource type and natural key.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the entry for a record, or ErrNotFound.
	Get(resourceType, naturalKey string) (*Entry, error)

	// Put writes an entry, overwriting any previous one for the same
	// record.
	Put(entry *Entry) error

	// ForEach calls fn for every entry of a resource type. Iteration
	// stops on the first error fn returns.
	ForEach(resourceType string, fn func(*Entry) error) error

	// Counts tallies entries per resource type across the whole ledger.
	Counts() (map[string]Counts, error)

	// Clear removes all entries, resetting sync progress.
	Clear() error

	// Close releases the underlying storage.
	Close() error
}

func tally(counts map[string]Counts, e *Entry) {
	c := counts[e.ResourceType]
	switch {
	case e.Status == StatusDone:
		c.Done++
	case e.Retryable:
		c.FailedRetryable++
	default:
		c.FailedTerminal++
	}
	counts[e.ResourceType] = c
}
