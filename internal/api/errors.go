// Compatsync - Cross-Server Synchronization for Browser Compatibility Data
// Copyright 2026 The compatsync authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/browsercompat/compatsync

package api

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by lookups when no record matches.
var ErrNotFound = errors.New("record not found")

// TransientError is a failure worth retrying: network errors, timeouts,
// 5xx responses, and rate-limit rejections. Exhausting retries demotes the
// affected record to a retryable ledger failure; the run continues.
type TransientError struct {
	Op     string
	Status int // 0 for network-level failures
	Err    error

	// RetryAfter carries the server's Retry-After hint on 429 responses.
	RetryAfter time.Duration
}

func (e *TransientError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: transient failure (HTTP %d): %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: transient failure: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// FatalError is a 4xx response (other than 400/404/409/422) the client cannot
// recover from by retrying: bad credentials, malformed requests, gone
// endpoints. The affected record fails terminally.
type FatalError struct {
	Op     string
	Status int
	Body   string
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("%s: unrecoverable request (HTTP %d): %s", e.Op, e.Status, e.Body)
}

// ValidationError means the destination rejected the submitted field
// values. Never retried automatically.
type ValidationError struct {
	Op      string
	Status  int
	Details map[string]any
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: destination rejected fields (HTTP %d): %v", e.Op, e.Status, e.Details)
}

// ConflictError signals a uniqueness violation: the record likely already
// exists on the destination and should go through the dedup path. Not a
// failure.
type ConflictError struct {
	Op   string
	Body string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: uniqueness conflict: %s", e.Op, e.Body)
}

// IsTransient reports whether err is (or wraps) a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsConflict reports whether err is (or wraps) a ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
