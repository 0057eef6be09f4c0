// Compatsync - Cross-Server Synchronization for Browser Compatibility Data
// Copyright 2026 The compatsync authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/browsercompat/compatsync

package api

import (
	"context"
	"time"
)

// Sleeper is a cancellable wait. Production clients use SleepContext;
// tests inject a recording fake so retry behavior runs without timers.
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext waits for d or until ctx is done, whichever comes first.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Backoff is the retry policy for transient failures, modeled as a pure
// function of the attempt number so it is independently testable.
type Backoff struct {
	// MaxAttempts is the total number of tries (first attempt included).
	MaxAttempts int

	// BaseDelay is the wait before the first retry; it doubles per attempt.
	BaseDelay time.Duration

	// MaxDelay caps the exponential growth.
	MaxDelay time.Duration
}

// Delay returns the wait before retry number attempt (0-based):
// BaseDelay << attempt, capped at MaxDelay.
func (b Backoff) Delay(attempt int) time.Duration {
	if b.BaseDelay <= 0 {
		return 0
	}
	// Guard the shift: beyond 62 doublings everything saturates anyway.
	if attempt > 62 {
		attempt = 62
	}
	d := b.BaseDelay << uint(attempt)
	if d <= 0 || (b.MaxDelay > 0 && d > b.MaxDelay) {
		return b.MaxDelay
	}
	return d
}
