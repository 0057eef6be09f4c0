// Compatsync - Cross-Server Synchronization for Browser Compatibility Data
// Copyright 2026 The compatsync authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/browsercompat/compatsync

package sync

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// TypeStats counts per-record outcomes for one resource type.
type TypeStats struct {
	Fetched         int `json:"fetched"`
	Created         int `json:"created"`
	Deduplicated    int `json:"deduplicated"`
	Skipped         int `json:"skipped"`
	FailedRetryable int `json:"failed_retryable"`
	FailedTerminal  int `json:"failed_terminal"`
	PatchesApplied  int `json:"patches_applied"`
	PatchesFailed   int `json:"patches_failed"`
}

// Failed returns the total failure count.
func (s TypeStats) Failed() int { return s.FailedRetryable + s.FailedTerminal }

// Failure identifies one record that did not reach the destination,
// with the reason it failed.
type Failure struct {
	ResourceType string `json:"resource_type"`
	NaturalKey   string `json:"natural_key"`
	Retryable    bool   `json:"retryable"`
	Reason       string `json:"reason"`
}

// RunStats is the aggregate outcome of one synchronization run. All
// methods are safe for concurrent use; the Engine updates it from
// worker goroutines while the status server reads snapshots.
type RunStats struct {
	mu          sync.Mutex
	startTime   time.Time
	endTime     time.Time
	dryRun      bool
	currentType string
	order       []string
	perType     map[string]*TypeStats
	failures    []Failure
}

// Snapshot is a point-in-time copy of RunStats for reporting.
type Snapshot struct {
	StartTime   time.Time            `json:"start_time"`
	EndTime     time.Time            `json:"end_time,omitempty"`
	DryRun      bool                 `json:"dry_run"`
	CurrentType string               `json:"current_type,omitempty"`
	Order       []string             `json:"order"`
	PerType     map[string]TypeStats `json:"per_type"`
	Failures    []Failure            `json:"failures,omitempty"`
}

func newRunStats(order []string, dryRun bool) *RunStats {
	perType := make(map[string]*TypeStats, len(order))
	for _, name := range order {
		perType[name] = &TypeStats{}
	}
	return &RunStats{
		startTime: time.Now(),
		dryRun:    dryRun,
		order:     order,
		perType:   perType,
	}
}

func (r *RunStats) typeStats(name string) *TypeStats {
	if ts, ok := r.perType[name]; ok {
		return ts
	}
	ts := &TypeStats{}
	r.perType[name] = ts
	return ts
}

func (r *RunStats) setCurrent(name string) {
	r.mu.Lock()
	r.currentType = name
	r.mu.Unlock()
}

func (r *RunStats) finish() {
	r.mu.Lock()
	r.endTime = time.Now()
	r.currentType = ""
	r.mu.Unlock()
}

func (r *RunStats) add(name string, update func(*TypeStats)) {
	r.mu.Lock()
	update(r.typeStats(name))
	r.mu.Unlock()
}

func (r *RunStats) addFailure(f Failure) {
	r.mu.Lock()
	r.failures = append(r.failures, f)
	r.mu.Unlock()
}

// Snapshot returns a copy of the current counters.
func (r *RunStats) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	perType := make(map[string]TypeStats, len(r.perType))
	for name, ts := range r.perType {
		perType[name] = *ts
	}
	return Snapshot{
		StartTime:   r.startTime,
		EndTime:     r.endTime,
		DryRun:      r.dryRun,
		CurrentType: r.currentType,
		Order:       append([]string(nil), r.order...),
		PerType:     perType,
		Failures:    append([]Failure(nil), r.failures...),
	}
}

// Totals sums the counters across all resource types.
func (s Snapshot) Totals() TypeStats {
	var total TypeStats
	for _, ts := range s.PerType {
		total.Fetched += ts.Fetched
		total.Created += ts.Created
		total.Deduplicated += ts.Deduplicated
		total.Skipped += ts.Skipped
		total.FailedRetryable += ts.FailedRetryable
		total.FailedTerminal += ts.FailedTerminal
		total.PatchesApplied += ts.PatchesApplied
		total.PatchesFailed += ts.PatchesFailed
	}
	return total
}

// Clean reports whether the run completed without any failures.
func (s Snapshot) Clean() bool {
	t := s.Totals()
	return t.Failed() == 0 && t.PatchesFailed == 0
}

// Duration returns the elapsed run time.
func (s Snapshot) Duration() time.Duration {
	if s.EndTime.IsZero() {
		return time.Since(s.StartTime)
	}
	return s.EndTime.Sub(s.StartTime)
}

// Summary renders a human-readable per-type table of the run outcome.
func (s Snapshot) Summary() string {
	var b strings.Builder
	if s.DryRun {
		b.WriteString("Dry run (no records were submitted)\n")
	}
	fmt.Fprintf(&b, "%-16s %8s %8s %8s %8s %8s %8s\n",
		"type", "fetched", "created", "dedup", "skipped", "failed", "patched")

	names := s.Order
	if len(names) == 0 {
		names = make([]string, 0, len(s.PerType))
		for name := range s.PerType {
			names = append(names, name)
		}
		sort.Strings(names)
	}
	for _, name := range names {
		ts := s.PerType[name]
		fmt.Fprintf(&b, "%-16s %8d %8d %8d %8d %8d %8d\n",
			name, ts.Fetched, ts.Created, ts.Deduplicated, ts.Skipped, ts.Failed(), ts.PatchesApplied)
	}

	total := s.Totals()
	fmt.Fprintf(&b, "%-16s %8d %8d %8d %8d %8d %8d\n",
		"total", total.Fetched, total.Created, total.Deduplicated, total.Skipped, total.Failed(), total.PatchesApplied)
	fmt.Fprintf(&b, "duration: %s\n", s.Duration().Round(time.Millisecond))

	if len(s.Failures) > 0 {
		failures := append([]Failure(nil), s.Failures...)
		sort.Slice(failures, func(i, j int) bool {
			if failures[i].ResourceType != failures[j].ResourceType {
				return failures[i].ResourceType < failures[j].ResourceType
			}
			return failures[i].NaturalKey < failures[j].NaturalKey
		})
		b.WriteString("failed records:\n")
		for _, f := range failures {
			kind := "terminal"
			if f.Retryable {
				kind = "retryable"
			}
			fmt.Fprintf(&b, "  %s %s (%s): %s\n", f.ResourceType, f.NaturalKey, kind, f.Reason)
		}
	}

	if total.FailedRetryable > 0 {
		fmt.Fprintf(&b, "%d retryable failures; run again with --resume to retry them\n", total.FailedRetryable)
	}
	if total.FailedTerminal > 0 {
		fmt.Fprintf(&b, "%d terminal failures; inspect them with the status command\n", total.FailedTerminal)
	}
	return b.String()
}
