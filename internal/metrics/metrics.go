// Compatsync - Cross-Server Synchronization for Browser Compatibility Data
// Copyright 2026 The compatsync authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/browsercompat/compatsync

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// API transport metrics
	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compatsync_api_requests_total",
			Help: "Total API requests by endpoint role, method, and result",
		},
		[]string{"endpoint", "method", "result"}, // result: "success", "transient", "fatal", "validation", "conflict", "not_found"
	)

	APIRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compatsync_api_retries_total",
			Help: "Total retry attempts after transient failures",
		},
		[]string{"endpoint"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "compatsync_api_request_duration_seconds",
			Help:    "Duration of API calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint", "method"},
	)

	PagesFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compatsync_pages_fetched_total",
			Help: "Collection pages retrieved from the source",
		},
		[]string{"resource_type"},
	)

	// Circuit breaker metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "compatsync_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"endpoint"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compatsync_circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"endpoint", "from", "to"},
	)

	// Orchestrator metrics
	RecordsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compatsync_records_processed_total",
			Help: "Record outcomes by resource type",
		},
		[]string{"resource_type", "outcome"}, // outcome: "created", "deduplicated", "skipped", "failed_retryable", "failed_terminal"
	)

	DeferredPatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compatsync_deferred_patches_total",
			Help: "Deferred foreign-key patch outcomes",
		},
		[]string{"resource_type", "result"}, // result: "applied", "failed"
	)

	// Ledger metrics
	LedgerWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compatsync_ledger_writes_total",
			Help: "Ledger entries written by status",
		},
		[]string{"status"},
	)
)
