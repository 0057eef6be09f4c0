// Compatsync - Cross-Server Synchronization for Browser Compatibility Data
// Copyright 2026 The compatsync authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/browsercompat/compatsync

package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/browsercompat/compatsync/internal/api"
	"github.com/browsercompat/compatsync/internal/config"
	"github.com/browsercompat/compatsync/internal/identity"
	"github.com/browsercompat/compatsync/internal/ledger"
	"github.com/browsercompat/compatsync/internal/logging"
	"github.com/browsercompat/compatsync/internal/metrics"
	"github.com/browsercompat/compatsync/internal/schema"
)

// SourceClient reads paged collections from the source server.
// Satisfied by *api.Client.
type SourceClient interface {
	FetchPage(ctx context.Context, resourceType, pageToken string, pageSize int) (*api.Page, error)
	Ping(ctx context.Context, resourceType string) error
}

// DestinationClient submits records to the destination server.
// Satisfied by *api.Client.
type DestinationClient interface {
	Create(ctx context.Context, resourceType string, fields map[string]any) (string, error)
	Update(ctx context.Context, resourceType, id string, fields map[string]any) error
	FindByNaturalKey(ctx context.Context, rt schema.ResourceType, naturalKey string, fields map[string]any) (string, error)
	Ping(ctx context.Context, resourceType string) error
}

// patch is a deferred foreign-key assignment, applied after the records
// on both ends of the edge exist on the destination.
type patch struct {
	rt         schema.ResourceType
	naturalKey string
	field      schema.FieldSpec
	targetKey  string
}

// Engine drives one synchronization run.
type Engine struct {
	cfg      config.SyncConfig
	plan     *schema.Plan
	source   SourceClient
	dest     DestinationClient
	resolver *identity.Resolver
	store    ledger.Store

	stats *RunStats

	mu      sync.Mutex
	patches []patch
	aborted error

	cancel context.CancelFunc
}

// NewEngine assembles an engine from its collaborators. The store
// decides durability: a Badger-backed store makes runs resumable, an
// in-memory store (dry runs, tests) does not.
func NewEngine(cfg config.SyncConfig, plan *schema.Plan, source SourceClient, dest DestinationClient, resolver *identity.Resolver, store ledger.Store) *Engine {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.PageSize < 1 {
		cfg.PageSize = 100
	}
	return &Engine{
		cfg:      cfg,
		plan:     plan,
		source:   source,
		dest:     dest,
		resolver: resolver,
		store:    store,
		stats:    newRunStats(plan.Order, cfg.DryRun),
	}
}

// Stats returns a snapshot of the run counters. Safe to call from other
// goroutines while Run is in progress.
func (e *Engine) Stats() Snapshot {
	return e.stats.Snapshot()
}

// Run executes the synchronization: preflight, per-type paging and
// submission in dependency order, then the deferred patch pass. The
// returned snapshot is valid even when the error is non-nil.
func (e *Engine) Run(ctx context.Context) (Snapshot, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	e.cancel = cancel

	defer e.stats.finish()

	if err := e.preflight(ctx); err != nil {
		return e.stats.Snapshot(), err
	}

	if e.cfg.Resume {
		e.preload()
	} else if err := e.store.Clear(); err != nil {
		return e.stats.Snapshot(), fmt.Errorf("clear ledger: %w", err)
	}

	logging.Ctx(ctx).Info().
		Strs("order", e.plan.Order).
		Int("workers", e.cfg.Workers).
		Bool("dry_run", e.cfg.DryRun).
		Bool("resume", e.cfg.Resume).
		Msg("Starting synchronization run")

	for _, name := range e.plan.Order {
		rt, ok := e.plan.Type(name)
		if !ok {
			return e.stats.Snapshot(), &schema.ConfigurationError{Reason: "unknown resource type in plan", Types: []string{name}}
		}
		if err := e.syncType(ctx, rt); err != nil {
			return e.stats.Snapshot(), err
		}
	}

	if err := e.applyPatches(ctx); err != nil {
		return e.stats.Snapshot(), err
	}

	return e.stats.Snapshot(), nil
}

// preflight verifies both endpoints are reachable and credentialed
// before any work starts. Both probes are read-only.
func (e *Engine) preflight(ctx context.Context) error {
	if len(e.plan.Order) == 0 {
		return &schema.ConfigurationError{Reason: "no resource types to sync"}
	}
	probe := e.plan.Order[0]

	if err := e.source.Ping(ctx, probe); err != nil {
		return fmt.Errorf("source endpoint check: %w", err)
	}
	if err := e.dest.Ping(ctx, probe); err != nil {
		return fmt.Errorf("destination endpoint check: %w", err)
	}
	return nil
}

// preload seeds the identity resolver with destination IDs from prior
// runs so resumed records resolve without a network round trip.
func (e *Engine) preload() {
	loaded := 0
	for _, name := range e.plan.Order {
		rt, ok := e.plan.Type(name)
		if !ok {
			continue
		}
		err := e.store.ForEach(name, func(entry *ledger.Entry) error {
			if entry.DestID != "" {
				e.resolver.Register(rt, entry.NaturalKey, entry.DestID)
				loaded++
			}
			return nil
		})
		if err != nil {
			logging.Warn().Err(err).Str("resource_type", name).Msg("Failed to preload ledger entries")
		}
	}
	if loaded > 0 {
		logging.Info().Int("identities", loaded).Msg("Preloaded identities from ledger")
	}
}

// syncType pages one collection from the source and feeds the records
// to a bounded worker pool. Pagination stays sequential because each
// page token comes from the previous response.
func (e *Engine) syncType(ctx context.Context, rt schema.ResourceType) error {
	e.stats.setCurrent(rt.Name)
	logging.Ctx(ctx).Info().Str("resource_type", rt.Name).Msg("Syncing resource type")

	jobs := make(chan schema.Record)
	var wg sync.WaitGroup
	for i := 0; i < e.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for rec := range jobs {
				if err := e.processRecord(ctx, rt, rec); err != nil {
					e.abort(err)
				}
			}
		}()
	}

	var fetchErr error
	token := ""
feed:
	for {
		page, err := e.source.FetchPage(ctx, rt.Name, token, e.cfg.PageSize)
		if err != nil {
			fetchErr = fmt.Errorf("fetch %s: %w", rt.Name, err)
			break
		}
		e.stats.add(rt.Name, func(ts *TypeStats) { ts.Fetched += len(page.Records) })

		for _, rec := range page.Records {
			select {
			case jobs <- rec:
			case <-ctx.Done():
				fetchErr = ctx.Err()
				break feed
			}
		}
		if page.Next == "" {
			break
		}
		token = page.Next
	}
	close(jobs)
	wg.Wait()

	if err := e.abortedErr(); err != nil {
		return err
	}
	// An abort elsewhere cancels the context; surface the original
	// cause rather than the cancellation.
	if fetchErr != nil && errors.Is(fetchErr, context.Canceled) && ctx.Err() != nil {
		fetchErr = ctx.Err()
	}
	return fetchErr
}

// abort stops the run on the first fatal error; later aborts are
// dropped.
func (e *Engine) abort(err error) {
	e.mu.Lock()
	if e.aborted == nil {
		e.aborted = err
		if e.cancel != nil {
			e.cancel()
		}
	}
	e.mu.Unlock()
}

func (e *Engine) abortedErr() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.aborted
}

// processRecord syncs one record end to end. It returns an error only
// when the whole run must stop (fatal response, configuration error, or
// cancellation); per-record failures are recorded and swallowed.
func (e *Engine) processRecord(ctx context.Context, rt schema.ResourceType, rec schema.Record) error {
	naturalKey, err := rt.NaturalKeyOf(rec)
	if err != nil {
		// Without a natural key the record cannot be deduplicated or
		// resumed; ledger it under its source ID so the failure is
		// still visible.
		e.recordFailure(rt, "src:"+rec.ID, "", false, fmt.Sprintf("natural key: %v", err))
		return nil
	}

	if entry, gerr := e.store.Get(rt.Name, naturalKey); gerr == nil {
		switch {
		case entry.Done():
			e.recordSkip(rt, naturalKey)
			return nil
		case !entry.Retryable:
			// Terminal failures stay failed until the operator resets
			// the ledger.
			e.recordSkip(rt, naturalKey)
			return nil
		case entry.DestID != "":
			// The create landed in an earlier run; only its deferred
			// foreign keys are still pending.
			e.resolver.Register(rt, naturalKey, entry.DestID)
			e.queuePatches(rt, naturalKey, rec)
			e.recordSkip(rt, naturalKey)
			return nil
		}
		// Retryable without a destination ID: process from scratch.
	}

	fields, pendingPatch, ferr := e.buildSubmission(ctx, rt, rec, naturalKey)
	if ferr != nil {
		return ferr
	}
	if fields == nil {
		// buildSubmission already recorded the failure.
		return nil
	}

	if e.cfg.DryRun {
		return e.processDryRun(ctx, rt, naturalKey, fields, pendingPatch)
	}

	// Dedup check, then reservation. The loop re-checks after waiting
	// on another worker's in-flight create of the same natural key.
	// The submission fields feed the server-side lookup: composite
	// natural keys filter by their (already remapped) foreign keys.
	var claimed bool
	for !claimed {
		destID, rerr := e.resolver.Resolve(ctx, rt, naturalKey, fields)
		if rerr == nil {
			e.recordDone(rt, naturalKey, destID, "deduplicated", pendingPatch)
			return nil
		}
		if !errors.Is(rerr, identity.ErrNotFound) {
			if abortClass(rerr) {
				return rerr
			}
			e.recordFailure(rt, naturalKey, "", true, fmt.Sprintf("lookup: %v", rerr))
			return nil
		}

		var id string
		id, claimed, rerr = e.resolver.Reserve(ctx, rt, naturalKey)
		if rerr != nil {
			return rerr
		}
		if !claimed && id != "" {
			e.recordDone(rt, naturalKey, id, "deduplicated", pendingPatch)
			return nil
		}
	}

	return e.create(ctx, rt, naturalKey, fields, pendingPatch)
}

// buildSubmission prepares the field map for the destination: deferred
// foreign keys are stripped and queued as patches, the remaining
// foreign keys are remapped from natural keys to destination IDs.
// A nil map with a nil error means the record failed and was recorded.
func (e *Engine) buildSubmission(ctx context.Context, rt schema.ResourceType, rec schema.Record, naturalKey string) (map[string]any, bool, error) {
	fields := make(map[string]any, len(rec.Fields))
	for k, v := range rec.Fields {
		fields[k] = v
	}

	pendingPatch := e.queuePatches(rt, naturalKey, rec)
	for _, f := range e.plan.DeferredFields(rt.Name) {
		delete(fields, f.Name)
	}

	for _, f := range rt.Fields {
		if f.Target == "" || e.plan.IsDeferred(rt.Name, f.Name) {
			continue
		}

		refKey, ok := rec.FieldRef(f.Name)
		if !ok || refKey == "" {
			if f.Required {
				e.recordFailure(rt, naturalKey, "", false, fmt.Sprintf("missing required foreign key %q", f.Name))
				return nil, false, nil
			}
			delete(fields, f.Name)
			continue
		}

		target, ok := e.plan.Type(f.Target)
		if !ok {
			return nil, false, &schema.ConfigurationError{
				Reason: fmt.Sprintf("field %s.%s references undeclared type", rt.Name, f.Name),
				Types:  []string{f.Target},
			}
		}

		destID, rerr := e.resolver.Resolve(ctx, target, refKey, nil)
		switch {
		case rerr == nil:
			fields[f.Name] = destID

		case errors.Is(rerr, identity.ErrNotFound):
			// A failed dependency fails the record retryably even when
			// the field is optional: once the dependency recovers, a
			// resumed run syncs the record with the reference intact
			// instead of permanently without it. Only references whose
			// target is absent from both servers are dropped.
			if depEntry, derr := e.store.Get(target.Name, refKey); derr == nil && !depEntry.Done() {
				e.recordFailure(rt, naturalKey, "", true,
					fmt.Sprintf("dependency %s %q failed", target.Name, refKey))
				return nil, false, nil
			}
			if !f.Required {
				// Dangling optional reference; sync the record without it.
				delete(fields, f.Name)
				continue
			}
			// The dependency type was synced first and did not fail,
			// yet the key is unknown: the plan ordering is broken.
			return nil, false, &schema.ConfigurationError{
				Reason: fmt.Sprintf("unresolved required foreign key %s.%s=%q after syncing %s",
					rt.Name, f.Name, refKey, target.Name),
				Types: []string{rt.Name, target.Name},
			}

		default:
			if abortClass(rerr) {
				return nil, false, rerr
			}
			e.recordFailure(rt, naturalKey, "", true, fmt.Sprintf("resolve %s %q: %v", target.Name, refKey, rerr))
			return nil, false, nil
		}
	}

	return fields, pendingPatch, nil
}

// processDryRun classifies a record without submitting it. Destination
// lookups still run (read-only) so the dedup counts are realistic;
// would-be creates get placeholder IDs so dependents can resolve them.
func (e *Engine) processDryRun(ctx context.Context, rt schema.ResourceType, naturalKey string, fields map[string]any, pendingPatch bool) error {
	destID, err := e.resolver.Resolve(ctx, rt, naturalKey, fields)
	switch {
	case err == nil:
		e.recordDone(rt, naturalKey, destID, "deduplicated", pendingPatch)
	case errors.Is(err, identity.ErrNotFound):
		e.resolver.Register(rt, naturalKey, "dry-run:"+naturalKey)
		e.recordDone(rt, naturalKey, "dry-run:"+naturalKey, "created", pendingPatch)
	default:
		if abortClass(err) {
			return err
		}
		e.recordFailure(rt, naturalKey, "", true, fmt.Sprintf("lookup: %v", err))
	}
	return nil
}

// create submits the record under a held reservation and settles it.
func (e *Engine) create(ctx context.Context, rt schema.ResourceType, naturalKey string, fields map[string]any, pendingPatch bool) error {
	destID, err := e.dest.Create(ctx, rt.Name, fields)
	switch {
	case err == nil:
		e.resolver.Fulfill(rt, naturalKey, destID)
		e.recordDone(rt, naturalKey, destID, "created", pendingPatch)
		return nil

	case api.IsConflict(err):
		// The record appeared between our lookup and the create, made
		// by a writer outside this run. Adopt it.
		id, lerr := e.dest.FindByNaturalKey(ctx, rt, naturalKey, fields)
		if lerr != nil {
			e.resolver.Release(rt, naturalKey)
			if abortClass(lerr) {
				return lerr
			}
			e.recordFailure(rt, naturalKey, "", true,
				fmt.Sprintf("create conflicted but natural key not found: %v", lerr))
			return nil
		}
		e.resolver.Fulfill(rt, naturalKey, id)
		e.recordDone(rt, naturalKey, id, "deduplicated", pendingPatch)
		return nil

	case api.IsValidation(err):
		e.resolver.Release(rt, naturalKey)
		e.recordFailure(rt, naturalKey, "", false, err.Error())
		return nil

	case api.IsTransient(err):
		e.resolver.Release(rt, naturalKey)
		e.recordFailure(rt, naturalKey, "", true, err.Error())
		return nil

	default:
		// Fatal responses and cancellation stop the run.
		e.resolver.Release(rt, naturalKey)
		return err
	}
}

// queuePatches registers deferred foreign-key patches for a record and
// reports whether any were queued.
func (e *Engine) queuePatches(rt schema.ResourceType, naturalKey string, rec schema.Record) bool {
	queued := false
	for _, f := range e.plan.DeferredFields(rt.Name) {
		refKey, ok := rec.FieldRef(f.Name)
		if !ok || refKey == "" {
			continue
		}
		e.mu.Lock()
		e.patches = append(e.patches, patch{rt: rt, naturalKey: naturalKey, field: f, targetKey: refKey})
		e.mu.Unlock()
		queued = true
	}
	return queued
}

// applyPatches runs the deferred patch pass after every type has been
// synced, so both ends of each cycle-broken edge exist.
func (e *Engine) applyPatches(ctx context.Context) error {
	e.mu.Lock()
	patches := e.patches
	e.patches = nil
	e.mu.Unlock()

	if len(patches) == 0 {
		return nil
	}
	e.stats.setCurrent("deferred patches")
	logging.Info().Int("patches", len(patches)).Msg("Applying deferred foreign keys")

	jobs := make(chan patch)
	var wg sync.WaitGroup
	for i := 0; i < e.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for p := range jobs {
				if err := e.applyPatch(ctx, p); err != nil {
					e.abort(err)
				}
			}
		}()
	}

feed:
	for _, p := range patches {
		select {
		case jobs <- p:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	if err := e.abortedErr(); err != nil {
		return err
	}
	return ctx.Err()
}

// applyPatch assigns one deferred foreign key. Both ends resolve from
// the cache the run just populated.
func (e *Engine) applyPatch(ctx context.Context, p patch) error {
	ownID, err := e.resolver.Resolve(ctx, p.rt, p.naturalKey, nil)
	if err != nil {
		// The record itself never reached the destination; its ledger
		// entry already records the failure.
		e.patchFailed(p, fmt.Sprintf("record not created: %v", err))
		return nil
	}

	target, ok := e.plan.Type(p.field.Target)
	if !ok {
		return &schema.ConfigurationError{
			Reason: fmt.Sprintf("deferred field %s.%s references undeclared type", p.rt.Name, p.field.Name),
			Types:  []string{p.field.Target},
		}
	}
	targetID, err := e.resolver.Resolve(ctx, target, p.targetKey, nil)
	if err != nil {
		// Target failed or is missing; keep the create and mark the
		// record retryable so the next run retries just the patch.
		e.storePatchFailure(p, ownID, true, fmt.Sprintf("deferred %s %q unresolved: %v", target.Name, p.targetKey, err))
		e.patchFailed(p, "target unresolved")
		return nil
	}

	if e.cfg.DryRun {
		e.patchApplied(p)
		return nil
	}

	err = e.dest.Update(ctx, p.rt.Name, ownID, map[string]any{p.field.Name: targetID})
	switch {
	case err == nil:
		e.storeEntry(&ledger.Entry{
			ResourceType: p.rt.Name,
			NaturalKey:   p.naturalKey,
			Status:       ledger.StatusDone,
			DestID:       ownID,
		})
		e.patchApplied(p)
		return nil

	case api.IsValidation(err):
		e.storePatchFailure(p, ownID, false, err.Error())
		e.patchFailed(p, err.Error())
		return nil

	case api.IsTransient(err) || errors.Is(err, api.ErrNotFound):
		e.storePatchFailure(p, ownID, true, err.Error())
		e.patchFailed(p, err.Error())
		return nil

	default:
		return err
	}
}

// storePatchFailure ledgers a record whose create landed but whose
// deferred foreign key did not, and lists it in the run's failures.
func (e *Engine) storePatchFailure(p patch, ownID string, retryable bool, reason string) {
	e.storeEntry(&ledger.Entry{
		ResourceType: p.rt.Name,
		NaturalKey:   p.naturalKey,
		Status:       ledger.StatusFailed,
		Retryable:    retryable,
		DestID:       ownID,
		Reason:       reason,
	})
	e.stats.addFailure(Failure{ResourceType: p.rt.Name, NaturalKey: p.naturalKey, Retryable: retryable, Reason: reason})
}

// recordDone writes the outcome for a record that is present on the
// destination. Records still waiting on a deferred patch stay retryable
// (with their destination ID) until the patch pass completes them.
func (e *Engine) recordDone(rt schema.ResourceType, naturalKey, destID, outcome string, pendingPatch bool) {
	entry := &ledger.Entry{
		ResourceType: rt.Name,
		NaturalKey:   naturalKey,
		Status:       ledger.StatusDone,
		DestID:       destID,
	}
	if pendingPatch {
		entry.Status = ledger.StatusFailed
		entry.Retryable = true
		entry.Reason = "deferred foreign key pending"
	}
	e.storeEntry(entry)

	e.stats.add(rt.Name, func(ts *TypeStats) {
		if outcome == "created" {
			ts.Created++
		} else {
			ts.Deduplicated++
		}
	})
	metrics.RecordsProcessed.WithLabelValues(rt.Name, outcome).Inc()
	logging.Debug().
		Str("resource_type", rt.Name).
		Str("natural_key", naturalKey).
		Str("dest_id", destID).
		Str("outcome", outcome).
		Msg("Record synced")
}

// recordSkip counts a record the ledger says needs no work this run.
func (e *Engine) recordSkip(rt schema.ResourceType, naturalKey string) {
	e.stats.add(rt.Name, func(ts *TypeStats) { ts.Skipped++ })
	metrics.RecordsProcessed.WithLabelValues(rt.Name, "skipped").Inc()
	logging.Debug().
		Str("resource_type", rt.Name).
		Str("natural_key", naturalKey).
		Msg("Record skipped")
}

// recordFailure ledgers and counts a per-record failure.
func (e *Engine) recordFailure(rt schema.ResourceType, naturalKey, destID string, retryable bool, reason string) {
	e.storeEntry(&ledger.Entry{
		ResourceType: rt.Name,
		NaturalKey:   naturalKey,
		Status:       ledger.StatusFailed,
		Retryable:    retryable,
		DestID:       destID,
		Reason:       reason,
	})

	outcome := "failed_terminal"
	if retryable {
		outcome = "failed_retryable"
	}
	e.stats.addFailure(Failure{ResourceType: rt.Name, NaturalKey: naturalKey, Retryable: retryable, Reason: reason})
	e.stats.add(rt.Name, func(ts *TypeStats) {
		if retryable {
			ts.FailedRetryable++
		} else {
			ts.FailedTerminal++
		}
	})
	metrics.RecordsProcessed.WithLabelValues(rt.Name, outcome).Inc()
	logging.Warn().
		Str("resource_type", rt.Name).
		Str("natural_key", naturalKey).
		Bool("retryable", retryable).
		Str("reason", reason).
		Msg("Record failed")
}

func (e *Engine) patchApplied(p patch) {
	e.stats.add(p.rt.Name, func(ts *TypeStats) { ts.PatchesApplied++ })
	metrics.DeferredPatches.WithLabelValues(p.rt.Name, "applied").Inc()
}

func (e *Engine) patchFailed(p patch, reason string) {
	e.stats.add(p.rt.Name, func(ts *TypeStats) { ts.PatchesFailed++ })
	metrics.DeferredPatches.WithLabelValues(p.rt.Name, "failed").Inc()
	logging.Warn().
		Str("resource_type", p.rt.Name).
		Str("natural_key", p.naturalKey).
		Str("field", p.field.Name).
		Str("reason", reason).
		Msg("Deferred patch failed")
}

func (e *Engine) storeEntry(entry *ledger.Entry) {
	if err := e.store.Put(entry); err != nil {
		logging.Error().Err(err).
			Str("resource_type", entry.ResourceType).
			Str("natural_key", entry.NaturalKey).
			Msg("Failed to write ledger entry")
	}
}

// abortClass reports whether an error must stop the whole run rather
// than fail a single record.
func abortClass(err error) bool {
	var fatal *api.FatalError
	var conf *schema.ConfigurationError
	return errors.As(err, &fatal) ||
		errors.As(err, &conf) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
