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
	"sync/atomic"
	"testing"

	"github.com/browsercompat/compatsync/internal/api"
	"github.com/browsercompat/compatsync/internal/schema"
)

var browsers = schema.ResourceType{Name: "browsers", NaturalKeyFields: []string{"slug"}, LookupParams: map[string]string{"slug": "slug"}}

// fakeLookup answers FindByNaturalKey from a map and counts calls.
type fakeLookup struct {
	mu    sync.Mutex
	ids   map[string]string
	err   error
	calls atomic.Int32
}

func (f *fakeLookup) FindByNaturalKey(_ context.Context, rt schema.ResourceType, naturalKey string, _ map[string]any) (string, error) {
	f.calls.Add(1)
	if f.err != nil {
		return "", f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.ids[rt.Name+":"+naturalKey]
	if !ok {
		return "", fmt.Errorf("%s %q: %w", rt.Name, naturalKey, api.ErrNotFound)
	}
	return id, nil
}

func TestResolveCachesServerAnswers(t *testing.T) {
	lookup := &fakeLookup{ids: map[string]string{"browsers:firefox": "11"}}
	r := NewResolver(lookup)

	for i := 0; i < 3; i++ {
		id, err := r.Resolve(context.Background(), browsers, "firefox", nil)
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		if id != "11" {
			t.Fatalf("Resolve() = %q, want 11", id)
		}
	}
	if got := lookup.calls.Load(); got != 1 {
		t.Errorf("lookup called %d times, want 1 (cached after first)", got)
	}
}

func TestResolveCachesMisses(t *testing.T) {
	lookup := &fakeLookup{ids: map[string]string{}}
	r := NewResolver(lookup)

	for i := 0; i < 3; i++ {
		_, err := r.Resolve(context.Background(), browsers, "netscape", nil)
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("Resolve() error = %v, want ErrNotFound", err)
		}
	}
	if got := lookup.calls.Load(); got != 1 {
		t.Errorf("lookup called %d times, want 1 (negative result cached)", got)
	}
}

func TestResolvePropagatesLookupErrors(t *testing.T) {
	transient := &api.TransientError{Op: "GET browsers", Err: errors.New("boom")}
	lookup := &fakeLookup{err: transient}
	r := NewResolver(lookup)

	_, err := r.Resolve(context.Background(), browsers, "firefox", nil)
	if !api.IsTransient(err) {
		t.Fatalf("Resolve() error = %v, want transient passed through", err)
	}
	// Errors are not cached; the next call retries the lookup.
	_, _ = r.Resolve(context.Background(), browsers, "firefox", nil)
	if got := lookup.calls.Load(); got != 2 {
		t.Errorf("lookup called %d times, want 2 (errors not cached)", got)
	}
}

func TestResolveWithoutLookup(t *testing.T) {
	r := NewResolver(nil)
	_, err := r.Resolve(context.Background(), browsers, "firefox", nil)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Resolve() error = %v, want ErrNotFound", err)
	}

	r.Register(browsers, "firefox", "5")
	id, err := r.Resolve(context.Background(), browsers, "firefox", nil)
	if err != nil || id != "5" {
		t.Errorf("Resolve() after Register = %q, %v; want 5, nil", id, err)
	}
}

func TestRegisterOverridesNegativeCache(t *testing.T) {
	lookup := &fakeLookup{ids: map[string]string{}}
	r := NewResolver(lookup)

	if _, err := r.Resolve(context.Background(), browsers, "firefox", nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Resolve() error = %v, want ErrNotFound", err)
	}

	r.Register(browsers, "firefox", "8")
	id, err := r.Resolve(context.Background(), browsers, "firefox", nil)
	if err != nil || id != "8" {
		t.Errorf("Resolve() = %q, %v; want 8, nil", id, err)
	}
}

func TestReserveFirstCallerClaims(t *testing.T) {
	r := NewResolver(nil)

	id, claimed, err := r.Reserve(context.Background(), browsers, "firefox")
	if err != nil {
		t.Fatalf("Reserve() error = %v", err)
	}
	if !claimed || id != "" {
		t.Fatalf("Reserve() = (%q, %v), want claimed with no id", id, claimed)
	}

	r.Fulfill(browsers, "firefox", "21")

	id, claimed, err = r.Reserve(context.Background(), browsers, "firefox")
	if err != nil {
		t.Fatalf("Reserve() after Fulfill error = %v", err)
	}
	if claimed || id != "21" {
		t.Errorf("Reserve() = (%q, %v), want cached id 21 without claim", id, claimed)
	}
}

func TestReserveBlocksUntilFulfilled(t *testing.T) {
	r := NewResolver(nil)

	_, claimed, err := r.Reserve(context.Background(), browsers, "firefox")
	if err != nil || !claimed {
		t.Fatalf("Reserve() = claimed %v, err %v; want first claim", claimed, err)
	}

	results := make(chan string, 4)
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, claimed, err := r.Reserve(context.Background(), browsers, "firefox")
			if err != nil {
				t.Errorf("concurrent Reserve() error = %v", err)
				return
			}
			if claimed {
				t.Error("concurrent Reserve() claimed while reservation held")
				return
			}
			results <- id
		}()
	}

	r.Fulfill(browsers, "firefox", "33")
	wg.Wait()
	close(results)

	for id := range results {
		if id != "33" {
			t.Errorf("blocked Reserve() = %q, want 33", id)
		}
	}
}

func TestReleaseHandsClaimToWaiter(t *testing.T) {
	r := NewResolver(nil)

	_, claimed, err := r.Reserve(context.Background(), browsers, "firefox")
	if err != nil || !claimed {
		t.Fatalf("Reserve() = claimed %v, err %v; want first claim", claimed, err)
	}

	claimedCh := make(chan bool, 1)
	go func() {
		_, claimed, err := r.Reserve(context.Background(), browsers, "firefox")
		if err != nil {
			t.Errorf("second Reserve() error = %v", err)
		}
		claimedCh <- claimed
	}()

	r.Release(browsers, "firefox")

	if got := <-claimedCh; !got {
		t.Error("waiter did not claim after Release")
	}
}

func TestReserveHonorsCancellation(t *testing.T) {
	r := NewResolver(nil)

	_, claimed, err := r.Reserve(context.Background(), browsers, "firefox")
	if err != nil || !claimed {
		t.Fatalf("Reserve() = claimed %v, err %v; want first claim", claimed, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, _, err := r.Reserve(ctx, browsers, "firefox")
		errCh <- err
	}()

	cancel()
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Errorf("blocked Reserve() error = %v, want context.Canceled", err)
	}
}
