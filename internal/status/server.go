// Compatsync - Cross-Server Synchronization for Browser Compatibility Data
// Copyright 2026 The compatsync authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/browsercompat/compatsync

package status

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"

	"github.com/browsercompat/compatsync/internal/logging"
	syncengine "github.com/browsercompat/compatsync/internal/sync"
)

const shutdownTimeout = 5 * time.Second

// ProgressSource provides the current run counters. Satisfied by
// *sync.Engine.
type ProgressSource interface {
	Stats() syncengine.Snapshot
}

// Server exposes run progress over HTTP for the duration of a sync.
type Server struct {
	addr     string
	progress ProgressSource
	server   *http.Server
}

// NewServer builds the status server for the given listen address.
func NewServer(addr string, progress ProgressSource) *Server {
	s := &Server{addr: addr, progress: progress}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.handleHealthz)
	r.Get("/progress", s.handleProgress)
	r.Handle("/metrics", promhttp.Handler())

	s.server = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleProgress(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.progress.Stats()); err != nil {
		logging.Warn().Err(err).Msg("Failed to encode progress snapshot")
	}
}

// Serve implements suture.Service: it runs ListenAndServe until the
// context is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	logging.Info().Str("addr", s.addr).Msg("Status server listening")

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("status server: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("status server shutdown: %w", err)
		}
		<-errCh
		return ctx.Err()
	}
}

// String identifies the service in supervisor logs.
func (s *Server) String() string { return "status-server" }

// Supervise runs the server under a suture supervisor in the
// background. The returned function stops it and blocks until shutdown
// completes.
func Supervise(ctx context.Context, s *Server, logger *slog.Logger) func() {
	handler := &sutureslog.Handler{Logger: logger}
	sup := suture.New("compatsync", suture.Spec{
		EventHook: handler.MustHook(),
	})
	sup.Add(s)

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := sup.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logging.Warn().Err(err).Msg("Status supervisor exited")
		}
	}()

	return func() {
		cancel()
		<-done
	}
}
