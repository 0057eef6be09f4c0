// Compatsync - Cross-Server Synchronization for Browser Compatibility Data
// Copyright 2026 The compatsync authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/browsercompat/compatsync

package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/browsercompat/compatsync/internal/api"
	"github.com/browsercompat/compatsync/internal/config"
	"github.com/browsercompat/compatsync/internal/identity"
	"github.com/browsercompat/compatsync/internal/ledger"
	"github.com/browsercompat/compatsync/internal/logging"
	"github.com/browsercompat/compatsync/internal/schema"
	"github.com/browsercompat/compatsync/internal/status"
	syncengine "github.com/browsercompat/compatsync/internal/sync"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a synchronization from the source to the destination",
	Long: `Run fetches every resource type from the source in dependency order
and submits the records to the destination. Progress is journaled to
the ledger, so an interrupted run can be continued with --resume.`,
	RunE: runSync,
}

func init() {
	f := runCmd.Flags()
	f.String("source-url", "", "source API base URL (overrides config)")
	f.String("source-token", "", "source API bearer token")
	f.String("dest-url", "", "destination API base URL (overrides config)")
	f.String("dest-token", "", "destination API bearer token")
	f.Bool("dry-run", false, "classify records without writing to the destination")
	f.Bool("resume", false, "skip records the ledger marks done and retry retryable failures")
	f.Int("workers", 0, "concurrent record submissions per resource type")
	f.Int("page-size", 0, "collection page size requested from the source")
	f.String("status-listen", "", "serve /healthz, /progress, and /metrics on this address during the run")
	f.Bool("json", false, "print the run summary as JSON instead of a table")

	rootCmd.AddCommand(runCmd)
}

func runSync(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	applyRunFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logging.ContextWithRunID(ctx, logging.NewRunID())

	plan, err := schema.Resolve(schema.DefaultTypes())
	if err != nil {
		return err
	}

	source := api.NewClient("source", &cfg.Source)
	dest := api.NewClient("destination", &cfg.Destination)

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			logging.Warn().Err(cerr).Msg("Failed to close ledger")
		}
	}()

	engine := syncengine.NewEngine(cfg.Sync, plan, source, dest, identity.NewResolver(dest), store)

	if cfg.Status.Listen != "" {
		srv := status.NewServer(cfg.Status.Listen, engine)
		stopStatus := status.Supervise(ctx, srv, logging.NewSlogLogger())
		defer stopStatus()
	}

	snap, runErr := engine.Run(ctx)
	printSummary(cmd, snap)

	if runErr != nil {
		return fmt.Errorf("run aborted: %w", runErr)
	}
	// Retryable failures leave the exit code at 0: the summary tells the
	// operator to resume, and a retry may well succeed. Terminal failures
	// need intervention.
	if total := snap.Totals(); total.FailedTerminal > 0 {
		return fmt.Errorf("completed with %d terminal failures", total.FailedTerminal)
	}
	return nil
}

func printSummary(cmd *cobra.Command, snap syncengine.Snapshot) {
	out := cmd.OutOrStdout()
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		data, err := json.MarshalIndent(snap, "", "  ")
		if err != nil {
			logging.Warn().Err(err).Msg("Failed to encode run summary")
			return
		}
		fmt.Fprintf(out, "%s\n", data)
		return
	}
	fmt.Fprint(out, snap.Summary())
}

// applyRunFlags layers command-line flags over the loaded configuration.
func applyRunFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	if f.Changed("source-url") {
		cfg.Source.URL, _ = f.GetString("source-url")
	}
	if f.Changed("source-token") {
		cfg.Source.Token, _ = f.GetString("source-token")
	}
	if f.Changed("dest-url") {
		cfg.Destination.URL, _ = f.GetString("dest-url")
	}
	if f.Changed("dest-token") {
		cfg.Destination.Token, _ = f.GetString("dest-token")
	}
	if f.Changed("dry-run") {
		cfg.Sync.DryRun, _ = f.GetBool("dry-run")
	}
	if f.Changed("resume") {
		cfg.Sync.Resume, _ = f.GetBool("resume")
	}
	if f.Changed("workers") {
		cfg.Sync.Workers, _ = f.GetInt("workers")
	}
	if f.Changed("page-size") {
		cfg.Sync.PageSize, _ = f.GetInt("page-size")
	}
	if f.Changed("status-listen") {
		cfg.Status.Listen, _ = f.GetString("status-listen")
	}
}

// openStore picks the ledger backing for this run. Dry runs use an
// in-memory store so they leave no trace.
func openStore(cfg *config.Config) (ledger.Store, error) {
	if cfg.Sync.DryRun {
		return ledger.NewMemoryStore(), nil
	}
	return ledger.OpenBadger(cfg.Ledger.Path)
}
