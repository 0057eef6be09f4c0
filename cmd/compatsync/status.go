// Compatsync - Cross-Server Synchronization for Browser Compatibility Data
// Copyright 2026 The compatsync authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/browsercompat/compatsync

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/browsercompat/compatsync/internal/ledger"
	"github.com/browsercompat/compatsync/internal/schema"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show ledgered progress from previous runs",
	RunE:  showStatus,
}

func init() {
	statusCmd.Flags().Bool("failed", false, "list each failed record with its reason")
	rootCmd.AddCommand(statusCmd)
}

func showStatus(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	store, err := ledger.OpenBadger(cfg.Ledger.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	counts, err := store.Counts()
	if err != nil {
		return fmt.Errorf("read ledger: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(counts) == 0 {
		fmt.Fprintln(out, "ledger is empty; no runs recorded")
		return nil
	}

	fmt.Fprintf(out, "%-16s %8s %10s %10s\n", "type", "done", "retryable", "terminal")
	for _, rt := range schema.DefaultTypes() {
		c, ok := counts[rt.Name]
		if !ok {
			continue
		}
		fmt.Fprintf(out, "%-16s %8d %10d %10d\n", rt.Name, c.Done, c.FailedRetryable, c.FailedTerminal)
	}

	listFailed, _ := cmd.Flags().GetBool("failed")
	if !listFailed {
		return nil
	}

	for _, rt := range schema.DefaultTypes() {
		err := store.ForEach(rt.Name, func(e *ledger.Entry) error {
			if e.Done() {
				return nil
			}
			kind := "terminal"
			if e.Retryable {
				kind = "retryable"
			}
			fmt.Fprintf(out, "%s %s/%s: %s\n", kind, e.ResourceType, e.NaturalKey, e.Reason)
			return nil
		})
		if err != nil {
			return fmt.Errorf("list %s failures: %w", rt.Name, err)
		}
	}
	return nil
}
