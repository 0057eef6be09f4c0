// Compatsync - Cross-Server Synchronization for Browser Compatibility Data
// Copyright 2026 The compatsync authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/browsercompat/compatsync

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/browsercompat/compatsync/internal/ledger"
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear the progress ledger",
	Long: `Reset discards all recorded sync outcomes. The next run starts from
scratch: every record is fetched and re-checked against the
destination, including records earlier runs marked as terminal
failures.`,
	RunE: resetLedger,
}

func init() {
	resetCmd.Flags().Bool("confirm", false, "confirm clearing the ledger")
	rootCmd.AddCommand(resetCmd)
}

func resetLedger(cmd *cobra.Command, _ []string) error {
	confirmed, _ := cmd.Flags().GetBool("confirm")
	if !confirmed {
		return fmt.Errorf("refusing to clear the ledger without --confirm")
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	store, err := ledger.OpenBadger(cfg.Ledger.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Clear(); err != nil {
		return fmt.Errorf("clear ledger: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "ledger cleared")
	return nil
}
