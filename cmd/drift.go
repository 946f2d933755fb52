// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/bitastat/pkg/store"
)

var (
	driftOffsets string
	driftWindow  time.Duration
)

var driftCmd = &cobra.Command{
	Use:   "drift",
	Short: "Report clock drift from recorded offsets",
	Long: `Analyze the offset records stored by the record or serve commands.

The mean time_offset over the first --window of the run is compared with the
mean over the last --window. The difference is the drift accumulated between
the device clock and the host clock during the run.

Exit codes:
  0 - Drift reported
  1 - No offset records in the database`,
	RunE: runDrift,
}

func init() {
	rootCmd.AddCommand(driftCmd)
	driftCmd.Flags().StringVar(&driftOffsets, "offsets-db", "", "Offset database (default from config)")
	driftCmd.Flags().DurationVarP(&driftWindow, "window", "w", 0, "Averaging window at each end of the run (default from config, 3m)")
}

func runDrift(cmd *cobra.Command, args []string) error {
	path := resolvePath(driftOffsets, cfg.Record.OffsetsDB, "offsets.db")
	window := cfg.Drift.Window
	if driftWindow > 0 {
		window = driftWindow
	}

	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("offset database %s: %w", path, err)
	}

	db, err := store.Open(path)
	if err != nil {
		return err
	}
	defer db.Close()

	fmt.Printf("Bitastat - Drift Analysis\n")
	fmt.Printf("Offsets: %s\n", path)
	if header, err := db.Session(); err == nil {
		fmt.Printf("Session: %s @ %d Hz, started %s\n",
			header.Version, header.Rate, time.UnixMicro(header.Start).Format(time.RFC3339))
	}
	fmt.Println()

	summary, err := db.Drift(window)
	if errors.Is(err, store.ErrNoOffsets) {
		fmt.Fprintf(os.Stderr, "No offset records in %s\n", path)
		db.Close()
		os.Exit(1)
	}
	if err != nil {
		return err
	}

	fmt.Print(summary.String())
	return nil
}
