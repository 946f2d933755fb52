// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/bitastat/pkg/bitalino"
	"github.com/Thermoquad/bitastat/pkg/log"
)

var (
	showAll       bool
	statsInterval int
	useTUI        bool
)

var errorDetectionCmd = &cobra.Command{
	Use:   "error_detection",
	Short: "Detect and analyze corrupted frames and missed samples",
	Long: `Track stream anomalies and clock drift with statistics.

This command decodes the acquisition stream and detects:
  - Frames failing the CRC-4 checksum (kept as missing rows)
  - Gaps in the 4-bit sequence counter (missed samples)
  - OS serial buffer saturation (increase poll rate or decrease device rate)
  - Statistics and trends (sample rate, error rate, clock offset drift)

By default, only anomalies are displayed. Use --show-all to display a line
for every cycle that produced samples.

Anomalies are highlighted immediately, with periodic statistics summaries
displayed at configurable intervals.`,
	RunE: runErrorDetection,
}

func init() {
	rootCmd.AddCommand(errorDetectionCmd)
	errorDetectionCmd.Flags().BoolVar(&showAll, "show-all", false, "Show all cycles (not just anomalies)")
	errorDetectionCmd.Flags().IntVar(&statsInterval, "stats-interval", 10, "Statistics update interval (seconds)")
	errorDetectionCmd.Flags().BoolVar(&useTUI, "tui", true, "Use terminal UI (false for text mode)")
}

func runErrorDetection(cmd *cobra.Command, args []string) error {
	acq, err := StartAcquisition()
	if err != nil {
		return err
	}
	defer acq.Close()

	// Anomalies are shown by both modes
	acq.Reader.SetQuiet(true)

	if useTUI {
		return runTUIMode(acq)
	}
	return runTextMode(acq)
}

// printAnomaly prints an anomaly in highlighted format
func printAnomaly(ts time.Time, a bitalino.Anomaly) {
	timestamp := ts.Format("15:04:05.000")
	switch a.Type {
	case bitalino.AnomalyChecksum:
		fmt.Printf("[%s] \033[1;31mCHECKSUM ERROR:\033[0m %s\n", timestamp, a.String())
		fmt.Printf("  >>> SAMPLE MISSING <<<\n\n")
	case bitalino.AnomalySequenceGap:
		fmt.Printf("[%s] \033[1;33mSEQUENCE GAP:\033[0m %s\n\n", timestamp, a.String())
	case bitalino.AnomalyBufferSaturation:
		fmt.Printf("[%s] \033[1;31mSATURATION:\033[0m %s\n\n", timestamp, a.String())
	default:
		fmt.Printf("[%s] %s\n\n", timestamp, a.String())
	}
}

// printCycle prints a one-line summary of a cycle with samples
func printCycle(c *bitalino.Cycle) {
	valid := 0
	for _, s := range c.Samples {
		if s.Valid {
			valid++
		}
	}
	line := fmt.Sprintf("[%s] \033[1;32mCYCLE:\033[0m %d samples (%d valid)",
		c.Timestamps[0].Format("15:04:05.000"), c.Len(), valid)
	if c.Offset != nil {
		line += fmt.Sprintf(", offset=%dus", c.Offset.OffsetMicros())
	}
	fmt.Println(line)
}

// runTUIMode runs error detection in TUI mode
func runTUIMode(acq *Acquisition) error {
	// Diagnostics on stderr would corrupt the alternate screen
	log.SetLevelValue(log.ErrorLevel)

	m := initialModel(acq, statsInterval, showAll)
	p := tea.NewProgram(m)

	ctx, cancel := signalContext()
	defer cancel()

	// Acquisition goroutine
	go func() {
		err := acq.Reader.Run(ctx, func(c *bitalino.Cycle) error {
			p.Send(cycleMsg{cycle: *c})
			return nil
		})
		if err != nil {
			p.Send(readErrMsg{err: err})
		}
	}()

	// Run TUI
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %v", err)
	}

	return nil
}

// runTextMode runs error detection in text mode
func runTextMode(acq *Acquisition) error {
	session := acq.Reader.Session()

	fmt.Printf("Bitastat - Error Detection Mode\n")
	fmt.Printf("Connection: %s\n", acq.ConnInfo)
	fmt.Printf("Device: %s @ %d Hz, channels %v\n", acq.Version, session.Rate(), session.Channels().Names())
	fmt.Printf("Statistics interval: %d seconds\n", statsInterval)
	if showAll {
		fmt.Printf("Mode: All cycles\n")
	} else {
		fmt.Printf("Mode: Anomalies only\n")
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	stats := bitalino.NewStatistics()
	interval := time.Duration(statsInterval) * time.Second
	lastReport := time.Now()

	ctx, cancel := signalContext()
	defer cancel()

	err := acq.Reader.Run(ctx, func(c *bitalino.Cycle) error {
		stats.Update(c)

		ts := acq.Reader.Session().Clock().TimeDevice()
		if len(c.Timestamps) > 0 {
			ts = c.Timestamps[0]
		}
		for _, a := range c.Anomalies {
			printAnomaly(ts, a)
		}
		if showAll && !c.Empty() {
			printCycle(c)
		}

		if time.Since(lastReport) >= interval {
			lastReport = time.Now()
			fmt.Println()
			fmt.Print(stats.String())
			fmt.Println()
		}
		return nil
	})

	// Final summary
	fmt.Println()
	fmt.Print(stats.String())
	return err
}
