// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/bitastat/pkg/bitalino"
)

var rawLogOffsets bool

var rawLogCmd = &cobra.Command{
	Use:   "raw_log",
	Short: "Display decoded samples in human-readable format",
	Long: `Continuously decode and display BITalino samples as they arrive.

Each sample is printed with its synthesized device timestamp followed by the
sequence counter, digital channels and analog channels. Frames that fail the
checksum are shown as MISSING and keep their timestamp slot. After every read
cycle the clock offset record (time_device, time_offset) is printed.

Supports serial, WebSocket and simulated connections.`,
	RunE: runRawLog,
}

func init() {
	rootCmd.AddCommand(rawLogCmd)
	rawLogCmd.Flags().BoolVar(&rawLogOffsets, "offsets", true, "Print the offset record of each cycle")
}

func runRawLog(cmd *cobra.Command, args []string) error {
	acq, err := StartAcquisition()
	if err != nil {
		return err
	}
	defer acq.Close()

	session := acq.Reader.Session()
	labels := session.Labels()

	fmt.Printf("Bitastat - Raw Sample Log\n")
	fmt.Printf("Connection: %s\n", acq.ConnInfo)
	fmt.Printf("Device: %s @ %d Hz\n", acq.Version, session.Rate())
	fmt.Printf("Columns: %s\n", strings.Join(labels, ", "))
	fmt.Printf("Press Ctrl+C to exit\n\n")

	ctx, cancel := signalContext()
	defer cancel()

	return acq.Reader.Run(ctx, func(c *bitalino.Cycle) error {
		if !rawLogOffsets {
			trimmed := *c
			trimmed.Offset = nil
			c = &trimmed
		}
		fmt.Print(bitalino.FormatCycle(labels, c))
		return nil
	})
}
