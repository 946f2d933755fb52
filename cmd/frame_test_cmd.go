// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/bitastat/pkg/bitalino"
)

var (
	frameTestTimeout int
)

// errFrameReceived stops the reader once a valid frame has arrived
var errFrameReceived = errors.New("frame received")

var frameTestCmd = &cobra.Command{
	Use:   "frame_test",
	Short: "Test connection by waiting for a valid BITalino frame",
	Long: `Start acquisition and wait for a valid frame until timeout.

This command connects to a serial port, WebSocket or simulated device, starts
acquisition with the configured rate and channels, and waits for a complete
frame that passes the CRC-4 check. Corrupted frames are counted and skipped.

Exit codes:
  0 - Frame received before timeout
  1 - Timeout reached without receiving a valid frame
  2 - Connection error

Useful for testing connectivity to a BITalino or a WebSocket serial bridge.`,
	RunE: runFrameTest,
}

func init() {
	rootCmd.AddCommand(frameTestCmd)
	frameTestCmd.Flags().IntVar(&frameTestTimeout, "timeout", 10, "Timeout in seconds to wait for a frame")
}

func runFrameTest(cmd *cobra.Command, args []string) error {
	acq, err := StartAcquisition()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer acq.Close()

	session := acq.Reader.Session()

	fmt.Printf("Bitastat - Frame Test\n")
	fmt.Printf("Connection: %s\n", acq.ConnInfo)
	fmt.Printf("Device: %s\n", acq.Version)
	fmt.Printf("Timeout: %d seconds\n", frameTestTimeout)
	fmt.Printf("Waiting for valid frame (%d bytes)...\n\n", session.Layout().SampleSize())

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(frameTestTimeout)*time.Second)
	defer cancel()

	corrupted := 0
	var frame bitalino.Sample
	var stamp time.Time

	err = acq.Reader.Run(ctx, func(c *bitalino.Cycle) error {
		for i, s := range c.Samples {
			if !s.Valid {
				corrupted++
				continue
			}
			frame, stamp = s, c.Timestamps[i]
			return errFrameReceived
		}
		return nil
	})

	switch {
	case errors.Is(err, errFrameReceived):
		if corrupted > 0 {
			fmt.Printf("(skipped %d corrupted frames)\n", corrupted)
		}
		fmt.Printf("SUCCESS: Received valid frame\n")
		fmt.Print(bitalino.FormatSample(session.Labels(), stamp, frame, nil))
		acq.Close()
		os.Exit(0)

	case err != nil:
		fmt.Fprintf(os.Stderr, "Read error: %v\n", err)
		acq.Close()
		os.Exit(2)

	default:
		fmt.Fprintf(os.Stderr, "TIMEOUT: No valid frame received within %d seconds\n", frameTestTimeout)
		acq.Close()
		os.Exit(1)
	}

	return nil
}
