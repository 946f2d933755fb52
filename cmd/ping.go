// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/bitastat/pkg/device"
)

var (
	pingTimeout int
	pingCount   int
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Measure command round-trip time with the version command",
	Long: `Send the version command repeatedly and wait for the version string.

This command tests bidirectional communication with an idle device over a
serial port, a WebSocket serial bridge or the simulator, and reports the
round-trip time of each request.

This is useful for verifying:
  - The connection is established (and authenticated, for WebSocket)
  - Commands reach the device
  - Responses make it back to the host
  - Link latency stays well below the poll interval

Exit codes:
  0 - All pings successful
  1 - One or more pings failed/timed out
  2 - Connection error`,
	RunE: runPing,
}

func init() {
	rootCmd.AddCommand(pingCmd)
	pingCmd.Flags().IntVar(&pingTimeout, "timeout", 5, "Timeout in seconds for each ping")
	pingCmd.Flags().IntVar(&pingCount, "count", 3, "Number of pings to send")
}

func runPing(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	fmt.Printf("Bitastat - Ping Test\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds per ping\n", pingTimeout)
	fmt.Printf("Count: %d pings\n\n", pingCount)

	dev := device.New(conn)
	dev.SetTimeout(time.Duration(pingTimeout) * time.Second)

	successCount := 0
	failCount := 0
	var total time.Duration
	started := time.Now()

	for i := 1; i <= pingCount; i++ {
		fmt.Printf("Ping %d/%d: ", i, pingCount)

		startTime := time.Now()
		version, err := dev.Version()
		rtt := time.Since(startTime)

		switch {
		case err == device.ErrTimeout:
			fmt.Printf("TIMEOUT (no response in %ds)\n", pingTimeout)
			failCount++
		case err != nil:
			fmt.Printf("FAILED: %v\n", err)
			failCount++
		default:
			fmt.Printf("reply from %s, rtt=%v\n", version, rtt.Round(time.Millisecond))
			total += rtt
			successCount++
		}

		// Small delay between pings
		if i < pingCount {
			time.Sleep(100 * time.Millisecond)
		}
	}

	// Summary
	fmt.Printf("\n--- Ping statistics ---\n")
	fmt.Printf("%d pings sent, %d responses received, %.0f%% loss, time %s\n",
		pingCount, successCount, float64(failCount)/float64(pingCount)*100,
		formatUptime(uint64(time.Since(started).Milliseconds())))
	if successCount > 0 {
		fmt.Printf("average rtt=%v\n", (total / time.Duration(successCount)).Round(time.Millisecond))
	}

	if failCount > 0 {
		os.Exit(1)
	}
	return nil
}
